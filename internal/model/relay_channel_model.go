package model

type RelayChannel struct {
	ChannelToken string `json:"channelToken"`
	Nonce        string `json:"nonce"`
	RequestToken string `json:"requestToken,omitempty"`
	URL          string `json:"url"`
	Attempts     int    `json:"attempts"`
	CreatedAt    int64  `json:"createdAt"`
	ExpiresAt    int64  `json:"expiresAt"`
}

func (RelayChannel) RecordKind() string { return "relay_channel" }
func (RelayChannel) RecordVersion() int { return 1 }

func RelayChannelKey(channelToken string) string {
	return "relay:" + channelToken
}
