package model

type SocialSession struct {
	Provider     string `json:"provider"`
	Verifier     string `json:"verifier,omitempty"`
	RequestToken string `json:"requestToken"`
	CreatedAt    int64  `json:"createdAt"`
}

func (SocialSession) RecordKind() string { return "social_session" }
func (SocialSession) RecordVersion() int { return 1 }

func SocialSessionKey(state string) string {
	return "social:" + state
}
