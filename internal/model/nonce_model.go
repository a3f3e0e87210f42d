package model

type Nonce struct {
	Value     string `json:"value"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (Nonce) RecordKind() string { return "nonce" }
func (Nonce) RecordVersion() int { return 1 }

func NonceKey(value string) string {
	return "nonce:" + value
}
