package model

import "encoding/json"

type ChallengeType string

const (
	ChallengeRegistration   ChallengeType = "registration"
	ChallengeAuthentication ChallengeType = "authentication"
)

type Challenge struct {
	ID        string          `json:"id"`
	Challenge string          `json:"challenge"`
	Type      ChallengeType   `json:"type"`
	UserID    string          `json:"userId,omitempty"`
	Request   string          `json:"request,omitempty"`
	Session   json.RawMessage `json:"session"`
	ExpiresAt int64           `json:"expiresAt"`
}

func (Challenge) RecordKind() string { return "challenge" }
func (Challenge) RecordVersion() int { return 1 }

func ChallengeKey(id string) string {
	return "challenge:" + id
}
