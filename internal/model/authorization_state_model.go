package model

type AuthorizationState struct {
	ClientID      string `json:"clientId"`
	RedirectURI   string `json:"redirectUri"`
	Scope         string `json:"scope"`
	OriginalState string `json:"originalState"`
	MinScore      *int   `json:"minScore,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
	ExpiresAt     int64  `json:"expiresAt"`
}

func (AuthorizationState) RecordKind() string { return "authorization_state" }
func (AuthorizationState) RecordVersion() int { return 1 }

func AuthorizationStateKey(token string) string {
	return "authreq:" + token
}
