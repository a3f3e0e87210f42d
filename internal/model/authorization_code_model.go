package model

type AuthorizationCode struct {
	Code             string  `json:"code"`
	ClientID         string  `json:"clientId"`
	RedirectURI      string  `json:"redirectUri"`
	Scope            string  `json:"scope"`
	State            string  `json:"state"`
	AuthMethod       string  `json:"authMethod"`
	ResolvedIdentity Profile `json:"resolvedIdentity"`
	WalletAddress    string  `json:"walletAddress,omitempty"`
	CreatedAt        int64   `json:"createdAt"`
}

func (AuthorizationCode) RecordKind() string { return "authorization_code" }
func (AuthorizationCode) RecordVersion() int { return 1 }

func AuthorizationCodeKey(code string) string {
	return "code:" + code
}
