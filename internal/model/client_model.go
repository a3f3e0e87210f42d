package model

type Client struct {
	ClientID         string   `json:"clientId"`
	ClientSecretHash string   `json:"clientSecretHash"`
	Name             string   `json:"name"`
	RedirectURIs     []string `json:"redirectUris"`
	CreatedAt        int64    `json:"createdAt"`
}

func (Client) RecordKind() string { return "client" }
func (Client) RecordVersion() int { return 1 }

func ClientKey(clientID string) string {
	return "client:" + clientID
}
