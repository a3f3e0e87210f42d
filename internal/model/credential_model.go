package model

type Credential struct {
	CredentialID    []byte   `json:"credentialId"`
	PublicKey       []byte   `json:"publicKey"`
	Algorithm       int64    `json:"algorithm"`
	Counter         uint32   `json:"counter"`
	UserID          string   `json:"userId"`
	Transports      []string `json:"transports"`
	AttestationType string   `json:"attestationType"`
	AAGUID          []byte   `json:"aaguid"`
	UserPresent     bool     `json:"userPresent"`
	UserVerified    bool     `json:"userVerified"`
	BackupEligible  bool     `json:"backupEligible"`
	BackupState     bool     `json:"backupState"`
	CreatedAt       int64    `json:"createdAt"`
	LastUsedAt      int64    `json:"lastUsedAt"`
}

func (Credential) RecordKind() string { return "credential" }
func (Credential) RecordVersion() int { return 1 }

func CredentialKey(encodedID string) string {
	return "credential:" + encodedID
}

// CredentialIndex lists the credential IDs owned by one user.
type CredentialIndex struct {
	UserID        string   `json:"userId"`
	CredentialIDs []string `json:"credentialIds"`
}

func (CredentialIndex) RecordKind() string { return "credential_index" }
func (CredentialIndex) RecordVersion() int { return 1 }

func CredentialIndexKey(userID string) string {
	return "credentials:" + userID
}
