package model

type Profile struct {
	ProfileID    int      `json:"profileId"`
	DisplayName  string   `json:"displayName"`
	Username     string   `json:"username"`
	AvatarURL    string   `json:"avatarUrl"`
	Score        int      `json:"score"`
	Status       string   `json:"status"`
	Attestations []string `json:"attestations"`
}

func (Profile) RecordKind() string { return "profile" }
func (Profile) RecordVersion() int { return 1 }

func ProfileCacheKey(lookupType string, identifier string) string {
	return "cache:" + lookupType + ":" + identifier
}
