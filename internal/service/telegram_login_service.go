package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/config"

	"github.com/google/go-querystring/query"
)

const TelegramAuthURL = "https://oauth.telegram.org/auth"

type TelegramLoginServiceConfig struct {
	BotToken    string
	RedirectURL string
	Origin      string
	MaxAuthAge  time.Duration
	Now         func() time.Time
}

type telegramAuthQuery struct {
	BotID         string `url:"bot_id"`
	Origin        string `url:"origin"`
	ReturnTo      string `url:"return_to"`
	RequestAccess string `url:"request_access"`
}

// TelegramLoginService verifies Telegram login widget payloads.
type TelegramLoginService struct {
	config TelegramLoginServiceConfig
}

func NewTelegramLoginService(cfg TelegramLoginServiceConfig) *TelegramLoginService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TelegramLoginService{
		config: cfg,
	}
}

func (telegram *TelegramLoginService) Init() error {
	if telegram.botID() == "" {
		return errors.New("telegram bot token is invalid")
	}
	return nil
}

func (telegram *TelegramLoginService) GetName() string {
	return config.AuthMethodTelegram
}

func (telegram *TelegramLoginService) LookupType() string {
	return config.LookupTelegram
}

func (telegram *TelegramLoginService) SupportsPKCE() bool {
	return false
}

func (telegram *TelegramLoginService) botID() string {
	id, _, found := strings.Cut(telegram.config.BotToken, ":")
	if !found {
		return ""
	}
	return id
}

func (telegram *TelegramLoginService) GetAuthURL(state string, _ string) string {
	returnTo, err := url.Parse(telegram.config.RedirectURL)
	if err != nil {
		return ""
	}

	q := returnTo.Query()
	q.Set("state", state)
	returnTo.RawQuery = q.Encode()

	values, err := query.Values(telegramAuthQuery{
		BotID:         telegram.botID(),
		Origin:        telegram.config.Origin,
		ReturnTo:      returnTo.String(),
		RequestAccess: "write",
	})
	if err != nil {
		return ""
	}

	return TelegramAuthURL + "?" + values.Encode()
}

// Exchange accepts the widget fields either as individual parameters or as
// the base64 encoded tgAuthResult fragment forwarded by the browser.
func (telegram *TelegramLoginService) Exchange(_ context.Context, params url.Values, _ string) (*SocialIdentity, error) {
	fields, err := telegramFields(params)
	if err != nil {
		return nil, NewOAuthError(ErrCodeInvalidRequest, "Malformed Telegram login payload")
	}

	hash := fields["hash"]
	if hash == "" || fields["id"] == "" || fields["auth_date"] == "" {
		return nil, NewOAuthError(ErrCodeInvalidRequest, "Missing Telegram login fields")
	}

	if !telegram.VerifyHash(fields, hash) {
		return nil, NewOAuthError(ErrCodeInvalidAuth, "Invalid Telegram login signature")
	}

	authDate, err := strconv.ParseInt(fields["auth_date"], 10, 64)
	if err != nil {
		return nil, NewOAuthError(ErrCodeInvalidRequest, "Invalid Telegram auth_date")
	}

	if telegram.config.MaxAuthAge > 0 && telegram.config.Now().Sub(time.Unix(authDate, 0)) > telegram.config.MaxAuthAge {
		return nil, NewOAuthError(ErrCodeAuthExpired, "Telegram login has expired")
	}

	name := strings.TrimSpace(fields["first_name"] + " " + fields["last_name"])

	return &SocialIdentity{
		ID:       fields["id"],
		Username: fields["username"],
		Name:     name,
	}, nil
}

// VerifyHash checks the widget HMAC. The key is the SHA-256 of the bot token
// and the message is the sorted key=value lines of every field except hash.
func (telegram *TelegramLoginService) VerifyHash(fields map[string]string, hash string) bool {
	expected := SignTelegramFields(telegram.config.BotToken, fields)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(hash)))
}

func telegramSecret(botToken string) []byte {
	sum := sha256.Sum256([]byte(botToken))
	return sum[:]
}

func telegramDataCheckString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		if key == "hash" {
			continue
		}
		keys = append(keys, key)
	}

	slices.Sort(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key+"="+fields[key])
	}

	return strings.Join(lines, "\n")
}

var telegramFieldNames = []string{"id", "first_name", "last_name", "username", "photo_url", "auth_date", "hash"}

func telegramFields(params url.Values) (map[string]string, error) {
	fields := make(map[string]string)

	if raw := params.Get("tgAuthResult"); raw != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
		if err != nil {
			return nil, err
		}

		var result map[string]any
		if err := json.Unmarshal(decoded, &result); err != nil {
			return nil, err
		}

		for key, value := range result {
			switch v := value.(type) {
			case string:
				fields[key] = v
			case float64:
				fields[key] = strconv.FormatInt(int64(v), 10)
			default:
				fields[key] = fmt.Sprint(v)
			}
		}

		return fields, nil
	}

	for _, name := range telegramFieldNames {
		if params.Has(name) {
			fields[name] = params.Get(name)
		}
	}

	return fields, nil
}

// SignTelegramFields computes the widget hash for a set of fields.
func SignTelegramFields(botToken string, fields map[string]string) string {
	mac := hmac.New(sha256.New, telegramSecret(botToken))
	mac.Write([]byte(telegramDataCheckString(fields)))
	return hex.EncodeToString(mac.Sum(nil))
}
