package config

// Version information, set at build time

var Version = "development"
var CommitHash = "development"
var BuildTimestamp = "0000-00-00T00:00:00Z"

// Environment and flag prefixes

var DefaultNamePrefix = "ETHOSCONNECT_"

// Cookie name templates

var CSRFCookieName = "ethosconnect-csrf"

// Default values

func NewDefaultConfiguration() *Config {
	return &Config{
		AppURL:     "http://localhost:3000",
		ConnectURL: "http://localhost:3000/connect",
		Server: ServerConfig{
			Port:    3000,
			Address: "0.0.0.0",
		},
		Store: StoreConfig{
			Type:            "sqlite",
			SQLitePath:      "./ethosconnect.db",
			RedisAddress:    "localhost:6379",
			CleanupInterval: 1800,
		},
		Auth: AuthConfig{
			AccessTokenExpiry: 3600,
			RequestExpiry:     300,
			CodeExpiry:        300,
			NonceExpiry:       300,
			ChallengeExpiry:   120,
			SecureCookie:      false,
		},
		Ethos: EthosConfig{
			APIURL:      "https://api.ethos.network",
			ClientName:  "ethos-connect",
			CacheExpiry: 600,
			Timeout:     10,
		},
		WebAuthn: WebAuthnConfig{
			RPDisplayName: "Ethos Connect",
		},
		Social: SocialConfig{
			Timeout: 10,
			Telegram: TelegramConfig{
				MaxAuthAge: 86400,
			},
		},
		Farcaster: FarcasterConfig{
			RelayURL:     "https://relay.farcaster.xyz",
			Timeout:      10,
			PollAttempts: 60,
			PollInterval: 2,
		},
		DevClient: DevClientConfig{
			Enabled:  false,
			ClientID: "dev",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
			Burst:             20,
		},
		Log: LogConfig{
			Level: "info",
			Json:  false,
			Streams: LogStreams{
				HTTP:  LogStreamConfig{Enabled: true},
				App:   LogStreamConfig{Enabled: true},
				Audit: LogStreamConfig{Enabled: false},
			},
		},
	}
}

// Main app config

type Config struct {
	AppURL       string                  `description:"The base URL where the broker is hosted, used as token issuer." yaml:"appUrl"`
	ConnectURL   string                  `description:"URL of the identity selection surface users are sent to from /authorize." yaml:"connectUrl"`
	Server       ServerConfig            `description:"Server configuration." yaml:"server"`
	Store        StoreConfig             `description:"Key-value store configuration." yaml:"store"`
	Auth         AuthConfig              `description:"Token and artifact lifetime configuration." yaml:"auth"`
	Wallet       WalletConfig            `description:"Wallet sign-in configuration." yaml:"wallet"`
	WebAuthn     WebAuthnConfig          `description:"Passkey configuration." yaml:"webauthn"`
	Ethos        EthosConfig             `description:"Reputation service configuration." yaml:"ethos"`
	Social       SocialConfig            `description:"Social provider configuration." yaml:"social"`
	Farcaster    FarcasterConfig         `description:"Farcaster relay configuration." yaml:"farcaster"`
	Clients      map[string]ClientConfig `description:"Relying party clients registered at startup." yaml:"clients"`
	DevClient    DevClientConfig         `description:"Development client accepting any loopback redirect URI." yaml:"devClient"`
	Admin        AdminConfig             `description:"Admin API configuration." yaml:"admin"`
	RateLimit    RateLimitConfig         `description:"Rate limiting configuration." yaml:"rateLimit"`
	Log          LogConfig               `description:"Logging configuration." yaml:"log"`
	Experimental ExperimentalConfig      `description:"Experimental features, use with caution." yaml:"experimental"`
}

type ServerConfig struct {
	Port           int      `description:"The port on which the server listens." yaml:"port"`
	Address        string   `description:"The address on which the server listens." yaml:"address"`
	TrustedProxies []string `description:"Comma-separated list of trusted proxy addresses." yaml:"trustedProxies"`
}

type StoreConfig struct {
	Type            string `description:"Store backend: memory, redis, sqlite or postgres." yaml:"type"`
	SQLitePath      string `description:"Path to the SQLite database file." yaml:"sqlitePath"`
	PostgresURL     string `description:"Postgres connection URL." yaml:"postgresUrl"`
	PostgresURLFile string `description:"Path to a file containing the Postgres connection URL." yaml:"postgresUrlFile"`
	RedisAddress    string `description:"Redis address (host:port)." yaml:"redisAddress"`
	RedisPassword   string `description:"Redis password." yaml:"redisPassword"`
	RedisDB         int    `description:"Redis database number." yaml:"redisDb"`
	RedisKeyPrefix  string `description:"Prefix applied to every Redis key." yaml:"redisKeyPrefix"`
	CleanupInterval int    `description:"Interval in seconds between expired entry purges for SQL and memory stores." yaml:"cleanupInterval"`
}

type AuthConfig struct {
	Secret            string `description:"Symmetric secret used to sign access tokens (at least 32 bytes)." yaml:"secret"`
	SecretFile        string `description:"Path to a file containing the token signing secret." yaml:"secretFile"`
	AccessTokenExpiry int    `description:"Access token lifetime in seconds." yaml:"accessTokenExpiry"`
	RequestExpiry     int    `description:"Authorization request lifetime in seconds." yaml:"requestExpiry"`
	CodeExpiry        int    `description:"Authorization code lifetime in seconds." yaml:"codeExpiry"`
	NonceExpiry       int    `description:"Wallet nonce lifetime in seconds." yaml:"nonceExpiry"`
	ChallengeExpiry   int    `description:"Passkey challenge lifetime in seconds." yaml:"challengeExpiry"`
	SecureCookie      bool   `description:"Set the secure flag on cookies." yaml:"secureCookie"`
}

type WalletConfig struct {
	Domain string `description:"Expected SIWE message domain, empty disables the check." yaml:"domain"`
}

type WebAuthnConfig struct {
	RPID          string   `description:"Relying party ID, defaults to the app URL host." yaml:"rpId"`
	RPDisplayName string   `description:"Relying party display name." yaml:"rpDisplayName"`
	RPOrigins     []string `description:"Comma-separated list of allowed origins, defaults to the app URL." yaml:"rpOrigins"`
}

type EthosConfig struct {
	APIURL      string `description:"Base URL of the reputation API." yaml:"apiUrl"`
	ClientName  string `description:"Client name sent with reputation API requests." yaml:"clientName"`
	CacheExpiry int    `description:"Profile cache lifetime in seconds." yaml:"cacheExpiry"`
	Timeout     int    `description:"Reputation API request timeout in seconds." yaml:"timeout"`
}

type SocialConfig struct {
	Timeout  int                 `description:"Provider request timeout in seconds." yaml:"timeout"`
	Discord  OAuthProviderConfig `description:"Discord OAuth configuration." yaml:"discord"`
	Twitter  OAuthProviderConfig `description:"Twitter/X OAuth configuration." yaml:"twitter"`
	Telegram TelegramConfig      `description:"Telegram login widget configuration." yaml:"telegram"`
}

type OAuthProviderConfig struct {
	ClientID         string `description:"OAuth client ID." yaml:"clientId"`
	ClientSecret     string `description:"OAuth client secret." yaml:"clientSecret"`
	ClientSecretFile string `description:"Path to the file containing the OAuth client secret." yaml:"clientSecretFile"`
	RedirectURL      string `description:"OAuth redirect URL, defaults to the broker callback." yaml:"redirectUrl"`
}

type TelegramConfig struct {
	BotToken     string `description:"Telegram bot token." yaml:"botToken"`
	BotTokenFile string `description:"Path to the file containing the Telegram bot token." yaml:"botTokenFile"`
	MaxAuthAge   int    `description:"Maximum age in seconds of a Telegram auth_date." yaml:"maxAuthAge"`
}

type FarcasterConfig struct {
	Enabled      bool   `description:"Enable the Farcaster QR relay flow." yaml:"enabled"`
	RelayURL     string `description:"Base URL of the Farcaster relay." yaml:"relayUrl"`
	Timeout      int    `description:"Relay request timeout in seconds." yaml:"timeout"`
	PollAttempts int    `description:"Maximum number of status polls per channel." yaml:"pollAttempts"`
	PollInterval int    `description:"Delay in seconds between status polls." yaml:"pollInterval"`
}

type ClientConfig struct {
	ClientID         string   `description:"Client ID." yaml:"clientId"`
	ClientSecret     string   `description:"Client secret." yaml:"clientSecret"`
	ClientSecretFile string   `description:"Path to the file containing the client secret." yaml:"clientSecretFile"`
	RedirectURIs     []string `description:"Comma-separated list of allowed redirect URI patterns." yaml:"redirectUris"`
	Name             string   `description:"Client name." yaml:"name"`
}

type DevClientConfig struct {
	Enabled      bool   `description:"Register the development client. Never enable in production." yaml:"enabled"`
	ClientID     string `description:"Development client ID." yaml:"clientId"`
	ClientSecret string `description:"Development client secret." yaml:"clientSecret"`
}

type AdminConfig struct {
	Token     string `description:"Bearer token guarding the client admin API, empty disables the API." yaml:"token"`
	TokenFile string `description:"Path to the file containing the admin token." yaml:"tokenFile"`
}

type RateLimitConfig struct {
	Enabled           bool `description:"Enable per-IP rate limiting on proof and token endpoints." yaml:"enabled"`
	RequestsPerMinute int  `description:"Sustained requests per minute per IP." yaml:"requestsPerMinute"`
	Burst             int  `description:"Burst size per IP." yaml:"burst"`
}

type LogConfig struct {
	Level   string     `description:"Log level (trace, debug, info, warn, error)." yaml:"level"`
	Json    bool       `description:"Enable JSON formatted logs." yaml:"json"`
	Streams LogStreams `description:"Configuration for specific log streams." yaml:"streams"`
}

type LogStreams struct {
	HTTP  LogStreamConfig `description:"HTTP request logging." yaml:"http"`
	App   LogStreamConfig `description:"Application logging." yaml:"app"`
	Audit LogStreamConfig `description:"Audit logging." yaml:"audit"`
}

type LogStreamConfig struct {
	Enabled bool   `description:"Enable this log stream." yaml:"enabled"`
	Level   string `description:"Log level for this stream, empty uses the global level." yaml:"level"`
}

type ExperimentalConfig struct {
	ConfigFile string `description:"Path to a config file." yaml:"configFile"`
}

// API responses and queries

type RedirectQuery struct {
	Code             string `url:"code,omitempty"`
	Error            string `url:"error,omitempty"`
	ErrorDescription string `url:"error_description,omitempty"`
	State            string `url:"state,omitempty"`
}

type ConnectQuery struct {
	Request string `url:"request" form:"request"`
}

// Lookup types understood by the reputation service

const (
	LookupAddress   = "address"
	LookupX         = "x"
	LookupDiscord   = "discord"
	LookupFarcaster = "farcaster"
	LookupTelegram  = "telegram"
	LookupProfileID = "profile-id"
)

var LookupTypes = []string{LookupAddress, LookupX, LookupDiscord, LookupFarcaster, LookupTelegram, LookupProfileID}

// Auth methods recorded on codes and tokens

const (
	AuthMethodWallet    = "wallet"
	AuthMethodPasskey   = "passkey"
	AuthMethodDiscord   = "discord"
	AuthMethodTwitter   = "twitter"
	AuthMethodTelegram  = "telegram"
	AuthMethodFarcaster = "farcaster"
)

// Scopes

const DefaultScope = "profile"

// Reputation score bounds

const (
	MinScore = 0
	MaxScore = 2800
)
