package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/middleware"
	"github.com/trust-ethos/ethos-connect/internal/store"
	"github.com/trust-ethos/ethos-connect/internal/utils"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/redis/go-redis/v9"
)

const minSecretLength = 32

type BootstrapApp struct {
	config  config.Config
	context struct {
		appHost        string
		issuer         string
		secret         string
		adminToken     string
		csrfCookieName string
		rateLimiter    *middleware.RateLimitMiddleware
	}
	services Services
}

func NewBootstrapApp(config config.Config) *BootstrapApp {
	return &BootstrapApp{
		config: config,
	}
}

func (app *BootstrapApp) Setup() error {
	if err := app.prepare(); err != nil {
		return err
	}

	// Store
	kv, err := app.OpenStore(context.Background())

	if err != nil {
		return fmt.Errorf("failed to setup store: %w", err)
	}

	defer kv.Close()

	// Services
	services, err := app.initServices(kv)

	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	app.services = services

	// Setup router
	router, err := app.setupRouter()

	if err != nil {
		return fmt.Errorf("failed to setup routes: %w", err)
	}

	// Start store cleanup routine
	if purger, ok := kv.(store.Purger); ok {
		tlog.App.Debug().Msg("Starting store cleanup routine")
		go app.storeCleanup(purger)
	}

	if app.context.rateLimiter != nil {
		go app.rateLimitCleanup(app.context.rateLimiter)
	}

	// Start server
	address := fmt.Sprintf("%s:%d", app.config.Server.Address, app.config.Server.Port)
	tlog.App.Info().Msgf("Starting server on %s", address)
	if err := router.Run(address); err != nil {
		tlog.App.Fatal().Err(err).Msg("Failed to start server")
	}

	return nil
}

// prepare validates the configuration and derives the values shared by services and controllers.
func (app *BootstrapApp) prepare() error {
	appURL, err := parseBaseURL("app URL", app.config.AppURL)

	if err != nil {
		return err
	}

	if _, err := parseBaseURL("connect URL", app.config.ConnectURL); err != nil {
		return err
	}

	app.config.AppURL = strings.TrimSuffix(app.config.AppURL, "/")
	app.context.appHost = appURL.Hostname()
	app.context.issuer = app.config.AppURL

	secret := utils.GetSecret(app.config.Auth.Secret, app.config.Auth.SecretFile)

	if len(secret) < minSecretLength {
		return fmt.Errorf("token signing secret must be at least %d bytes", minSecretLength)
	}

	app.context.secret = secret
	app.context.adminToken = utils.GetSecret(app.config.Admin.Token, app.config.Admin.TokenFile)
	app.context.csrfCookieName = config.CSRFCookieName

	if app.config.Auth.AccessTokenExpiry <= 0 || app.config.Auth.RequestExpiry <= 0 || app.config.Auth.CodeExpiry <= 0 {
		return errors.New("token, request and code expiry must be positive")
	}

	if app.context.adminToken == "" {
		tlog.App.Info().Msg("No admin token configured, client admin API is disabled")
	}

	// Dumps
	tlog.App.Trace().Str("appHost", app.context.appHost).Msg("App host")
	tlog.App.Trace().Str("issuer", app.context.issuer).Msg("Token issuer")
	tlog.App.Trace().Str("store", app.config.Store.Type).Msg("Store type")

	return nil
}

func parseBaseURL(name string, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)

	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid %s: %q must be an absolute http(s) URL", name, raw)
	}

	return u, nil
}

// OpenStore opens the configured key-value backend, running migrations for SQL backends.
func (app *BootstrapApp) OpenStore(ctx context.Context) (store.Store, error) {
	switch app.config.Store.Type {
	case "memory":
		tlog.App.Warn().Msg("Using in-memory store, state is lost on restart and not shared between instances")
		return store.NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     app.config.Store.RedisAddress,
			Password: app.config.Store.RedisPassword,
			DB:       app.config.Store.RedisDB,
		})

		kv := store.NewRedisStore(store.RedisStoreConfig{
			KeyPrefix: app.config.Store.RedisKeyPrefix,
		}, client)

		if err := kv.Init(ctx); err != nil {
			client.Close()
			return nil, err
		}

		return kv, nil
	case "sqlite", "":
		db, err := app.SetupDatabase(app.config.Store.SQLitePath)

		if err != nil {
			return nil, err
		}

		return store.NewSQLStore(db, store.DialectSQLite), nil
	case "postgres":
		databaseURL := utils.GetSecret(app.config.Store.PostgresURL, app.config.Store.PostgresURLFile)

		if databaseURL == "" {
			return nil, errors.New("postgres store requires a connection URL")
		}

		db, err := app.SetupPostgres(databaseURL)

		if err != nil {
			return nil, err
		}

		return store.NewSQLStore(db, store.DialectPostgres), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", app.config.Store.Type)
	}
}

func (app *BootstrapApp) storeCleanup(purger store.Purger) {
	interval := time.Duration(app.config.Store.CleanupInterval) * time.Second

	if interval <= 0 {
		interval = 30 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()

	for ; true; <-ticker.C {
		tlog.App.Debug().Msg("Purging expired store entries")
		purged, err := purger.PurgeExpired(ctx)
		if err != nil {
			tlog.App.Error().Err(err).Msg("Failed to purge expired store entries")
			continue
		}
		if purged > 0 {
			tlog.App.Debug().Int64("purged", purged).Msg("Purged expired store entries")
		}
	}
}

func (app *BootstrapApp) rateLimitCleanup(limiter *middleware.RateLimitMiddleware) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		removed := limiter.Cleanup(10 * time.Minute)
		tlog.App.Trace().Int("removed", removed).Msg("Cleaned up idle rate limiters")
	}
}
