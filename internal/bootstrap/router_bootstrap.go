package bootstrap

import (
	"context"
	"fmt"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/controller"
	"github.com/trust-ethos/ethos-connect/internal/middleware"

	"github.com/gin-gonic/gin"
)

func (app *BootstrapApp) setupRouter() (*gin.Engine, error) {
	engine := gin.New()
	engine.Use(gin.Recovery())

	if len(app.config.Server.TrustedProxies) > 0 {
		err := engine.SetTrustedProxies(app.config.Server.TrustedProxies)

		if err != nil {
			return nil, fmt.Errorf("failed to set trusted proxies: %w", err)
		}
	}

	zerologMiddleware := middleware.NewZerologMiddleware()

	err := zerologMiddleware.Init()

	if err != nil {
		return nil, fmt.Errorf("failed to initialize zerolog middleware: %w", err)
	}

	engine.Use(zerologMiddleware.Middleware())

	contextMiddleware := middleware.NewContextMiddleware(middleware.ContextMiddlewareConfig{
		AdminToken: app.context.adminToken,
	}, app.services.tokenService)

	err = contextMiddleware.Init()

	if err != nil {
		return nil, fmt.Errorf("failed to initialize context middleware: %w", err)
	}

	rateLimitMiddleware := middleware.NewRateLimitMiddleware(middleware.RateLimitMiddlewareConfig{
		Enabled:           app.config.RateLimit.Enabled,
		RequestsPerMinute: app.config.RateLimit.RequestsPerMinute,
		Burst:             app.config.RateLimit.Burst,
	})

	err = rateLimitMiddleware.Init()

	if err != nil {
		return nil, fmt.Errorf("failed to initialize rate limit middleware: %w", err)
	}

	app.context.rateLimiter = rateLimitMiddleware
	limiter := rateLimitMiddleware.Middleware()

	rootRouter := &engine.RouterGroup
	apiRouter := engine.Group("/api")

	authMethods := []string{config.AuthMethodWallet}

	if app.services.passkeyService != nil {
		authMethods = append(authMethods, config.AuthMethodPasskey)
	}

	authMethods = append(authMethods, app.services.socialBroker.GetConfiguredProviders()...)

	if app.services.farcasterRelay != nil {
		authMethods = append(authMethods, config.AuthMethodFarcaster)
	}

	oauth2Controller := controller.NewOAuth2Controller(controller.OAuth2ControllerConfig{
		AppURL:      app.config.AppURL,
		AuthMethods: authMethods,
	}, rootRouter, limiter, app.services.authorizeService, app.services.tokenService, app.services.clientService, contextMiddleware)

	oauth2Controller.SetupRoutes()

	walletController := controller.NewWalletController(rootRouter, limiter, app.services.nonceService, app.services.walletService, app.services.authorizeService)

	walletController.SetupRoutes()

	if app.services.farcasterRelay != nil {
		farcasterController := controller.NewFarcasterController(rootRouter, limiter, app.services.farcasterRelay, app.services.authorizeService)

		farcasterController.SetupRoutes()
	}

	socialController := controller.NewSocialController(controller.SocialControllerConfig{
		CSRFCookieName: app.context.csrfCookieName,
		SecureCookie:   app.config.Auth.SecureCookie,
		SessionExpiry:  app.config.Auth.RequestExpiry,
	}, rootRouter, app.services.socialBroker, app.services.authorizeService)

	socialController.SetupRoutes()

	if app.services.passkeyService != nil {
		webauthnController := controller.NewWebAuthnController(rootRouter, limiter, contextMiddleware, app.services.passkeyService, app.services.authorizeService)

		webauthnController.SetupRoutes()
	}

	clientController := controller.NewClientController(apiRouter, contextMiddleware.RequireAdmin(), app.services.clientService)

	clientController.SetupRoutes()

	healthController := controller.NewHealthController(apiRouter, func(ctx context.Context) error {
		_, err := app.services.store.Exists(ctx, "health")
		return err
	})

	healthController.SetupRoutes()

	return engine, nil
}
