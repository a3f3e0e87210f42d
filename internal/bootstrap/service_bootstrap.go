package bootstrap

import (
	"time"

	"github.com/trust-ethos/ethos-connect/internal/service"
	"github.com/trust-ethos/ethos-connect/internal/store"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"
)

type Services struct {
	store            store.Store
	clientService    *service.ClientService
	nonceService     *service.NonceService
	identityService  *service.IdentityService
	tokenService     *service.TokenService
	authorizeService *service.AuthorizeService
	walletService    *service.WalletService
	passkeyService   *service.PasskeyService
	socialBroker     *service.SocialBrokerService
	farcasterRelay   *service.FarcasterRelayService
}

func (app *BootstrapApp) initServices(kv store.Store) (Services, error) {
	services := Services{
		store: kv,
	}

	clientService := service.NewClientService(service.ClientServiceConfig{
		Clients:   app.config.Clients,
		DevClient: app.config.DevClient,
	}, kv)

	err := clientService.Init()

	if err != nil {
		return Services{}, err
	}

	services.clientService = clientService

	nonceService := service.NewNonceService(service.NonceServiceConfig{
		NonceExpiry:     app.config.Auth.NonceExpiry,
		ChallengeExpiry: app.config.Auth.ChallengeExpiry,
	}, kv)

	err = nonceService.Init()

	if err != nil {
		return Services{}, err
	}

	services.nonceService = nonceService

	ethosClient := service.NewEthosClient(service.EthosClientConfig{
		APIURL:     app.config.Ethos.APIURL,
		ClientName: app.config.Ethos.ClientName,
		Timeout:    time.Duration(app.config.Ethos.Timeout) * time.Second,
	})

	identityService := service.NewIdentityService(service.IdentityServiceConfig{
		CacheExpiry: app.config.Ethos.CacheExpiry,
	}, kv, ethosClient)

	err = identityService.Init()

	if err != nil {
		return Services{}, err
	}

	services.identityService = identityService

	tokenService := service.NewTokenService(service.TokenServiceConfig{
		Secret:            app.context.secret,
		Issuer:            app.context.issuer,
		AccessTokenExpiry: app.config.Auth.AccessTokenExpiry,
	}, kv, clientService)

	err = tokenService.Init()

	if err != nil {
		return Services{}, err
	}

	services.tokenService = tokenService

	authorizeService := service.NewAuthorizeService(service.AuthorizeServiceConfig{
		ConnectURL:    app.config.ConnectURL,
		RequestExpiry: app.config.Auth.RequestExpiry,
		CodeExpiry:    app.config.Auth.CodeExpiry,
	}, kv, clientService, identityService)

	err = authorizeService.Init()

	if err != nil {
		return Services{}, err
	}

	services.authorizeService = authorizeService

	walletService := service.NewWalletService(service.WalletServiceConfig{
		Domain: app.config.Wallet.Domain,
	}, nonceService)

	err = walletService.Init()

	if err != nil {
		return Services{}, err
	}

	services.walletService = walletService

	rpOrigins := app.config.WebAuthn.RPOrigins

	if len(rpOrigins) == 0 {
		rpOrigins = service.PasskeyOrigins(app.config.AppURL)
	}

	rpID := app.config.WebAuthn.RPID

	if rpID == "" {
		rpID = app.context.appHost
	}

	passkeyService := service.NewPasskeyService(kv, nonceService, service.NewWebAuthnVerifier(service.WebAuthnVerifierConfig{
		RPID:          rpID,
		RPDisplayName: app.config.WebAuthn.RPDisplayName,
		RPOrigins:     rpOrigins,
	}))

	err = passkeyService.Init()

	if err == nil {
		services.passkeyService = passkeyService
	} else {
		tlog.App.Warn().Err(err).Msg("Failed to initialize passkey service, continuing without it")
	}

	socialBroker := service.NewSocialBrokerService(service.SocialBrokerServiceConfig{
		AppURL:        app.config.AppURL,
		Social:        app.config.Social,
		SessionExpiry: app.config.Auth.RequestExpiry,
	}, kv)

	err = socialBroker.Init()

	if err != nil {
		return Services{}, err
	}

	services.socialBroker = socialBroker

	if app.config.Farcaster.Enabled {
		farcasterRelay := service.NewFarcasterRelayService(service.FarcasterRelayServiceConfig{
			RelayURL:      app.config.Farcaster.RelayURL,
			Domain:        app.context.appHost,
			SiweURI:       app.config.AppURL,
			Timeout:       time.Duration(app.config.Farcaster.Timeout) * time.Second,
			PollAttempts:  app.config.Farcaster.PollAttempts,
			PollInterval:  time.Duration(app.config.Farcaster.PollInterval) * time.Second,
			ChannelExpiry: app.config.Farcaster.PollAttempts * max(app.config.Farcaster.PollInterval, 1),
		}, kv)

		err = farcasterRelay.Init()

		if err != nil {
			return Services{}, err
		}

		services.farcasterRelay = farcasterRelay
	}

	return services, nil
}
