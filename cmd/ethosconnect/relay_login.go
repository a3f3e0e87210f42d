package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/service"
	"github.com/trust-ethos/ethos-connect/internal/store"
	"github.com/trust-ethos/ethos-connect/internal/utils/loaders"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/mdp/qrterminal/v3"
	"github.com/traefik/paerser/cli"
)

type RelayLoginConfig struct {
	AppURL    string                 `description:"App URL used as the sign-in domain and URI."`
	Farcaster config.FarcasterConfig `description:"Farcaster relay configuration."`
	Ethos     config.EthosConfig     `description:"Reputation service configuration."`
}

func NewRelayLoginConfig() *RelayLoginConfig {
	defaults := config.NewDefaultConfiguration()

	return &RelayLoginConfig{
		AppURL:    defaults.AppURL,
		Farcaster: defaults.Farcaster,
		Ethos:     defaults.Ethos,
	}
}

func relayLoginCmd() *cli.Command {
	tCfg := NewRelayLoginConfig()

	loaders := []cli.ResourceLoader{
		&loaders.FlagLoader{},
		&loaders.EnvLoader{},
	}

	return &cli.Command{
		Name:          "relay-login",
		Description:   "Sign in with Farcaster from the terminal and print the resolved Ethos profile.",
		Configuration: tCfg,
		Resources:     loaders,
		Run: func(_ []string) error {
			tlog.NewSimpleLogger().Init()

			appURL, err := url.Parse(tCfg.AppURL)

			if err != nil || appURL.Host == "" {
				return errors.New("a valid app URL is required")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			kv := store.NewMemoryStore()
			defer kv.Close()

			relay := service.NewFarcasterRelayService(service.FarcasterRelayServiceConfig{
				RelayURL:      tCfg.Farcaster.RelayURL,
				Domain:        appURL.Hostname(),
				SiweURI:       tCfg.AppURL,
				Timeout:       time.Duration(tCfg.Farcaster.Timeout) * time.Second,
				PollAttempts:  tCfg.Farcaster.PollAttempts,
				PollInterval:  time.Duration(tCfg.Farcaster.PollInterval) * time.Second,
				ChannelExpiry: tCfg.Farcaster.PollAttempts * max(tCfg.Farcaster.PollInterval, 1),
			}, kv)

			if err := relay.Init(); err != nil {
				return err
			}

			identity := service.NewIdentityService(service.IdentityServiceConfig{}, kv, service.NewEthosClient(service.EthosClientConfig{
				APIURL:     tCfg.Ethos.APIURL,
				ClientName: tCfg.Ethos.ClientName,
				Timeout:    time.Duration(tCfg.Ethos.Timeout) * time.Second,
			}))

			if err := identity.Init(); err != nil {
				return err
			}

			channel, err := relay.CreateChannel(ctx, "")

			if err != nil {
				return fmt.Errorf("failed to create relay channel: %w", err)
			}

			fmt.Println("Scan the code with your Farcaster app to sign in:")

			qrterminal.GenerateWithConfig(channel.URL, qrterminal.Config{
				Level:     qrterminal.L,
				Writer:    os.Stdout,
				BlackChar: qrterminal.BLACK,
				WhiteChar: qrterminal.WHITE,
				QuietZone: 2,
			})

			fmt.Printf("\nOr open: %s\n\n", channel.URL)

			status, err := relay.AwaitCompletion(ctx, channel.ChannelToken)

			if err != nil {
				return fmt.Errorf("relay sign-in failed: %w", err)
			}

			tlog.App.Info().Str("fid", status.FID).Str("username", status.Username).Msg("Farcaster sign-in completed")

			profile, err := identity.Resolve(ctx, config.LookupFarcaster, status.FID)

			if errors.Is(err, service.ErrProfileNotFound) {
				return fmt.Errorf("no Ethos profile is linked to farcaster user %s", status.FID)
			}

			if err != nil {
				return fmt.Errorf("failed to resolve profile: %w", err)
			}

			fmt.Printf("Profile ID: %d\n", profile.ProfileID)
			fmt.Printf("Name: %s\n", profile.DisplayName)
			fmt.Printf("Username: %s\n", profile.Username)
			fmt.Printf("Score: %d\n", profile.Score)
			fmt.Printf("Status: %s\n", profile.Status)

			return nil
		},
	}
}
