package main

import (
	"fmt"

	"github.com/trust-ethos/ethos-connect/internal/bootstrap"
	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/utils/loaders"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/traefik/paerser/cli"
)

func main() {
	// A missing .env file is fine, the environment may already be set
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment from .env")
	}

	tConfig := config.NewDefaultConfiguration()

	loaders := []cli.ResourceLoader{
		&loaders.FileLoader{},
		&loaders.FlagLoader{},
		&loaders.EnvLoader{},
	}

	cmdEthosConnect := &cli.Command{
		Name:          "ethosconnect",
		Description:   "Sign in with Ethos, an OAuth2 authorization broker backed by Ethos reputation.",
		Configuration: tConfig,
		Resources:     loaders,
		Run: func(_ []string) error {
			return runCmd(*tConfig)
		},
	}

	err := cmdEthosConnect.AddCommand(versionCmd())

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to add version command")
	}

	err = cmdEthosConnect.AddCommand(healthcheckCmd())

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to add healthcheck command")
	}

	err = cmdEthosConnect.AddCommand(createClientCmd())

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to add create-client command")
	}

	err = cmdEthosConnect.AddCommand(relayLoginCmd())

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to add relay-login command")
	}

	err = cli.Execute(cmdEthosConnect)

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to execute command")
	}
}

func runCmd(cfg config.Config) error {
	tlog.NewLogger(cfg.Log).Init()

	tlog.App.Info().Str("version", config.Version).Msg("Starting ethos-connect")

	app := bootstrap.NewBootstrapApp(cfg)

	err := app.Setup()

	if err != nil {
		return fmt.Errorf("failed to bootstrap app: %w", err)
	}

	return nil
}
