package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/traefik/paerser/cli"
)

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Version string `json:"version"`
}

func healthcheckCmd() *cli.Command {
	return &cli.Command{
		Name:          "healthcheck",
		Description:   "Perform a health check against a running instance.",
		Configuration: nil,
		Resources:     nil,
		AllowArg:      true,
		Run: func(args []string) error {
			tlog.NewSimpleLogger().Init()

			envName := config.DefaultNamePrefix + "APPURL"
			appURL := os.Getenv(envName)

			if len(args) > 0 {
				appURL = args[0]
			}

			if appURL == "" {
				return fmt.Errorf("%s is not set and no argument was provided", envName)
			}

			appURL = strings.TrimSuffix(appURL, "/")

			tlog.App.Info().Str("app_url", appURL).Msg("Performing health check")

			client := http.Client{
				Timeout: 30 * time.Second,
			}

			resp, err := client.Get(appURL + "/api/health")

			if err != nil {
				return fmt.Errorf("failed to perform request: %w", err)
			}

			defer resp.Body.Close()

			var health healthResponse

			if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				return errors.New("service is not healthy: " + health.Message)
			}

			tlog.App.Info().Str("version", health.Version).Msg("Service is healthy")

			return nil
		},
	}
}
