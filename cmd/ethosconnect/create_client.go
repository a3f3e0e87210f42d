package main

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/trust-ethos/ethos-connect/internal/bootstrap"
	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/service"
	"github.com/trust-ethos/ethos-connect/internal/utils"
	"github.com/trust-ethos/ethos-connect/internal/utils/loaders"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/traefik/paerser/cli"
	"golang.org/x/crypto/bcrypt"
)

var clientNamePattern = regexp.MustCompile("^[a-zA-Z0-9-]+$")

type CreateClientConfig struct {
	Interactive  bool               `description:"Create a client interactively."`
	Name         string             `description:"Client name (letters, digits and hyphens)."`
	RedirectURIs []string           `description:"Comma-separated list of allowed redirect URI patterns."`
	Register     bool               `description:"Register the client directly in the configured store instead of printing config."`
	Docker       bool               `description:"Escape dollar signs for docker compose files."`
	Store        config.StoreConfig `description:"Store configuration used with --register."`
}

func NewCreateClientConfig() *CreateClientConfig {
	defaults := config.NewDefaultConfiguration()

	return &CreateClientConfig{
		Interactive:  false,
		Name:         "",
		RedirectURIs: []string{},
		Register:     false,
		Docker:       false,
		Store:        defaults.Store,
	}
}

func createClientCmd() *cli.Command {
	tCfg := NewCreateClientConfig()

	loaders := []cli.ResourceLoader{
		&loaders.FlagLoader{},
		&loaders.EnvLoader{},
	}

	return &cli.Command{
		Name:          "create-client",
		Description:   "Create relying party client credentials.",
		Configuration: tCfg,
		Resources:     loaders,
		Run: func(_ []string) error {
			tlog.NewSimpleLogger().Init()

			if tCfg.Interactive {
				redirects := strings.Join(tCfg.RedirectURIs, ",")

				form := huh.NewForm(
					huh.NewGroup(
						huh.NewInput().Title("Client name").Value(&tCfg.Name).Validate(validateClientName),
						huh.NewInput().Title("Redirect URIs (comma separated)").Value(&redirects).Validate(func(s string) error {
							if strings.TrimSpace(s) == "" {
								return errors.New("at least one redirect URI is required")
							}
							return nil
						}),
						huh.NewSelect[bool]().Title("Register in the configured store?").Options(huh.NewOption("No, print config", false), huh.NewOption("Yes", true)).Value(&tCfg.Register),
						huh.NewSelect[bool]().Title("Format the output for Docker?").Options(huh.NewOption("Yes", true), huh.NewOption("No", false)).Value(&tCfg.Docker),
					),
				)

				var baseTheme *huh.Theme = huh.ThemeBase()

				err := form.WithTheme(baseTheme).Run()

				if err != nil {
					return fmt.Errorf("failed to run interactive prompt: %w", err)
				}

				tCfg.RedirectURIs = splitList(redirects)
			}

			if err := validateClientName(tCfg.Name); err != nil {
				return err
			}

			if len(tCfg.RedirectURIs) == 0 {
				return errors.New("at least one redirect URI is required")
			}

			if tCfg.Register {
				return registerClient(tCfg)
			}

			return printClientConfig(tCfg)
		},
	}
}

func validateClientName(name string) error {
	if !clientNamePattern.MatchString(name) {
		return errors.New("client name can only contain alphanumeric characters and hyphens")
	}
	return nil
}

func splitList(value string) []string {
	items := make([]string, 0)
	for item := range strings.SplitSeq(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func registerClient(cfg *CreateClientConfig) error {
	ctx := context.Background()

	app := bootstrap.NewBootstrapApp(config.Config{Store: cfg.Store})

	kv, err := app.OpenStore(ctx)

	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	defer kv.Close()

	clients := service.NewClientService(service.ClientServiceConfig{}, kv)

	client, secret, err := clients.Register(ctx, service.RegisterClientRequest{
		Name:         cfg.Name,
		RedirectURIs: cfg.RedirectURIs,
	})

	if err != nil {
		return err
	}

	tlog.App.Info().Str("client_id", client.ClientID).Str("store", cfg.Store.Type).Msg("Client registered")

	fmt.Printf("Client Name: %s\n", client.Name)
	fmt.Printf("Client ID: %s\n", client.ClientID)
	fmt.Printf("Client Secret: %s\n\n", secret)
	fmt.Println("Make sure to save the secret, there is no way to retrieve it again.")

	return nil
}

func printClientConfig(cfg *CreateClientConfig) error {
	random, err := utils.GetRandomString(61)

	if err != nil {
		return fmt.Errorf("failed to generate secret: %w", err)
	}

	clientID := uuid.New().String()
	clientSecret := "ec-" + random

	hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)

	if err != nil {
		return fmt.Errorf("failed to hash secret: %w", err)
	}

	secretHash := string(hash)

	if cfg.Docker {
		secretHash = strings.ReplaceAll(secretHash, "$", "$$")
	}

	upperName := strings.ToUpper(strings.ReplaceAll(cfg.Name, "-", ""))
	lowerName := strings.ToLower(strings.ReplaceAll(cfg.Name, "-", ""))
	redirects := strings.Join(cfg.RedirectURIs, ",")

	builder := strings.Builder{}

	fmt.Fprintf(&builder, "Created credentials for client %s\n\n", cfg.Name)

	fmt.Fprintf(&builder, "Client ID: %s\n", clientID)
	fmt.Fprintf(&builder, "Client Secret: %s\n\n", clientSecret)

	fmt.Fprint(&builder, "Environment variables (the secret is stored as a bcrypt hash):\n\n")
	fmt.Fprintf(&builder, "%sCLIENTS_%s_CLIENTID=%s\n", config.DefaultNamePrefix, upperName, clientID)
	fmt.Fprintf(&builder, "%sCLIENTS_%s_CLIENTSECRET=%s\n", config.DefaultNamePrefix, upperName, secretHash)
	fmt.Fprintf(&builder, "%sCLIENTS_%s_REDIRECTURIS=%s\n", config.DefaultNamePrefix, upperName, redirects)
	fmt.Fprintf(&builder, "%sCLIENTS_%s_NAME=%s\n\n", config.DefaultNamePrefix, upperName, cfg.Name)

	fmt.Fprint(&builder, "CLI flags:\n\n")
	fmt.Fprintf(&builder, "--clients.%s.clientid=%s\n", lowerName, clientID)
	fmt.Fprintf(&builder, "--clients.%s.clientsecret='%s'\n", lowerName, string(hash))
	fmt.Fprintf(&builder, "--clients.%s.redirecturis=%s\n", lowerName, redirects)
	fmt.Fprintf(&builder, "--clients.%s.name=%s\n\n", lowerName, cfg.Name)

	fmt.Fprintln(&builder, "Make sure to save the client secret, only its hash is kept in the configuration.")

	fmt.Print(builder.String())
	return nil
}
