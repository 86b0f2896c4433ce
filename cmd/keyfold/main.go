package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/keyfold/keyfold/internal/api"
	"github.com/keyfold/keyfold/internal/credentials"
	"github.com/keyfold/keyfold/internal/environment"
	"github.com/keyfold/keyfold/internal/notify"
	"github.com/keyfold/keyfold/internal/transport"
	"github.com/keyfold/keyfold/pkg/config"
	"github.com/keyfold/keyfold/pkg/logger"
	"github.com/keyfold/keyfold/pkg/utils"
)

var serverFlag string

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger.Init("keyfold", cfg.Env, cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "keyfold",
		Short:         "keyfold is a CLI for a remote credential vault",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverFlag, "server", cfg.ServerURL, "vault server base URL")

	root.AddCommand(syncCmd(ctx, cfg))
	root.AddCommand(statusCmd(ctx, cfg))
	root.AddCommand(configCmd(cfg))
	root.AddCommand(watchCmd(ctx, cfg))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newClient builds the API client from configuration and flags.
func newClient(cfg *config.Config) (*api.Client, error) {
	env, err := environment.New(environment.Options{
		Base:          serverFlag,
		API:           cfg.APIURL,
		Identity:      cfg.IdentityURL,
		Web:           cfg.WebURL,
		Icons:         cfg.IconsURL,
		Notifications: cfg.NotificationsURL,
	})
	if err != nil {
		return nil, err
	}

	store := credentials.NewFileStore(cfg.CredentialsPath)
	tr := transport.New(logger.L(), transport.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		TotalTimeout:   cfg.TotalTimeout,
		UserAgent:      cfg.UserAgent,
	})
	return api.New(logger.L(), env, store, tr), nil
}

func syncCmd(ctx context.Context, cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch the full vault sync payload",
		RunE: func(*cobra.Command, []string) error {
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			var payload json.RawMessage
			if err := client.Get(ctx, "/sync", &payload); err != nil {
				return err
			}
			return printJSON(payload)
		},
	}
}

func statusCmd(ctx context.Context, cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check whether the vault server is reachable",
		RunE: func(*cobra.Command, []string) error {
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			if err := client.DoJSON(ctx, &api.RequestSpec{
				Method: "GET",
				Path:   "/alive",
				Auth:   api.AuthNone,
			}, nil); err != nil {
				return err
			}
			fmt.Println("server is up:", client.Environment().API())
			return nil
		},
	}
}

func configCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved service URLs",
		RunE: func(*cobra.Command, []string) error {
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			env := client.Environment()
			return printJSON(map[string]string{
				"api":           env.API(),
				"identity":      env.Identity(),
				"web":           env.Web(),
				"icons":         env.Icons(),
				"notifications": env.Notifications(),
			})
		},
	}
}

func watchCmd(ctx context.Context, cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream change notifications from the server",
		RunE: func(*cobra.Command, []string) error {
			client, err := newClient(cfg)
			if err != nil {
				return err
			}

			store := credentials.NewFileStore(cfg.CredentialsPath)
			creds, err := store.Load(ctx)
			if err != nil {
				return err
			}
			var bearer string
			if creds != nil {
				bearer = creds.AccessToken
			}

			logger.S().Debugw("connecting to notifications hub",
				"url", client.Environment().Notifications(),
				"token", utils.MaskToken(bearer))

			sub := notify.New(logger.L(), client.Environment().Notifications())
			if err := sub.Connect(ctx, bearer); err != nil {
				return err
			}
			defer sub.Close() //nolint:errcheck

			for {
				select {
				case msg, ok := <-sub.Messages():
					if !ok {
						return nil
					}
					if err := printJSON(msg); err != nil {
						return err
					}
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
