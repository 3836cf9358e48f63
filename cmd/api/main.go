package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"flowers-serverless/app"
	"flowers-serverless/internal/admin"
	"flowers-serverless/internal/db"
	"flowers-serverless/internal/observability"
	"flowers-serverless/internal/shop"
	"flowers-serverless/internal/telegram"
)

const (
	commandTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "flowers-api",
		Short:         "Flower shop backend: OTP login over Telegram and shop sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (env CONFIG_FILE); env vars override it")

	options := func() app.Options {
		return app.Options{ConfigPath: configPath, LoadDotEnv: true}
	}

	root.AddCommand(
		newServeCommand(options),
		newMigrateCommand(options),
		newOTPStatusCommand(options),
		newShopCommand(options),
		newHashAdminKeyCommand(),
	)
	return root
}

func newServeCommand(options func() app.Options) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := options()
			opts.RunMigrations = migrate

			runtime, err := app.Build(opts)
			if err != nil {
				return err
			}
			defer runtime.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := &http.Server{
				Addr:              ":" + runtime.Config.Port,
				Handler:           runtime.Handler,
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				runtime.Logger.Info("server_start", map[string]any{"addr": server.Addr})
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve http: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			runtime.Logger.Info("server_shutdown", nil)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations before serving")
	return cmd
}

func newMigrateCommand(options func() app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(options())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			database, err := db.Open(ctx, cfg.DatabaseURL, cfg.DB)
			if err != nil {
				return err
			}
			defer database.Close()

			applied, err := db.RunMigrations(ctx, database)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
				return nil
			}
			for _, version := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", version)
			}
			return nil
		},
	}
}

func newOTPStatusCommand(options func() app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "otp-status <phone>",
		Short: "Show the pending login code state and Telegram link for a phone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(options())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			store, err := app.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			phone := strings.TrimSpace(args[0])
			registry := telegram.NewRegistry(store, cfg.Telegram.IdentityTTL)
			logger := observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
			manager := app.NewOTPManager(cfg, store, registry, telegram.NewLogNotifier(logger))

			status, err := manager.Status(ctx, phone)
			if err != nil {
				return err
			}

			linked := true
			if _, err := registry.Lookup(ctx, phone); err != nil {
				if !errors.Is(err, telegram.ErrNotLinked) {
					return err
				}
				linked = false
			}

			return printJSON(cmd, map[string]any{
				"phone":           phone,
				"telegram_linked": linked,
				"pending":         status.Pending,
				"expires_in":      int64(status.ExpiresIn.Seconds()),
				"attempts":        status.Attempts,
			})
		},
	}
}

func newShopCommand(options func() app.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shop",
		Short: "Shop administration",
	}

	setActive := func(use, short string, active bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <shop-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid shop id %q", args[0])
				}

				cfg, err := app.LoadConfig(options())
				if err != nil {
					return err
				}

				ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
				defer cancel()

				database, err := db.Open(ctx, cfg.DatabaseURL, cfg.DB)
				if err != nil {
					return err
				}
				defer database.Close()

				s, err := shop.NewRepository(database).SetActive(ctx, id, active)
				if err != nil {
					return err
				}
				return printJSON(cmd, s)
			},
		}
	}

	cmd.AddCommand(
		setActive("activate", "Reactivate a shop", true),
		setActive("deactivate", "Deactivate a shop; its sessions stop working immediately", false),
	)
	return cmd
}

func newHashAdminKeyCommand() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "hash-admin-key",
		Short: "Print the bcrypt hash to put in ADMIN_API_KEY_HASH",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read admin key from stdin: %w", err)
				}
				key = line
			}

			hash, err := admin.HashKey(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "admin key to hash (read from stdin when empty)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
