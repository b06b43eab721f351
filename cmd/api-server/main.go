package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Salad109/medical-office-manager/internal/app"
	"github.com/Salad109/medical-office-manager/internal/config"
	"github.com/Salad109/medical-office-manager/internal/db"
	"github.com/Salad109/medical-office-manager/internal/logging"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "api-server",
		Short:         "Medical office appointment and visit API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setup() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Logger{}, fmt.Errorf("config load error: %w", err)
	}
	log := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.IsDev(),
		File:    cfg.LogFile,
		Service: "api-server",
	})
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

			rootCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(rootCtx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			if migrate {
				applied, err := db.NewMigrator(a.Pool).Up(rootCtx)
				if err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				log.Info().Strs("applied", applied).Msg("migrations up to date")
			}

			srv := &http.Server{
				Addr:              ":" + cfg.HTTPPort,
				Handler:           a.Router(version),
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", srv.Addr).Msg("listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			case <-rootCtx.Done():
			}

			log.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("graceful shutdown: %w", err)
			}
			log.Info().Msg("api-server stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded SQL migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			m := db.NewMigrator(pool)

			if status {
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, st := range statuses {
					applied := "pending"
					if st.Applied {
						applied = "applied " + st.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%03d %-30s %s\n", st.Version, st.Name, applied)
				}
				return nil
			}

			applied, err := m.Up(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				log.Info().Msg("no pending migrations")
				return nil
			}
			log.Info().Strs("applied", applied).Msg("migrations applied")
			return nil
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "list migrations and whether they are applied")
	return cmd
}
