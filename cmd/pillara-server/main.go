package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pillara/pillara/internal/config"
	"github.com/pillara/pillara/internal/platform/auth"
	"github.com/pillara/pillara/internal/platform/db"
	"github.com/pillara/pillara/internal/platform/events"
	"github.com/pillara/pillara/internal/platform/metrics"
	"github.com/pillara/pillara/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pillara-server",
		Short:        "Pillara medication and adherence API server",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(tokenCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// newLogger writes JSON to out, or human readable lines in development.
func newLogger(out io.Writer, dev bool) zerolog.Logger {
	if dev {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func runServer() error {
	logger := newLogger(os.Stdout, os.Getenv("ENV") == "development")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, _ := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer st.Close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("store ready")

	m := metrics.New()

	var pub events.Publisher = events.Nop{}
	var kafkaPub *events.KafkaPublisher
	if cfg.EventsEnabled {
		kafkaPub, err = events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, logger, m)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create event publisher")
		}
		kafkaPub.Start(ctx)
		pub = kafkaPub
	}

	e := newServer(cfg, serverDeps{
		store:   st,
		logger:  logger,
		metrics: m,
		pub:     pub,
		loc:     loc,
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if kafkaPub != nil {
		if err := kafkaPub.Close(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("event publisher shutdown failed")
		}
	}
	logger.Info().Msg("server stopped")
	return nil
}

// migrationSource returns the embedded migrations unless dir names a
// directory on disk.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run postgres migrations",
	}

	withMigrator := func(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator, schema string) error) error {
		schema, _ := cmd.Flags().GetString("schema")
		dir, _ := cmd.Flags().GetString("dir")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.StoreDriver != config.DriverPostgres {
			return fmt.Errorf("migrate only applies to STORE_DRIVER=%s; %s applies its schema on open",
				config.DriverPostgres, cfg.StoreDriver)
		}

		ctx := context.Background()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, migrationSource(dir)), schema)
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), schema, statuses)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "public", "Target schema for migrations")
		c.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
		cmd.AddCommand(c)
	}
	return cmd
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an HS256 access token signed with JWT_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.IssueToken(jwtConfig(cfg), user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "Subject (user id) of the token")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	jc := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.JWTSigningKey != "" {
		jc.SigningKey = []byte(cfg.JWTSigningKey)
	}
	return jc
}
