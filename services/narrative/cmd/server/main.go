package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/startupai/narrative/pkg/authn"
	"github.com/startupai/narrative/pkg/db"
	"github.com/startupai/narrative/services/narrative/internal/agent"
	"github.com/startupai/narrative/services/narrative/internal/api"
	"github.com/startupai/narrative/services/narrative/internal/config"
	"github.com/startupai/narrative/services/narrative/internal/logging"
	"github.com/startupai/narrative/services/narrative/internal/narrative"
	"github.com/startupai/narrative/services/narrative/internal/service"
	"github.com/startupai/narrative/services/narrative/internal/store"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "narrative",
	Short: "Evidence-backed pitch narrative service",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE:  runMigrate,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the narrative JSON schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		b, err := narrative.SchemaJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("NARRATIVE_CONFIG"), "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd, schemaCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	pool, err := db.Connect(cmd.Context(), cfg.Database.DB())
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := store.NewPG(pool).Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("schema applied")
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Database.DB())
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	st := store.NewPG(pool)

	gen, err := newGenerator(cfg.Agent, logger)
	if err != nil {
		return err
	}
	svc := service.New(st, gen, service.Config{
		PublicBaseURL: cfg.Service.PublicBaseURL,
		ExportTTL:     cfg.Narrative.ExportTTL,
		Versions:      cfg.Integrity,
	}, logger)

	handler := api.NewRouter(svc, authn.New(st), st, api.Options{
		Enabled: cfg.Narrative.Enabled,
		Limits: api.Limits{
			MaxBodyBytes:      cfg.Service.MaxBodyBytes,
			VerifyPerMinute:   cfg.Narrative.VerifyRateLimitPerMinute,
			GeneratePerMinute: cfg.Narrative.GenerateRateLimitPerMinute,
		},
		Log: logger,
	})

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("narrative service listening",
			zap.String("addr", srv.Addr),
			zap.Bool("narrative_enabled", cfg.Narrative.Enabled),
			zap.String("agent_provider", cfg.Agent.Provider),
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func newGenerator(cfg config.AgentConfig, logger *zap.Logger) (*agent.Generator, error) {
	gen := &agent.Generator{Timeout: cfg.Timeout, Log: logger}
	if cfg.Provider != config.AgentOpenAI {
		return gen, nil
	}
	composer, err := agent.NewOpenAI(agent.OpenAIConfig{
		APIKey:          cfg.APIKey,
		BaseURL:         cfg.BaseURL,
		Model:           cfg.Model,
		MaxOutputTokens: cfg.MaxOutputTokens,
		MaxRetries:      cfg.MaxRetries,
	})
	if err != nil {
		return nil, err
	}
	gen.Composer = composer
	return gen, nil
}
