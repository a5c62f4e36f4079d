package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/pulsechat/pulse/db"
	"github.com/pulsechat/pulse/internal/agent"
	"github.com/pulsechat/pulse/internal/api"
	"github.com/pulsechat/pulse/internal/auth"
	"github.com/pulsechat/pulse/internal/config"
	"github.com/pulsechat/pulse/internal/llm"
	"github.com/pulsechat/pulse/internal/log"
	"github.com/pulsechat/pulse/internal/store"
	"github.com/pulsechat/pulse/internal/tools"
	"github.com/pulsechat/pulse/internal/trends"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 5 * time.Minute // SSE streaming needs a long write timeout
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// runServe initializes and starts the HTTP API server.
func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: cfg.LogSlogLevel(), JSON: cfg.LogJSON})
	logger.Info("starting pulse", "version", AppVersion)

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	conversations := store.New(pool, logger)

	generator := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.ModelName,
		Temperature: cfg.Temperature,
	})

	turnAgent, err := agent.New(agent.Config{
		Generator:   generator,
		MaxTurns:    cfg.MaxTurns,
		ToolTimeout: cfg.ToolTimeout,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	var local []tools.Tool
	if cfg.SearchAPIKey != "" {
		search, err := tools.NewSearchTool(tools.SearchConfig{APIKey: cfg.SearchAPIKey})
		if err != nil {
			return fmt.Errorf("creating search tool: %w", err)
		}
		local = append(local, search)
	} else {
		logger.Info("search API key not set, web search tool disabled")
	}

	var dialer trends.Dialer
	if cfg.TrendsURL != "" {
		dialer = trends.NewMCPDialer(cfg.TrendsURL, AppVersion)
	} else {
		logger.Info("trends URL not set, remote toolset disabled")
	}

	registry := tools.NewRegistry(tools.RegistryConfig{
		Local:            local,
		Dialer:           dialer,
		DiscoveryTimeout: cfg.DiscoveryTimeout,
		Logger:           logger,
	})

	verifier := auth.NewHTTPVerifier(cfg.AuthBaseURL, cfg.AuthServiceKey)

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:      logger,
		Store:       conversations,
		Tools:       registry,
		Agent:       turnAgent,
		Verifier:    verifier,
		Readiness:   conversations,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", cfg.ListenAddr,
		"chat", "/chat/send, /chat/conversations",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}
