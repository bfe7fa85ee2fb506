package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"csclub/backend/internal/api"
	"csclub/backend/internal/auth"
	"csclub/backend/internal/config"
	"csclub/backend/internal/logging"
	"csclub/backend/internal/mcp"
	"csclub/backend/internal/repository"
	"csclub/backend/internal/services"
	"csclub/backend/internal/tls"
)

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	logger.Info("Starting CS Club server", "version", version, "provider", cfg.Provider)

	journal, closeJournal, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeJournal()

	advisor := newAdvisor(cfg, journal, logger)
	handler := api.NewHandler(advisor, journal, logger, api.HandlerOptions{
		Title:   cfg.Page.Title,
		Version: version,
	})

	opts := api.RouterOptions{Logger: logger, ServiceName: "csclub"}
	if cfg.Auth.Enable {
		authz, err := auth.New(ctx, cfg.Auth.Issuer, cfg.Auth.Audience, logger)
		if err != nil {
			return fmt.Errorf("auth initialization failed: %w", err)
		}
		opts.Protect = authz.Middleware
		logger.Info("Bearer authentication enabled", "issuer", cfg.Auth.Issuer)
	}
	if cfg.MCP.Enable {
		opts.MCP = mcp.NewServer(advisor, version).Handler()
		logger.Info("MCP protocol handlers mounted", "path", "/mcp")
	}

	e, err := api.NewRouter(handler, opts)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.TLS.Enable {
		generated, err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			return fmt.Errorf("tls setup failed: %w", err)
		}
		if generated {
			logger.Warn("Generated self-signed certificate", "cert_file", cfg.TLS.CertFile, "hostnames", cfg.TLS.Hostnames)
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			logger.Error("Server close error", "error", err)
		}
		return err
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// newAdvisor builds one workflow client per remote app for the configured provider.
func newAdvisor(cfg *config.Config, journal repository.RunJournal, logger *logging.Logger) *services.AdvisorService {
	var clients services.AdvisorClients
	switch cfg.Provider {
	case config.ProviderOpenAI:
		opts := services.OpenAIOptions{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: cfg.OpenAI.Timeout,
		}
		clients = services.AdvisorClients{
			Page: services.NewOpenAIClient(opts, services.WorkflowPrompt{
				System:    services.AdvisorSystemPrompt,
				OutputKey: cfg.Page.OutputKey,
			}),
			Choices: services.NewOpenAIClient(opts, services.WorkflowPrompt{
				System:    services.TaskExtractionSystemPrompt,
				OutputKey: cfg.Choices.OutputKey,
				JSON:      true,
			}),
			Chat: services.NewOpenAIClient(opts, services.WorkflowPrompt{
				System: services.AdvisorSystemPrompt,
			}),
		}
	default:
		clients = services.AdvisorClients{
			Page:    services.NewHTTPDifyClient(cfg.Dify.BaseURL, cfg.Dify.APIKey, cfg.Dify.Timeout),
			Choices: services.NewHTTPDifyClient(cfg.Dify.BaseURL, cfg.ChoicesAPIKey(), cfg.Dify.Timeout),
			Chat:    services.NewHTTPDifyClient(cfg.Dify.BaseURL, cfg.ChatAPIKey(), cfg.Dify.Timeout),
		}
	}

	return services.NewAdvisorService(clients, journal, logger.With("component", "advisor"), services.AdvisorOptions{
		User:             cfg.Dify.User,
		Question:         cfg.Page.Question,
		PagePrompt:       cfg.Page.Prompt,
		PageInputKey:     cfg.Page.InputKey,
		PageOutputKey:    cfg.Page.OutputKey,
		ChoicesOutputKey: cfg.Choices.OutputKey,
	})
}

// openJournal connects the run journal when the database is enabled. The
// returned close func is always safe to call.
func openJournal(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.RunJournal, func(), error) {
	if !cfg.DB.Enable {
		return repository.NopJournal{}, func() {}, nil
	}

	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("database initialization failed: %w", err)
	}
	journal := repository.NewPostgresRunJournal(pool)
	if err := journal.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("Run journal connected", "host", cfg.DB.Host, "database", cfg.DB.Name)
	return journal, pool.Close, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
