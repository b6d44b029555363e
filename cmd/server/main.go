// cvstudio - conversational CV builder server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/cvstudio/internal/agent"
	"github.com/ashureev/cvstudio/internal/api"
	"github.com/ashureev/cvstudio/internal/clamp"
	"github.com/ashureev/cvstudio/internal/config"
	"github.com/ashureev/cvstudio/internal/docsvc"
	"github.com/ashureev/cvstudio/internal/middleware"
	"github.com/ashureev/cvstudio/internal/reference"
	"github.com/ashureev/cvstudio/internal/store"
	"github.com/ashureev/cvstudio/internal/tools"
	"github.com/ashureev/cvstudio/internal/workflow"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// documentService is what the server needs from the document service.
type documentService interface {
	tools.Renderer
	tools.Extractor
	api.HealthChecker
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	profile, err := clamp.LoadProfile(cfg.ClampProfilePath)
	if err != nil {
		slog.Error("Failed to load clamp profile", "error", err, "path", cfg.ClampProfilePath)
		os.Exit(1)
	}

	// The document service is optional at startup; without it sessions can
	// still be collected but not imported or rendered.
	var docs documentService = docsvc.Unavailable{}
	docsCfg := docsvc.DefaultConfig()
	docsCfg.Address = cfg.DocService.Addr
	docsCfg.ConnectTimeout = cfg.DocService.ConnectTimeout
	docsCfg.RequestTimeout = cfg.DocService.RequestTimeout
	if client, err := docsvc.NewClient(docsCfg, logger); err != nil {
		slog.Warn("Document service unavailable, import and rendering disabled", "error", err, "address", cfg.DocService.Addr)
	} else {
		defer client.Close()
		docs = client
	}

	fetcher := reference.NewFetcher(nil, reference.Config{
		Timeout:  cfg.ReferenceFetch.Timeout,
		MaxBytes: cfg.ReferenceFetch.MaxBytes,
		MaxChars: cfg.ReferenceFetch.MaxChars,
	}, logger)

	gate := workflow.Gate{Strict: cfg.Workflow.StrictReadiness}
	registry := tools.NewRegistry(tools.Options{
		Store:             repo,
		Renderer:          docs,
		Extractor:         docs,
		Fetcher:           fetcher,
		Gate:              gate,
		Profile:           profile,
		MaxPages:          cfg.DocService.MaxPages,
		SnapshotMaxBytes:  cfg.Workflow.SnapshotMaxBytes,
		MaxReferenceChars: cfg.ReferenceFetch.MaxChars,
		Logger:            logger,
	})

	baseHandler := api.NewHandler(repo, gate, cfg.Workflow.SnapshotMaxBytes)
	sessionHandler := api.NewSessionHandler(baseHandler)

	var chatHandler *agent.Handler
	aiEnabled := false
	if cfg.Model.APIKey != "" {
		model, err := agent.NewGeminiModel(context.Background(), cfg.Model.APIKey, cfg.Model.Name, cfg.Model.Temperature, logger)
		if err != nil {
			slog.Error("Failed to initialize model", "error", err)
			os.Exit(1)
		}

		conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
			Enabled:       cfg.ConversationLog.Enabled,
			Dir:           cfg.ConversationLog.Dir,
			GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
			GlobalPath:    cfg.ConversationLog.GlobalPath,
			QueueSize:     cfg.ConversationLog.QueueSize,
		}, logger)
		if err != nil {
			slog.Error("Failed to initialize conversation logger", "error", err)
			os.Exit(1)
		}

		orchestrator := agent.NewOrchestrator(repo, model, registry, agent.Config{
			MaxIterations: cfg.Workflow.MaxIterations,
			HeaderLimits: workflow.HeaderLimits{
				MaxLines: cfg.Workflow.HeaderMaxLines,
				MaxChars: cfg.Workflow.HeaderMaxChars,
			},
			AutoAdvanceTurns:  cfg.Workflow.AutoAdvanceTurns,
			StrictReadiness:   cfg.Workflow.StrictReadiness,
			SnapshotMaxBytes:  cfg.Workflow.SnapshotMaxBytes,
			ModelTimeout:      cfg.Model.RequestTimeout,
			MaxReferenceChars: cfg.ReferenceFetch.MaxChars,
		}, conversationLogger, logger)

		chatHandler = agent.NewHandler(orchestrator, conversationLogger, cfg)
		defer chatHandler.Close()
		aiEnabled = true
	} else {
		slog.Info("Chat disabled (GEMINI_API_KEY not set)")
	}

	healthHandler := api.NewHealthHandler(baseHandler, docs, aiEnabled, cfg.DocService.MaxPages)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	healthHandler.RegisterRoutes(r)
	sessionHandler.RegisterRoutes(r)
	if chatHandler != nil {
		chatHandler.RegisterRoutes(r)
	}

	// Model and render calls happen inside one request, so the write timeout
	// covers the whole loop.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return store.RunRetentionWorker(gctx, repo, cfg.SessionRetention, cfg.RetentionInterval)
	})
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" || cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
