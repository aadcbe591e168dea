// Child assessment server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/childassess/internal/aggregate"
	"github.com/ashureev/childassess/internal/analysis"
	"github.com/ashureev/childassess/internal/api"
	"github.com/ashureev/childassess/internal/assessment"
	"github.com/ashureev/childassess/internal/config"
	"github.com/ashureev/childassess/internal/content"
	"github.com/ashureev/childassess/internal/dialogue"
	"github.com/ashureev/childassess/internal/health"
	"github.com/ashureev/childassess/internal/llm"
	"github.com/ashureev/childassess/internal/middleware"
	"github.com/ashureev/childassess/internal/notify"
	"github.com/ashureev/childassess/internal/session"
	"github.com/ashureev/childassess/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

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

	slog.Info("Starting server", "port", cfg.Port, "remote_analysis", cfg.Analysis.RemoteURL != "", "generative", cfg.LLM.Enabled())

	// Initialize dependencies.
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

	texts, err := loadContent(cfg.ContentPath)
	if err != nil {
		slog.Error("Failed to load content", "error", err)
		os.Exit(1)
	}

	gen := llm.New(cfg.LLM)

	// Only configured tiers are set; a nil Backend marks the tier unconfigured.
	tiers := analysis.Tiers{
		Generative: analysis.NewGenerativeScorer(gen),
		Extractor:  analysis.WAVExtractor{},
	}
	if cfg.Analysis.RemoteURL != "" {
		tiers.Remote = analysis.NewHTTPBackend(cfg.Analysis.RemoteURL, cfg.Analysis.RemoteTimeout, analysis.WithTunnelBypass())
	}
	if cfg.Analysis.LocalURL != "" {
		tiers.Local = analysis.NewHTTPBackend(cfg.Analysis.LocalURL, cfg.Analysis.LocalTimeout)
	}
	orchestrator := analysis.NewOrchestrator(tiers, analysis.TimeoutsFromConfig(cfg.Analysis), logger)

	// Initialize services.
	sessions := session.NewStore(cfg.SessionTTL)
	supervisor := assessment.NewSupervisor(logger)
	hub := notify.NewHub()

	svc := assessment.NewService(assessment.Deps{
		Repo:       repo,
		Sessions:   sessions,
		Analyzer:   orchestrator,
		Aggregator: aggregate.NewEngine(gen, cfg.Analysis.GenerativeTimeout, logger),
		Generator:  gen,
		Content:    texts,
		Supervisor: supervisor,
		Notifier:   hub,
	}, assessment.Options{
		UploadDir:       cfg.UploadDir,
		GenerateTimeout: cfg.Analysis.GenerativeTimeout,
		Logger:          logger,
	})
	chat := dialogue.NewEngine(sessions, repo, gen, texts, svc, cfg.Analysis.GenerativeTimeout, dialogue.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := newChecker(cfg, repo, gen, logger)
	checker.Start(ctx, cfg.Health.CheckInterval)

	// Initialize handlers.
	handler := api.NewHandler(svc, chat, logger)
	healthHandler := api.NewHealthHandler(repo, checker)
	wsHandler := notify.NewWebSocketHandler(hub, svc, cfg.AllowedOrigins)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	healthHandler.RegisterHealth(r)
	handler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/result", wsHandler.ServeHTTP)

	// Analysis can take the sum of the tier timeouts; the write timeout leaves room for it.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Analysis.Budget() + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var grpcServer *grpc.Server
	if cfg.Health.GRPCAddr != "" {
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, checker.Server())
		lis, err := net.Listen("tcp", cfg.Health.GRPCAddr)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "error", err, "addr", cfg.Health.GRPCAddr)
			os.Exit(1)
		}
		go func() {
			slog.Info("gRPC health listening", "addr", cfg.Health.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	// Aggregations scheduled by requests finish before the database closes.
	if err := supervisor.Shutdown(cfg.ShutdownTimeout); err != nil {
		slog.Warn("Background tasks abandoned at shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}

func loadContent(path string) (*content.Content, error) {
	if path == "" {
		return content.Default()
	}
	slog.Info("Loading content override", "path", path)
	return content.Load(path)
}

func newChecker(cfg *config.Config, repo store.Repository, gen llm.Generator, logger *slog.Logger) *health.Checker {
	checker := health.NewChecker(logger)
	checker.Add(health.ServiceDatabase, repo.Ping, true)

	client := &http.Client{Timeout: 5 * time.Second}
	if cfg.Analysis.RemoteURL != "" {
		checker.Add(health.ServiceRemoteAnalysis,
			health.HTTPPing(client, cfg.Analysis.RemoteURL, http.Header{"Bypass-Tunnel-Reminder": {"true"}}), false)
	} else {
		checker.Add(health.ServiceRemoteAnalysis, health.Configured(false, "remote analysis"), false)
	}
	if cfg.Analysis.LocalURL != "" {
		checker.Add(health.ServiceLocalAnalysis, health.HTTPPing(client, cfg.Analysis.LocalURL, nil), false)
	} else {
		checker.Add(health.ServiceLocalAnalysis, health.Configured(false, "local analysis"), false)
	}
	checker.Add(health.ServiceGenerative, health.Configured(gen != nil, "generative backend"), false)
	return checker
}
