// vKYC desk: session lifecycle server for video KYC verification.
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

	"github.com/ashureev/vkyc-desk/internal/api"
	"github.com/ashureev/vkyc-desk/internal/config"
	"github.com/ashureev/vkyc-desk/internal/identity"
	"github.com/ashureev/vkyc-desk/internal/metrics"
	"github.com/ashureev/vkyc-desk/internal/middleware"
	"github.com/ashureev/vkyc-desk/internal/presence"
	"github.com/ashureev/vkyc-desk/internal/rpc"
	"github.com/ashureev/vkyc-desk/internal/session"
	"github.com/ashureev/vkyc-desk/internal/store"
	"github.com/ashureev/vkyc-desk/internal/stream"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

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

	agent, err := identity.EnsureDefaultAgent(context.Background(), repo, cfg.DefaultAgent.Name, cfg.DefaultAgent.Email)
	if err != nil {
		slog.Error("Failed to ensure default agent", "error", err)
		os.Exit(1)
	}
	slog.Info("Default agent ready", "agent_id", agent.ID)

	// Initialize services.
	broker := stream.NewBroker(cfg.SSE)
	defer broker.Close()
	hub := presence.NewHub()
	mgr := session.NewManager(repo, session.WithPublisher(session.Publishers{broker, hub}))

	inviteLimiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer inviteLimiter.Stop()

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo, cfg.Timeout.HealthCheck)
	roomHandler := api.NewRoomHandler(mgr, cfg.InviteURL)
	inviteHandler := api.NewInviteHandler(mgr.Directory())
	wsHandler := presence.NewHandler(mgr.Directory(), mgr, hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(middleware.AllowedOrigins(cfg.FrontendURL)))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", metrics.Handler())

	// Agent routes act for the agent named by header, or the default agent.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, agent.ID))
		roomHandler.RegisterRoutes(r)
		broker.RegisterRoutes(r)
	})

	// Customer routes are keyed by invite token and rate limited per IP.
	r.Group(func(r chi.Router) {
		r.Use(inviteLimiter.Middleware)
		inviteHandler.RegisterRoutes(r)
		wsHandler.RegisterRoutes(r)
	})

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	// gRPC room directory and health.
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(rpc.LoggingInterceptor))
	rpc.Register(grpcServer, rpc.NewServer(mgr.Directory()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	grpcListener, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		slog.Error("Failed to listen for gRPC", "error", err, "port", cfg.GRPCPort)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rpc.StartHealthWatcher(ctx, repo, healthServer, cfg.Timeout.HealthWatch, cfg.Timeout.HealthCheck)

	// Start servers.
	go func() {
		slog.Info("gRPC server listening", "addr", grpcListener.Addr().String())
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			slog.Error("gRPC server failed", "error", err)
			os.Exit(1)
		}
	}()

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	// Close event streams first so Shutdown does not wait on them.
	broker.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}

	slog.Info("Server stopped successfully")
}
