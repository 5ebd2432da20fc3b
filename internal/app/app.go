package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"logistics-auth/internal/cache"
	"logistics-auth/internal/config"
	"logistics-auth/internal/database"
	"logistics-auth/internal/event"
	"logistics-auth/internal/handler"
	"logistics-auth/internal/jobs"
	"logistics-auth/internal/middleware"
	"logistics-auth/internal/repository"
	"logistics-auth/internal/router"
	"logistics-auth/internal/security"
	"logistics-auth/internal/service"
)

type App struct {
	server          *http.Server
	shutdownTimeout time.Duration
	cleanupFuncs    []func()
}

const defaultShutdownTimeout = 15 * time.Second

func New(cfg *config.Config) (_ *App, err error) {
	a := &App{shutdownTimeout: cfg.Server.ShutdownTimeout}
	if a.shutdownTimeout <= 0 {
		a.shutdownTimeout = defaultShutdownTimeout
	}
	defer func() {
		if err != nil {
			a.cleanup()
		}
	}()

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(context.Background(), cfg.Database.URL, database.Options{
		MaxConns:       cfg.Database.MaxConns,
		MinConns:       cfg.Database.MinConns,
		AcquireTimeout: cfg.Database.AcquireTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.onShutdown(db.Close)

	if err := db.EnsureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	slog.Info("database ready")

	issuer, err := security.NewTokenIssuer(cfg.Auth.AccessSecret, cfg.Auth.RefreshSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}

	bus := event.NewBus()
	if cfg.AMQP.URL != "" {
		if err := a.startForwarder(bus, cfg.AMQP); err != nil {
			return nil, err
		}
	}

	auditService := service.NewAuditService(auditRepo)
	authService, err := service.NewAuthService(service.AuthDeps{
		Users:               userRepo,
		Tokens:              tokenRepo,
		Hasher:              security.NewPasswordHasher(cfg.Auth.BcryptCost),
		Issuer:              issuer,
		Bus:                 bus,
		Audit:               auditService,
		RotateRefreshTokens: cfg.Auth.RotateRefreshTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}
	userService := service.NewUserService(userRepo, tokenRepo, bus, auditService)

	if err := authService.EnsureAdmin(context.Background(), cfg.Admin.Email, cfg.Admin.Password); err != nil {
		return nil, fmt.Errorf("failed to bootstrap admin: %w", err)
	}

	var limitStore middleware.LimitStore
	if cfg.Redis.Addr != "" {
		client, err := cache.Connect(context.Background(), cache.Config{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.onShutdown(func() { _ = client.Close() })
		limitStore = middleware.NewRedisLimitStore(client, "auth-rl")
		slog.Info("rate limiting backed by redis", "addr", cfg.Redis.Addr)
	}

	scheduler, err := jobs.NewScheduler(tokenRepo, cfg.Jobs.TokenCleanupInterval, cfg.Jobs.TokenCleanupGrace)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize background jobs: %w", err)
	}
	scheduler.Start()
	a.onShutdown(func() {
		if err := scheduler.Stop(); err != nil {
			slog.Warn("scheduler shutdown failed", "error", err)
		}
	})

	appRouter := router.New(cfg, middleware.NewAuthMiddleware(authService), router.Handlers{
		Auth:   handler.NewAuthHandler(authService),
		User:   handler.NewUserHandler(userService),
		Audit:  handler.NewAuditHandler(auditService),
		Health: handler.NewHealthHandler(db),
	}, limitStore)

	a.server = &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	return a, nil
}

func (a *App) startForwarder(bus *event.InMemoryBus, cfg config.AMQPConfig) error {
	forwarder, err := event.NewAMQPForwarder(cfg.URL, cfg.Queue)
	if err != nil {
		return fmt.Errorf("failed to connect to message broker: %w", err)
	}

	events, unsubscribe := bus.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		forwarder.Run(ctx, events)
	}()

	a.onShutdown(func() {
		cancel()
		unsubscribe()
		<-done
		forwarder.Close()
	})
	return nil
}

func (a *App) onShutdown(fn func()) {
	a.cleanupFuncs = append(a.cleanupFuncs, fn)
}

// cleanup releases resources in reverse order of acquisition.
func (a *App) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	a.cleanupFuncs = nil
}

func (a *App) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-serveErr:
		a.cleanup()
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		slog.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	// Drain in-flight requests before closing what they depend on.
	shutdownErr := a.server.Shutdown(ctx)
	a.cleanup()
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}
