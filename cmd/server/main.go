package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/api"
	"github.com/shehryarbajwa/browserflow/internal/artifact"
	"github.com/shehryarbajwa/browserflow/internal/browser"
	"github.com/shehryarbajwa/browserflow/internal/config"
	"github.com/shehryarbajwa/browserflow/internal/logging"
	"github.com/shehryarbajwa/browserflow/internal/metrics"
	"github.com/shehryarbajwa/browserflow/internal/pool"
	"github.com/shehryarbajwa/browserflow/internal/ratelimit"
	"github.com/shehryarbajwa/browserflow/internal/runner"
	"github.com/shehryarbajwa/browserflow/internal/secret"
	"github.com/shehryarbajwa/browserflow/internal/selector"
	"github.com/shehryarbajwa/browserflow/internal/session"
	"github.com/shehryarbajwa/browserflow/internal/socket"
	"github.com/shehryarbajwa/browserflow/internal/store"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.NewLoader().WithPath(os.Getenv(config.PathEnv)).Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting browserflow", zap.String("addr", cfg.Server.Addr), zap.String("launcher", cfg.Browser.Launcher))

	m := metrics.NewCollector(cfg.Server.MetricsNamespace, logger)

	st, err := store.Open(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}()
	// Runs cut off by the previous process never finish.
	if n, err := st.AbortUnfinished(context.Background()); err != nil {
		return fmt.Errorf("abort unfinished runs: %w", err)
	} else if n > 0 {
		logger.Info("aborted unfinished runs", zap.Int64("count", n))
	}

	arts, err := artifact.NewStore(cfg.Store.ArtifactDir, logger)
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}

	box, err := secret.NewAESBox(cfg.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("create secret box: %w", err)
	}

	launcher, err := browser.New(cfg.Browser, logger)
	if err != nil {
		return fmt.Errorf("create launcher: %w", err)
	}
	defer func() {
		if err := launcher.Close(); err != nil {
			logger.Warn("close launcher", zap.Error(err))
		}
	}()
	if d, ok := launcher.(*browser.DockerLauncher); ok {
		logger.Info("ensuring browser image", zap.String("image", cfg.Browser.Image))
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Browser.StartupTimeout*10)
		err := d.EnsureImage(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("ensure image: %w", err)
		}
	}

	sessions := session.NewManager(session.ManagerOptions{
		Session:       cfg.Session,
		MaxConcurrent: cfg.Browser.MaxConcurrent,
		Launcher:      launcher,
		Pool:          pool.New(logger, m),
		Synth:         selector.New(cfg.Selector.Options()),
		Box:           box,
		Logger:        logger,
		Metrics:       m,
	})

	rn := runner.New(runner.Options{
		Store:     st,
		Artifacts: arts,
		Sessions:  runner.ManagerSessions{Manager: sessions},
		Logger:    logger,
		Metrics:   m,
	})

	limiter := ratelimit.NewLimiter(cfg.RateLimit.RequestsPerHour, cfg.RateLimit.Burst, cfg.RateLimit.IdleEviction)
	go limiter.Run()
	defer limiter.Close()

	sockets := socket.NewServer(func(userID, id string) (socket.Session, error) {
		s, err := sessions.Owned(userID, id)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, sessions.Touch, cfg.Server.AllowedOrigins, logger)

	handler := api.NewHandler(sessions, st, arts, rn, logger)
	router := handler.SetupRoutes(*cfg, sockets, limiter, m)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	if err := rn.Shutdown(ctx); err != nil {
		logger.Warn("runner shutdown", zap.Error(err))
	}
	sessions.Shutdown(ctx)

	logger.Info("server stopped cleanly")
	return nil
}
