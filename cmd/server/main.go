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

	"github.com/joho/godotenv"
	"github.com/shehryarbajwa/chart-renderer/internal/api"
	"github.com/shehryarbajwa/chart-renderer/internal/browser"
	"github.com/shehryarbajwa/chart-renderer/internal/config"
	"github.com/shehryarbajwa/chart-renderer/internal/ratelimit"
	"github.com/shehryarbajwa/chart-renderer/internal/session"
	"github.com/shehryarbajwa/chart-renderer/pkg/logger"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	if envErr != nil {
		logger.Info("No .env file found, using system environment variables")
	}
	logger.Info("Starting chart renderer...")

	// Pick where Chrome comes from
	var launcher browser.Launcher
	switch cfg.Browser.Mode {
	case config.BrowserModeDocker:
		docker, err := browser.NewDockerLauncher(cfg.Browser.Image)
		if err != nil {
			logger.Fatalf("Failed to create docker launcher: %v", err)
		}
		defer docker.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		logger.Infof("⏳ Ensuring %s is available...", cfg.Browser.Image)
		if err := docker.EnsureImage(ctx); err != nil {
			cancel()
			logger.Fatalf("Failed to ensure image: %v", err)
		}
		cancel()
		logger.Info("✓ Chrome image ready")
		launcher = docker
	default:
		launcher = &browser.LocalLauncher{Bin: cfg.Browser.Bin}
		logger.Info("✓ Local Chrome launcher configured")
	}

	factory := browser.NewRodFactory(launcher, browser.Options{
		ChartJSURL:    cfg.Browser.ChartJSURL,
		InitTimeout:   cfg.Browser.InitTimeout,
		RenderTimeout: cfg.Browser.RenderTimeout,
	})

	// Initialize session manager
	sessionMgr := session.NewManager(factory, session.Options{
		IdleTimeout:   cfg.Session.IdleTimeout,
		CheckInterval: cfg.Session.CheckInterval,
		MaxSessions:   cfg.Session.MaxSessions,
	})
	logger.Infof("✓ Session manager initialized (idle timeout %s)", cfg.Session.IdleTimeout)

	var warmup *session.Warmup
	if cfg.Session.Warmup {
		warmup = session.NewWarmup(sessionMgr, cfg.Browser.InitTimeout+cfg.Browser.RenderTimeout)
		logger.Info("✓ Warmup armed for first request")
	}

	var rateLimiter *ratelimit.Limiter
	if cfg.RateLimit.RequestsPerMinute > 0 {
		rateLimiter = ratelimit.NewLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
		logger.Infof("✓ Rate limiter initialized (%d req/min per client)", cfg.RateLimit.RequestsPerMinute)
	}

	// Setup HTTP handlers
	handler := api.NewHandler(sessionMgr, warmup, api.Options{
		Debug:        cfg.Debug,
		KeyHeader:    cfg.Session.KeyHeader,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	router := handler.SetupRoutes(rateLimiter)
	logger.Info("✓ HTTP routes configured")

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in background
	go func() {
		logger.Infof("🚀 Server starting on http://localhost:%d", cfg.Server.Port)
		logger.Infof("📊 Charts: GET|POST http://localhost:%d/chart", cfg.Server.Port)
		logger.Infof("🌐 Browser mode: %s", cfg.Browser.Mode)
		if cfg.Debug {
			logger.Info("🔍 Debug: Server-Timing header enabled")
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("⏳ Shutting down server gracefully...")

	// Shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	if err := sessionMgr.Close(ctx); err != nil {
		logger.Errorf("Failed to close sessions: %v", err)
	}

	logger.Info("✅ Server stopped cleanly")
}
