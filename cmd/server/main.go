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

	echoapi "github.com/pilab-dev/datelink/api/echo"
	"github.com/pilab-dev/datelink/config"
	"github.com/pilab-dev/datelink/internal/app"
	"github.com/pilab-dev/datelink/internal/server"
	"github.com/pilab-dev/datelink/log"
	"github.com/pilab-dev/datelink/matches"
	"github.com/pilab-dev/datelink/tracing"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	appLogger := log.NewZerologAdapter(log.ParseLevel(cfg.LogLevel), cfg.LogPretty)
	appLogger.Info(context.Background(), "Starting datelink server...")
	appLogger.Info(context.Background(), "Configuration loaded successfully", log.Fields{
		"http_addr":       cfg.HTTPAddr,
		"storage_backend": cfg.StorageBackend,
		"session_store":   cfg.SessionStore,
		"mongo_db_name":   cfg.MongoDBName,
		"log_level":       cfg.LogLevel,
		"otel_service":    cfg.OtelServiceName,
	})

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName, nil)
	if err != nil {
		appLogger.Fatal(context.Background(), "Failed to initialize TracerProvider", err)
	}

	ctx := context.Background()

	a, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize application", err)
	}

	a.Sessions.Start(ctx)
	if a.Sessions.AttemptResumeSession(ctx) {
		go func() {
			if !a.Sessions.AwaitCorroboration(ctx) {
				appLogger.Warn(ctx, "identity provider did not confirm the resumed session in time")
			}
		}()
	}

	tracker := matches.NewTracker(a.Aggregator, a.Sessions, appLogger)
	tracker.Start(ctx)

	httpServer := server.NewHTTPServer(server.Options{
		Config:   cfg,
		Logger:   appLogger,
		API:      echoapi.NewSessionAPI(a.Sessions, tracker, a.Photos),
		Registry: a.Registry,
		Ready:    a.Ready,
	})

	go func() {
		appLogger.Info(ctx, fmt.Sprintf("HTTP server listening on %s", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(ctx, "Failed to start HTTP server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quit

	appLogger.Info(ctx, fmt.Sprintf("Received signal: %v. Shutting down server...", receivedSignal))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}

	tracker.Close()
	a.Close(shutdownCtx)

	if err := tp.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "TracerProvider shutdown error", err)
	}

	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
}
