package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glekoz/chipdash/config"
	"github.com/glekoz/chipdash/internal/client"
	"github.com/glekoz/chipdash/internal/dashboard"
	"github.com/glekoz/chipdash/internal/web"
	"github.com/glekoz/chipdash/pkg/logger"
	"github.com/joho/godotenv"
)

func main() {
	// optional, real deployments set the environment directly
	_ = godotenv.Load()
	cfg, err := config.NewDashboardConfig()
	if err != nil {
		log.Fatal(err)
	}
	logger := logger.New(os.Stdout, nil)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("unknown timezone", slog.String("timezone", cfg.Timezone), slog.String("error", err.Error()))
		os.Exit(1)
	}

	httpClient := &http.Client{Timeout: time.Duration(cfg.Remote.HTTPTimeoutSeconds) * time.Second}
	api := client.New(httpClient, cfg.Remote.Endpoints(), logger)
	reconciler := dashboard.New(api, logger)

	if cfg.LoadOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), httpClient.Timeout)
		if _, err := reconciler.LoadAll(ctx); err != nil {
			// the dashboard still starts; POST /api/v1/refresh retries
			logger.Warn("initial load failed", slog.String("error", err.Error()))
		}
		cancel()
	}

	handler := web.NewHandler(reconciler, loc, logger)
	server := web.NewServer(handler)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", slog.String("error", err.Error()))
		}
	}()

	logger.Info(fmt.Sprintf("starting dashboard on :%s", cfg.Server.Port))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("server stopped")
}
