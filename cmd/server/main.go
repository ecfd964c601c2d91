package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/danqzq/specmarket/internal/auth"
	"github.com/danqzq/specmarket/internal/cache"
	"github.com/danqzq/specmarket/internal/config"
	"github.com/danqzq/specmarket/internal/docstore"
	"github.com/danqzq/specmarket/internal/handlers"
	"github.com/danqzq/specmarket/internal/repository"
	"github.com/danqzq/specmarket/internal/router"
)

const shutdownTimeout = 10 * time.Second

func main() {
	godotenv.Load()
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	store := docstore.Connect(ctx, cfg, logger)
	logger.Info("storage backend selected", zap.String("backend", store.Backend))

	repo := repository.New(ctx, cfg.SeedDataPath, store, logger)
	respCache := cache.New(cfg.RedisURL, logger)
	authSvc := auth.NewService(store.Users, []byte(cfg.JWTKey))

	h := handlers.NewHandler(repo, store, authSvc, respCache, cfg, logger)
	r := router.New(h, authSvc, logger, cfg.CORSOrigins, cfg.StaticDir)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("specmarket server starting",
			zap.String("port", cfg.Port),
			zap.String("baseUrl", cfg.BaseURL),
		)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
		}
	}
}
