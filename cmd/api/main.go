// The api binary serves the submission, status and audio retrieval
// endpoints. It needs the broker and result backend to be reachable but
// runs no workers itself.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/mohans/voxflow"
	"github.com/mohans/voxflow/audit"
	"github.com/mohans/voxflow/config"
	"github.com/mohans/voxflow/httpapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.LogLevel)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Results.RedisAddr,
		DB:       cfg.Results.RedisDB,
		Password: cfg.Results.Password,
	})
	results := voxflow.NewRedisResultStore(rdb, cfg.Results.TTL)

	submitter := voxflow.NewClient(
		asynq.RedisClientOpt{
			Addr:     cfg.Broker.RedisAddr,
			DB:       cfg.Broker.RedisDB,
			Password: cfg.Broker.Password,
		},
		results,
		voxflow.NewRouter(),
		voxflow.ClientOptions{
			MaxAttempts: cfg.Worker.MaxAttempts,
			TaskTimeout: cfg.Worker.TaskTimeout,
		},
		logger,
	)
	defer submitter.Close()

	audioStore, err := audit.NewDir(cfg.Audit.AudioDir)
	if err != nil {
		logger.Error("open audio dir", "error", err)
		os.Exit(1)
	}

	api := httpapi.NewServer(submitter, results, audioStore, logger)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "error", err)
			os.Exit(1)
		}
	}
}
