// The worker binary runs the three stage pools. Audit rows land in sqlite
// by default or postgres when VOXFLOW_AUDIT_DRIVER=pgx.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/mohans/voxflow"
	"github.com/mohans/voxflow/audit"
	"github.com/mohans/voxflow/config"
	"github.com/mohans/voxflow/engines"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.LogLevel)

	db, err := sql.Open(cfg.Audit.Driver, cfg.Audit.DSN)
	if err != nil {
		logger.Error("open audit db", "driver", cfg.Audit.Driver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	recorder := audit.NewSQLRecorder(db, cfg.Audit.Driver)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = recorder.Migrate(ctx)
	cancel()
	if err != nil {
		logger.Error("migrate audit schema", "error", err)
		os.Exit(1)
	}

	audioStore, err := audit.NewDir(cfg.Audit.AudioDir)
	if err != nil {
		logger.Error("open audio dir", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Results.RedisAddr,
		DB:       cfg.Results.RedisDB,
		Password: cfg.Results.Password,
	})
	results := voxflow.NewRedisResultStore(rdb, cfg.Results.TTL)

	stages := &voxflow.StageSet{
		Transcriber: &engines.HTTPTranscriber{URL: cfg.Engines.STTURL},
		Responder:   &engines.HTTPResponder{URL: cfg.Engines.LLMURL},
		Synthesizer: &engines.HTTPSynthesizer{URL: cfg.Engines.TTSURL},
		Recorder:    recorder,
		Audio:       audioStore,
		Logger:      logger,
	}

	processor := voxflow.NewProcessor(
		asynq.RedisClientOpt{
			Addr:     cfg.Broker.RedisAddr,
			DB:       cfg.Broker.RedisDB,
			Password: cfg.Broker.Password,
		},
		results,
		voxflow.NewRouter(),
		stages,
		voxflow.ProcessorConfig{
			Concurrency: map[voxflow.TaskKind]int{
				voxflow.KindSTT: cfg.Worker.STTConcurrency,
				voxflow.KindLLM: cfg.Worker.LLMConcurrency,
				voxflow.KindTTS: cfg.Worker.TTSConcurrency,
			},
			RetryInitialWait: cfg.Worker.RetryInitialWait,
			RetryMaxWait:     cfg.Worker.RetryMaxWait,
			TaskTimeout:      cfg.Worker.TaskTimeout,
		},
		logger,
	)
	if err := processor.Start(); err != nil {
		logger.Error("start worker pools", "error", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info("shutting down", "signal", sig.String())
	processor.Shutdown()
}
