package voxflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// ProcessorConfig tunes the per-stage worker pools.
type ProcessorConfig struct {
	// Concurrency is the worker count per stage. Missing or non-positive
	// entries default to 4.
	Concurrency map[TaskKind]int
	// RetryInitialWait is the delay before the first retry; it doubles on
	// each subsequent retry up to RetryMaxWait.
	RetryInitialWait time.Duration
	RetryMaxWait     time.Duration
	// TaskTimeout bounds a single stage attempt. A timed-out attempt counts
	// against the retry budget like any other stage error. Zero disables
	// the processor-side deadline.
	TaskTimeout time.Duration
	// DelayedCheckInterval is how often each pool scans for due retries.
	// Zero keeps the asynq default (5s).
	DelayedCheckInterval time.Duration
}

const defaultStageConcurrency = 4

// Processor runs one independent worker pool per stage, each bound to
// exactly one queue. Workers decode the envelope, execute the stage and
// write the outcome to the ResultStore; a failed attempt is re-queued by the
// broker until the task's retry budget is exhausted, at which point the
// FAILURE is recorded and the envelope dropped.
type Processor struct {
	servers map[TaskKind]*asynq.Server
	results ResultStore
	router  *Router
	stages  *StageSet
	cfg     ProcessorConfig
	logger  *slog.Logger
}

func NewProcessor(redisOpt asynq.RedisClientOpt, results ResultStore, router *Router, stages *StageSet, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		servers: make(map[TaskKind]*asynq.Server, len(Kinds)),
		results: results,
		router:  router,
		stages:  stages,
		cfg:     cfg,
		logger:  logger,
	}
	for _, kind := range Kinds {
		queue, err := router.Route(kind)
		if err != nil {
			// The built-in router is total over Kinds.
			continue
		}
		conc := cfg.Concurrency[kind]
		if conc <= 0 {
			conc = defaultStageConcurrency
		}
		p.servers[kind] = asynq.NewServer(redisOpt, asynq.Config{
			Concurrency:              conc,
			Queues:                   map[string]int{queue: 1},
			RetryDelayFunc:           p.retryDelay,
			DelayedTaskCheckInterval: cfg.DelayedCheckInterval,
		})
	}
	return p
}

// Start launches every stage pool. Workers run until Shutdown.
func (p *Processor) Start() error {
	for kind, srv := range p.servers {
		taskType, err := p.router.TaskType(kind)
		if err != nil {
			return err
		}
		mux := asynq.NewServeMux()
		mux.HandleFunc(taskType, p.handler(kind))
		if err := srv.Start(mux); err != nil {
			return fmt.Errorf("start %s pool: %w", kind, err)
		}
		p.logger.Info("stage pool started", "kind", kind, "task_type", taskType)
	}
	return nil
}

// Shutdown stops all pools, waiting for in-flight tasks.
func (p *Processor) Shutdown() {
	for _, srv := range p.servers {
		srv.Shutdown()
	}
}

// retryDelay doubles from the configured initial wait and clamps at the max.
func (p *Processor) retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	initial := p.cfg.RetryInitialWait
	if initial <= 0 {
		initial = 2 * time.Second
	}
	ceil := p.cfg.RetryMaxWait
	if ceil < initial {
		ceil = initial
	}
	d := initial
	for i := 0; i < n && d < ceil; i++ {
		d *= 2
	}
	if d > ceil {
		d = ceil
	}
	return d
}

func (p *Processor) handler(kind TaskKind) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var env TaskEnvelope
		if err := json.Unmarshal(t.Payload(), &env); err != nil {
			// A malformed envelope can never succeed; fail it now.
			if id, ok := asynq.GetTaskID(ctx); ok {
				p.writeFailure(ctx, kind, id, fmt.Sprintf("malformed envelope: %v", err), 0)
			}
			return fmt.Errorf("decode envelope: %v: %w", err, asynq.SkipRetry)
		}
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		env.Attempt = retried

		runCtx := ctx
		if p.cfg.TaskTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
			defer cancel()
		}
		start := time.Now()
		out, err := p.stages.Run(runCtx, env)
		observeStage(kind, len(env.Payload), start)

		if err != nil {
			if errors.Is(err, asynq.SkipRetry) || retried >= maxRetry {
				p.writeFailure(ctx, kind, env.ID, err.Error(), retried)
			} else {
				stageRetries.WithLabelValues(string(kind)).Inc()
				p.logger.Warn("stage attempt failed, re-queueing",
					"task_id", env.ID, "kind", kind, "attempt", retried, "error", err)
			}
			return fmt.Errorf("%s attempt %d: %w", kind, retried, err)
		}

		// The attempt deadline must not be able to lose a finished result.
		if werr := p.results.Complete(context.WithoutCancel(ctx), env.ID, out, retried); werr != nil {
			p.logger.Error("record success", "task_id", env.ID, "kind", kind, "error", werr)
			return fmt.Errorf("record %s result: %w", kind, werr)
		}
		p.logger.Info("task completed", "task_id", env.ID, "kind", kind, "attempts", retried)
		return nil
	}
}

func (p *Processor) writeFailure(ctx context.Context, kind TaskKind, id, msg string, attempts int) {
	stageFailures.WithLabelValues(string(kind)).Inc()
	if err := p.results.Fail(context.WithoutCancel(ctx), id, msg, attempts); err != nil {
		p.logger.Error("record failure", "task_id", id, "kind", kind, "error", err)
		return
	}
	p.logger.Error("task failed permanently",
		"task_id", id, "kind", kind, "attempts", attempts, "error", msg)
}
