package voxflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// ClientOptions tune the retry and timeout options attached to every
// enqueued task.
type ClientOptions struct {
	// MaxAttempts is the total execution budget per task (first attempt
	// plus retries). Values below 1 fall back to 1.
	MaxAttempts int
	// TaskTimeout bounds a single attempt. Zero means no deadline.
	TaskTimeout time.Duration
}

// Client is the task submission service. Submit validates the payload,
// records a PENDING result, enqueues the envelope on the queue the Router
// selects and returns the new task id without waiting for execution.
type Client struct {
	client  *asynq.Client
	results ResultStore
	router  *Router
	opts    ClientOptions
	logger  *slog.Logger
}

func NewClient(redisOpt asynq.RedisClientOpt, results ResultStore, router *Router, opts ClientOptions, logger *slog.Logger) *Client {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:  asynq.NewClient(redisOpt),
		results: results,
		router:  router,
		opts:    opts,
		logger:  logger,
	}
}

// SubmitSTT enqueues a transcription task for the given audio bytes.
func (c *Client) SubmitSTT(ctx context.Context, filename string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", &ValidationError{Kind: KindSTT, Reason: "empty audio"}
	}
	payload, err := json.Marshal(AudioInput{Filename: filename, Data: audio})
	if err != nil {
		return "", err
	}
	return c.Submit(ctx, KindSTT, payload)
}

// SubmitLLM enqueues a language-model query.
func (c *Client) SubmitLLM(ctx context.Context, text string) (string, error) {
	return c.submitText(ctx, KindLLM, text)
}

// SubmitTTS enqueues a speech-synthesis task.
func (c *Client) SubmitTTS(ctx context.Context, text string) (string, error) {
	return c.submitText(ctx, KindTTS, text)
}

func (c *Client) submitText(ctx context.Context, kind TaskKind, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", &ValidationError{Kind: kind, Reason: "empty text"}
	}
	payload, err := json.Marshal(TextInput{Text: text})
	if err != nil {
		return "", err
	}
	return c.Submit(ctx, kind, payload)
}

// Submit enqueues a pre-validated payload for kind and returns the task id.
// On a broker failure the PENDING record is discarded and no id is issued;
// the caller must retry submission itself. Submission is never auto-retried
// here, so an outage cannot be masked by duplicate task ids.
func (c *Client) Submit(ctx context.Context, kind TaskKind, payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "", &ValidationError{Kind: kind, Reason: "empty payload"}
	}
	queue, err := c.router.Route(kind)
	if err != nil {
		return "", err
	}
	taskType, err := c.router.TaskType(kind)
	if err != nil {
		return "", err
	}

	env := TaskEnvelope{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		RoutingKey: queue,
		CreatedAt:  time.Now().UTC(),
		Attempt:    0,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return "", err
	}

	// The PENDING row must exist before the envelope is visible to a
	// worker, or a fast completion would find nothing to transition.
	if err := c.results.CreatePending(ctx, env.ID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	opts := []asynq.Option{
		asynq.TaskID(env.ID),
		asynq.Queue(queue),
		asynq.MaxRetry(c.opts.MaxAttempts - 1),
	}
	if c.opts.TaskTimeout > 0 {
		opts = append(opts, asynq.Timeout(c.opts.TaskTimeout))
	}
	if _, err := c.client.EnqueueContext(ctx, asynq.NewTask(taskType, body), opts...); err != nil {
		if derr := c.results.Discard(context.WithoutCancel(ctx), env.ID); derr != nil {
			c.logger.Warn("discard pending result after enqueue failure",
				"task_id", env.ID, "error", derr)
		}
		return "", fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	c.logger.Info("task submitted", "task_id", env.ID, "kind", kind, "queue", queue)
	return env.ID, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
