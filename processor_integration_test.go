package voxflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// flakyResponder fails the first N attempts, then answers.
type flakyResponder struct {
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyResponder) Respond(_ context.Context, question string) (string, error) {
	n := f.calls.Add(1)
	if n <= f.failures.Load() {
		return "", errors.New("model overloaded")
	}
	return "answer to: " + question, nil
}

func pollUntil(t *testing.T, timeout time.Duration, f func() (bool, error)) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		ok, err := f()
		if err != nil {
			t.Fatalf("pollUntil: %v", err)
		}
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("pollUntil: timeout after %v", timeout)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

type integrationEnv struct {
	client    *Client
	store     *RedisResultStore
	processor *Processor
	responder *flakyResponder
}

func startIntegration(t *testing.T, maxAttempts int) *integrationEnv {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := NewRedisResultStore(rdb, time.Hour)
	router := NewRouter()
	redisOpt := asynq.RedisClientOpt{Addr: s.Addr()}

	responder := &flakyResponder{}
	stages := &StageSet{
		Transcriber: &fakeEngines{transcript: "transcribed speech"},
		Responder:   responder,
		Synthesizer: &fakeEngines{audio: []byte("mp3bytes")},
		Recorder:    &fakeRecorder{},
		Audio:       newFakeAudioStore(),
	}

	processor := NewProcessor(redisOpt, store, router, stages, ProcessorConfig{
		Concurrency:          map[TaskKind]int{KindSTT: 1, KindLLM: 1, KindTTS: 1},
		RetryInitialWait:     10 * time.Millisecond,
		RetryMaxWait:         20 * time.Millisecond,
		TaskTimeout:          5 * time.Second,
		DelayedCheckInterval: 50 * time.Millisecond,
	}, nil)
	if err := processor.Start(); err != nil {
		t.Fatalf("processor.Start: %v", err)
	}
	t.Cleanup(processor.Shutdown)

	client := NewClient(redisOpt, store, router, ClientOptions{
		MaxAttempts: maxAttempts,
		TaskTimeout: 5 * time.Second,
	}, nil)
	t.Cleanup(func() { client.Close() })

	return &integrationEnv{client: client, store: store, processor: processor, responder: responder}
}

func TestIntegration_SuccessFirstAttempt(t *testing.T) {
	env := startIntegration(t, 3)
	ctx := context.Background()

	id, err := env.client.SubmitLLM(ctx, "what is Go?")
	if err != nil {
		t.Fatalf("SubmitLLM: %v", err)
	}

	res, err := env.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get right after submit: %v", err)
	}
	if res.Status != StatusPending {
		t.Fatalf("status right after submit = %s, want PENDING", res.Status)
	}

	pollUntil(t, 5*time.Second, func() (bool, error) {
		res, err = env.store.Get(ctx, id)
		return err == nil && res.Status.Terminal(), err
	})
	if res.Status != StatusSuccess {
		t.Fatalf("status = %s (error %q), want SUCCESS", res.Status, res.Error)
	}
	if res.Result != "answer to: what is Go?" {
		t.Fatalf("result = %q", res.Result)
	}
	if res.Attempts != 0 {
		t.Fatalf("attempts = %d, want 0", res.Attempts)
	}
}

func TestIntegration_RetryThenSuccess(t *testing.T) {
	env := startIntegration(t, 5)
	env.responder.failures.Store(2)
	ctx := context.Background()

	id, err := env.client.SubmitLLM(ctx, "flaky question")
	if err != nil {
		t.Fatalf("SubmitLLM: %v", err)
	}

	var res TaskResult
	pollUntil(t, 15*time.Second, func() (bool, error) {
		res, err = env.store.Get(ctx, id)
		return err == nil && res.Status.Terminal(), err
	})
	if res.Status != StatusSuccess {
		t.Fatalf("status = %s (error %q), want SUCCESS after retries", res.Status, res.Error)
	}
	if res.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2 (failed twice, succeeded third)", res.Attempts)
	}
	if got := env.responder.calls.Load(); got != 3 {
		t.Fatalf("responder calls = %d, want 3", got)
	}
}

func TestIntegration_ExhaustedRetriesRecordFailure(t *testing.T) {
	env := startIntegration(t, 3)
	env.responder.failures.Store(100)
	ctx := context.Background()

	id, err := env.client.SubmitLLM(ctx, "doomed question")
	if err != nil {
		t.Fatalf("SubmitLLM: %v", err)
	}

	var res TaskResult
	pollUntil(t, 15*time.Second, func() (bool, error) {
		res, err = env.store.Get(ctx, id)
		return err == nil && res.Status.Terminal(), err
	})
	if res.Status != StatusFailure {
		t.Fatalf("status = %s, want FAILURE", res.Status)
	}
	if res.Error == "" {
		t.Fatal("FAILURE must carry a non-empty error string")
	}
	if got := env.responder.calls.Load(); got != 3 {
		t.Fatalf("responder calls = %d, want 3 (attempt budget)", got)
	}
}

func TestIntegration_FullPipelineStages(t *testing.T) {
	env := startIntegration(t, 3)
	ctx := context.Background()

	sttID, err := env.client.SubmitSTT(ctx, "question.wav", []byte("RIFFwavbytes"))
	if err != nil {
		t.Fatalf("SubmitSTT: %v", err)
	}
	var res TaskResult
	pollUntil(t, 5*time.Second, func() (bool, error) {
		res, err = env.store.Get(ctx, sttID)
		return err == nil && res.Status.Terminal(), err
	})
	if res.Status != StatusSuccess || res.Result == "" {
		t.Fatalf("stt result = %+v", res)
	}

	// Feed the transcript forward, then the answer, the way a caller does.
	llmID, err := env.client.SubmitLLM(ctx, res.Result)
	if err != nil {
		t.Fatalf("SubmitLLM: %v", err)
	}
	pollUntil(t, 5*time.Second, func() (bool, error) {
		res, err = env.store.Get(ctx, llmID)
		return err == nil && res.Status.Terminal(), err
	})
	if res.Status != StatusSuccess || res.Result == "" {
		t.Fatalf("llm result = %+v", res)
	}

	ttsID, err := env.client.SubmitTTS(ctx, res.Result)
	if err != nil {
		t.Fatalf("SubmitTTS: %v", err)
	}
	pollUntil(t, 5*time.Second, func() (bool, error) {
		res, err = env.store.Get(ctx, ttsID)
		return err == nil && res.Status.Terminal(), err
	})
	if res.Status != StatusSuccess || res.Result == "" {
		t.Fatalf("tts result = %+v", res)
	}
}
