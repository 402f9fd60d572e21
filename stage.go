package voxflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Transcriber converts audio bytes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Responder answers a user question.
type Responder interface {
	Respond(ctx context.Context, question string) (string, error)
}

// Synthesizer renders text to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Recorder persists per-stage audit rows. Recorder failures never fail a
// task: the user-facing result takes priority over the audit trail.
type Recorder interface {
	SaveTranscription(ctx context.Context, filename, transcript string, audio []byte) error
	SaveExchange(ctx context.Context, question, answer string) error
	SaveSpeech(ctx context.Context, text, filename string, audio []byte) error
}

// AudioStore holds synthesized audio blobs keyed by filename for later
// retrieval.
type AudioStore interface {
	Save(ctx context.Context, filename string, data []byte) error
	Open(ctx context.Context, filename string) ([]byte, error)
}

// StageSet binds the three stage engines to their audit side effects.
// Each run function takes a decoded envelope and returns the stage output
// recorded as the task result.
type StageSet struct {
	Transcriber Transcriber
	Responder   Responder
	Synthesizer Synthesizer
	Recorder    Recorder
	Audio       AudioStore
	Logger      *slog.Logger
}

func (s *StageSet) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Run executes the stage for env.Kind and returns its output.
func (s *StageSet) Run(ctx context.Context, env TaskEnvelope) (string, error) {
	switch env.Kind {
	case KindSTT:
		return s.runSTT(ctx, env)
	case KindLLM:
		return s.runLLM(ctx, env)
	case KindTTS:
		return s.runTTS(ctx, env)
	default:
		return "", &UnknownKindError{Kind: env.Kind}
	}
}

func (s *StageSet) runSTT(ctx context.Context, env TaskEnvelope) (string, error) {
	var in AudioInput
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		return "", fmt.Errorf("decode stt payload: %w", err)
	}
	if len(in.Data) == 0 {
		return "", errors.New("empty audio payload")
	}
	transcript, err := s.Transcriber.Transcribe(ctx, in.Data)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if strings.TrimSpace(transcript) == "" {
		return "", errors.New("transcriber returned empty transcript")
	}
	s.audit(ctx, env.ID, "transcription", func(ctx context.Context) error {
		return s.Recorder.SaveTranscription(ctx, in.Filename, transcript, in.Data)
	})
	return transcript, nil
}

func (s *StageSet) runLLM(ctx context.Context, env TaskEnvelope) (string, error) {
	var in TextInput
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		return "", fmt.Errorf("decode llm payload: %w", err)
	}
	if strings.TrimSpace(in.Text) == "" {
		return "", errors.New("empty question")
	}
	answer, err := s.Responder.Respond(ctx, in.Text)
	if err != nil {
		return "", fmt.Errorf("respond: %w", err)
	}
	if strings.TrimSpace(answer) == "" {
		return "", errors.New("model returned empty answer")
	}
	s.audit(ctx, env.ID, "exchange", func(ctx context.Context) error {
		return s.Recorder.SaveExchange(ctx, in.Text, answer)
	})
	return answer, nil
}

func (s *StageSet) runTTS(ctx context.Context, env TaskEnvelope) (string, error) {
	var in TextInput
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		return "", fmt.Errorf("decode tts payload: %w", err)
	}
	if strings.TrimSpace(in.Text) == "" {
		return "", errors.New("empty text")
	}
	audio, err := s.Synthesizer.Synthesize(ctx, in.Text)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	if len(audio) == 0 {
		return "", errors.New("synthesizer returned no audio")
	}
	filename := speechFilename(time.Now().UTC())
	// The blob is the deliverable: a caller retrieves it by the filename in
	// the task result, so a failed save fails the attempt.
	if err := s.Audio.Save(ctx, filename, audio); err != nil {
		return "", fmt.Errorf("store audio %s: %w", filename, err)
	}
	s.audit(ctx, env.ID, "speech", func(ctx context.Context) error {
		return s.Recorder.SaveSpeech(ctx, in.Text, filename, audio)
	})
	return filename, nil
}

// audit runs a best-effort persistence write. Errors are logged and dropped.
func (s *StageSet) audit(ctx context.Context, taskID, what string, fn func(context.Context) error) {
	if s.Recorder == nil {
		return
	}
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		s.logger().Warn("audit write failed", "task_id", taskID, "record", what, "error", err)
	}
}

func speechFilename(t time.Time) string {
	return fmt.Sprintf("audio_%s_%s.mp3", t.Format("2006-01-02_15-04-05"), uuid.NewString()[:8])
}
