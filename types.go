package voxflow

import (
	"encoding/json"
	"time"
)

// TaskKind identifies one of the three pipeline stages.
type TaskKind string

const (
	KindSTT TaskKind = "stt"
	KindLLM TaskKind = "llm"
	KindTTS TaskKind = "tts"
)

// Kinds lists every stage in pipeline order.
var Kinds = []TaskKind{KindSTT, KindLLM, KindTTS}

// TaskStatus is the lifecycle state of a task as seen by callers.
// SUCCESS and FAILURE are terminal: once reached, the result never changes.
type TaskStatus string

const (
	StatusPending TaskStatus = "PENDING"
	StatusSuccess TaskStatus = "SUCCESS"
	StatusFailure TaskStatus = "FAILURE"
)

// Terminal reports whether s is SUCCESS or FAILURE.
func (s TaskStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// TaskEnvelope is the message carried through the broker for one unit of work.
// ID is assigned at submission and never changes. RoutingKey is derived from
// Kind by the Router. Attempt is 0 on first delivery; the broker's retry count
// is authoritative on redelivery.
type TaskEnvelope struct {
	ID         string          `json:"id"`
	Kind       TaskKind        `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	RoutingKey string          `json:"routing_key"`
	CreatedAt  time.Time       `json:"created_at"`
	Attempt    int             `json:"attempt"`
}

// TaskResult is the persisted outcome of a task. Result holds the stage
// output on SUCCESS (transcript, answer, or audio filename); Error holds a
// human-readable message on FAILURE. Attempts counts retries that were
// needed before the terminal state (0 = succeeded first try).
type TaskResult struct {
	ID        string     `json:"id"`
	Status    TaskStatus `json:"status"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	Attempts  int        `json:"attempts"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// AudioInput is the payload for an STT task.
type AudioInput struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
}

// TextInput is the payload for LLM and TTS tasks.
type TextInput struct {
	Text string `json:"text"`
}
