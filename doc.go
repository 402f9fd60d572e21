// Package voxflow is the task orchestration layer for a three-stage voice
// pipeline (speech-to-text, language model, text-to-speech) built on asynq.
//
// Each stage is served by an independent worker pool bound to its own queue.
// A Client accepts a stage request, records a PENDING result and enqueues a
// task envelope; the matching pool executes the stage, retries transient
// failures up to a bounded attempt budget, and writes the terminal outcome to
// a Redis-backed ResultStore. Callers poll the store (directly or over HTTP)
// with exponential backoff until the task reaches SUCCESS or FAILURE.
//
// Delivery is at-least-once: stages must be idempotent, and terminal result
// writes are compare-and-swap guarded so a redelivered completion is a no-op.
package voxflow
