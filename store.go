package voxflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResultStore persists task outcomes keyed by task id.
// Implementations must be safe for concurrent use. Complete and Fail must
// treat a task already in a terminal state as a no-op, so a duplicate
// delivery cannot overwrite an earlier outcome.
type ResultStore interface {
	// CreatePending records a new task in PENDING state.
	CreatePending(ctx context.Context, id string) error
	// Complete transitions id to SUCCESS with the stage output.
	Complete(ctx context.Context, id, result string, attempts int) error
	// Fail transitions id to FAILURE with a human-readable error.
	Fail(ctx context.Context, id, errMsg string, attempts int) error
	// Get returns the current result, or ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (TaskResult, error)
	// Discard removes a PENDING record after a failed enqueue.
	Discard(ctx context.Context, id string) error
}

const resultKeyPrefix = "voxflow:result:"

// terminalWrite sets the terminal fields only while the task is still
// PENDING. Returns 1 when the write happened, 0 when the task was already
// terminal (or gone, after TTL expiry).
var terminalWrite = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if status ~= "PENDING" then
  return 0
end
redis.call("HSET", KEYS[1],
  "status", ARGV[1],
  "result", ARGV[2],
  "error", ARGV[3],
  "attempts", ARGV[4],
  "updated_at", ARGV[5])
if tonumber(ARGV[6]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[6])
end
return 1
`)

// RedisResultStore keeps one hash per task id in Redis, the same backend the
// broker runs on. Rows expire after TTL so abandoned tasks do not accumulate.
type RedisResultStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisResultStore wraps rdb. A zero ttl disables expiry.
func NewRedisResultStore(rdb *redis.Client, ttl time.Duration) *RedisResultStore {
	return &RedisResultStore{rdb: rdb, ttl: ttl}
}

func resultKey(id string) string { return resultKeyPrefix + id }

func (s *RedisResultStore) CreatePending(ctx context.Context, id string) error {
	key := resultKey(id)
	err := s.rdb.HSet(ctx, key,
		"status", string(StatusPending),
		"attempts", 0,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("create pending %s: %w", id, err)
	}
	if s.ttl > 0 {
		if err := s.rdb.PExpire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("create pending %s: %w", id, err)
		}
	}
	return nil
}

func (s *RedisResultStore) Complete(ctx context.Context, id, result string, attempts int) error {
	return s.terminal(ctx, id, StatusSuccess, result, "", attempts)
}

func (s *RedisResultStore) Fail(ctx context.Context, id, errMsg string, attempts int) error {
	return s.terminal(ctx, id, StatusFailure, "", errMsg, attempts)
}

func (s *RedisResultStore) terminal(ctx context.Context, id string, status TaskStatus, result, errMsg string, attempts int) error {
	_, err := terminalWrite.Run(ctx, s.rdb, []string{resultKey(id)},
		string(status), result, errMsg, attempts,
		time.Now().UTC().Format(time.RFC3339Nano),
		s.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return fmt.Errorf("write %s result %s: %w", status, id, err)
	}
	return nil
}

func (s *RedisResultStore) Get(ctx context.Context, id string) (TaskResult, error) {
	fields, err := s.rdb.HGetAll(ctx, resultKey(id)).Result()
	if err != nil {
		return TaskResult{}, fmt.Errorf("get result %s: %w", id, err)
	}
	if len(fields) == 0 {
		return TaskResult{}, fmt.Errorf("result %s: %w", id, ErrNotFound)
	}
	res := TaskResult{
		ID:     id,
		Status: TaskStatus(fields["status"]),
		Result: fields["result"],
		Error:  fields["error"],
	}
	if v, ok := fields["attempts"]; ok {
		res.Attempts, _ = strconv.Atoi(v)
	}
	if v, ok := fields["updated_at"]; ok {
		res.UpdatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return res, nil
}

func (s *RedisResultStore) Discard(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, resultKey(id)).Err()
}
