package voxflow

import (
	"context"
	"time"
)

// StatusFunc fetches the current result for a task id. Both ResultStore.Get
// and the HTTP status client satisfy this shape.
type StatusFunc func(ctx context.Context, id string) (TaskResult, error)

// Poller repeatedly checks a task's status until it reaches a terminal
// state, sleeping between checks with exponential backoff: InitialWait,
// doubling after every check, clamped at MaxWait.
type Poller struct {
	// InitialWait is the first sleep interval. Defaults to 2s.
	InitialWait time.Duration
	// MaxWait clamps the backoff. Defaults to 10s.
	MaxWait time.Duration
	// MaxPolls caps the number of status checks. Zero polls unboundedly.
	MaxPolls int

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func (p *Poller) initial() time.Duration {
	if p.InitialWait > 0 {
		return p.InitialWait
	}
	return 2 * time.Second
}

func (p *Poller) max() time.Duration {
	m := p.MaxWait
	if m <= 0 {
		m = 10 * time.Second
	}
	if init := p.initial(); m < init {
		m = init
	}
	return m
}

// PollUntilTerminal returns as soon as get reports SUCCESS or FAILURE. A
// PENDING result triggers a backoff sleep and another check. Returns
// ErrPollLimit once MaxPolls checks all came back PENDING, or the context
// error if ctx ends first. Errors from get (including ErrNotFound) are
// returned immediately.
func (p *Poller) PollUntilTerminal(ctx context.Context, id string, get StatusFunc) (TaskResult, error) {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	wait := p.initial()
	ceil := p.max()
	for polls := 0; ; polls++ {
		res, err := get(ctx, id)
		if err != nil {
			return TaskResult{}, err
		}
		if res.Status.Terminal() {
			return res, nil
		}
		if p.MaxPolls > 0 && polls+1 >= p.MaxPolls {
			return res, ErrPollLimit
		}
		if err := sleep(ctx, wait); err != nil {
			return res, err
		}
		wait *= 2
		if wait > ceil {
			wait = ceil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
