package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-history-service/internal/aggregate"
)

// summaryCall is one in-flight Describe computation that several callers may wait for.
type summaryCall struct {
	done chan struct{}
	val  []aggregate.FieldSummary
	err  error
}

// summaryCoalescer collapses concurrent Describe computations for the same memo key.
// Keys embed the store version, so every waiter is asking for the same answer.
type summaryCoalescer struct {
	mu      sync.Mutex
	calls   map[string]*summaryCall
	timeout time.Duration
}

func newSummaryCoalescer(timeout time.Duration) *summaryCoalescer {
	return &summaryCoalescer{
		calls:   make(map[string]*summaryCall),
		timeout: timeout,
	}
}

// Do runs fn once per key among concurrent callers. shared reports whether this
// caller joined a computation started by another. A waiter gives up when ctx ends
// or the coalesce timeout elapses; the computation itself keeps running.
func (c *summaryCoalescer) Do(ctx context.Context, key string, fn func() ([]aggregate.FieldSummary, error)) (val []aggregate.FieldSummary, shared bool, err error) {
	c.mu.Lock()
	if call, ok := c.calls[key]; ok {
		c.mu.Unlock()
		val, err = c.wait(ctx, call)
		return val, true, err
	}
	call := &summaryCall{done: make(chan struct{})}
	c.calls[key] = call
	c.mu.Unlock()

	go func() {
		call.val, call.err = fn()
		c.mu.Lock()
		delete(c.calls, key)
		c.mu.Unlock()
		close(call.done)
	}()

	val, err = c.wait(ctx, call)
	return val, false, err
}

func (c *summaryCoalescer) wait(ctx context.Context, call *summaryCall) ([]aggregate.FieldSummary, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	select {
	case <-call.done:
		if call.err != nil {
			return nil, call.err
		}
		return append([]aggregate.FieldSummary(nil), call.val...), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// inFlight returns the number of keys currently being computed.
func (c *summaryCoalescer) inFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}
