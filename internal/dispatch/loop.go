// Package dispatch provides the controlling loop that owns all device state.
//
// Background jobs never mutate shared state directly. They Post closures to
// the Loop, which runs them one at a time in FIFO order on a single goroutine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"camwatch/internal/logging"
)

// ErrStopped is returned when work is submitted to a loop that has exited.
var ErrStopped = errors.New("dispatch loop stopped")

// Loop is a single-consumer FIFO of closures.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped chan struct{}
	closed  bool
	logger  *slog.Logger
}

// New constructs an idle loop. Call Run to start consuming.
func New(logger *slog.Logger) *Loop {
	return &Loop{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		logger:  logging.NewComponentLogger(logger, "dispatch"),
	}
}

// Post enqueues fn. It never runs fn inline, so it is safe to call from inside
// another loop closure. It returns false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return true
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call posts fn and waits for it to finish. It must not be called from inside
// a loop closure. fn is not queued when ctx is already done.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Run consumes closures until ctx is cancelled. Closures still queued at that
// point are discarded.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.closed = true
		dropped := len(l.queue)
		l.queue = nil
		l.mu.Unlock()
		close(l.stopped)
		if dropped > 0 {
			l.logger.Debug("dispatch loop stopped with pending work", logging.Int("dropped", dropped))
		}
	}()

	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			if ctx.Err() != nil {
				return nil
			}
			l.invoke(fn)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

// Done is closed after Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(l.logger, "dispatch closure panicked", "dispatch_panic",
				logging.String("panic", fmt.Sprint(r)),
				logging.String(logging.FieldImpact, "one state update was lost"),
			)
		}
	}()
	fn()
}
