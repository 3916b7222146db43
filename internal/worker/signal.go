package worker

import (
	"context"
	"sync"
	"sync/atomic"
)

// Signal is the cooperative cancellation flag of one run. Cancel never
// interrupts an in-flight call; it is observed at checkpoints and wakes any
// pending backoff sleep.
type Signal struct {
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Cancel sets the flag. It returns false if the signal was already cancelled.
func (s *Signal) Cancel() bool {
	first := false
	s.once.Do(func() {
		s.cancelled.Store(true)
		close(s.done)
		first = true
	})
	return first
}

// Cancelled reports whether Cancel has been called.
func (s *Signal) Cancelled() bool {
	return s.cancelled.Load()
}

// Done is closed on Cancel.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Check is a checkpoint: it returns ErrCancelled if the run was cancelled or
// the process is shutting down.
func (s *Signal) Check(ctx context.Context) error {
	if s.Cancelled() {
		return ErrCancelled
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}
