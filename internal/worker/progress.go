package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldcrm/crm-jobs/internal/model"
)

// ProgressMirror persists a snapshot into the run's session record.
type ProgressMirror func(ctx context.Context, p model.Progress) error

// Reporter holds the latest progress snapshot of a run. Reads never block on
// I/O. Updates are mirrored into the session by a single background
// goroutine that always writes the newest snapshot and skips stale ones.
type Reporter struct {
	mu        sync.RWMutex
	current   model.Progress
	dirty     bool
	listeners []func(model.Progress)

	wake      chan struct{}
	stop      chan struct{}
	stopped   chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	started   bool

	logger zerolog.Logger
}

func NewReporter(initial model.Progress, logger zerolog.Logger) *Reporter {
	return &Reporter{
		current: initial,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

// OnUpdate registers a listener called synchronously after every change.
// Listeners must not block.
func (r *Reporter) OnUpdate(fn func(model.Progress)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Start launches the mirror loop. Mirror failures are logged and dropped.
func (r *Reporter) Start(ctx context.Context, mirror ProgressMirror, timeout time.Duration) {
	r.startOnce.Do(func() {
		r.mu.Lock()
		r.started = true
		r.mu.Unlock()

		ctx = context.WithoutCancel(ctx)
		go r.loop(ctx, mirror, timeout)
	})
}

func (r *Reporter) loop(ctx context.Context, mirror ProgressMirror, timeout time.Duration) {
	defer close(r.stopped)
	for {
		select {
		case <-r.wake:
			r.flush(ctx, mirror, timeout)
		case <-r.stop:
			r.flush(ctx, mirror, timeout)
			return
		}
	}
}

func (r *Reporter) flush(ctx context.Context, mirror ProgressMirror, timeout time.Duration) {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return
	}
	p := r.current
	r.dirty = false
	r.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := mirror(ctx, p); err != nil {
		r.logger.Warn().Err(err).Int("percentage", p.Percentage).Msg("failed to mirror progress")
	}
}

// Update overwrites the snapshot. The percentage is clamped to 0..100 and
// never moves backward; use Reset for the failure path.
func (r *Reporter) Update(percentage int, message string) {
	percentage = max(0, min(100, percentage))

	r.mu.Lock()
	if percentage < r.current.Percentage {
		percentage = r.current.Percentage
	}
	r.set(model.Progress{Percentage: percentage, Message: message})
}

// Reset drops the percentage to 0, used when a run fails or is cancelled.
func (r *Reporter) Reset(message string) {
	r.mu.Lock()
	r.set(model.Progress{Percentage: 0, Message: message})
}

// set stores p and notifies; r.mu must be held and is released.
func (r *Reporter) set(p model.Progress) {
	r.current = p
	r.dirty = true
	listeners := r.listeners
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}

	for _, fn := range listeners {
		fn(p)
	}
}

// Read returns the latest snapshot.
func (r *Reporter) Read() model.Progress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Close flushes the newest pending snapshot and stops the mirror loop.
func (r *Reporter) Close() {
	r.closeOnce.Do(func() {
		r.mu.RLock()
		started := r.started
		r.mu.RUnlock()

		close(r.stop)
		if started {
			<-r.stopped
		}
	})
}
