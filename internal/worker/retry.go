package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Retry defaults
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Sleeper waits for d. It returns ErrCancelled early if cancel closes or ctx ends.
type Sleeper func(ctx context.Context, d time.Duration, cancel <-chan struct{}) error

// TimerSleeper is the production Sleeper.
func TimerSleeper(ctx context.Context, d time.Duration, cancel <-chan struct{}) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-cancel:
		return ErrCancelled
	case <-ctx.Done():
		return ErrCancelled
	}
}

// Executor runs fallible steps with bounded retries and exponential backoff.
// One executor belongs to one run and shares its cancellation signal.
type Executor struct {
	baseDelay   time.Duration
	maxAttempts int
	signal      *Signal
	sleep       Sleeper
	logger      zerolog.Logger
}

// RetryConfig configures an Executor
type RetryConfig struct {
	BaseDelay   time.Duration
	MaxAttempts int
	Sleep       Sleeper
}

func NewExecutor(cfg RetryConfig, signal *Signal, logger zerolog.Logger) *Executor {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Sleep == nil {
		cfg.Sleep = TimerSleeper
	}
	return &Executor{
		baseDelay:   cfg.BaseDelay,
		maxAttempts: cfg.MaxAttempts,
		signal:      signal,
		sleep:       cfg.Sleep,
		logger:      logger,
	}
}

// Delay returns the backoff before the attempt following the given 1-indexed attempt.
func (e *Executor) Delay(attempt int) time.Duration {
	return e.baseDelay * time.Duration(1<<(attempt-1))
}

// Do runs op under the executor's default attempt budget.
func (e *Executor) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	_, err := RetryN(ctx, e, name, e.maxAttempts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Retry runs op under the executor's default attempt budget and returns its value.
func Retry[T any](ctx context.Context, e *Executor, name string, op func(ctx context.Context) (T, error)) (T, error) {
	return RetryN(ctx, e, name, e.maxAttempts, op)
}

// RetryN attempts op up to maxAttempts times. Cancellation is checked before
// every attempt and ends the loop with ErrCancelled; it is never retried.
// After the last failure the error names the operation and attempt count.
func RetryN[T any](ctx context.Context, e *Executor, name string, maxAttempts int, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if maxAttempts <= 0 {
		maxAttempts = e.maxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := e.signal.Check(ctx); err != nil {
			return zero, err
		}

		e.logger.Debug().Str("op", name).Int("attempt", attempt).Int("max_attempts", maxAttempts).Msg("attempt")
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !IsRetryable(err) {
			return zero, err
		}
		lastErr = err

		e.logger.Warn().Err(err).Str("op", name).Int("attempt", attempt).Msg("attempt failed")
		if attempt == maxAttempts {
			break
		}

		delay := e.Delay(attempt)
		if err := e.sleep(ctx, delay, e.signal.Done()); err != nil {
			return zero, err
		}
	}

	return zero, &RetryError{Op: name, Attempts: maxAttempts, Err: lastErr}
}
