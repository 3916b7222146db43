package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldcrm/crm-jobs/internal/model"
)

const (
	defaultMirrorTimeout = 5 * time.Second
	finishTimeout        = 10 * time.Second
)

// SessionRecorder is the durable side of a run: one session row per run.
type SessionRecorder interface {
	CreateSession(ctx context.Context, jobType model.JobType) (*model.Session, error)
	UpdateSessionProgress(ctx context.Context, id string, p model.Progress) error
	UpdateSessionMetrics(ctx context.Context, id string, m model.SessionMetrics) error
	FinishSession(ctx context.Context, id string, f model.SessionFinish) (*model.Session, error)
}

// Runner is the job-type specific body of a run.
type Runner interface {
	Run(ctx context.Context, rc *RunContext) (*Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, rc *RunContext) (*Result, error)

func (f RunnerFunc) Run(ctx context.Context, rc *RunContext) (*Result, error) { return f(ctx, rc) }

// Result is what a runner produced. It survives a persistence failure.
type Result struct {
	Metrics  model.SessionMetrics
	Summary  string
	Artifact any
}

// Outcome describes a finished run.
type Outcome struct {
	JobType   model.JobType
	SessionID string
	Status    model.SessionStatus
	Progress  model.Progress
	Metrics   model.SessionMetrics
	Result    *Result
	Err       error
}

// JobOptions wires a job to retry settings and observers.
type JobOptions struct {
	Retry         RetryConfig
	MirrorTimeout time.Duration
	OnProgress    func(jobType model.JobType, sessionID string, p model.Progress)
	OnFinish      func(o Outcome)
	Logger        zerolog.Logger
}

// Job is one run of a job type. It is created by the Registry, runs detached
// and is never restarted.
type Job struct {
	jobType  model.JobType
	runner   Runner
	sessions SessionRecorder
	opts     JobOptions

	signal   *Signal
	reporter *Reporter
	running  atomic.Bool

	mu        sync.Mutex
	sessionID string
	finished  bool
	outcome   *Outcome

	done   chan struct{}
	logger zerolog.Logger
}

func NewJob(jobType model.JobType, runner Runner, sessions SessionRecorder, opts JobOptions) *Job {
	if opts.MirrorTimeout <= 0 {
		opts.MirrorTimeout = defaultMirrorTimeout
	}
	logger := opts.Logger.With().Str("job_type", string(jobType)).Logger()

	j := &Job{
		jobType:  jobType,
		runner:   runner,
		sessions: sessions,
		opts:     opts,
		signal:   NewSignal(),
		reporter: NewReporter(model.Progress{Percentage: 0, Message: "Initializing..."}, logger),
		done:     make(chan struct{}),
		logger:   logger,
	}
	if opts.OnProgress != nil {
		j.reporter.OnUpdate(func(p model.Progress) {
			opts.OnProgress(jobType, j.SessionID(), p)
		})
	}
	return j
}

func (j *Job) Type() model.JobType { return j.jobType }

// IsRunning is true from the moment the registry accepts the job until its
// terminal session update has been written.
func (j *Job) IsRunning() bool { return j.running.Load() }

// Progress returns the latest snapshot.
func (j *Job) Progress() model.Progress { return j.reporter.Read() }

// SessionID is empty until the session row exists.
func (j *Job) SessionID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sessionID
}

// Done is closed once the run has fully finished.
func (j *Job) Done() <-chan struct{} { return j.done }

// Outcome is nil until the run has finished.
func (j *Job) Outcome() *Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outcome
}

// Cancel requests cooperative cancellation. A cancel accepted here always
// ends the run as cancelled. It returns false when the run already decided
// its terminal state.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finished || !j.running.Load() {
		return false
	}
	j.signal.Cancel()
	j.logger.Info().Str("session_id", j.sessionID).Msg("cancellation requested")
	return true
}

// Run executes the state machine. ctx is the process lifetime, not a request;
// its cancellation is treated like a user cancel.
func (j *Job) Run(ctx context.Context) {
	j.running.Store(true)
	var outcome Outcome
	defer func() {
		j.running.Store(false)
		if j.opts.OnFinish != nil {
			j.opts.OnFinish(outcome)
		}
		close(j.done)
	}()

	sess, err := j.sessions.CreateSession(ctx, j.jobType)
	if err != nil {
		outcome = j.conclude(ctx, nil, &PersistenceError{Err: fmt.Errorf("create session: %w", err)}, nil)
		return
	}

	j.mu.Lock()
	j.sessionID = sess.ID
	j.mu.Unlock()
	logger := j.logger.With().Str("session_id", sess.ID).Logger()
	logger.Info().Msg("job started")

	j.reporter.Start(ctx, func(ctx context.Context, p model.Progress) error {
		return j.sessions.UpdateSessionProgress(ctx, sess.ID, p)
	}, j.opts.MirrorTimeout)

	rc := &RunContext{
		SessionID: sess.ID,
		Signal:    j.signal,
		Retry:     NewExecutor(j.opts.Retry, j.signal, logger),
		Logger:    logger,
		reporter:  j.reporter,
		sessions:  j.sessions,
	}

	result, runErr := j.safeRun(ctx, rc)
	outcome = j.conclude(ctx, result, runErr, rc.lastMetrics())
}

func (j *Job) safeRun(ctx context.Context, rc *RunContext) (result *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return j.runner.Run(ctx, rc)
}

// conclude is the single place that decides the terminal status and writes
// the final session update. recorded holds the last intermediate counters and
// is used when the runner returned no result.
func (j *Job) conclude(ctx context.Context, result *Result, runErr error, recorded *model.SessionMetrics) Outcome {
	j.mu.Lock()
	status := model.SessionStatusCompleted
	switch {
	case j.signal.Cancelled() || IsCancelled(runErr):
		status = model.SessionStatusCancelled
		if !IsCancelled(runErr) {
			runErr = ErrCancelled
		}
	case runErr != nil:
		status = model.SessionStatusFailed
	}
	j.finished = true
	sessionID := j.sessionID
	j.mu.Unlock()

	finish := model.SessionFinish{Status: status}
	switch {
	case result != nil:
		finish.Metrics = result.Metrics
	case recorded != nil:
		finish.Metrics = *recorded
	}

	switch status {
	case model.SessionStatusCompleted:
		summary := "Completed"
		if result != nil && result.Summary != "" {
			summary = result.Summary
		}
		j.reporter.Update(100, summary)
		finish.Message = summary
	case model.SessionStatusCancelled:
		j.reporter.Reset(fmt.Sprintf("Error: %v", runErr))
		finish.Message = fmt.Sprintf("%s was cancelled by user", j.jobType.DisplayName())
		finish.Error = runErr.Error()
	default:
		j.reporter.Reset(fmt.Sprintf("Error: %v", runErr))
		finish.Message = fmt.Sprintf("Error: %v", runErr)
		finish.Error = runErr.Error()
	}
	j.reporter.Close()
	finish.Progress = j.reporter.Read().Percentage

	logger := j.logger.With().Str("session_id", sessionID).Str("status", string(status)).Logger()
	if sessionID != "" {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
		defer cancel()
		if _, err := j.sessions.FinishSession(writeCtx, sessionID, finish); err != nil {
			logger.Error().Err(err).Msg("failed to write terminal session state")
		}
	}

	if runErr != nil && status == model.SessionStatusFailed {
		logger.Error().Err(runErr).Msg("job failed")
	} else {
		logger.Info().Msg("job finished")
	}

	outcome := Outcome{
		JobType:   j.jobType,
		SessionID: sessionID,
		Status:    status,
		Progress:  j.reporter.Read(),
		Metrics:   finish.Metrics,
		Result:    result,
		Err:       runErr,
	}
	j.mu.Lock()
	j.outcome = &outcome
	j.mu.Unlock()
	return outcome
}

// RunContext is handed to a Runner for the duration of one run.
type RunContext struct {
	SessionID string
	Signal    *Signal
	Retry     *Executor
	Logger    zerolog.Logger

	reporter *Reporter
	sessions SessionRecorder

	mu       sync.Mutex
	recorded *model.SessionMetrics
}

// Progress reports a new snapshot.
func (rc *RunContext) Progress(percentage int, message string) {
	rc.reporter.Update(percentage, message)
}

// Checkpoint returns ErrCancelled once the run has been cancelled.
func (rc *RunContext) Checkpoint(ctx context.Context) error {
	return rc.Signal.Check(ctx)
}

// RecordMetrics stores intermediate counters; failures are logged only. The
// last value is kept for the terminal session write.
func (rc *RunContext) RecordMetrics(ctx context.Context, m model.SessionMetrics) {
	rc.mu.Lock()
	rc.recorded = &m
	rc.mu.Unlock()

	if err := rc.sessions.UpdateSessionMetrics(ctx, rc.SessionID, m); err != nil {
		rc.Logger.Warn().Err(err).Msg("failed to record session metrics")
	}
}

func (rc *RunContext) lastMetrics() *model.SessionMetrics {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.recorded
}

// Interpolate maps done/total linearly into the [start, end] band.
func Interpolate(start, end, done, total int) int {
	if total <= 0 {
		return start
	}
	if done > total {
		done = total
	}
	return start + (end-start)*done/total
}
