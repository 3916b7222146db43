package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fieldcrm/crm-jobs/internal/model"
)

// Registry holds at most one live job per job type.
type Registry struct {
	mu     sync.Mutex
	jobs   map[model.JobType]*Job
	wg     sync.WaitGroup
	logger zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		jobs:   make(map[model.JobType]*Job),
		logger: logger,
	}
}

// TryStart builds and launches a new job unless one of the same type is
// running. The check, the build and the swap of the stored reference happen
// under one lock, so concurrent callers see exactly one winner. The job runs
// detached on ctx.
func (r *Registry) TryStart(ctx context.Context, jobType model.JobType, build func() *Job) (*Job, error) {
	r.mu.Lock()
	if cur := r.jobs[jobType]; cur != nil && cur.IsRunning() {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}

	job := build()
	job.running.Store(true)
	r.jobs[jobType] = job
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Info().Str("job_type", string(jobType)).Msg("job accepted")
	go func() {
		defer r.wg.Done()
		job.Run(ctx)
	}()
	return job, nil
}

// Current returns the last started job of a type, running or not.
func (r *Registry) Current(jobType model.JobType) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[jobType]
}

// IsRunning reports whether a job of the type is live.
func (r *Registry) IsRunning(jobType model.JobType) bool {
	job := r.Current(jobType)
	return job != nil && job.IsRunning()
}

// Snapshot returns whether a job is running and its latest progress. With no
// job of that type it reports model.NotRunning.
func (r *Registry) Snapshot(jobType model.JobType) (running bool, sessionID string, p model.Progress) {
	job := r.Current(jobType)
	if job == nil {
		return false, "", model.NotRunning
	}
	return job.IsRunning(), job.SessionID(), job.Progress()
}

// Cancel requests cancellation of the running job of a type.
func (r *Registry) Cancel(jobType model.JobType) bool {
	job := r.Current(jobType)
	if job == nil {
		return false
	}
	return job.Cancel()
}

// Clear drops the stored reference of a finished job.
func (r *Registry) Clear(jobType model.JobType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur := r.jobs[jobType]; cur != nil && !cur.IsRunning() {
		delete(r.jobs, jobType)
		return true
	}
	return false
}

// CancelAll requests cancellation of every running job.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	for _, j := range jobs {
		j.Cancel()
	}
}

// Wait blocks until every started job has finished or ctx ends.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
