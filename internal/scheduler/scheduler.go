// Package scheduler starts jobs on cron schedules through the same path as
// the HTTP control surface.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/fieldcrm/crm-jobs/internal/model"
	"github.com/fieldcrm/crm-jobs/internal/worker"
)

// Starter accepts a job run
type Starter interface {
	Start(ctx context.Context, jobType model.JobType) (*model.RunResponse, error)
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Scheduler struct {
	cron    *cron.Cron
	starter Starter
	entries map[model.JobType]cron.EntryID
	logger  zerolog.Logger
}

func New(starter Starter, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		starter: starter,
		entries: make(map[model.JobType]cron.EntryID),
		logger:  logger,
	}
}

// Add schedules jobType on spec. An empty spec leaves the job unscheduled.
func (s *Scheduler) Add(jobType model.JobType, spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	if _, ok := s.entries[jobType]; ok {
		return fmt.Errorf("job type %q is already scheduled", jobType)
	}

	id, err := s.cron.AddFunc(spec, func() { s.Fire(jobType) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, jobType, err)
	}
	s.entries[jobType] = id
	s.logger.Info().Str("job_type", string(jobType)).Str("cron_expr", spec).Msg("job scheduled")
	return nil
}

// Len is the number of scheduled job types
func (s *Scheduler) Len() int { return len(s.entries) }

// Fire is one scheduled tick. A job that is still running is skipped.
func (s *Scheduler) Fire(jobType model.JobType) {
	logger := s.logger.With().Str("job_type", string(jobType)).Logger()

	_, err := s.starter.Start(context.Background(), jobType)
	switch {
	case err == nil:
		logger.Info().Msg("scheduled run started")
	case errors.Is(err, worker.ErrAlreadyRunning):
		logger.Info().Msg("already running, scheduled run skipped")
	default:
		logger.Warn().Err(err).Msg("scheduled run rejected")
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a tick in progress
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
