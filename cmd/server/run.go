package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/fieldcrm/crm-jobs/internal/config"
	"github.com/fieldcrm/crm-jobs/internal/logging"
	"github.com/fieldcrm/crm-jobs/internal/model"
	"github.com/fieldcrm/crm-jobs/internal/service"
	"github.com/fieldcrm/crm-jobs/internal/worker"
)

// exit code for a run stopped by the operator, as a shell reports SIGINT
const exitCancelled = 130

// consoleBroadcaster prints job pushes to the log instead of websocket clients
type consoleBroadcaster struct {
	logger zerolog.Logger
}

func (b consoleBroadcaster) BroadcastProgress(jobType model.JobType, _ string, running bool, p model.Progress) {
	if !running {
		return
	}
	b.logger.Info().
		Str("job_type", string(jobType)).
		Int("percentage", p.Percentage).
		Msg(p.Message)
}

func (b consoleBroadcaster) BroadcastComplete(jobType model.JobType, sessionID string, metrics model.SessionMetrics) {
	b.logger.Info().
		Str("job_type", string(jobType)).
		Str("session_id", sessionID).
		Interface("metrics", metrics).
		Msg("run completed")
}

func (b consoleBroadcaster) BroadcastError(jobType model.JobType, sessionID string, status model.SessionStatus, code, message string) {
	b.logger.Warn().
		Str("job_type", string(jobType)).
		Str("session_id", sessionID).
		Str("status", string(status)).
		Str("code", code).
		Msg(message)
}

func runOnce(ctx context.Context, cfg *config.Config, useMemory bool, jobType model.JobType) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, useMemory)
	if err != nil {
		return err
	}
	defer st.Close()

	logger := logging.Component("run")
	activities := service.NewActivityService(nil, st, logging.Component("activity"))

	jobs := service.NewJobService(context.Background(), service.JobServiceDeps{
		Store:     st,
		Registry:  worker.NewRegistry(logging.Component("registry")),
		Runners:   service.NewRunners(cfg, st, activities),
		Hub:       consoleBroadcaster{logger: logger},
		Artifacts: newArtifactStore(cfg, logger),
		Retry:     service.RetryConfig(&cfg.Jobs),
		Logger:    logging.Component("jobs"),
	})

	job, err := jobs.StartJob(ctx, jobType)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger.Info().Str("job_type", string(jobType)).Msg("run started, press Ctrl-C to cancel")

	select {
	case <-job.Done():
	case <-sigCtx.Done():
		logger.Warn().Msg("cancellation requested, waiting for the run to stop")
		jobs.Cancel(jobType)
		<-job.Done()
	}

	o := job.Outcome()
	if o == nil {
		return nil
	}
	switch o.Status {
	case model.SessionStatusFailed:
		msg := "run failed"
		if o.Err != nil {
			msg = o.Err.Error()
		}
		return cli.Exit(msg, 1)
	case model.SessionStatusCancelled:
		return cli.Exit("run cancelled", exitCancelled)
	}
	return nil
}
