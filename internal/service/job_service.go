package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldcrm/crm-jobs/internal/client"
	"github.com/fieldcrm/crm-jobs/internal/model"
	"github.com/fieldcrm/crm-jobs/internal/store"
	"github.com/fieldcrm/crm-jobs/internal/worker"
)

const artifactTimeout = 30 * time.Second

// RejectedError is returned when a start request is refused. The message is
// shown to the caller verbatim.
type RejectedError struct {
	Message string
	Err     error
}

func (e *RejectedError) Error() string { return e.Message }

func (e *RejectedError) Unwrap() error { return e.Err }

// ErrNotConfigured is wrapped by a RejectedError when no config row exists.
var ErrNotConfigured = errors.New("job is not configured")

// Broadcaster pushes job state to websocket subscribers
type Broadcaster interface {
	BroadcastProgress(jobType model.JobType, sessionID string, running bool, p model.Progress)
	BroadcastComplete(jobType model.JobType, sessionID string, metrics model.SessionMetrics)
	BroadcastError(jobType model.JobType, sessionID string, status model.SessionStatus, code, message string)
}

// RunnerFactory builds the body of a fresh run
type RunnerFactory func() worker.Runner

// RunArtifact is the JSON summary uploaded for every finished run
type RunArtifact struct {
	JobType    model.JobType        `json:"job_type"`
	SessionID  string               `json:"session_id"`
	Status     model.SessionStatus  `json:"status"`
	Message    string               `json:"message"`
	Metrics    model.SessionMetrics `json:"metrics"`
	Error      string               `json:"error,omitempty"`
	Result     any                  `json:"result,omitempty"`
	FinishedAt time.Time            `json:"finished_at"`
}

// JobServiceDeps wires the job service
type JobServiceDeps struct {
	Store     store.Store
	Registry  *worker.Registry
	Runners   map[model.JobType]RunnerFactory
	Hub       Broadcaster
	Artifacts client.ArtifactStore
	Retry     worker.RetryConfig
	Logger    zerolog.Logger
}

// JobService is the control surface over the job registry
type JobService struct {
	ctx       context.Context
	store     store.Store
	registry  *worker.Registry
	runners   map[model.JobType]RunnerFactory
	hub       Broadcaster
	artifacts client.ArtifactStore
	retry     worker.RetryConfig
	logger    zerolog.Logger
}

// NewJobService creates the service. Jobs run detached on ctx, which should
// live as long as the process.
func NewJobService(ctx context.Context, deps JobServiceDeps) *JobService {
	if deps.Registry == nil {
		deps.Registry = worker.NewRegistry(deps.Logger)
	}
	return &JobService{
		ctx:       ctx,
		store:     deps.Store,
		registry:  deps.Registry,
		runners:   deps.Runners,
		hub:       deps.Hub,
		artifacts: deps.Artifacts,
		retry:     deps.Retry,
		logger:    deps.Logger,
	}
}

// Start accepts a run of jobType and returns without waiting for it
func (s *JobService) Start(ctx context.Context, jobType model.JobType) (*model.RunResponse, error) {
	if _, err := s.StartJob(ctx, jobType); err != nil {
		return nil, err
	}

	message := "Lead generation started"
	if jobType == model.JobTypeScraper {
		message = "Scraping started"
	}
	return &model.RunResponse{Success: true, Message: message}, nil
}

// StartJob is Start for callers that want to follow the run
func (s *JobService) StartJob(ctx context.Context, jobType model.JobType) (*worker.Job, error) {
	factory, ok := s.runners[jobType]
	if !ok {
		return nil, fmt.Errorf("no runner registered for job type %q", jobType)
	}

	if s.registry.IsRunning(jobType) {
		return nil, alreadyRunning(jobType)
	}
	if err := s.preflight(ctx, jobType); err != nil {
		return nil, err
	}

	job, err := s.registry.TryStart(s.ctx, jobType, func() *worker.Job {
		return worker.NewJob(jobType, factory(), s.store, worker.JobOptions{
			Retry:      s.retry,
			OnProgress: s.onProgress,
			OnFinish:   s.onFinish,
			Logger:     s.logger,
		})
	})
	if errors.Is(err, worker.ErrAlreadyRunning) {
		return nil, alreadyRunning(jobType)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func alreadyRunning(jobType model.JobType) error {
	return &RejectedError{
		Message: fmt.Sprintf("%s is already running", jobType.DisplayName()),
		Err:     worker.ErrAlreadyRunning,
	}
}

// preflight rejects a scraper start when nothing was ever configured. Lead
// generation validates inside the run so the failure lands in its session.
func (s *JobService) preflight(ctx context.Context, jobType model.JobType) error {
	if jobType != model.JobTypeScraper {
		return nil
	}
	_, err := s.store.ScraperConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return &RejectedError{
			Message: "No scraper configuration found. Please configure the scraper first.",
			Err:     ErrNotConfigured,
		}
	}
	if err != nil {
		return fmt.Errorf("failed to load scraper config: %w", err)
	}
	return nil
}

// Cancel requests cancellation of the running job of a type
func (s *JobService) Cancel(jobType model.JobType) *model.RunResponse {
	name := jobType.DisplayName()
	if s.registry.Cancel(jobType) {
		return &model.RunResponse{
			Success: true,
			Message: fmt.Sprintf("%s cancellation requested", name),
		}
	}
	noun := "lead generation"
	if jobType == model.JobTypeScraper {
		noun = "scraper"
	}
	return &model.RunResponse{
		Success: false,
		Message: fmt.Sprintf("No %s process running", noun),
	}
}

// Progress returns the latest snapshot of a job type
func (s *JobService) Progress(jobType model.JobType) *model.ProgressResponse {
	running, sessionID, p := s.registry.Snapshot(jobType)
	return &model.ProgressResponse{
		IsRunning: running,
		SessionID: sessionID,
		Progress:  p,
	}
}

// IsRunning reports whether a job of the type is live
func (s *JobService) IsRunning(jobType model.JobType) bool {
	return s.registry.IsRunning(jobType)
}

// Sessions returns the most recent session records of a type, newest first
func (s *JobService) Sessions(ctx context.Context, jobType model.JobType) ([]model.Session, error) {
	sessions, err := s.store.RecentSessions(ctx, jobType, store.DefaultSessionLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions, nil
}

// CustomerCount returns the number of scraped customer names
func (s *JobService) CustomerCount(ctx context.Context) (*model.CountResponse, error) {
	n, err := s.store.CountScrapedCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count customers: %w", err)
	}
	return &model.CountResponse{Count: n}, nil
}

// Shutdown cancels every running job and waits for them to write their
// terminal state
func (s *JobService) Shutdown(ctx context.Context) error {
	s.registry.CancelAll()
	return s.registry.Wait(ctx)
}

func (s *JobService) onProgress(jobType model.JobType, sessionID string, p model.Progress) {
	if s.hub != nil {
		s.hub.BroadcastProgress(jobType, sessionID, true, p)
	}
}

func (s *JobService) onFinish(o worker.Outcome) {
	if s.hub != nil {
		s.hub.BroadcastProgress(o.JobType, o.SessionID, false, o.Progress)
		if o.Status == model.SessionStatusCompleted {
			s.hub.BroadcastComplete(o.JobType, o.SessionID, o.Metrics)
		} else {
			s.hub.BroadcastError(o.JobType, o.SessionID, o.Status, worker.ErrorCode(o.Err), errorText(o.Err))
		}
	}
	s.uploadArtifact(o)
}

func (s *JobService) uploadArtifact(o worker.Outcome) {
	if s.artifacts == nil || o.SessionID == "" {
		return
	}

	artifact := RunArtifact{
		JobType:    o.JobType,
		SessionID:  o.SessionID,
		Status:     o.Status,
		Message:    o.Progress.Message,
		Metrics:    o.Metrics,
		Error:      errorText(o.Err),
		FinishedAt: time.Now().UTC(),
	}
	if o.Result != nil {
		artifact.Result = o.Result.Artifact
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), artifactTimeout)
	defer cancel()

	key := client.ArtifactKey(string(o.JobType), o.SessionID)
	url, err := client.UploadJSON(ctx, s.artifacts, key, artifact)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", o.SessionID).Msg("failed to upload run artifact")
		return
	}
	s.logger.Info().Str("session_id", o.SessionID).Str("url", url).Msg("run artifact uploaded")
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
