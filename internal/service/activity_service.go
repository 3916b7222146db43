package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/fieldcrm/crm-jobs/internal/model"
	"github.com/fieldcrm/crm-jobs/internal/worker"
)

// ActivityQueue is the asynq queue contact activities are enqueued on
const ActivityQueue = "activity"

// TaskEnqueuer is the part of the asynq client used here
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ActivityService hands contact activities to the background queue, or
// writes them directly when no queue is available
type ActivityService struct {
	queue  TaskEnqueuer
	store  worker.ActivityRecorder
	logger zerolog.Logger
}

func NewActivityService(queue TaskEnqueuer, st worker.ActivityRecorder, logger zerolog.Logger) *ActivityService {
	return &ActivityService{queue: queue, store: st, logger: logger}
}

// NewActivityTask creates an activity:record task
func NewActivityTask(a model.Activity) (*asynq.Task, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity: %w", err)
	}
	return asynq.NewTask(model.TaskTypeActivityRecord, payload), nil
}

// RecordActivity enqueues the activity. An enqueue failure falls back to a
// direct write.
func (s *ActivityService) RecordActivity(ctx context.Context, a model.Activity) error {
	if s.queue == nil {
		return s.store.RecordActivity(ctx, a)
	}

	task, err := NewActivityTask(a)
	if err != nil {
		return err
	}

	_, err = s.queue.EnqueueContext(ctx, task,
		asynq.Queue(ActivityQueue),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
	)
	if err == nil {
		return nil
	}

	s.logger.Warn().Err(err).Int64("contact_id", a.ContactID).Msg("failed to enqueue activity, writing directly")
	return s.store.RecordActivity(ctx, a)
}

var _ worker.ActivityRecorder = (*ActivityService)(nil)
