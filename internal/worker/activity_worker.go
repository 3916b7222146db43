package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/fieldcrm/crm-jobs/internal/model"
)

// ActivityWorker writes contact activities queued by the lead generator
type ActivityWorker struct {
	store  ActivityRecorder
	logger zerolog.Logger
}

func NewActivityWorker(store ActivityRecorder, logger zerolog.Logger) *ActivityWorker {
	return &ActivityWorker{store: store, logger: logger}
}

// ProcessTask handles an activity:record task
func (w *ActivityWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var a model.Activity
	if err := json.Unmarshal(t.Payload(), &a); err != nil {
		return fmt.Errorf("failed to unmarshal activity payload: %v: %w", err, asynq.SkipRetry)
	}
	if a.ContactID == 0 {
		return fmt.Errorf("activity without contact id: %w", asynq.SkipRetry)
	}

	if err := w.store.RecordActivity(ctx, a); err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}

	w.logger.Debug().Int64("contact_id", a.ContactID).Str("type", a.Type).Msg("activity recorded")
	return nil
}
