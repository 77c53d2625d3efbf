package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/palisade-authz/palisade/internal/reconcile"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeReconcile is the task type for the periodic reconciliation
	// pass over the declared route surface.
	TaskTypeReconcile = "authz:reconcile"
)

// ReconcilePayload carries optional task parameters. Empty today; kept as a
// struct so adding fields does not change the wire shape.
type ReconcilePayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewReconcileTask constructs an Asynq task.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeReconcile, data), nil
}

// NewReconcileHandler returns the Asynq handler for TaskTypeReconcile tasks.
func NewReconcileHandler(svc *reconcile.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReconcilePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		report, err := svc.Reconcile(ctx)
		if err != nil {
			logger.Error("scheduled reconciliation failed", slog.Any("error", err))
			return err
		}
		logger.Info("scheduled reconciliation done",
			slog.String("reason", payload.Reason),
			slog.String("report", report.String()))
		return nil
	}
}
