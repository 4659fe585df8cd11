package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcileLedger replays inventory movements and verifies customer ledgers.
	TaskReconcileLedger = "reconcile:ledger"
)

// ReconcilePayload narrows a reconcile run. Empty id lists mean every record.
type ReconcilePayload struct {
	ItemIDs      []int64   `json:"item_ids,omitempty"`
	CustomerIDs  []int64   `json:"customer_ids,omitempty"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewReconcileTask constructs an Asynq task for the reconcile job.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileLedger, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(30*time.Minute)), nil
}
