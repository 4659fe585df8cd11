package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/tradebook/jobs"
)

func TestTaskForReconcile(t *testing.T) {
	now := time.Date(2024, 3, 1, 2, 30, 0, 0, time.UTC)
	for _, name := range []string{"reconcile", jobs.TaskReconcileLedger} {
		task, err := taskFor(name, now)
		require.NoError(t, err)
		assert.Equal(t, jobs.TaskReconcileLedger, task.Type())

		var payload jobs.ReconcilePayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		assert.True(t, payload.ScheduledFor.Equal(now))
	}
}

func TestTriggerRejectsUnknownJob(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), "gl:integrity")
	require.ErrorContains(t, err, "unsupported job")

	_, err = c.Trigger(context.Background(), "reconcile")
	require.ErrorContains(t, err, "client not configured")
}

func TestNewJobsCLIRequiresAddr(t *testing.T) {
	_, err := NewJobsCLI(asynq.RedisClientOpt{})
	require.Error(t, err)
}
