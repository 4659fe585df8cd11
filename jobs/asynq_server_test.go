package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/tradebook/jobs"
)

func TestNewWorkerRejectsBadCron(t *testing.T) {
	mr := miniredis.RunT(t)
	task, err := jobs.NewReconcileTask(jobs.ReconcilePayload{ScheduledFor: time.Now()})
	require.NoError(t, err)

	_, err = jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: mr.Addr()},
		Cron:      []jobs.CronRegistration{{Spec: "every tuesday-ish", Task: task}},
	})
	require.Error(t, err)
}

func TestNilWorkerRun(t *testing.T) {
	var w *jobs.Worker
	require.Error(t, w.Run(context.Background()))
}
