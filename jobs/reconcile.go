package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/tradebook/internal/inventory"
	jobmetrics "github.com/odyssey-erp/tradebook/internal/jobs"
	"github.com/odyssey-erp/tradebook/internal/ledger"
)

// InventoryChecker replays item movement histories.
type InventoryChecker interface {
	ListItems(ctx context.Context) ([]inventory.Item, error)
	Replay(ctx context.Context, itemID int64) (inventory.ReplayResult, error)
}

// LedgerChecker verifies customer ledgers against their sales.
type LedgerChecker interface {
	ListCustomerIDs(ctx context.Context) ([]int64, error)
	Verify(ctx context.Context, customerID int64) (ledger.VerifyResult, error)
}

// ReconcileReport summarises one reconcile run.
type ReconcileReport struct {
	Items         int     `json:"items"`
	ItemDrift     []int64 `json:"item_drift"`
	Customers     int     `json:"customers"`
	CustomerDrift []int64 `json:"customer_drift"`
}

// ReconcileJob checks that stored quantities and balances match their logs. It
// only reads and runs outside any sale or payment transaction.
type ReconcileJob struct {
	Inventory InventoryChecker
	Ledger    LedgerChecker
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewReconcileJob initialises the reconcile handler.
func NewReconcileJob(inv InventoryChecker, led LedgerChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Inventory: inv, Ledger: led, Logger: logger, Metrics: metrics}
}

// Handle executes the reconcile task.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run checks inventory and ledgers concurrently.
func (j *ReconcileJob) Run(ctx context.Context, payload ReconcilePayload) (report ReconcileReport, err error) {
	if j.Inventory == nil || j.Ledger == nil {
		return ReconcileReport{}, errors.New("reconcile: checkers not configured")
	}
	tracker := j.Metrics.Track(TaskReconcileLedger)
	defer func() {
		err = tracker.End(err)
	}()

	start := time.Now()
	logger := j.logger()
	logger.Info("starting reconcile", slog.Time("scheduled_for", payload.ScheduledFor))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids := payload.ItemIDs
		if len(ids) == 0 {
			items, err := j.Inventory.ListItems(gctx)
			if err != nil {
				return err
			}
			for _, item := range items {
				ids = append(ids, item.ID)
			}
		}
		report.Items = len(ids)
		for _, id := range ids {
			result, err := j.Inventory.Replay(gctx, id)
			if err != nil {
				return err
			}
			if !result.Consistent {
				report.ItemDrift = append(report.ItemDrift, id)
			}
		}
		return nil
	})
	g.Go(func() error {
		ids := payload.CustomerIDs
		if len(ids) == 0 {
			var err error
			if ids, err = j.Ledger.ListCustomerIDs(gctx); err != nil {
				return err
			}
		}
		report.Customers = len(ids)
		for _, id := range ids {
			result, err := j.Ledger.Verify(gctx, id)
			if err != nil {
				return err
			}
			if !result.Consistent {
				report.CustomerDrift = append(report.CustomerDrift, id)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("reconcile failed", slog.Any("error", err))
		return ReconcileReport{}, err
	}

	j.Metrics.AddDrift("inventory", len(report.ItemDrift))
	j.Metrics.AddDrift("ledger", len(report.CustomerDrift))
	level := slog.LevelInfo
	if len(report.ItemDrift) > 0 || len(report.CustomerDrift) > 0 {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "completed reconcile",
		slog.Int("items", report.Items),
		slog.Any("item_drift", report.ItemDrift),
		slog.Int("customers", report.Customers),
		slog.Any("customer_drift", report.CustomerDrift),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
