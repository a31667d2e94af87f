package gifts

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uberoi/giftledger/internal/allocation"
	"github.com/uberoi/giftledger/internal/models"
)

// Allocator is the allocation engine surface the bridge drives.
type Allocator interface {
	Allocate(ctx context.Context, userID uuid.UUID, targetType string, amount decimal.Decimal, giftID *uuid.UUID) (*allocation.Result, error)
}

// BridgeLedger recomputes gift coverage from the append-only histories, so a
// sweep interrupted after the ledger mutation is safe to re-run.
type BridgeLedger interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Ledger, error)
	SumForGift(ctx context.Context, giftID uuid.UUID) (decimal.Decimal, error)
}

// TaskStore is the repository surface the bridge needs.
type TaskStore interface {
	DueTasks(ctx context.Context, now time.Time, limit int) ([]*models.AllocationTask, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID) error
	RescheduleTask(ctx context.Context, taskID uuid.UUID, dueAt time.Time, lastError string) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Gift, error)
	DefaultTarget(ctx context.Context, userID uuid.UUID) (string, error)
}

// Bridge runs the deferred auto-allocation sweep: gifts the receiver has not
// converted by hand within the grace period get allocated into their default
// target. Conditions that may clear later (no preference set, balance spent
// elsewhere) reschedule the task rather than failing it.
type Bridge struct {
	tasks      TaskStore
	ledger     BridgeLedger
	alloc      Allocator
	retryDelay time.Duration
	batchSize  int
	log        *slog.Logger
	now        func() time.Time
}

func NewBridge(tasks TaskStore, ledger BridgeLedger, alloc Allocator, retryDelay time.Duration, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		tasks:      tasks,
		ledger:     ledger,
		alloc:      alloc,
		retryDelay: retryDelay,
		batchSize:  100,
		log:        log,
		now:        time.Now,
	}
}

// RunDueTasks processes one sweep of due tasks. Per-task failures never stop
// the sweep; each is recorded on its task and retried later.
func (b *Bridge) RunDueTasks(ctx context.Context) error {
	due, err := b.tasks.DueTasks(ctx, b.now(), b.batchSize)
	if err != nil {
		return err
	}
	for _, task := range due {
		if err := b.runTask(ctx, task); err != nil {
			b.log.Error("auto-allocation task failed", "task_id", task.ID, "gift_id", task.GiftID, "error", err)
			if rerr := b.tasks.RescheduleTask(ctx, task.ID, b.now().Add(b.retryDelay), err.Error()); rerr != nil {
				b.log.Error("reschedule failed", "task_id", task.ID, "error", rerr)
			}
		}
	}
	return nil
}

// reschedule wraps a non-terminal condition so runTask's caller records it.
type rescheduleError struct{ reason string }

func (e rescheduleError) Error() string { return e.reason }

func (b *Bridge) runTask(ctx context.Context, task *models.AllocationTask) error {
	target, err := b.tasks.DefaultTarget(ctx, task.UserID)
	if err != nil {
		return err
	}
	if !models.ValidTarget(target) {
		return rescheduleError{reason: "no valid default target type set"}
	}

	gift, err := b.tasks.GetByID(ctx, task.GiftID)
	if err != nil {
		return err
	}
	allocated, err := b.ledger.SumForGift(ctx, task.GiftID)
	if err != nil {
		return err
	}
	remaining := gift.Amount.Sub(allocated)
	if !remaining.IsPositive() {
		// The receiver already converted the whole gift by hand.
		return b.tasks.CompleteTask(ctx, task.ID)
	}

	l, err := b.ledger.GetOrCreate(ctx, task.UserID)
	if err != nil {
		return err
	}
	if l.Unallotted.LessThan(remaining) {
		return rescheduleError{reason: "unallotted balance below remaining gift value"}
	}

	giftID := task.GiftID
	if _, err := b.alloc.Allocate(ctx, task.UserID, target, remaining, &giftID); err != nil {
		return err
	}
	b.log.Info("auto-allocated gift remainder", "gift_id", task.GiftID, "user_id", task.UserID, "target", target, "amount", remaining)
	return b.tasks.CompleteTask(ctx, task.ID)
}
