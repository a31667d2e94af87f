package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// JobInserter is satisfied by river.Client; narrowed so the dispatcher can be
// constructed before the client and mocked in tests.
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Dispatcher enqueues notifications after committed ledger mutations. It is
// strictly fire-and-forget: enqueue failures are logged and swallowed, so a
// notification problem can never unwind a balance change.
type Dispatcher struct {
	inserter JobInserter
	log      *slog.Logger
}

func NewDispatcher(inserter JobInserter, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{inserter: inserter, log: log}
}

func (d *Dispatcher) Notify(ctx context.Context, userID uuid.UUID, kind string, payload any) {
	if d.inserter == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		d.log.Error("notification payload marshal failed", "kind", kind, "error", err)
		return
	}
	_, err = d.inserter.Insert(ctx, NotificationJobArgs{
		UserID:  userID,
		Event:   kind,
		Payload: raw,
	}, nil)
	if err != nil {
		d.log.Error("notification enqueue failed", "kind", kind, "user_id", userID, "error", err)
	}
}
