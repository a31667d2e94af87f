package gifts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/uberoi/giftledger/internal/models"
)

// --- noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

// --- GiftStore mock ---

type scheduledTask struct {
	giftID uuid.UUID
	userID uuid.UUID
	dueAt  time.Time
}

type mockGiftStore struct {
	mu      sync.Mutex
	gifts   map[uuid.UUID]*models.Gift
	buckets map[string]bool
	tasks   []scheduledTask
}

func newMockGiftStore(gs ...*models.Gift) *mockGiftStore {
	m := &mockGiftStore{gifts: make(map[uuid.UUID]*models.Gift), buckets: make(map[string]bool)}
	for _, g := range gs {
		cp := *g
		m.gifts[g.ID] = &cp
	}
	return m
}

func (m *mockGiftStore) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

func (m *mockGiftStore) CreateTx(_ context.Context, _ pgx.Tx, g *models.Gift) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.gifts[g.ID] = &cp
	return nil
}

func (m *mockGiftStore) GetByID(_ context.Context, id uuid.UUID) (*models.Gift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gifts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *g
	return &cp, nil
}

func (m *mockGiftStore) MarkPaidTx(_ context.Context, _ pgx.Tx, giftID uuid.UUID) (*models.Gift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gifts[giftID]
	if !ok || g.Paid {
		return nil, nil
	}
	g.Paid = true
	cp := *g
	return &cp, nil
}

func (m *mockGiftStore) CancelTx(_ context.Context, _ pgx.Tx, giftID, senderID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gifts[giftID]
	if !ok || g.SenderID != senderID || g.Paid || g.Status != models.GiftStatusPending {
		return false, nil
	}
	g.Status = models.GiftStatusCancelled
	return true, nil
}

func (m *mockGiftStore) EnsurePendingBucketTx(_ context.Context, _ pgx.Tx, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[phone] = true
	return nil
}

func (m *mockGiftStore) ClaimPendingTx(_ context.Context, _ pgx.Tx, userID uuid.UUID, phone string) ([]*models.Gift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Gift
	for _, g := range m.gifts {
		if g.ReceiverID == nil && g.ReceiverPhone != nil && *g.ReceiverPhone == phone {
			id := userID
			g.ReceiverID = &id
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockGiftStore) ScheduleTaskTx(_ context.Context, _ pgx.Tx, giftID, userID uuid.UUID, dueAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, scheduledTask{giftID: giftID, userID: userID, dueAt: dueAt})
	return nil
}

func (m *mockGiftStore) ListForReceiver(_ context.Context, receiverID uuid.UUID) ([]*models.Gift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Gift
	for _, g := range m.gifts {
		if g.ReceiverID != nil && *g.ReceiverID == receiverID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockGiftStore) ListForSender(_ context.Context, senderID uuid.UUID) ([]*models.Gift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Gift
	for _, g := range m.gifts {
		if g.SenderID == senderID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- LedgerStore mock: records ledger credits ---

type creditCall struct {
	userID   uuid.UUID
	amount   decimal.Decimal
	giftID   uuid.UUID
	senderID uuid.UUID
}

type mockCreditLedger struct {
	mu      sync.Mutex
	credits []creditCall
}

func (m *mockCreditLedger) CreditGift(_ context.Context, _ pgx.Tx, userID uuid.UUID, amount decimal.Decimal, giftID, senderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credits = append(m.credits, creditCall{userID: userID, amount: amount, giftID: giftID, senderID: senderID})
	return nil
}

// --- EventStore mock ---

type mockEventStore struct {
	events map[uuid.UUID]*models.Event
}

func (m *mockEventStore) GetByID(_ context.Context, id uuid.UUID) (*models.Event, error) {
	e, ok := m.events[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return e, nil
}

// --- Notifier mock ---

type notifyCall struct {
	userID uuid.UUID
	kind   string
}

type mockNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (m *mockNotifier) Notify(_ context.Context, userID uuid.UUID, kind string, _ any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, notifyCall{userID: userID, kind: kind})
}

// ---------------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------------

func TestSendValidation(t *testing.T) {
	store := newMockGiftStore()
	svc := NewService(store, &mockCreditLedger{}, &mockEventStore{}, nil, 48*time.Hour, nil)
	ctx := context.Background()
	sender := uuid.New()
	receiver := uuid.New()

	if _, err := svc.Send(ctx, sender, &receiver, nil, mustDec(t, "0"), nil); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount: expected ErrInvalidAmount, got: %v", err)
	}
	if _, err := svc.Send(ctx, sender, nil, nil, mustDec(t, "100.00"), nil); !errors.Is(err, ErrNoReceiver) {
		t.Errorf("no receiver: expected ErrNoReceiver, got: %v", err)
	}
	empty := ""
	if _, err := svc.Send(ctx, sender, nil, &empty, mustDec(t, "100.00"), nil); !errors.Is(err, ErrNoReceiver) {
		t.Errorf("empty phone: expected ErrNoReceiver, got: %v", err)
	}
}

func TestSendOutsideEventWindow(t *testing.T) {
	event := &models.Event{
		ID:      uuid.New(),
		StartAt: time.Now().Add(-48 * time.Hour),
		EndAt:   time.Now().Add(-24 * time.Hour),
	}
	events := &mockEventStore{events: map[uuid.UUID]*models.Event{event.ID: event}}
	svc := NewService(newMockGiftStore(), &mockCreditLedger{}, events, nil, 48*time.Hour, nil)

	receiver := uuid.New()
	_, err := svc.Send(context.Background(), uuid.New(), &receiver, nil, mustDec(t, "100.00"), &event.ID)
	if !errors.Is(err, ErrEventClosed) {
		t.Errorf("expected ErrEventClosed, got: %v", err)
	}
}

func TestSendToPhoneCreatesBucket(t *testing.T) {
	store := newMockGiftStore()
	svc := NewService(store, &mockCreditLedger{}, &mockEventStore{}, nil, 48*time.Hour, nil)

	phone := "+919812345678"
	g, err := svc.Send(context.Background(), uuid.New(), nil, &phone, mustDec(t, "250.00"), nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !store.buckets[phone] {
		t.Error("pending bucket for the phone should be ensured")
	}
	if g.ReceiverID != nil || g.ReceiverPhone == nil || *g.ReceiverPhone != phone {
		t.Errorf("gift addressing: %+v", g)
	}
	if g.Status != models.GiftStatusPending {
		t.Errorf("status: got %s, want pending", g.Status)
	}
}

// ---------------------------------------------------------------------------
// MarkPaid
// ---------------------------------------------------------------------------

func TestMarkPaidCreditsOnce(t *testing.T) {
	receiver := uuid.New()
	g := &models.Gift{ID: uuid.New(), SenderID: uuid.New(), ReceiverID: &receiver, Amount: mustDec(t, "500.00"), Status: models.GiftStatusPending}
	store := newMockGiftStore(g)
	credits := &mockCreditLedger{}
	notifier := &mockNotifier{}
	svc := NewService(store, credits, &mockEventStore{}, notifier, 48*time.Hour, nil)
	ctx := context.Background()

	if _, err := svc.MarkPaid(ctx, g.ID); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	// Replay of the payment callback is a no-op.
	if _, err := svc.MarkPaid(ctx, g.ID); err != nil {
		t.Fatalf("MarkPaid replay: %v", err)
	}

	if len(credits.credits) != 1 {
		t.Fatalf("ledger credits: got %d, want 1", len(credits.credits))
	}
	c := credits.credits[0]
	if c.userID != receiver || !c.amount.Equal(mustDec(t, "500.00")) || c.giftID != g.ID {
		t.Errorf("credit call: %+v", c)
	}
	if len(store.tasks) != 1 {
		t.Fatalf("scheduled tasks: got %d, want 1", len(store.tasks))
	}
	if store.tasks[0].giftID != g.ID || store.tasks[0].userID != receiver {
		t.Errorf("task: %+v", store.tasks[0])
	}
	if len(notifier.calls) != 1 || notifier.calls[0].kind != "gift.received" {
		t.Errorf("notifications: %+v", notifier.calls)
	}
}

func TestMarkPaidDeferredAllocationDue(t *testing.T) {
	receiver := uuid.New()
	g := &models.Gift{ID: uuid.New(), SenderID: uuid.New(), ReceiverID: &receiver, Amount: mustDec(t, "100.00")}
	store := newMockGiftStore(g)
	delay := 48 * time.Hour
	svc := NewService(store, &mockCreditLedger{}, &mockEventStore{}, nil, delay, nil)

	before := time.Now()
	if _, err := svc.MarkPaid(context.Background(), g.ID); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	due := store.tasks[0].dueAt
	if due.Before(before.Add(delay-time.Minute)) || due.After(before.Add(delay+time.Minute)) {
		t.Errorf("task due %s, want about %s from now", due, delay)
	}
}

func TestMarkPaidPhoneGiftDefersCredit(t *testing.T) {
	phone := "+919812345678"
	g := &models.Gift{ID: uuid.New(), SenderID: uuid.New(), ReceiverPhone: &phone, Amount: mustDec(t, "300.00")}
	store := newMockGiftStore(g)
	credits := &mockCreditLedger{}
	notifier := &mockNotifier{}
	svc := NewService(store, credits, &mockEventStore{}, notifier, 48*time.Hour, nil)

	if _, err := svc.MarkPaid(context.Background(), g.ID); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if len(credits.credits) != 0 {
		t.Error("phone-addressed gift must not be credited before the receiver registers")
	}
	if len(notifier.calls) != 0 {
		t.Error("no notification target exists before the receiver registers")
	}
}

// claimDuringPaymentStore resolves the phone bucket onto a registered user
// just before the paid flip, like a registration committing while the
// payment callback is in flight.
type claimDuringPaymentStore struct {
	*mockGiftStore
	userID uuid.UUID
	phone  string
}

func (s *claimDuringPaymentStore) MarkPaidTx(ctx context.Context, tx pgx.Tx, giftID uuid.UUID) (*models.Gift, error) {
	if _, err := s.mockGiftStore.ClaimPendingTx(ctx, tx, s.userID, s.phone); err != nil {
		return nil, err
	}
	return s.mockGiftStore.MarkPaidTx(ctx, tx, giftID)
}

func TestMarkPaidCreditsReceiverClaimedDuringPayment(t *testing.T) {
	phone := "+919812345678"
	g := &models.Gift{ID: uuid.New(), SenderID: uuid.New(), ReceiverPhone: &phone, Amount: mustDec(t, "400.00")}
	inner := newMockGiftStore(g)
	user := uuid.New()
	store := &claimDuringPaymentStore{mockGiftStore: inner, userID: user, phone: phone}
	credits := &mockCreditLedger{}
	notifier := &mockNotifier{}
	svc := NewService(store, credits, &mockEventStore{}, notifier, 48*time.Hour, nil)

	got, err := svc.MarkPaid(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if got.ReceiverID == nil || *got.ReceiverID != user || !got.Paid {
		t.Fatalf("gift after payment: %+v", got)
	}
	// The receiver resolved by the claim gets the credit; the gift's value
	// must not be stranded between the two flows.
	if len(credits.credits) != 1 || credits.credits[0].userID != user {
		t.Fatalf("the claimed receiver must be credited, got %+v", credits.credits)
	}
	if len(inner.tasks) != 1 || inner.tasks[0].userID != user {
		t.Errorf("auto-allocation task: %+v", inner.tasks)
	}
	if len(notifier.calls) != 1 || notifier.calls[0].userID != user {
		t.Errorf("notifications: %+v", notifier.calls)
	}
}

// ---------------------------------------------------------------------------
// ClaimPending
// ---------------------------------------------------------------------------

func TestClaimPendingCreditsPaidGifts(t *testing.T) {
	phone := "+919812345678"
	paid := &models.Gift{ID: uuid.New(), SenderID: uuid.New(), ReceiverPhone: &phone, Amount: mustDec(t, "200.00"), Paid: true}
	unpaid := &models.Gift{ID: uuid.New(), SenderID: uuid.New(), ReceiverPhone: &phone, Amount: mustDec(t, "150.00")}
	store := newMockGiftStore(paid, unpaid)
	credits := &mockCreditLedger{}
	svc := NewService(store, credits, &mockEventStore{}, nil, 48*time.Hour, nil)

	user := uuid.New()
	claimed, err := svc.ClaimPending(context.Background(), user, phone)
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed: got %d, want 2", len(claimed))
	}
	if len(credits.credits) != 1 || credits.credits[0].giftID != paid.ID {
		t.Errorf("only the paid gift should be credited, got %+v", credits.credits)
	}
	if len(store.tasks) != 1 {
		t.Errorf("only the credited gift gets an auto-allocation task, got %d", len(store.tasks))
	}
}

// ---------------------------------------------------------------------------
// Cancel
// ---------------------------------------------------------------------------

func TestCancel(t *testing.T) {
	sender := uuid.New()
	receiver := uuid.New()
	g := &models.Gift{ID: uuid.New(), SenderID: sender, ReceiverID: &receiver, Amount: mustDec(t, "100.00"), Status: models.GiftStatusPending}
	store := newMockGiftStore(g)
	svc := NewService(store, &mockCreditLedger{}, &mockEventStore{}, nil, 48*time.Hour, nil)
	ctx := context.Background()

	// Someone else cannot cancel it.
	if err := svc.Cancel(ctx, g.ID, uuid.New()); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("foreign cancel: expected ErrNotCancellable, got: %v", err)
	}
	if err := svc.Cancel(ctx, g.ID, sender); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := store.GetByID(ctx, g.ID)
	if got.Status != models.GiftStatusCancelled {
		t.Errorf("status: got %s, want cancelled", got.Status)
	}
	// A cancelled gift cannot be cancelled twice.
	if err := svc.Cancel(ctx, g.ID, sender); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("double cancel: expected ErrNotCancellable, got: %v", err)
	}
}

func TestCancelPaidGift(t *testing.T) {
	sender := uuid.New()
	receiver := uuid.New()
	g := &models.Gift{ID: uuid.New(), SenderID: sender, ReceiverID: &receiver, Amount: mustDec(t, "100.00"), Status: models.GiftStatusPending, Paid: true}
	store := newMockGiftStore(g)
	svc := NewService(store, &mockCreditLedger{}, &mockEventStore{}, nil, 48*time.Hour, nil)

	if err := svc.Cancel(context.Background(), g.ID, sender); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("paid cancel: expected ErrNotCancellable, got: %v", err)
	}
}
