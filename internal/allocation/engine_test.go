package allocation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/uberoi/giftledger/internal/ledger"
	"github.com/uberoi/giftledger/internal/models"
	"github.com/uberoi/giftledger/internal/pricing"
)

// ---------------------------------------------------------------------------
// In-memory mocks for LedgerStore and GiftStore. These let us test the real
// engine logic, including the conditional-update guard, without a database.
// ---------------------------------------------------------------------------

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

// --- LedgerStore mock ---

type mockLedger struct {
	mu             sync.Mutex
	ledgers        map[uuid.UUID]*models.Ledger
	history        []*models.AllocationEntry
	fullyAllocated map[uuid.UUID]bool
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		ledgers:        make(map[uuid.UUID]*models.Ledger),
		fullyAllocated: make(map[uuid.UUID]bool),
	}
}

func (m *mockLedger) seed(userID uuid.UUID, unallotted string) {
	m.ledgers[userID] = &models.Ledger{
		UserID:     userID,
		Unallotted: dec(unallotted),
	}
}

func (m *mockLedger) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

func (m *mockLedger) GetTx(_ context.Context, _ pgx.Tx, userID uuid.UUID) (*models.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *l
	return &cp, nil
}

// ApplyAllocation mirrors the guarded UPDATE: the whole mutation happens under
// one lock and fails without side effects when the balance cannot cover it.
func (m *mockLedger) ApplyAllocation(_ context.Context, _ pgx.Tx, userID uuid.UUID, targetType string, total decimal.Decimal, entries []*models.AllocationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[userID]
	if !ok {
		return pgx.ErrNoRows
	}
	if l.Unallotted.LessThan(total) {
		return ledger.ErrInsufficientFunds
	}
	l.Unallotted = l.Unallotted.Sub(total)
	switch targetType {
	case models.TargetGold:
		l.AllottedGold = l.AllottedGold.Add(total)
	case models.TargetStock:
		l.AllottedStock = l.AllottedStock.Add(total)
	}
	for _, e := range entries {
		cp := *e
		m.history = append(m.history, &cp)
	}
	return nil
}

func (m *mockLedger) SumAllocationsForGift(_ context.Context, _ pgx.Tx, giftID uuid.UUID) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, e := range m.history {
		if e.GiftID != nil && *e.GiftID == giftID {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (m *mockLedger) MarkReceiptFullyAllocated(_ context.Context, _ pgx.Tx, giftID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fullyAllocated[giftID] = true
	return nil
}

func (m *mockLedger) snapshot(userID uuid.UUID) models.Ledger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.ledgers[userID]
}

func (m *mockLedger) entriesForGift(giftID uuid.UUID) []*models.AllocationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AllocationEntry
	for _, e := range m.history {
		if e.GiftID != nil && *e.GiftID == giftID {
			out = append(out, e)
		}
	}
	return out
}

// --- GiftStore mock ---

type mockGifts struct {
	mu          sync.Mutex
	gifts       map[uuid.UUID]*models.Gift
	deactivated map[uuid.UUID]bool
}

func newMockGifts(gs ...*models.Gift) *mockGifts {
	m := &mockGifts{
		gifts:       make(map[uuid.UUID]*models.Gift),
		deactivated: make(map[uuid.UUID]bool),
	}
	for _, g := range gs {
		cp := *g
		m.gifts[g.ID] = &cp
	}
	return m
}

func (m *mockGifts) GetForReceiverTx(_ context.Context, _ pgx.Tx, giftID, receiverID uuid.UUID) (*models.Gift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gifts[giftID]
	if !ok || g.ReceiverID == nil || *g.ReceiverID != receiverID {
		return nil, pgx.ErrNoRows
	}
	cp := *g
	return &cp, nil
}

func (m *mockGifts) UpdateStatusTx(_ context.Context, _ pgx.Tx, giftID uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gifts[giftID]
	if !ok {
		return pgx.ErrNoRows
	}
	g.Status = status
	return nil
}

func (m *mockGifts) DeactivateTasksForGiftTx(_ context.Context, _ pgx.Tx, giftID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivated[giftID] = true
	return nil
}

func (m *mockGifts) status(giftID uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gifts[giftID].Status
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testOracle() *pricing.StaticOracle {
	return pricing.NewStaticOracle(map[string]decimal.Decimal{
		models.TargetGold:  dec("11203.00"),
		models.TargetStock: dec("159.62"),
	})
}

func paidGift(receiver, sender uuid.UUID, amount string) *models.Gift {
	return &models.Gift{
		ID:         uuid.New(),
		SenderID:   sender,
		ReceiverID: &receiver,
		Amount:     dec(amount),
		Status:     models.GiftStatusPending,
		Paid:       true,
	}
}

// ---------------------------------------------------------------------------
// Pool allocation arithmetic
// ---------------------------------------------------------------------------

func TestAllocatePoolGold(t *testing.T) {
	user := uuid.New()
	ml := newMockLedger()
	ml.seed(user, "20000.00")
	engine := NewEngine(ml, newMockGifts(), testOracle(), nil)

	res, err := engine.Allocate(context.Background(), user, models.TargetGold, dec("11203.00"), nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(res.Entries))
	}
	e := res.Entries[0]
	if !e.Units.Equal(dec("1")) {
		t.Errorf("units: got %s, want 1", e.Units)
	}
	if !e.PricePerUnit.Equal(dec("11203.00")) {
		t.Errorf("price per unit: got %s, want 11203.00", e.PricePerUnit)
	}
	if e.GiftID != nil {
		t.Error("pool allocation must not reference a gift")
	}

	l := ml.snapshot(user)
	if !l.Unallotted.Equal(dec("8797.00")) {
		t.Errorf("unallotted: got %s, want 8797.00", l.Unallotted)
	}
	if !l.AllottedGold.Equal(dec("11203.00")) {
		t.Errorf("allotted_gold: got %s, want 11203.00", l.AllottedGold)
	}
	if !l.AllottedStock.IsZero() {
		t.Errorf("allotted_stock should be untouched, got %s", l.AllottedStock)
	}
}

func TestAllocatePoolStockUnits(t *testing.T) {
	user := uuid.New()
	ml := newMockLedger()
	ml.seed(user, "2000.00")
	engine := NewEngine(ml, newMockGifts(), testOracle(), nil)

	res, err := engine.Allocate(context.Background(), user, models.TargetStock, dec("1596.20"), nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if !res.Entries[0].Units.Equal(dec("10")) {
		t.Errorf("units: got %s, want 10", res.Entries[0].Units)
	}
}

// Total money across buckets never changes during an allocation; it only
// moves between them.
func TestAllocateConservesTotal(t *testing.T) {
	user := uuid.New()
	ml := newMockLedger()
	ml.seed(user, "5000.00")
	engine := NewEngine(ml, newMockGifts(), testOracle(), nil)

	beforeLedger := ml.snapshot(user)
	before := beforeLedger.Total()
	if _, err := engine.Allocate(context.Background(), user, models.TargetStock, dec("1234.56"), nil); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	afterLedger := ml.snapshot(user)
	after := afterLedger.Total()
	if !before.Equal(after) {
		t.Errorf("total changed: before %s, after %s", before, after)
	}
}

// ---------------------------------------------------------------------------
// Validation and failure paths
// ---------------------------------------------------------------------------

func TestAllocateInvalidTarget(t *testing.T) {
	user := uuid.New()
	ml := newMockLedger()
	ml.seed(user, "1000.00")
	engine := NewEngine(ml, newMockGifts(), testOracle(), nil)

	_, err := engine.Allocate(context.Background(), user, "crypto", dec("100.00"), nil)
	if !errors.Is(err, ErrInvalidTargetType) {
		t.Errorf("expected ErrInvalidTargetType, got: %v", err)
	}
}

func TestAllocateNonPositiveAmount(t *testing.T) {
	user := uuid.New()
	ml := newMockLedger()
	ml.seed(user, "1000.00")
	engine := NewEngine(ml, newMockGifts(), testOracle(), nil)

	for _, amount := range []string{"0", "-5.00"} {
		if _, err := engine.Allocate(context.Background(), user, models.TargetGold, dec(amount), nil); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %s: expected ErrInvalidAmount, got: %v", amount, err)
		}
	}
}

func TestAllocateInsufficientFunds(t *testing.T) {
	user := uuid.New()
	ml := newMockLedger()
	ml.seed(user, "100.00")
	engine := NewEngine(ml, newMockGifts(), testOracle(), nil)

	_, err := engine.Allocate(context.Background(), user, models.TargetGold, dec("250.00"), nil)
	if !errors.Is(err, ErrInsufficientUnallotted) {
		t.Fatalf("expected ErrInsufficientUnallotted, got: %v", err)
	}
	if !strings.Contains(err.Error(), "available 100") || !strings.Contains(err.Error(), "requested 250") {
		t.Errorf("error should report available and requested amounts, got: %v", err)
	}
	// Nothing moved.
	l := ml.snapshot(user)
	if !l.Unallotted.Equal(dec("100.00")) || !l.AllottedGold.IsZero() {
		t.Errorf("failed allocation mutated the ledger: %+v", l)
	}
	if len(ml.history) != 0 {
		t.Errorf("failed allocation wrote %d history entries", len(ml.history))
	}
}

func TestAllocatePriceUnavailable(t *testing.T) {
	user := uuid.New()
	ml := newMockLedger()
	ml.seed(user, "1000.00")
	empty := pricing.NewStaticOracle(nil)
	engine := NewEngine(ml, newMockGifts(), empty, nil)

	_, err := engine.Allocate(context.Background(), user, models.TargetGold, dec("100.00"), nil)
	if !errors.Is(err, pricing.ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got: %v", err)
	}
	if !ml.snapshot(user).Unallotted.Equal(dec("1000.00")) {
		t.Error("allocation without a price must not touch the ledger")
	}
}

func TestAllocateGiftNotFound(t *testing.T) {
	user := uuid.New()
	ml := newMockLedger()
	ml.seed(user, "1000.00")
	engine := NewEngine(ml, newMockGifts(), testOracle(), nil)

	missing := uuid.New()
	_, err := engine.Allocate(context.Background(), user, models.TargetGold, dec("100.00"), &missing)
	if !errors.Is(err, ErrGiftNotFound) {
		t.Errorf("expected ErrGiftNotFound, got: %v", err)
	}
}

func TestAllocateOtherReceiversGift(t *testing.T) {
	user := uuid.New()
	other := uuid.New()
	g := paidGift(other, uuid.New(), "500.00")
	ml := newMockLedger()
	ml.seed(user, "1000.00")
	engine := NewEngine(ml, newMockGifts(g), testOracle(), nil)

	_, err := engine.Allocate(context.Background(), user, models.TargetGold, dec("100.00"), &g.ID)
	if !errors.Is(err, ErrGiftNotFound) {
		t.Errorf("expected ErrGiftNotFound for someone else's gift, got: %v", err)
	}
}

func TestAllocateUnpaidGift(t *testing.T) {
	user := uuid.New()
	g := paidGift(user, uuid.New(), "500.00")
	g.Paid = false
	ml := newMockLedger()
	ml.seed(user, "1000.00")
	engine := NewEngine(ml, newMockGifts(g), testOracle(), nil)

	_, err := engine.Allocate(context.Background(), user, models.TargetGold, dec("100.00"), &g.ID)
	if !errors.Is(err, ErrGiftPaymentPending) {
		t.Errorf("expected ErrGiftPaymentPending, got: %v", err)
	}
}

// A self-gift skips the payment gate: sender and receiver are the same user.
func TestAllocateSelfGiftUnpaid(t *testing.T) {
	user := uuid.New()
	g := paidGift(user, user, "500.00")
	g.Paid = false
	ml := newMockLedger()
	ml.seed(user, "1000.00")
	engine := NewEngine(ml, newMockGifts(g), testOracle(), nil)

	if _, err := engine.Allocate(context.Background(), user, models.TargetGold, dec("100.00"), &g.ID); err != nil {
		t.Errorf("self-gift allocation should not require payment, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Gift status settlement
// ---------------------------------------------------------------------------

func TestAllocatePartialThenFull(t *testing.T) {
	user := uuid.New()
	g := paidGift(user, uuid.New(), "1000.00")
	ml := newMockLedger()
	ml.seed(user, "1000.00")
	mg := newMockGifts(g)
	engine := NewEngine(ml, mg, testOracle(), nil)
	ctx := context.Background()

	// Partial: 300 of 1000 moves the gift to accepted.
	if _, err := engine.Allocate(ctx, user, models.TargetGold, dec("300.00"), &g.ID); err != nil {
		t.Fatalf("partial allocate: %v", err)
	}
	if got := mg.status(g.ID); got != models.GiftStatusAccepted {
		t.Errorf("status after partial: got %s, want accepted", got)
	}
	if ml.fullyAllocated[g.ID] {
		t.Error("receipt flagged fully allocated after a partial allocation")
	}

	// Remainder: cumulative 1000 of 1000 moves it to allotted.
	if _, err := engine.Allocate(ctx, user, models.TargetStock, dec("700.00"), &g.ID); err != nil {
		t.Fatalf("final allocate: %v", err)
	}
	if got := mg.status(g.ID); got != models.GiftStatusAllotted {
		t.Errorf("status after full coverage: got %s, want allotted", got)
	}
	if !ml.fullyAllocated[g.ID] {
		t.Error("receipt should be flagged fully allocated")
	}
	if !mg.deactivated[g.ID] {
		t.Error("auto-allocation task should be deactivated on full coverage")
	}
}

// ---------------------------------------------------------------------------
// Bulk allocation
// ---------------------------------------------------------------------------

func TestAllocateBulkSplit(t *testing.T) {
	user := uuid.New()
	sender := uuid.New()
	g1 := paidGift(user, sender, "400.00")
	g2 := paidGift(user, sender, "400.00")
	g3 := paidGift(user, sender, "400.00")
	ml := newMockLedger()
	ml.seed(user, "1000.00")
	engine := NewEngine(ml, newMockGifts(g1, g2, g3), testOracle(), nil)

	res, err := engine.AllocateBulk(context.Background(), user, models.TargetGold, dec("1000.00"), []uuid.UUID{g1.ID, g2.ID, g3.ID})
	if err != nil {
		t.Fatalf("AllocateBulk: %v", err)
	}
	if len(res.Entries) != 3 {
		t.Fatalf("entries: got %d, want 3", len(res.Entries))
	}
	sum := decimal.Zero
	for _, e := range res.Entries {
		sum = sum.Add(e.Amount)
	}
	if !sum.Equal(dec("1000.00")) {
		t.Errorf("entry amounts sum to %s, want 1000.00", sum)
	}
	// Equal shares with the rounding remainder on the last entry.
	if !res.Entries[0].Amount.Equal(dec("333.33")) || !res.Entries[2].Amount.Equal(dec("333.34")) {
		t.Errorf("shares: got %s/%s/%s", res.Entries[0].Amount, res.Entries[1].Amount, res.Entries[2].Amount)
	}
	if !ml.snapshot(user).Unallotted.IsZero() {
		t.Errorf("unallotted after bulk: got %s, want 0", ml.snapshot(user).Unallotted)
	}
}

func TestAllocateBulkEmpty(t *testing.T) {
	engine := NewEngine(newMockLedger(), newMockGifts(), testOracle(), nil)
	if _, err := engine.AllocateBulk(context.Background(), uuid.New(), models.TargetGold, dec("100.00"), nil); !errors.Is(err, ErrGiftNotFound) {
		t.Errorf("expected ErrGiftNotFound for empty gift list, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Concurrency: the balance guard admits exactly one of N racing allocations
// that each want the whole balance.
// ---------------------------------------------------------------------------

func TestConcurrentAllocationSingleWinner(t *testing.T) {
	user := uuid.New()
	ml := newMockLedger()
	ml.seed(user, "500.00")
	engine := NewEngine(ml, newMockGifts(), testOracle(), nil)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Allocate(context.Background(), user, models.TargetGold, dec("500.00"), nil)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrInsufficientUnallotted):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("winners: got %d, want exactly 1", winners)
	}
	l := ml.snapshot(user)
	if !l.Unallotted.IsZero() || !l.AllottedGold.Equal(dec("500.00")) {
		t.Errorf("final ledger: %+v", l)
	}
}
