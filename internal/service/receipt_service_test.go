package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/returnwatch/internal/decision"
	"github.com/smallbiznis/returnwatch/internal/domain"
	"github.com/smallbiznis/returnwatch/internal/identity"
	"github.com/smallbiznis/returnwatch/internal/policy"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

// ---- Fakes ----

type memoryReceiptRepo struct {
	byHash map[string]domain.Receipt
}

func newMemoryReceiptRepo() *memoryReceiptRepo {
	return &memoryReceiptRepo{byHash: make(map[string]domain.Receipt)}
}

func (r *memoryReceiptRepo) CreateIfAbsent(_ context.Context, receipt domain.Receipt) (domain.Receipt, bool, error) {
	if existing, ok := r.byHash[receipt.DedupeHash]; ok {
		return existing, false, nil
	}
	r.byHash[receipt.DedupeHash] = receipt
	return receipt, true, nil
}

func (r *memoryReceiptRepo) GetByID(_ context.Context, id int64) (domain.Receipt, error) {
	for _, receipt := range r.byHash {
		if receipt.ID == id {
			return receipt, nil
		}
	}
	return domain.Receipt{}, domain.ErrReceiptNotFound
}

func (r *memoryReceiptRepo) GetByHash(_ context.Context, hash string) (domain.Receipt, error) {
	if receipt, ok := r.byHash[hash]; ok {
		return receipt, nil
	}
	return domain.Receipt{}, domain.ErrReceiptNotFound
}

type memoryDeadlineStore struct {
	rows map[int64]domain.Deadline
	// createErrs is consumed one per Create call, simulating a store that
	// fails and then heals.
	createErrs []error
}

func newMemoryDeadlineStore() *memoryDeadlineStore {
	return &memoryDeadlineStore{rows: make(map[int64]domain.Deadline)}
}

func (s *memoryDeadlineStore) Create(_ context.Context, d domain.Deadline) (domain.Deadline, error) {
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return domain.Deadline{}, err
		}
	}
	s.rows[d.ID] = d
	return d, nil
}

func (s *memoryDeadlineStore) GetByReceiptID(_ context.Context, receiptID int64) (domain.Deadline, error) {
	for _, d := range s.rows {
		if d.ReceiptID == receiptID {
			return d, nil
		}
	}
	return domain.Deadline{}, domain.ErrDeadlineNotFound
}

func (s *memoryDeadlineStore) GetByID(_ context.Context, id int64) (domain.Deadline, error) {
	if d, ok := s.rows[id]; ok {
		return d, nil
	}
	return domain.Deadline{}, domain.ErrDeadlineNotFound
}

func (s *memoryDeadlineStore) ListDueUnnotified(context.Context, domain.Milestone, time.Time, time.Time) ([]domain.Deadline, error) {
	return nil, nil
}

func (s *memoryDeadlineStore) ClaimGate(context.Context, int64, domain.Milestone, time.Time) (bool, error) {
	return false, nil
}

func (s *memoryDeadlineStore) ReleaseGate(context.Context, int64, domain.Milestone) error {
	return nil
}

func (s *memoryDeadlineStore) Decide(_ context.Context, id int64, decision domain.DeadlineDecision, note string) error {
	d, ok := s.rows[id]
	if !ok || d.Status != domain.DeadlineOpen {
		return domain.ErrDeadlineNotFound
	}
	d.Status = domain.DeadlineClosed
	d.Decision = &decision
	d.Note = note
	s.rows[id] = d
	return nil
}

func (s *memoryDeadlineStore) Reopen(_ context.Context, id int64) error {
	d, ok := s.rows[id]
	if !ok {
		return domain.ErrDeadlineNotFound
	}
	d.Status = domain.DeadlineOpen
	d.Decision = nil
	d.NotifiedDueAt = nil
	d.NotifiedHeadsUpAt = nil
	s.rows[id] = d
	return nil
}

type memoryDedupeGuard struct {
	seen map[string]bool
}

func (g *memoryDedupeGuard) FirstSeen(_ context.Context, hash string) (bool, error) {
	if g.seen[hash] {
		return false, nil
	}
	g.seen[hash] = true
	return true, nil
}

func (g *memoryDedupeGuard) Forget(_ context.Context, hash string) error {
	delete(g.seen, hash)
	return nil
}

// ---- Harness ----

type serviceHarness struct {
	service   *ReceiptService
	receipts  *memoryReceiptRepo
	deadlines *memoryDeadlineStore
	guard     *memoryDedupeGuard
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	receipts := newMemoryReceiptRepo()
	deadlines := newMemoryDeadlineStore()
	guard := &memoryDedupeGuard{seen: make(map[string]bool)}
	catalog := policy.NewCatalog()
	svc := NewReceiptService(receipts, deadlines, guard, catalog, decision.NewEngine(catalog), node, zap.NewNop())
	svc.now = func() time.Time { return testNow }
	return &serviceHarness{service: svc, receipts: receipts, deadlines: deadlines, guard: guard}
}

func ingestInput() IngestReceiptInput {
	purchased := testNow.AddDate(0, 0, -3)
	return IngestReceiptInput{
		UserID:      "user-1",
		Merchant:    "Target",
		OrderID:     "ORD-42",
		PurchasedAt: &purchased,
		Currency:    "usd",
		Total:       "$100.00",
	}
}

func TestIngestCreatesReceiptAndDeadline(t *testing.T) {
	h := newServiceHarness(t)

	out, err := h.service.Ingest(context.Background(), ingestInput())
	require.NoError(t, err)
	require.True(t, out.Created)
	require.Equal(t, int64(10000), out.Receipt.TotalMinorUnits)
	require.Len(t, out.Receipt.DedupeHash, 64)

	require.NotNil(t, out.Deadline)
	require.Equal(t, domain.DeadlineOpen, out.Deadline.Status)
	require.Equal(t, domain.DeadlineReturn, out.Deadline.Kind)
	// Target policy: 90-day return window from purchase.
	require.Equal(t, testNow.AddDate(0, 0, -3).AddDate(0, 0, 90), out.Deadline.DueAt)
}

func TestIngestDuplicateReturnsExistingWithoutNewDeadline(t *testing.T) {
	h := newServiceHarness(t)

	first, err := h.service.Ingest(context.Background(), ingestInput())
	require.NoError(t, err)

	// Same purchase, noisier representation: padded merchant, numeric total.
	in := ingestInput()
	in.Merchant = "  TARGET "
	in.Total = int64(10000)

	second, err := h.service.Ingest(context.Background(), in)
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, first.Receipt.ID, second.Receipt.ID)
	require.NotNil(t, second.Deadline)
	require.Equal(t, first.Deadline.ID, second.Deadline.ID)
	require.Len(t, h.deadlines.rows, 1)
}

func TestIngestRetryBackfillsFailedDeadline(t *testing.T) {
	h := newServiceHarness(t)
	h.deadlines.createErrs = []error{errors.New("connection reset")}

	// The receipt lands but the deadline insert dies.
	first, err := h.service.Ingest(context.Background(), ingestInput())
	require.NoError(t, err)
	require.True(t, first.Created)
	require.Nil(t, first.Deadline)
	require.Empty(t, h.deadlines.rows)

	// The channel redelivers; the duplicate path repairs the deadline.
	second, err := h.service.Ingest(context.Background(), ingestInput())
	require.NoError(t, err)
	require.False(t, second.Created)
	require.NotNil(t, second.Deadline)
	require.Equal(t, first.Receipt.ID, second.Deadline.ReceiptID)
	require.Len(t, h.deadlines.rows, 1)

	stored, err := h.deadlines.GetByReceiptID(context.Background(), first.Receipt.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DeadlineOpen, stored.Status)
	require.Equal(t, testNow.AddDate(0, 0, -3).AddDate(0, 0, 90), stored.DueAt)
}

func TestIngestRequiresUser(t *testing.T) {
	h := newServiceHarness(t)
	in := ingestInput()
	in.UserID = ""

	_, err := h.service.Ingest(context.Background(), in)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestIngestWithoutPurchaseDateSkipsDeadline(t *testing.T) {
	h := newServiceHarness(t)
	in := ingestInput()
	in.PurchasedAt = nil

	out, err := h.service.Ingest(context.Background(), in)
	require.NoError(t, err)
	require.True(t, out.Created)
	require.Nil(t, out.Deadline)
	require.Empty(t, h.deadlines.rows)
}

func TestIngestSurvivesGuardAmnesia(t *testing.T) {
	h := newServiceHarness(t)

	// Guard says seen, store has nothing: the row was lost mid-ingest. The
	// fallback path inserts anyway.
	in := ingestInput()
	hash := identity.Hash(domain.ReceiptIdentity{
		UserID:      in.UserID,
		Merchant:    in.Merchant,
		OrderID:     in.OrderID,
		PurchasedAt: in.PurchasedAt,
		Currency:    in.Currency,
		Total:       in.Total,
	})
	_, err := h.guard.FirstSeen(context.Background(), hash)
	require.NoError(t, err)

	out, err := h.service.Ingest(context.Background(), in)
	require.NoError(t, err)
	require.True(t, out.Created)
}

func TestPreviewIsDryRun(t *testing.T) {
	h := newServiceHarness(t)
	out, err := h.service.Ingest(context.Background(), ingestInput())
	require.NoError(t, err)

	current := int64(9000)
	preview, err := h.service.Preview(context.Background(), out.Receipt.ID, &current)
	require.NoError(t, err)
	require.Equal(t, domain.SuggestionPriceAdjust, preview.Suggestion)
	require.Equal(t, int64(1000), *preview.SavingsMinorUnits)

	// Dry run: the deadline's gates are untouched.
	stored, err := h.deadlines.GetByID(context.Background(), out.Deadline.ID)
	require.NoError(t, err)
	require.Nil(t, stored.NotifiedDueAt)
	require.Nil(t, stored.NotifiedHeadsUpAt)
}

func TestPreviewUnknownReceipt(t *testing.T) {
	h := newServiceHarness(t)
	_, err := h.service.Preview(context.Background(), 404, nil)
	require.ErrorIs(t, err, domain.ErrReceiptNotFound)
}
