package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/returnwatch/internal/adapter/notify"
	"github.com/smallbiznis/returnwatch/internal/decision"
	"github.com/smallbiznis/returnwatch/internal/domain"
	"github.com/smallbiznis/returnwatch/internal/policy"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

// ---- Fakes ----

type memoryDeadlineStore struct {
	mu        sync.Mutex
	rows      map[int64]*domain.Deadline
	claimErrs map[int64]error
}

func newMemoryDeadlineStore() *memoryDeadlineStore {
	return &memoryDeadlineStore{
		rows:      make(map[int64]*domain.Deadline),
		claimErrs: make(map[int64]error),
	}
}

func (s *memoryDeadlineStore) put(d domain.Deadline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := d
	s.rows[d.ID] = &row
}

func (s *memoryDeadlineStore) gate(d *domain.Deadline, milestone domain.Milestone) **time.Time {
	if milestone == domain.MilestoneHeadsUp {
		return &d.NotifiedHeadsUpAt
	}
	return &d.NotifiedDueAt
}

func (s *memoryDeadlineStore) Create(_ context.Context, d domain.Deadline) (domain.Deadline, error) {
	s.put(d)
	return d, nil
}

func (s *memoryDeadlineStore) GetByID(_ context.Context, id int64) (domain.Deadline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		return *row, nil
	}
	return domain.Deadline{}, domain.ErrDeadlineNotFound
}

func (s *memoryDeadlineStore) GetByReceiptID(_ context.Context, receiptID int64) (domain.Deadline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ReceiptID == receiptID {
			return *row, nil
		}
	}
	return domain.Deadline{}, domain.ErrDeadlineNotFound
}

func (s *memoryDeadlineStore) ListDueUnnotified(_ context.Context, milestone domain.Milestone, from, to time.Time) ([]domain.Deadline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Deadline
	for _, row := range s.rows {
		if row.Status != domain.DeadlineOpen {
			continue
		}
		if row.DueAt.Before(from) || !row.DueAt.Before(to) {
			continue
		}
		if *s.gate(row, milestone) != nil {
			continue
		}
		out = append(out, *row)
	}
	return out, nil
}

func (s *memoryDeadlineStore) ClaimGate(_ context.Context, id int64, milestone domain.Milestone, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.claimErrs[id]; ok {
		return false, err
	}
	row, ok := s.rows[id]
	if !ok {
		return false, domain.ErrDeadlineNotFound
	}
	gate := s.gate(row, milestone)
	if *gate != nil {
		return false, nil
	}
	stamp := at
	*gate = &stamp
	return true, nil
}

func (s *memoryDeadlineStore) ReleaseGate(_ context.Context, id int64, milestone domain.Milestone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return domain.ErrDeadlineNotFound
	}
	*s.gate(row, milestone) = nil
	return nil
}

func (s *memoryDeadlineStore) Decide(_ context.Context, id int64, decision domain.DeadlineDecision, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.Status != domain.DeadlineOpen {
		return domain.ErrDeadlineNotFound
	}
	row.Status = domain.DeadlineClosed
	row.Decision = &decision
	row.Note = note
	return nil
}

func (s *memoryDeadlineStore) Reopen(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return domain.ErrDeadlineNotFound
	}
	row.Status = domain.DeadlineOpen
	row.Decision = nil
	row.NotifiedDueAt = nil
	row.NotifiedHeadsUpAt = nil
	return nil
}

type memoryReceiptRepo struct {
	rows map[int64]domain.Receipt
}

func (r *memoryReceiptRepo) CreateIfAbsent(_ context.Context, receipt domain.Receipt) (domain.Receipt, bool, error) {
	r.rows[receipt.ID] = receipt
	return receipt, true, nil
}

func (r *memoryReceiptRepo) GetByID(_ context.Context, id int64) (domain.Receipt, error) {
	if receipt, ok := r.rows[id]; ok {
		return receipt, nil
	}
	return domain.Receipt{}, domain.ErrReceiptNotFound
}

func (r *memoryReceiptRepo) GetByHash(_ context.Context, hash string) (domain.Receipt, error) {
	for _, receipt := range r.rows {
		if receipt.DedupeHash == hash {
			return receipt, nil
		}
	}
	return domain.Receipt{}, domain.ErrReceiptNotFound
}

type recordingNotifier struct {
	sent []notify.Message
	fail map[int64]error
}

func (n *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	if err, ok := n.fail[msg.DeadlineID]; ok {
		return err
	}
	n.sent = append(n.sent, msg)
	return nil
}

// ---- Harness ----

type schedulerHarness struct {
	scheduler *Scheduler
	deadlines *memoryDeadlineStore
	receipts  *memoryReceiptRepo
	notifier  *recordingNotifier
}

func newSchedulerHarness() *schedulerHarness {
	deadlines := newMemoryDeadlineStore()
	receipts := &memoryReceiptRepo{rows: make(map[int64]domain.Receipt)}
	notifier := &recordingNotifier{fail: make(map[int64]error)}
	engine := decision.NewEngine(policy.NewCatalog())
	s := NewScheduler(deadlines, receipts, engine, notifier, DefaultHeadsUpDays, zap.NewNop())
	s.now = func() time.Time { return testNow }
	return &schedulerHarness{scheduler: s, deadlines: deadlines, receipts: receipts, notifier: notifier}
}

func (h *schedulerHarness) addDeadline(id int64, dueAt time.Time) {
	purchased := testNow.AddDate(0, 0, -10)
	h.receipts.rows[id] = domain.Receipt{
		ID:              id,
		UserID:          "user-1",
		Merchant:        "target",
		OrderID:         "ord-1",
		PurchasedAt:     &purchased,
		Currency:        "USD",
		TotalMinorUnits: 10000,
	}
	h.deadlines.put(domain.Deadline{
		ID:        id,
		UserID:    "user-1",
		ReceiptID: id,
		Kind:      domain.DeadlineReturn,
		DueAt:     dueAt,
		Status:    domain.DeadlineOpen,
	})
}

func TestRunDueTodaySendsAndGates(t *testing.T) {
	h := newSchedulerHarness()
	h.addDeadline(1, testNow.Add(2*time.Hour))

	result, err := h.scheduler.Run(context.Background(), domain.MilestoneDueToday)
	require.NoError(t, err)
	require.Equal(t, Result{Processed: 1, Sent: 1}, result)
	require.Len(t, h.notifier.sent, 1)
	require.Equal(t, "due_today", h.notifier.sent[0].Milestone)
	require.Contains(t, h.notifier.sent[0].Subject, "today")

	stored, err := h.deadlines.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, stored.NotifiedDueAt)
	require.Nil(t, stored.NotifiedHeadsUpAt)
}

func TestRunSecondInvocationSendsNothing(t *testing.T) {
	h := newSchedulerHarness()
	h.addDeadline(1, testNow.Add(2*time.Hour))

	_, err := h.scheduler.Run(context.Background(), domain.MilestoneDueToday)
	require.NoError(t, err)

	result, err := h.scheduler.Run(context.Background(), domain.MilestoneDueToday)
	require.NoError(t, err)
	require.Equal(t, Result{}, result)
	require.Len(t, h.notifier.sent, 1)
}

func TestRunHeadsUpSelectsSevenDaysOut(t *testing.T) {
	h := newSchedulerHarness()
	h.addDeadline(1, testNow.AddDate(0, 0, 7))
	h.addDeadline(2, testNow.Add(2*time.Hour)) // due today, outside heads-up window

	result, err := h.scheduler.Run(context.Background(), domain.MilestoneHeadsUp)
	require.NoError(t, err)
	require.Equal(t, Result{Processed: 1, Sent: 1}, result)
	require.Equal(t, int64(1), h.notifier.sent[0].DeadlineID)
	require.Contains(t, h.notifier.sent[0].Subject, "7 days")

	stored, err := h.deadlines.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, stored.NotifiedHeadsUpAt)
	require.Nil(t, stored.NotifiedDueAt)
}

func TestRunGatesAreIndependentPerMilestone(t *testing.T) {
	h := newSchedulerHarness()
	h.addDeadline(1, testNow.Add(2*time.Hour))

	_, err := h.scheduler.Run(context.Background(), domain.MilestoneDueToday)
	require.NoError(t, err)

	// The due_today gate does not block a heads_up selection; the deadline is
	// simply outside the heads_up window here.
	stored, err := h.deadlines.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, stored.NotifiedDueAt)
	require.Nil(t, stored.NotifiedHeadsUpAt)
}

func TestRunFailedSendReleasesGateForNextRun(t *testing.T) {
	h := newSchedulerHarness()
	h.addDeadline(1, testNow.Add(2*time.Hour))
	h.addDeadline(2, testNow.Add(3*time.Hour))
	h.notifier.fail[1] = &notify.SendError{Status: 502, Reason: "bad gateway"}

	result, err := h.scheduler.Run(context.Background(), domain.MilestoneDueToday)
	require.NoError(t, err)
	require.Equal(t, Result{Processed: 2, Sent: 1}, result)

	// Failed item's gate stays null so the next run retries it.
	stored, err := h.deadlines.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, stored.NotifiedDueAt)

	delete(h.notifier.fail, 1)
	result, err = h.scheduler.Run(context.Background(), domain.MilestoneDueToday)
	require.NoError(t, err)
	require.Equal(t, Result{Processed: 1, Sent: 1}, result)
}

func TestRunClaimWriteFailureSkipsItemOnly(t *testing.T) {
	h := newSchedulerHarness()
	h.addDeadline(1, testNow.Add(2*time.Hour))
	h.addDeadline(2, testNow.Add(3*time.Hour))
	h.deadlines.claimErrs[1] = errors.New("connection reset")

	// A gate write failure is logged and counted processed-but-not-sent; the
	// rest of the batch still goes out.
	result, err := h.scheduler.Run(context.Background(), domain.MilestoneDueToday)
	require.NoError(t, err)
	require.Equal(t, Result{Processed: 2, Sent: 1}, result)
	require.Len(t, h.notifier.sent, 1)
	require.Equal(t, int64(2), h.notifier.sent[0].DeadlineID)

	// The gate was never written, so the next run retries the item.
	stored, err := h.deadlines.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, stored.NotifiedDueAt)

	delete(h.deadlines.claimErrs, 1)
	result, err = h.scheduler.Run(context.Background(), domain.MilestoneDueToday)
	require.NoError(t, err)
	require.Equal(t, Result{Processed: 1, Sent: 1}, result)
}

func TestRunClosedDeadlinesAreNeverSelected(t *testing.T) {
	h := newSchedulerHarness()
	h.addDeadline(1, testNow.Add(2*time.Hour))
	require.NoError(t, h.deadlines.Decide(context.Background(), 1, domain.DecisionKeep, ""))

	result, err := h.scheduler.Run(context.Background(), domain.MilestoneDueToday)
	require.NoError(t, err)
	require.Equal(t, Result{}, result)
}

func TestRunUnknownMilestone(t *testing.T) {
	h := newSchedulerHarness()
	_, err := h.scheduler.Run(context.Background(), domain.Milestone("hourly"))
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestRunMissingReceiptSkipsAndReleases(t *testing.T) {
	h := newSchedulerHarness()
	h.addDeadline(1, testNow.Add(2*time.Hour))
	delete(h.receipts.rows, 1)

	result, err := h.scheduler.Run(context.Background(), domain.MilestoneDueToday)
	require.NoError(t, err)
	require.Equal(t, Result{Processed: 1, Sent: 0}, result)

	stored, err := h.deadlines.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, stored.NotifiedDueAt)
}
