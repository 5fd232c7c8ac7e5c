package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/returnwatch/internal/domain"
)

func newDeadlineHarness() (*DeadlineService, *memoryDeadlineStore) {
	store := newMemoryDeadlineStore()
	store.rows[1] = domain.Deadline{
		ID:        1,
		UserID:    "user-1",
		ReceiptID: 10,
		Kind:      domain.DeadlineReturn,
		DueAt:     testNow.AddDate(0, 0, 5),
		Status:    domain.DeadlineOpen,
	}
	return NewDeadlineService(store, zap.NewNop()), store
}

func TestDecideClosesDeadline(t *testing.T) {
	svc, store := newDeadlineHarness()

	err := svc.Decide(context.Background(), "user-1", 1, domain.DecisionReturn, "going back to the store")
	require.NoError(t, err)

	stored := store.rows[1]
	require.Equal(t, domain.DeadlineClosed, stored.Status)
	require.Equal(t, domain.DecisionReturn, *stored.Decision)
	require.Equal(t, "going back to the store", stored.Note)
}

func TestDecideRejectsUnknownChoice(t *testing.T) {
	svc, _ := newDeadlineHarness()

	err := svc.Decide(context.Background(), "user-1", 1, domain.DeadlineDecision("maybe"), "")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestDecideHidesOtherUsersDeadlines(t *testing.T) {
	svc, store := newDeadlineHarness()

	err := svc.Decide(context.Background(), "user-2", 1, domain.DecisionKeep, "")
	require.ErrorIs(t, err, domain.ErrDeadlineNotFound)
	require.Equal(t, domain.DeadlineOpen, store.rows[1].Status)
}

func TestDecideAlreadyClosed(t *testing.T) {
	svc, _ := newDeadlineHarness()
	require.NoError(t, svc.Decide(context.Background(), "user-1", 1, domain.DecisionKeep, ""))

	err := svc.Decide(context.Background(), "user-1", 1, domain.DecisionReturn, "")
	require.ErrorIs(t, err, domain.ErrDeadlineNotFound)
}

func TestReopenClearsDecisionAndGates(t *testing.T) {
	svc, store := newDeadlineHarness()
	require.NoError(t, svc.Decide(context.Background(), "user-1", 1, domain.DecisionKeep, ""))

	gated := store.rows[1]
	stamp := testNow
	gated.NotifiedDueAt = &stamp
	gated.NotifiedHeadsUpAt = &stamp
	store.rows[1] = gated

	require.NoError(t, svc.Reopen(context.Background(), "user-1", 1))

	stored := store.rows[1]
	require.Equal(t, domain.DeadlineOpen, stored.Status)
	require.Nil(t, stored.Decision)
	require.Nil(t, stored.NotifiedDueAt)
	require.Nil(t, stored.NotifiedHeadsUpAt)
}
