package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/smallbiznis/returnwatch/internal/domain"
	"github.com/smallbiznis/returnwatch/internal/repository"
)

// DeadlineService applies explicit user decisions to deadlines. These are the
// only paths that change a deadline's status; the scheduler never does.
type DeadlineService struct {
	deadlines repository.DeadlineStore
	logger    *zap.Logger
}

// NewDeadlineService wires the service.
func NewDeadlineService(deadlines repository.DeadlineStore, logger *zap.Logger) *DeadlineService {
	return &DeadlineService{deadlines: deadlines, logger: logger}
}

// Decide closes an open deadline with the user's keep/return choice.
func (s *DeadlineService) Decide(ctx context.Context, userID string, deadlineID int64, decision domain.DeadlineDecision, note string) error {
	if decision != domain.DecisionKeep && decision != domain.DecisionReturn {
		return fmt.Errorf("decision must be keep or return: %w", domain.ErrInvalidRequest)
	}
	if _, err := s.owned(ctx, userID, deadlineID); err != nil {
		return err
	}
	return s.deadlines.Decide(ctx, deadlineID, decision, note)
}

// Reopen resets a deadline to open and clears its decision and both
// notification gates, making every milestone eligible again.
func (s *DeadlineService) Reopen(ctx context.Context, userID string, deadlineID int64) error {
	if _, err := s.owned(ctx, userID, deadlineID); err != nil {
		return err
	}
	return s.deadlines.Reopen(ctx, deadlineID)
}

// owned hides other users' deadlines behind not-found.
func (s *DeadlineService) owned(ctx context.Context, userID string, deadlineID int64) (domain.Deadline, error) {
	deadline, err := s.deadlines.GetByID(ctx, deadlineID)
	if err != nil {
		return domain.Deadline{}, err
	}
	if deadline.UserID != userID {
		return domain.Deadline{}, domain.ErrDeadlineNotFound
	}
	return deadline, nil
}
