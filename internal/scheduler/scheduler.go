// Package scheduler runs the milestone notification batches. Runs are
// triggered externally and may overlap; safety comes from the claim-before-send
// discipline on the per-deadline notification gates, not from locks.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/returnwatch/internal/adapter/notify"
	"github.com/smallbiznis/returnwatch/internal/decision"
	"github.com/smallbiznis/returnwatch/internal/domain"
	"github.com/smallbiznis/returnwatch/internal/repository"
)

// DefaultHeadsUpDays is how far ahead the advance-warning milestone looks.
const DefaultHeadsUpDays = 7

// Result aggregates one run. Processed counts every selected deadline,
// including ones whose send failed; Sent counts delivered messages.
type Result struct {
	Processed int
	Sent      int
}

// Scheduler selects due deadlines and drives at-most-once delivery.
type Scheduler struct {
	deadlines   repository.DeadlineStore
	receipts    repository.ReceiptRepository
	engine      *decision.Engine
	notifier    notify.Notifier
	headsUpDays int
	now         func() time.Time
	logger      *zap.Logger
}

// NewScheduler wires the scheduler. A non-positive headsUpDays falls back to
// DefaultHeadsUpDays.
func NewScheduler(deadlines repository.DeadlineStore, receipts repository.ReceiptRepository, engine *decision.Engine, notifier notify.Notifier, headsUpDays int, logger *zap.Logger) *Scheduler {
	if headsUpDays <= 0 {
		headsUpDays = DefaultHeadsUpDays
	}
	return &Scheduler{
		deadlines:   deadlines,
		receipts:    receipts,
		engine:      engine,
		notifier:    notifier,
		headsUpDays: headsUpDays,
		now:         time.Now,
		logger:      logger,
	}
}

// Run processes one milestone batch. A single item's failure never aborts the
// batch: the item is logged, its gate is released, and the next scheduled run
// picks it up again because the gate is null.
func (s *Scheduler) Run(ctx context.Context, milestone domain.Milestone) (Result, error) {
	from, to, err := s.window(milestone)
	if err != nil {
		return Result{}, err
	}

	due, err := s.deadlines.ListDueUnnotified(ctx, milestone, from, to)
	if err != nil {
		return Result{}, fmt.Errorf("select due deadlines: %w", err)
	}

	var result Result
	for _, deadline := range due {
		result.Processed++
		if s.processOne(ctx, milestone, deadline) {
			result.Sent++
		}
	}

	s.log().Info("notification run complete",
		zap.String("milestone", string(milestone)),
		zap.Time("window_from", from),
		zap.Time("window_to", to),
		zap.Int("processed", result.Processed),
		zap.Int("sent", result.Sent),
	)
	return result, nil
}

// processOne claims the gate, composes, and sends. The claim is the atomic
// check-then-act: a lost claim means a concurrent run already owns the item.
func (s *Scheduler) processOne(ctx context.Context, milestone domain.Milestone, deadline domain.Deadline) bool {
	claimed, err := s.deadlines.ClaimGate(ctx, deadline.ID, milestone, s.now())
	if err != nil {
		s.log().Error("gate claim failed, skipping item",
			zap.Int64("deadline_id", deadline.ID),
			zap.String("milestone", string(milestone)),
			zap.Error(err),
		)
		return false
	}
	if !claimed {
		return false
	}

	receipt, err := s.receipts.GetByID(ctx, deadline.ReceiptID)
	if err != nil {
		s.log().Error("receipt lookup failed, releasing gate",
			zap.Int64("deadline_id", deadline.ID),
			zap.Int64("receipt_id", deadline.ReceiptID),
			zap.Error(err),
		)
		s.releaseGate(ctx, deadline.ID, milestone)
		return false
	}

	msg := s.composeMessage(milestone, deadline, receipt)
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.log().Warn("notification send failed, releasing gate for next run",
			zap.Int64("deadline_id", deadline.ID),
			zap.String("milestone", string(milestone)),
			zap.Error(err),
		)
		s.releaseGate(ctx, deadline.ID, milestone)
		return false
	}
	return true
}

// releaseGate is best effort. If the release itself fails the gate stays set
// and the item needs operator attention; that beats double-sending.
func (s *Scheduler) releaseGate(ctx context.Context, deadlineID int64, milestone domain.Milestone) {
	if err := s.deadlines.ReleaseGate(ctx, deadlineID, milestone); err != nil {
		s.log().Error("gate release failed, item will not retry automatically",
			zap.Int64("deadline_id", deadlineID),
			zap.String("milestone", string(milestone)),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) composeMessage(milestone domain.Milestone, deadline domain.Deadline, receipt domain.Receipt) notify.Message {
	preview := s.engine.Preview(receipt, s.now(), nil)

	var subject, body string
	switch milestone {
	case domain.MilestoneHeadsUp:
		subject = fmt.Sprintf("%s return window closes in %d days", receipt.Merchant, s.headsUpDays)
		body = fmt.Sprintf("Order %s from %s: %s. Decide by %s.",
			receipt.OrderID, receipt.Merchant, preview.Reason, deadline.DueAt.UTC().Format("Jan 2"))
	default:
		subject = fmt.Sprintf("%s return window closes today", receipt.Merchant)
		body = fmt.Sprintf("Order %s from %s: %s. Today is the last day to act.",
			receipt.OrderID, receipt.Merchant, preview.Reason)
	}

	return notify.Message{
		UserID:     deadline.UserID,
		DeadlineID: deadline.ID,
		Milestone:  string(milestone),
		Subject:    subject,
		Body:       body,
	}
}

// window is the UTC day range a milestone selects from: today for due_today,
// today+headsUpDays for heads_up.
func (s *Scheduler) window(milestone domain.Milestone) (time.Time, time.Time, error) {
	day := s.now().UTC().Truncate(24 * time.Hour)
	switch milestone {
	case domain.MilestoneDueToday:
		return day, day.AddDate(0, 0, 1), nil
	case domain.MilestoneHeadsUp:
		from := day.AddDate(0, 0, s.headsUpDays)
		return from, from.AddDate(0, 0, 1), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown milestone %q: %w", milestone, domain.ErrInvalidRequest)
	}
}

func (s *Scheduler) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
