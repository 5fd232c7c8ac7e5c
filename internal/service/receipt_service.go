package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/smallbiznis/returnwatch/internal/decision"
	"github.com/smallbiznis/returnwatch/internal/domain"
	"github.com/smallbiznis/returnwatch/internal/identity"
	"github.com/smallbiznis/returnwatch/internal/policy"
	"github.com/smallbiznis/returnwatch/internal/repository"
)

// IngestReceiptInput carries the already-extracted receipt fields. Extractors
// use zero values rather than failing when a field cannot be determined, so
// any subset may be present.
type IngestReceiptInput struct {
	UserID      string
	Merchant    string
	OrderID     string
	PurchasedAt *time.Time
	Currency    string
	Total       any
}

// IngestReceiptOutput reports the stored receipt, whether this call created
// it, and the deadline derived for a newly created receipt.
type IngestReceiptOutput struct {
	Receipt  domain.Receipt
	Created  bool
	Deadline *domain.Deadline
}

// ReceiptService ingests receipts and serves decision previews.
type ReceiptService struct {
	receipts  repository.ReceiptRepository
	deadlines repository.DeadlineStore
	guard     repository.DedupeGuard
	catalog   *policy.Catalog
	engine    *decision.Engine
	node      *snowflake.Node
	now       func() time.Time
	logger    *zap.Logger
}

// NewReceiptService wires the service.
func NewReceiptService(
	receipts repository.ReceiptRepository,
	deadlines repository.DeadlineStore,
	guard repository.DedupeGuard,
	catalog *policy.Catalog,
	engine *decision.Engine,
	node *snowflake.Node,
	logger *zap.Logger,
) *ReceiptService {
	return &ReceiptService{
		receipts:  receipts,
		deadlines: deadlines,
		guard:     guard,
		catalog:   catalog,
		engine:    engine,
		node:      node,
		now:       time.Now,
		logger:    logger,
	}
}

// Ingest dedupes and stores one receipt. Ingestion channels deliver at least
// once; the canonical hash is the sole idempotency key, enforced twice: a
// Redis fast path and the receipts table's unique constraint. A duplicate
// returns the stored row with Created false and never a second deadline.
func (s *ReceiptService) Ingest(ctx context.Context, in IngestReceiptInput) (*IngestReceiptOutput, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("user id required: %w", domain.ErrInvalidRequest)
	}

	ident := domain.ReceiptIdentity{
		UserID:      in.UserID,
		Merchant:    in.Merchant,
		OrderID:     in.OrderID,
		PurchasedAt: in.PurchasedAt,
		Currency:    in.Currency,
		Total:       in.Total,
	}
	hash := identity.Hash(ident)

	if s.guard != nil {
		first, err := s.guard.FirstSeen(ctx, hash)
		if err != nil {
			// Fast path only; the unique constraint still protects us.
			s.log().Warn("dedupe guard unavailable", zap.Error(err))
		} else if !first {
			existing, err := s.receipts.GetByHash(ctx, hash)
			if err == nil {
				out := &IngestReceiptOutput{Receipt: existing, Created: false}
				out.Deadline = s.ensureReturnDeadline(ctx, existing, s.now().UTC())
				return out, nil
			}
			if !errors.Is(err, domain.ErrReceiptNotFound) {
				return nil, fmt.Errorf("load deduped receipt: %w", err)
			}
			// Guard remembers a hash the store lost; fall through and insert.
		}
	}

	now := s.now().UTC()
	receipt := domain.Receipt{
		ID:              s.node.Generate().Int64(),
		UserID:          in.UserID,
		Merchant:        in.Merchant,
		OrderID:         in.OrderID,
		PurchasedAt:     in.PurchasedAt,
		Currency:        in.Currency,
		TotalMinorUnits: identity.NormalizeAmount(in.Total),
		DedupeHash:      hash,
		CreatedAt:       now,
	}

	stored, created, err := s.receipts.CreateIfAbsent(ctx, receipt)
	if err != nil {
		if s.guard != nil {
			if ferr := s.guard.Forget(ctx, hash); ferr != nil {
				s.log().Warn("dedupe guard release failed", zap.Error(ferr))
			}
		}
		return nil, fmt.Errorf("store receipt: %w", err)
	}

	out := &IngestReceiptOutput{Receipt: stored, Created: created}
	out.Deadline = s.ensureReturnDeadline(ctx, stored, now)
	return out, nil
}

// ensureReturnDeadline derives the return deadline from the merchant policy.
// Receipts without a usable purchase date get no deadline; the preview surface
// reports them as unknown instead.
//
// It runs on duplicate ingests too: ingestion channels redeliver, so a
// deadline insert that failed on one attempt is repaired when the same
// receipt arrives again.
func (s *ReceiptService) ensureReturnDeadline(ctx context.Context, receipt domain.Receipt, now time.Time) *domain.Deadline {
	if receipt.PurchasedAt == nil || receipt.PurchasedAt.IsZero() {
		return nil
	}

	existing, err := s.deadlines.GetByReceiptID(ctx, receipt.ID)
	if err == nil {
		return &existing
	}
	if !errors.Is(err, domain.ErrDeadlineNotFound) {
		s.log().Error("deadline lookup failed",
			zap.Int64("receipt_id", receipt.ID),
			zap.Error(err),
		)
		return nil
	}

	pol := s.catalog.Resolve(receipt.Merchant)
	deadline := domain.Deadline{
		ID:        s.node.Generate().Int64(),
		UserID:    receipt.UserID,
		ReceiptID: receipt.ID,
		Kind:      domain.DeadlineReturn,
		DueAt:     receipt.PurchasedAt.UTC().AddDate(0, 0, pol.ReturnWindowDays),
		Status:    domain.DeadlineOpen,
		CreatedAt: now,
	}
	created, err := s.deadlines.Create(ctx, deadline)
	if err != nil {
		// The receipt row is durable; the next delivery of this receipt
		// lands on the duplicate path and retries this create.
		s.log().Error("deadline creation failed",
			zap.Int64("receipt_id", receipt.ID),
			zap.Error(err),
		)
		return nil
	}
	return &created
}

// Preview evaluates a stored receipt against its merchant policy. It is
// always a dry run: no gates are written and nothing is sent.
func (s *ReceiptService) Preview(ctx context.Context, receiptID int64, currentMinorUnits *int64) (domain.DecisionPreview, error) {
	receipt, err := s.receipts.GetByID(ctx, receiptID)
	if err != nil {
		return domain.DecisionPreview{}, err
	}
	return s.engine.Preview(receipt, s.now().UTC(), currentMinorUnits), nil
}

func (s *ReceiptService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
