package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/returnwatch/internal/domain"
)

// ReceiptRepository persists deduplicated receipts.
type ReceiptRepository interface {
	// CreateIfAbsent inserts the receipt unless a row with the same dedupe
	// hash already exists. It returns the stored row and whether this call
	// created it.
	CreateIfAbsent(ctx context.Context, receipt domain.Receipt) (domain.Receipt, bool, error)
	GetByID(ctx context.Context, id int64) (domain.Receipt, error)
	GetByHash(ctx context.Context, hash string) (domain.Receipt, error)
}

// DeadlineStore persists deadlines and their notification gates.
type DeadlineStore interface {
	Create(ctx context.Context, deadline domain.Deadline) (domain.Deadline, error)
	GetByID(ctx context.Context, id int64) (domain.Deadline, error)
	// GetByReceiptID finds the deadline derived from one receipt. Ingest uses
	// it to repair a receipt whose deadline insert failed on an earlier
	// attempt.
	GetByReceiptID(ctx context.Context, receiptID int64) (domain.Deadline, error)
	// ListDueUnnotified selects open deadlines due inside [from, to) whose
	// gate for the milestone is still unset.
	ListDueUnnotified(ctx context.Context, milestone domain.Milestone, from, to time.Time) ([]domain.Deadline, error)
	// ClaimGate sets the milestone gate to at only if it is still null. The
	// boolean reports whether this caller won the claim.
	ClaimGate(ctx context.Context, deadlineID int64, milestone domain.Milestone, at time.Time) (bool, error)
	// ReleaseGate nulls the milestone gate again after a failed send so the
	// next run can retry the item.
	ReleaseGate(ctx context.Context, deadlineID int64, milestone domain.Milestone) error
	// Decide closes an open deadline with the user's choice.
	Decide(ctx context.Context, deadlineID int64, decision domain.DeadlineDecision, note string) error
	// Reopen resets status to open and clears both gates and the decision.
	Reopen(ctx context.Context, deadlineID int64) error
}

// CredentialStore persists upstream OAuth credentials, one row per
// (user, provider).
type CredentialStore interface {
	Get(ctx context.Context, userID, provider string) (domain.Credential, error)
	Upsert(ctx context.Context, credential domain.Credential) error
}

// DedupeGuard is a fast-path check in front of the dedupe-hash unique
// constraint. FirstSeen reports whether the hash was unseen until now.
type DedupeGuard interface {
	FirstSeen(ctx context.Context, hash string) (bool, error)
	Forget(ctx context.Context, hash string) error
}

// PolicyRepository loads operator-managed merchant policy overrides.
type PolicyRepository interface {
	ListMerchantPolicies(ctx context.Context) ([]domain.MerchantPolicy, error)
}
