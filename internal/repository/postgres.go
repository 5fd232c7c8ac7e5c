package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/returnwatch/internal/domain"
)

// Compile-time interface assertions.
var (
	_ ReceiptRepository = (*PostgresReceiptRepo)(nil)
	_ DeadlineStore     = (*PostgresDeadlineStore)(nil)
	_ CredentialStore   = (*PostgresCredentialStore)(nil)
	_ PolicyRepository  = (*PostgresPolicyRepo)(nil)
)

// PostgresReceiptRepo implements ReceiptRepository on pgx.
type PostgresReceiptRepo struct {
	db *pgxpool.Pool
}

func NewPostgresReceiptRepo(pool *pgxpool.Pool) *PostgresReceiptRepo {
	return &PostgresReceiptRepo{db: pool}
}

func (r *PostgresReceiptRepo) CreateIfAbsent(ctx context.Context, receipt domain.Receipt) (domain.Receipt, bool, error) {
	const insert = `
INSERT INTO receipts (id, user_id, merchant, order_id, purchased_at, currency, total_minor_units, dedupe_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (dedupe_hash) DO NOTHING`

	tag, err := r.db.Exec(ctx, insert,
		receipt.ID,
		receipt.UserID,
		receipt.Merchant,
		receipt.OrderID,
		receipt.PurchasedAt,
		receipt.Currency,
		receipt.TotalMinorUnits,
		receipt.DedupeHash,
		receipt.CreatedAt,
	)
	if err != nil {
		return domain.Receipt{}, false, fmt.Errorf("insert receipt: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return receipt, true, nil
	}

	existing, err := r.GetByHash(ctx, receipt.DedupeHash)
	if err != nil {
		return domain.Receipt{}, false, fmt.Errorf("load duplicate receipt: %w", err)
	}
	return existing, false, nil
}

func (r *PostgresReceiptRepo) GetByID(ctx context.Context, id int64) (domain.Receipt, error) {
	return r.getBy(ctx, "id = $1", id)
}

func (r *PostgresReceiptRepo) GetByHash(ctx context.Context, hash string) (domain.Receipt, error) {
	return r.getBy(ctx, "dedupe_hash = $1", hash)
}

func (r *PostgresReceiptRepo) getBy(ctx context.Context, predicate string, arg any) (domain.Receipt, error) {
	query := `
SELECT id, user_id, merchant, order_id, purchased_at, currency, total_minor_units, dedupe_hash, created_at
FROM receipts
WHERE ` + predicate + `
LIMIT 1`

	var receipt domain.Receipt
	if err := r.db.QueryRow(ctx, query, arg).Scan(
		&receipt.ID,
		&receipt.UserID,
		&receipt.Merchant,
		&receipt.OrderID,
		&receipt.PurchasedAt,
		&receipt.Currency,
		&receipt.TotalMinorUnits,
		&receipt.DedupeHash,
		&receipt.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Receipt{}, domain.ErrReceiptNotFound
		}
		return domain.Receipt{}, fmt.Errorf("get receipt: %w", err)
	}
	return receipt, nil
}

// PostgresDeadlineStore implements DeadlineStore on pgx.
type PostgresDeadlineStore struct {
	db *pgxpool.Pool
}

func NewPostgresDeadlineStore(pool *pgxpool.Pool) *PostgresDeadlineStore {
	return &PostgresDeadlineStore{db: pool}
}

const deadlineColumns = `id, user_id, receipt_id, kind, due_at, status, decision, note, notified_due_at, notified_heads_up_at, created_at, updated_at`

func (s *PostgresDeadlineStore) Create(ctx context.Context, deadline domain.Deadline) (domain.Deadline, error) {
	const insert = `
INSERT INTO deadlines (id, user_id, receipt_id, kind, due_at, status, note, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`

	if _, err := s.db.Exec(ctx, insert,
		deadline.ID,
		deadline.UserID,
		deadline.ReceiptID,
		deadline.Kind,
		deadline.DueAt,
		deadline.Status,
		deadline.Note,
		deadline.CreatedAt,
	); err != nil {
		return domain.Deadline{}, fmt.Errorf("insert deadline: %w", err)
	}
	deadline.UpdatedAt = deadline.CreatedAt
	return deadline, nil
}

func (s *PostgresDeadlineStore) GetByID(ctx context.Context, id int64) (domain.Deadline, error) {
	query := `SELECT ` + deadlineColumns + ` FROM deadlines WHERE id = $1 LIMIT 1`

	row := s.db.QueryRow(ctx, query, id)
	deadline, err := scanDeadline(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Deadline{}, domain.ErrDeadlineNotFound
		}
		return domain.Deadline{}, fmt.Errorf("get deadline: %w", err)
	}
	return deadline, nil
}

func (s *PostgresDeadlineStore) GetByReceiptID(ctx context.Context, receiptID int64) (domain.Deadline, error) {
	query := `SELECT ` + deadlineColumns + ` FROM deadlines WHERE receipt_id = $1 LIMIT 1`

	row := s.db.QueryRow(ctx, query, receiptID)
	deadline, err := scanDeadline(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Deadline{}, domain.ErrDeadlineNotFound
		}
		return domain.Deadline{}, fmt.Errorf("get deadline by receipt: %w", err)
	}
	return deadline, nil
}

func (s *PostgresDeadlineStore) ListDueUnnotified(ctx context.Context, milestone domain.Milestone, from, to time.Time) ([]domain.Deadline, error) {
	gate, err := gateColumn(milestone)
	if err != nil {
		return nil, err
	}
	query := `
SELECT ` + deadlineColumns + `
FROM deadlines
WHERE status = 'open' AND due_at >= $1 AND due_at < $2 AND ` + gate + ` IS NULL
ORDER BY due_at, id`

	rows, err := s.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("list due deadlines: %w", err)
	}
	defer rows.Close()

	var deadlines []domain.Deadline
	for rows.Next() {
		deadline, err := scanDeadline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deadline: %w", err)
		}
		deadlines = append(deadlines, deadline)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list due deadlines: %w", err)
	}
	return deadlines, nil
}

func (s *PostgresDeadlineStore) ClaimGate(ctx context.Context, deadlineID int64, milestone domain.Milestone, at time.Time) (bool, error) {
	gate, err := gateColumn(milestone)
	if err != nil {
		return false, err
	}
	// Single conditional UPDATE: only one concurrent run can flip the gate
	// from null, so the claim is race-safe without in-process locks.
	query := `UPDATE deadlines SET ` + gate + ` = $2, updated_at = $2 WHERE id = $1 AND ` + gate + ` IS NULL`

	tag, err := s.db.Exec(ctx, query, deadlineID, at)
	if err != nil {
		return false, fmt.Errorf("claim gate: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresDeadlineStore) ReleaseGate(ctx context.Context, deadlineID int64, milestone domain.Milestone) error {
	gate, err := gateColumn(milestone)
	if err != nil {
		return err
	}
	query := `UPDATE deadlines SET ` + gate + ` = NULL, updated_at = now() WHERE id = $1`

	if _, err := s.db.Exec(ctx, query, deadlineID); err != nil {
		return fmt.Errorf("release gate: %w", err)
	}
	return nil
}

func (s *PostgresDeadlineStore) Decide(ctx context.Context, deadlineID int64, decision domain.DeadlineDecision, note string) error {
	const query = `
UPDATE deadlines
SET status = 'closed', decision = $2, note = $3, updated_at = now()
WHERE id = $1 AND status = 'open'`

	tag, err := s.db.Exec(ctx, query, deadlineID, decision, note)
	if err != nil {
		return fmt.Errorf("decide deadline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDeadlineNotFound
	}
	return nil
}

func (s *PostgresDeadlineStore) Reopen(ctx context.Context, deadlineID int64) error {
	const query = `
UPDATE deadlines
SET status = 'open', decision = NULL, note = '', notified_due_at = NULL, notified_heads_up_at = NULL, updated_at = now()
WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, deadlineID)
	if err != nil {
		return fmt.Errorf("reopen deadline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDeadlineNotFound
	}
	return nil
}

func gateColumn(milestone domain.Milestone) (string, error) {
	switch milestone {
	case domain.MilestoneDueToday:
		return "notified_due_at", nil
	case domain.MilestoneHeadsUp:
		return "notified_heads_up_at", nil
	default:
		return "", fmt.Errorf("unknown milestone %q: %w", milestone, domain.ErrInvalidRequest)
	}
}

func scanDeadline(row pgx.Row) (domain.Deadline, error) {
	var deadline domain.Deadline
	err := row.Scan(
		&deadline.ID,
		&deadline.UserID,
		&deadline.ReceiptID,
		&deadline.Kind,
		&deadline.DueAt,
		&deadline.Status,
		&deadline.Decision,
		&deadline.Note,
		&deadline.NotifiedDueAt,
		&deadline.NotifiedHeadsUpAt,
		&deadline.CreatedAt,
		&deadline.UpdatedAt,
	)
	return deadline, err
}

// PostgresCredentialStore implements CredentialStore on pgx.
type PostgresCredentialStore struct {
	db *pgxpool.Pool
}

func NewPostgresCredentialStore(pool *pgxpool.Pool) *PostgresCredentialStore {
	return &PostgresCredentialStore{db: pool}
}

func (s *PostgresCredentialStore) Get(ctx context.Context, userID, provider string) (domain.Credential, error) {
	const query = `
SELECT user_id, provider, refresh_token, access_token, access_expiry, granted_scopes, status, updated_at
FROM credentials
WHERE user_id = $1 AND provider = $2
LIMIT 1`

	var credential domain.Credential
	if err := s.db.QueryRow(ctx, query, userID, provider).Scan(
		&credential.UserID,
		&credential.Provider,
		&credential.RefreshToken,
		&credential.AccessToken,
		&credential.AccessExpiry,
		&credential.GrantedScopes,
		&credential.Status,
		&credential.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Credential{}, domain.ErrCredentialNotFound
		}
		return domain.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return credential, nil
}

func (s *PostgresCredentialStore) Upsert(ctx context.Context, credential domain.Credential) error {
	const query = `
INSERT INTO credentials (user_id, provider, refresh_token, access_token, access_expiry, granted_scopes, status, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (user_id, provider) DO UPDATE
SET refresh_token = EXCLUDED.refresh_token,
    access_token = EXCLUDED.access_token,
    access_expiry = EXCLUDED.access_expiry,
    granted_scopes = EXCLUDED.granted_scopes,
    status = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at`

	if _, err := s.db.Exec(ctx, query,
		credential.UserID,
		credential.Provider,
		credential.RefreshToken,
		credential.AccessToken,
		credential.AccessExpiry,
		credential.GrantedScopes,
		credential.Status,
		credential.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// PostgresPolicyRepo implements PolicyRepository on pgx.
type PostgresPolicyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresPolicyRepo(pool *pgxpool.Pool) *PostgresPolicyRepo {
	return &PostgresPolicyRepo{db: pool}
}

func (r *PostgresPolicyRepo) ListMerchantPolicies(ctx context.Context) ([]domain.MerchantPolicy, error) {
	const query = `
SELECT merchant, return_window_days, price_adjust_window_days, restocking_fee_pct
FROM merchant_policies`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list merchant policies: %w", err)
	}
	defer rows.Close()

	var policies []domain.MerchantPolicy
	for rows.Next() {
		var p domain.MerchantPolicy
		if err := rows.Scan(&p.Merchant, &p.ReturnWindowDays, &p.PriceAdjustWindowDays, &p.RestockingFeePct); err != nil {
			return nil, fmt.Errorf("scan merchant policy: %w", err)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list merchant policies: %w", err)
	}
	return policies, nil
}
