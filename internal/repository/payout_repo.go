// internal/repository/payout_repo.go
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"payout-service/internal/domain"
)

// PayoutRepository is the payout ledger. All status mutations go through
// ApplyTransition so legality, history append and timestamp-once semantics
// hold no matter who is writing (API, webhook, reconciler).
type PayoutRepository interface {
	Create(ctx context.Context, payout *domain.Payout) error
	GetByID(ctx context.Context, id string) (*domain.Payout, error)
	GetByProviderTransferID(ctx context.Context, providerTransferID string) (*domain.Payout, error)
	GetByIdempotencyRef(ctx context.Context, ref string) (*domain.Payout, error)
	ListByCreator(ctx context.Context, creatorID string, limit, offset int) ([]*domain.Payout, error)
	ListStuckProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payout, error)
	ApplyTransition(ctx context.Context, payoutID string, event domain.TransitionEvent) (*domain.Payout, bool, error)
	FlagIssue(ctx context.Context, payoutID, note string) error
	SoftDelete(ctx context.Context, payoutID string) error
}

type payoutRepo struct {
	db *pgxpool.Pool
}

func NewPayoutRepository(db *pgxpool.Pool) PayoutRepository {
	return &payoutRepo{db: db}
}

// payoutColumns is the select list shared by every read. Decimals come back
// as text and are parsed; history is a JSONB array.
const payoutColumns = `
	id, creator_id,
	amount::text, currency, source_amount::text, source_currency,
	exchange_rate::text, platform_fee::text, provider_fee::text,
	method, bank_account_ref, idempotency_ref, quote_id, provider_transfer_id,
	status, status_history, has_open_issue, issue_note,
	reason, metadata, error_code, error_message,
	created_at, updated_at, completed_at, failed_at, deleted_at`

// Create inserts a new pending row. The payouts table carries partial unique
// indexes on idempotency_ref and provider_transfer_id scoped to rows where
// deleted_at IS NULL, so a soft-deleted attempt frees its reference for reuse.
func (r *payoutRepo) Create(ctx context.Context, payout *domain.Payout) error {
	query := `
		INSERT INTO payouts (
			id, creator_id, amount, currency, source_amount, source_currency,
			exchange_rate, platform_fee, provider_fee, method, bank_account_ref,
			idempotency_ref, quote_id, status, status_history, reason, metadata
		) VALUES (
			$1, $2, $3::numeric, $4, $5::numeric, $6,
			$7::numeric, $8::numeric, $9::numeric, $10, $11,
			$12, $13, $14, $15, $16, $17
		)
		RETURNING created_at, updated_at
	`

	historyJSON, err := json.Marshal(payout.StatusHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal status history: %w", err)
	}
	if payout.StatusHistory == nil {
		historyJSON = []byte("[]")
	}

	err = r.db.QueryRow(ctx, query,
		payout.ID,
		payout.CreatorID,
		payout.Amount.String(),
		payout.Currency,
		payout.SourceAmount.String(),
		payout.SourceCurrency,
		payout.ExchangeRate.String(),
		payout.PlatformFee.String(),
		payout.ProviderFee.String(),
		payout.Method,
		payout.BankAccountRef,
		payout.IdempotencyRef,
		payout.QuoteID,
		payout.Status,
		historyJSON,
		payout.Reason,
		payout.Metadata,
	).Scan(&payout.CreatedAt, &payout.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateReference
		}
		return err
	}
	return nil
}

func (r *payoutRepo) GetByID(ctx context.Context, id string) (*domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE id = $1 AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

func (r *payoutRepo) GetByProviderTransferID(ctx context.Context, providerTransferID string) (*domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE provider_transfer_id = $1 AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRow(ctx, query, providerTransferID))
}

func (r *payoutRepo) GetByIdempotencyRef(ctx context.Context, ref string) (*domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE idempotency_ref = $1 AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRow(ctx, query, ref))
}

func (r *payoutRepo) ListByCreator(ctx context.Context, creatorID string, limit, offset int) ([]*domain.Payout, error) {
	query := `
		SELECT ` + payoutColumns + `
		FROM payouts
		WHERE creator_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, creatorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanAll(rows)
}

func (r *payoutRepo) ListStuckProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payout, error) {
	query := `
		SELECT ` + payoutColumns + `
		FROM payouts
		WHERE status = 'processing'
		  AND deleted_at IS NULL
		  AND provider_transfer_id IS NOT NULL
		  AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// ApplyTransition validates and applies one status change atomically. The
// row is locked for the duration so concurrent webhook deliveries serialize.
// Re-applying the current status is a no-op returning applied=false.
func (r *payoutRepo) ApplyTransition(ctx context.Context, payoutID string, event domain.TransitionEvent) (*domain.Payout, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	payout, err := r.scanOne(tx.QueryRow(ctx, query, payoutID))
	if err != nil {
		return nil, false, err
	}

	if payout.Status == event.To {
		// Duplicate delivery of the current status: no history append, no
		// timestamp churn.
		return payout, false, nil
	}

	if !payout.Status.CanTransitionTo(event.To) {
		return payout, false, fmt.Errorf("%w: %s -> %s for payout %s",
			domain.ErrIllegalTransition, payout.Status, event.To, payoutID)
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	change := domain.StatusChange{
		Status:       event.To,
		FromStatus:   payout.Status,
		OccurredAt:   occurredAt,
		ErrorMessage: event.ErrorMessage,
	}
	history := append(payout.StatusHistory, change)
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal status history: %w", err)
	}

	var errorCode *string
	if event.ErrorCode != nil {
		code := string(*event.ErrorCode)
		errorCode = &code
	}
	var providerFee *string
	if event.ProviderFee != nil {
		fee := event.ProviderFee.String()
		providerFee = &fee
	}

	update := `
		UPDATE payouts
		SET
			status = $2,
			status_history = $3,
			provider_transfer_id = COALESCE($4, provider_transfer_id),
			provider_fee = COALESCE($5::numeric, provider_fee),
			quote_id = COALESCE($6, quote_id),
			error_code = COALESCE($7, error_code),
			error_message = COALESCE($8, error_message),
			completed_at = CASE WHEN $2 = 'completed' AND completed_at IS NULL THEN $9 ELSE completed_at END,
			failed_at    = CASE WHEN $2 = 'failed'    AND failed_at    IS NULL THEN $9 ELSE failed_at    END,
			updated_at = NOW()
		WHERE id = $1
	`

	if _, err := tx.Exec(ctx, update,
		payoutID,
		event.To,
		historyJSON,
		event.ProviderTransferID,
		providerFee,
		event.QuoteID,
		errorCode,
		event.ErrorMessage,
		occurredAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, false, domain.ErrDuplicateReference
		}
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}

	payout.Status = event.To
	payout.StatusHistory = history
	payout.UpdatedAt = time.Now()
	if event.ProviderTransferID != nil {
		payout.ProviderTransferID = event.ProviderTransferID
	}
	if event.ProviderFee != nil {
		payout.ProviderFee = *event.ProviderFee
	}
	if event.QuoteID != nil {
		payout.QuoteID = event.QuoteID
	}
	if errorCode != nil {
		payout.ErrorCode = errorCode
	}
	if event.ErrorMessage != nil {
		payout.ErrorMessage = event.ErrorMessage
	}
	if event.To == domain.PayoutStatusCompleted && payout.CompletedAt == nil {
		payout.CompletedAt = &occurredAt
	}
	if event.To == domain.PayoutStatusFailed && payout.FailedAt == nil {
		payout.FailedAt = &occurredAt
	}
	return payout, true, nil
}

func (r *payoutRepo) FlagIssue(ctx context.Context, payoutID, note string) error {
	query := `
		UPDATE payouts
		SET has_open_issue = TRUE, issue_note = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	tag, err := r.db.Exec(ctx, query, payoutID, note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPayoutNotFound
	}
	return nil
}

func (r *payoutRepo) SoftDelete(ctx context.Context, payoutID string) error {
	query := `UPDATE payouts SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	tag, err := r.db.Exec(ctx, query, payoutID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPayoutNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *payoutRepo) scanOne(row rowScanner) (*domain.Payout, error) {
	var (
		payout       domain.Payout
		amount       string
		sourceAmount string
		exchangeRate string
		platformFee  string
		providerFee  string
		historyJSON  []byte
	)

	err := row.Scan(
		&payout.ID,
		&payout.CreatorID,
		&amount,
		&payout.Currency,
		&sourceAmount,
		&payout.SourceCurrency,
		&exchangeRate,
		&platformFee,
		&providerFee,
		&payout.Method,
		&payout.BankAccountRef,
		&payout.IdempotencyRef,
		&payout.QuoteID,
		&payout.ProviderTransferID,
		&payout.Status,
		&historyJSON,
		&payout.HasOpenIssue,
		&payout.IssueNote,
		&payout.Reason,
		&payout.Metadata,
		&payout.ErrorCode,
		&payout.ErrorMessage,
		&payout.CreatedAt,
		&payout.UpdatedAt,
		&payout.CompletedAt,
		&payout.FailedAt,
		&payout.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPayoutNotFound
		}
		return nil, err
	}

	if payout.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid amount for payout %s: %w", payout.ID, err)
	}
	if payout.SourceAmount, err = decimal.NewFromString(sourceAmount); err != nil {
		return nil, fmt.Errorf("invalid source_amount for payout %s: %w", payout.ID, err)
	}
	if payout.ExchangeRate, err = decimal.NewFromString(exchangeRate); err != nil {
		return nil, fmt.Errorf("invalid exchange_rate for payout %s: %w", payout.ID, err)
	}
	if payout.PlatformFee, err = decimal.NewFromString(platformFee); err != nil {
		return nil, fmt.Errorf("invalid platform_fee for payout %s: %w", payout.ID, err)
	}
	if payout.ProviderFee, err = decimal.NewFromString(providerFee); err != nil {
		return nil, fmt.Errorf("invalid provider_fee for payout %s: %w", payout.ID, err)
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &payout.StatusHistory); err != nil {
			return nil, fmt.Errorf("invalid status history for payout %s: %w", payout.ID, err)
		}
	}

	return &payout, nil
}

func (r *payoutRepo) scanAll(rows pgx.Rows) ([]*domain.Payout, error) {
	var payouts []*domain.Payout
	for rows.Next() {
		payout, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, payout)
	}
	return payouts, rows.Err()
}
