// internal/repository/balance_repo.go
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"payout-service/internal/domain"
)

// BalanceRepository is the creator earnings ledger the payout core draws
// from. Deduct is guarded so the available balance can never go negative;
// Refund compensates a deduction when the transfer it funded does not go out.
type BalanceRepository interface {
	GetAvailableBalance(ctx context.Context, creatorID string) (decimal.Decimal, string, error)
	Deduct(ctx context.Context, creatorID string, amount decimal.Decimal, payoutID string) error
	Refund(ctx context.Context, creatorID string, amount decimal.Decimal, payoutID string) error
}

type balanceRepo struct {
	db *pgxpool.Pool
}

func NewBalanceRepository(db *pgxpool.Pool) BalanceRepository {
	return &balanceRepo{db: db}
}

func (r *balanceRepo) GetAvailableBalance(ctx context.Context, creatorID string) (decimal.Decimal, string, error) {
	query := `SELECT available::text, currency FROM creator_balances WHERE creator_id = $1`

	var (
		available string
		currency  string
	)
	err := r.db.QueryRow(ctx, query, creatorID).Scan(&available, &currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A creator with no balance row has earned nothing yet.
			return decimal.Zero, "USD", nil
		}
		return decimal.Zero, "", err
	}

	amount, err := decimal.NewFromString(available)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("invalid balance for creator %s: %w", creatorID, err)
	}
	return amount, currency, nil
}

// Deduct withdraws amount from the creator's available balance and records a
// ledger entry pointing at the payout, in one transaction. The guarded UPDATE
// is the non-negativity invariant: zero rows affected means the balance was
// insufficient at write time.
func (r *balanceRepo) Deduct(ctx context.Context, creatorID string, amount decimal.Decimal, payoutID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	update := `
		UPDATE creator_balances
		SET available = available - $2::numeric, updated_at = NOW()
		WHERE creator_id = $1 AND available >= $2::numeric
	`
	tag, err := tx.Exec(ctx, update, creatorID, amount.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientBalance
	}

	entry := `
		INSERT INTO balance_entries (creator_id, payout_id, amount, entry_type)
		VALUES ($1, $2, $3::numeric, 'payout_deduction')
	`
	if _, err := tx.Exec(ctx, entry, creatorID, payoutID, amount.Neg().String()); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Refund returns a previously deducted amount to the creator's available
// balance with a compensating ledger entry. Used when transfer creation
// fails after the deduction, or when a processing payout is cancelled.
func (r *balanceRepo) Refund(ctx context.Context, creatorID string, amount decimal.Decimal, payoutID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	update := `
		UPDATE creator_balances
		SET available = available + $2::numeric, updated_at = NOW()
		WHERE creator_id = $1
	`
	if _, err := tx.Exec(ctx, update, creatorID, amount.String()); err != nil {
		return err
	}

	entry := `
		INSERT INTO balance_entries (creator_id, payout_id, amount, entry_type)
		VALUES ($1, $2, $3::numeric, 'payout_refund')
	`
	if _, err := tx.Exec(ctx, entry, creatorID, payoutID, amount.String()); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
