// internal/repository/bank_repo.go
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"payout-service/internal/domain"
)

// BankAccountRepository reads stored payout destinations. Having no verified
// account is a normal outcome, reported as (nil, nil), not an error.
type BankAccountRepository interface {
	GetVerifiedAccount(ctx context.Context, creatorID string) (*domain.BankAccount, error)
}

type bankAccountRepo struct {
	db *pgxpool.Pool
}

func NewBankAccountRepository(db *pgxpool.Pool) BankAccountRepository {
	return &bankAccountRepo{db: db}
}

func (r *bankAccountRepo) GetVerifiedAccount(ctx context.Context, creatorID string) (*domain.BankAccount, error) {
	query := `
		SELECT id, creator_id, account_number_encrypted, routing_number_encrypted,
		       account_holder_name, currency, is_verified, created_at
		FROM bank_accounts
		WHERE creator_id = $1 AND is_verified = TRUE
		ORDER BY created_at DESC
		LIMIT 1
	`

	var account domain.BankAccount
	err := r.db.QueryRow(ctx, query, creatorID).Scan(
		&account.ID,
		&account.CreatorID,
		&account.AccountNumberEncrypted,
		&account.RoutingNumberEncrypted,
		&account.AccountHolderName,
		&account.Currency,
		&account.IsVerified,
		&account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}
