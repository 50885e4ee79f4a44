// payout-service/internal/usecase/bank_uc.go
package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"payout-service/internal/domain"
	"payout-service/internal/repository"
	"payout-service/internal/security"
)

// BankAccountFetcher loads and decrypts the creator's payout destination.
type BankAccountFetcher struct {
	bankRepo repository.BankAccountRepository
	cipher   *security.FieldCipher
	logger   *zap.Logger
}

func NewBankAccountFetcher(
	bankRepo repository.BankAccountRepository,
	cipher *security.FieldCipher,
	logger *zap.Logger,
) *BankAccountFetcher {
	return &BankAccountFetcher{
		bankRepo: bankRepo,
		cipher:   cipher,
		logger:   logger,
	}
}

// FetchVerifiedBankAccount returns the creator's most recently verified bank
// account with fields decrypted, or (nil, nil) when the creator has none.
// A decryption failure is a hard error: it means stored data is corrupt or
// the service is running with the wrong key, and paying out anyway would
// send money to garbage.
func (f *BankAccountFetcher) FetchVerifiedBankAccount(ctx context.Context, creatorID string) (*domain.BankDetails, error) {
	account, err := f.bankRepo.GetVerifiedAccount(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bank account: %w", err)
	}
	if account == nil {
		return nil, nil
	}

	accountNumber, err := f.cipher.Decrypt(account.AccountNumberEncrypted)
	if err != nil {
		f.logger.Error("account number decrypt failed",
			zap.String("creator_id", creatorID),
			zap.Int64("bank_account_id", account.ID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to decrypt account number: %w", err)
	}

	routingNumber, err := f.cipher.Decrypt(account.RoutingNumberEncrypted)
	if err != nil {
		f.logger.Error("routing number decrypt failed",
			zap.String("creator_id", creatorID),
			zap.Int64("bank_account_id", account.ID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to decrypt routing number: %w", err)
	}

	return &domain.BankDetails{
		AccountNumber:     accountNumber,
		RoutingNumber:     routingNumber,
		AccountHolderName: account.AccountHolderName,
		Currency:          account.Currency,
	}, nil
}
