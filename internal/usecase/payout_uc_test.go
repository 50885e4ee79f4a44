// payout-service/internal/usecase/payout_uc_test.go
package usecase

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payout-service/internal/domain"
	"payout-service/internal/provider"
)

func TestPayoutToCreator_CrossCurrency(t *testing.T) {
	f := newPayoutFixture(t)
	f.seedCreator(t, "creator-ng", "NG", "NGN", decimal.NewFromInt(100))

	res := f.uc.PayoutToCreator(context.Background(), &domain.PayoutRequest{
		CreatorID:      "creator-ng",
		Amount:         decimal.NewFromInt(50),
		SourceCurrency: "USD",
		Reason:         domain.ReasonWithdrawal,
		IdempotencyRef: "jan-run-creator-ng",
	})

	require.True(t, res.Success, res.Error)
	p := res.Payout
	require.NotNil(t, p)
	assert.Equal(t, domain.PayoutStatusProcessing, p.Status)
	assert.Equal(t, domain.MethodWise, p.Method)
	assert.Equal(t, "NGN", p.Currency)
	assert.Equal(t, "USD", p.SourceCurrency)
	assert.True(t, p.SourceAmount.Equal(decimal.NewFromInt(50)))
	// Withdrawals carry no platform fee; the provider's 0.50 minimum quote fee
	// applies: (50 - 0.50) * 1600.
	assert.True(t, p.PlatformFee.IsZero())
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(79200)), "got %s", p.Amount)
	assert.True(t, p.ExchangeRate.Equal(decimal.NewFromInt(1600)))
	assert.True(t, p.ProviderFee.Equal(decimal.RequireFromString("0.5")))
	require.NotNil(t, p.ProviderTransferID)
	require.NotNil(t, p.QuoteID)
	assert.Equal(t, "****6789", p.BankAccountRef)

	require.Len(t, p.StatusHistory, 1)
	assert.Equal(t, domain.PayoutStatusPending, p.StatusHistory[0].FromStatus)
	assert.Equal(t, domain.PayoutStatusProcessing, p.StatusHistory[0].Status)

	// The gross source amount is reserved from the creator's balance.
	assert.True(t, f.balances.available("creator-ng").Equal(decimal.NewFromInt(50)))
	assert.Equal(t, []string{p.ID}, f.balances.deducted)
	assert.Empty(t, f.balances.refundedIDs())
}

func TestPayoutToCreator_SameCurrencyWithFeeSplit(t *testing.T) {
	f := newPayoutFixture(t)
	f.seedCreator(t, "creator-us", "US", "USD", decimal.NewFromInt(200))

	res := f.uc.PayoutToCreator(context.Background(), &domain.PayoutRequest{
		CreatorID:      "creator-us",
		Amount:         decimal.NewFromInt(100),
		SourceCurrency: "USD",
		Reason:         domain.ReasonTicketSale,
	})

	require.True(t, res.Success, res.Error)
	p := res.Payout
	assert.Equal(t, domain.PayoutStatusProcessing, p.Status)
	// 5% platform fee on ticket sales; no quote for a same-currency leg.
	assert.True(t, p.PlatformFee.Equal(decimal.NewFromInt(5)))
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(95)), "got %s", p.Amount)
	assert.True(t, p.ExchangeRate.Equal(decimal.NewFromInt(1)))
	assert.Nil(t, p.QuoteID)
	// The creator is debited the gross amount, not the net.
	assert.True(t, f.balances.available("creator-us").Equal(decimal.NewFromInt(100)))
}

func TestPayoutToCreator_InsufficientBalance(t *testing.T) {
	f := newPayoutFixture(t)
	f.seedCreator(t, "creator-broke", "US", "USD", decimal.NewFromInt(10))

	res := f.uc.PayoutToCreator(context.Background(), &domain.PayoutRequest{
		CreatorID:      "creator-broke",
		Amount:         decimal.NewFromInt(50),
		SourceCurrency: "USD",
	})

	require.False(t, res.Success)
	assert.Equal(t, domain.ErrCodeInsufficientBalance, res.Code)
	assert.False(t, res.Retryable)
	// Precondition failures never reach the ledger or the provider.
	assert.Nil(t, res.Payout)
	assert.Zero(t, f.repo.liveCount())
	assert.Empty(t, f.balances.deducted)
	assert.Zero(t, f.provider.totalCalls())
	assert.True(t, f.balances.available("creator-broke").Equal(decimal.NewFromInt(10)))
}

func TestPayoutToCreator_ProviderBalanceTooLow(t *testing.T) {
	f := newPayoutFixture(t)
	f.seedCreator(t, "creator-us", "US", "USD", decimal.NewFromInt(500))
	f.provider.SetBalance("USD", decimal.NewFromInt(5))

	res := f.uc.PayoutToCreator(context.Background(), &domain.PayoutRequest{
		CreatorID:      "creator-us",
		Amount:         decimal.NewFromInt(400),
		SourceCurrency: "USD",
	})

	require.False(t, res.Success)
	assert.Equal(t, domain.ErrCodeInsufficientBalance, res.Code)
	assert.False(t, res.Retryable, "operator top-up needed, not a retry")
	assert.Nil(t, res.Payout)
	assert.Zero(t, f.repo.liveCount())
	assert.Empty(t, f.balances.deducted)
}

func TestPayoutToCreator_ValidationFailures(t *testing.T) {
	f := newPayoutFixture(t)

	tests := []struct {
		name string
		req  *domain.PayoutRequest
	}{
		{"missing creator id", &domain.PayoutRequest{Amount: decimal.NewFromInt(10)}},
		{"zero amount", &domain.PayoutRequest{CreatorID: "c1"}},
		{"negative amount", &domain.PayoutRequest{CreatorID: "c1", Amount: decimal.NewFromInt(-5)}},
		{"malformed currency", &domain.PayoutRequest{CreatorID: "c1", Amount: decimal.NewFromInt(10), SourceCurrency: "DOLLARS"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.uc.PayoutToCreator(context.Background(), tt.req)
			require.False(t, res.Success)
			assert.Equal(t, domain.ErrCodeInvalidRequest, res.Code)
			assert.False(t, res.Retryable)
			assert.Nil(t, res.Payout)
		})
	}
	assert.Zero(t, f.repo.liveCount())
}

func TestPayoutToCreator_UnknownCreator(t *testing.T) {
	f := newPayoutFixture(t)

	res := f.uc.PayoutToCreator(context.Background(), &domain.PayoutRequest{
		CreatorID: "nobody",
		Amount:    decimal.NewFromInt(25),
	})

	require.False(t, res.Success)
	assert.Equal(t, domain.ErrCodeCreatorNotFound, res.Code)
	assert.False(t, res.Retryable)
	assert.Zero(t, f.repo.liveCount())
}

func TestPayoutToCreator_NoVerifiedBankAccount(t *testing.T) {
	f := newPayoutFixture(t)
	cc := "US"
	f.profiles.profiles["creator-nobank"] = &domain.CreatorProfile{CreatorID: "creator-nobank", CountryCode: &cc}
	f.balances.set("creator-nobank", decimal.NewFromInt(100))

	res := f.uc.PayoutToCreator(context.Background(), &domain.PayoutRequest{
		CreatorID: "creator-nobank",
		Amount:    decimal.NewFromInt(25),
	})

	require.False(t, res.Success)
	assert.Equal(t, domain.ErrCodeInvalidBankAccount, res.Code)
	assert.False(t, res.Retryable)
	assert.Zero(t, f.repo.liveCount())
	assert.Empty(t, f.balances.deducted)
}

func TestPayoutToCreator_Idempotency(t *testing.T) {
	f := newPayoutFixture(t)
	f.seedCreator(t, "creator-us", "US", "USD", decimal.NewFromInt(500))

	req := &domain.PayoutRequest{
		CreatorID:      "creator-us",
		Amount:         decimal.NewFromInt(40),
		SourceCurrency: "USD",
		IdempotencyRef: "weekly-2026-08",
	}
	first := f.uc.PayoutToCreator(context.Background(), req)
	require.True(t, first.Success, first.Error)

	second := f.uc.PayoutToCreator(context.Background(), &domain.PayoutRequest{
		CreatorID:      "creator-us",
		Amount:         decimal.NewFromInt(9999), // differing amount must not matter
		SourceCurrency: "USD",
		IdempotencyRef: "weekly-2026-08",
	})

	require.True(t, second.Success)
	assert.Equal(t, first.Payout.ID, second.Payout.ID)
	assert.True(t, second.Payout.Amount.Equal(first.Payout.Amount),
		"duplicate must observe the original attempt, not re-price it")
	assert.Equal(t, 1, f.repo.liveCount())
	assert.Equal(t, 1, f.provider.callCount("weekly-2026-08"))
	// Reserved exactly once.
	assert.True(t, f.balances.available("creator-us").Equal(decimal.NewFromInt(460)))
}

func TestPayoutToCreator_RetryableFailureRunsAgain(t *testing.T) {
	f := newPayoutFixture(t)
	f.seedCreator(t, "creator-us", "US", "USD", decimal.NewFromInt(200))
	f.provider.failNext("flaky-ref", 1, &provider.RateLimitError{RetryAfter: 3 * time.Second})

	req := &domain.PayoutRequest{
		CreatorID:      "creator-us",
		Amount:         decimal.NewFromInt(60),
		SourceCurrency: "USD",
		IdempotencyRef: "flaky-ref",
	}

	first := f.uc.PayoutToCreator(context.Background(), req)
	require.False(t, first.Success)
	assert.Equal(t, domain.ErrCodeRateLimitExceeded, first.Code)
	assert.True(t, first.Retryable)
	require.NotNil(t, first.Payout, "the attempt reached the provider, so a ledger row exists")
	assert.Equal(t, domain.PayoutStatusFailed, first.Payout.Status)
	assert.NotNil(t, first.Payout.FailedAt)
	require.NotNil(t, first.Payout.ErrorCode)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", *first.Payout.ErrorCode)
	require.Len(t, first.Payout.StatusHistory, 1)
	assert.Equal(t, domain.PayoutStatusFailed, first.Payout.StatusHistory[0].Status)
	// Funds were reserved, then returned when the transfer did not happen.
	assert.Equal(t, []string{first.Payout.ID}, f.balances.refundedIDs())
	assert.True(t, f.balances.available("creator-us").Equal(decimal.NewFromInt(200)))

	second := f.uc.PayoutToCreator(context.Background(), req)
	require.True(t, second.Success, second.Error)
	assert.NotEqual(t, first.Payout.ID, second.Payout.ID)
	assert.Equal(t, domain.PayoutStatusProcessing, second.Payout.Status)
	assert.Equal(t, 2, f.provider.callCount("flaky-ref"))

	// The failed attempt is retired, not erased.
	old := f.repo.raw(first.Payout.ID)
	require.NotNil(t, old)
	assert.NotNil(t, old.DeletedAt)
	assert.Equal(t, 1, f.repo.liveCount())
}

func TestPayoutToCreator_FatalFailureShortCircuits(t *testing.T) {
	f := newPayoutFixture(t)
	f.seedCreator(t, "creator-us", "US", "USD", decimal.NewFromInt(200))
	f.provider.failNext("dead-ref", 1, provider.ErrInvalidAccount)

	req := &domain.PayoutRequest{
		CreatorID:      "creator-us",
		Amount:         decimal.NewFromInt(30),
		SourceCurrency: "USD",
		IdempotencyRef: "dead-ref",
	}

	first := f.uc.PayoutToCreator(context.Background(), req)
	require.False(t, first.Success)
	assert.Equal(t, domain.ErrCodeInvalidBankAccount, first.Code)
	assert.False(t, first.Retryable)

	// A fatal failure is the attempt's outcome; the same reference returns it
	// without touching the provider again.
	second := f.uc.PayoutToCreator(context.Background(), req)
	require.False(t, second.Success)
	assert.Equal(t, domain.ErrCodeInvalidBankAccount, second.Code)
	assert.Equal(t, first.Payout.ID, second.Payout.ID)
	assert.Equal(t, 1, f.provider.callCount("dead-ref"))
	assert.Equal(t, 1, f.repo.liveCount())
}

func TestPayoutToCreator_BalanceCurrencyMismatchSkipsReserve(t *testing.T) {
	f := newPayoutFixture(t)
	f.seedCreator(t, "creator-gb", "GB", "GBP", decimal.NewFromInt(5))
	f.balances.currency = "EUR" // ledger balance held in another currency

	res := f.uc.PayoutToCreator(context.Background(), &domain.PayoutRequest{
		CreatorID:      "creator-gb",
		Amount:         decimal.NewFromInt(50),
		SourceCurrency: "USD",
	})

	// No same-currency balance to check or reserve; the provider-side account
	// is the backstop and it is amply funded here.
	require.True(t, res.Success, res.Error)
	assert.Empty(t, f.balances.deducted)
	assert.Equal(t, "GBP", res.Payout.Currency)
}

func TestCancelPayout(t *testing.T) {
	t.Run("processing payout cancels at provider and refunds", func(t *testing.T) {
		f := newPayoutFixture(t)
		f.seedCreator(t, "creator-us", "US", "USD", decimal.NewFromInt(100))

		res := f.uc.PayoutToCreator(context.Background(), &domain.PayoutRequest{
			CreatorID:      "creator-us",
			Amount:         decimal.NewFromInt(80),
			SourceCurrency: "USD",
		})
		require.True(t, res.Success, res.Error)
		require.True(t, f.balances.available("creator-us").Equal(decimal.NewFromInt(20)))

		cancelled, err := f.uc.CancelPayout(context.Background(), res.Payout.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PayoutStatusCancelled, cancelled.Status)

		status, err := f.provider.GetTransferStatus(context.Background(), *cancelled.ProviderTransferID)
		require.NoError(t, err)
		assert.Equal(t, provider.StateCancelled, status.Status)

		assert.Equal(t, []string{cancelled.ID}, f.balances.refundedIDs())
		assert.True(t, f.balances.available("creator-us").Equal(decimal.NewFromInt(100)))
	})

	t.Run("completed payout is no longer cancellable", func(t *testing.T) {
		f := newPayoutFixture(t)
		p := f.seedProcessingPayout("PO-DONE", "creator-1", "9000100")
		_, _, err := f.repo.ApplyTransition(context.Background(), p.ID, domain.TransitionEvent{
			To: domain.PayoutStatusCompleted,
		})
		require.NoError(t, err)

		_, err = f.uc.CancelPayout(context.Background(), p.ID)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrPayoutNotCancellable)
	})

	t.Run("unknown payout", func(t *testing.T) {
		f := newPayoutFixture(t)
		_, err := f.uc.CancelPayout(context.Background(), "PO-MISSING")
		assert.ErrorIs(t, err, domain.ErrPayoutNotFound)
	})
}

func TestListPayoutHistory(t *testing.T) {
	f := newPayoutFixture(t)
	base := time.Now()
	for i, id := range []string{"PO-A", "PO-B", "PO-C"} {
		p := f.seedProcessingPayout(id, "creator-1", "90001"+id)
		f.repo.mu.Lock()
		p.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		f.repo.mu.Unlock()
	}

	payouts, err := f.uc.ListPayoutHistory(context.Background(), "creator-1", 2, 0)
	require.NoError(t, err)
	require.Len(t, payouts, 2)
	assert.Equal(t, "PO-C", payouts[0].ID, "newest first")
	assert.Equal(t, "PO-B", payouts[1].ID)

	rest, err := f.uc.ListPayoutHistory(context.Background(), "creator-1", 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "PO-A", rest[0].ID)
}

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      domain.ErrorCode
		retryable bool
	}{
		{"insufficient provider funds", provider.ErrInsufficientFunds, domain.ErrCodeInsufficientBalance, false},
		{"invalid account", provider.ErrInvalidAccount, domain.ErrCodeInvalidBankAccount, false},
		{"unsupported corridor", provider.ErrUnsupportedRoute, domain.ErrCodeUnsupportedCountry, false},
		{"rate limited", &provider.RateLimitError{RetryAfter: 7 * time.Second}, domain.ErrCodeRateLimitExceeded, true},
		{"provider down", provider.ErrUnavailable, domain.ErrCodeServerError, true},
		{"deadline exceeded", context.DeadlineExceeded, domain.ErrCodeTimeout, true},
		{"net timeout", &net.DNSError{IsTimeout: true}, domain.ErrCodeTimeout, true},
		{"net failure", &net.DNSError{Err: "refused"}, domain.ErrCodeNetworkError, true},
		{"anything else", errors.New("wat"), domain.ErrCodeTransferFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := classifyProviderError(tt.err)
			assert.Equal(t, tt.code, pe.Code)
			assert.Equal(t, tt.retryable, pe.Retryable)
		})
	}

	t.Run("retry-after hint is preserved", func(t *testing.T) {
		pe := classifyProviderError(&provider.RateLimitError{RetryAfter: 42 * time.Second})
		assert.Equal(t, 42*time.Second, pe.RetryAfter)
	})
}
