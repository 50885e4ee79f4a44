// internal/provider/provider.go
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"payout-service/internal/domain"
)

// Sentinel errors providers map their wire-level failures onto so the
// Transfer Initiator can classify without knowing provider internals.
var (
	ErrInsufficientFunds = errors.New("provider account has insufficient funds")
	ErrInvalidAccount    = errors.New("destination account rejected by provider")
	ErrRateLimited       = errors.New("provider rate limit exceeded")
	ErrUnavailable       = errors.New("provider unavailable")
	ErrTransferNotFound  = errors.New("transfer not found at provider")
	ErrUnsupportedRoute  = errors.New("provider does not support this corridor")
	ErrQuoteExpired      = errors.New("quote expired before transfer creation")
)

// RateLimitError carries the provider's Retry-After hint alongside the
// rate-limit sentinel. errors.Is(err, ErrRateLimited) matches it.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider rate limit exceeded, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// TransferProvider is the contract every money-transfer provider implements.
type TransferProvider interface {
	// Name returns the provider name used in ledger rows and logs.
	Name() string

	// CreateQuote locks a conversion rate for a short window.
	CreateQuote(ctx context.Context, req *QuoteRequest) (*Quote, error)

	// CreateTransfer creates the transfer. The idempotency reference makes
	// retried calls safe: the provider returns the existing transfer rather
	// than creating a second one.
	CreateTransfer(ctx context.Context, req *TransferRequest) (*TransferResult, error)

	// GetTransferStatus is the authoritative status read, used by the
	// reconciler when webhooks go missing.
	GetTransferStatus(ctx context.Context, providerTransferID string) (*TransferStatus, error)

	// CancelTransfer cancels a transfer that has not been paid out yet.
	CancelTransfer(ctx context.Context, providerTransferID string) error

	// GetBalance reads the platform's provider-account balance for a currency.
	GetBalance(ctx context.Context, currency string) (*Balance, error)
}

type QuoteRequest struct {
	SourceCurrency string
	TargetCurrency string
	SourceAmount   decimal.Decimal
}

type Quote struct {
	ID           string
	Rate         decimal.Decimal
	SourceAmount decimal.Decimal
	TargetAmount decimal.Decimal
	Fee          decimal.Decimal
	ExpiresAt    time.Time
}

type TransferRequest struct {
	// IdempotencyRef becomes the provider's customer transaction id; a stable
	// value across retries prevents duplicate transfers.
	IdempotencyRef string
	QuoteID        string
	SourceCurrency string
	TargetCurrency string
	SourceAmount   decimal.Decimal
	Reference      string
	Bank           *domain.BankDetails
}

type TransferResult struct {
	ProviderTransferID string
	Status             string
	Fee                decimal.Decimal
	EstimatedDelivery  *time.Time
}

type TransferStatus struct {
	ProviderTransferID string
	Status             string
	UpdatedAt          time.Time
}

type Balance struct {
	Currency string
	Amount   decimal.Decimal
}

// Provider-native transfer states, Wise vocabulary. The simulated provider
// speaks the same dialect so state mapping has one code path.
const (
	StateIncomingPaymentWaiting = "incoming_payment_waiting"
	StateProcessing             = "processing"
	StateFundsConverted         = "funds_converted"
	StateOutgoingPaymentSent    = "outgoing_payment_sent"
	StateBouncedBack            = "bounced_back"
	StateFundsRefunded          = "funds_refunded"
	StateChargedBack            = "charged_back"
	StateCancelled              = "cancelled"
)

// MapTransferState folds a provider state into the ledger status it implies.
// Unknown and intermediate states all read as processing.
func MapTransferState(state string) domain.PayoutStatus {
	switch state {
	case StateOutgoingPaymentSent:
		return domain.PayoutStatusCompleted
	case StateBouncedBack, StateFundsRefunded:
		return domain.PayoutStatusFailed
	case StateChargedBack:
		return domain.PayoutStatusRefunded
	case StateCancelled:
		return domain.PayoutStatusCancelled
	default:
		return domain.PayoutStatusProcessing
	}
}
