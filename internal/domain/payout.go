// internal/domain/payout.go
package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
	PayoutStatusRefunded   PayoutStatus = "refunded"
)

// Payout reasons tag which product flow earned the money. The platform fee
// split is configured per reason.
const (
	ReasonWithdrawal = "withdrawal"
	ReasonTicketSale = "ticket_sale"
	ReasonTip        = "tip"
)

// legalTransitions is the status graph. A payout never re-enters pending;
// completed, cancelled and refunded are sinks; failed may move to refunded
// when a completed-then-bounced transfer is charged back.
var legalTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutStatusPending:    {PayoutStatusProcessing, PayoutStatusFailed, PayoutStatusCancelled},
	PayoutStatusProcessing: {PayoutStatusCompleted, PayoutStatusFailed, PayoutStatusCancelled},
	PayoutStatusFailed:     {PayoutStatusRefunded},
	PayoutStatusCompleted:  {},
	PayoutStatusCancelled:  {},
	PayoutStatusRefunded:   {},
}

// CanTransitionTo reports whether moving from s to target is a legal edge.
// Re-applying the current status is not an edge; callers treat it as a no-op.
func (s PayoutStatus) CanTransitionTo(target PayoutStatus) bool {
	for _, next := range legalTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave s. failed is
// terminal for retry purposes but still admits the refunded edge.
func (s PayoutStatus) IsTerminal() bool {
	return len(legalTransitions[s]) == 0
}

func (s PayoutStatus) IsValid() bool {
	_, ok := legalTransitions[s]
	return ok
}

// StatusChange is one entry in a payout's append-only status history.
type StatusChange struct {
	Status       PayoutStatus `json:"status"`
	FromStatus   PayoutStatus `json:"from_status"`
	OccurredAt   time.Time    `json:"occurred_at"`
	ErrorMessage *string      `json:"error_message,omitempty"`
}

// TransitionEvent is the input to the ledger's single mutation path. The
// optional provider linkage fields let the initiator attach the transfer id
// and fee in the same atomic write as the pending→processing transition.
type TransitionEvent struct {
	To                 PayoutStatus
	ErrorCode          *ErrorCode
	ErrorMessage       *string
	ProviderTransferID *string
	ProviderFee        *decimal.Decimal
	QuoteID            *string
	OccurredAt         time.Time
	Source             string // "api", "webhook", "reconciler"
}

// Payout is one attempt to move earned money from the platform to a
// creator's bank account.
type Payout struct {
	ID        string `json:"id" db:"id"`
	CreatorID string `json:"creator_id" db:"creator_id"`

	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Currency       string          `json:"currency" db:"currency"`
	SourceAmount   decimal.Decimal `json:"source_amount" db:"source_amount"`
	SourceCurrency string          `json:"source_currency" db:"source_currency"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate" db:"exchange_rate"`
	PlatformFee    decimal.Decimal `json:"platform_fee" db:"platform_fee"`
	ProviderFee    decimal.Decimal `json:"provider_fee" db:"provider_fee"`

	Method         PayoutMethod `json:"method" db:"method"`
	BankAccountRef string       `json:"bank_account_ref" db:"bank_account_ref"`

	IdempotencyRef     string  `json:"idempotency_ref" db:"idempotency_ref"`
	QuoteID            *string `json:"quote_id,omitempty" db:"quote_id"`
	ProviderTransferID *string `json:"provider_transfer_id,omitempty" db:"provider_transfer_id"`

	Status        PayoutStatus   `json:"status" db:"status"`
	StatusHistory []StatusChange `json:"status_history" db:"status_history"`

	HasOpenIssue bool    `json:"has_open_issue" db:"has_open_issue"`
	IssueNote    *string `json:"issue_note,omitempty" db:"issue_note"`

	Reason   string          `json:"reason" db:"reason"`
	Metadata json.RawMessage `json:"metadata,omitempty" db:"metadata"`

	ErrorCode    *string `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	FailedAt    *time.Time `json:"failed_at,omitempty" db:"failed_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// LastChange returns the most recent history entry, or nil for a payout that
// has never transitioned.
func (p *Payout) LastChange() *StatusChange {
	if len(p.StatusHistory) == 0 {
		return nil
	}
	return &p.StatusHistory[len(p.StatusHistory)-1]
}

// PayoutRequest is the inbound request to pay a creator.
type PayoutRequest struct {
	CreatorID      string          `json:"creator_id"`
	Amount         decimal.Decimal `json:"amount"`
	SourceCurrency string          `json:"source_currency"`
	Reason         string          `json:"reason"`
	IdempotencyRef string          `json:"idempotency_ref,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

func (r *PayoutRequest) Validate() error {
	if r.CreatorID == "" {
		return errors.New("creator_id is required")
	}
	if !r.Amount.IsPositive() {
		return errors.New("amount must be greater than 0")
	}
	if r.SourceCurrency == "" {
		r.SourceCurrency = "USD"
	}
	r.SourceCurrency = strings.ToUpper(r.SourceCurrency)
	if len(r.SourceCurrency) != 3 {
		return errors.New("source_currency must be an ISO 4217 code")
	}
	if r.Reason == "" {
		r.Reason = ReasonWithdrawal
	}
	return nil
}

// PayoutResult is the structured outcome of one payout attempt. Business
// failures set Success=false with a code; they are not Go errors.
type PayoutResult struct {
	Success   bool      `json:"success"`
	Payout    *Payout   `json:"payout,omitempty"`
	Error     string    `json:"error,omitempty"`
	Code      ErrorCode `json:"code,omitempty"`
	Retryable bool      `json:"retryable"`
}

func SuccessResult(p *Payout) *PayoutResult {
	return &PayoutResult{Success: true, Payout: p}
}

func FailureResult(pe *PayoutError) *PayoutResult {
	return &PayoutResult{
		Success:   false,
		Error:     pe.Message,
		Code:      pe.Code,
		Retryable: pe.Retryable,
	}
}

func FailureResultWithPayout(p *Payout, pe *PayoutError) *PayoutResult {
	res := FailureResult(pe)
	res.Payout = p
	return res
}
