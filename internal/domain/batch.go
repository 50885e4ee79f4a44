// internal/domain/batch.go
package domain

import "github.com/shopspring/decimal"

// BatchOptions tunes one batch run. MaxConcurrent bounds the worker pool so
// a large batch cannot trip provider rate limits.
type BatchOptions struct {
	MaxConcurrent int  `json:"max_concurrent"`
	StopOnError   bool `json:"stop_on_error"`
}

// FailedPayout is one batch entry that did not result in a processing
// transfer, with enough context for the retry helper to re-drive it.
type FailedPayout struct {
	Request   *PayoutRequest `json:"request"`
	Code      ErrorCode      `json:"code"`
	Error     string         `json:"error"`
	Retryable bool           `json:"retryable"`
}

// BatchSummary aggregates a batch run. SuccessCount+FailureCount always
// equals the number of requested items.
type BatchSummary struct {
	SuccessCount    int                        `json:"success_count"`
	FailureCount    int                        `json:"failure_count"`
	TotalByCurrency map[string]decimal.Decimal `json:"total_by_currency"`
}

// BatchPayoutResult is the transient outcome of one Batch Coordinator run.
// It is returned to the caller and never persisted.
type BatchPayoutResult struct {
	Requested  int             `json:"requested"`
	Successful []*Payout       `json:"successful"`
	Failed     []*FailedPayout `json:"failed"`
	Summary    BatchSummary    `json:"summary"`
}
