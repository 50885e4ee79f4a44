// payout-service/internal/usecase/batch_uc.go
package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payout-service/config"
	"payout-service/internal/domain"
	"payout-service/internal/metrics"
	"payout-service/pkg/utils"
)

// BatchUsecase fans a list of payout requests over a bounded worker pool.
// Concurrency is capped so a big batch cannot trip provider rate limits;
// items complete in no particular order.
type BatchUsecase struct {
	payoutUC *PayoutUsecase
	metrics  *metrics.Metrics
	idGen    *utils.IDGenerator
	config   *config.Config
	logger   *zap.Logger
}

func NewBatchUsecase(
	payoutUC *PayoutUsecase,
	m *metrics.Metrics,
	idGen *utils.IDGenerator,
	cfg *config.Config,
	logger *zap.Logger,
) *BatchUsecase {
	return &BatchUsecase{
		payoutUC: payoutUC,
		metrics:  m,
		idGen:    idGen,
		config:   cfg,
		logger:   logger,
	}
}

type batchTask struct {
	idx int
	req *domain.PayoutRequest
}

// BatchPayout runs the items through the Transfer Initiator with at most
// opts.MaxConcurrent in flight. With StopOnError set, the first failure
// stops scheduling new items; work already handed to a worker completes.
// Every item lands in Successful or Failed, so the summary counts always
// add up to the number requested.
func (uc *BatchUsecase) BatchPayout(ctx context.Context, items []*domain.PayoutRequest, opts domain.BatchOptions) *domain.BatchPayoutResult {
	batchID := uc.idGen.NewBatchID()
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = uc.config.Batch.MaxConcurrent
	}
	if maxConcurrent > len(items) && len(items) > 0 {
		maxConcurrent = len(items)
	}

	uc.logger.Info("batch payout started",
		zap.String("batch_id", batchID),
		zap.Int("items", len(items)),
		zap.Int("max_concurrent", maxConcurrent),
		zap.Bool("stop_on_error", opts.StopOnError))
	uc.metrics.RecordBatchStart(len(items))

	results := make([]*domain.PayoutResult, len(items))
	taskChan := make(chan batchTask)
	var stopped atomic.Bool
	var wg sync.WaitGroup

	for i := 0; i < maxConcurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				// A task can be handed over in the same instant another
				// worker trips the stop flag; drop it instead of running it.
				if opts.StopOnError && stopped.Load() {
					continue
				}
				uc.metrics.BatchInFlight.Inc()
				res := uc.payoutUC.PayoutToCreator(ctx, task.req)
				uc.metrics.BatchInFlight.Dec()

				results[task.idx] = res
				if !res.Success && opts.StopOnError {
					stopped.Store(true)
				}
			}
		}()
	}

feed:
	for i, req := range items {
		if opts.StopOnError && stopped.Load() {
			break
		}
		select {
		case taskChan <- batchTask{idx: i, req: req}:
		case <-ctx.Done():
			break feed
		}
	}
	close(taskChan)
	wg.Wait()

	result := uc.collect(items, results)

	uc.logger.Info("batch payout finished",
		zap.String("batch_id", batchID),
		zap.Int("requested", result.Requested),
		zap.Int("successful", result.Summary.SuccessCount),
		zap.Int("failed", result.Summary.FailureCount))
	return result
}

// collect folds per-item results into the batch report. Items the feeder
// never scheduled are recorded as retryable failures so the retry helper
// can pick them up.
func (uc *BatchUsecase) collect(items []*domain.PayoutRequest, results []*domain.PayoutResult) *domain.BatchPayoutResult {
	result := &domain.BatchPayoutResult{Requested: len(items)}
	totals := make(map[string]decimal.Decimal)

	for i, res := range results {
		if res == nil {
			result.Failed = append(result.Failed, &domain.FailedPayout{
				Request:   items[i],
				Error:     "not attempted: batch stopped after an earlier failure",
				Retryable: true,
			})
			continue
		}
		if res.Success {
			result.Successful = append(result.Successful, res.Payout)
			cur := res.Payout.SourceCurrency
			totals[cur] = totals[cur].Add(res.Payout.SourceAmount)
			continue
		}
		result.Failed = append(result.Failed, &domain.FailedPayout{
			Request:   items[i],
			Code:      res.Code,
			Error:     res.Error,
			Retryable: res.Retryable,
		})
	}

	result.Summary = domain.BatchSummary{
		SuccessCount:    len(result.Successful),
		FailureCount:    len(result.Failed),
		TotalByCurrency: totals,
	}
	return result
}

// RetryFailedPayouts re-drives retryable batch failures with exponential
// backoff between attempts, reusing each entry's original idempotency
// reference so a provider-side duplicate can never be created. Entries that
// failed fatally pass through untouched.
func (uc *BatchUsecase) RetryFailedPayouts(ctx context.Context, failed []*domain.FailedPayout) *domain.BatchPayoutResult {
	maxAttempts := uc.config.Batch.RetryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	baseDelay := uc.config.Batch.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}

	result := &domain.BatchPayoutResult{Requested: len(failed)}
	totals := make(map[string]decimal.Decimal)

	for _, entry := range failed {
		if !entry.Retryable {
			result.Failed = append(result.Failed, entry)
			continue
		}

		final := uc.retryOne(ctx, entry, maxAttempts, baseDelay)
		if final.Success {
			result.Successful = append(result.Successful, final.Payout)
			cur := final.Payout.SourceCurrency
			totals[cur] = totals[cur].Add(final.Payout.SourceAmount)
			continue
		}
		result.Failed = append(result.Failed, &domain.FailedPayout{
			Request:   entry.Request,
			Code:      final.Code,
			Error:     final.Error,
			Retryable: final.Retryable,
		})
	}

	result.Summary = domain.BatchSummary{
		SuccessCount:    len(result.Successful),
		FailureCount:    len(result.Failed),
		TotalByCurrency: totals,
	}
	return result
}

// retryOne attempts a single entry with delays of base, 2x base, 4x base…
// before each attempt. It stops early on success, on a fatal classification,
// or when the context ends.
func (uc *BatchUsecase) retryOne(ctx context.Context, entry *domain.FailedPayout, maxAttempts int, baseDelay time.Duration) *domain.PayoutResult {
	last := &domain.PayoutResult{
		Success:   false,
		Error:     entry.Error,
		Code:      entry.Code,
		Retryable: entry.Retryable,
	}

	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			uc.logger.Warn("retry abandoned, context done",
				zap.String("creator_id", entry.Request.CreatorID),
				zap.Int("attempt", attempt))
			return last
		}

		uc.logger.Info("retrying failed payout",
			zap.String("creator_id", entry.Request.CreatorID),
			zap.String("idempotency_ref", entry.Request.IdempotencyRef),
			zap.Int("attempt", attempt),
			zap.Duration("waited", delay))

		last = uc.payoutUC.PayoutToCreator(ctx, entry.Request)
		if last.Success || !last.Retryable {
			return last
		}
		delay *= 2
	}
	return last
}
