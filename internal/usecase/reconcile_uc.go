// payout-service/internal/usecase/reconcile_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"payout-service/config"
	"payout-service/internal/domain"
	"payout-service/internal/metrics"
	"payout-service/internal/provider"
	"payout-service/internal/provider/wise"
	"payout-service/internal/pub"
	"payout-service/internal/repository"
)

// reconcileBatchLimit caps how many stuck payouts one poller sweep touches.
const reconcileBatchLimit = 50

// ReconcileUsecase converges ledger state with provider state. It is fed
// from two directions: authenticated webhook events pushed by the provider,
// and a poller that asks the provider about payouts stuck in processing.
// Both feed the same apply path, so mapping and bookkeeping cannot drift.
type ReconcileUsecase struct {
	payoutRepo  repository.PayoutRepository
	balanceRepo repository.BalanceRepository
	eventRepo   repository.WebhookEventRepository
	providers   map[domain.PayoutMethod]provider.TransferProvider
	publisher   *pub.StatusPublisher
	metrics     *metrics.Metrics
	config      *config.Config
	logger      *zap.Logger
}

func NewReconcileUsecase(
	payoutRepo repository.PayoutRepository,
	balanceRepo repository.BalanceRepository,
	eventRepo repository.WebhookEventRepository,
	providers map[domain.PayoutMethod]provider.TransferProvider,
	publisher *pub.StatusPublisher,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *ReconcileUsecase {
	return &ReconcileUsecase{
		payoutRepo:  payoutRepo,
		balanceRepo: balanceRepo,
		eventRepo:   eventRepo,
		providers:   providers,
		publisher:   publisher,
		metrics:     m,
		config:      cfg,
		logger:      logger,
	}
}

// ProcessWebhookEvent applies one authenticated webhook delivery. The caller
// has already verified the signature and screened out validation pings.
// Returned errors are for logging only; the HTTP handler acknowledges the
// delivery regardless, because the ledger apply is idempotent and the
// provider must not retry-storm us over internal hiccups.
func (uc *ReconcileUsecase) ProcessWebhookEvent(ctx context.Context, evt *wise.Event, dedupKey string) error {
	fresh, err := uc.eventRepo.MarkProcessed(ctx, dedupKey)
	if err != nil {
		// Dedup store down: proceed anyway, ApplyTransition stays correct.
		uc.logger.Warn("webhook dedup mark failed, continuing",
			zap.String("dedup_key", dedupKey),
			zap.Error(err))
	} else if !fresh {
		uc.logger.Info("duplicate webhook delivery suppressed",
			zap.String("event_type", evt.EventType),
			zap.String("dedup_key", dedupKey))
		uc.metrics.RecordWebhookEvent(evt.EventType, "duplicate")
		return nil
	}

	switch evt.EventType {
	case wise.EventTransferStateChange:
		return uc.processStateChange(ctx, evt)
	case wise.EventTransferActiveCases:
		return uc.processActiveCases(ctx, evt)
	default:
		uc.logger.Debug("ignoring webhook event type",
			zap.String("event_type", evt.EventType))
		uc.metrics.RecordWebhookEvent(evt.EventType, "ignored")
		return nil
	}
}

func (uc *ReconcileUsecase) processStateChange(ctx context.Context, evt *wise.Event) error {
	transferID := evt.TransferID()
	payout, err := uc.payoutRepo.GetByProviderTransferID(ctx, transferID)
	if err != nil {
		if errors.Is(err, domain.ErrPayoutNotFound) {
			// Another instance's transfer or a stale reference. Acknowledge
			// so the provider does not hammer us with retries.
			uc.logger.Warn("webhook for unknown transfer",
				zap.String("provider_transfer_id", transferID),
				zap.String("current_state", evt.Data.CurrentState))
			uc.metrics.RecordWebhookEvent(evt.EventType, "unknown_transfer")
			return nil
		}
		uc.metrics.RecordWebhookEvent(evt.EventType, "error")
		return fmt.Errorf("payout lookup failed for transfer %s: %w", transferID, err)
	}

	applied, err := uc.applyProviderState(ctx, payout, evt.Data.CurrentState, evt.OccurredAt(), "webhook")
	if err != nil {
		uc.metrics.RecordWebhookEvent(evt.EventType, "error")
		return err
	}
	if applied {
		uc.metrics.RecordWebhookEvent(evt.EventType, "applied")
	} else {
		uc.metrics.RecordWebhookEvent(evt.EventType, "noop")
	}
	return nil
}

func (uc *ReconcileUsecase) processActiveCases(ctx context.Context, evt *wise.Event) error {
	transferID := evt.TransferID()
	payout, err := uc.payoutRepo.GetByProviderTransferID(ctx, transferID)
	if err != nil {
		if errors.Is(err, domain.ErrPayoutNotFound) {
			uc.logger.Warn("active-cases webhook for unknown transfer",
				zap.String("provider_transfer_id", transferID))
			uc.metrics.RecordWebhookEvent(evt.EventType, "unknown_transfer")
			return nil
		}
		uc.metrics.RecordWebhookEvent(evt.EventType, "error")
		return fmt.Errorf("payout lookup failed for transfer %s: %w", transferID, err)
	}

	note := "provider opened a case on this transfer"
	if len(evt.Data.ActiveCases) > 0 {
		note = "provider cases: " + strings.Join(evt.Data.ActiveCases, ", ")
	}
	if err := uc.payoutRepo.FlagIssue(ctx, payout.ID, note); err != nil {
		uc.metrics.RecordWebhookEvent(evt.EventType, "error")
		return fmt.Errorf("failed to flag issue on payout %s: %w", payout.ID, err)
	}

	uc.logger.Info("payout flagged with provider case",
		zap.String("payout_id", payout.ID),
		zap.String("provider_transfer_id", transferID),
		zap.Strings("cases", evt.Data.ActiveCases))
	uc.metrics.RecordWebhookEvent(evt.EventType, "flagged")
	return nil
}

// applyProviderState maps a provider transfer state onto the ledger and
// applies it. Stale or out-of-order states that the graph rejects are
// logged and dropped, not errors: the provider re-sends history freely and
// the ledger's current status always wins.
func (uc *ReconcileUsecase) applyProviderState(ctx context.Context, payout *domain.Payout, state string, occurredAt time.Time, source string) (bool, error) {
	target := provider.MapTransferState(state)
	if target == payout.Status {
		return false, nil
	}

	event := domain.TransitionEvent{
		To:         target,
		OccurredAt: occurredAt,
		Source:     source,
	}
	if target == domain.PayoutStatusFailed {
		code := domain.ErrCodeTransferFailed
		msg := fmt.Sprintf("transfer %s at provider", state)
		event.ErrorCode = &code
		event.ErrorMessage = &msg
	}

	from := payout.Status
	updated, applied, err := uc.payoutRepo.ApplyTransition(ctx, payout.ID, event)
	if err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			uc.logger.Warn("dropping stale provider state",
				zap.String("payout_id", payout.ID),
				zap.String("status", string(payout.Status)),
				zap.String("provider_state", state),
				zap.String("mapped_status", string(target)))
			return false, nil
		}
		return false, fmt.Errorf("failed to apply %s on payout %s: %w", target, payout.ID, err)
	}
	if !applied {
		return false, nil
	}

	uc.publisher.PublishStatusChange(updated, from, source)
	uc.logger.Info("payout status reconciled",
		zap.String("payout_id", updated.ID),
		zap.String("from_status", string(from)),
		zap.String("status", string(updated.Status)),
		zap.String("provider_state", state),
		zap.String("source", source))

	// A transfer that came back after funds were reserved returns the money
	// to the creator's balance. Charge-backs arrive on already-failed rows,
	// which were refunded when they failed, so only this edge credits.
	if from == domain.PayoutStatusProcessing && target == domain.PayoutStatusFailed {
		if err := uc.balanceRepo.Refund(ctx, updated.CreatorID, updated.SourceAmount, updated.ID); err != nil {
			uc.logger.Error("balance refund after bounced transfer did not apply",
				zap.String("payout_id", updated.ID),
				zap.Error(err))
			_ = uc.payoutRepo.FlagIssue(ctx, updated.ID, "balance refund pending after bounced transfer")
		}
	}

	return true, nil
}

// Run drives the reconciliation poller until the context ends. Webhooks are
// the fast path; this loop is the safety net for deliveries that never
// arrive.
func (uc *ReconcileUsecase) Run(ctx context.Context) {
	interval := uc.config.Reconcile.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	uc.logger.Info("reconciliation poller started",
		zap.Duration("interval", interval),
		zap.Duration("stuck_after", uc.config.Reconcile.StuckAfter))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			uc.logger.Info("reconciliation poller stopped")
			return
		case <-ticker.C:
			uc.reconcileStuck(ctx)
		}
	}
}

// reconcileStuck asks the provider for the authoritative status of payouts
// that have sat in processing past the configured window, and applies what
// it learns. Never a second create: status polling is the only legal
// recovery once a provider transfer id exists.
func (uc *ReconcileUsecase) reconcileStuck(ctx context.Context) {
	payouts, err := uc.payoutRepo.ListStuckProcessing(ctx, uc.config.Reconcile.StuckAfter, reconcileBatchLimit)
	if err != nil {
		uc.logger.Error("failed to list stuck payouts", zap.Error(err))
		return
	}

	appliedByStatus := make(map[string]int)
	defer uc.metrics.RecordReconcile(appliedByStatus)

	if len(payouts) == 0 {
		return
	}
	uc.logger.Info("reconciling stuck payouts", zap.Int("count", len(payouts)))

	for _, payout := range payouts {
		prov, ok := uc.providers[payout.Method]
		if !ok {
			uc.logger.Error("stuck payout has no provider",
				zap.String("payout_id", payout.ID),
				zap.String("method", string(payout.Method)))
			continue
		}

		status, err := prov.GetTransferStatus(ctx, *payout.ProviderTransferID)
		if err != nil {
			if errors.Is(err, provider.ErrTransferNotFound) {
				uc.logger.Error("provider does not know stuck transfer",
					zap.String("payout_id", payout.ID),
					zap.String("provider_transfer_id", *payout.ProviderTransferID))
				_ = uc.payoutRepo.FlagIssue(ctx, payout.ID, "provider has no record of this transfer")
				continue
			}
			uc.logger.Warn("status poll failed",
				zap.String("payout_id", payout.ID),
				zap.Error(err))
			continue
		}

		applied, err := uc.applyProviderState(ctx, payout, status.Status, status.UpdatedAt, "reconciler")
		if err != nil {
			uc.logger.Error("failed to reconcile payout",
				zap.String("payout_id", payout.ID),
				zap.Error(err))
			continue
		}
		if applied {
			appliedByStatus[string(provider.MapTransferState(status.Status))]++
		}
	}
}
