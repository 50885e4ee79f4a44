// payout-service/internal/usecase/payout_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payout-service/config"
	"payout-service/internal/domain"
	"payout-service/internal/metrics"
	"payout-service/internal/provider"
	"payout-service/internal/pub"
	"payout-service/internal/repository"
	"payout-service/pkg/utils"
)

// PayoutUsecase orchestrates a single payout end to end: route resolution,
// bank account decryption, balance reservation, quoting, transfer creation
// and the ledger transitions around them.
type PayoutUsecase struct {
	payoutRepo  repository.PayoutRepository
	balanceRepo repository.BalanceRepository
	profileRepo repository.ProfileRepository
	resolver    *RouteResolver
	bankFetcher *BankAccountFetcher
	providers   map[domain.PayoutMethod]provider.TransferProvider
	publisher   *pub.StatusPublisher
	metrics     *metrics.Metrics
	idGen       *utils.IDGenerator
	config      *config.Config
	logger      *zap.Logger
}

func NewPayoutUsecase(
	payoutRepo repository.PayoutRepository,
	balanceRepo repository.BalanceRepository,
	profileRepo repository.ProfileRepository,
	resolver *RouteResolver,
	bankFetcher *BankAccountFetcher,
	providers map[domain.PayoutMethod]provider.TransferProvider,
	publisher *pub.StatusPublisher,
	m *metrics.Metrics,
	idGen *utils.IDGenerator,
	cfg *config.Config,
	logger *zap.Logger,
) *PayoutUsecase {
	return &PayoutUsecase{
		payoutRepo:  payoutRepo,
		balanceRepo: balanceRepo,
		profileRepo: profileRepo,
		resolver:    resolver,
		bankFetcher: bankFetcher,
		providers:   providers,
		publisher:   publisher,
		metrics:     m,
		idGen:       idGen,
		config:      cfg,
		logger:      logger,
	}
}

// PayoutToCreator runs one payout attempt. Business failures come back as a
// result with Success=false and a classified code, never as a panic. Nothing
// is persisted for requests that fail validation or precondition checks; a
// ledger row exists from the moment the request is cleared to reach the
// provider.
func (uc *PayoutUsecase) PayoutToCreator(ctx context.Context, req *domain.PayoutRequest) *domain.PayoutResult {
	start := time.Now()

	if err := req.Validate(); err != nil {
		uc.logger.Warn("payout request rejected",
			zap.String("creator_id", req.CreatorID),
			zap.Error(err))
		return uc.failResult(domain.NewPayoutError(domain.ErrCodeInvalidRequest, err.Error(), err))
	}

	if req.IdempotencyRef == "" {
		req.IdempotencyRef = uuid.NewString()
	}

	uc.logger.Info("initiating payout",
		zap.String("creator_id", req.CreatorID),
		zap.String("amount", req.Amount.String()),
		zap.String("source_currency", req.SourceCurrency),
		zap.String("reason", req.Reason),
		zap.String("idempotency_ref", req.IdempotencyRef))

	// At-most-one transfer per reference: an existing payout for this
	// reference short-circuits, except a retryable failure that never
	// reached the provider, which may be attempted again.
	if result, done := uc.checkExisting(ctx, req); done {
		return result
	}

	if _, err := uc.profileRepo.GetProfile(ctx, req.CreatorID); err != nil {
		if errors.Is(err, domain.ErrCreatorNotFound) {
			uc.logger.Error("payout requested for unknown creator",
				zap.String("creator_id", req.CreatorID))
			return uc.failResult(domain.NewPayoutError(domain.ErrCodeCreatorNotFound,
				"creator does not exist", err))
		}
		return uc.failResult(domain.NewPayoutError(domain.ErrCodeServerError,
			"creator lookup failed", err))
	}

	route := uc.resolver.ResolvePayoutRoute(ctx, req.CreatorID)

	prov, ok := uc.providers[route.Method]
	if !ok {
		uc.logger.Error("no provider configured for method",
			zap.String("creator_id", req.CreatorID),
			zap.String("method", string(route.Method)),
			zap.String("country_code", route.CountryCode))
		return uc.failResult(domain.NewPayoutError(domain.ErrCodeUnsupportedCountry,
			fmt.Sprintf("payouts to %s are not supported yet", route.CountryCode), nil))
	}

	bank, err := uc.bankFetcher.FetchVerifiedBankAccount(ctx, req.CreatorID)
	if err != nil {
		return uc.failResult(domain.NewPayoutError(domain.ErrCodeInvalidBankAccount,
			"stored bank account could not be read; re-add the payout method", err))
	}
	if bank == nil {
		return uc.failResult(domain.NewPayoutError(domain.ErrCodeInvalidBankAccount,
			"no verified bank account on file; add and verify a payout method first", domain.ErrNoVerifiedAccount))
	}
	bank.Country = route.CountryCode

	// Creator-side funds check before anything is persisted.
	available, balanceCurrency, err := uc.balanceRepo.GetAvailableBalance(ctx, req.CreatorID)
	if err != nil {
		uc.logger.Error("balance lookup failed",
			zap.String("creator_id", req.CreatorID),
			zap.Error(err))
		return uc.failResult(domain.NewPayoutError(domain.ErrCodeServerError, "could not read creator balance", err))
	}
	if balanceCurrency == req.SourceCurrency && available.LessThan(req.Amount) {
		uc.logger.Warn("insufficient creator balance",
			zap.String("creator_id", req.CreatorID),
			zap.String("available", available.String()),
			zap.String("requested", req.Amount.String()))
		return uc.failResult(domain.NewPayoutError(domain.ErrCodeInsufficientBalance,
			fmt.Sprintf("available balance %s %s is less than requested %s", available.String(), balanceCurrency, req.Amount.String()), nil))
	}
	if balanceCurrency != req.SourceCurrency {
		uc.logger.Warn("balance currency differs from request, skipping creator-side check",
			zap.String("creator_id", req.CreatorID),
			zap.String("balance_currency", balanceCurrency),
			zap.String("source_currency", req.SourceCurrency))
	}

	feePercent := uc.config.Payout.FeePercentFor(req.Reason)
	platformFee := req.Amount.Mul(feePercent).Div(decimal.NewFromInt(100)).Round(2)
	netAmount := req.Amount.Sub(platformFee)

	// Quote only cross-currency legs; same-currency pays out at parity.
	var quote *provider.Quote
	exchangeRate := decimal.NewFromInt(1)
	targetAmount := netAmount
	if route.Currency != req.SourceCurrency {
		quote, err = prov.CreateQuote(ctx, &provider.QuoteRequest{
			SourceCurrency: req.SourceCurrency,
			TargetCurrency: route.Currency,
			SourceAmount:   netAmount,
		})
		if err != nil {
			pe := classifyProviderError(err)
			uc.logger.Error("quote failed",
				zap.String("creator_id", req.CreatorID),
				zap.String("source_currency", req.SourceCurrency),
				zap.String("target_currency", route.Currency),
				zap.String("code", string(pe.Code)),
				zap.Error(err))
			return uc.failResult(pe)
		}
		exchangeRate = quote.Rate
		targetAmount = quote.TargetAmount
	}

	// Provider account balance is shared and externally funded; the check is
	// best-effort and the provider's own rejection is the backstop.
	if balance, err := prov.GetBalance(ctx, req.SourceCurrency); err != nil {
		uc.logger.Warn("provider balance check failed, proceeding",
			zap.String("provider", prov.Name()),
			zap.String("currency", req.SourceCurrency),
			zap.Error(err))
	} else if balance.Amount.LessThan(netAmount) {
		uc.logger.Error("provider account balance too low",
			zap.String("provider", prov.Name()),
			zap.String("currency", req.SourceCurrency),
			zap.String("balance", balance.Amount.String()),
			zap.String("required", netAmount.String()))
		return uc.failResult(domain.NewPayoutError(domain.ErrCodeInsufficientBalance,
			"provider account balance too low; operator top-up required", provider.ErrInsufficientFunds))
	}

	payout := &domain.Payout{
		ID:             uc.idGen.NewPayoutID(),
		CreatorID:      req.CreatorID,
		Amount:         targetAmount,
		Currency:       route.Currency,
		SourceAmount:   req.Amount,
		SourceCurrency: req.SourceCurrency,
		ExchangeRate:   exchangeRate,
		PlatformFee:    platformFee,
		ProviderFee:    decimal.Zero,
		Method:         route.Method,
		BankAccountRef: bank.MaskedAccountNumber(),
		IdempotencyRef: req.IdempotencyRef,
		Status:         domain.PayoutStatusPending,
		Reason:         req.Reason,
		Metadata:       req.Metadata,
	}
	if quote != nil {
		payout.QuoteID = &quote.ID
	}

	if err := uc.payoutRepo.Create(ctx, payout); err != nil {
		if errors.Is(err, domain.ErrDuplicateReference) {
			// Lost a race with a concurrent request carrying the same
			// reference; the winner's row is the payout.
			if existing, lookupErr := uc.payoutRepo.GetByIdempotencyRef(ctx, req.IdempotencyRef); lookupErr == nil {
				uc.logger.Info("concurrent duplicate request, returning winner",
					zap.String("payout_id", existing.ID),
					zap.String("idempotency_ref", req.IdempotencyRef))
				return uc.resultForStored(existing)
			}
		}
		uc.logger.Error("failed to create payout row",
			zap.String("creator_id", req.CreatorID),
			zap.Error(err))
		return uc.failResult(domain.NewPayoutError(domain.ErrCodeServerError, "could not record payout", err))
	}

	uc.logger.Info("payout row created",
		zap.String("payout_id", payout.ID),
		zap.String("creator_id", payout.CreatorID),
		zap.String("method", string(payout.Method)),
		zap.String("amount", payout.Amount.String()),
		zap.String("currency", payout.Currency))

	// Reserve the creator's funds before money moves. The guarded UPDATE
	// closes the read-check race; losing it fails the payout here.
	if balanceCurrency == req.SourceCurrency {
		if err := uc.balanceRepo.Deduct(ctx, req.CreatorID, req.Amount, payout.ID); err != nil {
			pe := domain.NewPayoutError(domain.ErrCodeInsufficientBalance,
				"available balance changed while processing; payout aborted", err)
			if !errors.Is(err, domain.ErrInsufficientBalance) {
				pe = domain.NewPayoutError(domain.ErrCodeServerError, "could not reserve creator balance", err)
			}
			uc.markFailed(ctx, payout, pe)
			return uc.failureWithMetrics(payout, pe, route.Method, start)
		}
	}

	transfer, err := prov.CreateTransfer(ctx, &provider.TransferRequest{
		IdempotencyRef: req.IdempotencyRef,
		QuoteID:        derefOrEmpty(payout.QuoteID),
		SourceCurrency: req.SourceCurrency,
		TargetCurrency: route.Currency,
		SourceAmount:   netAmount,
		Reference:      "SoundBridge payout " + payout.ID,
		Bank:           bank,
	})
	if err != nil {
		pe := classifyProviderError(err)
		uc.logger.Error("transfer creation failed",
			zap.String("payout_id", payout.ID),
			zap.String("provider", prov.Name()),
			zap.String("code", string(pe.Code)),
			zap.Bool("retryable", pe.Retryable),
			zap.Error(err))

		uc.markFailed(ctx, payout, pe)
		if balanceCurrency == req.SourceCurrency {
			if refundErr := uc.balanceRepo.Refund(ctx, req.CreatorID, req.Amount, payout.ID); refundErr != nil {
				uc.logger.Error("balance refund after failed transfer did not apply",
					zap.String("payout_id", payout.ID),
					zap.Error(refundErr))
				_ = uc.payoutRepo.FlagIssue(ctx, payout.ID, "balance refund pending after failed transfer")
			}
		}
		return uc.failureWithMetrics(payout, pe, route.Method, start)
	}

	providerFee := transfer.Fee
	event := domain.TransitionEvent{
		To:                 domain.PayoutStatusProcessing,
		ProviderTransferID: &transfer.ProviderTransferID,
		ProviderFee:        &providerFee,
		OccurredAt:         time.Now().UTC(),
		Source:             "api",
	}
	updated, applied, err := uc.payoutRepo.ApplyTransition(ctx, payout.ID, event)
	if err != nil {
		// The transfer exists; the reconciler will converge the row. Do not
		// report failure to the caller for a bookkeeping miss.
		uc.logger.Error("failed to record processing transition",
			zap.String("payout_id", payout.ID),
			zap.String("provider_transfer_id", transfer.ProviderTransferID),
			zap.Error(err))
		payout.ProviderTransferID = &transfer.ProviderTransferID
		updated = payout
	} else if applied {
		uc.publisher.PublishStatusChange(updated, domain.PayoutStatusPending, "api")
	}

	uc.logger.Info("payout processing",
		zap.String("payout_id", updated.ID),
		zap.String("provider_transfer_id", transfer.ProviderTransferID),
		zap.String("provider_fee", providerFee.String()),
		zap.Duration("took", time.Since(start)))

	uc.metrics.RecordPayout(string(route.Method), "success", time.Since(start).Seconds())
	return domain.SuccessResult(updated)
}

// checkExisting applies the idempotency rule for a reference that already
// has a payout. Returns done=false when the attempt may proceed.
func (uc *PayoutUsecase) checkExisting(ctx context.Context, req *domain.PayoutRequest) (*domain.PayoutResult, bool) {
	existing, err := uc.payoutRepo.GetByIdempotencyRef(ctx, req.IdempotencyRef)
	if err != nil {
		if errors.Is(err, domain.ErrPayoutNotFound) {
			return nil, false
		}
		uc.logger.Error("idempotency lookup failed",
			zap.String("idempotency_ref", req.IdempotencyRef),
			zap.Error(err))
		return uc.failResult(domain.NewPayoutError(domain.ErrCodeServerError, "could not check for existing payout", err)), true
	}

	retryableFailure := existing.Status == domain.PayoutStatusFailed &&
		existing.ErrorCode != nil && domain.ErrorCode(*existing.ErrorCode).Retryable()

	// A retryable failure that never produced a provider transfer may run
	// again under the same reference. The old row is retired, not erased.
	if retryableFailure && existing.ProviderTransferID == nil {
		uc.logger.Info("retrying payout under original reference",
			zap.String("prior_payout_id", existing.ID),
			zap.String("idempotency_ref", req.IdempotencyRef),
			zap.Stringp("prior_error_code", existing.ErrorCode))
		if err := uc.payoutRepo.SoftDelete(ctx, existing.ID); err != nil {
			uc.logger.Error("failed to retire prior attempt",
				zap.String("payout_id", existing.ID),
				zap.Error(err))
			return uc.failResult(domain.NewPayoutError(domain.ErrCodeServerError, "could not retire prior attempt", err)), true
		}
		return nil, false
	}

	uc.logger.Info("duplicate payout request, returning existing",
		zap.String("payout_id", existing.ID),
		zap.String("status", string(existing.Status)),
		zap.String("idempotency_ref", req.IdempotencyRef))
	return uc.resultForStored(existing), true
}

// GetPayoutStatus returns the payout with its full status history.
func (uc *PayoutUsecase) GetPayoutStatus(ctx context.Context, payoutID string) (*domain.Payout, error) {
	return uc.payoutRepo.GetByID(ctx, payoutID)
}

// ListPayoutHistory returns a creator's payouts newest first.
func (uc *PayoutUsecase) ListPayoutHistory(ctx context.Context, creatorID string, limit, offset int) ([]*domain.Payout, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return uc.payoutRepo.ListByCreator(ctx, creatorID, limit, offset)
}

// CancelPayout cancels a payout that has not reached a terminal state. A
// transfer already at the provider is cancelled there first; the creator's
// reserved funds come back once the ledger records the cancellation.
func (uc *PayoutUsecase) CancelPayout(ctx context.Context, payoutID string) (*domain.Payout, error) {
	payout, err := uc.payoutRepo.GetByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status != domain.PayoutStatusPending && payout.Status != domain.PayoutStatusProcessing {
		return nil, fmt.Errorf("%w: status is %s", domain.ErrPayoutNotCancellable, payout.Status)
	}

	if payout.ProviderTransferID != nil {
		prov, ok := uc.providers[payout.Method]
		if !ok {
			return nil, fmt.Errorf("no provider for method %s", payout.Method)
		}
		if err := prov.CancelTransfer(ctx, *payout.ProviderTransferID); err != nil {
			uc.logger.Error("provider cancel failed",
				zap.String("payout_id", payoutID),
				zap.String("provider_transfer_id", *payout.ProviderTransferID),
				zap.Error(err))
			return nil, fmt.Errorf("provider refused cancellation: %w", err)
		}
	}

	from := payout.Status
	updated, applied, err := uc.payoutRepo.ApplyTransition(ctx, payoutID, domain.TransitionEvent{
		To:         domain.PayoutStatusCancelled,
		OccurredAt: time.Now().UTC(),
		Source:     "api",
	})
	if err != nil {
		return nil, err
	}
	if applied {
		uc.publisher.PublishStatusChange(updated, from, "api")
		// Funds were reserved when the payout left pending.
		if from == domain.PayoutStatusProcessing {
			if err := uc.balanceRepo.Refund(ctx, updated.CreatorID, updated.SourceAmount, updated.ID); err != nil {
				uc.logger.Error("balance refund after cancellation did not apply",
					zap.String("payout_id", updated.ID),
					zap.Error(err))
				_ = uc.payoutRepo.FlagIssue(ctx, updated.ID, "balance refund pending after cancellation")
			}
		}
		uc.logger.Info("payout cancelled",
			zap.String("payout_id", updated.ID),
			zap.String("from_status", string(from)))
	}
	return updated, nil
}

// markFailed records a classified failure on the ledger row.
func (uc *PayoutUsecase) markFailed(ctx context.Context, payout *domain.Payout, pe *domain.PayoutError) {
	code := pe.Code
	msg := pe.Message
	from := payout.Status
	updated, applied, err := uc.payoutRepo.ApplyTransition(ctx, payout.ID, domain.TransitionEvent{
		To:           domain.PayoutStatusFailed,
		ErrorCode:    &code,
		ErrorMessage: &msg,
		OccurredAt:   time.Now().UTC(),
		Source:       "api",
	})
	if err != nil {
		uc.logger.Error("failed to record failure transition",
			zap.String("payout_id", payout.ID),
			zap.Error(err))
		return
	}
	*payout = *updated
	if applied {
		uc.publisher.PublishStatusChange(updated, from, "api")
	}
}

func (uc *PayoutUsecase) failResult(pe *domain.PayoutError) *domain.PayoutResult {
	uc.metrics.RecordPayoutFailure(string(pe.Code), pe.Retryable)
	return domain.FailureResult(pe)
}

func (uc *PayoutUsecase) failureWithMetrics(payout *domain.Payout, pe *domain.PayoutError, method domain.PayoutMethod, start time.Time) *domain.PayoutResult {
	uc.metrics.RecordPayout(string(method), "failure", time.Since(start).Seconds())
	uc.metrics.RecordPayoutFailure(string(pe.Code), pe.Retryable)
	return domain.FailureResultWithPayout(payout, pe)
}

// resultForStored rebuilds the result an earlier attempt produced, so a
// duplicate request observes the same outcome.
func (uc *PayoutUsecase) resultForStored(payout *domain.Payout) *domain.PayoutResult {
	if payout.Status == domain.PayoutStatusFailed {
		code := domain.ErrCodeTransferFailed
		if payout.ErrorCode != nil {
			code = domain.ErrorCode(*payout.ErrorCode)
		}
		msg := "payout failed"
		if payout.ErrorMessage != nil {
			msg = *payout.ErrorMessage
		}
		return domain.FailureResultWithPayout(payout, domain.NewPayoutError(code, msg, nil))
	}
	return domain.SuccessResult(payout)
}

// classifyProviderError folds transport and provider failures into the
// stable error code vocabulary. Only rate limiting, timeouts, network and
// provider-side 5xx failures are retryable; everything else needs a human.
func classifyProviderError(err error) *domain.PayoutError {
	switch {
	case errors.Is(err, provider.ErrInsufficientFunds):
		return domain.NewPayoutError(domain.ErrCodeInsufficientBalance,
			"provider account balance too low; operator top-up required", err)
	case errors.Is(err, provider.ErrInvalidAccount):
		return domain.NewPayoutError(domain.ErrCodeInvalidBankAccount,
			"provider rejected the destination account; creator must correct bank details", err)
	case errors.Is(err, provider.ErrUnsupportedRoute):
		return domain.NewPayoutError(domain.ErrCodeUnsupportedCountry,
			"provider does not support this corridor", err)
	case errors.Is(err, provider.ErrRateLimited):
		pe := domain.NewPayoutError(domain.ErrCodeRateLimitExceeded, "provider rate limit exceeded", err)
		var rl *provider.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			pe.RetryAfter = rl.RetryAfter
		}
		return pe
	case errors.Is(err, provider.ErrUnavailable):
		return domain.NewPayoutError(domain.ErrCodeServerError, "provider unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewPayoutError(domain.ErrCodeTimeout, "provider call timed out", err)
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			if netErr.Timeout() {
				return domain.NewPayoutError(domain.ErrCodeTimeout, "provider call timed out", err)
			}
			return domain.NewPayoutError(domain.ErrCodeNetworkError, "network failure reaching provider", err)
		}
		return domain.NewPayoutError(domain.ErrCodeTransferFailed, "transfer could not be created", err)
	}
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
