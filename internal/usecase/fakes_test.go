// payout-service/internal/usecase/fakes_test.go
package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payout-service/config"
	"payout-service/internal/domain"
	"payout-service/internal/metrics"
	"payout-service/internal/provider"
	"payout-service/internal/provider/simulated"
	"payout-service/internal/pub"
	"payout-service/internal/repository"
	"payout-service/internal/security"
	"payout-service/pkg/utils"
)

// testMasterKey is 32 raw bytes. The dash keeps it from parsing as base64,
// so the cipher uses it as-is.
const testMasterKey = "test-master-key-0123456789abcdef"

// promauto registers on the process-global registry, which panics on duplicate
// registration, so every test in the package shares one Metrics instance.
var (
	testMetricsOnce sync.Once
	testMetricsInst *metrics.Metrics
)

func testMetrics() *metrics.Metrics {
	testMetricsOnce.Do(func() {
		testMetricsInst = metrics.NewMetrics("payout_usecase_test")
	})
	return testMetricsInst
}

func testConfig() *config.Config {
	return &config.Config{
		Payout: config.PayoutConfig{
			PlatformCurrency: "USD",
			FeeSplits: map[string]decimal.Decimal{
				domain.ReasonTicketSale: decimal.NewFromInt(5),
				domain.ReasonTip:        decimal.NewFromInt(2),
			},
			EncryptionKey: testMasterKey,
		},
		Batch: config.BatchConfig{
			MaxConcurrent:    2,
			RetryMaxAttempts: 3,
			RetryBaseDelay:   5 * time.Millisecond,
		},
		Reconcile: config.ReconcileConfig{
			Interval:   time.Minute,
			StuckAfter: time.Hour,
		},
	}
}

// fakePayoutRepo is an in-memory PayoutRepository with the same transition
// semantics as the Postgres implementation: same-status no-op, legality check,
// append-only history, write-once terminal timestamps, COALESCE linkage.
type fakePayoutRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Payout
}

var _ repository.PayoutRepository = (*fakePayoutRepo)(nil)

func newFakePayoutRepo() *fakePayoutRepo {
	return &fakePayoutRepo{rows: make(map[string]*domain.Payout)}
}

func (r *fakePayoutRepo) Create(ctx context.Context, payout *domain.Payout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.rows {
		if p.DeletedAt == nil && p.IdempotencyRef == payout.IdempotencyRef {
			return domain.ErrDuplicateReference
		}
	}
	now := time.Now()
	payout.CreatedAt = now
	payout.UpdatedAt = now
	r.rows[payout.ID] = payout
	return nil
}

func (r *fakePayoutRepo) GetByID(ctx context.Context, id string) (*domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok || p.DeletedAt != nil {
		return nil, domain.ErrPayoutNotFound
	}
	return p, nil
}

func (r *fakePayoutRepo) GetByProviderTransferID(ctx context.Context, providerTransferID string) (*domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.rows {
		if p.DeletedAt == nil && p.ProviderTransferID != nil && *p.ProviderTransferID == providerTransferID {
			return p, nil
		}
	}
	return nil, domain.ErrPayoutNotFound
}

func (r *fakePayoutRepo) GetByIdempotencyRef(ctx context.Context, ref string) (*domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.rows {
		if p.DeletedAt == nil && p.IdempotencyRef == ref {
			return p, nil
		}
	}
	return nil, domain.ErrPayoutNotFound
}

func (r *fakePayoutRepo) ListByCreator(ctx context.Context, creatorID string, limit, offset int) ([]*domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Payout
	for _, p := range r.rows {
		if p.DeletedAt == nil && p.CreatorID == creatorID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakePayoutRepo) ListStuckProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []*domain.Payout
	for _, p := range r.rows {
		if p.DeletedAt == nil && p.Status == domain.PayoutStatusProcessing &&
			p.ProviderTransferID != nil && p.UpdatedAt.Before(cutoff) {
			out = append(out, p)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakePayoutRepo) ApplyTransition(ctx context.Context, payoutID string, event domain.TransitionEvent) (*domain.Payout, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.rows[payoutID]
	if !ok || p.DeletedAt != nil {
		return nil, false, domain.ErrPayoutNotFound
	}
	if p.Status == event.To {
		return p, false, nil
	}
	if !p.Status.CanTransitionTo(event.To) {
		return p, false, fmt.Errorf("%w: %s -> %s for payout %s",
			domain.ErrIllegalTransition, p.Status, event.To, payoutID)
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	p.StatusHistory = append(p.StatusHistory, domain.StatusChange{
		Status:       event.To,
		FromStatus:   p.Status,
		OccurredAt:   occurredAt,
		ErrorMessage: event.ErrorMessage,
	})
	if event.ProviderTransferID != nil {
		p.ProviderTransferID = event.ProviderTransferID
	}
	if event.ProviderFee != nil {
		p.ProviderFee = *event.ProviderFee
	}
	if event.QuoteID != nil {
		p.QuoteID = event.QuoteID
	}
	if event.ErrorCode != nil {
		code := string(*event.ErrorCode)
		p.ErrorCode = &code
	}
	if event.ErrorMessage != nil {
		p.ErrorMessage = event.ErrorMessage
	}
	if event.To == domain.PayoutStatusCompleted && p.CompletedAt == nil {
		p.CompletedAt = &occurredAt
	}
	if event.To == domain.PayoutStatusFailed && p.FailedAt == nil {
		p.FailedAt = &occurredAt
	}
	p.Status = event.To
	p.UpdatedAt = time.Now()
	return p, true, nil
}

func (r *fakePayoutRepo) FlagIssue(ctx context.Context, payoutID, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[payoutID]
	if !ok || p.DeletedAt != nil {
		return domain.ErrPayoutNotFound
	}
	p.HasOpenIssue = true
	p.IssueNote = &note
	return nil
}

func (r *fakePayoutRepo) SoftDelete(ctx context.Context, payoutID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[payoutID]
	if !ok || p.DeletedAt != nil {
		return domain.ErrPayoutNotFound
	}
	now := time.Now()
	p.DeletedAt = &now
	return nil
}

// liveCount returns the number of rows not soft-deleted.
func (r *fakePayoutRepo) liveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.rows {
		if p.DeletedAt == nil {
			n++
		}
	}
	return n
}

// raw returns the row regardless of soft deletion.
func (r *fakePayoutRepo) raw(id string) *domain.Payout {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id]
}

type fakeBalanceRepo struct {
	mu        sync.Mutex
	currency  string
	balances  map[string]decimal.Decimal
	deducted  []string
	refunded  []string
	getErr    error
	deductErr error
	refundErr error
}

var _ repository.BalanceRepository = (*fakeBalanceRepo)(nil)

func newFakeBalanceRepo() *fakeBalanceRepo {
	return &fakeBalanceRepo{
		currency: "USD",
		balances: make(map[string]decimal.Decimal),
	}
}

func (r *fakeBalanceRepo) GetAvailableBalance(ctx context.Context, creatorID string) (decimal.Decimal, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return decimal.Zero, "", r.getErr
	}
	return r.balances[creatorID], r.currency, nil
}

func (r *fakeBalanceRepo) Deduct(ctx context.Context, creatorID string, amount decimal.Decimal, payoutID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deductErr != nil {
		return r.deductErr
	}
	if r.balances[creatorID].LessThan(amount) {
		return fmt.Errorf("%w: creator %s", domain.ErrInsufficientBalance, creatorID)
	}
	r.balances[creatorID] = r.balances[creatorID].Sub(amount)
	r.deducted = append(r.deducted, payoutID)
	return nil
}

func (r *fakeBalanceRepo) Refund(ctx context.Context, creatorID string, amount decimal.Decimal, payoutID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refundErr != nil {
		return r.refundErr
	}
	r.balances[creatorID] = r.balances[creatorID].Add(amount)
	r.refunded = append(r.refunded, payoutID)
	return nil
}

func (r *fakeBalanceRepo) set(creatorID string, amount decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[creatorID] = amount
}

func (r *fakeBalanceRepo) available(creatorID string) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[creatorID]
}

func (r *fakeBalanceRepo) refundedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.refunded...)
}

type fakeBankRepo struct {
	mu       sync.Mutex
	accounts map[string]*domain.BankAccount
	err      error
}

var _ repository.BankAccountRepository = (*fakeBankRepo)(nil)

func newFakeBankRepo() *fakeBankRepo {
	return &fakeBankRepo{accounts: make(map[string]*domain.BankAccount)}
}

func (r *fakeBankRepo) GetVerifiedAccount(ctx context.Context, creatorID string) (*domain.BankAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.accounts[creatorID], nil
}

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]*domain.CreatorProfile
}

var _ repository.ProfileRepository = (*fakeProfileRepo)(nil)

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: make(map[string]*domain.CreatorProfile)}
}

func (r *fakeProfileRepo) GetProfile(ctx context.Context, creatorID string) (*domain.CreatorProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[creatorID]
	if !ok {
		return nil, domain.ErrCreatorNotFound
	}
	return p, nil
}

type fakeEventRepo struct {
	mu      sync.Mutex
	seen    map[string]bool
	markErr error
}

var _ repository.WebhookEventRepository = (*fakeEventRepo)(nil)

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{seen: make(map[string]bool)}
}

func (r *fakeEventRepo) MarkProcessed(ctx context.Context, eventKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return false, r.markErr
	}
	if r.seen[eventKey] {
		return false, nil
	}
	r.seen[eventKey] = true
	return true, nil
}

func (r *fakeEventRepo) Ping(ctx context.Context) error { return nil }

// flakyProvider wraps the simulated provider with per-reference failure
// injection so transfer error paths can be exercised deterministically.
type flakyProvider struct {
	*simulated.Provider

	mu      sync.Mutex
	failFor map[string]int
	errFor  map[string]error
	calls   map[string]int
}

var _ provider.TransferProvider = (*flakyProvider)(nil)

func newFlakyProvider() *flakyProvider {
	return &flakyProvider{
		Provider: simulated.New(0, 0),
		failFor:  make(map[string]int),
		errFor:   make(map[string]error),
		calls:    make(map[string]int),
	}
}

// failNext makes the next n CreateTransfer calls for ref fail with err.
func (f *flakyProvider) failNext(ref string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFor[ref] = n
	f.errFor[ref] = err
}

func (f *flakyProvider) callCount(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ref]
}

func (f *flakyProvider) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *flakyProvider) CreateTransfer(ctx context.Context, req *provider.TransferRequest) (*provider.TransferResult, error) {
	f.mu.Lock()
	f.calls[req.IdempotencyRef]++
	if n := f.failFor[req.IdempotencyRef]; n > 0 {
		f.failFor[req.IdempotencyRef] = n - 1
		err := f.errFor[req.IdempotencyRef]
		f.mu.Unlock()
		if err == nil {
			err = provider.ErrUnavailable
		}
		return nil, err
	}
	f.mu.Unlock()
	return f.Provider.CreateTransfer(ctx, req)
}

// payoutFixture wires the usecases over in-memory fakes and the simulated
// provider. The publisher carries no writer, so nothing needs a broker.
type payoutFixture struct {
	repo      *fakePayoutRepo
	balances  *fakeBalanceRepo
	banks     *fakeBankRepo
	profiles  *fakeProfileRepo
	events    *fakeEventRepo
	provider  *flakyProvider
	cipher    *security.FieldCipher
	cfg       *config.Config
	uc        *PayoutUsecase
	batch     *BatchUsecase
	reconcile *ReconcileUsecase
}

func newPayoutFixture(t *testing.T) *payoutFixture {
	t.Helper()

	logger := zap.NewNop()
	cipher, err := security.NewFieldCipher(testMasterKey)
	require.NoError(t, err)

	f := &payoutFixture{
		repo:     newFakePayoutRepo(),
		balances: newFakeBalanceRepo(),
		banks:    newFakeBankRepo(),
		profiles: newFakeProfileRepo(),
		events:   newFakeEventRepo(),
		provider: newFlakyProvider(),
		cipher:   cipher,
		cfg:      testConfig(),
	}

	providers := map[domain.PayoutMethod]provider.TransferProvider{
		domain.MethodWise:         f.provider,
		domain.MethodBankTransfer: f.provider,
	}
	publisher := pub.NewStatusPublisher(nil, logger)
	m := testMetrics()
	idGen := utils.NewIDGenerator()

	resolver := NewRouteResolver(f.profiles, f.banks, cipher, logger)
	fetcher := NewBankAccountFetcher(f.banks, cipher, logger)
	f.uc = NewPayoutUsecase(f.repo, f.balances, f.profiles, resolver, fetcher,
		providers, publisher, m, idGen, f.cfg, logger)
	f.batch = NewBatchUsecase(f.uc, m, idGen, f.cfg, logger)
	f.reconcile = NewReconcileUsecase(f.repo, f.balances, f.events,
		providers, publisher, m, f.cfg, logger)
	return f
}

// seedCreator registers a profile, a verified encrypted bank account and an
// available balance for one creator.
func (f *payoutFixture) seedCreator(t *testing.T, creatorID, country, bankCurrency string, balance decimal.Decimal) {
	t.Helper()

	cc := country
	f.profiles.mu.Lock()
	f.profiles.profiles[creatorID] = &domain.CreatorProfile{CreatorID: creatorID, CountryCode: &cc}
	f.profiles.mu.Unlock()

	accountEnc, err := f.cipher.Encrypt("0123456789")
	require.NoError(t, err)
	routingEnc, err := f.cipher.Encrypt("021000021")
	require.NoError(t, err)

	f.banks.mu.Lock()
	f.banks.accounts[creatorID] = &domain.BankAccount{
		ID:                     1,
		CreatorID:              creatorID,
		AccountNumberEncrypted: accountEnc,
		RoutingNumberEncrypted: routingEnc,
		AccountHolderName:      "Ada Okafor",
		Currency:               bankCurrency,
		IsVerified:             true,
	}
	f.banks.mu.Unlock()

	f.balances.set(creatorID, balance)
}

// seedProcessingPayout inserts a ledger row already linked to a provider
// transfer, the shape the reconciler works on.
func (f *payoutFixture) seedProcessingPayout(id, creatorID, providerTransferID string) *domain.Payout {
	now := time.Now()
	ptid := providerTransferID
	p := &domain.Payout{
		ID:                 id,
		CreatorID:          creatorID,
		Amount:             decimal.NewFromInt(79200),
		Currency:           "NGN",
		SourceAmount:       decimal.NewFromInt(50),
		SourceCurrency:     "USD",
		ExchangeRate:       decimal.NewFromInt(1600),
		Method:             domain.MethodWise,
		BankAccountRef:     "****6789",
		IdempotencyRef:     "ref-" + id,
		ProviderTransferID: &ptid,
		Status:             domain.PayoutStatusProcessing,
		StatusHistory: []domain.StatusChange{
			{Status: domain.PayoutStatusProcessing, FromStatus: domain.PayoutStatusPending, OccurredAt: now},
		},
		Reason:    domain.ReasonWithdrawal,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.repo.mu.Lock()
	f.repo.rows[id] = p
	f.repo.mu.Unlock()
	return p
}
