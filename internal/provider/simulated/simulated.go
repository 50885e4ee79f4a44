// internal/provider/simulated/simulated.go
package simulated

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"payout-service/internal/provider"
)

// staticRates are the mid-market rates the simulated provider quotes,
// keyed source/target.
var staticRates = map[string]decimal.Decimal{
	"USD/NGN": decimal.NewFromInt(1600),
	"USD/KES": decimal.NewFromInt(129),
	"USD/GHS": decimal.NewFromFloat(15.8),
	"USD/ZAR": decimal.NewFromFloat(17.9),
	"USD/GBP": decimal.NewFromFloat(0.79),
	"USD/EUR": decimal.NewFromFloat(0.92),
	"USD/INR": decimal.NewFromFloat(83.2),
	"USD/JPY": decimal.NewFromFloat(147.5),
	"USD/BRL": decimal.NewFromFloat(5.43),
	"USD/MXN": decimal.NewFromFloat(18.7),
	"USD/CAD": decimal.NewFromFloat(1.36),
	"USD/AUD": decimal.NewFromFloat(1.52),
	"GBP/USD": decimal.NewFromFloat(1.27),
	"EUR/USD": decimal.NewFromFloat(1.09),
}

// Provider simulates a transfer provider for development and tests. It
// honours idempotency the way a real provider does: a repeated reference
// returns the original transfer.
type Provider struct {
	failureRate    int // percent of transfers that fail, 0-100
	processingTime time.Duration

	mu        sync.Mutex
	transfers map[string]*provider.TransferResult // by idempotency ref
	states    map[string]string                   // by provider transfer id
	balances  map[string]decimal.Decimal
	seq       int64
}

func New(failureRate int, processingTime time.Duration) *Provider {
	return &Provider{
		failureRate:    failureRate,
		processingTime: processingTime,
		transfers:      make(map[string]*provider.TransferResult),
		states:         make(map[string]string),
		balances:       make(map[string]decimal.Decimal),
	}
}

func (p *Provider) Name() string {
	return "simulated"
}

// SetBalance pins the simulated platform balance for a currency. Currencies
// never set are treated as amply funded.
func (p *Provider) SetBalance(currency string, amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[currency] = amount
}

// SetTransferState overrides the state returned by GetTransferStatus, so
// reconciliation paths can be exercised.
func (p *Provider) SetTransferState(providerTransferID, state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[providerTransferID] = state
}

func (p *Provider) CreateQuote(ctx context.Context, req *provider.QuoteRequest) (*provider.Quote, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	rate := decimal.NewFromInt(1)
	if req.SourceCurrency != req.TargetCurrency {
		r, ok := staticRates[req.SourceCurrency+"/"+req.TargetCurrency]
		if !ok {
			return nil, fmt.Errorf("%w: %s to %s", provider.ErrUnsupportedRoute, req.SourceCurrency, req.TargetCurrency)
		}
		rate = r
	}

	fee := quoteFee(req.SourceAmount)
	target := req.SourceAmount.Sub(fee).Mul(rate).Round(2)

	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("sim-quote-%d", p.seq)
	p.mu.Unlock()

	return &provider.Quote{
		ID:           id,
		Rate:         rate,
		SourceAmount: req.SourceAmount,
		TargetAmount: target,
		Fee:          fee,
		ExpiresAt:    time.Now().Add(5 * time.Minute),
	}, nil
}

func (p *Provider) CreateTransfer(ctx context.Context, req *provider.TransferRequest) (*provider.TransferResult, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if existing, ok := p.transfers[req.IdempotencyRef]; ok {
		p.mu.Unlock()
		return existing, nil
	}

	if balance, ok := p.balances[req.SourceCurrency]; ok && balance.LessThan(req.SourceAmount) {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s balance %s below %s",
			provider.ErrInsufficientFunds, req.SourceCurrency, balance, req.SourceAmount)
	}

	p.seq++
	id := fmt.Sprintf("%d", 9000000+p.seq)
	p.mu.Unlock()

	if p.shouldFail() {
		return nil, fmt.Errorf("%w: simulated rejection", provider.ErrInvalidAccount)
	}

	result := &provider.TransferResult{
		ProviderTransferID: id,
		Status:             provider.StateProcessing,
		Fee:                quoteFee(req.SourceAmount),
	}

	p.mu.Lock()
	p.transfers[req.IdempotencyRef] = result
	p.states[id] = provider.StateProcessing
	if balance, ok := p.balances[req.SourceCurrency]; ok {
		p.balances[req.SourceCurrency] = balance.Sub(req.SourceAmount)
	}
	p.mu.Unlock()

	return result, nil
}

func (p *Provider) GetTransferStatus(ctx context.Context, providerTransferID string) (*provider.TransferStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.states[providerTransferID]
	if !ok {
		return nil, provider.ErrTransferNotFound
	}
	return &provider.TransferStatus{
		ProviderTransferID: providerTransferID,
		Status:             state,
		UpdatedAt:          time.Now(),
	}, nil
}

func (p *Provider) CancelTransfer(ctx context.Context, providerTransferID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.states[providerTransferID]; !ok {
		return provider.ErrTransferNotFound
	}
	p.states[providerTransferID] = provider.StateCancelled
	return nil
}

func (p *Provider) GetBalance(ctx context.Context, currency string) (*provider.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	amount, ok := p.balances[currency]
	if !ok {
		amount = decimal.NewFromInt(1_000_000)
	}
	return &provider.Balance{Currency: currency, Amount: amount}, nil
}

func (p *Provider) wait(ctx context.Context) error {
	if p.processingTime <= 0 {
		return nil
	}
	select {
	case <-time.After(p.processingTime):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) shouldFail() bool {
	if p.failureRate <= 0 {
		return false
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(100))
	return int(n.Int64()) < p.failureRate
}

func quoteFee(sourceAmount decimal.Decimal) decimal.Decimal {
	pct := sourceAmount.Mul(decimal.NewFromFloat(0.0045)).Round(2)
	minimum := decimal.NewFromFloat(0.50)
	if pct.LessThan(minimum) {
		return minimum
	}
	return pct
}
