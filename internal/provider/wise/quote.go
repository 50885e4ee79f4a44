// internal/provider/wise/quote.go
package wise

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"payout-service/internal/provider"
)

type quoteRequest struct {
	Profile        string  `json:"profile"`
	SourceCurrency string  `json:"sourceCurrency"`
	TargetCurrency string  `json:"targetCurrency"`
	SourceAmount   float64 `json:"sourceAmount"`
	PayOut         string  `json:"payOut"`
}

type quoteResponse struct {
	ID             string  `json:"id"`
	Rate           float64 `json:"rate"`
	SourceAmount   float64 `json:"sourceAmount"`
	TargetAmount   float64 `json:"targetAmount"`
	Fee            float64 `json:"fee"`
	ExpirationTime string  `json:"expirationTime"`
}

// CreateQuote locks a conversion rate. Quotes expire within minutes and must
// be consumed by CreateTransfer promptly.
func (c *Client) CreateQuote(ctx context.Context, req *provider.QuoteRequest) (*provider.Quote, error) {
	payload := quoteRequest{
		Profile:        c.cfg.ProfileID,
		SourceCurrency: req.SourceCurrency,
		TargetCurrency: req.TargetCurrency,
		SourceAmount:   req.SourceAmount.InexactFloat64(),
		PayOut:         "BANK_TRANSFER",
	}

	var resp quoteResponse
	if err := c.request(ctx, "POST", "/v2/quotes", payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to create quote: %w", err)
	}

	expiresAt, err := time.Parse(time.RFC3339, resp.ExpirationTime)
	if err != nil {
		// Quotes without a parseable expiry are treated as immediately
		// consumable but not cacheable.
		expiresAt = time.Now().Add(30 * time.Second)
	}

	return &provider.Quote{
		ID:           resp.ID,
		Rate:         decimal.NewFromFloat(resp.Rate),
		SourceAmount: decimal.NewFromFloat(resp.SourceAmount),
		TargetAmount: decimal.NewFromFloat(resp.TargetAmount),
		Fee:          decimal.NewFromFloat(resp.Fee),
		ExpiresAt:    expiresAt,
	}, nil
}
