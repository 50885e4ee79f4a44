// internal/provider/wise/balance.go
package wise

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"payout-service/internal/provider"
)

type balanceResponse struct {
	Currency string `json:"currency"`
	Amount   struct {
		Value    float64 `json:"value"`
		Currency string  `json:"currency"`
	} `json:"amount"`
}

// GetBalance reads the platform's Wise balance for one currency. The check
// before transfer creation is best-effort; a concurrent payout can still
// drain the balance, in which case transfer funding fails and is classified
// fatal.
func (c *Client) GetBalance(ctx context.Context, currency string) (*provider.Balance, error) {
	path := fmt.Sprintf("/v4/profiles/%s/balances?types=STANDARD", c.cfg.ProfileID)

	var balances []balanceResponse
	if err := c.request(ctx, "GET", path, nil, &balances); err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}

	currency = strings.ToUpper(currency)
	for _, b := range balances {
		if strings.ToUpper(b.Currency) == currency {
			return &provider.Balance{
				Currency: currency,
				Amount:   decimal.NewFromFloat(b.Amount.Value),
			}, nil
		}
	}
	// No balance opened in this currency means nothing can be sent from it.
	return &provider.Balance{Currency: currency, Amount: decimal.Zero}, nil
}
