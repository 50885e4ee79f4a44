// internal/provider/wise/transfer.go
package wise

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payout-service/internal/provider"
)

type recipientRequest struct {
	Profile           string            `json:"profile"`
	Currency          string            `json:"currency"`
	Type              string            `json:"type"`
	AccountHolderName string            `json:"accountHolderName"`
	Details           map[string]string `json:"details"`
}

type recipientResponse struct {
	ID int64 `json:"id"`
}

type transferRequest struct {
	TargetAccount         int64           `json:"targetAccount"`
	QuoteUUID             string          `json:"quoteUuid,omitempty"`
	CustomerTransactionID string          `json:"customerTransactionId"`
	Details               transferDetails `json:"details"`
}

type transferDetails struct {
	Reference string `json:"reference"`
}

type transferResponse struct {
	ID     int64   `json:"id"`
	Status string  `json:"status"`
	Fee    float64 `json:"fee"`
}

type fundRequest struct {
	Type string `json:"type"`
}

type fundResponse struct {
	Status string `json:"status"`
}

// CreateTransfer runs the Wise payout sequence: register the recipient,
// create the transfer against the quote, then fund it from the platform
// balance. CustomerTransactionID carries the idempotency reference; Wise
// returns the existing transfer for a repeated id instead of creating a
// duplicate.
func (c *Client) CreateTransfer(ctx context.Context, req *provider.TransferRequest) (*provider.TransferResult, error) {
	recipientID, err := c.createRecipient(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create recipient: %w", err)
	}

	payload := transferRequest{
		TargetAccount:         recipientID,
		QuoteUUID:             req.QuoteID,
		CustomerTransactionID: req.IdempotencyRef,
		Details:               transferDetails{Reference: req.Reference},
	}

	var resp transferResponse
	if err := c.request(ctx, "POST", "/v1/transfers", payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}

	transferID := fmt.Sprintf("%d", resp.ID)

	// Fund from the profile balance. A funding failure after transfer
	// creation is surfaced as an error; the transfer already exists, so
	// recovery goes through status polling, never a second create.
	fundPath := fmt.Sprintf("/v3/profiles/%s/transfers/%s/payments", c.cfg.ProfileID, transferID)
	var fund fundResponse
	if err := c.request(ctx, "POST", fundPath, fundRequest{Type: "BALANCE"}, &fund); err != nil {
		c.logger.Error("transfer created but funding failed",
			zap.String("provider_transfer_id", transferID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to fund transfer %s: %w", transferID, err)
	}

	c.logger.Info("wise transfer created",
		zap.String("provider_transfer_id", transferID),
		zap.String("status", resp.Status),
		zap.String("funding_status", fund.Status))

	return &provider.TransferResult{
		ProviderTransferID: transferID,
		Status:             resp.Status,
		Fee:                decimal.NewFromFloat(resp.Fee),
	}, nil
}

func (c *Client) createRecipient(ctx context.Context, req *provider.TransferRequest) (int64, error) {
	details := map[string]string{
		"accountNumber": req.Bank.AccountNumber,
	}
	if req.Bank.RoutingNumber != "" {
		details["routingNumber"] = req.Bank.RoutingNumber
	}

	payload := recipientRequest{
		Profile:           c.cfg.ProfileID,
		Currency:          req.TargetCurrency,
		Type:              recipientTypeFor(req.Bank.Country),
		AccountHolderName: req.Bank.AccountHolderName,
		Details:           details,
	}

	var resp recipientResponse
	if err := c.request(ctx, "POST", "/v1/accounts", payload, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// recipientTypeFor picks the Wise recipient schema for a destination country.
func recipientTypeFor(country string) string {
	switch country {
	case "US":
		return "aba"
	case "GB":
		return "sort_code"
	case "IN":
		return "indian"
	case "NG", "KE", "GH", "TZ", "UG", "ZA":
		return "african_bank"
	default:
		return "iban"
	}
}

type statusResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// GetTransferStatus reads the authoritative transfer state, used by the
// reconciler when webhooks are delayed or lost.
func (c *Client) GetTransferStatus(ctx context.Context, providerTransferID string) (*provider.TransferStatus, error) {
	var resp statusResponse
	if err := c.request(ctx, "GET", "/v1/transfers/"+providerTransferID, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get transfer status: %w", err)
	}
	return &provider.TransferStatus{
		ProviderTransferID: providerTransferID,
		Status:             resp.Status,
		UpdatedAt:          time.Now(),
	}, nil
}

// CancelTransfer cancels a transfer Wise has not paid out yet.
func (c *Client) CancelTransfer(ctx context.Context, providerTransferID string) error {
	if err := c.request(ctx, "PUT", "/v1/transfers/"+providerTransferID+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("failed to cancel transfer: %w", err)
	}
	return nil
}
