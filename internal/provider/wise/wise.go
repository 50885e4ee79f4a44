// internal/provider/wise/wise.go
package wise

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"payout-service/config"
	"payout-service/internal/provider"
)

const ProviderName = "wise"

// Client talks to the Wise API. One instance is shared by all payouts; the
// underlying http.Client handles connection pooling.
type Client struct {
	cfg        config.WiseConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg config.WiseConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) Name() string {
	return ProviderName
}

// apiError is the error envelope Wise returns on non-2xx responses.
type apiError struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) request(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return c.mapAPIError(resp, responseBody)
	}

	if out != nil {
		if err := json.Unmarshal(responseBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// mapAPIError folds HTTP failures onto the provider sentinel errors so the
// usecase layer never inspects status codes.
func (c *Client) mapAPIError(resp *http.Response, body []byte) error {
	var parsed apiError
	_ = json.Unmarshal(body, &parsed)

	code, message := "", ""
	if len(parsed.Errors) > 0 {
		code = parsed.Errors[0].Code
		message = parsed.Errors[0].Message
	}

	c.logger.Warn("wise API error",
		zap.Int("status", resp.StatusCode),
		zap.String("code", code),
		zap.String("message", message))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &provider.RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", provider.ErrTransferNotFound, message)
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		switch code {
		case "NOT_ENOUGH_FUNDS", "BALANCE_INSUFFICIENT":
			return fmt.Errorf("%w: %s", provider.ErrInsufficientFunds, message)
		case "INVALID_ACCOUNT", "RECIPIENT_INVALID", "ACCOUNT_DETAILS_INVALID":
			return fmt.Errorf("%w: %s", provider.ErrInvalidAccount, message)
		case "CURRENCY_PAIR_NOT_SUPPORTED", "ROUTE_NOT_SUPPORTED":
			return fmt.Errorf("%w: %s", provider.ErrUnsupportedRoute, message)
		case "QUOTE_EXPIRED":
			return fmt.Errorf("%w: %s", provider.ErrQuoteExpired, message)
		}
		return fmt.Errorf("wise rejected request (%d %s): %s", resp.StatusCode, code, message)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", provider.ErrUnavailable, resp.StatusCode)
	}
	return fmt.Errorf("wise request failed (%d %s): %s", resp.StatusCode, code, message)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}
