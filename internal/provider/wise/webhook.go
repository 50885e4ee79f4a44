// internal/provider/wise/webhook.go
package wise

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SignatureHeader carries the hex HMAC-SHA256 digest of the raw body.
const SignatureHeader = "X-Signature-SHA256"

// Webhook event types the reconciler understands.
const (
	EventTransferStateChange = "transfers#state-change"
	EventTransferActiveCases = "transfers#active-cases"
	EventBalanceUpdate       = "balances#update"
)

// Event is the webhook envelope. Data is provider-specific per event type.
type Event struct {
	EventID   string    `json:"event_id,omitempty"`
	EventType string    `json:"event_type"`
	Data      EventData `json:"data"`
	SentAt    string    `json:"sent_at,omitempty"`
}

type EventData struct {
	Resource      Resource `json:"resource"`
	CurrentState  string   `json:"current_state,omitempty"`
	PreviousState string   `json:"previous_state,omitempty"`
	OccurredAt    string   `json:"occurred_at,omitempty"`
	ActiveCases   []string `json:"active_cases,omitempty"`
}

type Resource struct {
	ID        json.Number `json:"id"`
	ProfileID json.Number `json:"profile_id,omitempty"`
	Type      string      `json:"type,omitempty"`
}

// TransferID returns the provider transfer id as the string form stored in
// the ledger.
func (e *Event) TransferID() string {
	return e.Data.Resource.ID.String()
}

// OccurredAt parses the event timestamp, falling back to now for events
// without one.
func (e *Event) OccurredAt() time.Time {
	if e.Data.OccurredAt != "" {
		if t, err := time.Parse(time.RFC3339, e.Data.OccurredAt); err == nil {
			return t
		}
	}
	return time.Now()
}

// ParseEvent decodes a webhook body. An event missing event_type or data is
// not an error here; the handler treats it as a validation ping.
func ParseEvent(payload []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}
	return &evt, nil
}

// IsValidationPing reports whether the request is a setup/validation probe
// rather than a real event. Probes are acknowledged without authentication.
func IsValidationPing(payload []byte, evt *Event) bool {
	if len(payload) == 0 {
		return true
	}
	if evt == nil {
		return false
	}
	return evt.EventType == "" || evt.Data.Resource.ID.String() == ""
}

// DedupKey identifies one delivery for duplicate suppression: the provider's
// event id when present, otherwise a digest of the raw body.
func DedupKey(payload []byte, evt *Event) string {
	if evt != nil && evt.EventID != "" {
		return evt.EventID
	}
	sum := sha256.Sum256(payload)
	return "hash:" + hex.EncodeToString(sum[:])
}

// NewEventID mints an id for synthetic events (tests, replay tooling).
func NewEventID() string {
	return uuid.New().String()
}

// VerifySignature checks the hex HMAC-SHA256 digest of the raw body against
// the shared secret using a constant-time compare. Empty header or secret
// never verifies.
func VerifySignature(payload []byte, signatureHeader, secret string) bool {
	if signatureHeader == "" || secret == "" {
		return false
	}

	expected, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signatureHeader)))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

// ComputeSignature produces the hex digest a sender would attach; used by
// tests and the replay tooling.
func ComputeSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
