// payout-service/internal/pub/pub.go
package pub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"payout-service/internal/domain"
)

const EventTypeStatusChanged = "payout.status_changed"

// StatusEvent is the JSON payload published to the payout status topic
// after every applied ledger transition. Downstream consumers (creator
// notifications, finance exports) key off payout_id.
type StatusEvent struct {
	EventType    string    `json:"event_type"`
	PayoutID     string    `json:"payout_id"`
	CreatorID    string    `json:"creator_id"`
	FromStatus   string    `json:"from_status,omitempty"`
	Status       string    `json:"status"`
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	Reason       string    `json:"reason,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Source       string    `json:"source,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewWriter builds the async batched Kafka writer for status events.
func NewWriter(brokers []string, topic string, logger *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
	}
}

type StatusPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewStatusPublisher(writer *kafka.Writer, logger *zap.Logger) *StatusPublisher {
	return &StatusPublisher{writer: writer, logger: logger}
}

// PublishStatusChange emits a status event for an applied transition.
// Publish failures are logged and swallowed: the ledger row is already
// committed and consumers can replay from it, so a broker outage must
// never fail the payout itself.
func (p *StatusPublisher) PublishStatusChange(payout *domain.Payout, from domain.PayoutStatus, source string) {
	if p == nil || p.writer == nil {
		return
	}

	event := StatusEvent{
		EventType:  EventTypeStatusChanged,
		PayoutID:   payout.ID,
		CreatorID:  payout.CreatorID,
		FromStatus: string(from),
		Status:     string(payout.Status),
		Amount:     payout.Amount.String(),
		Currency:   payout.Currency,
		Reason:     payout.Reason,
		Source:     source,
		OccurredAt: time.Now().UTC(),
	}
	if payout.ErrorCode != nil {
		event.ErrorCode = string(*payout.ErrorCode)
	}
	if payout.ErrorMessage != nil {
		event.ErrorMessage = *payout.ErrorMessage
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal status event",
			zap.Error(err),
			zap.String("payout_id", payout.ID),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(payout.ID),
		Value: data,
		Time:  time.Now(),
	}); err != nil {
		p.logger.Error("failed to publish status event",
			zap.Error(err),
			zap.String("payout_id", payout.ID),
			zap.String("status", string(payout.Status)),
		)
		return
	}

	p.logger.Debug("status event published",
		zap.String("payout_id", payout.ID),
		zap.String("status", string(payout.Status)),
	)
}
