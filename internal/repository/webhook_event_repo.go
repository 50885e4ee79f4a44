// internal/repository/webhook_event_repo.go
package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// webhookEventTTL bounds how long processed event marks live. The ledger's
// idempotent apply remains correct for duplicates arriving later than this;
// the mark only saves the parse-and-lookup work.
const webhookEventTTL = 24 * time.Hour

// WebhookEventRepository remembers which webhook deliveries were already
// processed, keyed by provider event id (or body digest).
type WebhookEventRepository interface {
	// MarkProcessed records the event key. Returns false when the key was
	// already present, meaning this delivery is a duplicate.
	MarkProcessed(ctx context.Context, eventKey string) (bool, error)
	// Ping reports store health for the readiness probe.
	Ping(ctx context.Context) error
}

type webhookEventRepo struct {
	rdb *redis.Client
}

func NewWebhookEventRepository(rdb *redis.Client) WebhookEventRepository {
	return &webhookEventRepo{rdb: rdb}
}

func (r *webhookEventRepo) MarkProcessed(ctx context.Context, eventKey string) (bool, error) {
	return r.rdb.SetNX(ctx, "payout:webhook:event:"+eventKey, 1, webhookEventTTL).Result()
}

func (r *webhookEventRepo) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
