package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "onecbridge:webhook:"

// Deduper suppresses re-deliveries of the same webhook body for a TTL
// window. It is advisory only: slot and booking upserts are idempotent, so
// a dedupe miss costs duplicate work, never duplicate state.
type Deduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDeduper(client *redis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Deduper{client: client, ttl: ttl}
}

// Seen records the body and reports whether it was already delivered within
// the TTL window. A nil or failing deduper reports false: processing a
// duplicate is safer than dropping a first delivery.
func (d *Deduper) Seen(ctx context.Context, body []byte) bool {
	if d == nil || d.client == nil {
		return false
	}
	created, err := d.client.SetNX(ctx, dedupeKey(body), 1, d.ttl).Result()
	if err != nil {
		return false
	}
	return !created
}

// Forget releases the body's dedupe key so a retry of a delivery that
// failed to process is not suppressed.
func (d *Deduper) Forget(ctx context.Context, body []byte) {
	if d == nil || d.client == nil {
		return
	}
	_ = d.client.Del(ctx, dedupeKey(body)).Err()
}

func dedupeKey(body []byte) string {
	sum := sha256.Sum256(body)
	return dedupeKeyPrefix + hex.EncodeToString(sum[:])
}
