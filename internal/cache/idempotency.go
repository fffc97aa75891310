package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/near-outlayer/execution-plane/internal/errs"
)

// inFlightMarker reserves a key while the first request is still being
// processed. It can never collide with a cached outcome because outcomes are
// JSON objects.
const inFlightMarker = "!inflight"

// Outcome is the response cached under an idempotency key and replayed
// verbatim to duplicate submissions.
type Outcome struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// IdempotencyService deduplicates inbound requests. Keys are scoped per
// (payer, endpoint) so distinct users cannot collide.
type IdempotencyService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyService(client *redis.Client, ttl time.Duration) *IdempotencyService {
	return &IdempotencyService{client: client, ttl: ttl}
}

func scopedKey(payer, endpoint, key string) string {
	return fmt.Sprintf("idem:%s:%s:%s", payer, endpoint, key)
}

// Begin reserves the key for the calling request. It returns (nil, nil) on
// first observation, where the caller proceeds and must call Complete; a
// prior outcome, which must be returned verbatim; or
// errs.ErrIdempotencyConflict while the first request is still in flight.
func (s *IdempotencyService) Begin(ctx context.Context, payer, endpoint, key string) (*Outcome, error) {
	k := scopedKey(payer, endpoint, key)
	ok, err := s.client.SetNX(ctx, k, inFlightMarker, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("idempotency reserve: %w", err)
	}
	if ok {
		return nil, nil
	}

	val, err := s.client.Get(ctx, k).Result()
	if err == redis.Nil {
		// Reservation expired between SetNX and Get; treat as conflict and
		// let the client retry.
		return nil, errs.ErrIdempotencyConflict
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if val == inFlightMarker {
		return nil, errs.ErrIdempotencyConflict
	}

	var out Outcome
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		return nil, fmt.Errorf("idempotency decode: %w", err)
	}
	return &out, nil
}

// Complete replaces the in-flight reservation with the outcome for the
// remainder of the TTL window.
func (s *IdempotencyService) Complete(ctx context.Context, payer, endpoint, key string, out Outcome) error {
	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	k := scopedKey(payer, endpoint, key)
	return s.client.Set(ctx, k, b, redis.KeepTTL).Err()
}

// Abandon clears the reservation when the first request failed before
// producing a cacheable outcome, so a retry is treated as new.
func (s *IdempotencyService) Abandon(ctx context.Context, payer, endpoint, key string) error {
	return s.client.Del(ctx, scopedKey(payer, endpoint, key)).Err()
}
