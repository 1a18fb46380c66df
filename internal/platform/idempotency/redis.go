package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idempotency:"

// RedisStore keeps one JSON record per key with a Redis TTL, so expiry needs no sweep.
type RedisStore struct {
	client redis.Cmdable
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore constructs a Redis-backed store.
func NewRedisStore(client redis.Cmdable) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	ttl = normaliseTTL(ttl)
	payload, err := json.Marshal(newPendingRecord(fingerprint, now.UTC(), ttl))
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}
	created, err := s.client.SetNX(ctx, redisKeyPrefix+key, payload, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if created {
		return Reservation{State: ReservationStateNew}, nil
	}

	record, found, err := s.load(ctx, key)
	if err != nil {
		return Reservation{}, err
	}
	if !found {
		// expired between SETNX and GET; the caller may retry the reservation
		return Reservation{State: ReservationStatePending, Record: Record{Fingerprint: fingerprint, Status: StatusPending}}, nil
	}
	return classify(record, fingerprint)
}

func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ttl = normaliseTTL(ttl)
	record, found, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	if found && record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !found {
		record = Record{Fingerprint: fingerprint}
	}
	payload, err := json.Marshal(completeRecord(record, resp, now.UTC(), ttl))
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: complete: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op: Redis expires keys itself.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, key string) (Record, bool, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, false, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, true, nil
}
