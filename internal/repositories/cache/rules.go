// Package cache layers Redis read-through caching over repositories.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/repositories"
)

const (
	rulesKey        = "customization:rules:v1"
	defaultRulesTTL = 5 * time.Minute
)

// Logger receives cache failures. They never fail the request.
type Logger func(ctx context.Context, event string, fields map[string]any)

// RuleCache caches the full rule list under one key and drops it on every write.
type RuleCache struct {
	next   repositories.CustomizationRuleRepository
	client redis.Cmdable
	ttl    time.Duration
	logger Logger
}

var _ repositories.CustomizationRuleRepository = (*RuleCache)(nil)

// NewRuleCache wraps next. A ttl of zero uses five minutes.
func NewRuleCache(next repositories.CustomizationRuleRepository, client redis.Cmdable, ttl time.Duration, logger Logger) (*RuleCache, error) {
	if next == nil {
		return nil, errors.New("rule cache: repository is required")
	}
	if client == nil {
		return nil, errors.New("rule cache: redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultRulesTTL
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &RuleCache{next: next, client: client, ttl: ttl, logger: logger}, nil
}

func (c *RuleCache) List(ctx context.Context) ([]domain.CustomizationRule, error) {
	data, err := c.client.Get(ctx, rulesKey).Bytes()
	switch {
	case err == nil:
		var rules []domain.CustomizationRule
		if err := json.Unmarshal(data, &rules); err == nil {
			return rules, nil
		}
		c.logger(ctx, "rules.cache.decode_failed", map[string]any{"key": rulesKey})
	case !errors.Is(err, redis.Nil):
		c.logger(ctx, "rules.cache.read_failed", map[string]any{"error": err.Error()})
	}

	rules, err := c.next.List(ctx)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(rules); err == nil {
		if err := c.client.Set(ctx, rulesKey, payload, c.ttl).Err(); err != nil {
			c.logger(ctx, "rules.cache.write_failed", map[string]any{"error": err.Error()})
		}
	}
	return rules, nil
}

func (c *RuleCache) Create(ctx context.Context, rule domain.CustomizationRule) error {
	if err := c.next.Create(ctx, rule); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *RuleCache) Update(ctx context.Context, rule domain.CustomizationRule) error {
	if err := c.next.Update(ctx, rule); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *RuleCache) invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, rulesKey).Err(); err != nil {
		c.logger(ctx, "rules.cache.invalidate_failed", map[string]any{"error": err.Error()})
	}
}

// Ping reports whether Redis is reachable, for readiness checks.
func Ping(client redis.Cmdable) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
