package memory

import (
	"context"
	"fmt"
	"sort"

	domain "github.com/customwear/api/internal/domain"
)

type ruleRepository struct{ r *Registry }

func (rr ruleRepository) List(context.Context) ([]domain.CustomizationRule, error) {
	rr.r.mu.Lock()
	defer rr.r.mu.Unlock()

	out := make([]domain.CustomizationRule, 0, len(rr.r.rules))
	for _, rule := range rr.r.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (rr ruleRepository) Create(ctx context.Context, rule domain.CustomizationRule) error {
	rr.r.mu.Lock()
	defer rr.r.mu.Unlock()

	if _, exists := rr.r.rules[rule.Key()]; exists {
		return conflict("rules.create", fmt.Errorf("rule %s already exists", rule.Key()))
	}
	remember(ctx, rr.r.rules, rule.Key())
	rr.r.rules[rule.Key()] = rule
	return nil
}

func (rr ruleRepository) Update(ctx context.Context, rule domain.CustomizationRule) error {
	rr.r.mu.Lock()
	defer rr.r.mu.Unlock()

	if _, exists := rr.r.rules[rule.Key()]; !exists {
		return notFound("rules.update")
	}
	remember(ctx, rr.r.rules, rule.Key())
	rr.r.rules[rule.Key()] = rule
	return nil
}
