package firestore

import (
	"context"
	"errors"
	"sort"

	"cloud.google.com/go/firestore"

	domain "github.com/customwear/api/internal/domain"
	pfirestore "github.com/customwear/api/internal/platform/firestore"
	"github.com/customwear/api/internal/repositories"
)

const customizationRulesCollection = "customizationRules"

// CustomizationRuleRepository keeps one document per (type, placement) key.
type CustomizationRuleRepository struct {
	rules *pfirestore.Collection[ruleDocument]
}

var _ repositories.CustomizationRuleRepository = (*CustomizationRuleRepository)(nil)

// NewCustomizationRuleRepository constructs a Firestore-backed rule repository.
func NewCustomizationRuleRepository(provider *pfirestore.Provider) (*CustomizationRuleRepository, error) {
	if provider == nil {
		return nil, errors.New("customization rule repository requires firestore provider")
	}
	return &CustomizationRuleRepository{
		rules: pfirestore.NewCollection[ruleDocument](provider, customizationRulesCollection),
	}, nil
}

func (r *CustomizationRuleRepository) List(ctx context.Context) ([]domain.CustomizationRule, error) {
	docs, err := r.rules.Query(ctx, nil)
	if err != nil {
		return nil, pfirestore.WrapError("rules.list", err)
	}
	out := make([]domain.CustomizationRule, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (r *CustomizationRuleRepository) Create(ctx context.Context, rule domain.CustomizationRule) error {
	return pfirestore.WrapError("rules.create", r.rules.Create(ctx, rule.Key(), newRuleDocument(rule)))
}

func (r *CustomizationRuleRepository) Update(ctx context.Context, rule domain.CustomizationRule) error {
	err := r.rules.Update(ctx, rule.Key(), []firestore.Update{
		{Path: "price", Value: rule.Price},
		{Path: "active", Value: rule.Active},
		{Path: "updatedAt", Value: rule.UpdatedAt.UTC()},
	})
	return pfirestore.WrapError("rules.update", err)
}
