package postgres

import (
	"context"
	"database/sql"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/repositories"
)

// CustomizationRuleRepository stores the pricing grid keyed by (type, placement).
type CustomizationRuleRepository struct {
	db *sql.DB
}

var _ repositories.CustomizationRuleRepository = (*CustomizationRuleRepository)(nil)

// NewCustomizationRuleRepository constructs a Postgres rule repository.
func NewCustomizationRuleRepository(db *sql.DB) *CustomizationRuleRepository {
	return &CustomizationRuleRepository{db: db}
}

func (r *CustomizationRuleRepository) List(ctx context.Context) ([]domain.CustomizationRule, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, `
		SELECT type, placement, price, active, updated_at FROM customization_rules ORDER BY type, placement`)
	if err != nil {
		return nil, wrapError("rules.list", err)
	}
	defer rows.Close()

	var out []domain.CustomizationRule
	for rows.Next() {
		var (
			rule      domain.CustomizationRule
			kind      string
			placement string
		)
		if err := rows.Scan(&kind, &placement, &rule.Price, &rule.Active, &rule.UpdatedAt); err != nil {
			return nil, wrapError("rules.list", err)
		}
		rule.Type = domain.CustomizationType(kind)
		rule.Placement = domain.Placement(placement)
		rule.UpdatedAt = rule.UpdatedAt.UTC()
		out = append(out, rule)
	}
	return out, wrapError("rules.list", rows.Err())
}

func (r *CustomizationRuleRepository) Create(ctx context.Context, rule domain.CustomizationRule) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO customization_rules (type, placement, price, active, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(rule.Type), string(rule.Placement), rule.Price, rule.Active, rule.UpdatedAt.UTC(),
	)
	return wrapError("rules.create", err)
}

func (r *CustomizationRuleRepository) Update(ctx context.Context, rule domain.CustomizationRule) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE customization_rules SET price = $3, active = $4, updated_at = $5
		WHERE type = $1 AND placement = $2`,
		string(rule.Type), string(rule.Placement), rule.Price, rule.Active, rule.UpdatedAt.UTC(),
	)
	if err != nil {
		return wrapError("rules.update", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return wrapError("rules.update", err)
	} else if affected == 0 {
		return repositories.NewError("rules.update", repositories.ErrorKindNotFound, sql.ErrNoRows)
	}
	return nil
}
