package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/platform/textutil"
	"github.com/customwear/api/internal/repositories"
)

const (
	maxCustomizationTextRunes = 120
	maxCustomizationRefLength = 512
)

// CustomizationQuote is the priced result for one selection.
type CustomizationQuote struct {
	CustomizationPrice int64
	// GrandTotal is set only when a non-negative base model price was supplied.
	GrandTotal *int64
	Details    CustomizationDetails
}

// CustomizationDetails explains how the price was reached. Savings are informational
// and never reduce the charged price.
type CustomizationDetails struct {
	TextPlacement  domain.Placement
	TextPrice      int64
	TextSavings    int64
	ImagePlacement domain.Placement
	ImagePrice     int64
	ImageSavings   int64
	ComboApplied   bool
	TotalSavings   int64
}

// CustomizationGrid maps (type, placement) keys to prices. The zero value prices
// everything at the built-in defaults.
type CustomizationGrid struct {
	prices map[string]int64
}

// NewCustomizationGrid starts from the defaults and overlays the active rules.
func NewCustomizationGrid(rules []CustomizationRule) CustomizationGrid {
	grid := CustomizationGrid{prices: make(map[string]int64, 8)}
	for _, rule := range domain.DefaultCustomizationRules() {
		grid.prices[rule.Key()] = rule.Price
	}
	return grid.WithOverrides(rules)
}

// WithOverrides returns a copy of the grid where every active rule replaces the current
// price for its key. Inactive rules are ignored.
func (g CustomizationGrid) WithOverrides(rules []CustomizationRule) CustomizationGrid {
	if g.prices == nil {
		g = NewCustomizationGrid(nil)
	}
	next := CustomizationGrid{prices: make(map[string]int64, len(g.prices))}
	for key, price := range g.prices {
		next.prices[key] = price
	}
	for _, rule := range rules {
		if !rule.Active || !domain.ValidRuleKey(rule.Type, rule.Placement) {
			continue
		}
		next.prices[rule.Key()] = rule.Price
	}
	return next
}

// Price returns the price for a key; a none placement is free.
func (g CustomizationGrid) Price(kind domain.CustomizationType, placement domain.Placement) int64 {
	if placement == domain.PlacementNone || placement == "" {
		return 0
	}
	if g.prices == nil {
		g = NewCustomizationGrid(nil)
	}
	return g.prices[domain.RuleKey(kind, placement)]
}

// Rules lists the effective grid in default order.
func (g CustomizationGrid) Rules() []CustomizationRule {
	defaults := domain.DefaultCustomizationRules()
	out := make([]CustomizationRule, 0, len(defaults))
	for _, rule := range defaults {
		rule.Price = g.Price(rule.Type, rule.Placement)
		out = append(out, rule)
	}
	return out
}

// Quote prices a selection. The selection is expected to be sanitized already.
func (g CustomizationGrid) Quote(selection CustomizationSelection) (int64, CustomizationDetails) {
	details := CustomizationDetails{
		TextPlacement:  selection.TextPlacement(),
		ImagePlacement: selection.ImagePlacement(),
	}
	details.TextPrice = g.Price(domain.CustomizationText, details.TextPlacement)
	details.ImagePrice = g.Price(domain.CustomizationImage, details.ImagePlacement)
	details.TextSavings = g.bothSavings(domain.CustomizationText, details.TextPlacement)
	details.ImageSavings = g.bothSavings(domain.CustomizationImage, details.ImagePlacement)
	details.TotalSavings = details.TextSavings + details.ImageSavings

	price := details.TextPrice + details.ImagePrice
	if details.TextPlacement != domain.PlacementNone && details.ImagePlacement != domain.PlacementNone {
		price = g.Price(domain.CustomizationCombo, domain.PlacementAny)
		details.ComboApplied = true
	}
	return price, details
}

func (g CustomizationGrid) bothSavings(kind domain.CustomizationType, placement domain.Placement) int64 {
	if placement != domain.PlacementBoth {
		return 0
	}
	savings := g.Price(kind, domain.PlacementFront) + g.Price(kind, domain.PlacementBack) - g.Price(kind, domain.PlacementBoth)
	return max(savings, 0)
}

// CustomizationPricingServiceDeps bundles the collaborators of the pricing grid service.
type CustomizationPricingServiceDeps struct {
	Rules  repositories.CustomizationRuleRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type customizationPricingService struct {
	rules  repositories.CustomizationRuleRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewCustomizationPricingService constructs the grid service.
func NewCustomizationPricingService(deps CustomizationPricingServiceDeps) (CustomizationPricingService, error) {
	if deps.Rules == nil {
		return nil, errors.New("customization pricing service: rule repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &customizationPricingService{
		rules: deps.Rules,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *customizationPricingService) CalculateCustomizationPrice(ctx context.Context, selection CustomizationSelection, baseModelPrice *int64) (CustomizationQuote, error) {
	const op = "customization.quote"

	normalized, err := NormalizeCustomizationSelection(selection)
	if err != nil {
		return CustomizationQuote{}, err
	}
	grid, err := s.Grid(ctx)
	if err != nil {
		return CustomizationQuote{}, err
	}

	price, details := grid.Quote(normalized)
	quote := CustomizationQuote{CustomizationPrice: price, Details: details}
	if baseModelPrice != nil && *baseModelPrice >= 0 {
		total := *baseModelPrice + price
		quote.GrandTotal = &total
	}
	s.logger(ctx, op, map[string]any{
		"textPlacement":  string(details.TextPlacement),
		"imagePlacement": string(details.ImagePlacement),
		"comboApplied":   details.ComboApplied,
		"price":          price,
	})
	return quote, nil
}

func (s *customizationPricingService) ListRules(ctx context.Context) ([]CustomizationRule, error) {
	rules, err := s.rules.List(ctx)
	if err != nil {
		return nil, mapRepositoryError("customization.rules.list", err, nil)
	}
	sortRules(rules)
	return rules, nil
}

func (s *customizationPricingService) CreateRule(ctx context.Context, rule CustomizationRule) (CustomizationRule, error) {
	const op = "customization.rules.create"

	rule, err := s.prepareRule(op, rule)
	if err != nil {
		return CustomizationRule{}, err
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		if isConflict(err) {
			return CustomizationRule{}, newError(ErrConflict, op, "duplicate_rule", "a rule already exists for this type and placement", map[string]any{
				"type":      string(rule.Type),
				"placement": string(rule.Placement),
			}).wrap(err)
		}
		return CustomizationRule{}, mapRepositoryError(op, err, map[string]any{"rule": rule.Key()})
	}
	s.logger(ctx, op, map[string]any{"rule": rule.Key(), "price": rule.Price, "active": rule.Active})
	return rule, nil
}

func (s *customizationPricingService) UpdateRule(ctx context.Context, rule CustomizationRule) (CustomizationRule, error) {
	const op = "customization.rules.update"

	rule, err := s.prepareRule(op, rule)
	if err != nil {
		return CustomizationRule{}, err
	}
	if err := s.rules.Update(ctx, rule); err != nil {
		return CustomizationRule{}, mapRepositoryError(op, err, map[string]any{"rule": rule.Key()})
	}
	s.logger(ctx, op, map[string]any{"rule": rule.Key(), "price": rule.Price, "active": rule.Active})
	return rule, nil
}

func (s *customizationPricingService) Grid(ctx context.Context) (CustomizationGrid, error) {
	rules, err := s.rules.List(ctx)
	if err != nil {
		return CustomizationGrid{}, mapRepositoryError("customization.grid", err, nil)
	}
	return NewCustomizationGrid(rules), nil
}

func (s *customizationPricingService) prepareRule(op string, rule CustomizationRule) (CustomizationRule, error) {
	rule.Type = domain.CustomizationType(strings.ToLower(strings.TrimSpace(string(rule.Type))))
	rule.Placement = domain.Placement(strings.ToLower(strings.TrimSpace(string(rule.Placement))))
	if !domain.ValidRuleKey(rule.Type, rule.Placement) {
		return CustomizationRule{}, validationError(op, "invalid_rule_key", "unsupported type and placement combination", map[string]any{
			"type":      string(rule.Type),
			"placement": string(rule.Placement),
		})
	}
	if rule.Price < 0 {
		return CustomizationRule{}, validationError(op, "invalid_price", "price must not be negative", map[string]any{"price": rule.Price})
	}
	rule.UpdatedAt = s.clock()
	return rule, nil
}

// NormalizeCustomizationSelection strips markup from every side and enforces length limits.
func NormalizeCustomizationSelection(selection CustomizationSelection) (CustomizationSelection, error) {
	const op = "customization.selection"

	out := CustomizationSelection{
		FrontText:     textutil.SanitizePlain(selection.FrontText),
		BackText:      textutil.SanitizePlain(selection.BackText),
		FrontImageRef: strings.TrimSpace(selection.FrontImageRef),
		BackImageRef:  strings.TrimSpace(selection.BackImageRef),
	}
	texts := []struct{ field, value string }{
		{"front_text", out.FrontText},
		{"back_text", out.BackText},
	}
	for _, text := range texts {
		if utf8.RuneCountInString(text.value) > maxCustomizationTextRunes {
			return CustomizationSelection{}, validationError(op, "text_too_long", "customization text is too long", map[string]any{
				"field": text.field,
				"max":   maxCustomizationTextRunes,
			})
		}
	}
	refs := []struct{ field, value string }{
		{"front_image_ref", out.FrontImageRef},
		{"back_image_ref", out.BackImageRef},
	}
	for _, ref := range refs {
		if len(ref.value) > maxCustomizationRefLength || strings.ContainsAny(ref.value, "<>\"") {
			return CustomizationSelection{}, validationError(op, "invalid_image_ref", "image reference is invalid", map[string]any{"field": ref.field})
		}
	}
	return out, nil
}

func sortRules(rules []CustomizationRule) {
	slices.SortFunc(rules, func(a, b CustomizationRule) int {
		return strings.Compare(a.Key(), b.Key())
	})
}
