package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/repositories/memory"
)

func newTestCustomizationService(t *testing.T) (CustomizationPricingService, *memory.Registry) {
	t.Helper()
	reg := memory.NewRegistry()
	svc, err := NewCustomizationPricingService(CustomizationPricingServiceDeps{
		Rules: reg.CustomizationRules(),
		Clock: func() time.Time { return time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewCustomizationPricingService error: %v", err)
	}
	return svc, reg
}

func TestCustomizationQuote_ComboOverridesAdditiveSum(t *testing.T) {
	svc, _ := newTestCustomizationService(t)

	base := int64(2500)
	quote, err := svc.CalculateCustomizationPrice(context.Background(), CustomizationSelection{
		FrontText:     "Captain",
		BackText:      "10",
		FrontImageRef: "img_logo",
	}, &base)
	if err != nil {
		t.Fatalf("CalculateCustomizationPrice error: %v", err)
	}

	d := quote.Details
	if d.TextPlacement != domain.PlacementBoth || d.TextPrice != 800 || d.TextSavings != 200 {
		t.Fatalf("unexpected text details: %+v", d)
	}
	if d.ImagePlacement != domain.PlacementFront || d.ImagePrice != 1000 || d.ImageSavings != 0 {
		t.Fatalf("unexpected image details: %+v", d)
	}
	if !d.ComboApplied || quote.CustomizationPrice != 1200 {
		t.Fatalf("expected combo price 1200, got %d (combo=%v)", quote.CustomizationPrice, d.ComboApplied)
	}
	if d.TotalSavings != 200 {
		t.Fatalf("expected total savings 200, got %d", d.TotalSavings)
	}
	if quote.GrandTotal == nil || *quote.GrandTotal != 3700 {
		t.Fatalf("expected grand total 3700, got %v", quote.GrandTotal)
	}
}

func TestCustomizationQuote_Placements(t *testing.T) {
	svc, _ := newTestCustomizationService(t)

	cases := []struct {
		name      string
		selection CustomizationSelection
		price     int64
		savings   int64
	}{
		{name: "nothing selected", selection: CustomizationSelection{}, price: 0},
		{name: "text back", selection: CustomizationSelection{BackText: "Hi"}, price: 500},
		{name: "image both", selection: CustomizationSelection{FrontImageRef: "a", BackImageRef: "b"}, price: 1500, savings: 500},
		{name: "markup only counts as empty", selection: CustomizationSelection{FrontText: "<b></b>", FrontImageRef: "a"}, price: 1000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			quote, err := svc.CalculateCustomizationPrice(context.Background(), tc.selection, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if quote.CustomizationPrice != tc.price || quote.Details.TotalSavings != tc.savings {
				t.Fatalf("expected price %d savings %d, got %+v", tc.price, tc.savings, quote)
			}
			if quote.GrandTotal != nil {
				t.Fatalf("expected grand total omitted without base price")
			}
		})
	}
}

func TestCustomizationQuote_NegativeBasePriceOmitsGrandTotal(t *testing.T) {
	svc, _ := newTestCustomizationService(t)
	base := int64(-1)
	quote, err := svc.CalculateCustomizationPrice(context.Background(), CustomizationSelection{FrontText: "x"}, &base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.GrandTotal != nil {
		t.Fatalf("expected grand total omitted, got %d", *quote.GrandTotal)
	}
}

func TestCustomizationRules_OverlayIgnoresInactive(t *testing.T) {
	svc, _ := newTestCustomizationService(t)
	ctx := context.Background()

	if _, err := svc.CreateRule(ctx, CustomizationRule{Type: "TEXT", Placement: "front", Price: 650, Active: true}); err != nil {
		t.Fatalf("CreateRule error: %v", err)
	}
	if _, err := svc.CreateRule(ctx, CustomizationRule{Type: domain.CustomizationCombo, Placement: domain.PlacementAny, Price: 100, Active: false}); err != nil {
		t.Fatalf("CreateRule error: %v", err)
	}

	grid, err := svc.Grid(ctx)
	if err != nil {
		t.Fatalf("Grid error: %v", err)
	}
	if got := grid.Price(domain.CustomizationText, domain.PlacementFront); got != 650 {
		t.Fatalf("expected overridden text front 650, got %d", got)
	}
	if got := grid.Price(domain.CustomizationCombo, domain.PlacementAny); got != 1200 {
		t.Fatalf("expected inactive combo rule ignored, got %d", got)
	}

	rules, err := svc.ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules error: %v", err)
	}
	if len(rules) != 2 || rules[0].Key() != "combo:any" {
		t.Fatalf("unexpected stored rules: %+v", rules)
	}
}

func TestCustomizationRules_Errors(t *testing.T) {
	svc, _ := newTestCustomizationService(t)
	ctx := context.Background()

	rule := CustomizationRule{Type: domain.CustomizationImage, Placement: domain.PlacementBoth, Price: 1400, Active: true}
	if _, err := svc.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule error: %v", err)
	}
	_, err := svc.CreateRule(ctx, rule)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on duplicate key, got %v", err)
	}
	if svcErr, ok := AsError(err); !ok || svcErr.Code != "duplicate_rule" {
		t.Fatalf("expected duplicate_rule code, got %v", err)
	}

	if _, err := svc.CreateRule(ctx, CustomizationRule{Type: domain.CustomizationCombo, Placement: domain.PlacementFront}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for combo front, got %v", err)
	}
	if _, err := svc.CreateRule(ctx, CustomizationRule{Type: domain.CustomizationText, Placement: domain.PlacementBack, Price: -5}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for negative price, got %v", err)
	}
	if _, err := svc.UpdateRule(ctx, CustomizationRule{Type: domain.CustomizationText, Placement: domain.PlacementBack, Price: 10}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for missing rule, got %v", err)
	}
}

func TestCustomizationGrid_WithOverridesKeepsBase(t *testing.T) {
	base := NewCustomizationGrid(nil)
	product := base.WithOverrides([]CustomizationRule{{Type: domain.CustomizationCombo, Placement: domain.PlacementAny, Price: 900, Active: true}})

	if got := base.Price(domain.CustomizationCombo, domain.PlacementAny); got != 1200 {
		t.Fatalf("expected base grid untouched, got %d", got)
	}
	price, details := product.Quote(CustomizationSelection{FrontText: "a", BackImageRef: "b"})
	if price != 900 || !details.ComboApplied {
		t.Fatalf("expected product combo 900, got %d %+v", price, details)
	}
}

func TestNormalizeCustomizationSelection_RejectsLongText(t *testing.T) {
	long := make([]rune, maxCustomizationTextRunes+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err := NormalizeCustomizationSelection(CustomizationSelection{FrontText: string(long)})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNormalizeCustomizationSelection_ReportsFirstInvalidField(t *testing.T) {
	long := strings.Repeat("x", maxCustomizationTextRunes+1)
	badRef := "<img>"
	for i := 0; i < 20; i++ {
		_, err := NormalizeCustomizationSelection(CustomizationSelection{FrontText: long, BackText: long})
		if svcErr, ok := AsError(err); !ok || svcErr.Details["field"] != "front_text" {
			t.Fatalf("expected front_text, got %v", err)
		}
		_, err = NormalizeCustomizationSelection(CustomizationSelection{FrontImageRef: badRef, BackImageRef: badRef})
		if svcErr, ok := AsError(err); !ok || svcErr.Details["field"] != "front_image_ref" {
			t.Fatalf("expected front_image_ref, got %v", err)
		}
	}
}
