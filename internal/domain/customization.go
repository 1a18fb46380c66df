package domain

import (
	"strings"
	"time"
)

// CustomizationType is the kind of decoration applied to a garment.
type CustomizationType string

const (
	CustomizationText  CustomizationType = "text"
	CustomizationImage CustomizationType = "image"
	CustomizationCombo CustomizationType = "combo"
)

// Placement describes where a decoration goes.
type Placement string

const (
	PlacementNone  Placement = "none"
	PlacementFront Placement = "front"
	PlacementBack  Placement = "back"
	PlacementBoth  Placement = "both"
	PlacementAny   Placement = "any"
)

// CustomizationRule prices one (type, placement) pair. Rules are unique per key.
type CustomizationRule struct {
	Type      CustomizationType
	Placement Placement
	Price     int64
	Active    bool
	UpdatedAt time.Time
}

// Key returns the unique identifier of the rule, e.g. "text:front".
func (r CustomizationRule) Key() string {
	return RuleKey(r.Type, r.Placement)
}

// RuleKey formats a (type, placement) pair.
func RuleKey(kind CustomizationType, placement Placement) string {
	return string(kind) + ":" + string(placement)
}

// ValidRuleKey reports whether the pair can carry a price. Text and image rules are
// priced per side, combo only as "any".
func ValidRuleKey(kind CustomizationType, placement Placement) bool {
	switch kind {
	case CustomizationText, CustomizationImage:
		return placement == PlacementFront || placement == PlacementBack || placement == PlacementBoth
	case CustomizationCombo:
		return placement == PlacementAny
	default:
		return false
	}
}

// DefaultCustomizationRules returns the built-in grid in minor units.
func DefaultCustomizationRules() []CustomizationRule {
	return []CustomizationRule{
		{Type: CustomizationText, Placement: PlacementFront, Price: 500, Active: true},
		{Type: CustomizationText, Placement: PlacementBack, Price: 500, Active: true},
		{Type: CustomizationText, Placement: PlacementBoth, Price: 800, Active: true},
		{Type: CustomizationImage, Placement: PlacementFront, Price: 1000, Active: true},
		{Type: CustomizationImage, Placement: PlacementBack, Price: 1000, Active: true},
		{Type: CustomizationImage, Placement: PlacementBoth, Price: 1500, Active: true},
		{Type: CustomizationCombo, Placement: PlacementAny, Price: 1200, Active: true},
	}
}

// CustomizationSelection captures what the customer asked to print. A side is selected
// when its content is non-blank.
type CustomizationSelection struct {
	FrontText     string
	BackText      string
	FrontImageRef string
	BackImageRef  string
}

// TextPlacement derives the text placement from the selected sides.
func (s CustomizationSelection) TextPlacement() Placement {
	return derivePlacement(s.FrontText, s.BackText)
}

// ImagePlacement derives the image placement from the selected sides.
func (s CustomizationSelection) ImagePlacement() Placement {
	return derivePlacement(s.FrontImageRef, s.BackImageRef)
}

// Empty reports whether nothing was selected.
func (s CustomizationSelection) Empty() bool {
	return s.TextPlacement() == PlacementNone && s.ImagePlacement() == PlacementNone
}

func derivePlacement(front, back string) Placement {
	hasFront := strings.TrimSpace(front) != ""
	hasBack := strings.TrimSpace(back) != ""
	switch {
	case hasFront && hasBack:
		return PlacementBoth
	case hasFront:
		return PlacementFront
	case hasBack:
		return PlacementBack
	default:
		return PlacementNone
	}
}
