package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var variantFolder = cases.Fold()

// VariantKey identifies a variant by its attributes. Matching always goes through
// Normalize so case and width drift cannot split one variant into two.
type VariantKey struct {
	Size     string
	Color    string
	Material string
}

// Key returns the attribute triple of the variant.
func (v Variant) Key() VariantKey {
	return VariantKey{Size: v.Size, Color: v.Color, Material: v.Material}
}

// Normalize folds case, applies NFKC and collapses whitespace in every component.
func (k VariantKey) Normalize() VariantKey {
	return VariantKey{
		Size:     normalizeVariantPart(k.Size),
		Color:    normalizeVariantPart(k.Color),
		Material: normalizeVariantPart(k.Material),
	}
}

// Matches reports whether two keys refer to the same variant.
func (k VariantKey) Matches(other VariantKey) bool {
	return k.Normalize() == other.Normalize()
}

// IsZero reports whether every component is blank.
func (k VariantKey) IsZero() bool {
	n := k.Normalize()
	return n.Size == "" && n.Color == "" && n.Material == ""
}

func (k VariantKey) String() string {
	return k.Size + "/" + k.Color + "/" + k.Material
}

func normalizeVariantPart(value string) string {
	value = norm.NFKC.String(value)
	value = strings.Join(strings.Fields(value), " ")
	return variantFolder.String(value)
}

// FindVariant returns the variant matching key.
func (p Product) FindVariant(key VariantKey) (Variant, bool) {
	target := key.Normalize()
	for _, variant := range p.Variants {
		if variant.Key().Normalize() == target {
			return variant, true
		}
	}
	return Variant{}, false
}

// VariantByID returns the variant with the given surrogate id.
func (p Product) VariantByID(id string) (Variant, bool) {
	for _, variant := range p.Variants {
		if variant.ID == id {
			return variant, true
		}
	}
	return Variant{}, false
}

// EffectivePrice returns the sale price when it undercuts the base price.
func (p Product) EffectivePrice() int64 {
	if p.SalePrice > 0 && p.SalePrice < p.BasePrice {
		return p.SalePrice
	}
	return p.BasePrice
}

// Orderable reports whether the product accepts new orders.
func (p Product) Orderable() bool {
	return p.Status == ProductStatusActive
}
