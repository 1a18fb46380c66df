package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/platform/auth"
	"github.com/customwear/api/internal/platform/httpx"
	"github.com/customwear/api/internal/services"
)

// CatalogHandlers exposes product reads and staff stock management.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs CatalogHandlers.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes registers the /products endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{productID}", h.getProduct)
	r.Group(func(staff chi.Router) {
		staff.Use(auth.RequireRoles(auth.RoleStaff, auth.RoleAdmin))
		staff.Put("/{productID}", h.saveProduct)
		staff.Post("/{productID}/variants/{variantID}:restock", h.adjustStock)
	})
}

type productRequest struct {
	Name               string              `json:"name" validate:"required,max=200"`
	Status             string              `json:"status,omitempty" validate:"omitempty,oneof=active draft archived"`
	Currency           string              `json:"currency,omitempty" validate:"omitempty,len=3"`
	BasePrice          string              `json:"base_price" validate:"required"`
	SalePrice          string              `json:"sale_price,omitempty"`
	Variants           []variantRequest    `json:"variants" validate:"required,min=1,max=200,dive"`
	CustomizationTable []productRuleRequest `json:"customization_table,omitempty" validate:"omitempty,max=10,dive"`
}

type variantRequest struct {
	ID       string `json:"id,omitempty" validate:"max=64"`
	Size     string `json:"size" validate:"max=40"`
	Color    string `json:"color" validate:"max=40"`
	Material string `json:"material" validate:"max=40"`
	Stock    int    `json:"stock" validate:"min=0"`
}

type productRuleRequest struct {
	Type      string `json:"type" validate:"required,oneof=text image combo"`
	Placement string `json:"placement" validate:"required,oneof=front back both any"`
	Price     string `json:"price" validate:"required"`
	Active    bool   `json:"active"`
}

type adjustStockRequest struct {
	Delta     int    `json:"delta" validate:"required"`
	Reference string `json:"reference,omitempty" validate:"max=128"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	Status             string           `json:"status"`
	Currency           string           `json:"currency"`
	BasePrice          string           `json:"base_price"`
	SalePrice          string           `json:"sale_price,omitempty"`
	Price              string           `json:"price"`
	Orderable          bool             `json:"orderable"`
	Variants           []variantPayload `json:"variants"`
	CustomizationTable []rulePayload    `json:"customization_table,omitempty"`
	CreatedAt          string           `json:"created_at,omitempty"`
	UpdatedAt          string           `json:"updated_at,omitempty"`
}

type variantPayload struct {
	ID       string `json:"id"`
	Size     string `json:"size"`
	Color    string `json:"color"`
	Material string `json:"material"`
	Stock    int    `json:"stock"`
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	identity, _ := auth.IdentityFromContext(ctx)
	if product.Status != domain.ProductStatusActive && (identity == nil || !identity.IsStaff()) {
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *CatalogHandlers) saveProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	var req productRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	basePrice, ok := parseMoney(ctx, w, "base_price", req.BasePrice)
	if !ok {
		return
	}
	var salePrice int64
	if strings.TrimSpace(req.SalePrice) != "" {
		if salePrice, ok = parseMoney(ctx, w, "sale_price", req.SalePrice); !ok {
			return
		}
	}

	product := services.Product{
		ID:        strings.TrimSpace(chi.URLParam(r, "productID")),
		Name:      req.Name,
		Status:    domain.ProductStatus(req.Status),
		Currency:  req.Currency,
		BasePrice: basePrice,
		SalePrice: salePrice,
		Variants:  make([]services.Variant, 0, len(req.Variants)),
	}
	for _, v := range req.Variants {
		product.Variants = append(product.Variants, services.Variant{
			ID:       v.ID,
			Size:     v.Size,
			Color:    v.Color,
			Material: v.Material,
			Stock:    v.Stock,
		})
	}
	for _, rule := range req.CustomizationTable {
		price, ok := parseMoney(ctx, w, "customization_table.price", rule.Price)
		if !ok {
			return
		}
		kind, placement := domain.CustomizationType(rule.Type), domain.Placement(rule.Placement)
		if !domain.ValidRuleKey(kind, placement) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unsupported customization type and placement", http.StatusBadRequest).
				WithDetails(map[string]any{"type": rule.Type, "placement": rule.Placement}))
			return
		}
		product.CustomizationTable = append(product.CustomizationTable, services.CustomizationRule{
			Type:      kind,
			Placement: placement,
			Price:     price,
			Active:    rule.Active,
		})
	}

	saved, err := h.catalog.SaveProduct(ctx, product)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(saved)})
}

func (h *CatalogHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	var req adjustStockRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	product, err := h.catalog.AdjustStock(ctx, services.AdjustStockCommand{
		ProductID: chi.URLParam(r, "productID"),
		VariantID: chi.URLParam(r, "variantID"),
		Delta:     req.Delta,
		Reference: req.Reference,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func buildProductPayload(product services.Product) productPayload {
	payload := productPayload{
		ID:        product.ID,
		Name:      product.Name,
		Status:    string(product.Status),
		Currency:  product.Currency,
		BasePrice: money(product.BasePrice),
		Price:     money(product.EffectivePrice()),
		Orderable: product.Orderable(),
		Variants:  make([]variantPayload, 0, len(product.Variants)),
		CreatedAt: formatTime(product.CreatedAt),
		UpdatedAt: formatTime(product.UpdatedAt),
	}
	if product.SalePrice > 0 {
		payload.SalePrice = money(product.SalePrice)
	}
	for _, v := range product.Variants {
		payload.Variants = append(payload.Variants, variantPayload{
			ID:       v.ID,
			Size:     v.Size,
			Color:    v.Color,
			Material: v.Material,
			Stock:    v.Stock,
		})
	}
	for _, rule := range product.CustomizationTable {
		payload.CustomizationTable = append(payload.CustomizationTable, buildRulePayload(rule))
	}
	return payload
}
