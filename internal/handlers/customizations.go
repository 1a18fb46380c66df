package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/platform/auth"
	"github.com/customwear/api/internal/services"
)

// CustomizationHandlers serves quotes and the staff-managed price grid.
type CustomizationHandlers struct {
	pricing services.CustomizationPricingService
}

// NewCustomizationHandlers constructs CustomizationHandlers.
func NewCustomizationHandlers(pricing services.CustomizationPricingService) *CustomizationHandlers {
	return &CustomizationHandlers{pricing: pricing}
}

// Routes registers quote and rule endpoints on the API base router.
func (h *CustomizationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/customizations:quote", h.quote)
	r.Route("/customization-rules", func(rules chi.Router) {
		rules.Get("/", h.listRules)
		rules.Group(func(staff chi.Router) {
			staff.Use(auth.RequireRoles(auth.RoleStaff, auth.RoleAdmin))
			staff.Post("/", h.createRule)
			staff.Put("/{type}/{placement}", h.updateRule)
		})
	})
}

type quoteRequest struct {
	customizationRequest
	BaseModelPrice *string `json:"base_model_price,omitempty"`
}

type quoteResponse struct {
	CustomizationPrice string              `json:"customization_price"`
	GrandTotal         *string             `json:"grand_total,omitempty"`
	Details            quoteDetailsPayload `json:"details"`
}

type quoteDetailsPayload struct {
	TextPlacement  string `json:"text_placement"`
	TextPrice      string `json:"text_price"`
	TextSavings    string `json:"text_savings"`
	ImagePlacement string `json:"image_placement"`
	ImagePrice     string `json:"image_price"`
	ImageSavings   string `json:"image_savings"`
	ComboApplied   bool   `json:"combo_applied"`
	TotalSavings   string `json:"total_savings"`
}

func (h *CustomizationHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		writeUnavailable(ctx, w, "customization")
		return
	}
	var req quoteRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	var base *int64
	if req.BaseModelPrice != nil {
		amount, ok := parseMoney(ctx, w, "base_model_price", *req.BaseModelPrice)
		if !ok {
			return
		}
		base = &amount
	}

	quote, err := h.pricing.CalculateCustomizationPrice(ctx, req.customizationRequest.toSelection(), base)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	d := quote.Details
	resp := quoteResponse{
		CustomizationPrice: money(quote.CustomizationPrice),
		Details: quoteDetailsPayload{
			TextPlacement:  string(d.TextPlacement),
			TextPrice:      money(d.TextPrice),
			TextSavings:    money(d.TextSavings),
			ImagePlacement: string(d.ImagePlacement),
			ImagePrice:     money(d.ImagePrice),
			ImageSavings:   money(d.ImageSavings),
			ComboApplied:   d.ComboApplied,
			TotalSavings:   money(d.TotalSavings),
		},
	}
	if quote.GrandTotal != nil {
		total := money(*quote.GrandTotal)
		resp.GrandTotal = &total
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

type rulePayload struct {
	Type      string `json:"type"`
	Placement string `json:"placement"`
	Price     string `json:"price"`
	Active    bool   `json:"active"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type ruleListResponse struct {
	Rules []rulePayload `json:"rules"`
	Grid  []rulePayload `json:"grid"`
}

type ruleResponse struct {
	Rule rulePayload `json:"rule"`
}

type createRuleRequest struct {
	Type      string `json:"type" validate:"required,oneof=text image combo"`
	Placement string `json:"placement" validate:"required,oneof=front back both any"`
	Price     string `json:"price" validate:"required"`
	Active    *bool  `json:"active,omitempty"`
}

type updateRuleRequest struct {
	Price  string `json:"price" validate:"required"`
	Active *bool  `json:"active,omitempty"`
}

func (h *CustomizationHandlers) listRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		writeUnavailable(ctx, w, "customization")
		return
	}
	rules, err := h.pricing.ListRules(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	grid, err := h.pricing.Grid(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := ruleListResponse{
		Rules: make([]rulePayload, 0, len(rules)),
		Grid:  make([]rulePayload, 0, 7),
	}
	for _, rule := range rules {
		resp.Rules = append(resp.Rules, buildRulePayload(rule))
	}
	for _, rule := range grid.Rules() {
		resp.Grid = append(resp.Grid, buildRulePayload(rule))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *CustomizationHandlers) createRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		writeUnavailable(ctx, w, "customization")
		return
	}
	var req createRuleRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	price, ok := parseMoney(ctx, w, "price", req.Price)
	if !ok {
		return
	}

	rule, err := h.pricing.CreateRule(ctx, services.CustomizationRule{
		Type:      domain.CustomizationType(req.Type),
		Placement: domain.Placement(req.Placement),
		Price:     price,
		Active:    req.Active == nil || *req.Active,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, ruleResponse{Rule: buildRulePayload(rule)})
}

func (h *CustomizationHandlers) updateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		writeUnavailable(ctx, w, "customization")
		return
	}
	var req updateRuleRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	price, ok := parseMoney(ctx, w, "price", req.Price)
	if !ok {
		return
	}

	rule, err := h.pricing.UpdateRule(ctx, services.CustomizationRule{
		Type:      domain.CustomizationType(strings.TrimSpace(chi.URLParam(r, "type"))),
		Placement: domain.Placement(strings.TrimSpace(chi.URLParam(r, "placement"))),
		Price:     price,
		Active:    req.Active == nil || *req.Active,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, ruleResponse{Rule: buildRulePayload(rule)})
}

func buildRulePayload(rule services.CustomizationRule) rulePayload {
	payload := rulePayload{
		Type:      string(rule.Type),
		Placement: string(rule.Placement),
		Price:     money(rule.Price),
		Active:    rule.Active,
	}
	if !rule.UpdatedAt.IsZero() {
		payload.UpdatedAt = rule.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return payload
}
