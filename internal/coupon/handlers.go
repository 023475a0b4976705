package coupon

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-5elm/internal/common"
	"github.com/noah-isme/backend-5elm/internal/pricing"
)

// Handler exposes administrative coupon management endpoints.
type Handler struct {
	Svc       *Service
	BodyLimit int64
}

type couponPayload struct {
	Code               string              `json:"code" validate:"required,max=64"`
	Description        string              `json:"description" validate:"max=500"`
	Kind               string              `json:"kind" validate:"required"`
	Magnitude          decimal.Decimal     `json:"magnitude"`
	MaxDiscount        decimal.NullDecimal `json:"maxDiscount"`
	MinOrderValue      decimal.NullDecimal `json:"minOrderValue"`
	MaxOrderValue      decimal.NullDecimal `json:"maxOrderValue"`
	BuyQty             int                 `json:"buyQty" validate:"gte=0"`
	GetQty             int                 `json:"getQty" validate:"gte=0"`
	GetDiscountPercent decimal.Decimal     `json:"getDiscountPercent"`
	Active             *bool               `json:"active"`
	StartsAt           *time.Time          `json:"startsAt"`
	EndsAt             *time.Time          `json:"endsAt"`
	UsageLimit         *int                `json:"usageLimit" validate:"omitempty,gte=0"`
	PerUserLimit       *int                `json:"perUserLimit" validate:"omitempty,gte=0"`
	AllowedUsers       []uuid.UUID         `json:"allowedUsers"`
	AllowedCategories  []uuid.UUID         `json:"allowedCategories"`
	AllowedProducts    []uuid.UUID         `json:"allowedProducts"`
	ExcludedCategories []uuid.UUID         `json:"excludedCategories"`
	ExcludedProducts   []uuid.UUID         `json:"excludedProducts"`
}

// View is the API representation of a coupon.
type View struct {
	ID                 uuid.UUID             `json:"id"`
	Code               string                `json:"code"`
	Description        string                `json:"description,omitempty"`
	Kind               pricing.PromotionKind `json:"kind"`
	Magnitude          decimal.Decimal       `json:"magnitude"`
	MaxDiscount        decimal.NullDecimal   `json:"maxDiscount"`
	MinOrderValue      decimal.NullDecimal   `json:"minOrderValue"`
	MaxOrderValue      decimal.NullDecimal   `json:"maxOrderValue"`
	BuyQty             int                   `json:"buyQty,omitempty"`
	GetQty             int                   `json:"getQty,omitempty"`
	GetDiscountPercent decimal.Decimal       `json:"getDiscountPercent"`
	Active             bool                  `json:"active"`
	StartsAt           *time.Time            `json:"startsAt,omitempty"`
	EndsAt             *time.Time            `json:"endsAt,omitempty"`
	UsageLimit         *int                  `json:"usageLimit,omitempty"`
	UsedCount          int                   `json:"usedCount"`
	PerUserLimit       *int                  `json:"perUserLimit,omitempty"`
	AllowedUsers       []uuid.UUID           `json:"allowedUsers,omitempty"`
	AllowedCategories  []uuid.UUID           `json:"allowedCategories,omitempty"`
	AllowedProducts    []uuid.UUID           `json:"allowedProducts,omitempty"`
	ExcludedCategories []uuid.UUID           `json:"excludedCategories,omitempty"`
	ExcludedProducts   []uuid.UUID           `json:"excludedProducts,omitempty"`
	CreatedAt          time.Time             `json:"createdAt"`
}

func toView(r Rule) View {
	return View{
		ID: r.ID, Code: r.Code, Description: r.Description,
		Kind: r.Kind, Magnitude: r.Magnitude, MaxDiscount: r.MaxDiscount,
		MinOrderValue: r.MinOrderValue, MaxOrderValue: r.MaxOrderValue,
		BuyQty: r.BuyQty, GetQty: r.GetQty, GetDiscountPercent: r.GetDiscountPercent,
		Active: r.Active, StartsAt: r.StartsAt, EndsAt: r.EndsAt,
		UsageLimit: r.UsageLimit, UsedCount: r.UsedCount, PerUserLimit: r.PerUserLimit,
		AllowedUsers: r.AllowedUsers, AllowedCategories: r.AllowedCategories, AllowedProducts: r.AllowedProducts,
		ExcludedCategories: r.ExcludedCategories, ExcludedProducts: r.ExcludedProducts,
		CreatedAt: r.CreatedAt,
	}
}

// Create inserts a new coupon rule.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload couponPayload
	if err := common.DecodeJSON(w, r, &payload, h.BodyLimit); err != nil {
		common.WriteError(w, err)
		return
	}
	kind, err := pricing.ParsePromotionKind(payload.Kind)
	if err != nil {
		common.WriteError(w, common.BadRequest("INVALID_KIND", "unknown coupon kind", err))
		return
	}
	rule := Rule{
		Code:               payload.Code,
		Description:        strings.TrimSpace(payload.Description),
		Kind:               kind,
		Magnitude:          payload.Magnitude,
		MaxDiscount:        payload.MaxDiscount,
		MinOrderValue:      payload.MinOrderValue,
		MaxOrderValue:      payload.MaxOrderValue,
		BuyQty:             payload.BuyQty,
		GetQty:             payload.GetQty,
		GetDiscountPercent: payload.GetDiscountPercent,
		Active:             payload.Active == nil || *payload.Active,
		StartsAt:           payload.StartsAt,
		EndsAt:             payload.EndsAt,
		UsageLimit:         payload.UsageLimit,
		PerUserLimit:       payload.PerUserLimit,
		AllowedUsers:       payload.AllowedUsers,
		AllowedCategories:  payload.AllowedCategories,
		AllowedProducts:    payload.AllowedProducts,
		ExcludedCategories: payload.ExcludedCategories,
		ExcludedProducts:   payload.ExcludedProducts,
	}
	created, err := h.Svc.Create(r.Context(), rule)
	if err != nil {
		common.WriteError(w, HTTPError(err))
		return
	}
	common.Data(w, http.StatusCreated, toView(created))
}

// List returns a page of coupons.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := common.ParsePage(r, 20, 100)
	rules, total, err := h.Svc.List(r.Context(), page.Limit, page.Offset())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	views := make([]View, 0, len(rules))
	for _, rule := range rules {
		views = append(views, toView(rule))
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": views,
		"meta": common.PageMeta{Page: page.Page, Limit: page.Limit, Total: total},
	})
}

// Get returns a single coupon by code.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Svc.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		common.WriteError(w, HTTPError(err))
		return
	}
	common.Data(w, http.StatusOK, toView(rule))
}

// HTTPError maps coupon errors onto API errors. Unknown errors pass through unchanged.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return common.NotFound("COUPON_NOT_FOUND", "coupon not found", err)
	case errors.Is(err, ErrDuplicateCode):
		return common.Conflict("COUPON_EXISTS", "coupon code already exists", err)
	case errors.Is(err, ErrInvalidRule):
		return common.BadRequest("INVALID_COUPON", err.Error(), err)
	case errors.Is(err, ErrInactive), errors.Is(err, ErrNotStarted), errors.Is(err, ErrExpired),
		errors.Is(err, ErrUsageLimitReached), errors.Is(err, ErrPerUserLimitReached),
		errors.Is(err, ErrMinimumNotMet), errors.Is(err, ErrMaximumExceeded),
		errors.Is(err, ErrUserNotAllowed), errors.Is(err, ErrNotApplicable), errors.Is(err, ErrExcludedItem):
		return common.Unprocessable("COUPON_NOT_ELIGIBLE", err.Error(), err).WithDetails(map[string]string{"reason": outcome(err)})
	default:
		return err
	}
}
