package cart

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-5elm/internal/common"
	"github.com/noah-isme/backend-5elm/internal/coupon"
	"github.com/noah-isme/backend-5elm/internal/lock"
	"github.com/noah-isme/backend-5elm/internal/pricing"
)

// Handler wires cart services to HTTP.
type Handler struct {
	Svc       *Service
	Currency  string
	BodyLimit int64
}

// ItemView is the API representation of a cart line.
type ItemView struct {
	ID        uuid.UUID        `json:"id"`
	ProductID uuid.UUID        `json:"productId"`
	Quantity  int              `json:"quantity"`
	Variant   *pricing.Variant `json:"variant,omitempty"`
	UnitPrice string           `json:"unitPrice"`
	LineTotal string           `json:"lineTotal"`
	AddedAt   time.Time        `json:"addedAt"`
}

// CouponView is the API representation of an applied coupon.
type CouponView struct {
	Code     string                `json:"code"`
	Type     pricing.PromotionKind `json:"type"`
	Discount string                `json:"discount"`
	Savings  string                `json:"savings"`
}

// TotalsView carries display amounts with two decimals.
type TotalsView struct {
	Subtotal string `json:"subtotal"`
	Tax      string `json:"tax"`
	TaxRate  string `json:"taxRate"`
	Shipping string `json:"shipping"`
	Discount string `json:"discount"`
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

// View is the API representation of a cart.
type View struct {
	ID             uuid.UUID              `json:"id"`
	AnonID         string                 `json:"anonId,omitempty"`
	Status         string                 `json:"status"`
	ShippingMethod pricing.ShippingMethod `json:"shippingMethod"`
	Items          []ItemView             `json:"items"`
	Coupon         *CouponView            `json:"coupon,omitempty"`
	Totals         TotalsView             `json:"totals"`
	ItemCount      int                    `json:"itemCount"`
	UpdatedAt      time.Time              `json:"updatedAt"`
	ExpiresAt      time.Time              `json:"expiresAt"`
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func (h *Handler) view(c *Cart) View {
	v := View{
		ID:             c.ID,
		AnonID:         c.AnonID,
		Status:         c.Status,
		ShippingMethod: c.ShippingMethod,
		Items:          make([]ItemView, 0, len(c.Items)),
		Totals: TotalsView{
			Subtotal: money(c.Totals.Subtotal),
			Tax:      money(c.Totals.Tax),
			TaxRate:  c.Totals.TaxRate.String(),
			Shipping: money(c.Totals.Shipping),
			Discount: money(c.Totals.Discount),
			Total:    money(c.Totals.Total),
			Currency: h.Currency,
		},
		UpdatedAt: c.UpdatedAt,
		ExpiresAt: c.ExpiresAt,
	}
	for _, it := range c.Items {
		line := it.line()
		v.Items = append(v.Items, ItemView{
			ID:        it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Variant:   it.Variant,
			UnitPrice: money(line.EffectiveUnitPrice()),
			LineTotal: money(line.Amount()),
			AddedAt:   it.AddedAt,
		})
		v.ItemCount += it.Quantity
	}
	if c.Coupon != nil {
		v.Coupon = &CouponView{
			Code:     c.Coupon.Code,
			Type:     c.Coupon.Type,
			Discount: c.Coupon.Discount.String(),
			Savings:  money(c.Coupon.Savings),
		}
	}
	return v
}

// Create creates or returns the caller's active cart.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AnonID string `json:"anonId" validate:"omitempty,max=64"`
	}
	if r.ContentLength != 0 {
		if err := common.DecodeJSON(w, r, &payload, h.BodyLimit); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	userID := common.UserID(r.Context())
	anonID := strings.TrimSpace(payload.AnonID)
	if userID == nil && anonID == "" {
		anonID = uuid.NewString()
	}
	c, err := h.Svc.Ensure(r.Context(), userID, anonID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, h.view(c))
}

// Get returns cart contents and totals.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	common.Data(w, http.StatusOK, h.view(c))
}

type addItemRequest struct {
	ProductID uuid.UUID         `json:"productId" validate:"required"`
	Quantity  int               `json:"quantity" validate:"required,min=1,max=999"`
	Variant   *VariantSelection `json:"variant"`
}

// AddItem adds a product line.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if err := common.DecodeJSON(w, r, &req, h.BodyLimit); err != nil {
		common.WriteError(w, err)
		return
	}
	updated, err := h.Svc.AddItem(r.Context(), c.ID, AddItemInput{ProductID: req.ProductID, Variant: req.Variant, Quantity: req.Quantity})
	h.respond(w, updated, err)
}

// UpdateItem changes a line quantity.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	itemID, ok := itemParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Quantity int `json:"quantity" validate:"required,min=1,max=999"`
	}
	if err := common.DecodeJSON(w, r, &req, h.BodyLimit); err != nil {
		common.WriteError(w, err)
		return
	}
	updated, err := h.Svc.UpdateQuantity(r.Context(), c.ID, itemID, req.Quantity)
	h.respond(w, updated, err)
}

// RemoveItem deletes a line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	itemID, ok := itemParam(w, r)
	if !ok {
		return
	}
	updated, err := h.Svc.RemoveItem(r.Context(), c.ID, itemID)
	h.respond(w, updated, err)
}

// Clear empties the cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	updated, err := h.Svc.Clear(r.Context(), c.ID)
	h.respond(w, updated, err)
}

// SetShipping selects the shipping method.
func (h *Handler) SetShipping(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	var req struct {
		Method string `json:"method" validate:"required,oneof=standard express overnight"`
	}
	if err := common.DecodeJSON(w, r, &req, h.BodyLimit); err != nil {
		common.WriteError(w, err)
		return
	}
	updated, err := h.Svc.SetShippingMethod(r.Context(), c.ID, pricing.ShippingMethod(req.Method))
	h.respond(w, updated, err)
}

// ApplyCoupon attaches a coupon code.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	var req struct {
		Code string `json:"code" validate:"required,max=64"`
	}
	if err := common.DecodeJSON(w, r, &req, h.BodyLimit); err != nil {
		common.WriteError(w, err)
		return
	}
	updated, err := h.Svc.ApplyCoupon(r.Context(), c.ID, req.Code, common.UserID(r.Context()))
	h.respond(w, updated, err)
}

// RemoveCoupon detaches the coupon.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	updated, err := h.Svc.RemoveCoupon(r.Context(), c.ID)
	h.respond(w, updated, err)
}

// Revalidate re-prices the cart and reports what changed.
func (h *Handler) Revalidate(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	updated, report, err := h.Svc.Revalidate(r.Context(), c.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.view(updated), "meta": report})
}

// Checkout finalises the cart.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	res, err := h.Svc.Checkout(r.Context(), c.ID, common.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": h.view(res.Cart),
		"meta": map[string]any{"revalidation": res.Revalidation, "couponDropped": res.CouponDropped},
	})
}

// Merge merges a guest cart into the authenticated user's cart.
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	userID := common.UserID(r.Context())
	if userID == nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var req struct {
		CartID uuid.UUID `json:"cartId" validate:"required"`
	}
	if err := common.DecodeJSON(w, r, &req, h.BodyLimit); err != nil {
		common.WriteError(w, err)
		return
	}
	merged, err := h.Svc.Merge(r.Context(), req.CartID, *userID)
	h.respond(w, merged, err)
}

// load resolves the {id} param to a cart the caller may access. Carts owned by a user
// are hidden from everyone else; guest carts are addressed by id alone.
func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*Cart, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid cart id", nil)
		return nil, false
	}
	c, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if c.UserID != nil {
		caller := common.UserID(r.Context())
		if caller == nil || *caller != *c.UserID {
			writeError(w, ErrNotFound)
			return nil, false
		}
	}
	return c, true
}

func itemParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "itemId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid item id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respond(w http.ResponseWriter, c *Cart, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, h.view(c))
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		err = common.NotFound("CART_NOT_FOUND", "cart not found", err)
	case errors.Is(err, ErrItemNotFound):
		err = common.NotFound("ITEM_NOT_FOUND", "cart item not found", err)
	case errors.Is(err, ErrNotActive):
		err = common.Conflict("CART_NOT_ACTIVE", "cart is no longer active", err)
	case errors.Is(err, ErrUnavailable):
		err = common.BadRequest("PRODUCT_UNAVAILABLE", err.Error(), err)
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidInput),
		errors.Is(err, pricing.ErrUnknownShippingMethod):
		err = common.BadRequest("BAD_REQUEST", err.Error(), err)
	case errors.Is(err, ErrEmptyCart):
		err = common.Unprocessable("CART_EMPTY", "cart is empty", err)
	case errors.Is(err, lock.ErrNotAcquired):
		err = common.Conflict("CART_BUSY", "cart is being modified, retry shortly", err)
	default:
		err = coupon.HTTPError(err)
	}
	common.WriteError(w, err)
}
