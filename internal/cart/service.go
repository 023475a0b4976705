package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/backend-5elm/internal/coupon"
	"github.com/noah-isme/backend-5elm/internal/obs"
	"github.com/noah-isme/backend-5elm/internal/pricing"
)

var (
	// ErrInvalidInput is returned when the provided payload is invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable is returned when a product or variant cannot be purchased.
	ErrUnavailable = errors.New("product unavailable")
	// ErrEmptyCart is returned when checking out a cart without items.
	ErrEmptyCart = errors.New("cart is empty")
)

// Coupons resolves and settles coupon codes.
type Coupons interface {
	Resolve(ctx context.Context, code string, ec coupon.EligibilityContext) (coupon.Rule, error)
	Redeem(ctx context.Context, code string, cartID uuid.UUID, userID *uuid.UUID, amount decimal.Decimal) error
}

// Locker serialises work on a key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store   Store
	Prices  pricing.PriceBook
	Calc    *pricing.Calculator
	Coupons Coupons
	// Locker is optional; without it mutations are not serialised across processes.
	Locker  Locker
	TTL     time.Duration
	LockTTL time.Duration
	Now     func() time.Time
	Logger  zerolog.Logger
	Metrics *obs.DomainMetrics
	Meter   metric.Meter
}

// Service encapsulates cart domain operations. Every mutation loads the cart,
// applies the change, recomputes totals and saves, under a per-cart lock.
type Service struct {
	store   Store
	prices  pricing.PriceBook
	calc    *pricing.Calculator
	coupons Coupons
	locker  Locker
	ttl     time.Duration
	lockTTL time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	metrics *obs.DomainMetrics

	checkoutValue metric.Float64Histogram
	couponSavings metric.Float64Histogram
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil || cfg.Prices == nil || cfg.Calc == nil {
		return nil, errors.New("cart: store, price book and calculator are required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Meter == nil {
		cfg.Meter = otel.Meter("github.com/noah-isme/backend-5elm/internal/cart")
	}
	checkoutValue, err := cfg.Meter.Float64Histogram("cart.checkout.total",
		metric.WithDescription("Grand total of checked out carts."))
	if err != nil {
		return nil, fmt.Errorf("cart: checkout histogram: %w", err)
	}
	couponSavings, err := cfg.Meter.Float64Histogram("cart.coupon.savings",
		metric.WithDescription("Discount granted by coupons at checkout."))
	if err != nil {
		return nil, fmt.Errorf("cart: savings histogram: %w", err)
	}
	return &Service{
		store:         cfg.Store,
		prices:        cfg.Prices,
		calc:          cfg.Calc,
		coupons:       cfg.Coupons,
		locker:        cfg.Locker,
		ttl:           cfg.TTL,
		lockTTL:       cfg.LockTTL,
		now:           cfg.Now,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		checkoutValue: checkoutValue,
		couponSavings: couponSavings,
	}, nil
}

// Ensure loads or creates the active cart of a user or, when userID is nil, of an anonymous id.
func (s *Service) Ensure(ctx context.Context, userID *uuid.UUID, anonID string) (*Cart, error) {
	if userID == nil && anonID == "" {
		return nil, fmt.Errorf("user or anonymous id is required: %w", ErrInvalidInput)
	}
	find := func(ctx context.Context) (*Cart, error) {
		if userID != nil {
			return s.store.FindActiveByUser(ctx, *userID)
		}
		return s.store.FindActiveByAnon(ctx, anonID)
	}
	now := s.now()
	c, err := find(ctx)
	switch {
	case err == nil && now.Before(c.ExpiresAt):
		return c, nil
	case err == nil:
		// Expired but not yet purged: reuse the row as a fresh cart.
		c.Clear()
		c.ShippingMethod = pricing.ShippingStandard
		c.UpdatedAt = now
		c.ExpiresAt = now.Add(s.ttl)
	case errors.Is(err, ErrNotFound):
		if userID != nil {
			anonID = ""
		}
		c = New(userID, anonID, now, s.ttl)
	default:
		return nil, err
	}
	if _, err := s.recalculate(c); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, c); err != nil {
		if errors.Is(err, ErrActiveExists) {
			return find(ctx)
		}
		return nil, err
	}
	s.metrics.CartMutation("ensure", nil)
	return c, nil
}

// Get returns a cart. Expired active carts are reported as not found.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Cart, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusActive && !s.now().Before(c.ExpiresAt) {
		return nil, ErrNotFound
	}
	return c, nil
}

// VariantSelection picks a variant by attribute name and value.
type VariantSelection struct {
	Name  string `json:"name" validate:"required,max=64"`
	Value string `json:"value" validate:"required,max=64"`
}

// AddItemInput describes a line to add.
type AddItemInput struct {
	ProductID uuid.UUID
	Variant   *VariantSelection
	Quantity  int
}

// AddItem prices the product from the price book and adds it to the cart.
func (s *Service) AddItem(ctx context.Context, id uuid.UUID, in AddItemInput) (*Cart, error) {
	if in.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	return s.mutate(ctx, id, "add_item", func(ctx context.Context, c *Cart) error {
		entry, err := s.prices.Lookup(ctx, in.ProductID.String())
		if errors.Is(err, pricing.ErrNotInPriceBook) {
			return fmt.Errorf("%w: %s", ErrUnavailable, in.ProductID)
		}
		if err != nil {
			return err
		}
		if !entry.Purchasable {
			return fmt.Errorf("%w: %s", ErrUnavailable, in.ProductID)
		}
		var variant *pricing.Variant
		if in.Variant != nil {
			vp, ok := entry.Variant(in.Variant.Name, in.Variant.Value)
			if !ok || !vp.Purchasable {
				return fmt.Errorf("%w: variant %s=%s", ErrUnavailable, in.Variant.Name, in.Variant.Value)
			}
			variant = &pricing.Variant{Name: vp.Name, Value: vp.Value, PriceAdder: vp.PriceAdder}
		}
		it, err := c.AddItem(in.ProductID, variant, in.Quantity, entry.UnitPrice, s.now())
		if err != nil {
			return err
		}
		if i := c.indexOf(it.ID); i >= 0 {
			c.Items[i].CategoryRef = entry.CategoryRef
		}
		return nil
	})
}

// UpdateQuantity sets the quantity of one line.
func (s *Service) UpdateQuantity(ctx context.Context, id, itemID uuid.UUID, qty int) (*Cart, error) {
	return s.mutate(ctx, id, "update_quantity", func(_ context.Context, c *Cart) error {
		return c.UpdateQuantity(itemID, qty)
	})
}

// RemoveItem deletes one line.
func (s *Service) RemoveItem(ctx context.Context, id, itemID uuid.UUID) (*Cart, error) {
	return s.mutate(ctx, id, "remove_item", func(_ context.Context, c *Cart) error {
		return c.RemoveItem(itemID)
	})
}

// Clear empties the cart and detaches its coupon.
func (s *Service) Clear(ctx context.Context, id uuid.UUID) (*Cart, error) {
	return s.mutate(ctx, id, "clear", func(_ context.Context, c *Cart) error {
		c.Clear()
		return nil
	})
}

// SetShippingMethod changes how the cart ships.
func (s *Service) SetShippingMethod(ctx context.Context, id uuid.UUID, m pricing.ShippingMethod) (*Cart, error) {
	return s.mutate(ctx, id, "set_shipping", func(_ context.Context, c *Cart) error {
		return c.SetShippingMethod(m)
	})
}

// ApplyCoupon validates code against the cart and attaches it, replacing any previous coupon.
// userID overrides the cart owner for per-user checks.
func (s *Service) ApplyCoupon(ctx context.Context, id uuid.UUID, code string, userID *uuid.UUID) (*Cart, error) {
	if s.coupons == nil {
		return nil, errors.New("cart: coupon service not configured")
	}
	return s.mutate(ctx, id, "apply_coupon", func(ctx context.Context, c *Cart) error {
		rule, err := s.resolveCoupon(ctx, c, code, userID)
		if err != nil {
			return err
		}
		c.ApplyCoupon(rule.Code, rule.Promotion())
		return nil
	})
}

// RemoveCoupon detaches the coupon.
func (s *Service) RemoveCoupon(ctx context.Context, id uuid.UUID) (*Cart, error) {
	return s.mutate(ctx, id, "remove_coupon", func(_ context.Context, c *Cart) error {
		c.RemoveCoupon()
		return nil
	})
}

// RevalidationReport counts the lines touched by a revalidation pass.
type RevalidationReport struct {
	Updated int `json:"updated"`
	Dropped int `json:"dropped"`
}

// Revalidate re-prices every line from the price book. Stale prices are corrected and
// lines that can no longer be bought are dropped, both silently. It is not shopper
// activity, so the cart's expiry does not move.
func (s *Service) Revalidate(ctx context.Context, id uuid.UUID) (*Cart, RevalidationReport, error) {
	var report RevalidationReport
	c, err := s.update(ctx, id, "revalidate", false, func(ctx context.Context, c *Cart) error {
		var err error
		report, err = s.revalidate(ctx, c)
		return err
	})
	return c, report, err
}

// CheckoutResult summarises a completed checkout.
type CheckoutResult struct {
	Cart          *Cart              `json:"cart"`
	Revalidation  RevalidationReport `json:"revalidation"`
	CouponDropped string             `json:"couponDropped,omitempty"`
}

// Checkout revalidates the cart, re-checks its coupon, records the redemption and
// marks the cart checked out.
func (s *Service) Checkout(ctx context.Context, id uuid.UUID, userID *uuid.UUID) (CheckoutResult, error) {
	var res CheckoutResult
	c, err := s.mutate(ctx, id, "checkout", func(ctx context.Context, c *Cart) error {
		report, err := s.revalidate(ctx, c)
		if err != nil {
			return err
		}
		res.Revalidation = report
		if len(c.Items) == 0 {
			return ErrEmptyCart
		}
		if c.Coupon != nil && s.coupons != nil {
			if _, err := s.resolveCoupon(ctx, c, c.Coupon.Code, userID); err != nil {
				if !isIneligible(err) {
					return err
				}
				s.logger.Info().Err(err).Str("cart_id", c.ID.String()).Str("code", c.Coupon.Code).Msg("coupon_dropped_at_checkout")
				res.CouponDropped = c.Coupon.Code
				c.RemoveCoupon()
			}
		}
		totals, err := s.recalculate(c)
		if err != nil {
			return err
		}
		if c.Coupon != nil && s.coupons != nil && totals.PromotionApplied {
			owner := userID
			if owner == nil {
				owner = c.UserID
			}
			if err := s.coupons.Redeem(ctx, c.Coupon.Code, c.ID, owner, c.Totals.Discount); err != nil {
				return err
			}
			s.couponSavings.Record(ctx, c.Totals.Discount.InexactFloat64(),
				metric.WithAttributes(attribute.String("coupon.type", string(c.Coupon.Type))))
		}
		c.Status = StatusCheckedOut
		s.checkoutValue.Record(ctx, c.Totals.Total.InexactFloat64(),
			metric.WithAttributes(attribute.String("shipping.method", string(c.ShippingMethod))))
		return nil
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	res.Cart = c
	s.logger.Info().Str("cart_id", c.ID.String()).Str("total", c.Totals.Total.StringFixed(2)).Msg("cart_checked_out")
	return res, nil
}

// Merge moves the lines of a guest cart into the user's active cart. On collisions
// the larger quantity wins. The guest cart is retired only after the user's cart is
// saved, so a failed merge leaves the guest cart untouched and can be retried.
func (s *Service) Merge(ctx context.Context, guestID, userID uuid.UUID) (*Cart, error) {
	target, err := s.Ensure(ctx, &userID, "")
	if err != nil {
		return nil, err
	}
	if target.ID == guestID {
		return target, nil
	}
	var out *Cart
	reachedTarget := false
	err = s.withLock(ctx, guestID, func(ctx context.Context) error {
		guest, err := s.store.Get(ctx, guestID)
		if err != nil {
			return err
		}
		if guest.UserID != nil && *guest.UserID != userID {
			return ErrNotFound
		}
		if !guest.Active(s.now()) {
			return ErrNotActive
		}
		reachedTarget = true
		out, err = s.mutate(ctx, target.ID, "merge", mergeInto(guest.Items, guest.Coupon))
		if err != nil {
			return err
		}
		// Merging is idempotent, so a failed retire is repaired by retrying.
		guest.Status = StatusMerged
		guest.UpdatedAt = s.now()
		return s.store.Save(ctx, guest)
	})
	if err != nil {
		if !reachedTarget {
			s.metrics.CartMutation("merge", err)
		}
		return nil, err
	}
	return out, nil
}

func mergeInto(guestItems []Item, guestCoupon *AppliedCoupon) func(context.Context, *Cart) error {
	return func(_ context.Context, c *Cart) error {
		for _, gi := range guestItems {
			merged := false
			for i := range c.Items {
				if c.Items[i].sameLine(gi.ProductID, gi.Variant) {
					if gi.Quantity > c.Items[i].Quantity {
						c.Items[i].Quantity = gi.Quantity
					}
					merged = true
					break
				}
			}
			if !merged {
				gi.ID = uuid.New()
				c.Items = append(c.Items, gi)
			}
		}
		if c.Coupon == nil && guestCoupon != nil {
			cp := *guestCoupon
			c.Coupon = &cp
		}
		return nil
	}
}

// SweepStale lists active carts untouched for olderThan, oldest first.
func (s *Service) SweepStale(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.store.ListStale(ctx, s.now().Add(-olderThan), limit)
}

// PurgeExpired deletes active carts past their expiry.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.now())
	if err == nil && n > 0 {
		s.logger.Info().Int64("count", n).Msg("expired_carts_purged")
	}
	return n, err
}

func (s *Service) mutate(ctx context.Context, id uuid.UUID, op string, fn func(context.Context, *Cart) error) (*Cart, error) {
	return s.update(ctx, id, op, true, fn)
}

// update runs fn on the locked cart and saves it. extend slides the expiry window;
// system passes such as revalidation leave it alone.
func (s *Service) update(ctx context.Context, id uuid.UUID, op string, extend bool, fn func(context.Context, *Cart) error) (*Cart, error) {
	var out *Cart
	err := s.withLock(ctx, id, func(ctx context.Context) error {
		c, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if c.Status != StatusActive {
			return ErrNotActive
		}
		if !now.Before(c.ExpiresAt) {
			return ErrNotFound
		}
		if err := fn(ctx, c); err != nil {
			return err
		}
		if _, err := s.recalculate(c); err != nil {
			return err
		}
		c.UpdatedAt = now
		if extend && c.Status == StatusActive {
			c.ExpiresAt = now.Add(s.ttl)
		}
		if err := s.store.Save(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	s.metrics.CartMutation(op, err)
	return out, err
}

func (s *Service) withLock(ctx context.Context, id uuid.UUID, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, "cart:"+id.String(), s.lockTTL, fn)
}

func (s *Service) recalculate(c *Cart) (pricing.Totals, error) {
	start := time.Now()
	totals, err := c.Recalculate(s.calc)
	s.metrics.ObserveRecalculate(time.Since(start))
	return totals, err
}

func (s *Service) revalidate(ctx context.Context, c *Cart) (RevalidationReport, error) {
	var report RevalidationReport
	kept := make([]Item, 0, len(c.Items))
	for _, it := range c.Items {
		entry, err := s.prices.Lookup(ctx, it.ProductID.String())
		if err != nil && !errors.Is(err, pricing.ErrNotInPriceBook) {
			return RevalidationReport{}, err
		}
		if err != nil || !entry.Purchasable {
			report.Dropped++
			s.logger.Info().Str("cart_id", c.ID.String()).Str("product_id", it.ProductID.String()).Msg("cart_line_dropped")
			continue
		}
		price := entry.UnitPrice
		changed := !it.Price.Equal(price)
		if it.Variant != nil {
			vp, ok := entry.Variant(it.Variant.Name, it.Variant.Value)
			if !ok || !vp.Purchasable {
				report.Dropped++
				s.logger.Info().Str("cart_id", c.ID.String()).Str("product_id", it.ProductID.String()).
					Str("variant", it.Variant.Name+"="+it.Variant.Value).Msg("cart_line_dropped")
				continue
			}
			if !vp.PriceAdder.Equal(it.Variant.PriceAdder) {
				v := *it.Variant
				v.PriceAdder = vp.PriceAdder
				it.Variant = &v
				changed = true
			}
		}
		if changed {
			it.Price = price
			report.Updated++
		}
		it.CategoryRef = entry.CategoryRef
		kept = append(kept, it)
	}
	c.Items = kept
	s.metrics.Revalidated("updated", report.Updated)
	s.metrics.Revalidated("dropped", report.Dropped)
	return report, nil
}

func (s *Service) resolveCoupon(ctx context.Context, c *Cart, code string, userID *uuid.UUID) (coupon.Rule, error) {
	totals, err := s.calc.Compute(c.Lines(), c.ShippingMethod, nil)
	if err != nil {
		return coupon.Rule{}, err
	}
	if userID == nil {
		userID = c.UserID
	}
	lines := make([]coupon.Line, 0, len(c.Items))
	for _, it := range c.Items {
		line := coupon.Line{ProductID: it.ProductID}
		entry, err := s.prices.Lookup(ctx, it.ProductID.String())
		if err != nil && !errors.Is(err, pricing.ErrNotInPriceBook) {
			return coupon.Rule{}, err
		}
		if err == nil && entry.CategoryRef != "" {
			if cat, perr := uuid.Parse(entry.CategoryRef); perr == nil {
				line.CategoryID = &cat
			}
		}
		lines = append(lines, line)
	}
	return s.coupons.Resolve(ctx, code, coupon.EligibilityContext{
		UserID:   userID,
		Subtotal: totals.Subtotal,
		Lines:    lines,
	})
}

func isIneligible(err error) bool {
	for _, target := range []error{
		coupon.ErrNotFound, coupon.ErrInactive, coupon.ErrNotStarted, coupon.ErrExpired,
		coupon.ErrUsageLimitReached, coupon.ErrPerUserLimitReached, coupon.ErrMinimumNotMet,
		coupon.ErrMaximumExceeded, coupon.ErrUserNotAllowed, coupon.ErrNotApplicable, coupon.ErrExcludedItem,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
