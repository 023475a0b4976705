package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-5elm/internal/obs"
)

// Store persists coupons and their redemptions.
type Store interface {
	GetByCode(ctx context.Context, code string) (Rule, error)
	List(ctx context.Context, limit, offset int) ([]Rule, int64, error)
	Create(ctx context.Context, r Rule) (Rule, error)
	CountRedemptions(ctx context.Context, couponID, userID uuid.UUID) (int, error)
	// Redeem records one redemption per cart and bumps used_count atomically.
	// It reports false when the cart had already redeemed the coupon.
	Redeem(ctx context.Context, code string, rd Redemption) (bool, error)
}

// Redemption is a settled coupon use.
type Redemption struct {
	CartID     uuid.UUID
	UserID     *uuid.UUID
	Amount     decimal.Decimal
	RedeemedAt time.Time
}

// Service evaluates and settles coupons.
type Service struct {
	Store               Store
	Now                 func() time.Time
	DefaultPerUserLimit int
	Metrics             *obs.DomainMetrics
	Logger              zerolog.Logger
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) perUserLimit(r Rule) int {
	if r.PerUserLimit != nil {
		return *r.PerUserLimit
	}
	return s.DefaultPerUserLimit
}

// Resolve loads code and checks it against ec. Now, PerUserUsed and PerUserLimit are filled in here.
func (s *Service) Resolve(ctx context.Context, code string, ec EligibilityContext) (Rule, error) {
	if s == nil || s.Store == nil {
		return Rule{}, errors.New("coupon service not configured")
	}
	code = NormalizeCode(code)
	if code == "" {
		s.Metrics.CouponCheck("not_found")
		return Rule{}, ErrNotFound
	}
	rule, err := s.Store.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.Metrics.CouponCheck("not_found")
		}
		return Rule{}, err
	}

	ec.Now = s.now()
	ec.PerUserLimit = s.perUserLimit(rule)
	if ec.UserID != nil && ec.PerUserLimit > 0 {
		used, err := s.Store.CountRedemptions(ctx, rule.ID, *ec.UserID)
		if err != nil {
			return Rule{}, fmt.Errorf("count redemptions: %w", err)
		}
		ec.PerUserUsed = used
	}
	if err := rule.Validate(ec); err != nil {
		s.Metrics.CouponCheck(outcome(err))
		return Rule{}, err
	}
	s.Metrics.CouponCheck("eligible")
	return rule, nil
}

// Get returns the coupon with code.
func (s *Service) Get(ctx context.Context, code string) (Rule, error) {
	return s.Store.GetByCode(ctx, NormalizeCode(code))
}

// List pages through coupons, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Rule, int64, error) {
	return s.Store.List(ctx, limit, offset)
}

// Create validates and stores a new coupon.
func (s *Service) Create(ctx context.Context, r Rule) (Rule, error) {
	r.Code = NormalizeCode(r.Code)
	r.UsedCount = 0
	if err := r.CheckDefinition(); err != nil {
		return Rule{}, err
	}
	created, err := s.Store.Create(ctx, r)
	if err != nil {
		return Rule{}, err
	}
	s.Logger.Info().Str("code", created.Code).Str("kind", string(created.Kind)).Msg("coupon_created")
	return created, nil
}

// Redeem settles a coupon for a checked-out cart. Repeated calls for the same cart are no-ops.
func (s *Service) Redeem(ctx context.Context, code string, cartID uuid.UUID, userID *uuid.UUID, amount decimal.Decimal) error {
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	recorded, err := s.Store.Redeem(ctx, NormalizeCode(code), Redemption{
		CartID:     cartID,
		UserID:     userID,
		Amount:     amount,
		RedeemedAt: s.now(),
	})
	if err != nil {
		return err
	}
	if recorded {
		s.Logger.Info().Str("code", NormalizeCode(code)).Str("cart_id", cartID.String()).Str("amount", amount.StringFixed(2)).Msg("coupon_redeemed")
	}
	return nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrInactive):
		return "inactive"
	case errors.Is(err, ErrNotStarted):
		return "not_started"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrUsageLimitReached):
		return "usage_limit"
	case errors.Is(err, ErrPerUserLimitReached):
		return "per_user_limit"
	case errors.Is(err, ErrMinimumNotMet), errors.Is(err, ErrMaximumExceeded):
		return "order_value"
	case errors.Is(err, ErrUserNotAllowed):
		return "user_not_allowed"
	case errors.Is(err, ErrNotApplicable), errors.Is(err, ErrExcludedItem):
		return "scope"
	default:
		return "error"
	}
}
