package coupon

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/backend-5elm/internal/db"
	"github.com/noah-isme/backend-5elm/internal/pricing"
)

const couponColumns = `id, code, description, kind, magnitude, max_discount, min_order_value, max_order_value,
	buy_qty, get_qty, get_discount_percent, is_active, starts_at, ends_at, usage_limit, used_count,
	per_user_limit, allowed_user_ids, allowed_category_ids, allowed_product_ids,
	excluded_category_ids, excluded_product_ids, created_at`

// PgStore is the Postgres implementation of Store.
type PgStore struct {
	DB db.DB
}

func scanRule(row pgx.Row) (Rule, error) {
	var (
		r                                   Rule
		kind                                string
		magnitude, getPct                   pgtype.Numeric
		maxDiscount, minOrder, maxOrder     pgtype.Numeric
		startsAt, endsAt                    pgtype.Timestamptz
		usageLimit, perUserLimit            pgtype.Int4
		users, cats, prods, exCats, exProds []pgtype.UUID
	)
	err := row.Scan(&r.ID, &r.Code, &r.Description, &kind, &magnitude, &maxDiscount, &minOrder, &maxOrder,
		&r.BuyQty, &r.GetQty, &getPct, &r.Active, &startsAt, &endsAt, &usageLimit, &r.UsedCount,
		&perUserLimit, &users, &cats, &prods, &exCats, &exProds, &r.CreatedAt)
	if err != nil {
		return Rule{}, err
	}
	r.Kind = pricing.PromotionKind(kind)
	r.Magnitude = db.Decimal(magnitude)
	r.GetDiscountPercent = db.Decimal(getPct)
	r.MaxDiscount = db.NullDecimal(maxDiscount)
	r.MinOrderValue = db.NullDecimal(minOrder)
	r.MaxOrderValue = db.NullDecimal(maxOrder)
	r.StartsAt = db.TimePtr(startsAt)
	r.EndsAt = db.TimePtr(endsAt)
	r.UsageLimit = intPtr(usageLimit)
	r.PerUserLimit = intPtr(perUserLimit)
	r.AllowedUsers = db.FromUUIDs(users)
	r.AllowedCategories = db.FromUUIDs(cats)
	r.AllowedProducts = db.FromUUIDs(prods)
	r.ExcludedCategories = db.FromUUIDs(exCats)
	r.ExcludedProducts = db.FromUUIDs(exProds)
	return r, nil
}

func (s PgStore) GetByCode(ctx context.Context, code string) (Rule, error) {
	r, err := scanRule(s.DB.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Rule{}, ErrNotFound
	}
	if err != nil {
		return Rule{}, fmt.Errorf("get coupon: %w", err)
	}
	return r, nil
}

func (s PgStore) List(ctx context.Context, limit, offset int) ([]Rule, int64, error) {
	var total int64
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM coupons`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count coupons: %w", err)
	}
	rows, err := s.DB.Query(ctx, `SELECT `+couponColumns+` FROM coupons ORDER BY created_at DESC, code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()
	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan coupon: %w", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func (s PgStore) Create(ctx context.Context, r Rule) (Rule, error) {
	created, err := scanRule(s.DB.QueryRow(ctx, `
		INSERT INTO coupons (code, description, kind, magnitude, max_discount, min_order_value, max_order_value,
			buy_qty, get_qty, get_discount_percent, is_active, starts_at, ends_at, usage_limit, per_user_limit,
			allowed_user_ids, allowed_category_ids, allowed_product_ids, excluded_category_ids, excluded_product_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING `+couponColumns,
		r.Code, r.Description, string(r.Kind), db.Numeric(r.Magnitude), db.NullNumeric(r.MaxDiscount),
		db.NullNumeric(r.MinOrderValue), db.NullNumeric(r.MaxOrderValue),
		r.BuyQty, r.GetQty, db.Numeric(r.GetDiscountPercent), r.Active,
		db.Timestamptz(r.StartsAt), db.Timestamptz(r.EndsAt), int4(r.UsageLimit), int4(r.PerUserLimit),
		db.UUIDs(r.AllowedUsers), db.UUIDs(r.AllowedCategories), db.UUIDs(r.AllowedProducts),
		db.UUIDs(r.ExcludedCategories), db.UUIDs(r.ExcludedProducts),
	))
	if err != nil {
		if db.UniqueViolation(err, "coupons_code_key") {
			return Rule{}, ErrDuplicateCode
		}
		return Rule{}, fmt.Errorf("create coupon: %w", err)
	}
	return created, nil
}

func (s PgStore) CountRedemptions(ctx context.Context, couponID, userID uuid.UUID) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx,
		`SELECT count(*) FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2`,
		couponID, userID).Scan(&n)
	return n, err
}

func (s PgStore) Redeem(ctx context.Context, code string, rd Redemption) (bool, error) {
	recorded := false
	err := pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		var (
			id         uuid.UUID
			usageLimit pgtype.Int4
			used       int
		)
		err := tx.QueryRow(ctx, `SELECT id, usage_limit, used_count FROM coupons WHERE code = $1 FOR UPDATE`, code).
			Scan(&id, &usageLimit, &used)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO coupon_redemptions (coupon_id, cart_id, user_id, amount, redeemed_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (coupon_id, cart_id) DO NOTHING`,
			id, rd.CartID, db.UUID(rd.UserID), db.Numeric(rd.Amount), rd.RedeemedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if usageLimit.Valid && used >= int(usageLimit.Int32) {
			return ErrUsageLimitReached
		}
		if _, err := tx.Exec(ctx, `UPDATE coupons SET used_count = used_count + 1 WHERE id = $1`, id); err != nil {
			return err
		}
		recorded = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUsageLimitReached) {
			return false, err
		}
		return false, fmt.Errorf("redeem coupon: %w", err)
	}
	return recorded, nil
}

func intPtr(v pgtype.Int4) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int32)
	return &n
}

func int4(v *int) pgtype.Int4 {
	if v == nil {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(*v), Valid: true}
}
