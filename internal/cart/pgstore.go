package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/backend-5elm/internal/db"
	"github.com/noah-isme/backend-5elm/internal/pricing"
)

// PgStore is the Postgres implementation of Store.
type PgStore struct {
	DB db.DB
}

const cartColumns = `id, user_id, anon_id, status, shipping_method, applied_coupon, totals, created_at, updated_at, expires_at`

func (s PgStore) Get(ctx context.Context, id uuid.UUID) (*Cart, error) {
	return s.findOne(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, id)
}

func (s PgStore) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	return s.findOne(ctx, `SELECT `+cartColumns+` FROM carts WHERE user_id = $1 AND status = 'active'`, userID)
}

func (s PgStore) FindActiveByAnon(ctx context.Context, anonID string) (*Cart, error) {
	return s.findOne(ctx, `SELECT `+cartColumns+` FROM carts WHERE anon_id = $1 AND status = 'active'`, anonID)
}

func (s PgStore) findOne(ctx context.Context, sql string, arg any) (*Cart, error) {
	var (
		c      Cart
		userID pgtype.UUID
		anonID pgtype.Text
		method string
		coupon []byte
		totals []byte
	)
	err := s.DB.QueryRow(ctx, sql, arg).Scan(&c.ID, &userID, &anonID, &c.Status, &method, &coupon, &totals,
		&c.CreatedAt, &c.UpdatedAt, &c.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	c.UserID = db.UUIDPtr(userID)
	c.AnonID = anonID.String
	c.ShippingMethod = pricing.ShippingMethod(method)
	if len(coupon) > 0 && string(coupon) != "null" {
		c.Coupon = &AppliedCoupon{}
		if err := json.Unmarshal(coupon, c.Coupon); err != nil {
			return nil, fmt.Errorf("decode applied coupon: %w", err)
		}
	}
	if len(totals) > 0 {
		if err := json.Unmarshal(totals, &c.Totals); err != nil {
			return nil, fmt.Errorf("decode totals: %w", err)
		}
	}

	rows, err := s.DB.Query(ctx, `
		SELECT id, product_id, category_ref, quantity, variant, unit_price, added_at
		FROM cart_items WHERE cart_id = $1 ORDER BY position`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("load cart items: %w", err)
	}
	defer rows.Close()
	c.Items = []Item{}
	for rows.Next() {
		var (
			it      Item
			variant []byte
			price   pgtype.Numeric
		)
		if err := rows.Scan(&it.ID, &it.ProductID, &it.CategoryRef, &it.Quantity, &variant, &price, &it.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		if len(variant) > 0 && string(variant) != "null" {
			it.Variant = &pricing.Variant{}
			if err := json.Unmarshal(variant, it.Variant); err != nil {
				return nil, fmt.Errorf("decode variant: %w", err)
			}
		}
		it.Price = db.Decimal(price)
		c.Items = append(c.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s PgStore) Save(ctx context.Context, c *Cart) error {
	var coupon []byte
	if c.Coupon != nil {
		raw, err := json.Marshal(c.Coupon)
		if err != nil {
			return fmt.Errorf("encode applied coupon: %w", err)
		}
		coupon = raw
	}
	totals, err := json.Marshal(c.Totals)
	if err != nil {
		return fmt.Errorf("encode totals: %w", err)
	}
	anonID := pgtype.Text{String: c.AnonID, Valid: c.AnonID != ""}

	err = pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO carts (`+cartColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				anon_id = EXCLUDED.anon_id,
				status = EXCLUDED.status,
				shipping_method = EXCLUDED.shipping_method,
				applied_coupon = EXCLUDED.applied_coupon,
				totals = EXCLUDED.totals,
				updated_at = EXCLUDED.updated_at,
				expires_at = EXCLUDED.expires_at`,
			c.ID, db.UUID(c.UserID), anonID, c.Status, string(c.ShippingMethod), coupon, totals,
			c.CreatedAt, c.UpdatedAt, c.ExpiresAt,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, c.ID); err != nil {
			return err
		}
		if len(c.Items) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for pos, it := range c.Items {
			var variant []byte
			if it.Variant != nil {
				raw, err := json.Marshal(it.Variant)
				if err != nil {
					return err
				}
				variant = raw
			}
			batch.Queue(`
				INSERT INTO cart_items (id, cart_id, position, product_id, category_ref, quantity, variant, unit_price, added_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				it.ID, c.ID, pos, it.ProductID, it.CategoryRef, it.Quantity, variant, db.Numeric(it.Price), it.AddedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		if db.UniqueViolation(err, "carts_active_user_idx") || db.UniqueViolation(err, "carts_active_anon_idx") {
			return ErrActiveExists
		}
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func (s PgStore) ListStale(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id FROM carts
		WHERE status = 'active' AND updated_at < $1 AND expires_at > now()
		ORDER BY updated_at LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale carts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan stale carts: %w", err)
	}
	return ids, nil
}

func (s PgStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.DB.Exec(ctx, `DELETE FROM carts WHERE status = 'active' AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired carts: %w", err)
	}
	return tag.RowsAffected(), nil
}
