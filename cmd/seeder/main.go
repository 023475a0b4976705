package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-5elm/internal/coupon"
	"github.com/noah-isme/backend-5elm/internal/db"
	"github.com/noah-isme/backend-5elm/internal/obs"
	"github.com/noah-isme/backend-5elm/internal/pricing"
)

func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger("console", "info", "5elm-seeder", nil)

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.Connect(ctx, dbURL, "5elm-seeder")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	catIDs := seedCategories(ctx, pool, logger)
	seedProducts(ctx, pool, catIDs, logger)
	seedCoupons(ctx, pool, logger)

	logger.Info().Msg("seeding completed")
}

func seedCategories(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) map[string]string {
	categories := []struct {
		Name string
		Slug string
	}{
		{"Furniture", "furniture"},
		{"Lighting", "lighting"},
		{"Decor", "decor"},
		{"Kitchen", "kitchen"},
	}

	logger.Info().Msg("seeding categories")
	ids := make(map[string]string, len(categories))
	for _, c := range categories {
		var id string
		err := pool.QueryRow(ctx, `
			INSERT INTO categories (name, slug)
			VALUES ($1, $2)
			ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
			RETURNING id::text`, c.Name, c.Slug).Scan(&id)
		if err != nil {
			logger.Error().Err(err).Str("slug", c.Slug).Msg("upsert category")
			continue
		}
		ids[c.Slug] = id
	}
	return ids
}

type variantSeed struct {
	Name  string
	Value string
	Adder string
	Stock int
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, catIDs map[string]string, logger zerolog.Logger) {
	products := []struct {
		Name        string
		Slug        string
		Category    string
		Description string
		Price       string
		Stock       int
		Variants    []variantSeed
	}{
		{"Oak Lounge Chair", "oak-lounge-chair", "furniture", "Solid oak frame with wool cushion", "1499.00", 25,
			[]variantSeed{{"finish", "natural", "0", 15}, {"finish", "walnut", "150.00", 10}}},
		{"Linen Sofa", "linen-sofa", "furniture", "Three-seat sofa in washed linen", "3899.00", 8,
			[]variantSeed{{"color", "sand", "0", 5}, {"color", "charcoal", "0", 3}}},
		{"Brass Floor Lamp", "brass-floor-lamp", "lighting", "Adjustable brass reading lamp", "649.50", 40, nil},
		{"Paper Pendant", "paper-pendant", "lighting", "Rice paper pendant shade", "129.99", 120,
			[]variantSeed{{"size", "small", "0", 60}, {"size", "large", "40.00", 60}}},
		{"Ceramic Vase", "ceramic-vase", "decor", "Hand-thrown stoneware vase", "89.00", 75, nil},
		{"Wool Throw", "wool-throw", "decor", "Merino wool throw blanket", "219.00", 0, nil},
		{"Cast Iron Skillet", "cast-iron-skillet", "kitchen", "Pre-seasoned 26cm skillet", "159.00", 60, nil},
	}

	logger.Info().Msg("seeding products")
	for _, p := range products {
		catID, ok := catIDs[p.Category]
		if !ok {
			logger.Warn().Str("category", p.Category).Msg("missing category id")
			continue
		}
		var prodID string
		err := pool.QueryRow(ctx, `
			INSERT INTO products (category_id, name, slug, description, price, stock)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (slug) DO UPDATE SET
				category_id = EXCLUDED.category_id,
				description = EXCLUDED.description,
				price = EXCLUDED.price,
				stock = EXCLUDED.stock,
				updated_at = now()
			RETURNING id::text`,
			catID, p.Name, p.Slug, p.Description, db.Numeric(decimal.RequireFromString(p.Price)), p.Stock,
		).Scan(&prodID)
		if err != nil {
			logger.Error().Err(err).Str("slug", p.Slug).Msg("upsert product")
			continue
		}
		for _, v := range p.Variants {
			_, err := pool.Exec(ctx, `
				INSERT INTO product_variants (product_id, name, value, price_adder, stock)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (product_id, name, value) DO UPDATE SET
					price_adder = EXCLUDED.price_adder,
					stock = EXCLUDED.stock`,
				prodID, v.Name, v.Value, db.Numeric(decimal.RequireFromString(v.Adder)), v.Stock)
			if err != nil {
				logger.Error().Err(err).Str("slug", p.Slug).Str("variant", v.Name+"="+v.Value).Msg("upsert variant")
			}
		}
	}
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) {
	limit := func(n int) *int { return &n }
	now := time.Now().UTC()
	yearOut := now.AddDate(1, 0, 0)

	rules := []coupon.Rule{
		{
			Code:          "SAVE10",
			Description:   "10% off, capped at 500",
			Kind:          pricing.KindPercentage,
			Magnitude:     decimal.NewFromInt(10),
			MaxDiscount:   decimal.NewNullDecimal(decimal.NewFromInt(500)),
			MinOrderValue: decimal.NewNullDecimal(decimal.NewFromInt(500)),
			Active:        true,
			EndsAt:        &yearOut,
		},
		{
			Code:          "FLAT200",
			Description:   "200 off orders from 1000",
			Kind:          pricing.KindFixed,
			Magnitude:     decimal.NewFromInt(200),
			MinOrderValue: decimal.NewNullDecimal(decimal.NewFromInt(1000)),
			Active:        true,
			UsageLimit:    limit(1000),
		},
		{
			Code:        "SHIPFREE",
			Description: "Free shipping on any order",
			Kind:        pricing.KindFreeShipping,
			Active:      true,
		},
		{
			Code:               "PENDANT3",
			Description:        "Buy 2 pendants, get 1 free",
			Kind:               pricing.KindBuyXGetY,
			BuyQty:             2,
			GetQty:             1,
			GetDiscountPercent: decimal.NewFromInt(100),
			Active:             true,
			PerUserLimit:       limit(3),
		},
	}

	svc := &coupon.Service{Store: coupon.PgStore{DB: pool}, Logger: logger}
	logger.Info().Msg("seeding coupons")
	for _, r := range rules {
		if _, err := svc.Create(ctx, r); err != nil {
			if errors.Is(err, coupon.ErrDuplicateCode) {
				logger.Info().Str("code", r.Code).Msg("coupon exists")
				continue
			}
			logger.Error().Err(err).Str("code", r.Code).Msg("create coupon")
		}
	}
}
