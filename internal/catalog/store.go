package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-5elm/internal/db"
)

// ErrNotFound is returned for unknown product ids.
var ErrNotFound = errors.New("product not found")

// Product is a catalog entry with its variants.
type Product struct {
	ID          uuid.UUID       `json:"id"`
	CategoryID  *uuid.UUID      `json:"categoryId,omitempty"`
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Active      bool            `json:"active"`
	Variants    []Variant       `json:"variants"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Variant is a purchasable attribute selection of a product.
type Variant struct {
	Name       string          `json:"name"`
	Value      string          `json:"value"`
	PriceAdder decimal.Decimal `json:"priceAdder"`
	Stock      int             `json:"stock"`
}

// InStock reports whether the product can currently be sold.
func (p Product) InStock() bool {
	return p.Active && p.Stock > 0
}

// Store reads products from persistent storage.
type Store interface {
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	// SearchFullText ranks active products against a web-search style query.
	SearchFullText(ctx context.Context, query string, limit, offset int) ([]Product, int64, error)
	// SearchPattern matches name or description case-insensitively.
	SearchPattern(ctx context.Context, query string, limit, offset int) ([]Product, int64, error)
}

// PgStore is the Postgres implementation of Store.
type PgStore struct {
	DB db.DB
}

const productColumns = `p.id, p.category_id, p.name, p.slug, p.description, p.price, p.stock, p.is_active, p.updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p     Product
		cat   pgtype.UUID
		price pgtype.Numeric
	)
	if err := row.Scan(&p.ID, &cat, &p.Name, &p.Slug, &p.Description, &price, &p.Stock, &p.Active, &p.UpdatedAt); err != nil {
		return Product{}, err
	}
	p.CategoryID = db.UUIDPtr(cat)
	p.Price = db.Decimal(price)
	return p, nil
}

func (s PgStore) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("get product: %w", err)
	}
	rows, err := s.DB.Query(ctx, `
		SELECT name, value, price_adder, stock FROM product_variants
		WHERE product_id = $1 ORDER BY name, value`, id)
	if err != nil {
		return Product{}, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()
	p.Variants = []Variant{}
	for rows.Next() {
		var (
			v     Variant
			adder pgtype.Numeric
		)
		if err := rows.Scan(&v.Name, &v.Value, &adder, &v.Stock); err != nil {
			return Product{}, fmt.Errorf("scan variant: %w", err)
		}
		v.PriceAdder = db.Decimal(adder)
		p.Variants = append(p.Variants, v)
	}
	return p, rows.Err()
}

func (s PgStore) SearchFullText(ctx context.Context, query string, limit, offset int) ([]Product, int64, error) {
	const where = `p.is_active AND p.search @@ websearch_to_tsquery('simple', $1)`
	var total int64
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM products p WHERE `+where, query).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count full text: %w", err)
	}
	rows, err := s.DB.Query(ctx, `
		SELECT `+productColumns+` FROM products p WHERE `+where+`
		ORDER BY ts_rank(p.search, websearch_to_tsquery('simple', $1)) DESC, p.name
		LIMIT $2 OFFSET $3`, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("full text search: %w", err)
	}
	items, err := collectProducts(rows)
	return items, total, err
}

func (s PgStore) SearchPattern(ctx context.Context, query string, limit, offset int) ([]Product, int64, error) {
	const where = `p.is_active AND (p.name ILIKE $1 ESCAPE '\' OR p.description ILIKE $1 ESCAPE '\')`
	pattern := "%" + EscapeLike(query) + "%"
	var total int64
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM products p WHERE `+where, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pattern: %w", err)
	}
	rows, err := s.DB.Query(ctx, `
		SELECT `+productColumns+` FROM products p WHERE `+where+`
		ORDER BY p.name LIMIT $2 OFFSET $3`, pattern, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pattern search: %w", err)
	}
	items, err := collectProducts(rows)
	return items, total, err
}

func collectProducts(rows pgx.Rows) ([]Product, error) {
	defer rows.Close()
	items := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike neutralises LIKE wildcards in user input.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}
