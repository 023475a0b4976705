package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-5elm/internal/obs"
	"github.com/noah-isme/backend-5elm/internal/pricing"
	"github.com/noah-isme/backend-5elm/internal/resilience"
)

const (
	EngineFullText = "fulltext"
	EnginePattern  = "pattern"
)

// Service serves product reads and implements pricing.PriceBook.
type Service struct {
	store   Store
	cache   *Cache
	breaker *resilience.Breaker
	metrics *obs.DomainMetrics
	logger  zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store   Store
	Cache   *Cache
	Breaker *resilience.Breaker
	Metrics *obs.DomainMetrics
	Logger  zerolog.Logger
}

// SearchResult is one page of search hits.
type SearchResult struct {
	Items  []Product
	Total  int64
	Engine string
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog: store is required")
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewBreaker(resilience.Options{Name: "catalog_search", Logger: cfg.Logger})
	}
	return &Service{
		store:   cfg.Store,
		cache:   cfg.Cache,
		breaker: cfg.Breaker,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}, nil
}

func productKey(id uuid.UUID) string { return "product:" + id.String() }

// GetProduct returns a product, consulting the cache first.
func (s *Service) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	key := productKey(id)
	var cached Product
	if ok, err := s.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("catalog_cache_read_failed")
	}
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if err := s.cache.SetJSON(ctx, key, p); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("catalog_cache_write_failed")
	}
	return p, nil
}

// Invalidate drops the cached copy of a product after it changes.
func (s *Service) Invalidate(ctx context.Context, id uuid.UUID) error {
	return s.cache.Delete(ctx, productKey(id))
}

// Lookup resolves the current price of productRef.
func (s *Service) Lookup(ctx context.Context, productRef string) (pricing.PriceEntry, error) {
	id, err := uuid.Parse(productRef)
	if err != nil {
		return pricing.PriceEntry{}, fmt.Errorf("%w: %s", pricing.ErrNotInPriceBook, productRef)
	}
	p, err := s.GetProduct(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return pricing.PriceEntry{}, fmt.Errorf("%w: %s", pricing.ErrNotInPriceBook, productRef)
	}
	if err != nil {
		return pricing.PriceEntry{}, err
	}
	entry := pricing.PriceEntry{
		ProductRef:  p.ID.String(),
		UnitPrice:   p.Price,
		Purchasable: p.InStock(),
		Variants:    make([]pricing.VariantPrice, 0, len(p.Variants)),
	}
	if p.CategoryID != nil {
		entry.CategoryRef = p.CategoryID.String()
	}
	for _, v := range p.Variants {
		entry.Variants = append(entry.Variants, pricing.VariantPrice{
			Name:        v.Name,
			Value:       v.Value,
			PriceAdder:  v.PriceAdder,
			Purchasable: entry.Purchasable && v.Stock > 0,
		})
	}
	return entry, nil
}

// Search runs full-text search and falls back to pattern matching when it fails or its breaker is open.
func (s *Service) Search(ctx context.Context, query string, limit, offset int) (SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchResult{Items: []Product{}, Engine: EngineFullText}, nil
	}
	var (
		items []Product
		total int64
	)
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		items, total, err = s.store.SearchFullText(ctx, query, limit, offset)
		return err
	})
	s.metrics.Search(EngineFullText, err)
	if err == nil {
		return SearchResult{Items: items, Total: total, Engine: EngineFullText}, nil
	}
	if ctx.Err() != nil {
		return SearchResult{}, ctx.Err()
	}
	s.logger.Warn().Err(err).Str("query", query).Msg("search_fallback")

	items, total, err = s.store.SearchPattern(ctx, query, limit, offset)
	s.metrics.Search(EnginePattern, err)
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Items: items, Total: total, Engine: EnginePattern}, nil
}
