package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the requested cart could not be located.
	ErrNotFound = errors.New("cart not found")
	// ErrActiveExists is returned by Save when another active cart already exists for the owner.
	ErrActiveExists = errors.New("active cart already exists")
)

// Store persists carts together with their items.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*Cart, error)
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*Cart, error)
	FindActiveByAnon(ctx context.Context, anonID string) (*Cart, error)
	// Save writes the cart and replaces its item set.
	Save(ctx context.Context, c *Cart) error
	// ListStale returns active, unexpired carts last updated before the cutoff, oldest first.
	ListStale(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
	// DeleteExpired removes active carts whose expiry has passed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
