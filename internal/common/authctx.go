package common

import (
	"context"
	"slices"

	"github.com/google/uuid"
)

type ctxKey string

const identityKey ctxKey = "auth/identity"

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID uuid.UUID
	Roles  []string
}

// HasRole reports whether the identity carries role.
func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// WithIdentity stores the caller identity on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom extracts the caller identity from ctx if present.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// UserID returns the authenticated user id, or nil for anonymous callers.
func UserID(ctx context.Context) *uuid.UUID {
	id, ok := IdentityFrom(ctx)
	if !ok || id.UserID == uuid.Nil {
		return nil
	}
	uid := id.UserID
	return &uid
}
