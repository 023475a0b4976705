package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-5elm/internal/common"
)

// RolesClaim is the private claim carrying the caller's roles.
const RolesClaim = "roles"

var ErrInvalidToken = errors.New("auth: invalid token")

// Verifier checks HS256 access tokens minted by the storefront identity service.
type Verifier struct {
	Secret    []byte
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Now       func() time.Time
}

func (v Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Verify parses raw, checks its signature and registered claims, and returns the caller identity.
func (v Verifier) Verify(raw string) (common.Identity, error) {
	if len(v.Secret) == 0 {
		return common.Identity{}, errors.New("auth: verifier secret not configured")
	}
	tok, err := jwt.ParseString(raw, jwt.WithKey(jwa.HS256, v.Secret), jwt.WithValidate(false))
	if err != nil {
		return common.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(v.now)),
		jwt.WithAcceptableSkew(v.ClockSkew),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}
	if err := jwt.Validate(tok, opts...); err != nil {
		return common.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	uid, err := uuid.Parse(tok.Subject())
	if err != nil {
		return common.Identity{}, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	return common.Identity{UserID: uid, Roles: rolesOf(tok)}, nil
}

func rolesOf(tok jwt.Token) []string {
	raw, ok := tok.Get(RolesClaim)
	if !ok {
		return nil
	}
	switch vals := raw.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, v := range vals {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(vals)
	default:
		return nil
	}
}
