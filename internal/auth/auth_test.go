package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-5elm/internal/common"
)

var secret = []byte("test-secret")

func signToken(t *testing.T, issuer string, sub string, exp time.Time, roles ...string) string {
	t.Helper()
	b := jwt.NewBuilder().
		Issuer(issuer).
		Audience([]string{"5elm-storefront"}).
		Subject(sub).
		IssuedAt(exp.Add(-time.Hour)).
		Expiration(exp)
	if len(roles) > 0 {
		b = b.Claim(RolesClaim, roles)
	}
	tok, err := b.Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, secret))
	require.NoError(t, err)
	return string(signed)
}

func newVerifier(now time.Time) Verifier {
	return Verifier{Secret: secret, Issuer: "5elm", Audience: "5elm-storefront", Now: func() time.Time { return now }}
}

func TestVerifyReturnsIdentity(t *testing.T) {
	now := time.Now()
	uid := uuid.New()
	raw := signToken(t, "5elm", uid.String(), now.Add(time.Minute), "admin")

	id, err := newVerifier(now).Verify(raw)
	require.NoError(t, err)
	require.Equal(t, uid, id.UserID)
	require.True(t, id.HasRole("admin"))
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	now := time.Now()
	uid := uuid.NewString()
	cases := map[string]string{
		"issuer":    signToken(t, "other", uid, now.Add(time.Minute)),
		"expired":   signToken(t, "5elm", uid, now.Add(-time.Minute)),
		"subject":   signToken(t, "5elm", "not-a-uuid", now.Add(time.Minute)),
		"malformed": "abc.def.ghi",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newVerifier(now).Verify(raw)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	raw := signToken(t, "5elm", uuid.NewString(), now.Add(time.Minute))
	v := newVerifier(now)
	v.Secret = []byte("other-secret")
	_, err := v.Verify(raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareChain(t *testing.T) {
	now := time.Now()
	m := Middleware{Verifier: newVerifier(now)}
	var seen *uuid.UUID
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = common.UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	open := m.Authenticate(final)
	rr := httptest.NewRecorder()
	open.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Nil(t, seen)

	admin := m.Authenticate(RequireRole("admin")(final))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "5elm", uuid.NewString(), now.Add(time.Minute)))
	rr = httptest.NewRecorder()
	admin.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)

	uid := uuid.New()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+signToken(t, "5elm", uid.String(), now.Add(time.Minute), "admin"))
	rr = httptest.NewRecorder()
	admin.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, uid, *seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr = httptest.NewRecorder()
	open.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireAuthRejectsAnonymous(t *testing.T) {
	h := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}
