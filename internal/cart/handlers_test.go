package cart

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-5elm/internal/common"
)

func newTestRouter(f *fixture) http.Handler {
	h := &Handler{Svc: f.svc, Currency: "INR"}
	r := chi.NewRouter()
	r.Route("/carts", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Post("/merge", h.Merge)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/items", h.AddItem)
			r.Delete("/items", h.Clear)
			r.Patch("/items/{itemId}", h.UpdateItem)
			r.Delete("/items/{itemId}", h.RemoveItem)
			r.Put("/shipping", h.SetShipping)
			r.Post("/coupon", h.ApplyCoupon)
			r.Delete("/coupon", h.RemoveCoupon)
			r.Post("/revalidate", h.Revalidate)
			r.Post("/checkout", h.Checkout)
		})
	})
	return r
}

type cartResponse struct {
	Data View `json:"data"`
}

func do(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, cartResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp cartResponse
	if rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func asUser(req *http.Request, id uuid.UUID) *http.Request {
	return req.WithContext(common.WithIdentity(req.Context(), common.Identity{UserID: id}))
}

func TestCartHandlersFlow(t *testing.T) {
	f := newFixture(t, nil)
	router := newTestRouter(f)

	rec, created := do(t, router, httptest.NewRequest(http.MethodPost, "/carts", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, created.Data.AnonID)
	base := "/carts/" + created.Data.ID.String()

	body := `{"productId":"` + f.mug.String() + `","quantity":2}`
	rec, resp := do(t, router, httptest.NewRequest(http.MethodPost, base+"/items", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Data.Items, 1)
	require.Equal(t, "200.00", resp.Data.Totals.Subtotal)
	require.Equal(t, "36.00", resp.Data.Totals.Tax)
	require.Equal(t, "336.00", resp.Data.Totals.Total)
	require.Equal(t, "INR", resp.Data.Totals.Currency)
	require.Equal(t, 2, resp.Data.ItemCount)
	itemID := resp.Data.Items[0].ID.String()

	rec, resp = do(t, router, httptest.NewRequest(http.MethodPut, base+"/shipping", strings.NewReader(`{"method":"express"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "250.00", resp.Data.Totals.Shipping)

	rec, resp = do(t, router, httptest.NewRequest(http.MethodPatch, base+"/items/"+itemID, strings.NewReader(`{"quantity":20}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0.00", resp.Data.Totals.Shipping)

	rec, _ = do(t, router, httptest.NewRequest(http.MethodPost, base+"/checkout", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, router, httptest.NewRequest(http.MethodDelete, base+"/items/"+itemID, nil))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCartHandlersValidation(t *testing.T) {
	f := newFixture(t, nil)
	router := newTestRouter(f)
	c := f.guestCart(t)
	base := "/carts/" + c.ID.String()

	cases := []struct {
		method, path, body string
		status             int
	}{
		{http.MethodPut, base + "/shipping", `{"method":"drone"}`, http.StatusBadRequest},
		{http.MethodPost, base + "/items", `{"productId":"` + f.mug.String() + `","quantity":0}`, http.StatusBadRequest},
		{http.MethodPost, base + "/items", `{"productId":"` + uuid.NewString() + `","quantity":1}`, http.StatusBadRequest},
		{http.MethodPatch, base + "/items/" + uuid.NewString(), `{"quantity":1}`, http.StatusNotFound},
		{http.MethodPost, base + "/coupon", `{"code":"GHOST"}`, http.StatusNotFound},
		{http.MethodPost, base + "/checkout", ``, http.StatusUnprocessableEntity},
		{http.MethodGet, "/carts/" + uuid.NewString(), ``, http.StatusNotFound},
		{http.MethodGet, "/carts/not-a-uuid", ``, http.StatusBadRequest},
		{http.MethodPost, "/carts/merge", `{"cartId":"` + c.ID.String() + `"}`, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec, _ := do(t, router, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestUserCartHiddenFromOthers(t *testing.T) {
	f := newFixture(t, nil)
	router := newTestRouter(f)
	owner := uuid.New()

	rec, created := do(t, router, asUser(httptest.NewRequest(http.MethodPost, "/carts", nil), owner))
	require.Equal(t, http.StatusCreated, rec.Code)
	path := "/carts/" + created.Data.ID.String()

	rec, _ = do(t, router, asUser(httptest.NewRequest(http.MethodGet, path, nil), owner))
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, router, asUser(httptest.NewRequest(http.MethodGet, path, nil), uuid.New()))
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = do(t, router, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMergeHandler(t *testing.T) {
	f := newFixture(t, nil)
	router := newTestRouter(f)
	guest := f.guestCart(t)
	user := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/carts/merge", strings.NewReader(`{"cartId":"`+guest.ID.String()+`"}`))
	rec, resp := do(t, router, asUser(req, user))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEqual(t, guest.ID, resp.Data.ID)
}
