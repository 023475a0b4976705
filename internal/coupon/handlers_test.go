package coupon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-5elm/internal/common"
)

func newRouter(svc *Service) http.Handler {
	h := &Handler{Svc: svc}
	r := chi.NewRouter()
	r.Post("/admin/coupons", h.Create)
	r.Get("/admin/coupons", h.List)
	r.Get("/admin/coupons/{code}", h.Get)
	return r
}

func TestCreateHandler(t *testing.T) {
	store := newMemStore()
	router := newRouter(newService(store))

	body := `{"code":"spring","kind":"free-shipping","minOrderValue":"100"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/coupons", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Data View `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "SPRING", resp.Data.Code)
	require.Equal(t, "free_shipping", string(resp.Data.Kind))
	require.True(t, resp.Data.Active)
	require.Equal(t, "100", resp.Data.MinOrderValue.Decimal.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/coupons", strings.NewReader(body)))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateHandlerRejectsBadPayloads(t *testing.T) {
	router := newRouter(newService(newMemStore()))
	cases := map[string]string{
		"unknown kind":  `{"code":"X","kind":"bogus"}`,
		"missing code":  `{"kind":"fixed","magnitude":"5"}`,
		"invalid rule":  `{"code":"X","kind":"percentage","magnitude":"0"}`,
		"unknown field": `{"code":"X","kind":"fixed","magnitude":"5","stack":true}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/coupons", strings.NewReader(body)))
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestGetAndListHandlers(t *testing.T) {
	store := newMemStore()
	svc := newService(store)
	_, err := svc.Create(context.Background(), activeRule())
	require.NoError(t, err)
	router := newRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/coupons/save10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/coupons/NOPE", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "COUPON_NOT_FOUND")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/coupons?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []View `json:"data"`
		Meta struct {
			Total int64 `json:"total"`
			Limit int   `json:"limit"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	require.EqualValues(t, 1, resp.Meta.Total)
	require.Equal(t, 5, resp.Meta.Limit)
}

func TestHTTPErrorEligibility(t *testing.T) {
	err := HTTPError(ErrExpired)
	rec := httptest.NewRecorder()
	common.WriteError(rec, err)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), `"reason":"expired"`)
}
