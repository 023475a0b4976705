package obs_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-5elm/internal/obs"
)

func TestHTTPMetricsUseRoutePattern(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("fiveelm", registry)

	r := chi.NewRouter()
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	r.Get("/api/v1/carts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/carts/42", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rr.Code)
	}

	total := testutil.ToFloat64(metrics.Requests.WithLabelValues(http.MethodGet, "/api/v1/carts/{id}", "204"))
	if total != 1 {
		t.Fatalf("expected counter to be 1, got %v", total)
	}
	if samples := testutil.CollectAndCount(metrics.Duration); samples == 0 {
		t.Fatalf("expected histogram sample")
	}
	if val := testutil.ToFloat64(metrics.InFlight); val != 0 {
		t.Fatalf("expected no in-flight requests, got %v", val)
	}
}

func TestNewHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("fiveelm", registry)
	second := obs.NewHTTPMetrics("fiveelm", registry)
	require.Same(t, first.Requests, second.Requests)
}

func TestDomainMetricsNilSafe(t *testing.T) {
	var m *obs.DomainMetrics
	m.CartMutation("add_item", nil)
	m.CouponCheck("expired")
	m.Search("fulltext", errors.New("boom"))
}

func TestDomainMetricsCount(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := obs.NewDomainMetrics("fiveelm", registry)
	m.CartMutation("add_item", nil)
	m.CartMutation("add_item", errors.New("boom"))
	m.Revalidated("dropped", 3)

	require.Equal(t, 2, testutil.CollectAndCount(registry, "fiveelm_cart_mutations_total"))
	require.Equal(t, 1, testutil.CollectAndCount(registry, "fiveelm_cart_revalidated_lines_total"))
}

func TestRequestLoggerWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.NewLogger("json", "info", "5elm-cart", &buf)

	r := chi.NewRouter()
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Post("/api/v1/carts/{id}/items", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/carts/1/items", nil))

	var evt map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &evt))
	require.Equal(t, "http_request", evt["message"])
	require.Equal(t, "warn", evt["level"])
	require.Equal(t, "/api/v1/carts/{id}/items", evt["route"])
	require.Equal(t, "5elm-cart", evt["service"])
	require.EqualValues(t, 400, evt["status"])
}
