package obs

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics groups Prometheus collectors for HTTP observability.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// NewHTTPMetrics registers HTTP collectors on reg, reusing any already registered.
func NewHTTPMetrics(namespace string, reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &HTTPMetrics{
		Requests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests handled, by route and status.",
		}, []string{"method", "route", "status"})),
		Duration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route"})),
		InFlight: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Requests currently being served.",
		})),
	}
}

// DomainMetrics counts cart, coupon, search and job outcomes.
// A nil *DomainMetrics is valid and records nothing.
type DomainMetrics struct {
	cartMutations  *prometheus.CounterVec
	couponChecks   *prometheus.CounterVec
	searchQueries  *prometheus.CounterVec
	revalidations  *prometheus.CounterVec
	jobRuns        *prometheus.CounterVec
	recalcDuration prometheus.Histogram
}

// NewDomainMetrics registers the domain collectors on reg.
func NewDomainMetrics(namespace string, reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &DomainMetrics{
		cartMutations: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Cart mutations by operation and result.",
		}, []string{"op", "result"})),
		couponChecks: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_checks_total",
			Help:      "Coupon eligibility checks by result.",
		}, []string{"result"})),
		searchQueries: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_search_total",
			Help:      "Catalog searches by engine and result.",
		}, []string{"engine", "result"})),
		revalidations: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_revalidated_lines_total",
			Help:      "Cart lines touched by revalidation, by outcome.",
		}, []string{"outcome"})),
		jobRuns: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Background task executions by type and result.",
		}, []string{"task", "result"})),
		recalcDuration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cart_recalculate_duration_seconds",
			Help:      "Time spent recomputing cart totals.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005},
		})),
	}
}

func (m *DomainMetrics) CartMutation(op string, err error) {
	if m == nil {
		return
	}
	m.cartMutations.WithLabelValues(op, result(err)).Inc()
}

func (m *DomainMetrics) CouponCheck(outcome string) {
	if m == nil {
		return
	}
	m.couponChecks.WithLabelValues(outcome).Inc()
}

func (m *DomainMetrics) Search(engine string, err error) {
	if m == nil {
		return
	}
	m.searchQueries.WithLabelValues(engine, result(err)).Inc()
}

func (m *DomainMetrics) Revalidated(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.revalidations.WithLabelValues(outcome).Add(float64(n))
}

func (m *DomainMetrics) JobRun(task string, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(task, result(err)).Inc()
}

func (m *DomainMetrics) ObserveRecalculate(d time.Duration) {
	if m == nil {
		return
	}
	m.recalcDuration.Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(fmt.Errorf("register collector: %w", err))
	}
	return c
}
