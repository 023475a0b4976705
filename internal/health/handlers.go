package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-5elm/internal/common"
)

// Probe checks a single dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Postgres probes a pgx pool.
func Postgres(p Pinger) Probe {
	return Probe{Name: "postgres", Check: p.Ping}
}

// Redis probes a go-redis client.
func Redis(c *redis.Client) Probe {
	return Probe{Name: "redis", Check: func(ctx context.Context) error { return c.Ping(ctx).Err() }}
}

// Handler serves liveness and readiness endpoints.
type Handler struct {
	Probes  []Probe
	Timeout time.Duration

	draining atomic.Bool
}

// Drain makes readiness fail so load balancers stop routing before shutdown.
func (h *Handler) Drain() { h.draining.Store(true) }

// Live reports process liveness.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every probe concurrently and reports 503 if any fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	results := make(map[string]string, len(h.Probes))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range h.Probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			status := "ok"
			if err := p.Check(ctx); err != nil {
				status = err.Error()
			}
			mu.Lock()
			results[p.Name] = status
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	code := http.StatusOK
	for _, status := range results {
		if status != "ok" {
			code = http.StatusServiceUnavailable
			break
		}
	}
	common.JSON(w, code, results)
}
