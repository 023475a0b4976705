// Package jobs runs background cart maintenance on asynq.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-5elm/internal/cart"
	"github.com/noah-isme/backend-5elm/internal/obs"
	"github.com/noah-isme/backend-5elm/internal/resilience"
)

const (
	TypeCartSweep      = "cart:sweep"
	TypeCartRevalidate = "cart:revalidate"

	QueueMaintenance = "maintenance"
)

// RevalidatePayload identifies the cart to revalidate.
type RevalidatePayload struct {
	CartID uuid.UUID `json:"cart_id"`
}

// NewRevalidateTask builds a cart:revalidate task. Duplicate tasks for the same cart
// are suppressed while one is pending.
func NewRevalidateTask(id uuid.UUID, unique time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(RevalidatePayload{CartID: id})
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueMaintenance), asynq.MaxRetry(5), asynq.Timeout(30 * time.Second)}
	if unique > 0 {
		opts = append(opts, asynq.Unique(unique))
	}
	return asynq.NewTask(TypeCartRevalidate, payload, opts...), nil
}

// NewSweepTask builds the periodic cart:sweep task.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TypeCartSweep, nil, asynq.Queue(QueueMaintenance), asynq.MaxRetry(1), asynq.Timeout(5*time.Minute))
}

// Carts is the slice of the cart service the jobs need.
type Carts interface {
	Revalidate(ctx context.Context, id uuid.UUID) (*cart.Cart, cart.RevalidationReport, error)
	SweepStale(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Handler processes cart maintenance tasks.
type Handler struct {
	Carts    Carts
	Queue    Enqueuer
	StaleAge time.Duration
	Batch    int
	Logger   zerolog.Logger
	Metrics  *obs.DomainMetrics
}

// Register mounts the handlers on mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeCartSweep, h.HandleSweep)
	mux.HandleFunc(TypeCartRevalidate, h.HandleRevalidate)
}

// HandleSweep purges expired carts and fans out one revalidation per stale cart.
func (h *Handler) HandleSweep(ctx context.Context, _ *asynq.Task) (err error) {
	defer func() { h.Metrics.JobRun(TypeCartSweep, err) }()

	purged, err := h.Carts.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("purge expired carts: %w", err)
	}
	ids, err := h.Carts.SweepStale(ctx, h.StaleAge, h.Batch)
	if err != nil {
		return fmt.Errorf("list stale carts: %w", err)
	}
	enqueued, duplicate := 0, 0
	for _, id := range ids {
		task, err := NewRevalidateTask(id, h.StaleAge)
		if err != nil {
			return err
		}
		if _, err := h.Queue.EnqueueContext(ctx, task); err != nil {
			if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
				duplicate++
				continue
			}
			return fmt.Errorf("enqueue revalidate %s: %w", id, err)
		}
		enqueued++
	}
	h.Logger.Info().
		Int64("purged", purged).
		Int("stale", len(ids)).
		Int("enqueued", enqueued).
		Int("duplicate", duplicate).
		Msg("cart_sweep_done")
	return nil
}

// HandleRevalidate revalidates one cart. Carts that are gone or no longer active are skipped.
func (h *Handler) HandleRevalidate(ctx context.Context, t *asynq.Task) (err error) {
	defer func() { h.Metrics.JobRun(TypeCartRevalidate, err) }()

	var p RevalidatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	_, report, err := h.Carts.Revalidate(ctx, p.CartID)
	switch {
	case errors.Is(err, cart.ErrNotFound), errors.Is(err, cart.ErrNotActive):
		h.Logger.Debug().Str("cart_id", p.CartID.String()).Err(err).Msg("cart_revalidate_skipped")
		return nil
	case err != nil:
		return fmt.Errorf("revalidate cart %s: %w", p.CartID, err)
	}
	h.Logger.Info().
		Str("cart_id", p.CartID.String()).
		Int("updated", report.Updated).
		Int("dropped", report.Dropped).
		Msg("cart_revalidated")
	return nil
}

// RetryDelay backs off exponentially from one second with 20% jitter.
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	return resilience.Backoff(time.Second, n+1, 0.2)
}

// RegisterSchedule adds the periodic sweep to scheduler.
func RegisterSchedule(scheduler *asynq.Scheduler, cronspec string) (string, error) {
	if cronspec == "" {
		cronspec = "@every 15m"
	}
	return scheduler.Register(cronspec, NewSweepTask())
}
