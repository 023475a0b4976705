package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-5elm/internal/cart"
)

type fakeCarts struct {
	stale       []uuid.UUID
	purged      int64
	revalidated []uuid.UUID
	err         error
	gotAge      time.Duration
	gotLimit    int
}

func (f *fakeCarts) Revalidate(_ context.Context, id uuid.UUID) (*cart.Cart, cart.RevalidationReport, error) {
	f.revalidated = append(f.revalidated, id)
	if f.err != nil {
		return nil, cart.RevalidationReport{}, f.err
	}
	return &cart.Cart{ID: id}, cart.RevalidationReport{Updated: 1}, nil
}

func (f *fakeCarts) SweepStale(_ context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	f.gotAge, f.gotLimit = olderThan, limit
	return f.stale, nil
}

func (f *fakeCarts) PurgeExpired(context.Context) (int64, error) { return f.purged, nil }

type fakeQueue struct {
	tasks []*asynq.Task
	seen  map[string]bool
}

func (q *fakeQueue) EnqueueContext(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	key := string(t.Payload())
	if q.seen[key] {
		return nil, asynq.ErrDuplicateTask
	}
	q.seen[key] = true
	q.tasks = append(q.tasks, t)
	return &asynq.TaskInfo{Type: t.Type()}, nil
}

func TestSweepEnqueuesRevalidations(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	carts := &fakeCarts{stale: []uuid.UUID{a, b, a}, purged: 3}
	q := &fakeQueue{seen: map[string]bool{}}
	h := &Handler{Carts: carts, Queue: q, StaleAge: time.Hour, Batch: 50, Logger: zerolog.Nop()}

	require.NoError(t, h.HandleSweep(context.Background(), NewSweepTask()))
	require.Len(t, q.tasks, 2)
	require.Equal(t, time.Hour, carts.gotAge)
	require.Equal(t, 50, carts.gotLimit)

	var p RevalidatePayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &p))
	require.Equal(t, a, p.CartID)
	require.Equal(t, TypeCartRevalidate, q.tasks[0].Type())
}

func TestRevalidateSkipsGoneCarts(t *testing.T) {
	id := uuid.New()
	task, err := NewRevalidateTask(id, 0)
	require.NoError(t, err)

	for _, skip := range []error{cart.ErrNotFound, cart.ErrNotActive} {
		h := &Handler{Carts: &fakeCarts{err: skip}, Logger: zerolog.Nop()}
		require.NoError(t, h.HandleRevalidate(context.Background(), task))
	}

	carts := &fakeCarts{err: errors.New("db down")}
	h := &Handler{Carts: carts, Logger: zerolog.Nop()}
	require.Error(t, h.HandleRevalidate(context.Background(), task))
	require.Equal(t, []uuid.UUID{id}, carts.revalidated)
}

func TestRevalidateRejectsBadPayload(t *testing.T) {
	h := &Handler{Carts: &fakeCarts{}, Logger: zerolog.Nop()}
	err := h.HandleRevalidate(context.Background(), asynq.NewTask(TypeCartRevalidate, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRetryDelayGrows(t *testing.T) {
	first := RetryDelay(0, nil, nil)
	require.GreaterOrEqual(t, first, 800*time.Millisecond)
	require.LessOrEqual(t, first, 1200*time.Millisecond)
	later := RetryDelay(4, nil, nil)
	require.Greater(t, later, first)
}
