package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuxDispatch(t *testing.T) {
	mux := NewMux()

	var got Job
	mux.Handle(TypeRecomputeComplexity, func(ctx context.Context, job Job) error {
		got = job
		return nil
	})

	err := mux.Dispatch(context.Background(), Job{Type: TypeRecomputeComplexity, Payload: "attack-1"})
	require.NoError(t, err)
	assert.Equal(t, TypeRecomputeComplexity, got.Type)
	assert.Equal(t, "attack-1", got.Payload)
}

func TestMuxDispatchUnknownType(t *testing.T) {
	mux := NewMux()

	err := mux.Dispatch(context.Background(), Job{Type: Type("bogus"), Payload: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler registered")
}

func TestMuxDispatchHandlerError(t *testing.T) {
	mux := NewMux()
	want := errors.New("boom")
	mux.Handle(TypeSyncHashListCount, func(ctx context.Context, job Job) error {
		return want
	})

	err := mux.Dispatch(context.Background(), Job{Type: TypeSyncHashListCount})
	assert.ErrorIs(t, err, want)
}

func TestLocalRunsEnqueuedJobs(t *testing.T) {
	mux := NewMux()
	var handled int32
	done := make(chan struct{}, 8)
	mux.Handle(TypeRefreshCampaignETA, func(ctx context.Context, job Job) error {
		atomic.AddInt32(&handled, 1)
		done <- struct{}{}
		return nil
	})

	l := NewLocal(mux, 2, 8)
	l.Start()
	defer l.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Enqueue(context.Background(), TypeRefreshCampaignETA, "campaign-1"))
	}

	for i := 0; i < 5; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for job %d of 5", i+1)
		}
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&handled))
}

func TestLocalStopDrainsQueue(t *testing.T) {
	mux := NewMux()
	var handled int32
	mux.Handle(TypeSyncHashListCount, func(ctx context.Context, job Job) error {
		atomic.AddInt32(&handled, 1)
		return nil
	})

	l := NewLocal(mux, 1, 8)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Enqueue(context.Background(), TypeSyncHashListCount, "7"))
	}
	l.Start()
	l.Stop()

	assert.Equal(t, int32(3), atomic.LoadInt32(&handled))
}

func TestLocalEnqueueAfterStop(t *testing.T) {
	l := NewLocal(NewMux(), 1, 1)
	l.Start()
	l.Stop()

	err := l.Enqueue(context.Background(), TypeRecomputeComplexity, "attack-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped")
}

func TestLocalEnqueueCancelledContext(t *testing.T) {
	// Unstarted runner with a full queue forces Enqueue to block on ctx.
	l := NewLocal(NewMux(), 1, 1)
	require.NoError(t, l.Enqueue(context.Background(), TypeRecomputeComplexity, "a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Enqueue(ctx, TypeRecomputeComplexity, "b")
	assert.ErrorIs(t, err, context.Canceled)
}
