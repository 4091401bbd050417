//go:build unit

package barrier_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hugolhafner/extoffset/internal/barrier"
	"github.com/stretchr/testify/require"
)

func TestBarrier_ReleasesAllParties(t *testing.T) {
	b := barrier.New(3)

	var (
		wg       sync.WaitGroup
		released atomic.Int32
		last     atomic.Int32
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, err := b.Await(context.Background())
			require.NoError(t, err)
			if idx == 0 {
				last.Add(1)
			}
			released.Add(1)
		}()
	}

	wg.Wait()
	require.Equal(t, int32(3), released.Load())
	require.Equal(t, int32(1), last.Load())
	require.Zero(t, b.Waiting())
}

func TestBarrier_BlocksUntilLastArrives(t *testing.T) {
	b := barrier.New(2)

	done := make(chan struct{})
	go func() {
		_, _ = b.Await(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return b.Waiting() == 1 }, time.Second, time.Millisecond)

	select {
	case <-done:
		t.Fatal("barrier released with one party missing")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := b.Await(context.Background())
	require.NoError(t, err)
	<-done
}

func TestBarrier_IsCyclic(t *testing.T) {
	b := barrier.New(2)

	for round := 0; round < 3; round++ {
		var wg sync.WaitGroup
		wg.Add(2)
		for i := 0; i < 2; i++ {
			go func() {
				defer wg.Done()
				_, err := b.Await(context.Background())
				require.NoError(t, err)
			}()
		}
		wg.Wait()
	}
}

func TestBarrier_ContextBreaksRound(t *testing.T) {
	b := barrier.New(3)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Await(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool { return b.Waiting() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.Await(ctx)
	require.ErrorIs(t, err, barrier.ErrBroken)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, <-errCh, barrier.ErrBroken)

	_, err = b.Await(context.Background())
	require.ErrorIs(t, err, barrier.ErrBroken)

	b.Reset()
	require.Zero(t, b.Waiting())
}

func TestBarrier_SingleParty(t *testing.T) {
	b := barrier.New(1)

	idx, err := b.Await(context.Background())
	require.NoError(t, err)
	require.Zero(t, idx)
}
