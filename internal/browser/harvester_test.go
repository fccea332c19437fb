package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewHarvester_DefaultsSlotCountWhenNonPositive(t *testing.T) {
	h := NewHarvester(0, zap.NewNop())
	assert.Equal(t, 2, cap(h.slots))

	h = NewHarvester(-3, zap.NewNop())
	assert.Equal(t, 2, cap(h.slots))
}

func TestHarvester_AcquireBoundsConcurrency(t *testing.T) {
	h := NewHarvester(1, zap.NewNop())

	require.NoError(t, h.acquire(context.Background()))

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err := h.acquire(ctx)
		assert.Error(t, err, "second acquire should block until the slot is released or the context expires")
		close(done)
	}()

	<-done
	h.release()

	require.NoError(t, h.acquire(context.Background()))
	h.release()
}

func TestHarvester_ReleaseFreesSlotForNextAcquire(t *testing.T) {
	h := NewHarvester(2, zap.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := h.acquire(ctx); err == nil {
				time.Sleep(5 * time.Millisecond)
				h.release()
			}
		}()
	}
	wg.Wait()
}
