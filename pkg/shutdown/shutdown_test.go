package shutdown

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManager_RunsAllCallbacksOnce(t *testing.T) {
	m := NewManager()
	var calls atomic.Int32
	m.OnShutdown("a", func(context.Context) error { calls.Add(1); return nil })
	m.OnShutdown("b", func(context.Context) error { calls.Add(1); return errors.New("already closed") })

	m.Shutdown(context.Background())
	m.Shutdown(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestManager_Timeout(t *testing.T) {
	m := NewManager()
	m.OnShutdown("stuck", func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	m.Shutdown(ctx)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestManager_Empty(t *testing.T) {
	assert.NotPanics(t, func() { NewManager().Shutdown(context.Background()) })
}
