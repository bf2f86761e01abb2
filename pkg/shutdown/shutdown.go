package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/iqblitz/pkg/logger"
)

// Handler releases one resource. It should return once ctx is done.
type Handler func(ctx context.Context) error

type namedHandler struct {
	name    string
	handler Handler
}

// Manager runs registered cleanup callbacks concurrently on Shutdown.
type Manager struct {
	callbacks []namedHandler
	mu        sync.Mutex
	once      sync.Once
}

func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown registers a named callback.
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, handler: handler})
}

// Shutdown runs every callback once and blocks until they finish or ctx
// expires. Later calls are no-ops.
func (m *Manager) Shutdown(ctx context.Context) {
	m.once.Do(func() { m.run(ctx) })
}

func (m *Manager) run(ctx context.Context) {
	m.mu.Lock()
	callbacks := m.callbacks
	m.mu.Unlock()

	if len(callbacks) == 0 {
		logger.Info("no shutdown callbacks registered")
		return
	}
	logger.Infof("graceful shutdown: %d callbacks", len(callbacks))

	var wg sync.WaitGroup
	wg.Add(len(callbacks))
	for _, cb := range callbacks {
		go func(cb namedHandler) {
			defer wg.Done()
			if err := cb.handler(ctx); err != nil {
				logger.Warnf("shutdown %s: %v", cb.name, err)
			}
		}(cb)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all shutdown callbacks finished")
	case <-ctx.Done():
		logger.Warnf("shutdown timed out: %v", ctx.Err())
	}
}
