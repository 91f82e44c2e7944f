package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/deskbot/godesk/pkg/logger"
)

// Handler runs one teardown step. It must return when ctx expires.
type Handler func(ctx context.Context)

type hook struct {
	name string
	fn   Handler
}

// Manager collects teardown hooks and runs them concurrently on Shutdown.
type Manager struct {
	hooks []hook
	mu    sync.Mutex
}

func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown registers a named hook. Names only appear in logs.
func (m *Manager) OnShutdown(name string, fn Handler) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Shutdown runs every hook concurrently and waits for all of them or for
// ctx, whichever comes first. ctx should carry a timeout.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	hooks := m.hooks
	m.mu.Unlock()

	if len(hooks) == 0 {
		return
	}

	logger.Infof("shutting down, %d hooks", len(hooks))

	var wg sync.WaitGroup
	wg.Add(len(hooks))
	for _, h := range hooks {
		go func(h hook) {
			defer wg.Done()
			start := time.Now()
			h.fn(ctx)
			logger.Debugf("shutdown hook %q done in %s", h.name, time.Since(start))
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-ctx.Done():
		logger.Warnf("shutdown timed out: %v", ctx.Err())
	}
}
