package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/actorkit/actorkit/pkg/logging"
)

// Manager coordinates graceful teardown of an actor or daemon.
// Registered functions run in reverse order (LIFO).
type Manager struct {
	teardownFuncs []func(context.Context) error
	mu            sync.Mutex
	timeout       time.Duration
	doneChan      chan struct{}
	sigChan       chan os.Signal
	once          sync.Once
	shutdownOnce  sync.Once
	log           *logging.Logger
}

// New creates a new shutdown manager. The manager registers for
// SIGTERM/SIGINT once and unregisters when Shutdown runs.
func New(timeout time.Duration, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewLogger(logging.INFO, false)
	}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	return &Manager{
		teardownFuncs: make([]func(context.Context) error, 0),
		timeout:       timeout,
		doneChan:      make(chan struct{}),
		sigChan:       sigChan,
		log:           log,
	}
}

// Register adds a teardown function
func (m *Manager) Register(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownFuncs = append(m.teardownFuncs, fn)
}

// Signals returns the manager's termination signal channel
func (m *Manager) Signals() <-chan os.Signal {
	return m.sigChan
}

// Wait blocks until a termination signal is received
func (m *Manager) Wait() {
	sig := <-m.sigChan
	m.log.Info("Received signal, initiating graceful shutdown", map[string]interface{}{"signal": sig.String()})
	m.once.Do(func() {
		close(m.doneChan)
	})
}

// Done returns a channel that is closed when shutdown is initiated
func (m *Manager) Done() <-chan struct{} {
	return m.doneChan
}

// Trigger marks shutdown as initiated without waiting for a signal
func (m *Manager) Trigger() {
	m.once.Do(func() {
		close(m.doneChan)
	})
}

// Shutdown executes all registered teardown functions in LIFO order.
// Safe to call more than once; only the first call runs the stack.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		signal.Stop(m.sigChan)

		m.mu.Lock()
		funcs := make([]func(context.Context) error, len(m.teardownFuncs))
		copy(funcs, m.teardownFuncs)
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](ctx); err != nil {
				m.log.Error("Teardown function failed", map[string]interface{}{"index": i, "error": err.Error()})
			}
		}

		m.log.Info("Graceful shutdown complete")
	})
}

// WaitWithContext blocks until a termination signal or context cancellation,
// then runs the teardown stack.
func (m *Manager) WaitWithContext(ctx context.Context) error {
	select {
	case sig := <-m.sigChan:
		m.log.Info("Received signal, initiating graceful shutdown", map[string]interface{}{"signal": sig.String()})
		m.Trigger()
		m.Shutdown()
		return nil
	case <-ctx.Done():
		m.Trigger()
		m.Shutdown()
		return ctx.Err()
	}
}

// StopHTTPServer creates a teardown function for an http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }, name string, log *logging.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		log.Info("Stopping HTTP server", map[string]interface{}{"name": name})
		return server.Shutdown(ctx)
	}
}

// CloseResource creates a teardown function for an io.Closer
func CloseResource(closer interface{ Close() error }, name string, log *logging.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		log.Info("Closing resource", map[string]interface{}{"name": name})
		return closer.Close()
	}
}
