package events

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/actorkit/actorkit/pkg/logging"
	"github.com/actorkit/actorkit/pkg/metrics"
	"github.com/actorkit/actorkit/pkg/models"
)

// Handler processes a single actor event. Handlers run on the dispatch
// goroutine, one at a time, in registration order.
type Handler func(event models.Event)

// Config holds event manager settings
type Config struct {
	// PersistStateInterval controls periodic persistState emission.
	// Zero disables the ticker.
	PersistStateInterval time.Duration
	// SystemInfoInterval controls periodic systemInfo emission.
	// Zero disables the ticker.
	SystemInfoInterval time.Duration
	// QueueSize bounds the pending event queue.
	QueueSize int

	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Manager dispatches platform events to registered handlers and emits
// the periodic persistState and systemInfo events itself.
type Manager struct {
	handlers map[models.EventType][]Handler
	mu       sync.RWMutex

	queue  chan models.Event
	wg     sync.WaitGroup
	cancel context.CancelFunc

	started   bool
	closed    bool
	closeOnce sync.Once
	stateMu   sync.Mutex

	log     *logging.Logger
	metrics *metrics.Metrics
	cfg     Config
}

// NewManager creates an event manager
func NewManager(cfg Config) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewLogger(logging.INFO, false)
	}
	return &Manager{
		handlers: make(map[models.EventType][]Handler),
		queue:    make(chan models.Event, cfg.QueueSize),
		log:      log,
		metrics:  cfg.Metrics,
		cfg:      cfg,
	}
}

// Start launches the dispatch loop and periodic tickers
func (m *Manager) Start(ctx context.Context) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.started {
		return
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.dispatch(ctx)

	if m.cfg.PersistStateInterval > 0 {
		m.wg.Add(1)
		go m.tick(ctx, m.cfg.PersistStateInterval, func() {
			m.Emit(models.EventPersistState, models.PersistState{IsMigrating: false})
		})
	}
	if m.cfg.SystemInfoInterval > 0 {
		m.wg.Add(1)
		go m.tick(ctx, m.cfg.SystemInfoInterval, func() {
			m.Emit(models.EventSystemInfo, Snapshot())
		})
	}
}

// On registers a handler for an event type
func (m *Manager) On(t models.EventType, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = append(m.handlers[t], h)
}

// Off removes all handlers for an event type
func (m *Manager) Off(t models.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, t)
}

// Emit queues an event for dispatch. Events emitted after Close are
// dropped with a warning.
func (m *Manager) Emit(t models.EventType, data interface{}) {
	m.stateMu.Lock()
	closed := m.closed
	m.stateMu.Unlock()
	if closed {
		m.log.Warn("Event dropped after close", map[string]interface{}{"type": string(t)})
		return
	}

	event := models.Event{Type: t, Data: data, CreatedAt: time.Now()}
	select {
	case m.queue <- event:
		if m.metrics != nil {
			m.metrics.EventsEmitted.WithLabelValues(string(t)).Inc()
		}
	default:
		m.log.Warn("Event queue full, event dropped", map[string]interface{}{"type": string(t)})
	}
}

// EmitSync dispatches an event to handlers immediately on the calling
// goroutine, bypassing the queue. Used for exit and migration events
// that must complete before the actor continues.
func (m *Manager) EmitSync(t models.EventType, data interface{}) {
	event := models.Event{Type: t, Data: data, CreatedAt: time.Now()}
	if m.metrics != nil {
		m.metrics.EventsEmitted.WithLabelValues(string(t)).Inc()
	}
	m.deliver(event)
}

func (m *Manager) dispatch(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			// Drain whatever is still queued before exiting
			for {
				select {
				case event := <-m.queue:
					m.deliver(event)
				default:
					return
				}
			}
		case event := <-m.queue:
			m.deliver(event)
		}
	}
}

func (m *Manager) deliver(event models.Event) {
	m.mu.RLock()
	handlers := make([]Handler, len(m.handlers[event.Type]))
	copy(handlers, m.handlers[event.Type])
	m.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("Event handler panicked", map[string]interface{}{
						"type":  string(event.Type),
						"panic": r,
					})
				}
			}()
			h(event)
		}()
	}
}

func (m *Manager) tick(ctx context.Context, interval time.Duration, fn func()) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Close stops the tickers, drains the queue and waits for handlers
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.stateMu.Lock()
		m.closed = true
		started := m.started
		m.stateMu.Unlock()

		if started {
			m.cancel()
			m.wg.Wait()
		}
	})
	return nil
}

// Snapshot collects a resource usage snapshot of the container
func Snapshot() models.SystemInfo {
	info := models.SystemInfo{
		NumGoroutines: runtime.NumGoroutine(),
		CreatedAt:     time.Now(),
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		info.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemUsedBytes = vm.Used
		info.MemTotalBytes = vm.Total
	}
	return info
}
