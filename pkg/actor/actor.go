package actor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/actorkit/actorkit/pkg/client"
	"github.com/actorkit/actorkit/pkg/events"
	"github.com/actorkit/actorkit/pkg/logging"
	"github.com/actorkit/actorkit/pkg/metrics"
	"github.com/actorkit/actorkit/pkg/models"
	"github.com/actorkit/actorkit/pkg/shutdown"
	"github.com/actorkit/actorkit/pkg/storage"
)

var (
	ErrNotInitialized     = errors.New("actor is not initialized, call Init first")
	ErrAlreadyInitialized = errors.New("actor is already initialized")
	ErrAlreadyFinished    = errors.New("actor has already finished")
	ErrLocalReboot        = errors.New("reboot is not available outside the platform")
	ErrRebootLoop         = errors.New("reboot limit reached, refusing to reboot again")
)

// Actor manages the lifecycle of one actor run: initialization, event
// handling, storage access and the final exit handshake with the
// platform. In local mode the platform is replaced by on-disk storage.
type Actor struct {
	cfg Config
	log *logging.Logger

	client  *client.Client  // nil in local mode
	local   storage.Store   // nil in cloud mode
	events  *events.Manager
	sd      *shutdown.Manager
	metrics *metrics.Metrics

	defaultKV      *KeyValueStore
	defaultDataset *Dataset

	mu          sync.Mutex
	initialized bool
	finished    bool
	exitCode    int

	stopSignals chan struct{}
}

// New creates an actor from explicit configuration. Nothing is
// connected until Init.
func New(cfg Config) *Actor {
	return &Actor{
		cfg:         cfg,
		log:         logging.NewLogger(logging.ParseLevel(cfg.LogLevel), false),
		metrics:     metrics.New(),
		stopSignals: make(chan struct{}),
	}
}

// NewFromEnv creates an actor configured from ACTOR_* environment variables
func NewFromEnv() *Actor {
	return New(ConfigFromEnv())
}

// Init prepares the actor for work: connects the platform client or the
// local storage backend, resolves the default storages, starts the event
// manager and installs signal handling for graceful aborts.
// Calling Init twice is an error.
func (a *Actor) Init(ctx context.Context) error {
	a.mu.Lock()
	if a.initialized {
		a.mu.Unlock()
		return ErrAlreadyInitialized
	}
	a.initialized = true
	a.mu.Unlock()

	a.sd = shutdown.New(30*time.Second, a.log)

	if a.cfg.isAtHome() {
		if err := a.initCloud(ctx); err != nil {
			a.abortInit()
			return err
		}
	} else {
		if err := a.initLocal(ctx); err != nil {
			a.abortInit()
			return err
		}
	}

	a.events = events.NewManager(events.Config{
		PersistStateInterval: a.cfg.PersistStateInterval,
		SystemInfoInterval:   a.cfg.SystemInfoInterval,
		Logger:               a.log,
		Metrics:              a.metrics,
	})
	a.events.Start(ctx)

	go a.watchSignals()
	if a.client != nil {
		go a.watchPlatform()
	}

	a.log.Info("Actor initialized", map[string]interface{}{
		"run_id":  a.cfg.RunID,
		"at_home": a.cfg.isAtHome(),
	})
	return nil
}

func (a *Actor) initCloud(ctx context.Context) error {
	a.client = client.NewClient(a.cfg.APIBaseURL,
		client.WithToken(a.cfg.APIToken),
		client.WithMetrics(a.metrics),
	)

	if err := a.client.StartRun(ctx, a.cfg.RunID); err != nil {
		// The platform may have marked the run RUNNING already, e.g.
		// after a reboot of the same run.
		a.log.Warn("Could not mark run as running", map[string]interface{}{"error": err.Error()})
	}

	kvID := a.cfg.DefaultKeyValueStoreID
	if kvID == "" {
		info, err := a.client.GetOrCreateKeyValueStore(ctx, "default")
		if err != nil {
			return fmt.Errorf("failed to resolve default key-value store: %w", err)
		}
		kvID = info.ID
	}
	a.defaultKV = &KeyValueStore{id: kvID, name: "default", remote: a.client}

	dsID := a.cfg.DefaultDatasetID
	if dsID == "" {
		info, err := a.client.GetOrCreateDataset(ctx, "default")
		if err != nil {
			return fmt.Errorf("failed to resolve default dataset: %w", err)
		}
		dsID = info.ID
	}
	a.defaultDataset = &Dataset{id: dsID, name: "default", remote: a.client}
	return nil
}

func (a *Actor) initLocal(ctx context.Context) error {
	var store storage.Store
	if a.cfg.LocalStorageDir == ":memory:" {
		store = storage.NewMemoryStore()
	} else {
		dir := a.cfg.LocalStorageDir
		if dir == "" {
			dir = DefaultLocalStorageDir
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create local storage dir: %w", err)
		}
		s, err := storage.NewSQLiteStore(filepath.Join(dir, "actorkit.db"))
		if err != nil {
			return fmt.Errorf("failed to open local storage: %w", err)
		}
		store = s
	}
	a.local = store
	a.sd.Register(shutdown.CloseResource(store, "local storage", a.log))

	kv, err := store.GetOrCreateKeyValueStore("default")
	if err != nil {
		return fmt.Errorf("failed to resolve default key-value store: %w", err)
	}
	a.defaultKV = &KeyValueStore{id: kv.ID, name: "default", local: store}

	ds, err := store.GetOrCreateDataset("default")
	if err != nil {
		return fmt.Errorf("failed to resolve default dataset: %w", err)
	}
	a.defaultDataset = &Dataset{id: ds.ID, name: "default", local: store}
	return nil
}

// watchSignals converts SIGTERM/SIGINT into the aborting event and a
// final state checkpoint, mirroring what the platform does before it
// kills a container.
func (a *Actor) watchSignals() {
	select {
	case <-a.sd.Signals():
		a.log.Warn("Termination signal received, aborting gracefully")
		a.events.EmitSync(models.EventAborting, nil)
		a.events.EmitSync(models.EventPersistState, models.PersistState{IsMigrating: false})
		a.sd.Trigger()
	case <-a.stopSignals:
	}
}

// abortInit unwinds a partially connected actor so a failed Init leaves
// it in the same state as one that was never initialized. Resources
// already registered on the shutdown stack are released.
func (a *Actor) abortInit() {
	a.sd.Trigger()
	a.sd.Shutdown()
	a.mu.Lock()
	a.initialized = false
	a.mu.Unlock()
}

// watchPlatform polls the run status so an abort requested through the
// platform API reaches actor code that only watches Done.
func (a *Actor) watchPlatform() {
	interval := a.cfg.PlatformPollInterval
	if interval <= 0 {
		interval = DefaultPlatformPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopSignals:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			run, err := a.client.GetRun(ctx, a.cfg.RunID)
			cancel()
			if err != nil {
				a.log.Debug("Run status poll failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			if run.Status == models.RunStatusAborting || run.Status == models.RunStatusTimingOut {
				a.log.Warn("Platform requested abort", map[string]interface{}{"status": string(run.Status)})
				a.events.EmitSync(models.EventAborting, nil)
				a.events.EmitSync(models.EventPersistState, models.PersistState{IsMigrating: false})
				a.sd.Trigger()
				return
			}
		}
	}
}

// Done is closed when an external abort or exit has been initiated.
// Long-running work should select on it.
func (a *Actor) Done() <-chan struct{} {
	return a.sd.Done()
}

// Exit finishes the run. The default exit code is 0; use WithExitCode
// and WithStatusMessage to override the outcome. Exit and Fail are
// single-shot: the second call returns ErrAlreadyFinished.
func (a *Actor) Exit(ctx context.Context, opts ...ExitOption) error {
	settings := exitSettings{exitCode: models.ExitCodeSuccess}
	for _, opt := range opts {
		opt(&settings)
	}
	return a.finish(ctx, settings)
}

// Fail finishes the run as failed. The default exit code is 1. An error
// passed via WithError becomes the terminal status message.
func (a *Actor) Fail(ctx context.Context, opts ...ExitOption) error {
	settings := exitSettings{exitCode: models.ExitCodeFailure}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.exitCode == models.ExitCodeSuccess {
		settings.exitCode = models.ExitCodeFailure
	}
	return a.finish(ctx, settings)
}

func (a *Actor) finish(ctx context.Context, settings exitSettings) error {
	a.mu.Lock()
	if !a.initialized {
		a.mu.Unlock()
		return ErrNotInitialized
	}
	if a.finished {
		a.mu.Unlock()
		return ErrAlreadyFinished
	}
	a.finished = true
	a.exitCode = settings.exitCode
	a.mu.Unlock()

	a.events.EmitSync(models.EventExit, models.ExitInfo{ExitCode: settings.exitCode})

	var firstErr error
	if a.client != nil {
		if settings.statusMessage != "" {
			if err := a.client.SetStatusMessage(ctx, a.cfg.RunID, settings.statusMessage, true); err != nil {
				firstErr = err
			}
		}
		finish := models.RunFinish{
			ExitCode:      settings.exitCode,
			StatusMessage: settings.statusMessage,
		}
		if err := a.client.FinishRun(ctx, a.cfg.RunID, finish); err != nil && firstErr == nil {
			firstErr = err
		}
	} else if settings.statusMessage != "" {
		a.log.Info("Final status", map[string]interface{}{"message": settings.statusMessage})
	}

	a.metrics.RunsFinished.WithLabelValues(string(models.StatusForExitCode(settings.exitCode))).Inc()

	a.events.Close()
	close(a.stopSignals)
	a.sd.Trigger()
	a.sd.Shutdown()

	a.log.Info("Actor finished", map[string]interface{}{"exit_code": settings.exitCode})
	return firstErr
}

// Reboot persists state and asks the platform to restart this run in a
// fresh container. The call does not return control to actor code: the
// run is finished locally with the reboot exit code.
func (a *Actor) Reboot(ctx context.Context) error {
	a.mu.Lock()
	if !a.initialized {
		a.mu.Unlock()
		return ErrNotInitialized
	}
	if a.finished {
		a.mu.Unlock()
		return ErrAlreadyFinished
	}
	a.mu.Unlock()

	if a.client == nil {
		return ErrLocalReboot
	}

	run, err := a.client.GetRun(ctx, a.cfg.RunID)
	if err != nil {
		return fmt.Errorf("failed to check reboot count: %w", err)
	}
	if run.RebootCount >= a.cfg.MaxRebootCount {
		return ErrRebootLoop
	}

	a.events.EmitSync(models.EventMigrating, nil)
	a.events.EmitSync(models.EventPersistState, models.PersistState{IsMigrating: true})

	if err := a.client.RebootRun(ctx, a.cfg.RunID); err != nil {
		return fmt.Errorf("failed to request reboot: %w", err)
	}

	a.mu.Lock()
	a.finished = true
	a.exitCode = models.ExitCodeReboot
	a.mu.Unlock()

	a.events.Close()
	close(a.stopSignals)
	a.sd.Trigger()
	a.sd.Shutdown()

	a.log.Info("Reboot requested, run handed back to the platform")
	return nil
}

// SetStatusMessage updates the status message shown next to the run.
// Terminal messages stick; later updates are ignored by the platform.
func (a *Actor) SetStatusMessage(ctx context.Context, message string, opts ...StatusOption) error {
	if err := a.requireRunning(); err != nil {
		return err
	}
	settings := statusSettings{}
	for _, opt := range opts {
		opt(&settings)
	}
	if a.client != nil {
		return a.client.SetStatusMessage(ctx, a.cfg.RunID, message, settings.terminal)
	}
	a.log.Info("Status message", map[string]interface{}{"message": message, "terminal": settings.terminal})
	return nil
}

// GetInput reads the run input from the default key-value store and
// JSON-decodes it into v. ErrValueNotFound when no input was provided.
func (a *Actor) GetInput(ctx context.Context, v interface{}) error {
	if err := a.requireRunning(); err != nil {
		return err
	}
	return a.defaultKV.GetValue(ctx, a.cfg.InputKey, v)
}

// GetValue reads a value from the default key-value store
func (a *Actor) GetValue(ctx context.Context, key string, out interface{}) error {
	if err := a.requireRunning(); err != nil {
		return err
	}
	return a.defaultKV.GetValue(ctx, key, out)
}

// SetValue writes a value to the default key-value store
func (a *Actor) SetValue(ctx context.Context, key string, value interface{}) error {
	if err := a.requireRunning(); err != nil {
		return err
	}
	a.metrics.RecordsWritten.Inc()
	return a.defaultKV.SetValue(ctx, key, value)
}

// PushData appends items to the default dataset
func (a *Actor) PushData(ctx context.Context, items ...models.DatasetItem) error {
	if err := a.requireRunning(); err != nil {
		return err
	}
	a.metrics.ItemsPushed.Add(float64(len(items)))
	return a.defaultDataset.PushData(ctx, items...)
}

// OpenKeyValueStore opens a named key-value store
func (a *Actor) OpenKeyValueStore(ctx context.Context, name string) (*KeyValueStore, error) {
	if err := a.requireRunning(); err != nil {
		return nil, err
	}
	if a.client != nil {
		info, err := a.client.GetOrCreateKeyValueStore(ctx, name)
		if err != nil {
			return nil, err
		}
		return &KeyValueStore{id: info.ID, name: name, remote: a.client}, nil
	}
	info, err := a.local.GetOrCreateKeyValueStore(name)
	if err != nil {
		return nil, err
	}
	return &KeyValueStore{id: info.ID, name: name, local: a.local}, nil
}

// OpenDataset opens a named dataset
func (a *Actor) OpenDataset(ctx context.Context, name string) (*Dataset, error) {
	if err := a.requireRunning(); err != nil {
		return nil, err
	}
	if a.client != nil {
		info, err := a.client.GetOrCreateDataset(ctx, name)
		if err != nil {
			return nil, err
		}
		return &Dataset{id: info.ID, name: name, remote: a.client}, nil
	}
	info, err := a.local.GetOrCreateDataset(name)
	if err != nil {
		return nil, err
	}
	return &Dataset{id: info.ID, name: name, local: a.local}, nil
}

// On registers an event handler
func (a *Actor) On(t models.EventType, h events.Handler) error {
	if err := a.requireRunning(); err != nil {
		return err
	}
	a.events.On(t, h)
	return nil
}

// Off removes all handlers for an event type
func (a *Actor) Off(t models.EventType) {
	if a.events != nil {
		a.events.Off(t)
	}
}

// IsAtHome reports whether the actor runs under a platform-managed run
func (a *Actor) IsAtHome() bool {
	return a.cfg.isAtHome()
}

// ExitCode returns the recorded exit code after Exit/Fail/Reboot
func (a *Actor) ExitCode() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exitCode
}

// Client returns the platform API client, nil in local mode
func (a *Actor) Client() *client.Client {
	return a.client
}

// Metrics returns the actor's metrics set
func (a *Actor) Metrics() *metrics.Metrics {
	return a.metrics
}

// Log returns the actor's logger
func (a *Actor) Log() *logging.Logger {
	return a.log
}

func (a *Actor) requireRunning() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return ErrNotInitialized
	}
	if a.finished {
		return ErrAlreadyFinished
	}
	return nil
}
