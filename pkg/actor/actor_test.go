package actor

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/actorkit/actorkit/pkg/models"
	"github.com/actorkit/actorkit/pkg/platform"
	"github.com/actorkit/actorkit/pkg/storage"
)

func localConfig() Config {
	return Config{
		LocalStorageDir: ":memory:",
		InputKey:        DefaultInputKey,
		MaxRebootCount:  DefaultMaxRebootCount,
		LogLevel:        "ERROR",
	}
}

// cloudFixture wires an in-memory platform emulator behind httptest and
// a run that is ready to start.
func cloudFixture(t *testing.T) (Config, storage.Store, *httptest.Server) {
	t.Helper()
	store := storage.NewMemoryStore()

	kv, err := store.GetOrCreateKeyValueStore("run-kv")
	if err != nil {
		t.Fatalf("Failed to create kv store: %v", err)
	}
	ds, err := store.GetOrCreateDataset("run-ds")
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	run := &models.Run{
		ID:                     "run-1",
		ActorID:                "actor-1",
		Status:                 models.RunStatusReady,
		DefaultKeyValueStoreID: kv.ID,
		DefaultDatasetID:       ds.ID,
		StartedAt:              time.Now().UTC(),
	}
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}

	router := mux.NewRouter()
	platform.NewHandler(store, nil, nil).RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return Config{
		ActorID:                "actor-1",
		RunID:                  "run-1",
		APIBaseURL:             server.URL,
		DefaultKeyValueStoreID: kv.ID,
		DefaultDatasetID:       ds.ID,
		InputKey:               DefaultInputKey,
		MaxRebootCount:         DefaultMaxRebootCount,
		LogLevel:               "ERROR",
	}, store, server
}

func TestLocalLifecycle(t *testing.T) {
	ctx := context.Background()
	a := New(localConfig())

	if err := a.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if a.IsAtHome() {
		t.Error("Expected local mode")
	}

	// No input was provided
	var input map[string]interface{}
	if err := a.GetInput(ctx, &input); !errors.Is(err, ErrValueNotFound) {
		t.Errorf("Expected ErrValueNotFound, got %v", err)
	}

	if err := a.SetValue(ctx, "state", map[string]int{"page": 3}); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	var state map[string]int
	if err := a.GetValue(ctx, "state", &state); err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if state["page"] != 3 {
		t.Errorf("Unexpected state: %v", state)
	}

	if err := a.PushData(ctx, models.DatasetItem{"url": "https://example.com"}); err != nil {
		t.Fatalf("PushData failed: %v", err)
	}
	ds, err := a.OpenDataset(ctx, "default")
	if err != nil {
		t.Fatalf("OpenDataset failed: %v", err)
	}
	listing, err := ds.ListItems(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if listing.Total != 1 {
		t.Errorf("Expected 1 pushed item, got %d", listing.Total)
	}

	if err := a.Exit(ctx); err != nil {
		t.Fatalf("Exit failed: %v", err)
	}
	if a.ExitCode() != models.ExitCodeSuccess {
		t.Errorf("Expected exit code 0, got %d", a.ExitCode())
	}

	if err := a.Exit(ctx); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("Expected ErrAlreadyFinished on second Exit, got %v", err)
	}
	if err := a.SetValue(ctx, "late", 1); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("Expected ErrAlreadyFinished after Exit, got %v", err)
	}
}

func TestOperationsBeforeInit(t *testing.T) {
	ctx := context.Background()
	a := New(localConfig())

	if err := a.SetValue(ctx, "k", 1); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
	if err := a.Exit(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized from Exit, got %v", err)
	}
	if err := a.SetStatusMessage(ctx, "hi"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized from SetStatusMessage, got %v", err)
	}
}

func TestFailedInitLeavesActorUninitialized(t *testing.T) {
	ctx := context.Background()

	// A regular file where the storage directory should go makes the
	// local connect step fail partway through Init.
	blocker := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create blocking file: %v", err)
	}
	cfg := localConfig()
	cfg.LocalStorageDir = filepath.Join(blocker, "storage")

	a := New(cfg)
	if err := a.Init(ctx); err == nil {
		t.Fatal("Expected Init to fail")
	}

	// The documented convention is to call Fail from the error path;
	// after a failed Init that must error, not crash.
	if err := a.Fail(ctx, WithError(errors.New("body never ran"))); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized from Fail, got %v", err)
	}
	if err := a.Exit(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized from Exit, got %v", err)
	}
	if err := a.SetValue(ctx, "k", 1); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized from SetValue, got %v", err)
	}

	// A corrected configuration can initialize the same actor
	cfg.LocalStorageDir = ":memory:"
	a.cfg = cfg
	if err := a.Init(ctx); err != nil {
		t.Fatalf("Expected retry after failed Init to work: %v", err)
	}
	if err := a.Exit(ctx); err != nil {
		t.Fatalf("Exit failed: %v", err)
	}
}

func TestDoubleInit(t *testing.T) {
	ctx := context.Background()
	a := New(localConfig())

	if err := a.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer a.Exit(ctx)

	if err := a.Init(ctx); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("Expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestLocalRebootUnavailable(t *testing.T) {
	ctx := context.Background()
	a := New(localConfig())
	if err := a.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer a.Exit(ctx)

	if err := a.Reboot(ctx); !errors.Is(err, ErrLocalReboot) {
		t.Errorf("Expected ErrLocalReboot, got %v", err)
	}
}

func TestCloudLifecycle(t *testing.T) {
	ctx := context.Background()
	cfg, store, _ := cloudFixture(t)

	a := New(cfg)
	if err := a.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !a.IsAtHome() {
		t.Error("Expected at-home mode")
	}

	run, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != models.RunStatusRunning {
		t.Errorf("Expected RUNNING after Init, got %s", run.Status)
	}

	if err := a.SetValue(ctx, "state", map[string]int{"page": 9}); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if err := a.PushData(ctx, models.DatasetItem{"rank": 1}); err != nil {
		t.Fatalf("PushData failed: %v", err)
	}

	if err := a.Exit(ctx, WithStatusMessage("finished cleanly")); err != nil {
		t.Fatalf("Exit failed: %v", err)
	}

	run, err = store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != models.RunStatusSucceeded {
		t.Errorf("Expected SUCCEEDED, got %s", run.Status)
	}
	if run.StatusMessage != "finished cleanly" || !run.IsStatusMessageTerminal {
		t.Errorf("Expected terminal status message, got %+v", run)
	}
	if run.ExitCode == nil || *run.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %v", run.ExitCode)
	}

	// Storage survives on the platform side
	rec, err := store.GetRecord(cfg.DefaultKeyValueStoreID, "state")
	if err != nil {
		t.Fatalf("Expected state record on the platform: %v", err)
	}
	if string(rec.Value) != `{"page":9}` {
		t.Errorf("Unexpected record: %s", rec.Value)
	}
}

func TestCloudFail(t *testing.T) {
	ctx := context.Background()
	cfg, store, _ := cloudFixture(t)

	a := New(cfg)
	if err := a.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := a.Fail(ctx, WithError(errors.New("upstream gone"))); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if a.ExitCode() != models.ExitCodeFailure {
		t.Errorf("Expected exit code 1, got %d", a.ExitCode())
	}

	run, _ := store.GetRun("run-1")
	if run.Status != models.RunStatusFailed {
		t.Errorf("Expected FAILED, got %s", run.Status)
	}
	if run.StatusMessage != "upstream gone" {
		t.Errorf("Expected error message as status, got %q", run.StatusMessage)
	}
}

func TestCloudReboot(t *testing.T) {
	ctx := context.Background()
	cfg, store, _ := cloudFixture(t)

	a := New(cfg)
	if err := a.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := a.Reboot(ctx); err != nil {
		t.Fatalf("Reboot failed: %v", err)
	}
	if a.ExitCode() != models.ExitCodeReboot {
		t.Errorf("Expected exit code %d, got %d", models.ExitCodeReboot, a.ExitCode())
	}

	run, _ := store.GetRun("run-1")
	if run.Status != models.RunStatusReady {
		t.Errorf("Expected READY after reboot, got %s", run.Status)
	}
	if run.RebootCount != 1 {
		t.Errorf("Expected reboot count 1, got %d", run.RebootCount)
	}

	if err := a.SetValue(ctx, "k", 1); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("Expected ErrAlreadyFinished after reboot, got %v", err)
	}
}

func TestCloudAbortReachesDone(t *testing.T) {
	ctx := context.Background()
	cfg, store, _ := cloudFixture(t)
	cfg.PlatformPollInterval = 10 * time.Millisecond

	a := New(cfg)
	if err := a.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer a.Exit(ctx)

	var gotAborting bool
	if err := a.On(models.EventAborting, func(models.Event) { gotAborting = true }); err != nil {
		t.Fatalf("On failed: %v", err)
	}

	if err := store.TransitionRunStatus("run-1", models.RunStatusAborting, "operator abort"); err != nil {
		t.Fatalf("Failed to request abort: %v", err)
	}

	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Done to close after platform abort")
	}
	if !gotAborting {
		t.Error("Expected the aborting event to fire")
	}
}

func TestRebootLoopGuard(t *testing.T) {
	ctx := context.Background()
	cfg, _, _ := cloudFixture(t)
	cfg.MaxRebootCount = 0

	a := New(cfg)
	if err := a.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer a.Exit(ctx)

	if err := a.Reboot(ctx); !errors.Is(err, ErrRebootLoop) {
		t.Errorf("Expected ErrRebootLoop, got %v", err)
	}
}

func TestMainWithConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		code := MainWithConfig(ctx, localConfig(), func(ctx context.Context, a *Actor) error {
			return a.SetValue(ctx, "done", true)
		})
		if code != models.ExitCodeSuccess {
			t.Errorf("Expected exit code 0, got %d", code)
		}
	})

	t.Run("Error", func(t *testing.T) {
		code := MainWithConfig(ctx, localConfig(), func(ctx context.Context, a *Actor) error {
			return errors.New("scrape failed")
		})
		if code != models.ExitCodeFailure {
			t.Errorf("Expected exit code 1, got %d", code)
		}
	})

	t.Run("Panic", func(t *testing.T) {
		code := MainWithConfig(ctx, localConfig(), func(ctx context.Context, a *Actor) error {
			panic("nil dereference somewhere deep")
		})
		if code != models.ExitCodeFailure {
			t.Errorf("Expected exit code 1 after panic, got %d", code)
		}
	})

	t.Run("ExplicitExitInsideBody", func(t *testing.T) {
		code := MainWithConfig(ctx, localConfig(), func(ctx context.Context, a *Actor) error {
			return a.Exit(ctx, WithExitCode(0), WithStatusMessage("done early"))
		})
		if code != models.ExitCodeSuccess {
			t.Errorf("Expected exit code 0, got %d", code)
		}
	})
}

func TestFailForcesNonZeroExitCode(t *testing.T) {
	ctx := context.Background()
	a := New(localConfig())
	if err := a.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := a.Fail(ctx, WithExitCode(0)); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if a.ExitCode() != models.ExitCodeFailure {
		t.Errorf("Expected Fail to force exit code 1, got %d", a.ExitCode())
	}
}
