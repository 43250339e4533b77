package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/actorkit/actorkit/pkg/models"
)

func newSQLiteTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("Failed to open SQLite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestSQLiteRunLifecycle(t *testing.T) {
	s, _ := newSQLiteTestStore(t)
	run := newTestRun()

	if err := s.CreateRun(run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}
	if err := s.TransitionRunStatus(run.ID, models.RunStatusRunning, "start"); err != nil {
		t.Fatalf("Failed to transition run: %v", err)
	}
	if err := s.UpdateRunStatusMessage(run.ID, "crawling", false); err != nil {
		t.Fatalf("Failed to set status message: %v", err)
	}
	if err := s.FinishRun(run.ID, 1); err != nil {
		t.Fatalf("Failed to finish run: %v", err)
	}

	got, err := s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if got.Status != models.RunStatusFailed {
		t.Errorf("Expected status FAILED, got %s", got.Status)
	}
	if got.ExitCode == nil || *got.ExitCode != 1 {
		t.Errorf("Expected exit code 1, got %v", got.ExitCode)
	}
	if got.StatusMessage != "crawling" {
		t.Errorf("Expected status message to persist, got %q", got.StatusMessage)
	}
	if len(got.StateTransitions) != 2 {
		t.Errorf("Expected 2 recorded transitions, got %d", len(got.StateTransitions))
	}
}

func TestSQLitePersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	run := newTestRun()
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}
	info, err := s.GetOrCreateKeyValueStore("default")
	if err != nil {
		t.Fatalf("Failed to create kv store: %v", err)
	}
	rec := &models.KeyValueRecord{Key: "state", ContentType: "application/json", Value: []byte(`{"page":7}`)}
	if err := s.SetRecord(info.ID, rec); err != nil {
		t.Fatalf("Failed to set record: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetRun(run.ID); err != nil {
		t.Errorf("Expected run to survive reopen: %v", err)
	}
	got, err := reopened.GetRecord(info.ID, "state")
	if err != nil {
		t.Fatalf("Expected record to survive reopen: %v", err)
	}
	if string(got.Value) != `{"page":7}` {
		t.Errorf("Unexpected record value after reopen: %s", got.Value)
	}
}

func TestSQLiteInvalidTransition(t *testing.T) {
	s, _ := newSQLiteTestStore(t)
	run := newTestRun()
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}

	if err := s.TransitionRunStatus(run.ID, models.RunStatusSucceeded, ""); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
	if err := s.TransitionRunStatus("no-such-run", models.RunStatusRunning, ""); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
}

func TestSQLiteKeyValueAndDataset(t *testing.T) {
	s, _ := newSQLiteTestStore(t)

	info, err := s.GetOrCreateKeyValueStore("default")
	if err != nil {
		t.Fatalf("Failed to create kv store: %v", err)
	}
	again, err := s.GetOrCreateKeyValueStore("default")
	if err != nil {
		t.Fatalf("Failed to resolve kv store: %v", err)
	}
	if again.ID != info.ID {
		t.Errorf("Expected same store for same name, got %s and %s", info.ID, again.ID)
	}

	rec := &models.KeyValueRecord{Key: "INPUT", ContentType: "application/json", Value: []byte(`{"q":"news"}`)}
	if err := s.SetRecord(info.ID, rec); err != nil {
		t.Fatalf("Failed to set record: %v", err)
	}
	// Overwrite the same key
	rec.Value = []byte(`{"q":"sports"}`)
	if err := s.SetRecord(info.ID, rec); err != nil {
		t.Fatalf("Failed to overwrite record: %v", err)
	}
	got, err := s.GetRecord(info.ID, "INPUT")
	if err != nil {
		t.Fatalf("Failed to get record: %v", err)
	}
	if string(got.Value) != `{"q":"sports"}` {
		t.Errorf("Expected overwritten value, got %s", got.Value)
	}

	if _, err := s.GetRecord(info.ID, "missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}

	listing, err := s.ListKeys(info.ID, "", 10)
	if err != nil {
		t.Fatalf("Failed to list keys: %v", err)
	}
	if listing.Count != 1 {
		t.Errorf("Expected 1 key, got %d", listing.Count)
	}

	ds, err := s.GetOrCreateDataset("results")
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	items := []models.DatasetItem{{"rank": float64(1)}, {"rank": float64(2)}}
	if err := s.PushItems(ds.ID, items); err != nil {
		t.Fatalf("Failed to push items: %v", err)
	}
	page, err := s.ListItems(ds.ID, 0, 10)
	if err != nil {
		t.Fatalf("Failed to list items: %v", err)
	}
	if page.Total != 2 || page.Count != 2 {
		t.Errorf("Expected 2 items, got total=%d count=%d", page.Total, page.Count)
	}
	if page.Items[0]["rank"] != float64(1) {
		t.Errorf("Unexpected first item: %v", page.Items[0])
	}
}
