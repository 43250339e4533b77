package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/actorkit/actorkit/pkg/models"
)

func newTestRun() *models.Run {
	return &models.Run{
		ID:        uuid.New().String(),
		ActorID:   "test-actor",
		Status:    models.RunStatusReady,
		StartedAt: time.Now(),
	}
}

func TestMemoryRunLifecycle(t *testing.T) {
	s := NewMemoryStore()
	run := newTestRun()

	if err := s.CreateRun(run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}

	got, err := s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if got.Status != models.RunStatusReady {
		t.Errorf("Expected status READY, got %s", got.Status)
	}

	if err := s.TransitionRunStatus(run.ID, models.RunStatusRunning, "test"); err != nil {
		t.Fatalf("Failed to transition to RUNNING: %v", err)
	}

	if err := s.FinishRun(run.ID, 0); err != nil {
		t.Fatalf("Failed to finish run: %v", err)
	}

	got, err = s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("Failed to get finished run: %v", err)
	}
	if got.Status != models.RunStatusSucceeded {
		t.Errorf("Expected status SUCCEEDED, got %s", got.Status)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %v", got.ExitCode)
	}
	if got.FinishedAt == nil {
		t.Error("Expected finished timestamp to be set")
	}
	if len(got.StateTransitions) != 2 {
		t.Errorf("Expected 2 state transitions, got %d", len(got.StateTransitions))
	}
}

func TestMemoryRunInvalidTransition(t *testing.T) {
	s := NewMemoryStore()
	run := newTestRun()
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}

	// READY cannot jump straight to SUCCEEDED
	err := s.TransitionRunStatus(run.ID, models.RunStatusSucceeded, "test")
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}

	// Finishing a READY run is also invalid
	if err := s.FinishRun(run.ID, 0); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition when finishing READY run, got %v", err)
	}
}

func TestMemoryFinishAbortingRun(t *testing.T) {
	s := NewMemoryStore()
	run := newTestRun()
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}
	if err := s.TransitionRunStatus(run.ID, models.RunStatusRunning, ""); err != nil {
		t.Fatalf("Failed to start run: %v", err)
	}
	if err := s.TransitionRunStatus(run.ID, models.RunStatusAborting, "abort requested"); err != nil {
		t.Fatalf("Failed to transition to ABORTING: %v", err)
	}

	// Regardless of exit code, an aborting run finishes as ABORTED
	if err := s.FinishRun(run.ID, 0); err != nil {
		t.Fatalf("Failed to finish aborting run: %v", err)
	}
	got, _ := s.GetRun(run.ID)
	if got.Status != models.RunStatusAborted {
		t.Errorf("Expected status ABORTED, got %s", got.Status)
	}
}

func TestMemoryTerminalStatusMessage(t *testing.T) {
	s := NewMemoryStore()
	run := newTestRun()
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}

	if err := s.UpdateRunStatusMessage(run.ID, "working", false); err != nil {
		t.Fatalf("Failed to set status message: %v", err)
	}
	if err := s.UpdateRunStatusMessage(run.ID, "done", true); err != nil {
		t.Fatalf("Failed to set terminal status message: %v", err)
	}
	// Later updates must not overwrite a terminal message
	if err := s.UpdateRunStatusMessage(run.ID, "zombie update", false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	got, _ := s.GetRun(run.ID)
	if got.StatusMessage != "done" {
		t.Errorf("Expected terminal message to stick, got %q", got.StatusMessage)
	}
}

func TestMemoryRebootCount(t *testing.T) {
	s := NewMemoryStore()
	run := newTestRun()
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}
	if err := s.TransitionRunStatus(run.ID, models.RunStatusRunning, ""); err != nil {
		t.Fatalf("Failed to start run: %v", err)
	}

	if err := s.IncrementRebootCount(run.ID); err != nil {
		t.Fatalf("Failed to reboot run: %v", err)
	}
	got, _ := s.GetRun(run.ID)
	if got.RebootCount != 1 {
		t.Errorf("Expected reboot count 1, got %d", got.RebootCount)
	}
	if got.Status != models.RunStatusReady {
		t.Errorf("Expected status READY after reboot, got %s", got.Status)
	}

	// A READY run cannot be rebooted again before it starts
	if err := s.IncrementRebootCount(run.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
}

func TestMemoryKeyValueStore(t *testing.T) {
	s := NewMemoryStore()

	info, err := s.GetOrCreateKeyValueStore("default")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	// Resolving the same name returns the same store
	again, err := s.GetOrCreateKeyValueStore("default")
	if err != nil {
		t.Fatalf("Failed to resolve store: %v", err)
	}
	if again.ID != info.ID {
		t.Errorf("Expected same store ID, got %s and %s", info.ID, again.ID)
	}

	rec := &models.KeyValueRecord{Key: "INPUT", ContentType: "application/json", Value: []byte(`{"a":1}`)}
	if err := s.SetRecord(info.ID, rec); err != nil {
		t.Fatalf("Failed to set record: %v", err)
	}

	got, err := s.GetRecord(info.ID, "INPUT")
	if err != nil {
		t.Fatalf("Failed to get record: %v", err)
	}
	if string(got.Value) != `{"a":1}` {
		t.Errorf("Unexpected record value: %s", got.Value)
	}

	if _, err := s.GetRecord(info.ID, "missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
	if _, err := s.GetRecord("no-such-store", "INPUT"); !errors.Is(err, ErrStoreNotFound) {
		t.Errorf("Expected ErrStoreNotFound, got %v", err)
	}

	if err := s.DeleteRecord(info.ID, "INPUT"); err != nil {
		t.Fatalf("Failed to delete record: %v", err)
	}
	if err := s.DeleteRecord(info.ID, "INPUT"); err != nil {
		t.Errorf("Deleting a missing key should not error, got %v", err)
	}
}

func TestMemoryListKeysPaging(t *testing.T) {
	s := NewMemoryStore()
	info, err := s.GetOrCreateKeyValueStore("paged")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	for i := 0; i < 5; i++ {
		rec := &models.KeyValueRecord{Key: fmt.Sprintf("key-%d", i), Value: []byte("v")}
		if err := s.SetRecord(info.ID, rec); err != nil {
			t.Fatalf("Failed to set record: %v", err)
		}
	}

	page, err := s.ListKeys(info.ID, "", 2)
	if err != nil {
		t.Fatalf("Failed to list keys: %v", err)
	}
	if len(page.Keys) != 2 || !page.IsTruncated {
		t.Fatalf("Expected truncated page of 2 keys, got %d (truncated=%v)", len(page.Keys), page.IsTruncated)
	}
	if page.Keys[0].Key != "key-0" || page.Keys[1].Key != "key-1" {
		t.Errorf("Unexpected page order: %v", page.Keys)
	}

	page, err = s.ListKeys(info.ID, page.Keys[1].Key, 10)
	if err != nil {
		t.Fatalf("Failed to list second page: %v", err)
	}
	if len(page.Keys) != 3 || page.IsTruncated {
		t.Errorf("Expected final page of 3 keys, got %d (truncated=%v)", len(page.Keys), page.IsTruncated)
	}
}

func TestMemoryDataset(t *testing.T) {
	s := NewMemoryStore()
	info, err := s.GetOrCreateDataset("results")
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}

	items := []models.DatasetItem{
		{"url": "https://example.com/1"},
		{"url": "https://example.com/2"},
		{"url": "https://example.com/3"},
	}
	if err := s.PushItems(info.ID, items); err != nil {
		t.Fatalf("Failed to push items: %v", err)
	}

	listing, err := s.ListItems(info.ID, 1, 10)
	if err != nil {
		t.Fatalf("Failed to list items: %v", err)
	}
	if listing.Total != 3 || listing.Count != 2 {
		t.Errorf("Expected total 3 and count 2, got %d and %d", listing.Total, listing.Count)
	}
	if listing.Items[0]["url"] != "https://example.com/2" {
		t.Errorf("Unexpected item order: %v", listing.Items[0])
	}

	ds, err := s.GetDataset(info.ID)
	if err != nil {
		t.Fatalf("Failed to get dataset: %v", err)
	}
	if ds.ItemCount != 3 {
		t.Errorf("Expected item count 3, got %d", ds.ItemCount)
	}

	if err := s.PushItems("no-such-dataset", items); !errors.Is(err, ErrDatasetNotFound) {
		t.Errorf("Expected ErrDatasetNotFound, got %v", err)
	}
}
