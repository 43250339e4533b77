package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/actorkit/actorkit/pkg/models"
	"github.com/actorkit/actorkit/pkg/retry"
)

func fastRetry() retry.Config {
	return retry.Config{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestGetRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/runs/run-1" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("Unexpected method: %s", r.Method)
		}
		json.NewEncoder(w).Encode(models.Run{ID: "run-1", Status: models.RunStatusRunning})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRetryConfig(fastRetry()))
	run, err := c.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.ID != "run-1" || run.Status != models.RunStatusRunning {
		t.Errorf("Unexpected run: %+v", run)
	}
}

func TestGetRunNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Run not found", http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRetryConfig(fastRetry()))
	_, err := c.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRetryOnServerError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(models.Run{ID: "run-1", Status: models.RunStatusReady})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRetryConfig(fastRetry()))
	run, err := c.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if run.ID != "run-1" {
		t.Errorf("Unexpected run: %+v", run)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRetryConfig(fastRetry()))
	_, err := c.GetRun(context.Background(), "run-1")
	if err == nil {
		t.Fatal("Expected error for 400 response")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for a 400, got %d", attempts)
	}
}

func TestTokenHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, WithToken("secret"), WithRetryConfig(fastRetry()))
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
}

func TestSetStatusMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("Expected PUT, got %s", r.Method)
		}
		if r.URL.Path != "/v2/runs/run-1/status-message" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		var update models.StatusMessageUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}
		if update.Message != "halfway there" || !update.IsTerminal {
			t.Errorf("Unexpected update: %+v", update)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"updated"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRetryConfig(fastRetry()))
	if err := c.SetStatusMessage(context.Background(), "run-1", "halfway there", true); err != nil {
		t.Fatalf("SetStatusMessage failed: %v", err)
	}
}

func TestFinishRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/runs/run-1/finish" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		var finish models.RunFinish
		if err := json.NewDecoder(r.Body).Decode(&finish); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}
		if finish.ExitCode != 91 {
			t.Errorf("Expected exit code 91, got %d", finish.ExitCode)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRetryConfig(fastRetry()))
	if err := c.FinishRun(context.Background(), "run-1", models.RunFinish{ExitCode: 91}); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
}

func TestListRuns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"runs":  []models.Run{{ID: "a"}, {ID: "b"}},
			"count": 2,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRetryConfig(fastRetry()))
	runs, err := c.ListRuns(context.Background())
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "a" {
		t.Errorf("Unexpected runs: %+v", runs)
	}
}
