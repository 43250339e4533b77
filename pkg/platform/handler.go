package platform

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/actorkit/actorkit/pkg/logging"
	"github.com/actorkit/actorkit/pkg/metrics"
	"github.com/actorkit/actorkit/pkg/models"
	"github.com/actorkit/actorkit/pkg/storage"
)

// Handler serves the platform API backed by a storage.Store
type Handler struct {
	store   storage.Store
	log     *logging.Logger
	metrics *metrics.Metrics
}

// NewHandler creates a platform API handler
func NewHandler(s storage.Store, log *logging.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = logging.NewLogger(logging.INFO, false)
	}
	return &Handler{store: s, log: log, metrics: m}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// Run routes (specific routes before parameterized routes)
	r.HandleFunc("/v2/runs", h.CreateRun).Methods("POST")
	r.HandleFunc("/v2/runs", h.ListRuns).Methods("GET")
	r.HandleFunc("/v2/runs/{id}", h.GetRun).Methods("GET")
	r.HandleFunc("/v2/runs/{id}/start", h.StartRun).Methods("POST")
	r.HandleFunc("/v2/runs/{id}/abort", h.AbortRun).Methods("POST")
	r.HandleFunc("/v2/runs/{id}/reboot", h.RebootRun).Methods("POST")
	r.HandleFunc("/v2/runs/{id}/status-message", h.SetStatusMessage).Methods("PUT")
	r.HandleFunc("/v2/runs/{id}/finish", h.FinishRun).Methods("POST")

	// Key-value store routes
	r.HandleFunc("/v2/key-value-stores", h.GetOrCreateKeyValueStore).Methods("POST")
	r.HandleFunc("/v2/key-value-stores/{id}", h.GetKeyValueStore).Methods("GET")
	r.HandleFunc("/v2/key-value-stores/{id}/keys", h.ListKeys).Methods("GET")
	r.HandleFunc("/v2/key-value-stores/{id}/records/{key}", h.GetRecord).Methods("GET")
	r.HandleFunc("/v2/key-value-stores/{id}/records/{key}", h.SetRecord).Methods("PUT")
	r.HandleFunc("/v2/key-value-stores/{id}/records/{key}", h.DeleteRecord).Methods("DELETE")

	// Dataset routes
	r.HandleFunc("/v2/datasets", h.GetOrCreateDataset).Methods("POST")
	r.HandleFunc("/v2/datasets/{id}", h.GetDataset).Methods("GET")
	r.HandleFunc("/v2/datasets/{id}/items", h.PushItems).Methods("POST")
	r.HandleFunc("/v2/datasets/{id}/items", h.ListItems).Methods("GET")

	r.HandleFunc("/v2/health", h.Health).Methods("GET")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// CreateRun creates a new run with its default storages. The optional
// input object is stored under the INPUT key of the run's store.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ActorID == "" {
		http.Error(w, "actor_id is required", http.StatusBadRequest)
		return
	}

	runID := uuid.New().String()

	kv, err := h.store.GetOrCreateKeyValueStore("run-" + runID)
	if err != nil {
		h.log.Error("Failed to create default key-value store", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to create run", http.StatusInternalServerError)
		return
	}
	ds, err := h.store.GetOrCreateDataset("run-" + runID)
	if err != nil {
		h.log.Error("Failed to create default dataset", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to create run", http.StatusInternalServerError)
		return
	}

	origin := req.Origin
	if origin == "" {
		origin = "API"
	}

	run := &models.Run{
		ID:                     runID,
		ActorID:                req.ActorID,
		Status:                 models.RunStatusReady,
		Origin:                 origin,
		StartedAt:              time.Now(),
		DefaultKeyValueStoreID: kv.ID,
		DefaultDatasetID:       ds.ID,
	}

	if err := h.store.CreateRun(run); err != nil {
		h.log.Error("Failed to create run", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to create run", http.StatusInternalServerError)
		return
	}

	if req.Input != nil {
		data, err := json.Marshal(req.Input)
		if err != nil {
			http.Error(w, "Invalid input object", http.StatusBadRequest)
			return
		}
		rec := &models.KeyValueRecord{Key: "INPUT", ContentType: "application/json", Value: data}
		if err := h.store.SetRecord(kv.ID, rec); err != nil {
			h.log.Error("Failed to store run input", map[string]interface{}{"error": err.Error()})
			http.Error(w, "Failed to create run", http.StatusInternalServerError)
			return
		}
	}

	h.log.Info("Run created", map[string]interface{}{"run_id": run.ID, "actor_id": run.ActorID})

	writeJSON(w, http.StatusCreated, run)
}

// ListRuns returns all runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListRuns()
	if err != nil {
		h.log.Error("Failed to list runs", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun retrieves a run by ID
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetRun(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, storage.ErrRunNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		h.log.Error("Failed to get run", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// StartRun marks a run as RUNNING. Called by the SDK during Init.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	if err := h.store.TransitionRunStatus(runID, models.RunStatusRunning, "sdk initialized"); err != nil {
		h.transitionError(w, runID, err)
		return
	}
	run, err := h.store.GetRun(runID)
	if err != nil {
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// AbortRun requests a graceful abort. READY runs abort immediately;
// RUNNING runs move to ABORTING until the SDK reports the final exit.
func (h *Handler) AbortRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	run, err := h.store.GetRun(runID)
	if err != nil {
		if errors.Is(err, storage.ErrRunNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}

	target := models.RunStatusAborting
	if run.Status == models.RunStatusReady {
		target = models.RunStatusAborted
	}
	if err := h.store.TransitionRunStatus(runID, target, "abort requested"); err != nil {
		h.transitionError(w, runID, err)
		return
	}

	h.log.Info("Run abort requested", map[string]interface{}{"run_id": runID, "status": string(target)})

	run, err = h.store.GetRun(runID)
	if err != nil {
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// RebootRun moves a RUNNING run back to READY so a fresh container can
// pick it up, keeping the run ID and its storages.
func (h *Handler) RebootRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	if err := h.store.IncrementRebootCount(runID); err != nil {
		h.transitionError(w, runID, err)
		return
	}

	h.log.Info("Run reboot requested", map[string]interface{}{"run_id": runID})

	run, err := h.store.GetRun(runID)
	if err != nil {
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// SetStatusMessage updates the run status message. Terminal messages
// win over later non-terminal ones.
func (h *Handler) SetStatusMessage(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	var update models.StatusMessageUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if update.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	if err := h.store.UpdateRunStatusMessage(runID, update.Message, update.IsTerminal); err != nil {
		if errors.Is(err, storage.ErrRunNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		h.log.Error("Failed to update status message", map[string]interface{}{"run_id": runID, "error": err.Error()})
		http.Error(w, "Failed to update status message", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "run_id": runID})
}

// FinishRun records the final exit code reported by the SDK
func (h *Handler) FinishRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	var finish models.RunFinish
	if err := json.NewDecoder(r.Body).Decode(&finish); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if finish.StatusMessage != "" {
		if err := h.store.UpdateRunStatusMessage(runID, finish.StatusMessage, true); err != nil && !errors.Is(err, storage.ErrRunNotFound) {
			h.log.Error("Failed to set terminal status message", map[string]interface{}{"run_id": runID, "error": err.Error()})
		}
	}

	if err := h.store.FinishRun(runID, finish.ExitCode); err != nil {
		if errors.Is(err, storage.ErrRunNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, models.ErrInvalidTransition) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.log.Error("Failed to finish run", map[string]interface{}{"run_id": runID, "error": err.Error()})
		http.Error(w, "Failed to finish run", http.StatusInternalServerError)
		return
	}

	run, err := h.store.GetRun(runID)
	if err != nil {
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.RunsFinished.WithLabelValues(string(run.Status)).Inc()
	}
	h.log.Info("Run finished", map[string]interface{}{
		"run_id":    runID,
		"exit_code": finish.ExitCode,
		"status":    string(run.Status),
	})

	writeJSON(w, http.StatusOK, run)
}

// GetOrCreateKeyValueStore resolves a key-value store by name
func (h *Handler) GetOrCreateKeyValueStore(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name parameter is required", http.StatusBadRequest)
		return
	}
	info, err := h.store.GetOrCreateKeyValueStore(name)
	if err != nil {
		h.log.Error("Failed to open key-value store", map[string]interface{}{"name": name, "error": err.Error()})
		http.Error(w, "Failed to open key-value store", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetKeyValueStore retrieves store metadata by ID
func (h *Handler) GetKeyValueStore(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.GetKeyValueStore(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, storage.ErrStoreNotFound) {
			http.Error(w, "Store not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get store", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetRecord retrieves one record
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rec, err := h.store.GetRecord(vars["id"], vars["key"])
	if err != nil {
		if errors.Is(err, storage.ErrStoreNotFound) || errors.Is(err, storage.ErrRecordNotFound) {
			http.Error(w, "Record not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get record", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// SetRecord stores one record
func (h *Handler) SetRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var rec models.KeyValueRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	rec.Key = vars["key"]
	if rec.ContentType == "" {
		rec.ContentType = "application/json"
	}

	if err := h.store.SetRecord(vars["id"], &rec); err != nil {
		if errors.Is(err, storage.ErrStoreNotFound) {
			http.Error(w, "Store not found", http.StatusNotFound)
			return
		}
		h.log.Error("Failed to set record", map[string]interface{}{"key": rec.Key, "error": err.Error()})
		http.Error(w, "Failed to set record", http.StatusInternalServerError)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordsWritten.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored", "key": rec.Key})
}

// DeleteRecord removes one record; deleting a missing key succeeds
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.store.DeleteRecord(vars["id"], vars["key"]); err != nil {
		if errors.Is(err, storage.ErrStoreNotFound) {
			http.Error(w, "Store not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to delete record", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "key": vars["key"]})
}

// ListKeys lists record keys, paged by exclusive_start_key
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", storage.DefaultListLimit)
	listing, err := h.store.ListKeys(mux.Vars(r)["id"], r.URL.Query().Get("exclusive_start_key"), limit)
	if err != nil {
		if errors.Is(err, storage.ErrStoreNotFound) {
			http.Error(w, "Store not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to list keys", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// GetOrCreateDataset resolves a dataset by name
func (h *Handler) GetOrCreateDataset(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name parameter is required", http.StatusBadRequest)
		return
	}
	info, err := h.store.GetOrCreateDataset(name)
	if err != nil {
		h.log.Error("Failed to open dataset", map[string]interface{}{"name": name, "error": err.Error()})
		http.Error(w, "Failed to open dataset", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetDataset retrieves dataset metadata by ID
func (h *Handler) GetDataset(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.GetDataset(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, storage.ErrDatasetNotFound) {
			http.Error(w, "Dataset not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get dataset", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// PushItems appends items to a dataset
func (h *Handler) PushItems(w http.ResponseWriter, r *http.Request) {
	var items []models.DatasetItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.store.PushItems(mux.Vars(r)["id"], items); err != nil {
		if errors.Is(err, storage.ErrDatasetNotFound) {
			http.Error(w, "Dataset not found", http.StatusNotFound)
			return
		}
		h.log.Error("Failed to push items", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to push items", http.StatusInternalServerError)
		return
	}
	if h.metrics != nil {
		h.metrics.ItemsPushed.Add(float64(len(items)))
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"status": "pushed", "count": len(items)})
}

// ListItems retrieves a page of dataset items
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", storage.DefaultListLimit)
	listing, err := h.store.ListItems(mux.Vars(r)["id"], offset, limit)
	if err != nil {
		if errors.Is(err, storage.ErrDatasetNotFound) {
			http.Error(w, "Dataset not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to list items", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// Health returns the health status of the platform, including storage
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.HealthCheck(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) transitionError(w http.ResponseWriter, runID string, err error) {
	if errors.Is(err, storage.ErrRunNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, models.ErrInvalidTransition) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	h.log.Error("Run transition failed", map[string]interface{}{"run_id": runID, "error": err.Error()})
	http.Error(w, "Failed to update run", http.StatusInternalServerError)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
