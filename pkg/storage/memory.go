package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/actorkit/actorkit/pkg/models"
)

// MemoryStore is an in-memory implementation of the data store.
// It is the default for tests and for short-lived emulator sessions.
type MemoryStore struct {
	runs     map[string]*models.Run
	kvStores map[string]*kvStore
	datasets map[string]*dataset

	runsMu sync.RWMutex
	kvMu   sync.RWMutex
	dsMu   sync.RWMutex
}

type kvStore struct {
	info    models.KeyValueStoreInfo
	records map[string]*models.KeyValueRecord
}

type dataset struct {
	info  models.DatasetInfo
	items []models.DatasetItem
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:     make(map[string]*models.Run),
		kvStores: make(map[string]*kvStore),
		datasets: make(map[string]*dataset),
	}
}

// Run operations

// CreateRun adds a run to the store
func (s *MemoryStore) CreateRun(run *models.Run) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	s.runs[run.ID] = run
	return nil
}

// GetRun retrieves a run by ID
func (s *MemoryStore) GetRun(id string) (*models.Run, error) {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	copied := *run
	return &copied, nil
}

// ListRuns returns all runs ordered by start time
func (s *MemoryStore) ListRuns() ([]*models.Run, error) {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()

	runs := make([]*models.Run, 0, len(s.runs))
	for _, run := range s.runs {
		copied := *run
		runs = append(runs, &copied)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs, nil
}

// TransitionRunStatus moves a run through the status FSM
func (s *MemoryStore) TransitionRunStatus(id string, to models.RunStatus, reason string) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	if err := models.ValidateTransition(run.Status, to); err != nil {
		return err
	}

	run.StateTransitions = append(run.StateTransitions, models.StatusTransition{
		From:      run.Status,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	})
	run.Status = to
	return nil
}

// UpdateRunStatusMessage updates the externally visible status message
func (s *MemoryStore) UpdateRunStatusMessage(id, message string, terminal bool) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	// A terminal status message must not be overwritten by later updates
	if run.IsStatusMessageTerminal {
		return nil
	}
	run.StatusMessage = message
	run.IsStatusMessageTerminal = terminal
	return nil
}

// FinishRun records the exit code and final status of a run
func (s *MemoryStore) FinishRun(id string, exitCode int) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}

	to := models.StatusForExitCode(exitCode)
	if run.Status == models.RunStatusAborting {
		to = models.RunStatusAborted
	} else if run.Status == models.RunStatusTimingOut {
		to = models.RunStatusTimedOut
	}
	if err := models.ValidateTransition(run.Status, to); err != nil {
		return err
	}

	now := time.Now()
	run.StateTransitions = append(run.StateTransitions, models.StatusTransition{
		From:      run.Status,
		To:        to,
		Timestamp: now,
		Reason:    "run finished",
	})
	run.Status = to
	run.ExitCode = &exitCode
	run.FinishedAt = &now
	return nil
}

// IncrementRebootCount bumps the reboot counter and resets the run to READY
func (s *MemoryStore) IncrementRebootCount(id string) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	if err := models.ValidateTransition(run.Status, models.RunStatusReady); err != nil {
		return err
	}
	run.RebootCount++
	run.Status = models.RunStatusReady
	return nil
}

// Key-value store operations

// GetOrCreateKeyValueStore returns the named store, creating it if needed
func (s *MemoryStore) GetOrCreateKeyValueStore(name string) (*models.KeyValueStoreInfo, error) {
	s.kvMu.Lock()
	defer s.kvMu.Unlock()

	for _, ks := range s.kvStores {
		if ks.info.Name == name {
			ks.info.AccessedAt = time.Now()
			info := ks.info
			return &info, nil
		}
	}

	now := time.Now()
	ks := &kvStore{
		info: models.KeyValueStoreInfo{
			ID:         uuid.New().String(),
			Name:       name,
			CreatedAt:  now,
			AccessedAt: now,
		},
		records: make(map[string]*models.KeyValueRecord),
	}
	s.kvStores[ks.info.ID] = ks
	info := ks.info
	return &info, nil
}

// GetKeyValueStore retrieves store metadata by ID
func (s *MemoryStore) GetKeyValueStore(id string) (*models.KeyValueStoreInfo, error) {
	s.kvMu.RLock()
	defer s.kvMu.RUnlock()

	ks, ok := s.kvStores[id]
	if !ok {
		return nil, ErrStoreNotFound
	}
	info := ks.info
	return &info, nil
}

// GetRecord retrieves a record by key
func (s *MemoryStore) GetRecord(storeID, key string) (*models.KeyValueRecord, error) {
	s.kvMu.RLock()
	defer s.kvMu.RUnlock()

	ks, ok := s.kvStores[storeID]
	if !ok {
		return nil, ErrStoreNotFound
	}
	rec, ok := ks.records[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	copied := *rec
	return &copied, nil
}

// SetRecord stores or overwrites a record
func (s *MemoryStore) SetRecord(storeID string, rec *models.KeyValueRecord) error {
	s.kvMu.Lock()
	defer s.kvMu.Unlock()

	ks, ok := s.kvStores[storeID]
	if !ok {
		return ErrStoreNotFound
	}
	copied := *rec
	ks.records[rec.Key] = &copied
	ks.info.AccessedAt = time.Now()
	return nil
}

// DeleteRecord removes a record; deleting a missing key is not an error
func (s *MemoryStore) DeleteRecord(storeID, key string) error {
	s.kvMu.Lock()
	defer s.kvMu.Unlock()

	ks, ok := s.kvStores[storeID]
	if !ok {
		return ErrStoreNotFound
	}
	delete(ks.records, key)
	return nil
}

// ListKeys returns a lexicographically ordered page of record keys
func (s *MemoryStore) ListKeys(storeID, exclusiveStartKey string, limit int) (*models.KeyListing, error) {
	s.kvMu.RLock()
	defer s.kvMu.RUnlock()

	ks, ok := s.kvStores[storeID]
	if !ok {
		return nil, ErrStoreNotFound
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	keys := make([]string, 0, len(ks.records))
	for k := range ks.records {
		if k > exclusiveStartKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	listing := &models.KeyListing{
		Limit:             limit,
		ExclusiveStartKey: exclusiveStartKey,
	}
	for _, k := range keys {
		if len(listing.Keys) >= limit {
			listing.IsTruncated = true
			break
		}
		listing.Keys = append(listing.Keys, models.RecordKey{
			Key:  k,
			Size: int64(len(ks.records[k].Value)),
		})
	}
	listing.Count = len(listing.Keys)
	return listing, nil
}

// Dataset operations

// GetOrCreateDataset returns the named dataset, creating it if needed
func (s *MemoryStore) GetOrCreateDataset(name string) (*models.DatasetInfo, error) {
	s.dsMu.Lock()
	defer s.dsMu.Unlock()

	for _, ds := range s.datasets {
		if ds.info.Name == name {
			info := ds.info
			return &info, nil
		}
	}

	ds := &dataset{
		info: models.DatasetInfo{
			ID:        uuid.New().String(),
			Name:      name,
			CreatedAt: time.Now(),
		},
	}
	s.datasets[ds.info.ID] = ds
	info := ds.info
	return &info, nil
}

// GetDataset retrieves dataset metadata by ID
func (s *MemoryStore) GetDataset(id string) (*models.DatasetInfo, error) {
	s.dsMu.RLock()
	defer s.dsMu.RUnlock()

	ds, ok := s.datasets[id]
	if !ok {
		return nil, ErrDatasetNotFound
	}
	info := ds.info
	return &info, nil
}

// PushItems appends items to a dataset
func (s *MemoryStore) PushItems(datasetID string, items []models.DatasetItem) error {
	s.dsMu.Lock()
	defer s.dsMu.Unlock()

	ds, ok := s.datasets[datasetID]
	if !ok {
		return ErrDatasetNotFound
	}
	ds.items = append(ds.items, items...)
	ds.info.ItemCount = len(ds.items)
	return nil
}

// ListItems returns a page of dataset items in insertion order
func (s *MemoryStore) ListItems(datasetID string, offset, limit int) (*models.ItemListing, error) {
	s.dsMu.RLock()
	defer s.dsMu.RUnlock()

	ds, ok := s.datasets[datasetID]
	if !ok {
		return nil, ErrDatasetNotFound
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	end := offset + limit
	if offset > len(ds.items) {
		offset = len(ds.items)
	}
	if end > len(ds.items) {
		end = len(ds.items)
	}

	items := make([]models.DatasetItem, end-offset)
	copy(items, ds.items[offset:end])

	return &models.ItemListing{
		Items:  items,
		Count:  len(items),
		Offset: offset,
		Limit:  limit,
		Total:  len(ds.items),
	}, nil
}

// Lifecycle

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}

// HealthCheck is a no-op for the memory store
func (s *MemoryStore) HealthCheck() error {
	return nil
}
