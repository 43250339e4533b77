package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/actorkit/actorkit/pkg/models"
)

// PostgresStore implements Store using PostgreSQL, for shared emulator
// deployments where multiple actors hit the same backend.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(config Config) (*PostgresStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		status TEXT NOT NULL,
		status_message TEXT NOT NULL DEFAULT '',
		status_message_terminal BOOLEAN NOT NULL DEFAULT FALSE,
		exit_code INTEGER,
		origin TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		reboot_count INTEGER NOT NULL DEFAULT 0,
		default_kv_store_id TEXT NOT NULL DEFAULT '',
		default_dataset_id TEXT NOT NULL DEFAULT '',
		transitions JSONB NOT NULL DEFAULT '[]'
	);
	CREATE TABLE IF NOT EXISTS kv_stores (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL,
		accessed_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS kv_records (
		store_id TEXT NOT NULL REFERENCES kv_stores(id),
		key TEXT NOT NULL,
		content_type TEXT NOT NULL,
		value BYTEA NOT NULL,
		PRIMARY KEY (store_id, key)
	);
	CREATE TABLE IF NOT EXISTS datasets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS dataset_items (
		dataset_id TEXT NOT NULL REFERENCES datasets(id),
		seq INTEGER NOT NULL,
		item JSONB NOT NULL,
		PRIMARY KEY (dataset_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Run operations

// CreateRun inserts a run row
func (s *PostgresStore) CreateRun(run *models.Run) error {
	transitions, err := json.Marshal(run.StateTransitions)
	if err != nil {
		return fmt.Errorf("failed to marshal transitions: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, actor_id, status, status_message, status_message_terminal,
			exit_code, origin, started_at, finished_at, reboot_count,
			default_kv_store_id, default_dataset_id, transitions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		run.ID, run.ActorID, string(run.Status), run.StatusMessage, run.IsStatusMessageTerminal,
		run.ExitCode, run.Origin, run.StartedAt, run.FinishedAt, run.RebootCount,
		run.DefaultKeyValueStoreID, run.DefaultDatasetID, string(transitions))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *PostgresStore) GetRun(id string) (*models.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, actor_id, status, status_message, status_message_terminal,
			exit_code, origin, started_at, finished_at, reboot_count,
			default_kv_store_id, default_dataset_id, transitions
		FROM runs WHERE id = $1`, id)

	var run models.Run
	var status, transitions string
	var exitCode sql.NullInt64
	var finishedAt sql.NullTime

	err := row.Scan(&run.ID, &run.ActorID, &status, &run.StatusMessage, &run.IsStatusMessageTerminal,
		&exitCode, &run.Origin, &run.StartedAt, &finishedAt, &run.RebootCount,
		&run.DefaultKeyValueStoreID, &run.DefaultDatasetID, &transitions)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Status = models.RunStatus(status)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if err := json.Unmarshal([]byte(transitions), &run.StateTransitions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transitions: %w", err)
	}
	return &run, nil
}

// ListRuns returns all runs ordered by start time
func (s *PostgresStore) ListRuns() ([]*models.Run, error) {
	rows, err := s.db.Query(`SELECT id FROM runs ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runs := make([]*models.Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// TransitionRunStatus moves a run through the status FSM
func (s *PostgresStore) TransitionRunStatus(id string, to models.RunStatus, reason string) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}
	if err := models.ValidateTransition(run.Status, to); err != nil {
		return err
	}

	transitions := append(run.StateTransitions, models.StatusTransition{
		From:      run.Status,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	})
	data, err := json.Marshal(transitions)
	if err != nil {
		return fmt.Errorf("failed to marshal transitions: %w", err)
	}

	// Guard against concurrent transitions: only update if the status is
	// still the one the FSM check saw.
	res, err := s.db.Exec(`UPDATE runs SET status = $1, transitions = $2 WHERE id = $3 AND status = $4`,
		string(to), string(data), id, string(run.Status))
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("concurrent status change detected for run %s", id)
	}
	return nil
}

// UpdateRunStatusMessage updates the externally visible status message
func (s *PostgresStore) UpdateRunStatusMessage(id, message string, terminal bool) error {
	res, err := s.db.Exec(`
		UPDATE runs SET status_message = $1, status_message_terminal = $2
		WHERE id = $3 AND status_message_terminal = FALSE`,
		message, terminal, id)
	if err != nil {
		return fmt.Errorf("failed to update status message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetRun(id); err != nil {
			return err
		}
	}
	return nil
}

// FinishRun records the exit code and final status of a run
func (s *PostgresStore) FinishRun(id string, exitCode int) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}

	to := models.StatusForExitCode(exitCode)
	if run.Status == models.RunStatusAborting {
		to = models.RunStatusAborted
	} else if run.Status == models.RunStatusTimingOut {
		to = models.RunStatusTimedOut
	}
	if err := s.TransitionRunStatus(id, to, "run finished"); err != nil {
		return err
	}

	_, err = s.db.Exec(`UPDATE runs SET exit_code = $1, finished_at = $2 WHERE id = $3`,
		exitCode, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// IncrementRebootCount bumps the reboot counter and resets the run to READY
func (s *PostgresStore) IncrementRebootCount(id string) error {
	if err := s.TransitionRunStatus(id, models.RunStatusReady, "reboot requested"); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE runs SET reboot_count = reboot_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment reboot count: %w", err)
	}
	return nil
}

// Key-value store operations

// GetOrCreateKeyValueStore returns the named store, creating it if needed
func (s *PostgresStore) GetOrCreateKeyValueStore(name string) (*models.KeyValueStoreInfo, error) {
	now := time.Now()
	info := models.KeyValueStoreInfo{
		ID:         uuid.New().String(),
		Name:       name,
		CreatedAt:  now,
		AccessedAt: now,
	}

	err := s.db.QueryRow(`
		INSERT INTO kv_stores (id, name, created_at, accessed_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET accessed_at = $4
		RETURNING id, name, created_at, accessed_at`,
		info.ID, info.Name, info.CreatedAt, info.AccessedAt).
		Scan(&info.ID, &info.Name, &info.CreatedAt, &info.AccessedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create kv store: %w", err)
	}
	return &info, nil
}

// GetKeyValueStore retrieves store metadata by ID
func (s *PostgresStore) GetKeyValueStore(id string) (*models.KeyValueStoreInfo, error) {
	var info models.KeyValueStoreInfo
	err := s.db.QueryRow(`SELECT id, name, created_at, accessed_at FROM kv_stores WHERE id = $1`, id).
		Scan(&info.ID, &info.Name, &info.CreatedAt, &info.AccessedAt)
	if err == sql.ErrNoRows {
		return nil, ErrStoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query kv store: %w", err)
	}
	return &info, nil
}

// GetRecord retrieves a record by key
func (s *PostgresStore) GetRecord(storeID, key string) (*models.KeyValueRecord, error) {
	if _, err := s.GetKeyValueStore(storeID); err != nil {
		return nil, err
	}

	rec := models.KeyValueRecord{Key: key}
	err := s.db.QueryRow(`SELECT content_type, value FROM kv_records WHERE store_id = $1 AND key = $2`,
		storeID, key).Scan(&rec.ContentType, &rec.Value)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query record: %w", err)
	}
	return &rec, nil
}

// SetRecord stores or overwrites a record
func (s *PostgresStore) SetRecord(storeID string, rec *models.KeyValueRecord) error {
	if _, err := s.GetKeyValueStore(storeID); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT INTO kv_records (store_id, key, content_type, value) VALUES ($1, $2, $3, $4)
		ON CONFLICT (store_id, key) DO UPDATE SET content_type = EXCLUDED.content_type, value = EXCLUDED.value`,
		storeID, rec.Key, rec.ContentType, rec.Value)
	if err != nil {
		return fmt.Errorf("failed to set record: %w", err)
	}

	_, err = s.db.Exec(`UPDATE kv_stores SET accessed_at = $1 WHERE id = $2`, time.Now(), storeID)
	return err
}

// DeleteRecord removes a record; deleting a missing key is not an error
func (s *PostgresStore) DeleteRecord(storeID, key string) error {
	if _, err := s.GetKeyValueStore(storeID); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM kv_records WHERE store_id = $1 AND key = $2`, storeID, key)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// ListKeys returns a lexicographically ordered page of record keys
func (s *PostgresStore) ListKeys(storeID, exclusiveStartKey string, limit int) (*models.KeyListing, error) {
	if _, err := s.GetKeyValueStore(storeID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.Query(`
		SELECT key, length(value) FROM kv_records
		WHERE store_id = $1 AND key > $2 ORDER BY key LIMIT $3`,
		storeID, exclusiveStartKey, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	listing := &models.KeyListing{
		Limit:             limit,
		ExclusiveStartKey: exclusiveStartKey,
	}
	for rows.Next() {
		var rk models.RecordKey
		if err := rows.Scan(&rk.Key, &rk.Size); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		if len(listing.Keys) >= limit {
			listing.IsTruncated = true
			break
		}
		listing.Keys = append(listing.Keys, rk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	listing.Count = len(listing.Keys)
	return listing, nil
}

// Dataset operations

// GetOrCreateDataset returns the named dataset, creating it if needed
func (s *PostgresStore) GetOrCreateDataset(name string) (*models.DatasetInfo, error) {
	info := models.DatasetInfo{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now(),
	}

	err := s.db.QueryRow(`
		INSERT INTO datasets (id, name, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, created_at`,
		info.ID, info.Name, info.CreatedAt).
		Scan(&info.ID, &info.Name, &info.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create dataset: %w", err)
	}
	return s.withItemCount(&info)
}

// GetDataset retrieves dataset metadata by ID
func (s *PostgresStore) GetDataset(id string) (*models.DatasetInfo, error) {
	var info models.DatasetInfo
	err := s.db.QueryRow(`SELECT id, name, created_at FROM datasets WHERE id = $1`, id).
		Scan(&info.ID, &info.Name, &info.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDatasetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset: %w", err)
	}
	return s.withItemCount(&info)
}

func (s *PostgresStore) withItemCount(info *models.DatasetInfo) (*models.DatasetInfo, error) {
	err := s.db.QueryRow(`SELECT COUNT(*) FROM dataset_items WHERE dataset_id = $1`, info.ID).
		Scan(&info.ItemCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	return info, nil
}

// PushItems appends items to a dataset
func (s *PostgresStore) PushItems(datasetID string, items []models.DatasetItem) error {
	info, err := s.GetDataset(datasetID)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	seq := info.ItemCount
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO dataset_items (dataset_id, seq, item) VALUES ($1, $2, $3)`,
			datasetID, seq, string(data)); err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
		seq++
	}
	return tx.Commit()
}

// ListItems returns a page of dataset items in insertion order
func (s *PostgresStore) ListItems(datasetID string, offset, limit int) (*models.ItemListing, error) {
	info, err := s.GetDataset(datasetID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(`
		SELECT item FROM dataset_items WHERE dataset_id = $1 ORDER BY seq LIMIT $2 OFFSET $3`,
		datasetID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	listing := &models.ItemListing{
		Offset: offset,
		Limit:  limit,
		Total:  info.ItemCount,
	}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		var item models.DatasetItem
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item: %w", err)
		}
		listing.Items = append(listing.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	listing.Count = len(listing.Items)
	return listing, nil
}

// Lifecycle

// Close closes the underlying database
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// HealthCheck pings the database
func (s *PostgresStore) HealthCheck() error {
	return s.db.Ping()
}
