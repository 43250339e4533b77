package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/actorkit/actorkit/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the data store.
// It backs emulator persistence and the SDK's on-disk local mode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store at the given path
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL for concurrent readers, busy timeout to ride out writer contention,
	// immediate txlock so writes fail fast instead of deadlocking.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to avoid SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		status TEXT NOT NULL,
		status_message TEXT NOT NULL DEFAULT '',
		status_message_terminal INTEGER NOT NULL DEFAULT 0,
		exit_code INTEGER,
		origin TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		reboot_count INTEGER NOT NULL DEFAULT 0,
		default_kv_store_id TEXT NOT NULL DEFAULT '',
		default_dataset_id TEXT NOT NULL DEFAULT '',
		transitions TEXT NOT NULL DEFAULT '[]'
	);
	CREATE TABLE IF NOT EXISTS kv_stores (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL,
		accessed_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS kv_records (
		store_id TEXT NOT NULL,
		key TEXT NOT NULL,
		content_type TEXT NOT NULL,
		value BLOB NOT NULL,
		PRIMARY KEY (store_id, key),
		FOREIGN KEY (store_id) REFERENCES kv_stores(id)
	);
	CREATE TABLE IF NOT EXISTS datasets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS dataset_items (
		dataset_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		item TEXT NOT NULL,
		PRIMARY KEY (dataset_id, seq),
		FOREIGN KEY (dataset_id) REFERENCES datasets(id)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Run operations

// CreateRun inserts a run row
func (s *SQLiteStore) CreateRun(run *models.Run) error {
	transitions, err := json.Marshal(run.StateTransitions)
	if err != nil {
		return fmt.Errorf("failed to marshal transitions: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, actor_id, status, status_message, status_message_terminal,
			exit_code, origin, started_at, finished_at, reboot_count,
			default_kv_store_id, default_dataset_id, transitions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ActorID, string(run.Status), run.StatusMessage, boolToInt(run.IsStatusMessageTerminal),
		run.ExitCode, run.Origin, run.StartedAt, run.FinishedAt, run.RebootCount,
		run.DefaultKeyValueStoreID, run.DefaultDatasetID, string(transitions))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanRun(row *sql.Row) (*models.Run, error) {
	var run models.Run
	var status, transitions string
	var terminal int
	var exitCode sql.NullInt64
	var finishedAt sql.NullTime

	err := row.Scan(&run.ID, &run.ActorID, &status, &run.StatusMessage, &terminal,
		&exitCode, &run.Origin, &run.StartedAt, &finishedAt, &run.RebootCount,
		&run.DefaultKeyValueStoreID, &run.DefaultDatasetID, &transitions)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Status = models.RunStatus(status)
	run.IsStatusMessageTerminal = terminal != 0
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

const runColumns = `id, actor_id, status, status_message, status_message_terminal,
	exit_code, origin, started_at, finished_at, reboot_count,
	default_kv_store_id, default_dataset_id, transitions`

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(id string) (*models.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return s.scanRun(row)
}

// ListRuns returns all runs ordered by start time
func (s *SQLiteStore) ListRuns() ([]*models.Run, error) {
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
func (s *SQLiteStore) TransitionRunStatus(id string, to models.RunStatus, reason string) error {
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

	_, err = s.db.Exec(`UPDATE runs SET status = ?, transitions = ? WHERE id = ?`,
		string(to), string(data), id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

// UpdateRunStatusMessage updates the externally visible status message.
// A terminal message is final; later updates are silently ignored.
func (s *SQLiteStore) UpdateRunStatusMessage(id, message string, terminal bool) error {
	res, err := s.db.Exec(`
		UPDATE runs SET status_message = ?, status_message_terminal = ?
		WHERE id = ? AND status_message_terminal = 0`,
		message, boolToInt(terminal), id)
	if err != nil {
		return fmt.Errorf("failed to update status message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the run does not exist or the message is already terminal
		if _, err := s.GetRun(id); err != nil {
			return err
		}
	}
	return nil
}

// FinishRun records the exit code and final status of a run
func (s *SQLiteStore) FinishRun(id string, exitCode int) error {
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

	_, err = s.db.Exec(`UPDATE runs SET exit_code = ?, finished_at = ? WHERE id = ?`,
		exitCode, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// IncrementRebootCount bumps the reboot counter and resets the run to READY
func (s *SQLiteStore) IncrementRebootCount(id string) error {
	if err := s.TransitionRunStatus(id, models.RunStatusReady, "reboot requested"); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE runs SET reboot_count = reboot_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment reboot count: %w", err)
	}
	return nil
}

// Key-value store operations

// GetOrCreateKeyValueStore returns the named store, creating it if needed
func (s *SQLiteStore) GetOrCreateKeyValueStore(name string) (*models.KeyValueStoreInfo, error) {
	var info models.KeyValueStoreInfo
	err := s.db.QueryRow(`SELECT id, name, created_at, accessed_at FROM kv_stores WHERE name = ?`, name).
		Scan(&info.ID, &info.Name, &info.CreatedAt, &info.AccessedAt)
	if err == nil {
		return &info, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query kv store: %w", err)
	}

	now := time.Now()
	info = models.KeyValueStoreInfo{
		ID:         uuid.New().String(),
		Name:       name,
		CreatedAt:  now,
		AccessedAt: now,
	}
	_, err = s.db.Exec(`INSERT INTO kv_stores (id, name, created_at, accessed_at) VALUES (?, ?, ?, ?)`,
		info.ID, info.Name, info.CreatedAt, info.AccessedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create kv store: %w", err)
	}
	return &info, nil
}

// GetKeyValueStore retrieves store metadata by ID
func (s *SQLiteStore) GetKeyValueStore(id string) (*models.KeyValueStoreInfo, error) {
	var info models.KeyValueStoreInfo
	err := s.db.QueryRow(`SELECT id, name, created_at, accessed_at FROM kv_stores WHERE id = ?`, id).
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
func (s *SQLiteStore) GetRecord(storeID, key string) (*models.KeyValueRecord, error) {
	if _, err := s.GetKeyValueStore(storeID); err != nil {
		return nil, err
	}

	rec := models.KeyValueRecord{Key: key}
	err := s.db.QueryRow(`SELECT content_type, value FROM kv_records WHERE store_id = ? AND key = ?`,
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
func (s *SQLiteStore) SetRecord(storeID string, rec *models.KeyValueRecord) error {
	if _, err := s.GetKeyValueStore(storeID); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT INTO kv_records (store_id, key, content_type, value) VALUES (?, ?, ?, ?)
		ON CONFLICT(store_id, key) DO UPDATE SET content_type = excluded.content_type, value = excluded.value`,
		storeID, rec.Key, rec.ContentType, rec.Value)
	if err != nil {
		return fmt.Errorf("failed to set record: %w", err)
	}

	_, err = s.db.Exec(`UPDATE kv_stores SET accessed_at = ? WHERE id = ?`, time.Now(), storeID)
	return err
}

// DeleteRecord removes a record; deleting a missing key is not an error
func (s *SQLiteStore) DeleteRecord(storeID, key string) error {
	if _, err := s.GetKeyValueStore(storeID); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM kv_records WHERE store_id = ? AND key = ?`, storeID, key)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// ListKeys returns a lexicographically ordered page of record keys
func (s *SQLiteStore) ListKeys(storeID, exclusiveStartKey string, limit int) (*models.KeyListing, error) {
	if _, err := s.GetKeyValueStore(storeID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	// Fetch one extra row to detect truncation
	rows, err := s.db.Query(`
		SELECT key, length(value) FROM kv_records
		WHERE store_id = ? AND key > ? ORDER BY key LIMIT ?`,
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
func (s *SQLiteStore) GetOrCreateDataset(name string) (*models.DatasetInfo, error) {
	info, err := s.getDatasetByName(name)
	if err == nil {
		return info, nil
	}
	if err != ErrDatasetNotFound {
		return nil, err
	}

	created := models.DatasetInfo{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now(),
	}
	_, err = s.db.Exec(`INSERT INTO datasets (id, name, created_at) VALUES (?, ?, ?)`,
		created.ID, created.Name, created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset: %w", err)
	}
	return &created, nil
}

func (s *SQLiteStore) getDatasetByName(name string) (*models.DatasetInfo, error) {
	var info models.DatasetInfo
	err := s.db.QueryRow(`SELECT id, name, created_at FROM datasets WHERE name = ?`, name).
		Scan(&info.ID, &info.Name, &info.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDatasetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset: %w", err)
	}
	return s.withItemCount(&info)
}

// GetDataset retrieves dataset metadata by ID
func (s *SQLiteStore) GetDataset(id string) (*models.DatasetInfo, error) {
	var info models.DatasetInfo
	err := s.db.QueryRow(`SELECT id, name, created_at FROM datasets WHERE id = ?`, id).
		Scan(&info.ID, &info.Name, &info.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDatasetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset: %w", err)
	}
	return s.withItemCount(&info)
}

func (s *SQLiteStore) withItemCount(info *models.DatasetInfo) (*models.DatasetInfo, error) {
	err := s.db.QueryRow(`SELECT COUNT(*) FROM dataset_items WHERE dataset_id = ?`, info.ID).
		Scan(&info.ItemCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	return info, nil
}

// PushItems appends items to a dataset
func (s *SQLiteStore) PushItems(datasetID string, items []models.DatasetItem) error {
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
		if _, err := tx.Exec(`INSERT INTO dataset_items (dataset_id, seq, item) VALUES (?, ?, ?)`,
			datasetID, seq, string(data)); err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
		seq++
	}
	return tx.Commit()
}

// ListItems returns a page of dataset items in insertion order
func (s *SQLiteStore) ListItems(datasetID string, offset, limit int) (*models.ItemListing, error) {
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
		SELECT item FROM dataset_items WHERE dataset_id = ? ORDER BY seq LIMIT ? OFFSET ?`,
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
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck pings the database
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
