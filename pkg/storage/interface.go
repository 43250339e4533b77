package storage

import (
	"errors"
	"time"

	"github.com/actorkit/actorkit/pkg/models"
)

var (
	ErrRunNotFound     = errors.New("run not found")
	ErrStoreNotFound   = errors.New("key-value store not found")
	ErrRecordNotFound  = errors.New("record not found")
	ErrDatasetNotFound = errors.New("dataset not found")

	ErrUnsupportedBackend = errors.New("unsupported storage backend")
)

// Store defines the persistence interface shared by the platform emulator
// and the SDK's local mode. Memory, SQLite and PostgreSQL implement it.
type Store interface {
	// Run operations
	CreateRun(run *models.Run) error
	GetRun(id string) (*models.Run, error)
	ListRuns() ([]*models.Run, error)
	// TransitionRunStatus enforces the run FSM; invalid transitions error.
	TransitionRunStatus(id string, to models.RunStatus, reason string) error
	UpdateRunStatusMessage(id, message string, terminal bool) error
	FinishRun(id string, exitCode int) error
	IncrementRebootCount(id string) error

	// Key-value store operations
	GetOrCreateKeyValueStore(name string) (*models.KeyValueStoreInfo, error)
	GetKeyValueStore(id string) (*models.KeyValueStoreInfo, error)
	GetRecord(storeID, key string) (*models.KeyValueRecord, error)
	SetRecord(storeID string, rec *models.KeyValueRecord) error
	DeleteRecord(storeID, key string) error
	ListKeys(storeID, exclusiveStartKey string, limit int) (*models.KeyListing, error)

	// Dataset operations
	GetOrCreateDataset(name string) (*models.DatasetInfo, error)
	GetDataset(id string) (*models.DatasetInfo, error)
	PushItems(datasetID string, items []models.DatasetItem) error
	ListItems(datasetID string, offset, limit int) (*models.ItemListing, error)

	// Lifecycle
	Close() error
	HealthCheck() error
}

// Config holds storage backend configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // Connection string (postgres) or file path (sqlite)

	// PostgreSQL pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgresStore(config)
	case "sqlite":
		path := config.DSN
		if path == "" {
			path = "actorkit.db"
		}
		return NewSQLiteStore(path)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, ErrUnsupportedBackend
	}
}

// DefaultListLimit caps listing page sizes when the caller passes zero
const DefaultListLimit = 1000
