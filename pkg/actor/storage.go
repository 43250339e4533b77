package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/actorkit/actorkit/pkg/client"
	"github.com/actorkit/actorkit/pkg/models"
	"github.com/actorkit/actorkit/pkg/storage"
)

// ErrValueNotFound is returned when a key-value record does not exist
var ErrValueNotFound = errors.New("value not found")

// KeyValueStore is a handle on one key-value store, remote or local
type KeyValueStore struct {
	id     string
	name   string
	remote *client.Client // nil in local mode
	local  storage.Store
}

// ID returns the store ID
func (s *KeyValueStore) ID() string {
	return s.id
}

// GetValue reads a record and JSON-decodes it into out
func (s *KeyValueStore) GetValue(ctx context.Context, key string, out interface{}) error {
	rec, err := s.GetRecord(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(rec.Value, out); err != nil {
		return fmt.Errorf("failed to decode value for key %q: %w", key, err)
	}
	return nil
}

// SetValue JSON-encodes value and stores it under key
func (s *KeyValueStore) SetValue(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for key %q: %w", key, err)
	}
	return s.SetRecord(ctx, &models.KeyValueRecord{
		Key:         key,
		ContentType: "application/json",
		Value:       data,
	})
}

// GetRecord reads a raw record
func (s *KeyValueStore) GetRecord(ctx context.Context, key string) (*models.KeyValueRecord, error) {
	if s.remote != nil {
		rec, err := s.remote.GetRecord(ctx, s.id, key)
		if errors.Is(err, client.ErrNotFound) {
			return nil, ErrValueNotFound
		}
		return rec, err
	}
	rec, err := s.local.GetRecord(s.id, key)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return nil, ErrValueNotFound
	}
	return rec, err
}

// SetRecord stores a raw record
func (s *KeyValueStore) SetRecord(ctx context.Context, rec *models.KeyValueRecord) error {
	if s.remote != nil {
		return s.remote.SetRecord(ctx, s.id, rec)
	}
	return s.local.SetRecord(s.id, rec)
}

// Delete removes a record; deleting a missing key is not an error
func (s *KeyValueStore) Delete(ctx context.Context, key string) error {
	if s.remote != nil {
		return s.remote.DeleteRecord(ctx, s.id, key)
	}
	return s.local.DeleteRecord(s.id, key)
}

// ListKeys returns a page of record keys
func (s *KeyValueStore) ListKeys(ctx context.Context, exclusiveStartKey string, limit int) (*models.KeyListing, error) {
	if s.remote != nil {
		return s.remote.ListKeys(ctx, s.id, exclusiveStartKey, limit)
	}
	return s.local.ListKeys(s.id, exclusiveStartKey, limit)
}

// Dataset is a handle on one append-only dataset, remote or local
type Dataset struct {
	id     string
	name   string
	remote *client.Client // nil in local mode
	local  storage.Store
}

// ID returns the dataset ID
func (d *Dataset) ID() string {
	return d.id
}

// PushData appends items to the dataset
func (d *Dataset) PushData(ctx context.Context, items ...models.DatasetItem) error {
	if len(items) == 0 {
		return nil
	}
	if d.remote != nil {
		return d.remote.PushItems(ctx, d.id, items)
	}
	return d.local.PushItems(d.id, items)
}

// ListItems returns a page of dataset items
func (d *Dataset) ListItems(ctx context.Context, offset, limit int) (*models.ItemListing, error) {
	if d.remote != nil {
		return d.remote.ListItems(ctx, d.id, offset, limit)
	}
	return d.local.ListItems(d.id, offset, limit)
}
