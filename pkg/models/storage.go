package models

import (
	"time"
)

// KeyValueRecord is a single record in a key-value store
type KeyValueRecord struct {
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	Value       []byte `json:"value"`
}

// KeyValueStoreInfo describes a key-value store
type KeyValueStoreInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// RecordKey is one entry of a key listing
type RecordKey struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// KeyListing is a page of record keys
type KeyListing struct {
	Keys            []RecordKey `json:"keys"`
	Count           int         `json:"count"`
	Limit           int         `json:"limit"`
	ExclusiveStartKey string    `json:"exclusive_start_key,omitempty"`
	IsTruncated     bool        `json:"is_truncated"`
}

// DatasetInfo describes a dataset
type DatasetInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	ItemCount int       `json:"item_count"`
	CreatedAt time.Time `json:"created_at"`
}

// DatasetItem is one append-only item of a dataset
type DatasetItem map[string]interface{}

// ItemListing is a page of dataset items
type ItemListing struct {
	Items  []DatasetItem `json:"items"`
	Count  int           `json:"count"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
	Total  int           `json:"total"`
}
