// Package store defines the durable snapshot interface shared by the request and DOI caches.
package store

import (
	"context"
	"encoding/json"
)

// Store persists a whole key/value snapshot. Load returns an empty map when nothing has been
// saved yet; Save replaces the previous snapshot in full.
type Store interface {
	Load(ctx context.Context) (map[string]json.RawMessage, error)
	Save(ctx context.Context, data map[string]json.RawMessage) error
	Close() error
}

// Namespaces keep the two caches apart when they share one database.
const (
	NamespaceResponses = "responses"
	NamespaceMetadata  = "metadata"
)
