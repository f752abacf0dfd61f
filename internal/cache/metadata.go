package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/bibharvest/internal/harvest"
	"github.com/JakeFAU/bibharvest/internal/metrics"
	"github.com/JakeFAU/bibharvest/internal/store"
)

// Metadata maps DOIs to metadata entries. Unlike Response it is only written to the store
// when Persist is called.
type Metadata struct {
	mu     sync.RWMutex
	store  store.Store
	data   map[string]harvest.Metadata
	logger *zap.Logger
}

// OpenMetadata loads the full snapshot from st.
func OpenMetadata(ctx context.Context, st store.Store, logger *zap.Logger) (*Metadata, error) {
	if st == nil {
		return nil, fmt.Errorf("metadata cache store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	raw, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load metadata cache: %w", err)
	}
	data := make(map[string]harvest.Metadata, len(raw))
	for doi, value := range raw {
		m, err := decodeMetadata(value)
		if err != nil {
			return nil, fmt.Errorf("decode metadata %q: %w", doi, err)
		}
		data[doi] = m
	}
	c := &Metadata{store: st, data: data, logger: logger}
	if len(data) == 0 {
		logger.Info("no cached DOI metadata, starting empty")
		if err := c.Persist(ctx); err != nil {
			return nil, err
		}
	} else {
		logger.Info("metadata cache loaded", zap.Int("entries", len(data)))
	}
	return c, nil
}

// Has reports whether doi has an entry. The unknown-DOI sentinel never does.
func (c *Metadata) Has(doi string) bool {
	if !harvest.IsKnownDOI(doi) {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.data[doi]
	return ok
}

// Get returns the entry for doi, or a *harvest.KeyNotFoundError.
func (c *Metadata) Get(doi string) (harvest.Metadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.data[doi]
	if !ok {
		return harvest.Metadata{}, &harvest.KeyNotFoundError{Key: doi}
	}
	return m, nil
}

// Put stores m under doi unless an entry already exists, and returns the stored entry.
func (c *Metadata) Put(doi string, m harvest.Metadata) (harvest.Metadata, error) {
	if !harvest.IsKnownDOI(doi) {
		return harvest.Metadata{}, harvest.ErrSentinelKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.data[doi]; ok {
		return existing, nil
	}
	c.data[doi] = m
	metrics.ObserveMetadataEntry(string(m.Kind))
	return m, nil
}

// Len returns the number of entries.
func (c *Metadata) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Persist rewrites the whole snapshot.
func (c *Metadata) Persist(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]json.RawMessage, len(c.data))
	for doi, m := range c.data {
		encoded, err := encode(m)
		if err != nil {
			return fmt.Errorf("encode metadata %q: %w", doi, err)
		}
		snapshot[doi] = encoded
	}
	if err := c.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("save metadata cache: %w", err)
	}
	c.logger.Info("metadata cache saved", zap.Int("entries", len(c.data)))
	return nil
}

// decodeMetadata reads a tagged entry. Untagged objects (flat field maps written by older
// tooling) are read as raw fields.
func decodeMetadata(value json.RawMessage) (harvest.Metadata, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(value, &fields); err != nil {
		return harvest.Metadata{}, err
	}
	if _, tagged := fields["kind"]; tagged {
		var m harvest.Metadata
		if err := json.Unmarshal(value, &m); err != nil {
			return harvest.Metadata{}, err
		}
		switch m.Kind {
		case harvest.KindRaw, harvest.KindBibtex:
			return m, nil
		default:
			return harvest.Metadata{}, fmt.Errorf("unknown metadata kind %q", m.Kind)
		}
	}
	flat := make(map[string]string, len(fields))
	for k, v := range fields {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			flat[k] = s
			continue
		}
		flat[k] = string(v)
	}
	return harvest.RawMetadata(flat), nil
}
