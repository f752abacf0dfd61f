package harvest

import (
	"context"
	"time"
)

// Response is what a Transport returns for one round-trip.
type Response struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Transport performs uncached HTTP round-trips. Non-2xx statuses are returned, not raised.
type Transport interface {
	Get(ctx context.Context, url string) (Response, error)
	PostForm(ctx context.Context, url string, form map[string]string) (Response, error)
	PostJSON(ctx context.Context, url string, body []byte) (Response, error)
}

// Fetcher returns raw response bodies, going to the network only on a cache miss.
type Fetcher interface {
	Get(ctx context.Context, url string) (string, error)
	PostForm(ctx context.Context, url string, payload map[string]string) (string, error)
	PostJSON(ctx context.Context, url string, payload any) (string, error)
}

// MetadataStore holds DOI metadata used for enrichment and merge.
type MetadataStore interface {
	Has(doi string) bool
	Get(doi string) (Metadata, error)
	Put(doi string, m Metadata) (Metadata, error)
	Persist(ctx context.Context) error
}

// Strategy turns one source description into records.
type Strategy interface {
	Harvest(ctx context.Context, source SourceDescription) ([]Record, error)
}
