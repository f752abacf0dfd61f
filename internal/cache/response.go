package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/bibharvest/internal/harvest"
	"github.com/JakeFAU/bibharvest/internal/metrics"
	"github.com/JakeFAU/bibharvest/internal/store"
)

// Request kinds, used as log fields and metric labels.
const (
	KindGet      = "get"
	KindPostForm = "post-form"
	KindPostJSON = "post-json"
)

// Response memoizes raw response bodies by request identity. Entries are never refreshed, and
// every new entry is written through to the store before the body is handed back.
type Response struct {
	mu        sync.Mutex
	store     store.Store
	transport harvest.Transport
	data      map[string]string
	logger    *zap.Logger
	hits      int
	misses    int
}

// OpenResponse loads the full snapshot from st. An empty snapshot is written back immediately
// so the durable file exists from the start of the run.
func OpenResponse(
	ctx context.Context,
	st store.Store,
	transport harvest.Transport,
	logger *zap.Logger,
) (*Response, error) {
	if st == nil {
		return nil, fmt.Errorf("response cache store is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("response cache transport is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	raw, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load response cache: %w", err)
	}
	data := make(map[string]string, len(raw))
	for key, value := range raw {
		var body string
		if err := json.Unmarshal(value, &body); err != nil {
			return nil, fmt.Errorf("decode cached response %q: %w", key, err)
		}
		data[key] = body
	}
	c := &Response{
		store:     st,
		transport: transport,
		data:      data,
		logger:    logger,
	}
	if len(data) == 0 {
		logger.Info("no cached responses, starting empty")
		if err := c.saveLocked(ctx); err != nil {
			return nil, err
		}
	} else {
		logger.Info("response cache loaded", zap.Int("entries", len(data)))
	}
	return c, nil
}

// Get returns the body of GET url.
func (c *Response) Get(ctx context.Context, url string) (string, error) {
	return c.fetch(ctx, KindGet, url, url, "", func() (harvest.Response, error) {
		return c.transport.Get(ctx, url)
	})
}

// PostForm returns the body of a form-encoded POST. The cache key is url followed by the
// canonical JSON form of payload.
func (c *Response) PostForm(ctx context.Context, url string, payload map[string]string) (string, error) {
	key, body, err := postKey(url, payload)
	if err != nil {
		return "", err
	}
	return c.fetch(ctx, KindPostForm, key, url, string(body), func() (harvest.Response, error) {
		return c.transport.PostForm(ctx, url, payload)
	})
}

// PostJSON returns the body of a JSON POST. The canonical encoding of payload is both the
// request body and the cache key suffix.
func (c *Response) PostJSON(ctx context.Context, url string, payload any) (string, error) {
	key, body, err := postKey(url, payload)
	if err != nil {
		return "", err
	}
	return c.fetch(ctx, KindPostJSON, key, url, string(body), func() (harvest.Response, error) {
		return c.transport.PostJSON(ctx, url, body)
	})
}

// Has reports whether key is cached.
func (c *Response) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

// Len returns the number of cached responses.
func (c *Response) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Stats returns how many lookups were hits and misses since the cache was opened.
func (c *Response) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Response) fetch(
	ctx context.Context,
	kind, key, url, payload string,
	call func() (harvest.Response, error),
) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if body, ok := c.data[key]; ok {
		c.hits++
		metrics.ObserveCacheRequest(kind, true)
		c.logger.Debug("cache hit", zap.String("kind", kind), zap.String("key", key))
		return body, nil
	}
	c.misses++
	metrics.ObserveCacheRequest(kind, false)
	c.logger.Info("fetching", zap.String("kind", kind), zap.String("url", url), zap.String("payload", payload))

	resp, err := call()
	if err != nil {
		metrics.ObserveTransportFailure(url)
		return "", &harvest.TransportError{Method: methodOf(kind), URL: url, Payload: payload, Err: err}
	}
	metrics.ObserveFetch(url, resp.Duration)
	c.logger.Info("fetched",
		zap.String("url", url),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", resp.Duration),
		zap.Int("bytes", len(resp.Body)),
	)
	if resp.StatusCode != http.StatusOK {
		metrics.ObserveTransportFailure(url)
		return "", &harvest.TransportError{
			Method:     methodOf(kind),
			URL:        url,
			Payload:    payload,
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
		}
	}

	body := validUTF8(resp.Body)
	c.data[key] = body
	if err := c.saveLocked(ctx); err != nil {
		delete(c.data, key)
		return "", err
	}
	return body, nil
}

func (c *Response) saveLocked(ctx context.Context) error {
	snapshot := make(map[string]json.RawMessage, len(c.data))
	for key, body := range c.data {
		encoded, err := encode(body)
		if err != nil {
			return fmt.Errorf("encode cached response %q: %w", key, err)
		}
		snapshot[key] = encoded
	}
	if err := c.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("save response cache: %w", err)
	}
	c.logger.Debug("response cache saved", zap.Int("entries", len(c.data)))
	return nil
}

// validUTF8 replaces each invalid byte with U+FFFD, the same substitution encoding/json makes
// when the snapshot is written, so a body reads the same before and after a reload.
func validUTF8(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	var b strings.Builder
	b.Grow(len(raw))
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
		} else {
			b.Write(raw[:size])
		}
		raw = raw[size:]
	}
	return b.String()
}

func methodOf(kind string) string {
	if kind == KindGet {
		return http.MethodGet
	}
	return http.MethodPost
}
