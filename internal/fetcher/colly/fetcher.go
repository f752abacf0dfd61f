// Package collyfetcher implements harvest.Transport using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/bibharvest/internal/harvest"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodyBytes caps response bodies. Zero keeps the colly default.
	MaxBodyBytes int
	Headers      http.Header
}

// Transport performs one uncached round-trip per call on a fresh clone of a base collector.
type Transport struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Transport.
func New(cfg Config) *Transport {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Transport{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Get issues a GET.
func (t *Transport) Get(ctx context.Context, url string) (harvest.Response, error) {
	return t.do(ctx, url, func(c *colly.Collector) error {
		return c.Visit(url)
	})
}

// PostForm issues a form-encoded POST.
func (t *Transport) PostForm(ctx context.Context, url string, form map[string]string) (harvest.Response, error) {
	return t.do(ctx, url, func(c *colly.Collector) error {
		return c.Post(url, form)
	})
}

// PostJSON issues a POST with body sent as application/json.
func (t *Transport) PostJSON(ctx context.Context, url string, body []byte) (harvest.Response, error) {
	hdr := http.Header{}
	hdr.Set("Content-Type", "application/json")
	return t.do(ctx, url, func(c *colly.Collector) error {
		return c.Request(http.MethodPost, url, bytes.NewReader(body), nil, hdr)
	})
}

func (t *Transport) do(ctx context.Context, url string, send func(*colly.Collector) error) (harvest.Response, error) {
	var (
		result   harvest.Response
		fetchErr error
	)
	collector := t.buildCollector(time.Now(), &result, &fetchErr)
	if err := t.runCollector(ctx, collector, url, send, &fetchErr); err != nil {
		return harvest.Response{}, err
	}
	return result, nil
}

func (t *Transport) buildCollector(start time.Time, result *harvest.Response, fetchErr *error) *colly.Collector {
	collector := t.baseCollector.Clone()
	if t.cfg.UserAgent != "" {
		collector.UserAgent = t.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !t.cfg.RespectRobots
	if t.cfg.MaxBodyBytes > 0 {
		collector.MaxBodySize = t.cfg.MaxBodyBytes
	}
	timeout := t.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	base := t.transport
	if base == nil {
		base = newHTTPTransport()
	}
	collector.WithTransport(base)

	t.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (t *Transport) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *harvest.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		t.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = harvest.Response{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (t *Transport) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	send func(*colly.Collector) error,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		done <- send(collector)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly request to %s canceled: %w", url, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly request to %s failed: %w", url, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response from %s failed: %w", url, *fetchErr)
		}
		return nil
	}
}

func (t *Transport) copyHeaders(r *colly.Request) {
	for key, values := range t.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
