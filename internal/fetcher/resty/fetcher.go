// Package restyfetcher implements harvest.Transport using go-resty.
package restyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/bibharvest/internal/harvest"
)

// Config controls the client.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Headers   http.Header
}

// Transport performs uncached round-trips with a shared resty client.
type Transport struct {
	client *resty.Client
}

// New builds a Transport. Redirects are followed; retries are disabled.
func New(cfg Config) *Transport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0)
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	for key, values := range cfg.Headers {
		for _, v := range values {
			client.Header.Add(key, v)
		}
	}
	return &Transport{client: client}
}

// Get issues a GET.
func (t *Transport) Get(ctx context.Context, url string) (harvest.Response, error) {
	resp, err := t.client.R().SetContext(ctx).Get(url)
	return toResponse(resp, err)
}

// PostForm issues a form-encoded POST.
func (t *Transport) PostForm(ctx context.Context, url string, form map[string]string) (harvest.Response, error) {
	resp, err := t.client.R().SetContext(ctx).SetFormData(form).Post(url)
	return toResponse(resp, err)
}

// PostJSON issues a POST with body sent as application/json.
func (t *Transport) PostJSON(ctx context.Context, url string, body []byte) (harvest.Response, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(url)
	return toResponse(resp, err)
}

func toResponse(resp *resty.Response, err error) (harvest.Response, error) {
	if err != nil {
		return harvest.Response{}, fmt.Errorf("resty request failed: %w", err)
	}
	return harvest.Response{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
		Duration:   resp.Time(),
	}, nil
}
