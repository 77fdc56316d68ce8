// Package remote fetches objects from an objectloader-compatible HTTP server.
//
// Batches are requested with POST {url}/objects/batch and a JSON body
// {"ids": [...]}; the response streams object lines. Single objects come from
// GET {url}/objects/{id}. Network errors and 5xx responses are retried with
// exponential backoff; 4xx responses are not.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/transport"
)

// Config configures a Downloader.
type Config struct {
	URL   string `mapstructure:"url" yaml:"url" validate:"required,url"`
	Token string `mapstructure:"token" yaml:"token,omitempty"`

	// Timeout bounds one HTTP attempt.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries      uint64        `mapstructure:"max_retries" yaml:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
}

// DefaultConfig returns retry settings suitable for a remote server.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		MaxRetries:      5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: unexpected status %d: %s", e.Code, e.Body)
}

// Downloader fetches objects over HTTP.
type Downloader struct {
	cfg    Config
	base   *url.URL
	client *http.Client
}

// New creates a Downloader for cfg.URL.
func New(cfg Config) (*Downloader, error) {
	d := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = d.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = d.MaxInterval
	}

	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: invalid url %q", cfg.URL)
	}

	return &Downloader{
		cfg:    cfg,
		base:   u,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (d *Downloader) Name() string { return "http" }

// FetchBatch requests ids in one call.
func (d *Downloader) FetchBatch(ctx context.Context, ids []string) ([]base.Item, error) {
	body, err := json.Marshal(struct {
		IDs []string `json:"ids"`
	}{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("encode batch request: %w", err)
	}

	var items []base.Item
	err = d.retry(ctx, "batch", func() error {
		items = items[:0]
		resp, err := d.do(ctx, http.MethodPost, "objects/batch", body)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		return transport.ReadLines(resp.Body, func(it base.Item) error {
			items = append(items, it)
			return nil
		}, func(line []byte, err error) {
			logger.Warn("Skipping malformed object line",
				logger.KeyURL, d.cfg.URL,
				logger.KeyBytes, len(line),
				logger.KeyError, err)
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// FetchSingle requests one object.
func (d *Downloader) FetchSingle(ctx context.Context, id string) (base.Item, error) {
	var it base.Item
	err := d.retry(ctx, "single", func() error {
		resp, err := d.do(ctx, http.MethodGet, "objects/"+url.PathEscape(id), nil)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read object %s: %w", id, err)
		}
		it, err = base.NewItemFromJSON(raw)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("decode object %s: %w", id, err))
		}
		return nil
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return base.Item{}, fmt.Errorf("%s: %w", id, transport.ErrNotFound)
		}
		return base.Item{}, err
	}
	return it, nil
}

// do sends one request and returns the response for a 2xx status. Errors
// that must not be retried are wrapped with backoff.Permanent.
func (d *Downloader) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.base.JoinPath(path).String(), r)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.Token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_ = resp.Body.Close()
	se := &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, se
	}
	return nil, backoff.Permanent(se)
}

func (d *Downloader) retry(ctx context.Context, op string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.cfg.InitialInterval
	eb.MaxInterval = d.cfg.MaxInterval
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(eb, d.cfg.MaxRetries)
	b = backoff.WithContext(b, ctx)

	attempt := 0
	return backoff.RetryNotify(fn, b, func(err error, wait time.Duration) {
		attempt++
		logger.Debug("Retrying remote fetch",
			logger.KeyMethod, op,
			logger.KeyAttempt, attempt,
			logger.KeyDurationMs, float64(wait.Microseconds())/1000,
			logger.KeyError, err)
	})
}

var _ transport.Downloader = (*Downloader)(nil)
