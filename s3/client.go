// Package s3 implements a streaming client for S3-compatible object
// storage: Signature V2 request signing, transparent multipart upload with
// end-to-end MD5 verification, marker-based listing, and retry with
// exponential backoff.
package s3

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Client is the public surface: List, Get, Head, HeadThenGet, Put, Delete.
// Distinct operations are independent and may interleave at the transport
// level; the client performs no serialization across them.
type Client struct {
	mu   sync.RWMutex
	cfg  *Config
	http Transport

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a client from the given configuration, applying defaults for
// unset fields. If cfg.ConfigPath is set the TOML file is read first, with
// programmatic fields acting as overrides when non-zero.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	if cfg.ConfigPath != "" {
		if err := cfg.ReadConfig(); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Client{
		cfg:   cfg,
		http:  &http.Client{},
		now:   time.Now,
		sleep: sleepContext,
	}, nil
}

// SetTransport replaces the HTTP transport. Intended for tests and callers
// that need custom TLS or connection pooling behaviour.
func (c *Client) SetTransport(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.http = t
}

// Reconfigure applies configuration changes. Operations already in flight
// keep the snapshot they started with; the new values take effect for
// operations started afterwards.
func (c *Client) Reconfigure(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.cfg)
	c.cfg.applyDefaults()
}

// snapshot captures the immutable per-call settings.
func (c *Client) snapshot() settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.snapshot()
}

func (c *Client) transport() Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.http
}

func (c *Client) retrier(st settings) *retrier {
	r := newRetrier(st.maxRetries)
	r.sleep = c.sleep
	return r
}
