package qc

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	httpClient  *http.Client
	logger      *slog.Logger
	cacheSize   int
	retries     uint64
	backoffBase time.Duration
	timeout     time.Duration
}

func defaultOptions() *options {
	return &options{
		logger:      slog.Default(),
		cacheSize:   128,
		retries:     3,
		backoffBase: 200 * time.Millisecond,
		timeout:     10 * time.Second,
	}
}

// WithHTTPClient replaces the HTTP client used to reach the service.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCacheSize bounds the number of cached results. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n uint64) Option {
	return func(o *options) {
		o.retries = n
	}
}

// WithBackoff sets the first retry delay; later delays grow exponentially.
func WithBackoff(d time.Duration) Option {
	return func(o *options) {
		o.backoffBase = d
	}
}

// WithTimeout bounds a single request. It is ignored when an HTTP client is
// supplied with WithHTTPClient.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}
