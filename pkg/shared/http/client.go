// Package http builds *http.Client instances with the timeout/retry/
// TLS knobs this codebase's outbound callers (object store, vision
// LLM, Prometheus scraping) each need, instead of relying on
// http.DefaultClient's unbounded defaults.
package http

import (
	"crypto/tls"
	"net/http"
	"time"
)

// ClientConfig configures an outbound HTTP client.
type ClientConfig struct {
	Timeout                 time.Duration
	MaxRetries              int
	DisableSSLVerification  bool
	MaxIdleConns            int
	IdleConnTimeout         time.Duration
	TLSHandshakeTimeout     time.Duration
	ResponseHeaderTimeout   time.Duration
}

// DefaultClientConfig returns the general-purpose outbound client
// configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:                30 * time.Second,
		MaxRetries:             3,
		DisableSSLVerification: false,
		MaxIdleConns:           10,
		IdleConnTimeout:        90 * time.Second,
		TLSHandshakeTimeout:    10 * time.Second,
		ResponseHeaderTimeout:  10 * time.Second,
	}
}

// NewClient builds an *http.Client from config. MaxRetries is not
// applied: the returned client makes one attempt per request.
func NewClient(config ClientConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:          config.MaxIdleConns,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
	}
	if config.DisableSSLVerification {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit opt-in, non-production tenants only
	}
	return &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}
}

// NewClientWithTimeout builds a client using DefaultClientConfig with
// Timeout overridden.
func NewClientWithTimeout(timeout time.Duration) *http.Client {
	config := DefaultClientConfig()
	config.Timeout = timeout
	return NewClient(config)
}

// NewDefaultClient builds a client from DefaultClientConfig.
func NewDefaultClient() *http.Client {
	return NewClient(DefaultClientConfig())
}

// ObjectStoreClientConfig returns a client configuration sized for the
// S3-compatible object store adapter (C3): a 60s overall timeout and
// MaxRetries 3, which NewClient does not apply. The adapter's own
// eventual-consistency retry loop is separate from this configuration.
func ObjectStoreClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:               60 * time.Second,
		MaxRetries:            3,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
	}
}

// PrometheusClientConfig returns the client configuration for scraping
// or pushing to a Prometheus endpoint.
func PrometheusClientConfig(timeout time.Duration) ClientConfig {
	config := DefaultClientConfig()
	config.Timeout = timeout
	config.ResponseHeaderTimeout = timeout / 2
	return config
}

// LLMClientConfig returns the client configuration for a vision-model
// call; ResponseHeaderTimeout is a third of the overall timeout to
// leave room for streamed token generation after headers arrive.
func LLMClientConfig(timeout time.Duration) ClientConfig {
	config := DefaultClientConfig()
	config.Timeout = timeout
	config.MaxRetries = 5
	config.ResponseHeaderTimeout = timeout / 3
	return config
}
