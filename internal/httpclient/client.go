// Package httpclient builds the outbound HTTP clients used for provider calls.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// ClientConfig holds transport and timeout settings for outbound clients.
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// Timeout bounds the whole request, including reading the body.
	Timeout time.Duration

	DialTimeout           time.Duration
	KeepAlive             time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
}

// DefaultTimeout is the overall request timeout when none is configured.
// Generation calls routinely take several seconds.
const DefaultTimeout = 60 * time.Second

// DefaultConfig returns a ClientConfig suited to a single upstream API.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		Timeout:               DefaultTimeout,
		DialTimeout:           10 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: DefaultTimeout,
	}
}

// WithTimeout returns a copy of c using timeout for both the overall request
// and the response header wait. Non-positive values leave c unchanged.
func (c ClientConfig) WithTimeout(timeout time.Duration) ClientConfig {
	if timeout > 0 {
		c.Timeout = timeout
		c.ResponseHeaderTimeout = timeout
	}
	return c
}

// NewHTTPClient creates an HTTP client from config.
// If config is nil, DefaultConfig() is used.
func NewHTTPClient(config *ClientConfig) *http.Client {
	if config == nil {
		cfg := DefaultConfig()
		config = &cfg
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
	}
}
