package httpclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTimeout(t *testing.T) {
	cfg := DefaultConfig().WithTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 5*time.Second, cfg.ResponseHeaderTimeout)

	unchanged := DefaultConfig().WithTimeout(0)
	assert.Equal(t, DefaultTimeout, unchanged.Timeout)
}

func TestNewHTTPClient(t *testing.T) {
	cfg := DefaultConfig().WithTimeout(3 * time.Second)
	client := NewHTTPClient(&cfg)
	assert.Equal(t, 3*time.Second, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, transport.ResponseHeaderTimeout)

	assert.Equal(t, DefaultTimeout, NewHTTPClient(nil).Timeout)
}
