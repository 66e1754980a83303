package hostutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// Empty
		{"", ""},

		// Full URLs passed through
		{"http://example.com", "http://example.com"},
		{"https://example.com", "https://example.com"},
		{"https://example.com/", "https://example.com"},
		{"http://localhost:3000", "http://localhost:3000"},

		// Localhost variants → http
		{"localhost", "http://localhost"},
		{"localhost:3000", "http://localhost:3000"},
		{"127.0.0.1:3000", "http://127.0.0.1:3000"},
		{"[::1]:3000", "http://[::1]:3000"},
		{"app.localhost", "http://app.localhost"},

		// Non-localhost → https
		{"api.us.cdl.paloaltonetworks.com", "https://api.us.cdl.paloaltonetworks.com"},
		{"localhost.example.com", "https://localhost.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestJoin(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		port     int
		endpoint string
		expected string
	}{
		{"default port", "https://api.us.cdl.paloaltonetworks.com", 443, "/query/v2/jobs", "https://api.us.cdl.paloaltonetworks.com:443/query/v2/jobs"},
		{"existing port kept", "http://127.0.0.1:8080", 443, "/x", "http://127.0.0.1:8080/x"},
		{"port disabled", "https://example.com", 0, "/x", "https://example.com/x"},
		{"trailing slash", "https://example.com/", 443, "/x", "https://example.com:443/x"},
		{"endpoint without slash", "https://example.com", 0, "x", "https://example.com/x"},
		{"empty endpoint", "https://example.com", 443, "", "https://example.com:443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Join(tt.base, tt.port, tt.endpoint))
		})
	}
}

func TestSplitOrigin(t *testing.T) {
	origin, path, err := SplitOrigin("https://app.apiexplorer.rocks/request_token")
	require.NoError(t, err)
	assert.Equal(t, "https://app.apiexplorer.rocks", origin)
	assert.Equal(t, "/request_token", path)
}

func TestIsLocalhost(t *testing.T) {
	assert.True(t, IsLocalhost("localhost"))
	assert.True(t, IsLocalhost("127.0.0.1:9000"))
	assert.True(t, IsLocalhost("[::1]"))
	assert.False(t, IsLocalhost("example.com"))
	assert.False(t, IsLocalhost("[::2]:80"))
}
