// Package hostutil provides shared utilities for host URL handling.
package hostutil

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize converts a host string to a full URL.
// - Empty string returns empty
// - localhost/127.0.0.1 defaults to http://
// - Other bare hostnames default to https://
// - Full URLs are used as-is, minus any trailing slash
func Normalize(host string) string {
	if host == "" {
		return ""
	}
	host = strings.TrimRight(host, "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	if IsLocalhost(host) {
		return "http://" + host
	}
	return "https://" + host
}

// HasPort reports whether rawURL names an explicit port.
func HasPort(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Port() != ""
}

// Join builds "<base>:<port><endpoint>". The port is omitted when it is
// zero or base already names one.
func Join(base string, port int, endpoint string) string {
	base = strings.TrimRight(base, "/")
	if port > 0 && !HasPort(base) {
		base += ":" + strconv.Itoa(port)
	}
	if endpoint != "" && !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return base + endpoint
}

// SplitOrigin splits rawURL into "<scheme>://<host>" and its path.
func SplitOrigin(rawURL string) (origin, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	return u.Scheme + "://" + u.Host, u.EscapedPath(), nil
}

// IsLocalhost returns true if host is localhost, a .localhost subdomain,
// 127.0.0.1, or [::1] (with optional port).
func IsLocalhost(host string) bool {
	hostWithoutPort := host
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		// Bracketed IPv6 keeps its colons
		if !strings.HasPrefix(host, "[") || strings.HasPrefix(host, "[::1]:") {
			hostWithoutPort = host[:idx]
		}
	}

	if hostWithoutPort == "localhost" || strings.HasSuffix(hostWithoutPort, ".localhost") {
		return true
	}
	if hostWithoutPort == "127.0.0.1" {
		return true
	}
	return hostWithoutPort == "[::1]"
}
