package observability

import (
	"net"
	"net/http"
	"strings"
)

// ClientIDFromRequest returns the caller-chosen client label, if any.
func ClientIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-Client-Id")
}

func RequestIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-Request-Id")
}

// IPFromRequest prefers the first X-Forwarded-For hop over RemoteAddr.
func IPFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
