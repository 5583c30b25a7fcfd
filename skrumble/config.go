package skrumble

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultHostname serves both the API and the auth endpoints.
	DefaultHostname = "app.skrumble.com"

	// SDKVersion is sent to the realtime endpoint on connect.
	SDKVersion = "1.0.0"

	sailsSDKVersion       = "1.1.13"
	defaultConnectTimeout = 20 * time.Second
)

// Config holds the credentials and endpoints of a Socket.
type Config struct {
	ClientID     string
	ClientSecret string

	// APIHostname and AuthHostname are bare hosts, optionally with a port.
	// Blank values fall back to DefaultHostname.
	APIHostname  string
	AuthHostname string

	// Insecure switches to plain http and ws. Meant for local stacks.
	Insecure bool

	ConnectTimeout time.Duration
	HTTPClient     *http.Client
	Dialer         *websocket.Dialer
	Logger         *slog.Logger
	Observer       Observer
}

func (c Config) normalize() (Config, error) {
	if strings.TrimSpace(c.ClientID) == "" {
		return c, ErrMissingClientID
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return c, ErrMissingClientSecret
	}
	c.APIHostname = hostOrDefault(c.APIHostname)
	c.AuthHostname = hostOrDefault(c.AuthHostname)
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Observer == nil {
		c.Observer = noopObserver{}
	}
	return c, nil
}

func (c Config) httpScheme() string {
	if c.Insecure {
		return "http"
	}
	return "https"
}

func (c Config) wsScheme() string {
	if c.Insecure {
		return "ws"
	}
	return "wss"
}

func hostOrDefault(host string) string {
	host = RemoveTrailingSlash(strings.TrimSpace(host))
	if host == "" {
		return DefaultHostname
	}
	return host
}

// RemoveTrailingSlash strips every trailing "/" from s.
func RemoveTrailingSlash(s string) string {
	return strings.TrimRight(s, "/")
}

// ForceTrailingSlash returns s ending in exactly one "/".
func ForceTrailingSlash(s string) string {
	return RemoveTrailingSlash(s) + "/"
}
