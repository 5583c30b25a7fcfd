package ws

import "time"

// ConnInfo describes one websocket subscriber.
type ConnInfo struct {
	ConnID      string
	UserID      string
	ClientID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
