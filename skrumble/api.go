package skrumble

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
)

// API is the part of a Socket the models depend on.
type API interface {
	Get(ctx context.Context, url string, body any) (json.RawMessage, error)
	Post(ctx context.Context, url string, body any) (json.RawMessage, error)
	Patch(ctx context.Context, url string, body any) (json.RawMessage, error)
	Delete(ctx context.Context, url string, body any) (json.RawMessage, error)

	On(category EventCategory, h EventHandler) ListenerID
	Off(category EventCategory, id ListenerID)

	// Current returns the logged-in principal, or nil.
	Current() Participant
	Logger() *slog.Logger
}

var _ API = (*Socket)(nil)

// Participant is a chat member: a *User or a *Guest.
type Participant interface {
	ParticipantID() string
	FullName() string
	IsGuest() bool
}

// Page bounds a list call. Zero Limit means 1000.
type Page struct {
	Limit int
	Skip  int
}

func (p Page) query() string {
	limit := p.Limit
	if limit <= 0 {
		limit = 1000
	}
	skip := p.Skip
	if skip < 0 {
		skip = 0
	}
	return fmt.Sprintf("limit=%d&skip=%d", limit, skip)
}

func pathEscape(s string) string { return url.PathEscape(s) }

func loggerOf(api API) *slog.Logger {
	if api == nil {
		return slog.Default()
	}
	if l := api.Logger(); l != nil {
		return l
	}
	return slog.Default()
}
