package skrumble

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

var guestEditableFields = []string{"first_name", "last_name", "avatar"}

// Guest is an outside participant admitted to a single group chat.
type Guest struct {
	ID              string     `json:"id"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Avatar          string     `json:"avatar"`
	Email           string     `json:"email"`
	ChatID          FlexString `json:"chat_id"`
	ExtensionSecret string     `json:"extension_secret"`
	Role            FlexString `json:"role"`
	Teams           []TeamRef  `json:"teams"`
	CallerIDName    string     `json:"caller_id_name"`
	CallerIDNumber  FlexString `json:"caller_id_number"`

	api API
}

func newGuest(api API) *Guest { return &Guest{api: api} }

// NewGuest builds a guest from a raw field mapping.
func NewGuest(api API, fields map[string]any) (*Guest, error) {
	g := newGuest(api)
	if err := fromMap(fields, g); err != nil {
		return nil, fmt.Errorf("skrumble: decode guest: %w", err)
	}
	return g, nil
}

func decodeGuest(api API, raw json.RawMessage) (*Guest, error) {
	g := newGuest(api)
	if err := json.Unmarshal(raw, g); err != nil {
		return nil, fmt.Errorf("skrumble: decode guest: %w", err)
	}
	return g, nil
}

func (g *Guest) ParticipantID() string { return g.ID }

func (g *Guest) FullName() string {
	return strings.TrimSpace(g.FirstName + " " + g.LastName)
}

func (g *Guest) IsGuest() bool { return true }

// GuestExists reports whether email is already a guest of team.
func GuestExists(ctx context.Context, api API, email string, team TeamRef) (bool, error) {
	if err := requireFields("guest exists", field{"email", email}); err != nil {
		return false, err
	}
	q := "email=" + url.QueryEscape(email)
	if !team.IsZero() {
		q += "&team=" + url.QueryEscape(team.ID())
	}
	raw, err := api.Get(ctx, "guest/exists?"+q, nil)
	if err != nil {
		return false, fmt.Errorf("skrumble: guest exists: %w", err)
	}
	return parseExists(raw)
}

// Save sends the guest's editable fields and merges the reply.
func (g *Guest) Save(ctx context.Context) error {
	if g.ID == "" {
		return ErrMissingID
	}
	body, err := pickFields(g, guestEditableFields)
	if err != nil {
		return err
	}
	raw, err := g.api.Patch(ctx, "guest/"+pathEscape(g.ID), body)
	if err != nil {
		return fmt.Errorf("skrumble: save guest %s: %w", g.ID, err)
	}
	if err := merge(raw, g); err != nil {
		return fmt.Errorf("skrumble: merge guest: %w", err)
	}
	return nil
}
