package skrumble

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

var teamEditableFields = []string{
	"team_name",
	"team_avatar",
	"country",
	"city",
	"state",
	"address_1",
	"address_2",
	"postal",
	"timezone",
	"autoreception",
	"caller_id_name",
	"caller_id_number",
}

// Team is an organisation on the platform.
type Team struct {
	ID             string       `json:"id"`
	Owner          UserRef      `json:"owner"`
	TeamName       string       `json:"team_name"`
	TeamAvatar     string       `json:"team_avatar"`
	Slug           string       `json:"slug"`
	Country        string       `json:"country"`
	City           string       `json:"city"`
	State          string       `json:"state"`
	Address1       string       `json:"address_1"`
	Address2       string       `json:"address_2"`
	Postal         FlexString   `json:"postal"`
	Timezone       string       `json:"timezone"`
	Autoreception  FlexString   `json:"autoreception"`
	CallerIDName   string       `json:"caller_id_name"`
	CallerIDNumber FlexString   `json:"caller_id_number"`
	Departments    []Department `json:"departments,omitempty"`
	Users          []UserRef    `json:"users,omitempty"`

	api API
}

// NewTeam builds a team from a raw field mapping.
func NewTeam(api API, fields map[string]any) (*Team, error) {
	t := &Team{}
	if err := fromMap(fields, t); err != nil {
		return nil, fmt.Errorf("skrumble: decode team: %w", err)
	}
	t.bind(api)
	return t, nil
}

func decodeTeam(api API, raw json.RawMessage) (*Team, error) {
	t := &Team{}
	if err := json.Unmarshal(raw, t); err != nil {
		return nil, fmt.Errorf("skrumble: decode team: %w", err)
	}
	t.bind(api)
	return t, nil
}

func (t *Team) bind(api API) {
	t.api = api
	if u, ok := t.Owner.User(); ok {
		u.api = api
	}
	for _, ref := range t.Users {
		if u, ok := ref.User(); ok {
			u.api = api
		}
	}
}

// GetTeam loads a team with its departments and users.
func GetTeam(ctx context.Context, api API, id string) (*Team, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	raw, err := api.Get(ctx, "team/"+pathEscape(id)+"?populate=departments&users=true", nil)
	if err != nil {
		return nil, fmt.Errorf("skrumble: get team %s: %w", id, err)
	}
	return decodeTeam(api, raw)
}

// ListTeams loads one page of the session's teams.
func ListTeams(ctx context.Context, api API, page Page) ([]*Team, error) {
	raw, err := api.Get(ctx, "team?"+page.query(), nil)
	if err != nil {
		return nil, fmt.Errorf("skrumble: list teams: %w", err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: team list: %v", ErrUnexpectedResponse, err)
	}
	teams := make([]*Team, 0, len(items))
	for _, item := range items {
		t, err := decodeTeam(api, item)
		if err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	return teams, nil
}

// CreateTeamParams describe a new team.
type CreateTeamParams struct {
	TeamName string `json:"team_name"`
	Slug     string `json:"slug"`
	Country  string `json:"country,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// CreateTeam creates a team owned by the session's user.
func CreateTeam(ctx context.Context, api API, p CreateTeamParams) (*Team, error) {
	if err := requireFields("create team", field{"team_name", p.TeamName}, field{"slug", p.Slug}); err != nil {
		return nil, err
	}
	raw, err := api.Post(ctx, "team", p)
	if err != nil {
		return nil, fmt.Errorf("skrumble: create team: %w", err)
	}
	return decodeTeam(api, raw)
}

// TeamExists reports whether slug is taken.
func TeamExists(ctx context.Context, api API, slug string) (bool, error) {
	if err := requireFields("team exists", field{"slug", slug}); err != nil {
		return false, err
	}
	raw, err := api.Get(ctx, "team/exists?slug="+url.QueryEscape(slug), nil)
	if err != nil {
		return false, fmt.Errorf("skrumble: team exists: %w", err)
	}
	return parseExists(raw)
}

// Save sends the editable fields and merges the reply.
func (t *Team) Save(ctx context.Context) error {
	if t.ID == "" {
		return ErrMissingID
	}
	body, err := pickFields(t, teamEditableFields)
	if err != nil {
		return err
	}
	raw, err := t.api.Patch(ctx, "team/"+pathEscape(t.ID), body)
	if err != nil {
		return fmt.Errorf("skrumble: save team %s: %w", t.ID, err)
	}
	if err := merge(raw, t); err != nil {
		return fmt.Errorf("skrumble: merge team: %w", err)
	}
	t.bind(t.api)
	return nil
}
