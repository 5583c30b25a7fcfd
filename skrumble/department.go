package skrumble

import (
	"context"
	"encoding/json"
	"fmt"
)

// Department is a ring group inside a team, reachable by its extensions.
type Department struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Extension    Extensions `json:"extension"`
	RingStrategy string     `json:"ring_strategy"`
	Users        []UserRef  `json:"users"`
}

// ListDepartments loads the departments of a team.
func ListDepartments(ctx context.Context, api API, team TeamRef) ([]Department, error) {
	if team.IsZero() {
		return nil, ErrMissingID
	}
	raw, err := api.Get(ctx, "team/"+pathEscape(team.ID())+"/departments", nil)
	if err != nil {
		return nil, fmt.Errorf("skrumble: list departments: %w", err)
	}
	var out []Department
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: department list: %v", ErrUnexpectedResponse, err)
	}
	return out, nil
}
