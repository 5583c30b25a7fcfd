package skrumble

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FlexString is a string field the platform sometimes sends as a number, a
// boolean or a populated object. Objects collapse to their "id" (or "name").
// null and false decode to "".
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case 'n':
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	case 't':
		*f = "true"
	case 'f':
		*f = ""
	case '{':
		var obj struct {
			ID   json.RawMessage `json:"id"`
			Name string          `json:"name"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		var id FlexString
		if len(obj.ID) > 0 {
			if err := id.UnmarshalJSON(obj.ID); err != nil {
				return err
			}
		}
		if id == "" {
			id = FlexString(obj.Name)
		}
		*f = id
	case '[':
		return fmt.Errorf("skrumble: cannot use array as string")
	default:
		if !json.Valid(b) {
			return fmt.Errorf("skrumble: invalid value %q", b)
		}
		*f = FlexString(b)
	}
	return nil
}

func (f FlexString) String() string { return string(f) }

// Extensions is a list of dial extensions, decoded from a single value or a
// list of strings, numbers or extension objects.
type Extensions []string

func (e *Extensions) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == 'n' {
		return nil
	}
	var items []json.RawMessage
	if b[0] == '[' {
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
	} else {
		items = []json.RawMessage{b}
	}

	out := make(Extensions, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '{' {
			var obj struct {
				Number    FlexString `json:"number"`
				Extension FlexString `json:"extension"`
			}
			if err := json.Unmarshal(item, &obj); err != nil {
				return err
			}
			if obj.Number != "" {
				out = append(out, string(obj.Number))
			} else if obj.Extension != "" {
				out = append(out, string(obj.Extension))
			}
			continue
		}
		var s FlexString
		if err := s.UnmarshalJSON(item); err != nil {
			return err
		}
		if s != "" {
			out = append(out, string(s))
		}
	}
	*e = out
	return nil
}

// TeamRef is either a bare team ID or a loaded Team.
type TeamRef struct {
	id   string
	team *Team
}

// TeamID refers to a team by ID.
func TeamID(id string) TeamRef { return TeamRef{id: id} }

// RefTeam refers to a loaded team.
func RefTeam(t *Team) TeamRef { return TeamRef{team: t} }

// ID returns the referenced team's ID.
func (r TeamRef) ID() string {
	if r.team != nil {
		return r.team.ID
	}
	return r.id
}

// Team returns the loaded team, if any.
func (r TeamRef) Team() (*Team, bool) {
	return r.team, r.team != nil
}

func (r TeamRef) IsZero() bool { return r.ID() == "" }

// MarshalJSON renders the reference as its ID, which is what every endpoint
// expects.
func (r TeamRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ID())
}

func (r *TeamRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		t := &Team{}
		if err := json.Unmarshal(b, t); err != nil {
			return err
		}
		*r = RefTeam(t)
		return nil
	}
	var id FlexString
	if err := id.UnmarshalJSON(b); err != nil {
		return err
	}
	*r = TeamID(string(id))
	return nil
}

// UserRef is either a bare user ID or a loaded User.
type UserRef struct {
	id   string
	user *User
}

// UserID refers to a user by ID.
func UserID(id string) UserRef { return UserRef{id: id} }

// RefUser refers to a loaded user.
func RefUser(u *User) UserRef { return UserRef{user: u} }

func (r UserRef) ID() string {
	if r.user != nil {
		return r.user.ID
	}
	return r.id
}

func (r UserRef) User() (*User, bool) {
	return r.user, r.user != nil
}

func (r UserRef) IsZero() bool { return r.ID() == "" }

func (r UserRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ID())
}

func (r *UserRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		u := newUser(nil)
		if err := json.Unmarshal(b, u); err != nil {
			return err
		}
		*r = RefUser(u)
		return nil
	}
	var id FlexString
	if err := id.UnmarshalJSON(b); err != nil {
		return err
	}
	*r = UserID(string(id))
	return nil
}
