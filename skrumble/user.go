package skrumble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// userEditableFields are the only fields User.Save sends.
var userEditableFields = []string{
	"first_name",
	"last_name",
	"position",
	"caller_id_name",
	"caller_id_number",
	"avatar",
	"dateformat",
	"forward",
	"forward_number",
	"home_number",
	"mobile_number",
	"language",
	"latitude",
	"longitude",
	"password",
	"state",
	"status",
	"theme",
	"timeformat",
	"timezone",
	"tooltips",
	"voicemail",
	"website",
	"work_number",
}

// User is a member of one or more teams.
type User struct {
	ID              string     `json:"id"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Position        string     `json:"position"`
	Email           string     `json:"email"`
	Password        string     `json:"password,omitempty"`
	Avatar          string     `json:"avatar"`
	State           string     `json:"state"`
	Status          string     `json:"status"`
	Role            FlexString `json:"role"`
	Plan            FlexString `json:"plan"`
	Language        string     `json:"language"`
	Timezone        string     `json:"timezone"`
	Timeformat      FlexString `json:"timeformat"`
	Dateformat      FlexString `json:"dateformat"`
	Tooltips        bool       `json:"tooltips"`
	CreatedAt       FlexString `json:"created_at"`
	Extension       Extensions `json:"extension"`
	ExtensionSecret string     `json:"extension_secret"`
	Teams           []TeamRef  `json:"teams"`
	Voicemail       bool       `json:"voicemail"`
	Forward         bool       `json:"forward"`
	ForwardNumber   FlexString `json:"forward_number"`
	CallerIDName    string     `json:"caller_id_name"`
	CallerIDNumber  FlexString `json:"caller_id_number"`
	WorkNumber      FlexString `json:"work_number"`
	HomeNumber      FlexString `json:"home_number"`
	MobileNumber    FlexString `json:"mobile_number"`
	Website         string     `json:"website"`
	Latitude        FlexString `json:"latitude"`
	Longitude       FlexString `json:"longitude"`
	Theme           string     `json:"theme"`
	Accepted        FlexString `json:"accepted"`
	LastLogin       FlexString `json:"last_login"`
	DeletedAt       FlexString `json:"deleted_at"`

	api API
}

func newUser(api API) *User {
	return &User{
		Language:  "en",
		Theme:     "dark",
		Voicemail: true,
		api:       api,
	}
}

// NewUser builds a user from a raw field mapping. Unknown keys are dropped
// and absent keys keep their defaults.
func NewUser(api API, fields map[string]any) (*User, error) {
	u := newUser(api)
	if err := fromMap(fields, u); err != nil {
		return nil, fmt.Errorf("skrumble: decode user: %w", err)
	}
	u.bind(api)
	return u, nil
}

func decodeUser(api API, raw json.RawMessage) (*User, error) {
	u := newUser(api)
	if err := json.Unmarshal(raw, u); err != nil {
		return nil, fmt.Errorf("skrumble: decode user: %w", err)
	}
	u.bind(api)
	return u, nil
}

func (u *User) bind(api API) {
	u.api = api
	for _, ref := range u.Teams {
		if t, ok := ref.Team(); ok {
			t.bind(api)
		}
	}
}

func (u *User) ParticipantID() string { return u.ID }

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (u *User) IsGuest() bool { return false }

// GetUser loads one user.
func GetUser(ctx context.Context, api API, id string) (*User, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	raw, err := api.Get(ctx, "user/"+pathEscape(id)+"?populate=teams,extension,role,plan", nil)
	if err != nil {
		return nil, fmt.Errorf("skrumble: get user %s: %w", id, err)
	}
	return decodeUser(api, raw)
}

// ListUsers loads one page of the users visible to the session.
func ListUsers(ctx context.Context, api API, page Page) ([]*User, error) {
	raw, err := api.Get(ctx, "user?populate=teams,extension,role,plan&"+page.query(), nil)
	if err != nil {
		return nil, fmt.Errorf("skrumble: list users: %w", err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: user list: %v", ErrUnexpectedResponse, err)
	}
	users := make([]*User, 0, len(items))
	for _, item := range items {
		u, err := decodeUser(api, item)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// NewUserParams describe a user created directly on a team.
type NewUserParams struct {
	Team      TeamRef
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// CreateUser adds a new user to a team.
func CreateUser(ctx context.Context, api API, p NewUserParams) (*User, error) {
	err := requireFields("create user",
		field{"email", p.Email},
		field{"first_name", p.FirstName},
		field{"last_name", p.LastName},
		field{"password", p.Password},
		field{"team", p.Team.ID()},
	)
	if err != nil {
		return nil, err
	}
	raw, err := api.Post(ctx, "team/"+pathEscape(p.Team.ID())+"/add", map[string]any{
		"first_name": p.FirstName,
		"last_name":  p.LastName,
		"email":      p.Email,
		"password":   p.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("skrumble: create user: %w", err)
	}
	return decodeUser(api, raw)
}

// InviteUsers emails team invitations.
func InviteUsers(ctx context.Context, api API, team TeamRef, emails ...string) error {
	if team.IsZero() {
		return &MissingFieldsError{Op: "invite users", Fields: []string{"team"}}
	}
	if len(emails) == 0 {
		return ErrNoRecipients
	}
	if _, err := api.Post(ctx, "team/"+pathEscape(team.ID())+"/invite", map[string]any{"emails": emails}); err != nil {
		return fmt.Errorf("skrumble: invite users: %w", err)
	}
	return nil
}

// AcceptInviteParams complete a pending team invitation.
type AcceptInviteParams struct {
	Token     string
	FirstName string
	LastName  string
	Password  string
}

// AcceptInvite turns an invitation token into an active user.
func AcceptInvite(ctx context.Context, api API, p AcceptInviteParams) (*User, error) {
	err := requireFields("accept invite",
		field{"token", p.Token},
		field{"first_name", p.FirstName},
		field{"last_name", p.LastName},
		field{"password", p.Password},
	)
	if err != nil {
		return nil, err
	}
	raw, err := api.Post(ctx, "team/invite/accept", map[string]any{
		"token":      p.Token,
		"first_name": p.FirstName,
		"last_name":  p.LastName,
		"password":   p.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("skrumble: accept invite: %w", err)
	}
	return decodeUser(api, raw)
}

// UserExists reports whether an account uses email.
func UserExists(ctx context.Context, api API, email string) (bool, error) {
	if err := requireFields("user exists", field{"email", email}); err != nil {
		return false, err
	}
	raw, err := api.Get(ctx, "user/exists?email="+url.QueryEscape(email), nil)
	if err != nil {
		return false, fmt.Errorf("skrumble: user exists: %w", err)
	}
	return parseExists(raw)
}

// Save sends the editable fields to the user record and to each of the
// user's team profiles, merging the replies back.
func (u *User) Save(ctx context.Context) error {
	if u.ID == "" {
		return ErrMissingID
	}
	body, err := pickFields(u, userEditableFields)
	if err != nil {
		return err
	}

	raw, err := u.api.Patch(ctx, "user/"+pathEscape(u.ID), body)
	if err != nil {
		return fmt.Errorf("skrumble: save user %s: %w", u.ID, err)
	}
	if err := u.merge(raw); err != nil {
		return err
	}

	var errs []error
	for _, team := range u.Teams {
		raw, err := u.api.Patch(ctx, "team/"+pathEscape(team.ID())+"/users/"+pathEscape(u.ID), body)
		if err != nil {
			errs = append(errs, fmt.Errorf("skrumble: save team profile %s: %w", team.ID(), err))
			continue
		}
		if err := u.merge(raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// merge applies a reply without letting it replace loaded teams with bare IDs.
func (u *User) merge(raw json.RawMessage) error {
	teams := u.Teams
	if err := merge(raw, u); err != nil {
		return fmt.Errorf("skrumble: merge user: %w", err)
	}
	if len(teams) > 0 {
		loaded := false
		for _, t := range teams {
			if _, ok := t.Team(); ok {
				loaded = true
				break
			}
		}
		if loaded {
			u.Teams = teams
		}
	}
	return nil
}

// Deactivate removes the user from the platform.
func (u *User) Deactivate(ctx context.Context) error {
	if u.ID == "" {
		return ErrMissingID
	}
	if _, err := u.api.Delete(ctx, "user/"+pathEscape(u.ID), nil); err != nil {
		return fmt.Errorf("skrumble: deactivate user %s: %w", u.ID, err)
	}
	return nil
}

// Device is a push-notification registration.
type Device struct {
	RegistrationID string `json:"registration_id"`
	Platform       string `json:"platform"`
	Name           string `json:"name,omitempty"`
}

// RegisterDevice registers d for push notifications.
func (u *User) RegisterDevice(ctx context.Context, d Device) error {
	if u.ID == "" {
		return ErrMissingID
	}
	if err := requireFields("register device", field{"registration_id", d.RegistrationID}, field{"platform", d.Platform}); err != nil {
		return err
	}
	if _, err := u.api.Post(ctx, "user/"+pathEscape(u.ID)+"/devices", d); err != nil {
		return fmt.Errorf("skrumble: register device: %w", err)
	}
	return nil
}

// UnregisterDevice removes a push-notification registration.
func (u *User) UnregisterDevice(ctx context.Context, registrationID string) error {
	if u.ID == "" {
		return ErrMissingID
	}
	if err := requireFields("unregister device", field{"registration_id", registrationID}); err != nil {
		return err
	}
	if _, err := u.api.Delete(ctx, "user/"+pathEscape(u.ID)+"/devices/"+pathEscape(registrationID), nil); err != nil {
		return fmt.Errorf("skrumble: unregister device: %w", err)
	}
	return nil
}

// RemoveSelf returns users without the current principal. The input is
// returned unchanged when self is nil.
func RemoveSelf(users []*User, self Participant) []*User {
	if self == nil {
		return users
	}
	out := make([]*User, 0, len(users))
	for _, u := range users {
		if u != nil && u.ID == self.ParticipantID() {
			continue
		}
		out = append(out, u)
	}
	return out
}
