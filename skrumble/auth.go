package skrumble

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/codes"
)

const maxAuthReplyBytes = 1 << 20

type tokenReply struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LoginOption tunes Login.
type LoginOption func(*loginOptions)

type loginOptions struct {
	skipSocket bool
}

// WithoutSocket stores the tokens but skips the socket connection and user
// hydration. Login then returns a nil user.
func WithoutSocket() LoginOption {
	return func(o *loginOptions) { o.skipSocket = true }
}

// Login authenticates a user with email and password, connects the socket
// and returns the current user with every team loaded.
func (s *Socket) Login(ctx context.Context, email, password string, opts ...LoginOption) (*User, error) {
	var o loginOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := requireFields("login", field{"email", email}, field{"password", password}); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "skrumble.login")
	defer span.End()

	var tokens tokenReply
	err := s.postJSON(ctx, s.authBase+"/v1/login-user", map[string]string{
		"grant_type":    "password",
		"username":      email,
		"password":      password,
		"client_id":     s.cfg.ClientID,
		"client_secret": s.cfg.ClientSecret,
	}, &tokens)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("skrumble: login: %w", err)
	}
	s.storeTokens(tokens)
	if o.skipSocket {
		return nil, nil
	}
	if !s.hasTokens() {
		span.SetStatus(codes.Error, ErrRegistrationFailed.Error())
		return nil, ErrRegistrationFailed
	}

	if err := s.ConnectSocket(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	user, err := s.LoadCurrentUser(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return user, nil
}

// GuestCredentials identify a guest joining a chat. Every field is required.
type GuestCredentials struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	PIN       string `json:"pin"`
	ChatID    string `json:"chat"`
	TeamSlug  string `json:"team"`
}

// LoginGuest joins a chat as a guest, connects the socket and returns the
// hydrated guest.
func (s *Socket) LoginGuest(ctx context.Context, creds GuestCredentials) (*Guest, error) {
	err := requireFields("guest login",
		field{"email", creds.Email},
		field{"first_name", creds.FirstName},
		field{"last_name", creds.LastName},
		field{"pin", creds.PIN},
		field{"chat", creds.ChatID},
		field{"team", creds.TeamSlug},
	)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "skrumble.login_guest")
	defer span.End()

	var tokens tokenReply
	if err := s.postJSON(ctx, s.apiBase+"/guest/join", creds, &tokens); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("skrumble: guest login: %w", err)
	}
	s.storeTokens(tokens)
	if !s.hasTokens() {
		return nil, ErrRegistrationFailed
	}
	if err := s.ConnectSocket(ctx); err != nil {
		return nil, err
	}

	raw, err := s.loadProfile(ctx)
	if err != nil {
		return nil, err
	}
	g := newGuest(s)
	if err := json.Unmarshal(raw, g); err != nil {
		return nil, fmt.Errorf("skrumble: decode guest: %w", err)
	}
	if g.Teams, err = resolveTeams(ctx, s, g.Teams); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.guest, s.user = g, nil
	s.mu.Unlock()
	s.log.Info("guest logged in", "guest_id", g.ID, "chat_id", creds.ChatID)
	return g, nil
}

// LoadCurrentUser fetches the logged-in user's profile, loads every team it
// belongs to and records it as the session's principal.
func (s *Socket) LoadCurrentUser(ctx context.Context) (*User, error) {
	raw, err := s.loadProfile(ctx)
	if err != nil {
		return nil, err
	}
	u := newUser(s)
	if err := json.Unmarshal(raw, u); err != nil {
		return nil, fmt.Errorf("skrumble: decode current user: %w", err)
	}
	if u.Teams, err = resolveTeams(ctx, s, u.Teams); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.user, s.guest = u, nil
	s.mu.Unlock()
	s.log.Info("user logged in", "user_id", u.ID, "teams", len(u.Teams))
	return u, nil
}

// loadProfile returns the current principal's raw profile. For members of a
// single team the team-scoped profile is merged over it.
func (s *Socket) loadProfile(ctx context.Context) (json.RawMessage, error) {
	raw, err := s.Get(ctx, "user/me?populate=teams&extension=true", nil)
	if err != nil {
		return nil, fmt.Errorf("skrumble: load current user: %w", err)
	}
	var profile map[string]json.RawMessage
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("%w: current user: %v", ErrUnexpectedResponse, err)
	}

	var teams []TeamRef
	if t, ok := profile["teams"]; ok {
		if err := json.Unmarshal(t, &teams); err != nil {
			return nil, fmt.Errorf("%w: current user teams: %v", ErrUnexpectedResponse, err)
		}
	}
	if len(teams) == 1 {
		var id FlexString
		if err := id.UnmarshalJSON(profile["id"]); err != nil {
			return nil, fmt.Errorf("%w: current user id: %v", ErrUnexpectedResponse, err)
		}
		teamRaw, err := s.Get(ctx, "team/"+pathEscape(teams[0].ID())+"/users/"+pathEscape(string(id)), nil)
		if err != nil {
			return nil, fmt.Errorf("skrumble: load team profile: %w", err)
		}
		var teamProfile map[string]json.RawMessage
		if err := json.Unmarshal(teamRaw, &teamProfile); err != nil {
			return nil, fmt.Errorf("%w: team profile: %v", ErrUnexpectedResponse, err)
		}
		for k, v := range teamProfile {
			profile[k] = v
		}
	}

	if secret, ok := profile["extensionSecret"]; ok {
		profile["extension_secret"] = secret
		delete(profile, "extensionSecret")
	}
	return json.Marshal(profile)
}

// resolveTeams loads every referenced team, keeping order.
func resolveTeams(ctx context.Context, api API, refs []TeamRef) ([]TeamRef, error) {
	out := make([]TeamRef, 0, len(refs))
	for _, ref := range refs {
		t, err := GetTeam(ctx, api, ref.ID())
		if err != nil {
			return nil, fmt.Errorf("skrumble: load team %s: %w", ref.ID(), err)
		}
		out = append(out, RefTeam(t))
	}
	return out, nil
}

func (s *Socket) storeTokens(t tokenReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.AccessToken != "" {
		s.accessToken = t.AccessToken
	}
	if t.RefreshToken != "" {
		s.refreshToken = t.RefreshToken
	}
}

func (s *Socket) hasTokens() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken != "" && s.refreshToken != ""
}

// AccessTokenExpiry reads the expiry claim of the current access token. The
// signature is not checked; the platform remains the authority. Tokens are
// not refreshed automatically.
func (s *Socket) AccessTokenExpiry() (time.Time, error) {
	s.mu.Lock()
	token := s.accessToken
	s.mu.Unlock()
	if token == "" {
		return time.Time{}, ErrNoToken
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("skrumble: parse access token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("skrumble: access token expiry: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}

// postJSON sends a JSON POST over plain HTTPS. Used for the calls that
// happen before a socket exists.
func (s *Socket) postJSON(ctx context.Context, target string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	s.mu.Lock()
	if s.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
	}
	s.mu.Unlock()

	start := time.Now()
	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		s.cfg.Observer.RequestDone("post", 0, time.Since(start), err)
		return fmt.Errorf("post %s: %w", target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAuthReplyBytes))
	if err != nil {
		s.cfg.Observer.RequestDone("post", resp.StatusCode, time.Since(start), err)
		return fmt.Errorf("read reply: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Method: "post", URL: target, StatusCode: resp.StatusCode, Body: asJSON(data)}
		s.cfg.Observer.RequestDone("post", resp.StatusCode, time.Since(start), apiErr)
		return apiErr
	}
	s.cfg.Observer.RequestDone("post", resp.StatusCode, time.Since(start), nil)
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

func asJSON(data []byte) json.RawMessage {
	if json.Valid(data) {
		return json.RawMessage(data)
	}
	quoted, _ := json.Marshal(string(data))
	return quoted
}
