package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skrumble/skrumble-go/skrumble"
)

// stubSession answers requests from a fixed route table keyed "METHOD url".
type stubSession struct {
	mu        sync.Mutex
	routes    map[string]string
	failures  map[string]error
	requests  []string
	bodies    map[string]any
	listeners int
	nextID    skrumble.ListenerID
	current   skrumble.Participant
	connected bool
}

func newStubSession() *stubSession {
	return &stubSession{routes: map[string]string{}, failures: map[string]error{}, bodies: map[string]any{}}
}

func (s *stubSession) do(method, url string, body any) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + url
	s.requests = append(s.requests, key)
	s.bodies[key] = body
	if err, ok := s.failures[key]; ok {
		return nil, err
	}
	reply, ok := s.routes[key]
	if !ok {
		return nil, &skrumble.APIError{StatusCode: 404, Method: method, URL: url}
	}
	return json.RawMessage(reply), nil
}

func (s *stubSession) Get(_ context.Context, url string, body any) (json.RawMessage, error) {
	return s.do("GET", url, body)
}

func (s *stubSession) Post(_ context.Context, url string, body any) (json.RawMessage, error) {
	return s.do("POST", url, body)
}

func (s *stubSession) Patch(_ context.Context, url string, body any) (json.RawMessage, error) {
	return s.do("PATCH", url, body)
}

func (s *stubSession) Delete(_ context.Context, url string, body any) (json.RawMessage, error) {
	return s.do("DELETE", url, body)
}

func (s *stubSession) On(skrumble.EventCategory, skrumble.EventHandler) skrumble.ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners++
	s.nextID++
	return s.nextID
}

func (s *stubSession) Off(skrumble.EventCategory, skrumble.ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners--
}

func (s *stubSession) Current() skrumble.Participant { return s.current }
func (s *stubSession) Logger() *slog.Logger          { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
func (s *stubSession) Connected() bool               { return s.connected }

const chatURL = "chat/c1?populate=users&sort=updatedAt+DESC&limit=1000&skip=0"

func TestMe(t *testing.T) {
	s := newStubSession()
	c := NewClient(s)

	_, err := c.Me(context.Background())
	require.ErrorIs(t, err, ErrNotLoggedIn)

	s.current = &skrumble.User{ID: "u1"}
	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", me.ParticipantID())
}

func TestChatsAreDetached(t *testing.T) {
	s := newStubSession()
	s.routes["GET chat?populate=users&limit=20&skip=40"] = `[{"id":"c1","name":"one"},{"id":"c2","name":"two"}]`
	c := NewClient(s)

	chats, err := c.Chats(context.Background(), skrumble.Page{Limit: 20, Skip: 40})
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, 0, s.listeners)
}

func TestChatLoadsMessages(t *testing.T) {
	s := newStubSession()
	s.routes["GET "+chatURL] = `{"id":"c1","name":"one","type":"room"}`
	s.routes["GET chat/c1/messages?populate=file&populate=user_mentions&limit=10&skip=0"] =
		`[{"id":"m1","type":"text","body":"old","created_at":"2024-03-01T10:00:00Z"},{"id":"m2","type":"text","body":"new","created_at":"2024-03-01T11:00:00Z"}]`
	c := NewClient(s)

	chat, err := c.Chat(context.Background(), "c1", 10)
	require.NoError(t, err)
	assert.Equal(t, skrumble.ChatGroup, chat.Type)
	msgs := chat.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].ID)
	assert.Equal(t, 0, s.listeners)
}

func TestSendMessage(t *testing.T) {
	s := newStubSession()
	s.routes["GET "+chatURL] = `{"id":"c1"}`
	s.routes["POST chat/c1/messages"] = `{"id":"m9"}`
	c := NewClient(s)

	msg, err := c.SendMessage(context.Background(), "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text())
	assert.Equal(t, map[string]any{"type": "text", "body": "hello"}, s.bodies["POST chat/c1/messages"])
	assert.Equal(t, 0, s.listeners)
}

func TestSendMessageFailure(t *testing.T) {
	s := newStubSession()
	s.routes["GET "+chatURL] = `{"id":"c1"}`
	s.failures["POST chat/c1/messages"] = &skrumble.APIError{StatusCode: 403, Method: "POST", URL: "chat/c1/messages"}
	c := NewClient(s)

	msg, err := c.SendMessage(context.Background(), "c1", "hello")
	var apiErr *skrumble.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.StatusCode)
	require.NotNil(t, msg)
	assert.True(t, msg.Failed)
}

func TestSendMessageUnknownChat(t *testing.T) {
	s := newStubSession()
	c := NewClient(s)

	_, err := c.SendMessage(context.Background(), "c1", "hello")
	var apiErr *skrumble.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
	assert.Equal(t, []string{"GET " + chatURL}, s.requests)
}

func TestInviteGuests(t *testing.T) {
	s := newStubSession()
	s.routes["GET "+chatURL] = `{"id":"c1","team":"t1"}`
	s.routes["GET guest/exists?email=gus%40x.test&team=t1"] = `false`
	s.routes["POST guest/invite"] = `[{"id":"g1","email":"gus@x.test"}]`
	c := NewClient(s)

	guests, err := c.InviteGuests(context.Background(), "c1", []string{"gus@x.test"})
	require.NoError(t, err)
	require.Len(t, guests, 1)
	assert.Equal(t, "g1", guests[0].ID)

	_, err = c.InviteGuests(context.Background(), "c1", nil)
	require.ErrorIs(t, err, skrumble.ErrNoRecipients)
}

func TestTeamAndConnected(t *testing.T) {
	s := newStubSession()
	s.routes["GET team/t1?populate=departments&users=true"] = `{"id":"t1","team_name":"Acme"}`
	s.connected = true
	c := NewClient(s)

	team, err := c.Team(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", team.TeamName)
	assert.True(t, c.Connected())

	_, err = c.Team(context.Background(), "")
	require.True(t, errors.Is(err, skrumble.ErrMissingID))
}
