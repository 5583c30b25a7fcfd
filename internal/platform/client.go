package platform

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skrumble/skrumble-go/skrumble"
)

// ErrNotLoggedIn is returned when the relay session has no principal.
var ErrNotLoggedIn = errors.New("platform session is not logged in")

// Session is the part of *skrumble.Socket the relay needs.
type Session interface {
	skrumble.API
	Connected() bool
}

// Client wraps SDK calls used by the relay HTTP API. Chats it loads are
// detached from the push stream before they are returned.
type Client struct {
	api    Session
	tracer trace.Tracer
}

// NewClient constructs the wrapper.
func NewClient(api Session) *Client {
	return &Client{api: api, tracer: otel.Tracer("skrumble-relay/platform")}
}

// Connected reports whether the realtime socket is up.
func (c *Client) Connected() bool {
	return c.api.Connected()
}

// Me returns the logged-in user or guest.
func (c *Client) Me(ctx context.Context) (skrumble.Participant, error) {
	p := c.api.Current()
	if p == nil {
		return nil, ErrNotLoggedIn
	}
	return p, nil
}

// Team loads a team with departments and users.
func (c *Client) Team(ctx context.Context, teamID string) (*skrumble.Team, error) {
	ctx, span := c.start(ctx, "platform.team", attribute.String("team.id", teamID))
	defer span.End()

	team, err := skrumble.GetTeam(ctx, c.api, teamID)
	return team, record(span, err)
}

// Chats loads one page of the session's chats.
func (c *Client) Chats(ctx context.Context, page skrumble.Page) ([]*skrumble.Chat, error) {
	ctx, span := c.start(ctx, "platform.chats", attribute.Int("page.limit", page.Limit), attribute.Int("page.skip", page.Skip))
	defer span.End()

	chats, err := skrumble.ListChats(ctx, c.api, page)
	for _, chat := range chats {
		chat.Close()
	}
	return chats, record(span, err)
}

// Chat loads a chat with its latest messageLimit messages.
func (c *Client) Chat(ctx context.Context, chatID string, messageLimit int) (*skrumble.Chat, error) {
	ctx, span := c.start(ctx, "platform.chat", attribute.String("chat.id", chatID))
	defer span.End()

	chat, err := skrumble.GetChat(ctx, c.api, chatID, skrumble.ChatQuery{MessageLimit: messageLimit})
	if chat != nil {
		chat.Close()
	}
	return chat, record(span, err)
}

// SendMessage posts a text message to a chat as the relay user.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (*skrumble.ChatMessage, error) {
	ctx, span := c.start(ctx, "platform.send_message", attribute.String("chat.id", chatID))
	defer span.End()

	chat, err := skrumble.GetChat(ctx, c.api, chatID, skrumble.ChatQuery{SkipMessages: true})
	if err != nil {
		return nil, record(span, err)
	}
	defer chat.Close()

	msg, err := chat.SendMessage(ctx, text)
	return msg, record(span, err)
}

// InviteGuests invites outside participants to a chat by email.
func (c *Client) InviteGuests(ctx context.Context, chatID string, emails []string) ([]*skrumble.Guest, error) {
	ctx, span := c.start(ctx, "platform.invite_guests", attribute.String("chat.id", chatID), attribute.Int("emails", len(emails)))
	defer span.End()

	if len(emails) == 0 {
		return nil, record(span, skrumble.ErrNoRecipients)
	}
	chat, err := skrumble.GetChat(ctx, c.api, chatID, skrumble.ChatQuery{SkipMessages: true})
	if err != nil {
		return nil, record(span, err)
	}
	defer chat.Close()

	guests, err := chat.InviteGuests(ctx, emails...)
	return guests, record(span, err)
}

func (c *Client) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func record(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
