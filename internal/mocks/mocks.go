package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/skrumble/skrumble-go/internal/models"
	"github.com/skrumble/skrumble-go/internal/repositories"
	"github.com/skrumble/skrumble-go/skrumble"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) SaveMessage(ctx context.Context, msg models.ArchivedMessage) (bool, error) {
	args := m.Called(ctx, msg)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) ListChatMessages(ctx context.Context, chatID string, limit int) ([]models.ArchivedMessage, error) {
	args := m.Called(ctx, chatID, limit)
	var msgs []models.ArchivedMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.ArchivedMessage)
	}
	return msgs, args.Error(1)
}

type EventRepositoryMock struct {
	mock.Mock
}

func (m *EventRepositoryMock) RecordEvent(ctx context.Context, ev models.PushEventRecord) (int64, error) {
	args := m.Called(ctx, ev)
	return args.Get(0).(int64), args.Error(1)
}

func (m *EventRepositoryMock) CountByCategory(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	var counts map[string]int64
	if val := args.Get(0); val != nil {
		counts = val.(map[string]int64)
	}
	return counts, args.Error(1)
}

// PlatformMock stands in for the SDK wrapper used by HTTP handlers.
type PlatformMock struct {
	mock.Mock
}

func (m *PlatformMock) Connected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *PlatformMock) Me(ctx context.Context) (skrumble.Participant, error) {
	args := m.Called(ctx)
	var p skrumble.Participant
	if val := args.Get(0); val != nil {
		p = val.(skrumble.Participant)
	}
	return p, args.Error(1)
}

func (m *PlatformMock) Team(ctx context.Context, teamID string) (*skrumble.Team, error) {
	args := m.Called(ctx, teamID)
	var team *skrumble.Team
	if val := args.Get(0); val != nil {
		team = val.(*skrumble.Team)
	}
	return team, args.Error(1)
}

func (m *PlatformMock) Chats(ctx context.Context, page skrumble.Page) ([]*skrumble.Chat, error) {
	args := m.Called(ctx, page)
	var chats []*skrumble.Chat
	if val := args.Get(0); val != nil {
		chats = val.([]*skrumble.Chat)
	}
	return chats, args.Error(1)
}

func (m *PlatformMock) Chat(ctx context.Context, chatID string, messageLimit int) (*skrumble.Chat, error) {
	args := m.Called(ctx, chatID, messageLimit)
	var chat *skrumble.Chat
	if val := args.Get(0); val != nil {
		chat = val.(*skrumble.Chat)
	}
	return chat, args.Error(1)
}

func (m *PlatformMock) SendMessage(ctx context.Context, chatID, text string) (*skrumble.ChatMessage, error) {
	args := m.Called(ctx, chatID, text)
	var msg *skrumble.ChatMessage
	if val := args.Get(0); val != nil {
		msg = val.(*skrumble.ChatMessage)
	}
	return msg, args.Error(1)
}

func (m *PlatformMock) InviteGuests(ctx context.Context, chatID string, emails []string) ([]*skrumble.Guest, error) {
	args := m.Called(ctx, chatID, emails)
	var guests []*skrumble.Guest
	if val := args.Get(0); val != nil {
		guests = val.([]*skrumble.Guest)
	}
	return guests, args.Error(1)
}

// BroadcasterMock records events handed to the websocket hub.
type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) Broadcast(event models.StreamEvent) {
	m.Called(event)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.EventRepository = (*EventRepositoryMock)(nil)
