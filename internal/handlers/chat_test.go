package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/skrumble/skrumble-go/internal/mocks"
	"github.com/skrumble/skrumble-go/internal/models"
	"github.com/skrumble/skrumble-go/internal/telemetry"
	"github.com/skrumble/skrumble-go/skrumble"
)

func setupChatRouter(handler *ChatHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "ops")
		c.Next()
	})
	r.GET("/chats", handler.ListChats)
	r.GET("/chats/:chat_id", handler.GetChat)
	r.POST("/chats/:chat_id/messages", handler.PostChatMessage)
	r.POST("/chats/:chat_id/guests", handler.InviteGuests)
	r.GET("/chats/:chat_id/archive", handler.ListArchive)
	return r
}

func newAudit(publisher telemetry.Publisher) *telemetry.AuditEmitter {
	return telemetry.NewAuditEmitter(publisher, "audit.events", "skrumble-relay", "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func decodeChat(t *testing.T, raw string) *skrumble.Chat {
	t.Helper()
	chat := new(skrumble.Chat)
	require.NoError(t, json.Unmarshal([]byte(raw), chat))
	return chat
}

func serve(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListChatsSuccess(t *testing.T) {
	platform := new(mocks.PlatformMock)
	router := setupChatRouter(NewChatHandler(platform, nil, nil))

	chats := []*skrumble.Chat{
		decodeChat(t, `{"id":"c1","type":"private","unread":2,"users":[{"id":"u1","first_name":"Ops"},{"id":"u2","first_name":"Bob","last_name":"Stone"}]}`),
		decodeChat(t, `{"id":"c2","type":"room","name":"Launch","last_message_time":"2024-03-01T12:00:00Z"}`),
	}
	platform.On("Chats", mock.Anything, skrumble.Page{Limit: 10, Skip: 20}).Return(chats, nil).Once()
	platform.On("Me", mock.Anything).Return(&skrumble.User{ID: "u1", FirstName: "Ops"}, nil).Once()

	rec := serve(router, http.MethodGet, "/chats?limit=10&skip=20", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Chats []struct {
			ID              string `json:"id"`
			Name            string `json:"name"`
			Type            string `json:"type"`
			Unread          int    `json:"unread"`
			LastMessageTime string `json:"last_message_time"`
		} `json:"chats"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Chats, 2)
	assert.Equal(t, "Bob Stone", resp.Chats[0].Name)
	assert.Equal(t, 2, resp.Chats[0].Unread)
	assert.Equal(t, "Launch", resp.Chats[1].Name)
	assert.Equal(t, "group", resp.Chats[1].Type)
	assert.Equal(t, "2024-03-01T12:00:00Z", resp.Chats[1].LastMessageTime)
	platform.AssertExpectations(t)
}

func TestListChatsInvalidQuery(t *testing.T) {
	platform := new(mocks.PlatformMock)
	router := setupChatRouter(NewChatHandler(platform, nil, nil))

	for _, path := range []string{"/chats?limit=abc", "/chats?skip=-1"} {
		rec := serve(router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
	platform.AssertNotCalled(t, "Chats", mock.Anything, mock.Anything)
}

func TestListChatsDisconnected(t *testing.T) {
	platform := new(mocks.PlatformMock)
	router := setupChatRouter(NewChatHandler(platform, nil, nil))

	platform.On("Chats", mock.Anything, skrumble.Page{Limit: 100}).
		Return(nil, fmt.Errorf("list chats: %w", skrumble.ErrNotConnected)).Once()

	rec := serve(router, http.MethodGet, "/chats", "")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	platform.AssertExpectations(t)
}

func TestGetChatSuccess(t *testing.T) {
	platform := new(mocks.PlatformMock)
	router := setupChatRouter(NewChatHandler(platform, nil, nil))

	chat := decodeChat(t, `{"id":"c1","type":"room","name":"Launch","messages":[{"id":"m1","type":"text","body":"hi"}]}`)
	platform.On("Chat", mock.Anything, "c1", 5).Return(chat, nil).Once()

	rec := serve(router, http.MethodGet, "/chats/c1?messages=5", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ID       string            `json:"id"`
		Messages []json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "c1", resp.ID)
	assert.Len(t, resp.Messages, 1)
	platform.AssertExpectations(t)
}

func TestGetChatNotFound(t *testing.T) {
	platform := new(mocks.PlatformMock)
	router := setupChatRouter(NewChatHandler(platform, nil, nil))

	platform.On("Chat", mock.Anything, "missing", 50).Return(nil, &skrumble.APIError{
		Method:     "get",
		URL:        "/chat/missing",
		StatusCode: http.StatusNotFound,
		Body:       json.RawMessage(`{"message":"Chat not found"}`),
	}).Once()

	rec := serve(router, http.MethodGet, "/chats/missing", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Chat not found"}`, rec.Body.String())
}

func TestPostChatMessageSuccess(t *testing.T) {
	platform := new(mocks.PlatformMock)
	publisher := new(mocks.PublisherMock)
	router := setupChatRouter(NewChatHandler(platform, nil, newAudit(publisher)))

	msg := &skrumble.ChatMessage{ID: "m9", Type: skrumble.MessageText, Body: json.RawMessage(`"hello"`)}
	platform.On("SendMessage", mock.Anything, "c1", "hello").Return(msg, nil).Once()
	publisher.On("Publish", mock.Anything, "audit.events", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Action == "chat.send_message" && env.Payload.Target == "c1" &&
			env.UserID != nil && *env.UserID == "ops" && env.RequestID != ""
	}), mock.Anything).Return(nil).Once()

	rec := serve(router, http.MethodPost, "/chats/c1/messages", `{"body":"hello"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"m9"`)
	platform.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestPostChatMessageErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "missing body", body: `{}`, status: http.StatusBadRequest},
		{name: "blank", body: `{"body":"   "}`, err: skrumble.ErrEmptyMessage, status: http.StatusBadRequest},
		{name: "socket closed", body: `{"body":"hi"}`, err: skrumble.ErrConnectionClosed, status: http.StatusServiceUnavailable},
		{name: "upstream failure", body: `{"body":"hi"}`, err: &skrumble.APIError{StatusCode: http.StatusInternalServerError}, status: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			platform := new(mocks.PlatformMock)
			publisher := new(mocks.PublisherMock)
			router := setupChatRouter(NewChatHandler(platform, nil, newAudit(publisher)))
			if tt.err != nil {
				platform.On("SendMessage", mock.Anything, "c1", mock.Anything).Return(nil, tt.err).Once()
			}

			rec := serve(router, http.MethodPost, "/chats/c1/messages", tt.body)

			assert.Equal(t, tt.status, rec.Code)
			platform.AssertExpectations(t)
			publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestInviteGuests(t *testing.T) {
	platform := new(mocks.PlatformMock)
	publisher := new(mocks.PublisherMock)
	router := setupChatRouter(NewChatHandler(platform, nil, newAudit(publisher)))

	emails := []string{"a@example.com", "b@example.com"}
	platform.On("InviteGuests", mock.Anything, "c1", emails).
		Return([]*skrumble.Guest{{ID: "g1", Email: emails[0]}, {ID: "g2", Email: emails[1]}}, nil).Once()
	publisher.On("Publish", mock.Anything, "audit.events", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Action == "chat.invite_guests"
	}), mock.Anything).Return(assert.AnError).Once()

	rec := serve(router, http.MethodPost, "/chats/c1/guests", `{"emails":["a@example.com","b@example.com"]}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"g2"`)
	platform.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestInviteGuestsRejected(t *testing.T) {
	platform := new(mocks.PlatformMock)
	router := setupChatRouter(NewChatHandler(platform, nil, nil))

	for _, body := range []string{`{}`, `{"emails":[]}`, `{"emails":["not-an-email"]}`} {
		rec := serve(router, http.MethodPost, "/chats/c1/guests", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	platform.On("InviteGuests", mock.Anything, "c1", []string{"a@example.com"}).
		Return(nil, fmt.Errorf("invite: %w", skrumble.ErrGuestExists)).Once()
	rec := serve(router, http.MethodPost, "/chats/c1/guests", `{"emails":["a@example.com"]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	platform.AssertExpectations(t)
}

func TestListArchive(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	router := setupChatRouter(NewChatHandler(new(mocks.PlatformMock), messages, nil))

	messages.On("ListChatMessages", mock.Anything, "c1", 2).
		Return([]models.ArchivedMessage{{ID: 2, MessageID: "m2", ChatID: "c1"}, {ID: 1, MessageID: "m1", ChatID: "c1"}}, nil).Once()
	messages.On("ListChatMessages", mock.Anything, "c2", 50).
		Return(nil, assert.AnError).Once()

	rec := serve(router, http.MethodGet, "/chats/c1/archive?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.ArchivedMessage `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "m2", resp.Messages[0].MessageID)

	rec = serve(router, http.MethodGet, "/chats/c2/archive", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	messages.AssertExpectations(t)
}

func TestListArchiveDisabled(t *testing.T) {
	router := setupChatRouter(NewChatHandler(new(mocks.PlatformMock), nil, nil))

	rec := serve(router, http.MethodGet, "/chats/c1/archive", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
