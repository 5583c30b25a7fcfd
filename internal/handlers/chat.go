package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/skrumble/skrumble-go/internal/repositories"
	"github.com/skrumble/skrumble-go/internal/telemetry"
	"github.com/skrumble/skrumble-go/skrumble"
)

// Platform is the SDK surface used by the HTTP API.
type Platform interface {
	Connected() bool
	Me(ctx context.Context) (skrumble.Participant, error)
	Team(ctx context.Context, teamID string) (*skrumble.Team, error)
	Chats(ctx context.Context, page skrumble.Page) ([]*skrumble.Chat, error)
	Chat(ctx context.Context, chatID string, messageLimit int) (*skrumble.Chat, error)
	SendMessage(ctx context.Context, chatID, text string) (*skrumble.ChatMessage, error)
	InviteGuests(ctx context.Context, chatID string, emails []string) ([]*skrumble.Guest, error)
}

// ChatHandler manages chat endpoints.
type ChatHandler struct {
	platform Platform
	messages repositories.MessageRepository
	audit    *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler. messages may be nil when the archive
// is disabled.
func NewChatHandler(platform Platform, messages repositories.MessageRepository, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{platform: platform, messages: messages, audit: audit}
}

// ListChats returns one page of the relay user's chats.
func (h *ChatHandler) ListChats(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 100)
	if !ok {
		return
	}
	skip, ok := queryInt(c, "skip", 0)
	if !ok {
		return
	}

	chats, err := h.platform.Chats(c.Request.Context(), skrumble.Page{Limit: limit, Skip: skip})
	if err != nil {
		respondError(c, err)
		return
	}

	var self skrumble.Participant
	if me, err := h.platform.Me(c.Request.Context()); err == nil {
		self = me
	}

	type chatResponse struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Type            string `json:"type"`
		Unread          int    `json:"unread"`
		LastMessageTime string `json:"last_message_time,omitempty"`
	}

	responses := make([]chatResponse, 0, len(chats))
	for _, chat := range chats {
		state := chat.State()
		responses = append(responses, chatResponse{
			ID:              chat.ID,
			Name:            chat.DisplayName(self),
			Type:            string(chat.Type),
			Unread:          state.Unread,
			LastMessageTime: state.LastMessageTime,
		})
	}

	c.JSON(http.StatusOK, gin.H{"chats": responses})
}

// GetChat returns a chat with its latest messages.
func (h *ChatHandler) GetChat(c *gin.Context) {
	limit, ok := queryInt(c, "messages", 50)
	if !ok {
		return
	}

	chat, err := h.platform.Chat(c.Request.Context(), c.Param("chat_id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

// PostChatMessage sends a text message as the relay user.
func (h *ChatHandler) PostChatMessage(c *gin.Context) {
	var req struct {
		Body string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chatID := c.Param("chat_id")
	msg, err := h.platform.SendMessage(c.Request.Context(), chatID, req.Body)
	if err != nil {
		respondError(c, err)
		return
	}

	h.audit.Emit(c.Request.Context(), telemetry.AuditPayload{
		Level:  "INFO",
		Text:   "message sent through relay",
		Action: "chat.send_message",
		Target: chatID,
	}, requestIDFromContext(c), userIDFromContext(c))
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// InviteGuests invites outside participants to a chat.
func (h *ChatHandler) InviteGuests(c *gin.Context) {
	var req struct {
		Emails []string `json:"emails" binding:"required,min=1,dive,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chatID := c.Param("chat_id")
	guests, err := h.platform.InviteGuests(c.Request.Context(), chatID, req.Emails)
	if err != nil {
		respondError(c, err)
		return
	}

	h.audit.Emit(c.Request.Context(), telemetry.AuditPayload{
		Level:  "INFO",
		Text:   "guests invited: " + strings.Join(req.Emails, ", "),
		Action: "chat.invite_guests",
		Target: chatID,
	}, requestIDFromContext(c), userIDFromContext(c))
	c.JSON(http.StatusCreated, gin.H{"guests": guests})
}

// ListArchive returns archived messages of a chat, newest first.
func (h *ChatHandler) ListArchive(c *gin.Context) {
	if h.messages == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "message archive disabled"})
		return
	}
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return
	}

	msgs, err := h.messages.ListChatMessages(c.Request.Context(), c.Param("chat_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load archived messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// queryInt reads a non-negative integer query parameter, writing a 400 and
// returning false when it is malformed.
func queryInt(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return n, true
}
