package skrumble

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ChatEvent names a chat-level notification.
type ChatEvent string

const (
	// ChatUpdated fires when the name, purpose, lock state or counters change.
	ChatUpdated ChatEvent = "updated"
	// ChatMessageAdded fires for every message added to the history,
	// including the session's own optimistic sends.
	ChatMessageAdded ChatEvent = "message"
	// ChatSendFailed fires when the platform rejects a send.
	ChatSendFailed ChatEvent = "failed"
)

// ChatNotification is passed to chat listeners. Push is nil for
// notifications raised by the session's own sends.
type ChatNotification struct {
	Event   ChatEvent
	Chat    *Chat
	Message *ChatMessage
	Push    *PushEvent
	Err     error
}

// ChatHandler handles chat notifications. Handlers raised by push events run
// on the socket's event delivery goroutine and may call chat operations such
// as SendMessage.
type ChatHandler func(ChatNotification)

type chatListener struct {
	id      ListenerID
	handler ChatHandler
}

// On registers a handler for one chat event. It returns 0 and registers
// nothing when the chat has no ID or ev is unknown.
func (c *Chat) On(ev ChatEvent, h ChatHandler) ListenerID {
	if h == nil {
		return 0
	}
	switch ev {
	case ChatUpdated, ChatMessageAdded, ChatSendFailed:
	default:
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ID == "" {
		return 0
	}
	if c.listeners == nil {
		c.listeners = make(map[ChatEvent][]chatListener)
	}
	c.nextListener++
	c.listeners[ev] = append(c.listeners[ev], chatListener{id: c.nextListener, handler: h})
	return c.nextListener
}

// Off removes a handler registered with On.
func (c *Chat) Off(ev ChatEvent, id ListenerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ls := c.listeners[ev]
	for i, l := range ls {
		if l.id == id {
			c.listeners[ev] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

func (c *Chat) notify(n ChatNotification) {
	c.mu.Lock()
	ls := make([]chatListener, len(c.listeners[n.Event]))
	copy(ls, c.listeners[n.Event])
	c.mu.Unlock()
	for _, l := range ls {
		l.handler(n)
	}
}

// handlePush applies a chat push event addressed to this chat.
func (c *Chat) handlePush(ev PushEvent) {
	if ev.ID != "" && string(ev.ID) != c.ID {
		return
	}

	var (
		event ChatEvent
		msg   *ChatMessage
	)
	switch ev.Verb {
	case VerbAddedTo:
		if ev.Attribute != "messages" {
			return
		}
		m, err := decodeChatMessage(ev.Added)
		if err != nil {
			loggerOf(c.api).Warn("dropping malformed chat message", "chat", c.ID, "error", err)
			return
		}
		if c.applyChange(m) {
			event = ChatUpdated
			break
		}
		c.mu.Lock()
		c.messages = append([]*ChatMessage{m}, c.messages...)
		c.mu.Unlock()
		event, msg = ChatMessageAdded, m
	case VerbUpdated:
		if !c.applyCounters(ev.Data) {
			return
		}
		event = ChatUpdated
	case VerbCreated, VerbDestroyed, VerbRemovedFrom, VerbMessaged:
		return
	default:
		return
	}

	c.notify(ChatNotification{Event: event, Chat: c, Message: msg, Push: &ev})
}

// applyChange folds rename, purpose and lock messages into the chat. It
// reports whether m was one of those.
func (c *Chat) applyChange(m *ChatMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch m.Type {
	case MessageChatRenamed:
		_, c.Name = m.Change()
	case MessageChatPurpose:
		_, c.Purpose = m.Change()
	case MessageChatLocked:
		c.Locked = m.LockState()
	default:
		return false
	}
	return true
}

// applyCounters takes the first of unread, last_message_time and updatedAt
// present in data. A present key always updates its field, even when the
// value is null or malformed: unread then falls back to 0 and the times to "".
func (c *Chat) applyCounters(data json.RawMessage) bool {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if raw, ok := fields["unread"]; ok {
		c.Unread = looseInt(raw)
		return true
	}
	if raw, ok := fields["last_message_time"]; ok {
		c.LastMessageTime = looseString(raw)
		return true
	}
	if raw, ok := fields["updatedAt"]; ok {
		c.UpdatedAt = looseString(raw)
		return true
	}
	return false
}

// looseInt reads a count sent as a number or numeric string. Anything else
// reads as 0.
func looseInt(raw json.RawMessage) int {
	var s FlexString
	if err := s.UnmarshalJSON(raw); err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
	if err != nil {
		return 0
	}
	return int(f)
}

func looseString(raw json.RawMessage) FlexString {
	var s FlexString
	if err := s.UnmarshalJSON(raw); err != nil {
		return ""
	}
	return s
}
