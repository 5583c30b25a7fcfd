package skrumble

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MessageType tags the shape of a message body.
type MessageType string

const (
	MessageText               MessageType = "text"
	MessageFile               MessageType = "file"
	MessageCallLog            MessageType = "call_log"
	MessageVoicemail          MessageType = "voicemail"
	MessageChatRenamed        MessageType = "chat_renamed"
	MessageChatPurpose        MessageType = "chat_purpose"
	MessageChatLocked         MessageType = "chat_locked"
	MessageParticipantAdded   MessageType = "participant_added"
	MessageParticipantRemoved MessageType = "participant_removed"
	MessageRecordingVideo     MessageType = "recording_video"
)

// File is an uploaded attachment.
type File struct {
	ID        string `json:"id,omitempty"`
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	Mimetype  string `json:"mimetype"`
	Size      int64  `json:"size,omitempty"`
	Handle    string `json:"handle,omitempty"`
	Extension string `json:"extension,omitempty"`
}

// ChatMessage is one entry of a chat's history.
type ChatMessage struct {
	ID           string            `json:"id"`
	Type         MessageType       `json:"type"`
	Body         json.RawMessage   `json:"body,omitempty"`
	File         *File             `json:"file,omitempty"`
	ChatID       FlexString        `json:"chat"`
	CreatedAt    FlexString        `json:"created_at"`
	From         Participant       `json:"-"`
	Language     string            `json:"language"`
	Links        []json.RawMessage `json:"links"`
	RoomMentions []FlexString      `json:"room_mentions"`
	UserMentions []UserRef         `json:"user_mentions"`

	// Failed is set on a locally composed message whose send was rejected.
	Failed bool `json:"failed,omitempty"`
}

// NewChatMessage builds a message from a raw field mapping.
func NewChatMessage(fields map[string]any) (*ChatMessage, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("skrumble: encode message: %w", err)
	}
	return decodeChatMessage(raw)
}

func decodeChatMessage(raw json.RawMessage) (*ChatMessage, error) {
	m := &ChatMessage{}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("skrumble: decode message: %w", err)
	}
	return m, nil
}

type chatMessageAlias ChatMessage

func (m *ChatMessage) UnmarshalJSON(b []byte) error {
	aux := struct {
		*chatMessageAlias
		File json.RawMessage `json:"file"`
		From json.RawMessage `json:"from"`
	}{chatMessageAlias: (*chatMessageAlias)(m)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	if f := bytes.TrimSpace(aux.File); len(f) > 0 {
		switch f[0] {
		case '{':
			m.File = &File{}
			if err := json.Unmarshal(f, m.File); err != nil {
				return err
			}
		case '"':
			var id string
			if err := json.Unmarshal(f, &id); err != nil {
				return err
			}
			if id != "" {
				m.File = &File{ID: id}
			}
		}
	}

	if len(aux.From) > 0 {
		from, err := decodeSender(aux.From)
		if err != nil {
			return err
		}
		if from != nil {
			m.From = from
		}
	}
	return nil
}

func (m *ChatMessage) MarshalJSON() ([]byte, error) {
	aux := struct {
		*chatMessageAlias
		From any `json:"from,omitempty"`
	}{chatMessageAlias: (*chatMessageAlias)(m)}
	if m.From != nil {
		aux.From = m.From
	}
	return json.Marshal(aux)
}

// decodeSender picks Guest or User by the sender's role.
func decodeSender(raw json.RawMessage) (Participant, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] != '{' {
		var id FlexString
		if err := id.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		if id == "" {
			return nil, nil
		}
		u := newUser(nil)
		u.ID = string(id)
		return u, nil
	}

	var probe struct {
		Role FlexString `json:"role"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	if probe.Role == "guest" {
		g, err := decodeGuest(nil, raw)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	u, err := decodeUser(nil, raw)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Text returns the body of a text message.
func (m *ChatMessage) Text() string {
	var s string
	if json.Unmarshal(m.Body, &s) == nil {
		return s
	}
	return string(m.Body)
}

// Change returns the before and after values of a rename or purpose change.
func (m *ChatMessage) Change() (before, after string) {
	var c struct {
		Old string `json:"old"`
		New string `json:"new"`
	}
	_ = json.Unmarshal(m.Body, &c)
	return c.Old, c.New
}

// LockState reports the lock flag carried by a chat_locked message.
func (m *ChatMessage) LockState() bool {
	return truthy(m.Body)
}

// CallLog is the body of a call_log message.
type CallLog struct {
	Type     string `json:"type"`
	Duration int    `json:"duration"`
	To       *User  `json:"to"`
}

// CallLog decodes the body of a call_log message.
func (m *ChatMessage) CallLog() (CallLog, error) {
	var c CallLog
	if err := json.Unmarshal(m.Body, &c); err != nil {
		return CallLog{}, fmt.Errorf("skrumble: decode call log: %w", err)
	}
	return c, nil
}

// CreatedTime parses CreatedAt. It is zero when the timestamp is missing or
// unparseable.
func (m *ChatMessage) CreatedTime() time.Time {
	s := string(m.CreatedAt)
	for _, layout := range []string{time.RFC3339Nano, time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Summary renders the message as one line of plain text, e.g.
// "Ada Lovelace renamed the conversation from a to b". Message types with no
// readable form return "".
func (m *ChatMessage) Summary() string {
	who := "Someone"
	if m.From != nil && m.From.FullName() != "" {
		who = m.From.FullName()
	}
	switch m.Type {
	case MessageText:
		return who + ": " + m.Text()
	case MessageCallLog:
		c, err := m.CallLog()
		if err != nil {
			return ""
		}
		to := ""
		if c.To != nil {
			to = c.To.FullName()
		}
		switch c.Type {
		case "conference_started":
			return who + " started a call"
		case "conference_ended":
			return who + " ended the call"
		case "conference_join":
			return who + " joined the call"
		case "conference_leave":
			return who + " left the call"
		case "missed":
			return fmt.Sprintf("%s called %s (missed)", who, to)
		case "call":
			return fmt.Sprintf("%s called %s (%ds)", who, to, c.Duration)
		}
		return ""
	case MessageParticipantAdded:
		return who + " joined the conversation"
	case MessageParticipantRemoved:
		return who + " left the conversation"
	case MessageChatLocked:
		if m.LockState() {
			return who + " locked the conversation"
		}
		return who + " unlocked the conversation"
	case MessageChatPurpose:
		before, after := m.Change()
		return fmt.Sprintf("%s changed the purpose from %s to %s", who, before, after)
	case MessageChatRenamed:
		before, after := m.Change()
		return fmt.Sprintf("%s renamed the conversation from %s to %s", who, before, after)
	case MessageVoicemail:
		return strings.TrimSpace(who + " left a voicemail " + m.fileURL())
	case MessageFile:
		name := ""
		if m.File != nil {
			name = m.File.Filename
		}
		return strings.TrimSpace(fmt.Sprintf("%s sent %s %s", who, name, m.fileURL()))
	case MessageRecordingVideo:
		return strings.TrimSpace(who + " made a recording " + m.fileURL())
	default:
		return ""
	}
}

func (m *ChatMessage) fileURL() string {
	if m.File == nil {
		return ""
	}
	return m.File.URL
}
