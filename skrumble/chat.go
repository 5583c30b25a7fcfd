package skrumble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ChatType distinguishes one-to-one chats from group rooms.
type ChatType string

const (
	ChatPrivate ChatType = "private"
	ChatGroup   ChatType = "group"

	// chatRoom is the wire name of ChatGroup.
	chatRoom ChatType = "room"
)

var chatEditableFields = []string{
	"name",
	"purpose",
	"avatar",
	"locked",
	"favourite",
	"do_not_disturb",
}

// Chat is a conversation: private between two users, or a group of users and
// guests. A chat with an ID follows chat push events once constructed; call
// Close to stop.
type Chat struct {
	ID              string            `json:"id"`
	Type            ChatType          `json:"type"`
	Name            string            `json:"name"`
	Purpose         string            `json:"purpose"`
	Avatar          string            `json:"avatar"`
	RoomNumber      FlexString        `json:"roomNumber"`
	Unread          int               `json:"unread"`
	Locked          bool              `json:"locked"`
	PIN             FlexString        `json:"pin"`
	Links           []json.RawMessage `json:"links"`
	Files           []json.RawMessage `json:"files"`
	URL             string            `json:"url"`
	Users           []*User           `json:"users"`
	Guests          []*Guest          `json:"guests,omitempty"`
	CreatedAt       FlexString        `json:"created_at"`
	UpdatedAt       FlexString        `json:"updated_at"`
	LastSeen        FlexString        `json:"last_seen"`
	LastMessageTime FlexString        `json:"last_message_time"`
	DoNotDisturb    bool              `json:"do_not_disturb"`
	Favourite       bool              `json:"favourite"`
	Team            TeamRef           `json:"team"`

	api API

	// mu guards messages, listeners and every field push events write.
	mu           sync.Mutex
	messages     []*ChatMessage
	listeners    map[ChatEvent][]chatListener
	nextListener ListenerID
	subscription ListenerID
}

type chatAlias Chat

func (c *Chat) UnmarshalJSON(b []byte) error {
	aux := struct {
		*chatAlias
		Users    []json.RawMessage `json:"users"`
		Guests   []json.RawMessage `json:"guests"`
		Messages []json.RawMessage `json:"messages"`
	}{chatAlias: (*chatAlias)(c)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if c.Type == chatRoom {
		c.Type = ChatGroup
	}
	if aux.Users != nil {
		users := make([]*User, 0, len(aux.Users))
		for _, raw := range aux.Users {
			var ref UserRef
			if err := json.Unmarshal(raw, &ref); err != nil {
				return err
			}
			u, ok := ref.User()
			if !ok {
				u = newUser(c.api)
				u.ID = ref.ID()
			}
			u.bind(c.api)
			users = append(users, u)
		}
		c.Users = users
	}
	if aux.Guests != nil {
		guests := make([]*Guest, 0, len(aux.Guests))
		for _, raw := range aux.Guests {
			g, err := decodeGuest(c.api, raw)
			if err != nil {
				return err
			}
			guests = append(guests, g)
		}
		c.Guests = guests
	}
	if aux.Messages != nil {
		msgs := make([]*ChatMessage, 0, len(aux.Messages))
		for _, raw := range aux.Messages {
			m, err := decodeChatMessage(raw)
			if err != nil {
				return err
			}
			msgs = append(msgs, m)
		}
		c.messages = msgs
	}
	return nil
}

func (c *Chat) MarshalJSON() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	aux := struct {
		*chatAlias
		Messages []*ChatMessage `json:"messages,omitempty"`
	}{chatAlias: (*chatAlias)(c), Messages: c.messages}
	return json.Marshal(aux)
}

// NewChat builds a chat from a raw field mapping. A chat with an ID starts
// following push events on api.
func NewChat(api API, fields map[string]any) (*Chat, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("skrumble: encode chat: %w", err)
	}
	return decodeChat(api, raw)
}

func decodeChat(api API, raw json.RawMessage) (*Chat, error) {
	c := &Chat{api: api}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("skrumble: decode chat: %w", err)
	}
	c.attach()
	return c, nil
}

// attach subscribes the chat to chat push events once.
func (c *Chat) attach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ID == "" || c.api == nil || c.subscription != 0 {
		return
	}
	c.subscription = c.api.On(CategoryChat, c.handlePush)
}

// Close stops following push events.
func (c *Chat) Close() {
	c.mu.Lock()
	id := c.subscription
	c.subscription = 0
	c.mu.Unlock()
	if id != 0 && c.api != nil {
		c.api.Off(CategoryChat, id)
	}
}

// Messages returns the loaded history, newest first.
func (c *Chat) Messages() []*ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// ChatState is a consistent copy of the fields push events change.
type ChatState struct {
	Name            string
	Purpose         string
	Locked          bool
	Unread          int
	LastMessageTime string
	UpdatedAt       string
}

// State returns the push-updated fields under the chat's lock.
func (c *Chat) State() ChatState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChatState{
		Name:            c.Name,
		Purpose:         c.Purpose,
		Locked:          c.Locked,
		Unread:          c.Unread,
		LastMessageTime: string(c.LastMessageTime),
		UpdatedAt:       string(c.UpdatedAt),
	}
}

// DisplayName is the other member's name for private chats and the chat name
// otherwise.
func (c *Chat) DisplayName(self Participant) string {
	if c.Type == ChatPrivate {
		others := RemoveSelf(c.Users, self)
		if len(others) > 0 && others[0] != nil {
			return others[0].FullName()
		}
	}
	return c.State().Name
}

// ChatQuery tunes GetChat. Messages are loaded unless SkipMessages is set.
type ChatQuery struct {
	SkipMessages bool
	MessageLimit int
	MessageSkip  int
}

// GetChat loads a chat and, by default, its latest 50 messages.
func GetChat(ctx context.Context, api API, id string, q ChatQuery) (*Chat, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	raw, err := api.Get(ctx, "chat/"+pathEscape(id)+"?populate=users&sort=updatedAt+DESC&limit=1000&skip=0", nil)
	if err != nil {
		return nil, fmt.Errorf("skrumble: get chat %s: %w", id, err)
	}

	var messages []*ChatMessage
	if !q.SkipMessages {
		messages, err = loadMessages(ctx, api, id, q)
		if err != nil {
			return nil, err
		}
	}

	c := &Chat{api: api}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("skrumble: decode chat: %w", err)
	}
	if !q.SkipMessages {
		c.messages = messages
	}
	c.attach()
	return c, nil
}

func loadMessages(ctx context.Context, api API, chatID string, q ChatQuery) ([]*ChatMessage, error) {
	limit := q.MessageLimit
	if limit <= 0 {
		limit = 50
	}
	skip := q.MessageSkip
	if skip < 0 {
		skip = 0
	}
	path := fmt.Sprintf("chat/%s/messages?populate=file&populate=user_mentions&limit=%d&skip=%d", pathEscape(chatID), limit, skip)
	raw, err := api.Get(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("skrumble: load messages of chat %s: %w", chatID, err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: message list: %v", ErrUnexpectedResponse, err)
	}
	messages := make([]*ChatMessage, 0, len(items))
	for _, item := range items {
		m, err := decodeChatMessage(item)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedTime().After(messages[j].CreatedTime())
	})
	return messages, nil
}

// ListChats loads one page of the session's chats.
func ListChats(ctx context.Context, api API, page Page) ([]*Chat, error) {
	raw, err := api.Get(ctx, "chat?populate=users&"+page.query(), nil)
	if err != nil {
		return nil, fmt.Errorf("skrumble: list chats: %w", err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: chat list: %v", ErrUnexpectedResponse, err)
	}
	chats := make([]*Chat, 0, len(items))
	for _, item := range items {
		c, err := decodeChat(api, item)
		if err != nil {
			for _, done := range chats {
				done.Close()
			}
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, nil
}

// Save creates the chat when it has never been stored, and otherwise sends
// its editable fields. The reply is merged back either way.
func (c *Chat) Save(ctx context.Context) error {
	if c.ID == "" || c.CreatedAt == "" {
		return c.create(ctx)
	}
	c.mu.Lock()
	body, err := pickFields((*chatAlias)(c), chatEditableFields)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	raw, err := c.api.Patch(ctx, "chat/"+pathEscape(c.ID), body)
	if err != nil {
		return fmt.Errorf("skrumble: save chat %s: %w", c.ID, err)
	}
	return c.merge(raw)
}

func (c *Chat) create(ctx context.Context) error {
	typ := c.Type
	if typ == ChatGroup {
		typ = chatRoom
	}
	users := make([]string, 0, len(c.Users))
	for _, u := range c.Users {
		if u != nil {
			users = append(users, u.ID)
		}
	}
	raw, err := c.api.Post(ctx, "chat/", map[string]any{
		"name":    c.Name,
		"type":    typ,
		"purpose": c.Purpose,
		"team":    c.Team,
		"users":   users,
	})
	if err != nil {
		return fmt.Errorf("skrumble: create chat: %w", err)
	}
	if err := c.merge(raw); err != nil {
		return err
	}
	c.attach()
	return nil
}

func (c *Chat) merge(raw json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := merge(raw, c); err != nil {
		return fmt.Errorf("skrumble: merge chat: %w", err)
	}
	return nil
}

// GenerateGuestURL asks the platform for a guest join link and returns it.
// The chat's URL, PIN and room number are refreshed from the reply.
func (c *Chat) GenerateGuestURL(ctx context.Context) (string, error) {
	if c.ID == "" {
		return "", ErrMissingID
	}
	raw, err := c.api.Get(ctx, "chat/"+pathEscape(c.ID)+"/generateUrl", nil)
	if err != nil {
		return "", fmt.Errorf("skrumble: generate guest url: %w", err)
	}
	obj, err := firstObject(raw)
	if err != nil {
		return "", err
	}
	var reply struct {
		URL        string     `json:"url"`
		PIN        FlexString `json:"pin"`
		RoomNumber FlexString `json:"roomNumber"`
	}
	if err := json.Unmarshal(obj, &reply); err != nil {
		return "", fmt.Errorf("%w: guest url: %v", ErrUnexpectedResponse, err)
	}
	c.mu.Lock()
	if reply.URL != "" {
		c.URL = reply.URL
	}
	if reply.PIN != "" {
		c.PIN = reply.PIN
	}
	if reply.RoomNumber != "" {
		c.RoomNumber = reply.RoomNumber
	}
	url := c.URL
	c.mu.Unlock()
	return url, nil
}

// SendMessage posts a text message. The message is added to the history and
// handed to "message" listeners before the post is sent. If the post fails
// the message is marked Failed, "failed" listeners are notified and the
// error is returned.
func (c *Chat) SendMessage(ctx context.Context, text string) (*ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if c.ID == "" {
		return nil, ErrMissingID
	}
	body, _ := json.Marshal(text)
	msg := c.compose(MessageText, body, nil)
	return msg, c.send(ctx, msg, map[string]any{
		"type": string(MessageText),
		"body": text,
	})
}

// SendFile posts an already uploaded file. The extension is derived from
// the mimetype or filename when absent.
func (c *Chat) SendFile(ctx context.Context, f File) (*ChatMessage, error) {
	if f.URL == "" && f.Handle == "" {
		return nil, &MissingFieldsError{Op: "send file", Fields: []string{"url"}}
	}
	if c.ID == "" {
		return nil, ErrMissingID
	}
	if f.Extension == "" {
		f.Extension = fileExtension(f.Filename, f.Mimetype)
	}
	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("skrumble: encode file: %w", err)
	}
	file := f
	msg := c.compose(MessageFile, body, &file)
	return msg, c.send(ctx, msg, map[string]any{
		"type":    "filestack",
		"chat_id": c.ID,
		"body":    f,
	})
}

func (c *Chat) compose(typ MessageType, body json.RawMessage, file *File) *ChatMessage {
	var from Participant
	if c.api != nil {
		from = c.api.Current()
	}
	return &ChatMessage{
		Type:      typ,
		Body:      body,
		File:      file,
		ChatID:    FlexString(c.ID),
		CreatedAt: FlexString(time.Now().UTC().Format(time.RFC3339Nano)),
		From:      from,
	}
}

func (c *Chat) send(ctx context.Context, msg *ChatMessage, payload map[string]any) error {
	c.mu.Lock()
	c.messages = append([]*ChatMessage{msg}, c.messages...)
	c.mu.Unlock()
	c.notify(ChatNotification{Event: ChatMessageAdded, Chat: c, Message: msg})

	if _, err := c.api.Post(ctx, "chat/"+pathEscape(c.ID)+"/messages", payload); err != nil {
		err = fmt.Errorf("skrumble: send message to chat %s: %w", c.ID, err)
		c.mu.Lock()
		msg.Failed = true
		c.mu.Unlock()
		c.notify(ChatNotification{Event: ChatSendFailed, Chat: c, Message: msg, Err: err})
		return err
	}
	return nil
}

// AddUsers adds members to the chat, one request per user.
func (c *Chat) AddUsers(ctx context.Context, users ...UserRef) error {
	if c.ID == "" {
		return ErrMissingID
	}
	var errs []error
	for _, u := range users {
		if u.IsZero() {
			errs = append(errs, fmt.Errorf("skrumble: add user: %w", ErrMissingID))
			continue
		}
		if _, err := c.api.Post(ctx, "chat/"+pathEscape(c.ID)+"/users", map[string]any{"user": u.ID()}); err != nil {
			errs = append(errs, fmt.Errorf("skrumble: add user %s: %w", u.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// RemoveUsers removes members from the chat, one request per user.
func (c *Chat) RemoveUsers(ctx context.Context, users ...UserRef) error {
	if c.ID == "" {
		return ErrMissingID
	}
	var errs []error
	for _, u := range users {
		if u.IsZero() {
			errs = append(errs, fmt.Errorf("skrumble: remove user: %w", ErrMissingID))
			continue
		}
		if _, err := c.api.Delete(ctx, "chat/"+pathEscape(c.ID)+"/users/"+pathEscape(u.ID()), nil); err != nil {
			errs = append(errs, fmt.Errorf("skrumble: remove user %s: %w", u.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// InviteGuests invites outside participants by email. Addresses that already
// belong to a guest of the chat's team are rejected before anything is sent.
func (c *Chat) InviteGuests(ctx context.Context, emails ...string) ([]*Guest, error) {
	if len(emails) == 0 {
		return nil, ErrNoRecipients
	}
	if c.ID == "" {
		return nil, ErrMissingID
	}
	for _, email := range emails {
		exists, err := GuestExists(ctx, c.api, email, c.Team)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrGuestExists, email)
		}
	}

	raw, err := c.api.Post(ctx, "guest/invite", map[string]any{
		"chat":   c.ID,
		"emails": emails,
	})
	if err != nil {
		return nil, fmt.Errorf("skrumble: invite guests: %w", err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return nil, fmt.Errorf("%w: guest invite returned %.80s", ErrUnexpectedResponse, raw)
	}
	guests := make([]*Guest, 0, len(items))
	for _, item := range items {
		g, err := decodeGuest(c.api, item)
		if err != nil {
			return nil, err
		}
		guests = append(guests, g)
	}
	return guests, nil
}
