package skrumble

import (
	"encoding/json"
	"fmt"
)

// EventCategory names a push-event stream on the socket.
type EventCategory string

const (
	CategoryChat       EventCategory = "chat"
	CategoryUser       EventCategory = "user"
	CategoryTeamUser   EventCategory = "teamuser"
	CategoryTeam       EventCategory = "team"
	CategoryConference EventCategory = "conference"

	// CategoryAll receives every push event regardless of category.
	CategoryAll EventCategory = "*"
)

// Categories lists the push-event categories the platform emits.
var Categories = []EventCategory{
	CategoryChat,
	CategoryUser,
	CategoryTeamUser,
	CategoryTeam,
	CategoryConference,
}

// Known reports whether c is one of Categories or CategoryAll.
func (c EventCategory) Known() bool {
	switch c {
	case CategoryChat, CategoryUser, CategoryTeamUser, CategoryTeam, CategoryConference, CategoryAll:
		return true
	default:
		return false
	}
}

// Verb is the kind of change a push event describes.
type Verb string

const (
	VerbCreated     Verb = "created"
	VerbUpdated     Verb = "updated"
	VerbDestroyed   Verb = "destroyed"
	VerbAddedTo     Verb = "addedTo"
	VerbRemovedFrom Verb = "removedFrom"
	VerbMessaged    Verb = "messaged"
)

// PushEvent is a server-initiated notification.
type PushEvent struct {
	Category  EventCategory   `json:"category"`
	Verb      Verb            `json:"verb"`
	ID        FlexString      `json:"id,omitempty"`
	Attribute string          `json:"attribute,omitempty"`
	AddedID   FlexString      `json:"addedId,omitempty"`
	RemovedID FlexString      `json:"removedId,omitempty"`
	Added     json.RawMessage `json:"added,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Previous  json.RawMessage `json:"previous,omitempty"`
}

func decodePushEvent(category EventCategory, raw json.RawMessage) (PushEvent, error) {
	var ev PushEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return PushEvent{}, fmt.Errorf("skrumble: decode %s event: %w", category, err)
	}
	ev.Category = category
	return ev, nil
}

// EventHandler handles push events. Handlers of one connection run one at a
// time in arrival order, off the reader goroutine, so they may issue
// requests on the same Socket.
type EventHandler func(PushEvent)

// ListenerID identifies a registered handler. The zero value means the
// handler was not registered.
type ListenerID uint64

type listener struct {
	id      ListenerID
	handler EventHandler
}
