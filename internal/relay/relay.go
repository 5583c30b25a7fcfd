package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skrumble/skrumble-go/internal/models"
	"github.com/skrumble/skrumble-go/internal/observability"
	"github.com/skrumble/skrumble-go/internal/repositories"
	"github.com/skrumble/skrumble-go/skrumble"
)

const defaultQueueSize = 256

// Source delivers push events; *skrumble.Socket satisfies it.
type Source interface {
	On(category skrumble.EventCategory, h skrumble.EventHandler) skrumble.ListenerID
	Off(category skrumble.EventCategory, id skrumble.ListenerID)
}

// Broadcaster fans events out to local subscribers.
type Broadcaster interface {
	Broadcast(event models.StreamEvent)
}

type Options struct {
	Source    Source
	Publisher observability.Publisher
	// Messages and Events are nil when the archive is disabled.
	Messages  repositories.MessageRepository
	Events    repositories.EventRepository
	Hub       Broadcaster
	Logger    *slog.Logger
	QueueSize int
}

// Relay copies every push event of a platform session to AMQP, the archive
// and websocket subscribers. Events are queued off the socket's delivery
// goroutine and handled in arrival order by Run.
type Relay struct {
	source    Source
	publisher observability.Publisher
	messages  repositories.MessageRepository
	events    repositories.EventRepository
	hub       Broadcaster
	log       *slog.Logger
	tracer    trace.Tracer
	queue     chan skrumble.PushEvent
	listener  skrumble.ListenerID
	now       func() time.Time
}

func New(opts Options) *Relay {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		source:    opts.Source,
		publisher: opts.Publisher,
		messages:  opts.Messages,
		events:    opts.Events,
		hub:       opts.Hub,
		log:       log,
		tracer:    otel.Tracer("skrumble-relay/relay"),
		queue:     make(chan skrumble.PushEvent, size),
		now:       time.Now,
	}
}

// Run subscribes to every category and handles events until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.listener = r.source.On(skrumble.CategoryAll, r.enqueue)
	defer r.source.Off(skrumble.CategoryAll, r.listener)
	r.log.Info("relay subscribed to push events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.queue:
			if err := r.Handle(ctx, ev); err != nil {
				r.log.Warn("relay event handled with errors", "category", ev.Category, "verb", ev.Verb, "error", err)
			}
		}
	}
}

// enqueue runs on the socket's event delivery goroutine and never blocks it.
func (r *Relay) enqueue(ev skrumble.PushEvent) {
	select {
	case r.queue <- ev:
	default:
		observability.IncRelayDropped()
		r.log.Warn("relay queue full, dropping event", "category", ev.Category, "verb", ev.Verb, "id", ev.ID)
	}
}

// Handle routes one event to every sink. A failing sink does not stop the
// others; all failures are returned joined.
func (r *Relay) Handle(ctx context.Context, ev skrumble.PushEvent) error {
	ctx, span := r.tracer.Start(ctx, "relay.push_event", trace.WithAttributes(
		attribute.String("event.category", string(ev.Category)),
		attribute.String("event.verb", string(ev.Verb)),
		attribute.String("event.id", string(ev.ID)),
	))
	defer span.End()

	requestID := uuid.NewString()
	var errs []error

	if r.publisher != nil {
		envelope := observability.EventEnvelope{
			EventType: "push_event",
			EventName: string(ev.Verb),
			Payload:   ev,
		}
		headers := observability.BuildHeaders(requestID, observability.TraceID(ctx))
		if err := r.publisher.Publish(ctx, observability.EventRoutingKey(string(ev.Category)), envelope, headers); err != nil {
			observability.IncAMQPPublishError()
			errs = append(errs, fmt.Errorf("publish: %w", err))
		}
	}

	if r.events != nil {
		if err := r.recordEvent(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("record event: %w", err))
		}
	}

	if r.messages != nil && isChatMessage(ev) {
		if err := r.archive(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("archive message: %w", err))
		}
	}

	if r.hub != nil {
		r.hub.Broadcast(r.streamEvent(ev))
	}

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *Relay) recordEvent(ctx context.Context, ev skrumble.PushEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = r.events.RecordEvent(ctx, models.PushEventRecord{
		Category:   string(ev.Category),
		Verb:       string(ev.Verb),
		ResourceID: string(ev.ID),
		Attribute:  ev.Attribute,
		Payload:    payload,
	})
	return err
}

func isChatMessage(ev skrumble.PushEvent) bool {
	return ev.Category == skrumble.CategoryChat &&
		ev.Verb == skrumble.VerbAddedTo &&
		ev.Attribute == "messages" &&
		len(ev.Added) > 0
}

func (r *Relay) archive(ctx context.Context, ev skrumble.PushEvent) error {
	msg, err := archivedMessage(ev)
	if err != nil {
		return err
	}
	inserted, err := r.messages.SaveMessage(ctx, msg)
	if err != nil {
		return err
	}
	if inserted {
		observability.IncArchivedMessage()
	}
	return nil
}

// archivedMessage converts the message carried by a chat addedTo event.
func archivedMessage(ev skrumble.PushEvent) (models.ArchivedMessage, error) {
	var m skrumble.ChatMessage
	if err := json.Unmarshal(ev.Added, &m); err != nil {
		return models.ArchivedMessage{}, err
	}

	chatID := string(ev.ID)
	if chatID == "" {
		chatID = string(m.ChatID)
	}
	out := models.ArchivedMessage{
		MessageID: m.ID,
		ChatID:    chatID,
		Type:      string(m.Type),
		Summary:   m.Summary(),
	}
	if out.MessageID == "" {
		out.MessageID = string(ev.AddedID)
	}
	if len(m.Body) > 0 && string(m.Body) != "null" {
		out.Body = m.Text()
	}
	if m.From != nil {
		out.SenderID = m.From.ParticipantID()
	}
	if t := m.CreatedTime(); !t.IsZero() {
		out.CreatedAt = &t
	}
	return out, nil
}

func (r *Relay) streamEvent(ev skrumble.PushEvent) models.StreamEvent {
	return models.StreamEvent{
		Type:       "push",
		Category:   string(ev.Category),
		Verb:       string(ev.Verb),
		ID:         string(ev.ID),
		Attribute:  ev.Attribute,
		Data:       ev.Data,
		Added:      ev.Added,
		ReceivedAt: r.now().UTC(),
	}
}
