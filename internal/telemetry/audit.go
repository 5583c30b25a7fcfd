package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/skrumble/skrumble-go/internal/observability"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// AuditEmitter publishes audit records for operator actions on the relay.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         *slog.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string `json:"level"`
	Text   string `json:"text"`
	Action string `json:"action,omitempty"`
	Target string `json:"target,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log *slog.Logger) *AuditEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
	}
}

// Emit publishes one audit record. Publish failures are logged, never
// returned.
func (e *AuditEmitter) Emit(ctx context.Context, payload AuditPayload, requestID string, userID *string) {
	if e == nil || e.publisher == nil {
		return
	}

	e.log.Info("audit emit", "level", payload.Level, "action", payload.Action, "request_id", requestID, "text", payload.Text)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       payload,
	}

	headers := observability.BuildHeaders(requestID, observability.TraceID(ctx))
	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil {
		e.log.Warn("audit publish failed", "error", err)
	}
}
