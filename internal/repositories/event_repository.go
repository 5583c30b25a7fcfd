package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/skrumble/skrumble-go/internal/models"
)

// EventRepository records raw push events.
type EventRepository interface {
	RecordEvent(ctx context.Context, ev models.PushEventRecord) (int64, error)
	CountByCategory(ctx context.Context) (map[string]int64, error)
}

// EventRepo is a sqlx implementation of EventRepository.
type EventRepo struct {
	db *sqlx.DB
}

// NewEventRepo constructs an EventRepo.
func NewEventRepo(db *sqlx.DB) *EventRepo {
	return &EventRepo{db: db}
}

// RecordEvent inserts ev and returns its row id.
func (r *EventRepo) RecordEvent(ctx context.Context, ev models.PushEventRecord) (int64, error) {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var id int64
	err := r.db.QueryRowxContext(ctx, `INSERT INTO push_events (category, verb, resource_id, attribute, payload) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		ev.Category, ev.Verb, ev.ResourceID, ev.Attribute, []byte(payload)).Scan(&id)
	return id, err
}

// CountByCategory returns the number of recorded events per category.
func (r *EventRepo) CountByCategory(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT category, COUNT(*) FROM push_events GROUP BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var category string
		var n int64
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		counts[category] = n
	}
	return counts, rows.Err()
}
