package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/proctorquiz/internal/config"
	"github.com/stemsi/proctorquiz/internal/model"
)

// Monitor event types published on a quiz's monitor channel.
const (
	EventViolation = "violation"
	EventSubmitted = "submitted"
	EventStarted   = "started"
)

// MonitorEvent is one message on a quiz's live monitor stream.
type MonitorEvent struct {
	Type      string    `json:"type"`
	QuizID    uuid.UUID `json:"quiz_id"`
	Email     string    `json:"email,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Status    string    `json:"status,omitempty"`
	Score     *float64  `json:"score,omitempty"`
	MaxScore  *float64  `json:"max_score,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Events fans attempt activity out through Redis: the monitor Pub/Sub
// channel for live dashboards and the violation queue for persistence.
// Every call is best effort; failures are logged and swallowed.
type Events struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewEvents creates an Events publisher.
func NewEvents(rdb *redis.Client, log zerolog.Logger) *Events {
	return &Events{rdb: rdb, log: log.With().Str("component", "events").Logger()}
}

// Publish sends an event to the quiz's monitor channel.
func (e *Events) Publish(ctx context.Context, evt MonitorEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	channel := config.CacheKey.QuizMonitorChannel(evt.QuizID.String())
	if err := e.rdb.Publish(ctx, channel, data).Err(); err != nil {
		e.log.Warn().Err(err).Str("type", evt.Type).Msg("Failed to publish monitor event")
	}
}

// EnqueueViolation pushes an advisory violation row for the worker.
func (e *Events) EnqueueViolation(ctx context.Context, l model.ViolationLog) error {
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	return e.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data).Err()
}
