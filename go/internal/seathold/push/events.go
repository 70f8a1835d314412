// Package push delivers server-initiated seat hold events to the client.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned when a closed subscription is used.
var ErrClosed = errors.New("subscription closed")

// EventType represents the type of seat hold event
type EventType string

// EventTypeExpired is the only event type the countdown engine interprets.
const EventTypeExpired EventType = "EXPIRED"

// Event is the envelope published on every push transport.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	ShowtimeID string    `json:"showtime_id"`
	UserID     string    `json:"user_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewExpiredEvent builds an EXPIRED event for a showtime and user.
func NewExpiredEvent(showtimeID, userID string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       EventTypeExpired,
		ShowtimeID: showtimeID,
		UserID:     userID,
		Timestamp:  at,
	}
}

// Parse decodes a push frame. Both the JSON envelope and a bare "EXPIRED"
// text frame are accepted. The boolean is false for frames that are neither.
func Parse(data []byte) (Event, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Event{}, false
	}
	if trimmed[0] != '{' {
		if EventType(trimmed) == EventTypeExpired {
			return Event{Type: EventTypeExpired}, true
		}
		return Event{}, false
	}
	var ev Event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return Event{}, false
	}
	if ev.Type == "" {
		return Event{}, false
	}
	return ev, true
}

// Handler receives events for one subscription.
type Handler func(Event)

// Subscription is an active registration on a push source.
type Subscription interface {
	Unsubscribe() error
}

// Source subscribes to the push channel scoped to a showtime and user.
type Source interface {
	Subscribe(ctx context.Context, showtimeID, userID string, fn Handler) (Subscription, error)
}

// Subject returns the per-hold routing name shared by the NATS and RabbitMQ
// transports.
func Subject(prefix, showtimeID, userID string) string {
	return prefix + "." + showtimeID + "." + userID
}

// matches reports whether an event addressed to a hold belongs to the given
// subscription. Events without addressing (bare frames) always match.
func matches(ev Event, showtimeID, userID string) bool {
	if ev.ShowtimeID != "" && ev.ShowtimeID != showtimeID {
		return false
	}
	if ev.UserID != "" && ev.UserID != userID {
		return false
	}
	return true
}
