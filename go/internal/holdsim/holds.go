package holdsim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cinemabooking/go/internal/seathold/push"
)

var (
	ErrNoSeats    = errors.New("at least one seat is required")
	ErrInvalidTTL = errors.New("ttl must not be negative")
)

// HoldKey identifies a user's hold on a showtime.
type HoldKey struct {
	ShowtimeID string
	UserID     string
}

type hold struct {
	seatIDs   []string
	visibleAt time.Time
	expiresAt time.Time
	timer     clockwork.Timer
}

// Publisher announces server-side hold expiry.
type Publisher interface {
	PublishExpired(ctx context.Context, ev push.Event) error
}

// HoldStore keeps holds in memory with server-owned TTLs. A hold becomes
// readable only after the configured creation latency.
type HoldStore struct {
	clock      clockwork.Clock
	defaultTTL time.Duration
	latency    time.Duration
	publishers []Publisher

	mu    sync.Mutex
	holds map[HoldKey]*hold
}

func NewHoldStore(clock clockwork.Clock, defaultTTL, latency time.Duration, publishers ...Publisher) *HoldStore {
	return &HoldStore{
		clock:      clock,
		defaultTTL: defaultTTL,
		latency:    latency,
		publishers: publishers,
		holds:      make(map[HoldKey]*hold),
	}
}

// Hold creates or refreshes a hold. A zero ttl uses the default.
func (s *HoldStore) Hold(key HoldKey, seatIDs []string, ttl time.Duration) (time.Time, error) {
	if len(seatIDs) == 0 {
		return time.Time{}, ErrNoSeats
	}
	if ttl < 0 {
		return time.Time{}, ErrInvalidTTL
	}
	if ttl == 0 {
		ttl = s.defaultTTL
	}

	now := s.clock.Now()
	h := &hold{
		seatIDs:   append([]string(nil), seatIDs...),
		visibleAt: now.Add(s.latency),
		expiresAt: now.Add(ttl),
	}

	s.mu.Lock()
	if existing, ok := s.holds[key]; ok {
		existing.timer.Stop()
		// a refresh of a visible hold stays visible
		if !now.Before(existing.visibleAt) {
			h.visibleAt = now
		}
	}
	h.timer = s.clock.AfterFunc(ttl, func() { s.expire(key, h) })
	s.holds[key] = h
	s.mu.Unlock()

	log.Debug().
		Str("showtime_id", key.ShowtimeID).
		Str("user_id", key.UserID).
		Strs("seat_ids", seatIDs).
		Time("expires_at", h.expiresAt).
		Msg("hold stored")
	return h.expiresAt, nil
}

// Release drops a hold without publishing expiry. It reports whether one
// existed.
func (s *HoldStore) Release(key HoldKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[key]
	if !ok {
		return false
	}
	h.timer.Stop()
	delete(s.holds, key)
	return true
}

// TTL returns the remaining whole seconds of a visible hold, or zero.
func (s *HoldStore) TTL(key HoldKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[key]
	if !ok {
		return 0
	}
	now := s.clock.Now()
	if now.Before(h.visibleAt) {
		return 0
	}
	remaining := int(h.expiresAt.Sub(now) / time.Second)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Len returns the number of stored holds, visible or not.
func (s *HoldStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.holds)
}

func (s *HoldStore) expire(key HoldKey, h *hold) {
	s.mu.Lock()
	// a refresh replaced this hold after its timer fired
	if s.holds[key] != h {
		s.mu.Unlock()
		return
	}
	delete(s.holds, key)
	s.mu.Unlock()

	ev := push.NewExpiredEvent(key.ShowtimeID, key.UserID, s.clock.Now())
	log.Info().
		Str("showtime_id", key.ShowtimeID).
		Str("user_id", key.UserID).
		Str("event_id", ev.ID).
		Msg("hold expired")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, p := range s.publishers {
		if err := p.PublishExpired(ctx, ev); err != nil {
			log.Error().Err(err).Str("event_id", ev.ID).Msg("failed to publish expiry")
		}
	}
}

// Close stops every hold timer.
func (s *HoldStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, h := range s.holds {
		h.timer.Stop()
		delete(s.holds, key)
	}
}
