// Package seathold keeps a live countdown of a user's seat hold in sync with
// the server-owned TTL.
//
// Three time sources are reconciled per booking session: the authoritative
// TTL read over REST, the EXPIRED event delivered on the push channel, and
// the absolute expiry instant persisted in the fallback store. The push event
// is the only signal allowed to end a session with user-facing consequences;
// a local countdown reaching zero only hides the display.
package seathold

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidKey is returned when a session key is missing a component.
	ErrInvalidKey = errors.New("invalid seat hold key")
	// ErrRegistryClosed is returned by Mount after Close.
	ErrRegistryClosed = errors.New("seat hold registry closed")
)

// Key identifies a booking session.
type Key struct {
	MovieID    string
	ShowtimeID string
	UserID     string
}

// Validate checks that every component is set.
func (k Key) Validate() error {
	if k.MovieID == "" || k.ShowtimeID == "" || k.UserID == "" {
		return fmt.Errorf("%w: movie=%q showtime=%q user=%q", ErrInvalidKey, k.MovieID, k.ShowtimeID, k.UserID)
	}
	return nil
}

func (k Key) String() string {
	return k.MovieID + "/" + k.ShowtimeID + "/" + k.UserID
}

// Status is the lifecycle state of a booking session.
type Status int

const (
	StatusUninitialized Status = iota
	StatusSyncing
	StatusActive
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "UNINITIALIZED"
	case StatusSyncing:
		return "SYNCING"
	case StatusActive:
		return "ACTIVE"
	case StatusExpired:
		return "EXPIRED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Snapshot is a read-only copy of a session as shown to views.
type Snapshot struct {
	Key                 Key
	Status              Status
	RemainingSeconds    int
	HasAuthoritativeTTL bool
	ExpiresAt           time.Time
}

// Remaining returns the seconds left and whether a countdown should be shown.
func (s Snapshot) Remaining() (int, bool) {
	if !s.HasAuthoritativeTTL {
		return 0, false
	}
	return s.RemainingSeconds, true
}

// Display renders the countdown as MM:SS. It reports false when no countdown
// should be shown.
func (s Snapshot) Display() (string, bool) {
	remaining, ok := s.Remaining()
	if !ok {
		return "", false
	}
	return FormatRemaining(remaining), true
}

// FormatRemaining renders seconds as MM:SS. Minutes are not wrapped at 60.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// session is the mutable state of one booking session. It is owned by a
// single controller goroutine and never shared.
type session struct {
	key           Key
	status        Status
	remaining     int
	authoritative bool
	expiresAt     time.Time
}

func (s *session) snapshot() Snapshot {
	return Snapshot{
		Key:                 s.key,
		Status:              s.status,
		RemainingSeconds:    s.remaining,
		HasAuthoritativeTTL: s.authoritative,
		ExpiresAt:           s.expiresAt,
	}
}

// activate shows a countdown of remaining seconds ending at expiresAt.
func (s *session) activate(remaining int, expiresAt time.Time) {
	s.status = StatusActive
	s.remaining = remaining
	s.authoritative = true
	s.expiresAt = expiresAt
}

// idle hides the countdown without ending the session.
func (s *session) idle() {
	s.status = StatusUninitialized
	s.remaining = 0
	s.authoritative = false
	s.expiresAt = time.Time{}
}

func (s *session) expire() {
	s.idle()
	s.status = StatusExpired
}

// tick applies one local decrement. It reports whether the countdown should
// keep running. Reaching zero hides the display and nothing else.
func (s *session) tick() bool {
	if s.status != StatusActive || !s.authoritative || s.remaining <= 0 {
		return false
	}
	s.remaining--
	if s.remaining > 0 {
		return true
	}
	s.authoritative = false
	s.status = StatusUninitialized
	return false
}
