// Package fallback persists the absolute expiry instant of a seat hold so a
// countdown can be recovered after a reload or navigation.
package fallback

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// KeyPrefix is the prefix of every fallback entry key.
const KeyPrefix = "booking_timer_"

// KV is the minimal key-value contract a persistence backend must satisfy.
// Get reports absence through the boolean, not an error.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Store reads and writes expiry instants keyed by (movieID, showtimeID).
// Values are encoded as epoch milliseconds.
type Store struct {
	kv KV
}

// NewStore creates a Store over the given backend
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// Key returns the persistence key for a movie and showtime.
func Key(movieID, showtimeID string) string {
	return KeyPrefix + movieID + "_" + showtimeID
}

// SaveExpiry records the absolute expiry instant. Last write wins.
func (s *Store) SaveExpiry(ctx context.Context, movieID, showtimeID string, expiresAt time.Time) error {
	value := strconv.FormatInt(expiresAt.UnixMilli(), 10)
	if err := s.kv.Set(ctx, Key(movieID, showtimeID), value); err != nil {
		return fmt.Errorf("save expiry: %w", err)
	}
	return nil
}

// LoadExpiry returns the stored expiry instant, if any. An entry that cannot
// be decoded is treated as absent.
func (s *Store) LoadExpiry(ctx context.Context, movieID, showtimeID string) (time.Time, bool, error) {
	value, ok, err := s.kv.Get(ctx, Key(movieID, showtimeID))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load expiry: %w", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// HasEntry reports whether an entry exists for the movie and showtime.
func (s *Store) HasEntry(ctx context.Context, movieID, showtimeID string) (bool, error) {
	_, ok, err := s.kv.Get(ctx, Key(movieID, showtimeID))
	if err != nil {
		return false, fmt.Errorf("check entry: %w", err)
	}
	return ok, nil
}

// Clear removes the entry. Clearing a missing entry is not an error.
func (s *Store) Clear(ctx context.Context, movieID, showtimeID string) error {
	if err := s.kv.Delete(ctx, Key(movieID, showtimeID)); err != nil {
		return fmt.Errorf("clear expiry: %w", err)
	}
	return nil
}
