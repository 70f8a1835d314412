package seathold

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cinemabooking/go/internal/seathold/fallback"
)

// TTLSource reads the authoritative remaining seconds of a hold. Zero means
// the server has no hold for the user.
type TTLSource interface {
	SeatHoldTTL(ctx context.Context, showtimeID, userID string) (int, error)
}

// TTLResult is the outcome of one authoritative read.
type TTLResult struct {
	TTL int
	// HadPriorSession is set when the server reports no hold while the
	// fallback store still carries an entry for the session.
	HadPriorSession bool
}

// Fetcher performs single TTL reads. It never retries and never mutates the
// fallback store.
type Fetcher struct {
	source TTLSource
	store  *fallback.Store
}

func NewFetcher(source TTLSource, store *fallback.Store) *Fetcher {
	return &Fetcher{source: source, store: store}
}

func (f *Fetcher) Fetch(ctx context.Context, key Key) (TTLResult, error) {
	ttl, err := f.source.SeatHoldTTL(ctx, key.ShowtimeID, key.UserID)
	if err != nil {
		return TTLResult{}, fmt.Errorf("failed to fetch ttl for %s: %w", key, err)
	}
	if ttl > 0 {
		return TTLResult{TTL: ttl}, nil
	}

	had, err := f.store.HasEntry(ctx, key.MovieID, key.ShowtimeID)
	if err != nil {
		log.Warn().Err(err).Str("session", key.String()).Msg("Failed to check fallback store")
		had = false
	}
	return TTLResult{HadPriorSession: had}, nil
}
