package seathold

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mcdev12/cinemabooking/go/internal/seathold/fallback"
)

// SyncMode is the path a sync request came in on.
type SyncMode int

const (
	// SyncOnMount is a passive sync from a view appearing. It is skipped when
	// the session already holds an authoritative TTL.
	SyncOnMount SyncMode = iota
	// SyncOnTrigger follows a hold-creating action and retries zero results
	// to absorb server-side creation latency.
	SyncOnTrigger
)

func (m SyncMode) String() string {
	if m == SyncOnTrigger {
		return "trigger"
	}
	return "mount"
}

// RetryPolicy bounds the trigger path retries. Attempts counts retries after
// the immediate attempt.
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5, Interval: 300 * time.Millisecond}
}

// Outcome tells the owner of a SyncEngine what to do next.
type Outcome int

const (
	// OutcomeIgnored means nothing changed.
	OutcomeIgnored Outcome = iota
	// OutcomeActive means a countdown should (re)start from the session value.
	OutcomeActive
	// OutcomeIdle means no countdown should run.
	OutcomeIdle
	// OutcomeRetry means another attempt should run after the retry interval.
	OutcomeRetry
	// OutcomeFetch means a fetch should start now.
	OutcomeFetch
)

// SyncEngine is the session state machine. It is not safe for concurrent
// use; a Controller drives it from a single goroutine and runs the fetches
// it asks for.
type SyncEngine struct {
	s      session
	store  *fallback.Store
	clock  clockwork.Clock
	policy RetryPolicy
	logger zerolog.Logger

	inFlight     bool
	retryPending bool
	mode         SyncMode
	retries      int
	// queued holds a trigger that arrived after expiry while a stale read
	// was still in flight.
	queued bool
}

func NewSyncEngine(key Key, store *fallback.Store, clock clockwork.Clock, policy RetryPolicy, logger zerolog.Logger) *SyncEngine {
	return &SyncEngine{
		s:      session{key: key},
		store:  store,
		clock:  clock,
		policy: policy,
		logger: logger,
	}
}

func (e *SyncEngine) Snapshot() Snapshot {
	return e.s.snapshot()
}

func (e *SyncEngine) Status() Status {
	return e.s.status
}

// InFlight reports whether a fetch is outstanding.
func (e *SyncEngine) InFlight() bool {
	return e.inFlight
}

// Begin handles a sync request and reports whether a fetch should start.
func (e *SyncEngine) Begin(mode SyncMode) bool {
	if e.inFlight {
		if mode == SyncOnTrigger {
			if e.s.status == StatusExpired {
				e.queued = true
			} else {
				// the outstanding read now counts as the first trigger attempt
				e.mode = SyncOnTrigger
				e.retries = 0
			}
		}
		e.logger.Debug().Str("mode", mode.String()).Msg("Sync already in flight")
		return false
	}

	switch mode {
	case SyncOnMount:
		if e.s.status == StatusExpired || e.retryPending {
			return false
		}
		if e.s.authoritative {
			e.logger.Debug().Msg("Session already has an authoritative ttl, skipping mount sync")
			return false
		}
	case SyncOnTrigger:
		if e.s.status == StatusExpired {
			e.logger.Info().Msg("Starting a new session after expiry")
			e.s.idle()
		}
	}

	e.start(mode)
	return true
}

// Continue starts the next attempt of a pending retry chain.
func (e *SyncEngine) Continue() bool {
	if !e.retryPending || e.inFlight || e.s.status == StatusExpired {
		return false
	}
	e.retryPending = false
	e.inFlight = true
	e.s.status = StatusSyncing
	return true
}

func (e *SyncEngine) start(mode SyncMode) {
	e.inFlight = true
	e.retryPending = false
	e.mode = mode
	e.retries = 0
	e.s.status = StatusSyncing
}

// Complete applies the result of the outstanding fetch.
func (e *SyncEngine) Complete(ctx context.Context, res TTLResult, err error) Outcome {
	e.inFlight = false

	if e.s.status == StatusExpired {
		// the push event won the race
		if e.queued {
			e.queued = false
			e.s.idle()
			e.start(SyncOnTrigger)
			return OutcomeFetch
		}
		return OutcomeIgnored
	}

	if err != nil {
		e.retryPending = false
		e.logger.Warn().Err(err).Msg("TTL fetch failed, falling back to stored expiry")
		return e.recover(ctx)
	}

	if res.TTL > 0 {
		e.retryPending = false
		now := e.clock.Now()
		expiresAt := now.Add(time.Duration(res.TTL) * time.Second)
		e.s.activate(res.TTL, expiresAt)
		if err := e.store.SaveExpiry(ctx, e.s.key.MovieID, e.s.key.ShowtimeID, expiresAt); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to persist expiry")
		}
		e.logger.Debug().Int("ttl", res.TTL).Time("expires_at", expiresAt).Msg("Applied authoritative ttl")
		return OutcomeActive
	}

	if e.mode == SyncOnTrigger && e.retries < e.policy.Attempts {
		e.retries++
		e.retryPending = true
		e.logger.Debug().Int("retry", e.retries).Msg("Hold not visible yet, retrying")
		return OutcomeRetry
	}

	e.retryPending = false
	if res.HadPriorSession {
		if err := e.store.Clear(ctx, e.s.key.MovieID, e.s.key.ShowtimeID); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to clear stale expiry")
		}
	}
	e.s.idle()
	return OutcomeIdle
}

// recover shows a countdown derived from the stored expiry when one is still
// in the future. It never writes to the store.
func (e *SyncEngine) recover(ctx context.Context) Outcome {
	expiresAt, ok, err := e.store.LoadExpiry(ctx, e.s.key.MovieID, e.s.key.ShowtimeID)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to load stored expiry")
		expiresAt, ok = e.s.expiresAt, !e.s.expiresAt.IsZero()
	}

	if ok {
		remaining := int(expiresAt.Sub(e.clock.Now()) / time.Second)
		if remaining > 0 {
			e.s.activate(remaining, expiresAt)
			return OutcomeActive
		}
	}

	e.s.idle()
	return OutcomeIdle
}

// Tick applies one countdown decrement and reports whether ticking should
// continue.
func (e *SyncEngine) Tick() bool {
	return e.s.tick()
}

// Expire ends the session on a push EXPIRED event. The stored expiry is
// cleared before the state changes. It reports false if already expired.
func (e *SyncEngine) Expire(ctx context.Context) bool {
	if e.s.status == StatusExpired {
		return false
	}
	if err := e.store.Clear(ctx, e.s.key.MovieID, e.s.key.ShowtimeID); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to clear stored expiry")
	}
	e.s.expire()
	e.retryPending = false
	e.retries = 0
	return true
}
