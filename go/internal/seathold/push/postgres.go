package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DefaultNotifyChannel is the Postgres NOTIFY channel carrying seat hold
// events as JSON payloads.
const DefaultNotifyChannel = "seathold_events"

// PostgresSource receives seat hold events through LISTEN/NOTIFY. Every
// subscription holds one pooled connection for its lifetime and filters the
// shared channel down to its showtime and user.
type PostgresSource struct {
	pool    *pgxpool.Pool
	channel string
}

// NewPostgresSource creates a push source listening on channel
func NewPostgresSource(pool *pgxpool.Pool, channel string) *PostgresSource {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	return &PostgresSource{pool: pool, channel: channel}
}

type pgSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func (p *pgSubscription) Unsubscribe() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	<-p.done
	return nil
}

// Subscribe issues LISTEN on a dedicated connection and delivers matching
// events to fn until the subscription ends or the connection fails.
func (s *PostgresSource) Subscribe(ctx context.Context, showtimeID, userID string, fn Handler) (Subscription, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	listen := "LISTEN " + pgx.Identifier{s.channel}.Sanitize()
	if _, err := conn.Exec(ctx, listen); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen on %s: %w", s.channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &pgSubscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer releaseListener(conn)

		for {
			n, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					log.Error().Err(err).Str("channel", s.channel).Msg("waiting for notification")
				}
				return
			}
			ev, ok := Parse([]byte(n.Payload))
			if !ok {
				log.Debug().Str("channel", n.Channel).Msg("ignoring unrecognised notification")
				continue
			}
			if !matches(ev, showtimeID, userID) {
				continue
			}
			fn(ev)
		}
	}()

	log.Debug().Str("channel", s.channel).Str("showtime_id", showtimeID).Msg("listening for seat hold events")
	return sub, nil
}

// releaseListener returns the connection to the pool without its LISTEN
// registrations. A connection that cannot UNLISTEN is closed instead.
func releaseListener(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		conn.Conn().Close(ctx)
	}
	conn.Release()
}

// Notify publishes ev on channel through pg_notify.
func Notify(ctx context.Context, pool *pgxpool.Pool, channel string, ev Event) error {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}
