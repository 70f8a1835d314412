package push

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only when TEST_DATABASE_URL points at a reachable Postgres.
func TestPostgresSourceDeliversScopedEvents(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	channel := "seathold_events_test"
	source := NewPostgresSource(pool, channel)

	events := make(chan Event, 4)
	sub, err := source.Subscribe(ctx, "s1", "u1", func(ev Event) { events <- ev })
	require.NoError(t, err)

	require.NoError(t, Notify(ctx, pool, channel, NewExpiredEvent("other-show", "u1", time.Now())))
	require.NoError(t, Notify(ctx, pool, channel, NewExpiredEvent("s1", "u1", time.Now())))

	select {
	case ev := <-events:
		assert.Equal(t, "s1", ev.ShowtimeID)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification delivered")
	}

	require.NoError(t, sub.Unsubscribe())
	assert.ErrorIs(t, sub.Unsubscribe(), ErrClosed)
	assert.Empty(t, events, "notifications for other showtimes are filtered")
}
