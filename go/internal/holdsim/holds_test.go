package holdsim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/cinemabooking/go/internal/seathold/push"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []push.Event
}

func (p *recordingPublisher) PublishExpired(_ context.Context, ev push.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) published() []push.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]push.Event(nil), p.events...)
}

var key = HoldKey{ShowtimeID: "s1", UserID: "u1"}

func TestHoldStoreVisibilityLatency(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewHoldStore(clock, 10*time.Minute, 500*time.Millisecond)

	_, err := store.Hold(key, []string{"A1"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, store.TTL(key), "new holds are not readable yet")

	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 599, store.TTL(key))

	// refreshing a visible hold keeps it readable
	_, err = store.Hold(key, []string{"A1", "A2"}, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 300, store.TTL(key))
}

func TestHoldStoreExpiryPublishes(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := &recordingPublisher{}
	store := NewHoldStore(clock, time.Minute, 0, pub)

	_, err := store.Hold(key, []string{"A1"}, 0)
	require.NoError(t, err)
	clock.Advance(59 * time.Second)
	assert.Equal(t, 1, store.TTL(key))
	assert.Empty(t, pub.published())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, 2*time.Second, 5*time.Millisecond)
	ev := pub.published()[0]
	assert.Equal(t, push.EventTypeExpired, ev.Type)
	assert.Equal(t, "s1", ev.ShowtimeID)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, 0, store.TTL(key))
	assert.Equal(t, 0, store.Len())
}

func TestHoldStoreRefreshReplacesTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := &recordingPublisher{}
	store := NewHoldStore(clock, time.Minute, 0, pub)

	_, err := store.Hold(key, []string{"A1"}, 0)
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, err = store.Hold(key, []string{"A1"}, 0)
	require.NoError(t, err)

	clock.Advance(45 * time.Second)
	require.Never(t, func() bool { return len(pub.published()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 15, store.TTL(key))
}

func TestHoldStoreReleaseDoesNotPublish(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := &recordingPublisher{}
	store := NewHoldStore(clock, time.Minute, 0, pub)

	_, err := store.Hold(key, []string{"A1"}, 0)
	require.NoError(t, err)
	assert.True(t, store.Release(key))
	assert.False(t, store.Release(key))

	clock.Advance(2 * time.Minute)
	require.Never(t, func() bool { return len(pub.published()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestHoldStoreValidation(t *testing.T) {
	store := NewHoldStore(clockwork.NewFakeClock(), time.Minute, 0)

	_, err := store.Hold(key, nil, 0)
	assert.ErrorIs(t, err, ErrNoSeats)
	_, err = store.Hold(key, []string{"A1"}, -time.Second)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}
