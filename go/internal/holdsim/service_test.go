package holdsim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/cinemabooking/go/clients"
	"github.com/mcdev12/cinemabooking/go/internal/seathold"
	"github.com/mcdev12/cinemabooking/go/internal/seathold/fallback"
	"github.com/mcdev12/cinemabooking/go/internal/seathold/push"
)

func startSimulator(t *testing.T, clock clockwork.Clock, config Config) (*Service, *httptest.Server) {
	t.Helper()
	svc := NewService(config, clock)
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return svc, srv
}

func TestRESTEndpoints(t *testing.T) {
	clock := clockwork.NewFakeClock()
	config := DefaultConfig()
	config.CreateLatency = 0
	_, srv := startSimulator(t, clock, config)

	client := clients.NewBookingClient(srv.URL, "")
	ctx := context.Background()

	ttl, err := client.SeatHoldTTL(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, ttl)

	require.NoError(t, client.HoldSeats(ctx, "s1", "u1", clients.SeatHoldRequest{SeatIDs: []string{"A1"}, TTLSeconds: 180}))
	ttl, err = client.SeatHoldTTL(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 180, ttl)

	require.NoError(t, client.ReleaseSeats(ctx, "s1", "u1"))
	assert.ErrorIs(t, client.ReleaseSeats(ctx, "s1", "u1"), clients.ErrUnexpectedStatus)

	assert.ErrorIs(t, client.HoldSeats(ctx, "s1", "u1", clients.SeatHoldRequest{}), clients.ErrUnexpectedStatus)
}

func TestInfoEndpoint(t *testing.T) {
	_, srv := startSimulator(t, clockwork.NewFakeClock(), DefaultConfig())

	resp, err := http.Get(srv.URL + "/info")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, "holdsim", stats.Service)
	assert.Equal(t, 0, stats.Holds)
}

func TestPushRequiresHoldAddress(t *testing.T) {
	_, srv := startSimulator(t, clockwork.NewFakeClock(), DefaultConfig())

	resp, err := http.Get(srv.URL + "/ws/seat-hold?showtime_id=s1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCountdownEndToEnd(t *testing.T) {
	clock := clockwork.NewFakeClock()
	config := DefaultConfig()
	config.CreateLatency = 0
	svc, srv := startSimulator(t, clock, config)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/seat-hold"
	store := fallback.NewStore(fallback.NewMemoryKV())
	client := clients.NewBookingClient(srv.URL, "")
	registry := seathold.NewRegistry(seathold.Deps{
		Source: client,
		Store:  store,
		Push:   push.NewWebSocketSource(push.DefaultWebSocketConfig(wsURL), clockwork.NewRealClock()),
		Clock:  clock,
	}, seathold.DefaultConfig())
	defer registry.Close()

	ctx := context.Background()
	require.NoError(t, client.HoldSeats(ctx, "s1", "u1", clients.SeatHoldRequest{SeatIDs: []string{"F7"}, TTLSeconds: 120}))

	view, err := registry.Mount(seathold.Key{MovieID: "m1", ShowtimeID: "s1", UserID: "u1"})
	require.NoError(t, err)
	defer view.Unmount()

	expired := make(chan seathold.ExpiredEvent, 1)
	view.OnExpired(func(ev seathold.ExpiredEvent) { expired <- ev })

	require.Eventually(t, func() bool {
		display, ok := view.Display()
		return ok && display == "02:00"
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return svc.Stats().Connections == 1 }, 2*time.Second, 5*time.Millisecond)

	clock.Advance(120 * time.Second)

	select {
	case ev := <-expired:
		assert.Equal(t, push.EventTypeExpired, ev.Event.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("expiry never reached the view")
	}
	assert.Equal(t, seathold.StatusExpired, view.Snapshot().Status)
	has, err := store.HasEntry(ctx, "m1", "s1")
	require.NoError(t, err)
	assert.False(t, has)
}
