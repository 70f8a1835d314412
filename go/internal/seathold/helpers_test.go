package seathold

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/cinemabooking/go/internal/seathold/fallback"
	"github.com/mcdev12/cinemabooking/go/internal/seathold/push"
)

var (
	testKey   = Key{MovieID: "m1", ShowtimeID: "s1", UserID: "u1"}
	testStart = time.Date(2026, 3, 14, 19, 30, 0, 0, time.UTC)
	errDown   = errors.New("connection refused")
)

type ttlReply struct {
	ttl int
	err error
}

// scriptedSource replays replies in order and repeats the last one. When
// gate is set every call blocks until a reply is sent on it.
type scriptedSource struct {
	mu          sync.Mutex
	replies     []ttlReply
	calls       int
	inFlight    int
	maxInFlight int
	gate        chan ttlReply
}

func newScriptedSource(replies ...ttlReply) *scriptedSource {
	return &scriptedSource{replies: replies}
}

func ttls(values ...int) []ttlReply {
	replies := make([]ttlReply, len(values))
	for i, v := range values {
		replies[i] = ttlReply{ttl: v}
	}
	return replies
}

func (s *scriptedSource) SeatHoldTTL(ctx context.Context, showtimeID, userID string) (int, error) {
	s.mu.Lock()
	s.calls++
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	var reply ttlReply
	if len(s.replies) > 0 {
		idx := s.calls - 1
		if idx >= len(s.replies) {
			idx = len(s.replies) - 1
		}
		reply = s.replies[idx]
	}
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case reply = <-gate:
		case <-ctx.Done():
			reply = ttlReply{err: ctx.Err()}
		}
	}

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	return reply.ttl, reply.err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedSource) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

// fakePush is an in-process push.Source.
type fakePush struct {
	mu         sync.Mutex
	handlers   map[int]push.Handler
	next       int
	subscribes int
}

func newFakePush() *fakePush {
	return &fakePush{handlers: make(map[int]push.Handler)}
}

type fakeSubscription struct {
	push *fakePush
	id   int
}

func (f *fakeSubscription) Unsubscribe() error {
	f.push.mu.Lock()
	defer f.push.mu.Unlock()
	delete(f.push.handlers, f.id)
	return nil
}

func (f *fakePush) Subscribe(_ context.Context, _, _ string, fn push.Handler) (push.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.handlers[id] = fn
	f.subscribes++
	return &fakeSubscription{push: f, id: id}, nil
}

func (f *fakePush) emit(ev push.Event) {
	f.mu.Lock()
	handlers := make([]push.Handler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (f *fakePush) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakePush) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

type harness struct {
	clock *clockwork.FakeClock
	store *fallback.Store
	src   *scriptedSource
	push  *fakePush
}

func newHarness(src *scriptedSource) *harness {
	return &harness{
		clock: clockwork.NewFakeClockAt(testStart),
		store: fallback.NewStore(fallback.NewMemoryKV()),
		src:   src,
		push:  newFakePush(),
	}
}

func (h *harness) deps() Deps {
	return Deps{Source: h.src, Store: h.store, Push: h.push, Clock: h.clock}
}

func (h *harness) controller(t *testing.T) *Controller {
	t.Helper()
	ctrl := NewController(testKey, h.deps(), DefaultConfig())
	ctrl.Start(context.Background())
	t.Cleanup(ctrl.Close)
	// the push subscription completes asynchronously
	require.Eventually(t, func() bool { return h.push.active() == 1 }, 2*time.Second, 5*time.Millisecond)
	return ctrl
}

// advance moves the clock once exactly n timers are armed.
func (h *harness) advance(t *testing.T, waiters int, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, waiters))
	h.clock.Advance(d)
}

type displayer interface {
	Display() (string, bool)
}

func requireDisplay(t *testing.T, d displayer, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, ok := d.Display()
		return ok && got == want
	}, 2*time.Second, 5*time.Millisecond, "countdown never showed %s", want)
}

func requireHidden(t *testing.T, d displayer) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := d.Display()
		return !ok
	}, 2*time.Second, 5*time.Millisecond, "countdown still shown")
}

// recorder collects watcher snapshots.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func (r *recorder) last() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return Snapshot{}, false
	}
	return r.snaps[len(r.snaps)-1], true
}

// blockingPush holds every Subscribe until release is closed or the caller
// gives up, like a dial that hangs or a drained connection pool.
type blockingPush struct {
	*fakePush
	release chan struct{}
	waiting atomic.Int32
}

func newBlockingPush() *blockingPush {
	return &blockingPush{fakePush: newFakePush(), release: make(chan struct{})}
}

func (b *blockingPush) Subscribe(ctx context.Context, showtimeID, userID string, fn push.Handler) (push.Subscription, error) {
	b.waiting.Add(1)
	defer b.waiting.Add(-1)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.fakePush.Subscribe(ctx, showtimeID, userID, fn)
}
