package seathold

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/cinemabooking/go/internal/seathold/push"
)

func TestControllerCountsDownFromAuthoritativeTTL(t *testing.T) {
	h := newHarness(newScriptedSource(ttls(180)...))
	ctrl := h.controller(t)

	ctrl.Mount()
	requireDisplay(t, snapshotOf(ctrl), "03:00")

	h.advance(t, 1, time.Second)
	requireDisplay(t, snapshotOf(ctrl), "02:59")

	expiresAt, ok, err := h.store.LoadExpiry(context.Background(), "m1", "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, expiresAt.Equal(testStart.Add(180*time.Second)))
}

func TestControllerTriggerRetriesUntilHoldVisible(t *testing.T) {
	h := newHarness(newScriptedSource(ttls(0, 0, 0, 600)...))
	ctrl := h.controller(t)
	rec := &recorder{}
	ctrl.Watch(rec.record)

	ctrl.TriggerResync()
	for i := 0; i < 3; i++ {
		h.advance(t, 1, 300*time.Millisecond)
	}
	requireDisplay(t, snapshotOf(ctrl), "10:00")

	assert.Equal(t, 4, h.src.Calls())
	assert.Equal(t, 900*time.Millisecond, h.clock.Since(testStart))
	for _, snap := range rec.all() {
		if _, shown := snap.Display(); shown {
			assert.Equal(t, 600, snap.RemainingSeconds, "no countdown may flicker before the hold is visible")
		}
	}
}

func TestControllerTriggerGivesUpAfterFiveRetries(t *testing.T) {
	h := newHarness(newScriptedSource(ttls(0)...))
	ctrl := h.controller(t)

	ctrl.TriggerResync()
	for i := 0; i < 5; i++ {
		h.advance(t, 1, 300*time.Millisecond)
	}
	require.Eventually(t, func() bool {
		return h.src.Calls() == 6 && ctrl.Snapshot().Status == StatusUninitialized
	}, 2*time.Second, 5*time.Millisecond)

	h.clock.Advance(time.Second)
	require.Never(t, func() bool { return h.src.Calls() > 6 }, 100*time.Millisecond, 10*time.Millisecond)
	_, shown := ctrl.Snapshot().Display()
	assert.False(t, shown)
}

func TestControllerLocalZeroOnlyHides(t *testing.T) {
	h := newHarness(newScriptedSource(ttls(2)...))
	ctrl := h.controller(t)
	var expired atomic.Int32
	ctrl.OnExpired(func(ExpiredEvent) { expired.Add(1) })

	ctrl.Mount()
	requireDisplay(t, snapshotOf(ctrl), "00:02")
	h.advance(t, 1, time.Second)
	requireDisplay(t, snapshotOf(ctrl), "00:01")
	h.advance(t, 1, time.Second)
	requireHidden(t, snapshotOf(ctrl))

	assert.Equal(t, int32(0), expired.Load())
	assert.NotEqual(t, StatusExpired, ctrl.Snapshot().Status)
	has, err := h.store.HasEntry(context.Background(), "m1", "s1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestControllerPushExpiry(t *testing.T) {
	h := newHarness(newScriptedSource(ttls(300)...))
	ctrl := h.controller(t)

	var (
		mu      sync.Mutex
		notices []string
	)
	var navigated atomic.Bool
	redirect := RedirectOnExpiry(h.clock, 3*time.Second, NotifierFunc(func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		notices = append(notices, msg)
	}), func() { navigated.Store(true) })
	ctrl.OnExpired(redirect.Handle)

	// 0 unseen, 1 cleared before the step, 2 still stored
	var clearedBeforeHandler, clearedBeforeStatus atomic.Int32
	storedState := func() int32 {
		has, err := h.store.HasEntry(context.Background(), "m1", "s1")
		if err != nil || has {
			return 2
		}
		return 1
	}
	ctrl.OnExpired(func(ExpiredEvent) { clearedBeforeHandler.Store(storedState()) })
	ctrl.Watch(func(s Snapshot) {
		if s.Status == StatusExpired {
			clearedBeforeStatus.CompareAndSwap(0, storedState())
		}
	})

	ctrl.Mount()
	requireDisplay(t, snapshotOf(ctrl), "05:00")
	has, err := h.store.HasEntry(context.Background(), "m1", "s1")
	require.NoError(t, err)
	require.True(t, has)

	h.push.emit(push.NewExpiredEvent("s1", "u1", h.clock.Now()))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notices) == 1
	}, 2*time.Second, 5*time.Millisecond)

	snap := ctrl.Snapshot()
	assert.Equal(t, StatusExpired, snap.Status)
	_, shown := snap.Display()
	assert.False(t, shown)
	require.Eventually(t, func() bool { return clearedBeforeHandler.Load() != 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), clearedBeforeHandler.Load(), "fallback entry cleared before expiry handlers run")
	assert.Equal(t, int32(1), clearedBeforeStatus.Load(), "fallback entry cleared before the session shows expired")
	assert.False(t, navigated.Load(), "navigation waits for the notice delay")

	// the ticker is stopped, so only the redirect timer is armed
	h.advance(t, 1, 3*time.Second)
	require.Eventually(t, navigated.Load, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return h.push.active() == 0 }, 2*time.Second, 5*time.Millisecond)
	h.push.emit(push.NewExpiredEvent("s1", "u1", h.clock.Now()))
	mu.Lock()
	assert.Equal(t, []string{ExpiredNotice}, notices)
	mu.Unlock()
}

func TestControllerFreshLoadWithoutHold(t *testing.T) {
	h := newHarness(newScriptedSource(ttls(0)...))
	ctrl := h.controller(t)
	rec := &recorder{}
	ctrl.Watch(rec.record)
	var expired atomic.Int32
	ctrl.OnExpired(func(ExpiredEvent) { expired.Add(1) })

	ctrl.Mount()
	require.Eventually(t, func() bool {
		last, ok := rec.last()
		return ok && h.src.Calls() == 1 && last.Status == StatusUninitialized
	}, 2*time.Second, 5*time.Millisecond)

	for _, snap := range rec.all() {
		_, shown := snap.Display()
		assert.False(t, shown)
	}
	assert.Equal(t, int32(0), expired.Load())
}

func TestControllerSingleFetchInFlight(t *testing.T) {
	src := newScriptedSource()
	src.gate = make(chan ttlReply)
	h := newHarness(src)
	ctrl := h.controller(t)

	ctrl.Mount()
	ctrl.TriggerResync()
	ctrl.Mount()
	ctrl.TriggerResync()
	require.Eventually(t, func() bool { return src.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return src.Calls() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	// the upgraded read comes back empty and the retry finds the hold
	src.gate <- ttlReply{}
	h.advance(t, 1, 300*time.Millisecond)
	src.gate <- ttlReply{ttl: 120}
	requireDisplay(t, snapshotOf(ctrl), "02:00")

	assert.Equal(t, 2, src.Calls())
	assert.Equal(t, 1, src.MaxInFlight())
}

func TestControllerNetworkErrorUsesStoredExpiry(t *testing.T) {
	h := newHarness(newScriptedSource(ttlReply{err: errDown}))
	stored := testStart.Add(90 * time.Second)
	require.NoError(t, h.store.SaveExpiry(context.Background(), "m1", "s1", stored))
	ctrl := h.controller(t)

	ctrl.Mount()
	requireDisplay(t, snapshotOf(ctrl), "01:30")

	h.advance(t, 1, time.Second)
	requireDisplay(t, snapshotOf(ctrl), "01:29")
	assert.Equal(t, 1, h.src.Calls())
}

func TestControllerTriggerAfterExpiryResubscribes(t *testing.T) {
	h := newHarness(newScriptedSource(ttls(60, 200)...))
	ctrl := h.controller(t)

	ctrl.Mount()
	requireDisplay(t, snapshotOf(ctrl), "01:00")
	h.push.emit(push.NewExpiredEvent("s1", "u1", h.clock.Now()))
	require.Eventually(t, func() bool { return ctrl.Snapshot().Status == StatusExpired }, 2*time.Second, 5*time.Millisecond)

	ctrl.TriggerResync()
	requireDisplay(t, snapshotOf(ctrl), "03:20")
	require.Eventually(t, func() bool { return h.push.subscribeCount() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestControllerCloseReleasesResources(t *testing.T) {
	h := newHarness(newScriptedSource(ttls(30)...))
	ctrl := NewController(testKey, h.deps(), DefaultConfig())
	ctrl.Start(context.Background())

	ctrl.Mount()
	requireDisplay(t, snapshotOf(ctrl), "00:30")

	ctrl.Close()
	ctrl.Close()
	assert.Equal(t, 0, h.push.active())

	has, err := h.store.HasEntry(context.Background(), "m1", "s1")
	require.NoError(t, err)
	assert.True(t, has, "unmount keeps the fallback entry for the next page")

	// requests after close are dropped without blocking
	ctrl.TriggerResync()
}

func TestControllerSyncsWhilePushSubscribeBlocks(t *testing.T) {
	h := newHarness(newScriptedSource(ttls(180)...))
	slow := newBlockingPush()
	deps := h.deps()
	deps.Push = slow
	ctrl := NewController(testKey, deps, DefaultConfig())
	ctrl.Start(context.Background())
	t.Cleanup(ctrl.Close)

	require.Eventually(t, func() bool { return slow.waiting.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctrl.Mount()
	requireDisplay(t, snapshotOf(ctrl), "03:00")

	for i := 0; i < 20; i++ {
		ctrl.TriggerResync()
	}
	require.Eventually(t, func() bool { return h.src.Calls() >= 2 }, 2*time.Second, 5*time.Millisecond,
		"triggers are served while the push subscription is pending")
	requireDisplay(t, snapshotOf(ctrl), "03:00")
	assert.Equal(t, int32(1), slow.waiting.Load(), "triggers do not stack subscribes")

	close(slow.release)
	require.Eventually(t, func() bool { return slow.active() == 1 }, 2*time.Second, 5*time.Millisecond)

	slow.emit(push.NewExpiredEvent("s1", "u1", h.clock.Now()))
	require.Eventually(t, func() bool { return ctrl.Snapshot().Status == StatusExpired }, 2*time.Second, 5*time.Millisecond)
}

func TestControllerCloseWhileSubscribeBlocks(t *testing.T) {
	h := newHarness(newScriptedSource(ttls(30)...))
	slow := newBlockingPush()
	deps := h.deps()
	deps.Push = slow
	ctrl := NewController(testKey, deps, DefaultConfig())
	ctrl.Start(context.Background())

	require.Eventually(t, func() bool { return slow.waiting.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		ctrl.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close waited on a hung subscribe")
	}
	assert.Equal(t, int32(0), slow.waiting.Load())
	assert.Equal(t, 0, slow.active())
}

func TestControllerCloseBeforeStart(t *testing.T) {
	h := newHarness(newScriptedSource(ttls(30)...))
	ctrl := NewController(testKey, h.deps(), DefaultConfig())

	ctrl.Close()
	assert.NotPanics(t, func() { ctrl.Start(context.Background()) })
	ctrl.Mount()
	ctrl.Close()

	require.Never(t, func() bool { return h.src.Calls() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 0, h.push.subscribeCount())
	assert.Equal(t, StatusUninitialized, ctrl.Snapshot().Status)
}

// snapshotOf reads the live snapshot on every poll.
func snapshotOf(ctrl *Controller) displayer {
	return liveDisplay{ctrl}
}

type liveDisplay struct{ ctrl *Controller }

func (l liveDisplay) Display() (string, bool) {
	return l.ctrl.Snapshot().Display()
}
