package seathold

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cinemabooking/go/internal/seathold/fallback"
	"github.com/mcdev12/cinemabooking/go/internal/seathold/push"
)

// ExpiredEvent is delivered to expiry handlers once per session.
type ExpiredEvent struct {
	Key   Key
	Event push.Event
}

type ExpiredHandler func(ExpiredEvent)

// Deps are the collaborators shared by every controller of a registry.
type Deps struct {
	Source TTLSource
	Store  *fallback.Store
	Push   push.Source
	Clock  clockwork.Clock
}

// Config tunes controller timing.
type Config struct {
	Retry        RetryPolicy
	TickInterval time.Duration
	// FetchTimeout bounds a single TTL read. Zero leaves it to the source.
	FetchTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Retry:        DefaultRetryPolicy(),
		TickInterval: time.Second,
	}
}

type fetchResult struct {
	res TTLResult
	err error
}

type subscribeResult struct {
	listening *Listening
	err       error
}

// Controller runs one booking session. All state changes happen on its run
// goroutine; readers see published snapshots.
type Controller struct {
	key       Key
	clock     clockwork.Clock
	config    Config
	logger    zerolog.Logger
	engine    *SyncEngine
	fetcher   *Fetcher
	countdown *Countdown
	listener  *ExpirationListener

	retry       clockwork.Timer
	listening   *Listening
	subscribing bool
	subscribers sync.WaitGroup

	requests   chan SyncMode
	results    chan fetchResult
	subscribed chan subscribeResult
	expired    chan push.Event

	mu       sync.RWMutex
	snapshot Snapshot
	handlers map[int]ExpiredHandler
	watchers map[int]func(Snapshot)
	nextID   int

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

func NewController(key Key, deps Deps, config Config) *Controller {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.Retry.Interval <= 0 {
		config.Retry = DefaultRetryPolicy()
	}
	logger := log.With().
		Str("movie_id", key.MovieID).
		Str("showtime_id", key.ShowtimeID).
		Str("user_id", key.UserID).
		Logger()

	c := &Controller{
		key:       key,
		clock:     clock,
		config:    config,
		logger:    logger,
		engine:    NewSyncEngine(key, deps.Store, clock, config.Retry, logger),
		fetcher:   NewFetcher(deps.Source, deps.Store),
		countdown: NewCountdown(clock, config.TickInterval),
		listener:  NewExpirationListener(deps.Push),
		requests:  make(chan SyncMode, 16),
		results:    make(chan fetchResult, 1),
		subscribed: make(chan subscribeResult),
		expired:    make(chan push.Event, 1),
		handlers:   make(map[int]ExpiredHandler),
		watchers:   make(map[int]func(Snapshot)),
		done:       make(chan struct{}),
	}
	c.snapshot = c.engine.Snapshot()
	return c
}

func (c *Controller) Key() Key {
	return c.key
}

// Start launches the session goroutine. It returns immediately.
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)
		go c.run(ctx)
	})
}

// Close stops the session and waits for its goroutine to exit. The stored
// expiry is left untouched. A controller closed before Start never starts.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		started := true
		c.startOnce.Do(func() { started = false })
		if !started {
			close(c.done)
			return
		}
		c.cancel()
		<-c.done
	})
}

// Mount requests a passive sync.
func (c *Controller) Mount() {
	c.request(SyncOnMount)
}

// TriggerResync requests a sync after a hold-creating action.
func (c *Controller) TriggerResync() {
	c.request(SyncOnTrigger)
}

func (c *Controller) request(mode SyncMode) {
	select {
	case c.requests <- mode:
	case <-c.done:
	default:
		c.logger.Warn().Str("mode", mode.String()).Msg("Sync request queue full, dropping request")
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// OnExpired registers h for the push expiry of the session. The returned
// func unregisters it.
func (c *Controller) OnExpired(h ExpiredHandler) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = h
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// Watch calls fn on the session goroutine after every visible change. fn
// must not block.
func (c *Controller) Watch(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	defer c.teardown()

	c.listen(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case mode := <-c.requests:
			c.handleRequest(ctx, mode)
		case r := <-c.results:
			c.handleResult(ctx, r)
		case r := <-c.subscribed:
			c.handleSubscribed(ctx, r)
		case <-c.retryChan():
			c.retry = nil
			if c.engine.Continue() {
				c.fetch(ctx)
				c.publish()
			}
		case <-c.countdown.C():
			if !c.engine.Tick() {
				c.countdown.Stop()
			}
			c.publish()
		case ev := <-c.expired:
			c.handleExpired(ctx, ev)
		}
	}
}

func (c *Controller) handleRequest(ctx context.Context, mode SyncMode) {
	if mode == SyncOnTrigger {
		c.listen(ctx)
	}
	if !c.engine.Begin(mode) {
		c.publish()
		return
	}
	c.stopRetry()
	c.countdown.Stop()
	c.fetch(ctx)
	c.publish()
}

func (c *Controller) handleResult(ctx context.Context, r fetchResult) {
	switch c.engine.Complete(ctx, r.res, r.err) {
	case OutcomeActive:
		c.countdown.Start()
	case OutcomeIdle:
		c.countdown.Stop()
	case OutcomeRetry:
		c.stopRetry()
		c.retry = c.clock.NewTimer(c.config.Retry.Interval)
	case OutcomeFetch:
		c.listen(ctx)
		c.fetch(ctx)
	}
	c.publish()
}

func (c *Controller) handleExpired(ctx context.Context, ev push.Event) {
	if !c.engine.Expire(ctx) {
		return
	}
	c.stopRetry()
	c.countdown.Stop()
	// the listener releases its own subscription after firing
	c.listening = nil
	c.logger.Info().Str("event_id", ev.ID).Msg("Seat hold expired")
	c.publish()

	c.mu.RLock()
	handlers := make([]ExpiredHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	for _, h := range handlers {
		h(ExpiredEvent{Key: c.key, Event: ev})
	}
}

// listen subscribes to the push channel off the session goroutine. Subscribe
// may dial or wait for a pooled connection; reads and ticks keep running.
func (c *Controller) listen(ctx context.Context) {
	if c.subscribing || (c.listening != nil && c.listening.Active()) {
		return
	}
	c.subscribing = true
	c.subscribers.Add(1)
	go func() {
		defer c.subscribers.Done()
		listening, err := c.listener.Listen(ctx, c.key, func(ev push.Event) {
			select {
			case c.expired <- ev:
			case <-ctx.Done():
			}
		})
		select {
		case c.subscribed <- subscribeResult{listening: listening, err: err}:
		case <-ctx.Done():
			if listening != nil {
				listening.Stop()
			}
		}
	}()
}

func (c *Controller) handleSubscribed(ctx context.Context, r subscribeResult) {
	c.subscribing = false
	if r.err != nil {
		c.logger.Warn().Err(r.err).Msg("Failed to subscribe to push channel")
		return
	}
	if !r.listening.Active() {
		// it fired before the loop saw it; a session started since needs its own
		if c.engine.Status() != StatusExpired {
			c.listen(ctx)
		}
		return
	}
	c.listening = r.listening
	c.logger.Debug().Msg("Subscribed to push channel")
}

func (c *Controller) fetch(ctx context.Context) {
	go func() {
		fetchCtx := ctx
		if c.config.FetchTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(ctx, c.config.FetchTimeout)
			defer cancel()
		}
		res, err := c.fetcher.Fetch(fetchCtx, c.key)
		select {
		case c.results <- fetchResult{res: res, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) retryChan() <-chan time.Time {
	if c.retry == nil {
		return nil
	}
	return c.retry.Chan()
}

func (c *Controller) stopRetry() {
	if c.retry != nil {
		stopAndDrainTimer(c.retry)
		c.retry = nil
	}
}

func (c *Controller) teardown() {
	c.stopRetry()
	c.countdown.Stop()
	if c.listening != nil {
		c.listening.Stop()
		c.listening = nil
	}
	// in-flight subscribes see the cancelled context and release themselves
	c.subscribers.Wait()
}

func (c *Controller) publish() {
	snap := c.engine.Snapshot()

	c.mu.Lock()
	if snap == c.snapshot {
		c.mu.Unlock()
		return
	}
	c.snapshot = snap
	watchers := make([]func(Snapshot), 0, len(c.watchers))
	for _, fn := range c.watchers {
		watchers = append(watchers, fn)
	}
	c.mu.Unlock()

	for _, fn := range watchers {
		fn(snap)
	}
}

// stopAndDrainTimer stops a timer and drains a pending fire.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
