package seathold

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cinemabooking/go/internal/seathold/push"
)

// ExpirationListener turns a push source into a one-shot EXPIRED callback.
type ExpirationListener struct {
	source push.Source
}

func NewExpirationListener(source push.Source) *ExpirationListener {
	return &ExpirationListener{source: source}
}

// Listening is an active listen. Stop is idempotent.
type Listening struct {
	mu      sync.Mutex
	sub     push.Subscription
	stopped bool
	fired   bool
	once    sync.Once
}

// Listen subscribes to the session's push channel. fn runs at most once, for
// the first EXPIRED event; the subscription is released right after.
func (l *ExpirationListener) Listen(ctx context.Context, key Key, fn func(push.Event)) (*Listening, error) {
	listening := &Listening{}
	if l.source == nil {
		return listening, nil
	}

	var fired sync.Once
	handler := func(ev push.Event) {
		if ev.Type != push.EventTypeExpired {
			return
		}
		fired.Do(func() {
			listening.mu.Lock()
			listening.fired = true
			listening.mu.Unlock()
			fn(ev)
			// Unsubscribe can wait on the goroutine running this handler
			go listening.Stop()
		})
	}

	sub, err := l.source.Subscribe(ctx, key.ShowtimeID, key.UserID, handler)
	if err != nil {
		return nil, err
	}

	listening.mu.Lock()
	listening.sub = sub
	stopped := listening.stopped
	listening.mu.Unlock()
	if stopped {
		listening.release()
	}
	return listening, nil
}

// Active reports whether the listen can still deliver an expiry.
func (l *Listening) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.stopped && !l.fired
}

func (l *Listening) Stop() {
	l.mu.Lock()
	l.stopped = true
	hasSub := l.sub != nil
	l.mu.Unlock()
	if hasSub {
		l.release()
	}
}

func (l *Listening) release() {
	l.once.Do(func() {
		if err := l.sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("Failed to unsubscribe from push channel")
		}
	})
}
