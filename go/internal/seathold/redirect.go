package seathold

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ExpiredNotice is the message shown when a hold expires.
const ExpiredNotice = "Your seat reservation has expired. Please select your seats again."

const DefaultRedirectDelay = 3 * time.Second

// Notifier surfaces a message to the user.
type Notifier interface {
	Notify(message string)
}

type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

// Redirect is a page's expiry policy: show the notice, then navigate away
// after a delay.
type Redirect struct {
	clock    clockwork.Clock
	delay    time.Duration
	notifier Notifier
	navigate func()

	mu        sync.Mutex
	timer     clockwork.Timer
	cancelled bool
}

func RedirectOnExpiry(clock clockwork.Clock, delay time.Duration, notifier Notifier, navigate func()) *Redirect {
	if delay <= 0 {
		delay = DefaultRedirectDelay
	}
	return &Redirect{clock: clock, delay: delay, notifier: notifier, navigate: navigate}
}

// Handle is an ExpiredHandler.
func (r *Redirect) Handle(ev ExpiredEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled || r.timer != nil {
		return
	}

	if r.notifier != nil {
		r.notifier.Notify(ExpiredNotice)
	}
	log.Info().Str("session", ev.Key.String()).Dur("delay", r.delay).Msg("Redirecting after seat hold expiry")
	r.timer = r.clock.AfterFunc(r.delay, r.navigate)
}

// Cancel drops a pending navigation, e.g. when the page unmounts first.
func (r *Redirect) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
	if r.timer != nil {
		r.timer.Stop()
	}
}
