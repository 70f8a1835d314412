package seathold

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Countdown owns the single 1 Hz ticker of a session.
type Countdown struct {
	clock    clockwork.Clock
	interval time.Duration
	ticker   clockwork.Ticker
}

func NewCountdown(clock clockwork.Clock, interval time.Duration) *Countdown {
	if interval <= 0 {
		interval = time.Second
	}
	return &Countdown{clock: clock, interval: interval}
}

// Start replaces any running ticker.
func (c *Countdown) Start() {
	c.Stop()
	c.ticker = c.clock.NewTicker(c.interval)
}

func (c *Countdown) Stop() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

func (c *Countdown) Running() bool {
	return c.ticker != nil
}

// C is nil while stopped so a select on it blocks.
func (c *Countdown) C() <-chan time.Time {
	if c.ticker == nil {
		return nil
	}
	return c.ticker.Chan()
}
