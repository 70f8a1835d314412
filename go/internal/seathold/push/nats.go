package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// DefaultSubjectPrefix is the subject prefix for seat hold events, giving
// seathold.{showtimeId}.{userId}.
const DefaultSubjectPrefix = "seathold"

// NATSConfig holds configuration for the NATS connection
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS push configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: DefaultSubjectPrefix,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Connect opens a NATS connection with logging reconnect handlers.
func Connect(config NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NATSSource receives seat hold events on a per-hold NATS subject.
type NATSSource struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSSource creates a push source over an existing connection
func NewNATSSource(nc *nats.Conn, subjectPrefix string) *NATSSource {
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}
	return &NATSSource{nc: nc, prefix: subjectPrefix}
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (n *natsSubscription) Unsubscribe() error {
	if err := n.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return err
	}
	return nil
}

// Subscribe registers fn on seathold.{showtimeID}.{userID}. The
// subscription is also dropped when ctx ends.
func (s *NATSSource) Subscribe(ctx context.Context, showtimeID, userID string, fn Handler) (Subscription, error) {
	subject := Subject(s.prefix, showtimeID, userID)
	sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
		ev, ok := Parse(msg.Data)
		if !ok {
			log.Debug().Str("subject", msg.Subject).Msg("ignoring unrecognised push message")
			return
		}
		fn(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	ns := &natsSubscription{sub: sub}
	context.AfterFunc(ctx, func() { ns.Unsubscribe() })

	log.Debug().Str("subject", subject).Msg("subscribed to seat hold events")
	return ns, nil
}
