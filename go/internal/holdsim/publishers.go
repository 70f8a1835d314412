package holdsim

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cinemabooking/go/internal/seathold/push"
)

// NATSPublisher publishes expiry events on seathold.{showtime}.{user}.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = push.DefaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

func (p *NATSPublisher) PublishExpired(_ context.Context, ev push.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := push.Subject(p.prefix, ev.ShowtimeID, ev.UserID)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// AMQPPublisher publishes expiry events to a topic exchange.
type AMQPPublisher struct {
	ch       *amqp.Channel
	exchange string
	prefix   string
}

// NewAMQPPublisher declares the exchange on ch.
func NewAMQPPublisher(ch *amqp.Channel, exchange, subjectPrefix string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = push.DefaultExchange
	}
	if subjectPrefix == "" {
		subjectPrefix = push.DefaultSubjectPrefix
	}
	if err := push.DeclareExchange(ch, exchange); err != nil {
		return nil, err
	}
	return &AMQPPublisher{ch: ch, exchange: exchange, prefix: subjectPrefix}, nil
}

func (p *AMQPPublisher) routingKey(ev push.Event) string {
	return push.Subject(p.prefix, ev.ShowtimeID, ev.UserID)
}

func (p *AMQPPublisher) PublishExpired(ctx context.Context, ev push.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	routingKey := p.routingKey(ev)
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    ev.ID,
		Timestamp:    ev.Timestamp,
		Body:         data,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to exchange %s: %w", p.exchange, err)
	}
	return nil
}

// PostgresPublisher announces expiry through pg_notify.
type PostgresPublisher struct {
	pool    *pgxpool.Pool
	channel string
}

func NewPostgresPublisher(pool *pgxpool.Pool, channel string) *PostgresPublisher {
	return &PostgresPublisher{pool: pool, channel: channel}
}

func (p *PostgresPublisher) PublishExpired(ctx context.Context, ev push.Event) error {
	return push.Notify(ctx, p.pool, p.channel, ev)
}

// RetryConfig bounds RetryPublisher. The nth retry waits Delay*n.
type RetryConfig struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetryConfig returns the retry settings used for broker publishers
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, Delay: 200 * time.Millisecond}
}

// RetryPublisher retries a failing publisher with linear backoff.
type RetryPublisher struct {
	next   Publisher
	name   string
	config RetryConfig
	clock  clockwork.Clock
}

func NewRetryPublisher(next Publisher, name string, config RetryConfig, clock clockwork.Clock) *RetryPublisher {
	return &RetryPublisher{next: next, name: name, config: config, clock: clock}
}

func (p *RetryPublisher) PublishExpired(ctx context.Context, ev push.Event) error {
	var lastErr error

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.clock.After(p.config.Delay * time.Duration(attempt)):
			}
		}

		if err := p.next.PublishExpired(ctx, ev); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Str("publisher", p.name).
				Int("attempt", attempt+1).
				Str("event_id", ev.ID).
				Msg("failed to publish expiry, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Str("publisher", p.name).
				Int("attempt", attempt+1).
				Str("event_id", ev.ID).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("%s publish failed after %d attempts: %w", p.name, p.config.MaxRetries+1, lastErr)
}
