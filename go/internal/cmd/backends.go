package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cinemabooking/go/internal/dbconfig"
	"github.com/mcdev12/cinemabooking/go/internal/seathold/fallback"
	"github.com/mcdev12/cinemabooking/go/internal/seathold/push"
)

func connectNATS(url string) (*nats.Conn, error) {
	natsConfig := push.DefaultNATSConfig()
	if url != "" {
		natsConfig.URL = url
	}
	return push.Connect(natsConfig)
}

// openFallback builds the fallback store. The returned func releases the
// backend connection.
func openFallback(ctx context.Context, config *Config) (*fallback.Store, func(), error) {
	noop := func() {}

	switch config.Fallback.Backend {
	case backendMemory:
		return fallback.NewStore(fallback.NewMemoryKV()), noop, nil

	case backendFile:
		return fallback.NewStore(fallback.NewFileKV(config.Fallback.Path)), noop, nil

	case backendRedis:
		client := redis.NewClient(&redis.Options{Addr: config.Fallback.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		kv := fallback.NewRedisKV(client, config.Fallback.RedisPrefix, config.Fallback.SessionTTL)
		return fallback.NewStore(kv), func() { client.Close() }, nil

	case backendNATS:
		nc, err := connectNATS(config.Fallback.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		kv, err := fallback.NewNATSKV(ctx, js, config.Fallback.NATSBucket, config.Fallback.SessionTTL)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return fallback.NewStore(kv), nc.Close, nil

	case backendPostgres:
		pool, err := dbconfig.NewPool(ctx, dbconfig.NewConfigFromEnv())
		if err != nil {
			return nil, nil, err
		}
		kv, err := fallback.NewPostgresKV(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return fallback.NewStore(kv), pool.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown fallback backend %q", config.Fallback.Backend)
}

// openPush builds the push source. A nil source disables push expiry.
func openPush(ctx context.Context, config *Config, clock clockwork.Clock) (push.Source, func(), error) {
	noop := func() {}

	switch config.Push.Transport {
	case transportNone:
		log.Warn().Msg("push transport disabled, expiry will not be announced")
		return nil, noop, nil

	case transportWebSocket:
		return push.NewWebSocketSource(push.DefaultWebSocketConfig(config.webSocketURL()), clock), noop, nil

	case transportNATS:
		nc, err := connectNATS(config.Push.URL)
		if err != nil {
			return nil, nil, err
		}
		return push.NewNATSSource(nc, config.Push.SubjectPrefix), nc.Close, nil

	case transportAMQP:
		url := config.Push.URL
		if url == "" {
			url = push.AMQPURL()
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		return push.NewAMQPSource(conn, config.Push.Exchange, config.Push.SubjectPrefix), func() { conn.Close() }, nil

	case transportPostgres:
		pool, err := dbconfig.NewPool(ctx, dbconfig.NewConfigFromEnv())
		if err != nil {
			return nil, nil, err
		}
		return push.NewPostgresSource(pool, config.Push.NotifyChannel), pool.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown push transport %q", config.Push.Transport)
}
