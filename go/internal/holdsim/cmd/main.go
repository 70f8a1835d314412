package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cinemabooking/go/internal/dbconfig"
	"github.com/mcdev12/cinemabooking/go/internal/holdsim"
	"github.com/mcdev12/cinemabooking/go/internal/seathold/push"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	cfg := loadConfig()
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	clock := clockwork.NewRealClock()
	retry := holdsim.DefaultRetryConfig()
	var publishers []holdsim.Publisher

	if cfg.NATSURL != "" {
		natsConfig := push.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.SubjectPrefix = cfg.SubjectPrefix
		nc, err := push.Connect(natsConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Drain()
		publishers = append(publishers, holdsim.NewRetryPublisher(
			holdsim.NewNATSPublisher(nc, natsConfig.SubjectPrefix), "nats", retry, clock))
		log.Info().Str("nats_url", cfg.NATSURL).Msg("publishing expiry to NATS")
	}

	if cfg.RabbitMQURL != "" {
		conn, err := amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open RabbitMQ channel")
		}
		publisher, err := holdsim.NewAMQPPublisher(ch, push.DefaultExchange, cfg.SubjectPrefix)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to declare exchange")
		}
		publishers = append(publishers, holdsim.NewRetryPublisher(publisher, "amqp", retry, clock))
		log.Info().Str("exchange", push.DefaultExchange).Msg("publishing expiry to RabbitMQ")
	}

	if cfg.PGNotify {
		pool, err := dbconfig.NewPool(context.Background(), dbconfig.NewConfigFromEnv())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Postgres")
		}
		defer pool.Close()
		publishers = append(publishers, holdsim.NewRetryPublisher(
			holdsim.NewPostgresPublisher(pool, cfg.NotifyChannel), "postgres", retry, clock))
		log.Info().Str("channel", cfg.NotifyChannel).Msg("publishing expiry through pg_notify")
	}

	simConfig := holdsim.DefaultConfig()
	simConfig.DefaultTTL = cfg.DefaultTTL
	simConfig.CreateLatency = cfg.CreateLatency
	service := holdsim.NewService(simConfig, clock, publishers...)

	server := setupServer(cfg.Port, service)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		service.Start(ctx)
	}()

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Dur("default_ttl", cfg.DefaultTTL).
			Dur("create_latency", cfg.CreateLatency).
			Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	<-done

	log.Info().Msg("seat hold simulator shutdown complete")
}
