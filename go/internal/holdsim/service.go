// Package holdsim is a development seat-hold backend. It owns hold TTLs,
// serves the booking REST endpoints and pushes EXPIRED events over
// WebSocket and, when configured, NATS, RabbitMQ and Postgres NOTIFY.
package holdsim

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Config holds configuration for the simulator
type Config struct {
	ConnectionConfig ConnectionConfig
	DefaultTTL       time.Duration
	// CreateLatency delays the visibility of a new hold to reproduce the
	// asynchronous creation of the real backend.
	CreateLatency time.Duration
}

// DefaultConfig returns default configuration for the simulator
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		DefaultTTL:       10 * time.Minute,
		CreateLatency:    500 * time.Millisecond,
	}
}

// Service wires the hold store, REST handler and push gateway
type Service struct {
	holds       *HoldStore
	connections *ConnectionManager
	handler     *Handler
}

// NewService creates the simulator. Expiry is always pushed over WebSocket;
// extra publishers fan the same event out to other transports.
func NewService(config Config, clock clockwork.Clock, publishers ...Publisher) *Service {
	connections := NewConnectionManager(config.ConnectionConfig)
	all := append([]Publisher{connections}, publishers...)
	holds := NewHoldStore(clock, config.DefaultTTL, config.CreateLatency, all...)

	return &Service{
		holds:       holds,
		connections: connections,
		handler:     NewHandler(holds, connections),
	}
}

// Start runs the push gateway until ctx is done
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting seat hold simulator")
	s.connections.Start(ctx)
	s.holds.Close()
	log.Info().Msg("seat hold simulator stopped")
}

// Holds exposes the hold store
func (s *Service) Holds() *HoldStore {
	return s.holds
}

// RegisterRoutes registers the REST, push, health and info routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.handler.RegisterRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Stats())
	})
	log.Info().Msg("seat hold simulator routes registered")
}

// Stats describes the running simulator
type Stats struct {
	Service      string `json:"service"`
	Version      string `json:"version"`
	Holds        int    `json:"holds"`
	Connections  int    `json:"connections"`
	WatchedHolds int    `json:"watched_holds"`
}

func (s *Service) Stats() Stats {
	connections, watched := s.connections.Stats()
	return Stats{
		Service:      "holdsim",
		Version:      "1.0.0",
		Holds:        s.holds.Len(),
		Connections:  connections,
		WatchedHolds: watched,
	}
}
