package push

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// WebSocketConfig holds configuration for the WebSocket push source
type WebSocketConfig struct {
	URL              string        // e.g. ws://localhost:8090/ws/seat-hold
	Header           http.Header   // sent on every dial, typically Authorization
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration // extended on every server ping
	WriteTimeout     time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
}

// DefaultWebSocketConfig returns default WebSocket push configuration
func DefaultWebSocketConfig(rawURL string) WebSocketConfig {
	return WebSocketConfig{
		URL:              rawURL,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      90 * time.Second,
		WriteTimeout:     10 * time.Second,
		MinBackoff:       time.Second,
		MaxBackoff:       30 * time.Second,
	}
}

// WebSocketSource receives seat hold events over a WebSocket connection
// scoped to one showtime and user. Dropped connections are redialled with
// exponential backoff until the subscription is closed.
type WebSocketSource struct {
	config WebSocketConfig
	dialer *websocket.Dialer
	clock  clockwork.Clock
}

// NewWebSocketSource creates a new WebSocket push source
func NewWebSocketSource(config WebSocketConfig, clock clockwork.Clock) *WebSocketSource {
	return &WebSocketSource{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		clock: clock,
	}
}

type wsSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// Subscribe dials the push endpoint. The first dial happens before Subscribe
// returns; if it fails the error is logged and dialling continues in the
// background.
func (s *WebSocketSource) Subscribe(ctx context.Context, showtimeID, userID string, fn Handler) (Subscription, error) {
	target, err := s.target(showtimeID, userID)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &wsSubscription{cancel: cancel, done: make(chan struct{})}

	conn, err := s.dial(subCtx, target)
	if err != nil {
		log.Warn().
			Err(err).
			Str("showtime_id", showtimeID).
			Str("user_id", userID).
			Msg("initial push dial failed, retrying in background")
	}
	if conn != nil {
		sub.setConn(conn)
	}

	context.AfterFunc(subCtx, sub.shutdown)
	go s.run(subCtx, sub, target, showtimeID, userID, fn)
	return sub, nil
}

func (s *WebSocketSource) target(showtimeID, userID string) (string, error) {
	u, err := url.Parse(s.config.URL)
	if err != nil {
		return "", fmt.Errorf("parse push url: %w", err)
	}
	q := u.Query()
	q.Set("showtime_id", showtimeID)
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *WebSocketSource) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, target, s.config.Header)
	if err != nil {
		return nil, fmt.Errorf("dial push endpoint: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(s.config.WriteTimeout))
	})
	return conn, nil
}

func (s *WebSocketSource) run(ctx context.Context, sub *wsSubscription, target, showtimeID, userID string, fn Handler) {
	defer close(sub.done)
	backoff := s.config.MinBackoff

	for {
		conn := sub.current()
		if conn == nil {
			var err error
			conn, err = s.dial(ctx, target)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn().
					Err(err).
					Str("showtime_id", showtimeID).
					Dur("backoff", backoff).
					Msg("push dial failed")
				select {
				case <-s.clock.After(backoff):
				case <-ctx.Done():
					return
				}
				if backoff < s.config.MaxBackoff {
					backoff *= 2
					if backoff > s.config.MaxBackoff {
						backoff = s.config.MaxBackoff
					}
				}
				continue
			}
			if !sub.setConn(conn) {
				conn.Close()
				return
			}
			log.Info().Str("showtime_id", showtimeID).Str("user_id", userID).Msg("push channel reconnected")
		}
		backoff = s.config.MinBackoff

		s.readLoop(conn, showtimeID, userID, fn)
		sub.clearConn(conn)
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *WebSocketSource) readLoop(conn *websocket.Conn, showtimeID, userID string, fn Handler) {
	defer conn.Close()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("showtime_id", showtimeID).Msg("push connection lost")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		ev, ok := Parse(message)
		if !ok {
			log.Debug().Str("showtime_id", showtimeID).Msg("ignoring unrecognised push frame")
			continue
		}
		if !matches(ev, showtimeID, userID) {
			continue
		}
		fn(ev)
	}
}

// setConn installs the live connection; it reports false once the
// subscription has been closed.
func (w *wsSubscription) setConn(conn *websocket.Conn) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.conn = conn
	return true
}

func (w *wsSubscription) current() *websocket.Conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

func (w *wsSubscription) clearConn(conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == conn {
		w.conn = nil
	}
}

// shutdown runs once the subscription context ends and unblocks the reader.
func (w *wsSubscription) shutdown() {
	w.mu.Lock()
	w.closed = true
	conn := w.conn
	w.mu.Unlock()
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// Unsubscribe closes the connection and waits for the read loop to exit.
func (w *wsSubscription) Unsubscribe() error {
	w.cancel()
	<-w.done
	return nil
}
