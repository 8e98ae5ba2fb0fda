// Package channel wraps a persistent NATS connection behind the small
// contract the presence tracker needs: connect with an opaque credential,
// emit named events, subscribe to named events, observe connection state.
// Payload semantics stay with the caller.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// State represents the connection state surfaced to observers
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Channel is the transport-agnostic push channel contract
type Channel interface {
	// Connect establishes the underlying connection. Idempotent: calling it
	// while already connected is a no-op. The transport keeps retrying in
	// the background, so a currently unreachable server is not an error.
	Connect(ctx context.Context, credential string) error
	// Disconnect closes the connection. Safe when never connected.
	Disconnect()
	// Emit publishes a payload under an event name. Fire-and-forget.
	Emit(event string, payload any) error
	// On returns a stream of raw payloads for an event name. May be called
	// before Connect; subscriptions survive reconnects.
	On(event string) <-chan []byte
	// Status returns a stream of connection-state edges
	Status() <-chan State
}

// Config holds push channel configuration
type Config struct {
	ServerURL     string
	SubjectPrefix string
	ReconnectWait time.Duration
	BufferSize    int
}

type natsChannel struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	conn      *nats.Conn
	listeners map[string][]chan []byte
	subs      map[string]*nats.Subscription

	status chan State
}

// New creates a push channel. No connection is made until Connect.
func New(cfg Config, logger zerolog.Logger) Channel {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "presence"
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = time.Second
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 64
	}

	return &natsChannel{
		cfg:       cfg,
		logger:    logger.With().Str("component", "channel").Logger(),
		listeners: make(map[string][]chan []byte),
		subs:      make(map[string]*nats.Subscription),
		status:    make(chan State, 8),
	}
}

// Connect dials the server with the credential attached as a token. With
// retry-on-failed-connect the call succeeds even while the server is
// unreachable; the connected edge arrives on Status once the dial lands.
func (c *natsChannel) Connect(ctx context.Context, credential string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}

	serverURL := c.cfg.ServerURL
	if serverURL == "" {
		serverURL = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.ReconnectHandler(func(*nats.Conn) {
			c.pushStatus(StateConnected)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn().Err(err).Msg("Channel disconnected.")
			}
			c.pushStatus(StateDisconnected)
		}),
	}
	if credential != "" {
		opts = append(opts, nats.Token(credential))
	}

	conn, err := nats.Connect(serverURL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect channel: %w", err)
	}
	c.conn = conn

	// Register subscriptions made before Connect
	for event := range c.listeners {
		if err := c.subscribeLocked(event); err != nil {
			c.logger.Warn().Err(err).Str("event", event).Msg("Failed to subscribe.")
		}
	}

	if conn.IsConnected() {
		c.pushStatus(StateConnected)
	}

	return nil
}

// Disconnect closes the connection and drops all transport subscriptions.
// Registered listeners stay; a later Connect re-subscribes them.
func (c *natsChannel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}

	c.conn.Close()
	c.conn = nil
	c.subs = make(map[string]*nats.Subscription)
	c.pushStatus(StateDisconnected)
}

// Emit publishes a JSON-marshalled payload on the event's subject
func (c *natsChannel) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", event, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errors.New("channel not connected")
	}

	// NATS buffers publishes while reconnecting, so a transient gap does
	// not surface here.
	if err := conn.Publish(c.subject(event), data); err != nil {
		return fmt.Errorf("failed to emit %s: %w", event, err)
	}

	c.logger.Debug().Str("event", event).Int("bytes", len(data)).Msg("Emitted event.")
	return nil
}

// On registers a listener for an event and returns its payload stream.
// Slow consumers lose messages rather than blocking the transport.
func (c *natsChannel) On(event string) <-chan []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan []byte, c.cfg.BufferSize)
	c.listeners[event] = append(c.listeners[event], ch)

	if c.conn != nil {
		if err := c.subscribeLocked(event); err != nil {
			c.logger.Warn().Err(err).Str("event", event).Msg("Failed to subscribe.")
		}
	}

	return ch
}

// Status returns the connection-state stream
func (c *natsChannel) Status() <-chan State {
	return c.status
}

// subscribeLocked creates the transport subscription for an event if one
// does not exist yet. Caller holds c.mu.
func (c *natsChannel) subscribeLocked(event string) error {
	if _, ok := c.subs[event]; ok {
		return nil
	}

	sub, err := c.conn.Subscribe(c.subject(event), func(msg *nats.Msg) {
		c.dispatch(event, msg.Data)
	})
	if err != nil {
		return err
	}

	c.subs[event] = sub
	return nil
}

// dispatch fans a payload out to every listener for the event
func (c *natsChannel) dispatch(event string, data []byte) {
	c.mu.Lock()
	listeners := c.listeners[event]
	c.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- data:
		default:
			c.logger.Warn().Str("event", event).Msg("Listener buffer full, dropping payload.")
		}
	}
}

// pushStatus delivers a state edge without blocking the transport callbacks
func (c *natsChannel) pushStatus(s State) {
	select {
	case c.status <- s:
	default:
	}
}

func (c *natsChannel) subject(event string) string {
	return c.cfg.SubjectPrefix + "." + event
}
