// Package relay provides the broadcast sync client: one logical websocket
// connection to the relay, publishing local edits outward and delivering
// inbound messages as a remote-update stream.
//
// The wire protocol is deliberately thin: one JSON frame per message,
// carrying a topic and the full serialized document content. There is no
// sender id and no sequence number, so receivers defend against echo with
// content equality, not protocol-level exclusion.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Frame is one relay message.
type Frame struct {
	Topic string `json:"topic"`
	Body  string `json:"body"`
}

// State is the connection state of a Client.
type State int

const (
	// Disconnected means no transport is open. The initial state, and
	// the terminal state after Close or an unrecovered error.
	Disconnected State = iota
	// Connecting means a dial is in flight.
	Connecting
	// Connected is the only state from which Publish sends and inbound
	// delivery happens.
	Connected
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

const writeTimeout = 5 * time.Second

// Config holds client configuration.
type Config struct {
	// URL is the relay websocket endpoint, e.g. "ws://localhost:8080/ws".
	URL string

	// Reconnect enables automatic reconnection with capped exponential
	// backoff after the transport drops. Publishes attempted while
	// reconnecting are still silently dropped.
	Reconnect bool

	// MinBackoff is the first reconnect delay.
	MinBackoff time.Duration

	// MaxBackoff caps the reconnect delay growth.
	MaxBackoff time.Duration

	// Logger for client activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for the given relay URL.
func DefaultConfig(url string) *Config {
	return &Config{
		URL:        url,
		Reconnect:  true,
		MinBackoff: 250 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
		Logger:     log.New(os.Stderr, "[relay] ", log.LstdFlags),
	}
}

// Client owns a single logical connection to the relay.
//
// Subscriptions are client-side: the relay fans every frame out to every
// other connection, and the client filters by topic. That keeps the wire
// format stable whether topics are per-document or the legacy shared one.
type Client struct {
	cfg    *Config
	logger *log.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	state  State
	subs   map[string][]chan string
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewClient creates a relay client. Use Connect to open the transport.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("relay URL cannot be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[relay] ", log.LstdFlags)
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 250 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}

	return &Client{
		cfg:    cfg,
		logger: cfg.Logger,
		state:  Disconnected,
		subs:   make(map[string][]chan string),
		done:   make(chan struct{}),
	}, nil
}

// Connect establishes the transport and transitions to Connected.
//
// On failure the client returns to Disconnected and the error is surfaced
// to the caller; the caller decides whether that is fatal (for a session
// it is not: editing and autosave continue without live propagation).
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	if c.state != Disconnected {
		c.mu.Unlock()
		return fmt.Errorf("already %s", c.state)
	}
	c.state = Connecting
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("failed to connect to relay %s: %w", c.cfg.URL, err)
	}
	// Full-document frames can exceed the 32KB default.
	conn.SetReadLimit(16 * 1024 * 1024)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "client closed")
		return fmt.Errorf("client is closed")
	}
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// Subscribe returns a stream of inbound message bodies for one topic.
//
// Frames for other topics are dropped. The channel survives reconnects
// and is closed when the client closes.
func (c *Client) Subscribe(topic string) <-chan string {
	ch := make(chan string, 64)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch
	}
	c.subs[topic] = append(c.subs[topic], ch)
	return ch
}

// Publish sends content to the relay for fan-out to other subscribers.
//
// Fire-and-forget: if the client is not Connected the message is silently
// dropped, not queued. The debounced save is the durability backstop.
func (c *Client) Publish(topic, content string) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected {
		return
	}

	data, err := json.Marshal(Frame{Topic: topic, Body: content})
	if err != nil {
		c.logger.Printf("Failed to encode frame: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.logger.Printf("Publish failed: %v", err)
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the client is currently connected.
func (c *Client) Connected() bool {
	return c.State() == Connected
}

// Close tears down the transport and closes all subscription channels.
// Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	c.wg.Wait()

	c.mu.Lock()
	for _, chans := range c.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	c.subs = make(map[string][]chan string)
	c.mu.Unlock()

	return nil
}

// readLoop delivers inbound frames until the transport drops, then hands
// off to the reconnect loop if enabled.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			if c.conn == conn {
				c.conn = nil
				c.state = Disconnected
			}
			c.mu.Unlock()

			if wasClosed {
				return
			}
			c.logger.Printf("Connection lost: %v", err)
			if c.cfg.Reconnect {
				c.wg.Add(1)
				go c.reconnectLoop()
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Printf("Dropping malformed frame: %v", err)
			continue
		}
		c.dispatch(frame)
	}
}

// dispatch delivers a frame to the subscribers of its topic. Slow
// subscribers lose messages rather than stall the read loop; the next
// frame carries the full document, so nothing stays stale for long.
func (c *Client) dispatch(frame Frame) {
	c.mu.Lock()
	chans := append([]chan string(nil), c.subs[frame.Topic]...)
	c.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- frame.Body:
		default:
			c.logger.Printf("Subscriber for %q is behind, dropping message", frame.Topic)
		}
	}
}

// reconnectLoop retries Connect with capped exponential backoff until it
// succeeds or the client closes.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	backoff := c.cfg.MinBackoff
	for {
		select {
		case <-c.done:
			return
		case <-time.After(jitter(backoff)):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			c.logger.Printf("Reconnected to %s", c.cfg.URL)
			return
		}

		c.logger.Printf("Reconnect failed (retrying in %v): %v", backoff, err)
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// jitter spreads a backoff delay over [d/2, d) so clients that lost the
// same relay do not all redial in lockstep.
func jitter(d time.Duration) time.Duration {
	if d < 2 {
		return d
	}
	return d/2 + rand.N(d/2)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
