// Package stream implements the managed per-URL WebSocket client every
// venue adapter's streaming surface shares: one connection per URL, a
// shared incoming-frame broadcast to all registered listeners, adapter-
// chosen keep-alive (protocol ping or application ping), and an
// exponential-backoff reconnect loop. Subscription bookkeeping (which
// topics are live on a connection, re-issuing subscribes after reconnect)
// is the adapter's responsibility, not the client's — the client only
// ever fans out frames and reconnects the socket.
//
// Grounded on the teacher's market/websocket_client.go (WSClient,
// subscribers map, handleReconnect) generalized to a venue-neutral frame
// dispatcher with adapter-supplied decode/keep-alive hooks.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ccgate/ccgate/metrics"
)

// Handler receives every decoded frame broadcast on a client; the adapter
// filters by topic itself (the client has no notion of topics).
type Handler func(frame []byte)

// KeepAlive selects which of the two keep-alive flavors a client runs.
type KeepAlive int

const (
	// NoKeepAlive disables client-driven keep-alive entirely.
	NoKeepAlive KeepAlive = iota
	// ProtocolPing sends standard WS control ping frames on Interval and
	// tracks last-pong time.
	ProtocolPing
	// ApplicationPing calls AppPingPayload on Interval and writes its
	// result as a text frame; the adapter is expected to filter the
	// corresponding pong reply out of the frames it dispatches to topic
	// handlers (the raw frame still reaches Handler — filtering app-level
	// pongs from business messages is the adapter's job per §4.4).
	ApplicationPing
)

// Config configures one managed client.
type Config struct {
	URL             string
	KeepAlive       KeepAlive
	Interval        time.Duration
	AppPingPayload  func() []byte
	HandshakeTimeout time.Duration
	Backoff         BackoffConfig
	Logger          zerolog.Logger

	// OnReconnect is invoked (if set) after a reconnect completes
	// successfully, so the adapter's subscription registry can re-issue
	// subscribe frames — reconnect never auto-restores subscriptions.
	OnReconnect func()
}

// BackoffConfig parameterizes the exponential reconnect backoff.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func (c BackoffConfig) orDefaults() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = 500 * time.Millisecond
	}
	if c.Max <= 0 {
		c.Max = 30 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2
	}
	return c
}

// Client is one managed connection to a single URL.
type Client struct {
	cfg Config

	mu         sync.RWMutex
	conn       *websocket.Conn
	handlers   []Handler
	closed     bool
	done       chan struct{}
	backoff    *Backoff
	lastPongAt time.Time
}

// New builds a client for cfg.URL. Connect must be called to actually dial.
func New(cfg Config) *Client {
	cfg.Backoff = cfg.Backoff.orDefaults()
	return &Client{
		cfg:     cfg,
		done:    make(chan struct{}),
		backoff: NewBackoff(cfg.Backoff),
	}
}

// Connect dials the socket and starts the read loop and keep-alive timer.
func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.lastPongAt = time.Now()
	c.mu.Unlock()
	metrics.SetWSConnected(c.cfg.URL, true)

	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPongAt = time.Now()
		c.mu.Unlock()
		return nil
	})

	go c.readLoop()
	if c.cfg.KeepAlive != NoKeepAlive && c.cfg.Interval > 0 {
		go c.keepAliveLoop()
	}
	return nil
}

// On registers a listener that receives every decoded frame.
func (c *Client) On(handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Send serializes frame as JSON and writes it as a text frame.
func (c *Client) Send(v interface{}) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	return conn.WriteJSON(v)
}

// SendText writes a raw text frame, for venues whose application ping is a
// literal string rather than a JSON object.
func (c *Client) SendText(text string) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Close releases the keep-alive timer and the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	metrics.SetWSConnected(c.cfg.URL, false)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.cfg.Logger.Warn().Err(err).Str("url", c.cfg.URL).Msg("stream: read error, reconnecting")
			metrics.SetWSConnected(c.cfg.URL, false)
			c.reconnect()
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(frame []byte) {
	c.mu.RLock()
	handlers := make([]Handler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()
	for _, h := range handlers {
		h(frame)
	}
}

func (c *Client) keepAliveLoop() {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				continue
			}
			switch c.cfg.KeepAlive {
			case ProtocolPing:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			case ApplicationPing:
				if c.cfg.AppPingPayload != nil {
					_ = conn.WriteMessage(websocket.TextMessage, c.cfg.AppPingPayload())
				}
			}
		}
	}
}

func (c *Client) reconnect() {
	for {
		select {
		case <-c.done:
			return
		default:
		}
		delay := c.backoff.Next()
		c.cfg.Logger.Info().Dur("delay", delay).Str("url", c.cfg.URL).Msg("stream: reconnect attempt")
		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.Connect(ctx)
		cancel()
		if err != nil {
			continue
		}
		c.backoff.Reset()
		metrics.IncWSReconnect(c.cfg.URL)
		if c.cfg.OnReconnect != nil {
			c.cfg.OnReconnect()
		}
		return
	}
}
