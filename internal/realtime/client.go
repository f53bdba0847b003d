// internal/realtime/client.go
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/feed"
)

const (
	DefaultBufferSize     = 256
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
	DefaultPingInterval   = 20 * time.Second

	writeTimeout = 5 * time.Second
)

// Message types on the wire.
const (
	MessageTick   = "tick"
	MessageTarget = "target"
)

var ErrNotConnected = errors.New("realtime: not connected")

// message is the envelope used in both directions.
type message struct {
	Type string `json:"type"`
	feed.Tick
	Symbol string `json:"symbol,omitempty"`
}

// Config configures a Client.
type Config struct {
	URL            string
	BufferSize     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PingInterval   time.Duration
	Dialer         *websocket.Dialer
	Logger         *zap.Logger
}

// Client is a feed.TickSource backed by a websocket that reconnects with
// exponential backoff.
type Client struct {
	cfg    Config
	ticks  chan feed.Tick
	logger *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	target feed.Instrument

	writeMu sync.Mutex
}

var _ feed.TickSource = (*Client)(nil)

// New creates a Client. Nothing is dialled until Run.
func New(cfg Config) *Client {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		ticks:  make(chan feed.Tick, cfg.BufferSize),
		logger: cfg.Logger.Named("realtime"),
	}
}

// Ticks returns the channel of decoded ticks. It is never closed.
func (c *Client) Ticks() <-chan feed.Tick {
	return c.ticks
}

// Retarget records inst as the mint to follow and tells the peer if
// connected. The target is re-sent after every reconnect.
func (c *Client) Retarget(ctx context.Context, inst feed.Instrument) error {
	c.mu.Lock()
	c.target = inst
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.sendTarget(ctx, conn, inst)
}

func (c *Client) sendTarget(ctx context.Context, conn *websocket.Conn, inst feed.Instrument) error {
	if inst.Mint == "" {
		return nil
	}
	msg := message{Type: MessageTarget, Tick: feed.Tick{Mint: inst.Mint}, Symbol: inst.Symbol}
	return c.write(ctx, conn, msg)
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write %T: %w", v, err)
	}
	return nil
}

// Run keeps a connection open until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("Giving up reconnect round, starting over", zap.Error(err))
			continue
		}

		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Info("Connection lost", zap.Error(err))
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialBackoff
	policy.MaxInterval = c.cfg.MaxBackoff

	notify := func(err error, d time.Duration) {
		c.logger.Debug("Dial failed, retrying", zap.Error(err), zap.Duration("backoff", d))
	}

	dial := func() (*websocket.Conn, error) {
		conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("websocket dial: %w", err)
		}
		return conn, nil
	}

	conn, err := backoff.Retry(ctx, dial,
		backoff.WithBackOff(policy),
		backoff.WithNotify(notify))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	target := c.target
	c.mu.Unlock()

	c.logger.Info("Connected", zap.String("url", c.cfg.URL))
	if err := c.sendTarget(ctx, conn, target); err != nil {
		c.logger.Warn("Failed to announce target", zap.Error(err))
	}
	return conn, nil
}

// serve reads until the connection fails or ctx ends.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer func() {
		close(done)
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				c.writeMu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				c.writeMu.Unlock()
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				c.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				c.writeMu.Unlock()
				if err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug("Dropping undecodable message", zap.Error(err))
		return
	}
	if msg.Type != MessageTick {
		return
	}
	select {
	case c.ticks <- msg.Tick:
	default:
		c.logger.Warn("Tick buffer full, dropping tick", zap.String("mint", msg.Mint))
	}
}
