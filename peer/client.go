// Package peer implements the short-range device-to-device relay channel over
// websockets. Each send is acknowledged by the receiving side before it counts
// as delivered.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"driftpay/delivery"
)

// ErrNoAck signals that the counterpart accepted the connection but never
// confirmed the payload.
var ErrNoAck = errors.New("peer: payload not acknowledged")

const dialTimeout = 5 * time.Second

// ack is the receipt the listener writes back for every relayed envelope.
type ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Client relays envelopes to a single known counterpart. The connection is
// dialed lazily and redialed after any send error.
type Client struct {
	url    string
	dialer *websocket.Dialer
	log    *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(url string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: dialTimeout},
		log:    logger,
	}
}

// Available reports whether the counterpart is reachable right now. A failed
// probe is the normal signal to fall back to the network channel.
func (c *Client) Available() bool {
	if c.url == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := c.dialLocked(ctx); err != nil {
		c.log.Debug("peer unreachable", zap.String("url", c.url), zap.Error(err))
		return false
	}
	return true
}

// Send relays one envelope and waits for the counterpart's acknowledgement.
func (c *Client) Send(ctx context.Context, env delivery.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.dialLocked(ctx); err != nil {
			return fmt.Errorf("peer: dial %s: %w", c.url, err)
		}
	}

	deadline := time.Now().Add(dialTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}

	data, err := env.Encode()
	if err != nil {
		return err
	}

	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.dropLocked()
		return fmt.Errorf("peer: write: %w", err)
	}

	c.conn.SetReadDeadline(deadline)
	var receipt ack
	if err := c.conn.ReadJSON(&receipt); err != nil {
		c.dropLocked()
		return fmt.Errorf("peer: read ack: %w", err)
	}
	if !receipt.OK {
		return fmt.Errorf("%w: %s", ErrNoAck, receipt.Error)
	}
	return nil
}

// Close tears down the connection if one is open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) dialLocked(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
