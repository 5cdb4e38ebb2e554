// Package broadcast submits raw signed payloads to a network node over its
// HTTP API.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrRejected signals that the node answered but refused the payload.
var ErrRejected = errors.New("broadcast: node rejected payload")

const defaultTimeout = 15 * time.Second

// Client talks to a single node endpoint. All failures come back as plain
// errors; the caller decides what a failed attempt means for the record.
type Client struct {
	http *resty.Client
	log  *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		log: logger,
	}
}

type broadcastRequest struct {
	Raw string `json:"raw"`
}

type broadcastResponse struct {
	TxID string `json:"txid"`
}

type apiError struct {
	Message string `json:"message"`
}

// BroadcastRaw submits the hex-encoded payload and returns the identifier the
// node assigned to it.
func (c *Client) BroadcastRaw(ctx context.Context, rawHex string) (string, error) {
	var (
		out    broadcastResponse
		apiErr apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(broadcastRequest{Raw: rawHex}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/tx/raw")
	if err != nil {
		return "", fmt.Errorf("broadcast: submit: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = resp.Status()
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	if out.TxID == "" {
		return "", fmt.Errorf("%w: response carried no txid", ErrRejected)
	}

	c.log.Debug("payload accepted by node", zap.String("txid", out.TxID))
	return out.TxID, nil
}

// Health probes the node. A nil error means the network channel is usable,
// which doubles as the connectivity signal for the drain trigger.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("broadcast: health: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("broadcast: health: %s", resp.Status())
	}
	return nil
}
