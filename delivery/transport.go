// Package delivery moves signed payloads over two transports with a defined
// precedence and records every outcome in the ledger before returning.
package delivery

import (
	"context"
	"errors"
)

var (
	// ErrInvalidDestination signals a counterparty address that fails codec
	// validation; no transport is attempted.
	ErrInvalidDestination = errors.New("delivery: invalid destination address")
	// ErrMalformedPayload signals an inbound relay payload that cannot be
	// parsed or lacks required fields.
	ErrMalformedPayload = errors.New("delivery: malformed relay payload")
	// ErrTransportFailure signals that every eligible transport refused the
	// payload.
	ErrTransportFailure = errors.New("delivery: transport failure")
	// ErrMissingPayload signals a record without signed bytes reaching the
	// delivery path.
	ErrMissingPayload = errors.New("delivery: record has no signed payload")
)

// PeerTransport is the short-range device-to-device channel, tried first when
// it reports itself available.
type PeerTransport interface {
	Available() bool
	Send(ctx context.Context, env Envelope) error
}

// Broadcaster submits a raw signed payload to the wider network and returns
// the identifier the network assigned.
type Broadcaster interface {
	BroadcastRaw(ctx context.Context, rawHex string) (string, error)
}
