package delivery

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// EnvelopeType is the fixed marker every relay envelope must carry. Payloads
// with any other shape are rejected rather than guessed at.
const EnvelopeType = "driftpay/tx-relay"

// Envelope is the wire format exchanged over the local peer channel.
type Envelope struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	Raw    string          `json:"raw"`
}

// ParseEnvelope decodes and validates a relay payload. Every failure maps to
// ErrMalformedPayload; the ledger is never touched for unparseable input.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch {
	case env.Type != EnvelopeType:
		return Envelope{}, fmt.Errorf("%w: unknown envelope type %q", ErrMalformedPayload, env.Type)
	case env.ID == "":
		return Envelope{}, fmt.Errorf("%w: missing id", ErrMalformedPayload)
	case env.From == "":
		return Envelope{}, fmt.Errorf("%w: missing from address", ErrMalformedPayload)
	case env.To == "":
		return Envelope{}, fmt.Errorf("%w: missing to address", ErrMalformedPayload)
	case env.Amount.IsNegative():
		return Envelope{}, fmt.Errorf("%w: negative amount %s", ErrMalformedPayload, env.Amount)
	case env.Raw == "":
		return Envelope{}, fmt.Errorf("%w: missing raw payload", ErrMalformedPayload)
	}

	if _, err := hex.DecodeString(env.Raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: raw payload is not hex: %v", ErrMalformedPayload, err)
	}
	return env, nil
}

// RawBytes decodes the signed payload carried by the envelope.
func (e Envelope) RawBytes() ([]byte, error) {
	raw, err := hex.DecodeString(e.Raw)
	if err != nil {
		return nil, fmt.Errorf("%w: raw payload is not hex: %v", ErrMalformedPayload, err)
	}
	return raw, nil
}

// Encode serializes the envelope for transport.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("delivery: encode envelope: %w", err)
	}
	return data, nil
}
