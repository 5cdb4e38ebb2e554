// Package ledger is the durable store of transaction records and the single
// source of truth for their lifecycle status.
package ledger

import "time"

// Direction distinguishes transfers this device initiated from transfers
// relayed to it.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Channel records which transport ultimately carried a transaction.
type Channel string

const (
	ChannelLocalPeer Channel = "local-peer"
	ChannelNetwork   Channel = "network"
	ChannelImported  Channel = "imported"
)

// HistoryEntry is one step of a record's lifecycle. Entries are append-only
// and ordered by append time.
type HistoryEntry struct {
	Status    Status    `json:"status" cbor:"1,keyasint"`
	Timestamp time.Time `json:"timestamp" cbor:"2,keyasint"`
	Reason    string    `json:"reason,omitempty" cbor:"3,keyasint,omitempty"`
}

// Record is the unit of work tracked by the ledger.
type Record struct {
	ID            string         `json:"id" cbor:"1,keyasint"`
	Direction     Direction      `json:"direction" cbor:"2,keyasint"`
	Counterparty  string         `json:"counterparty_address" cbor:"3,keyasint"`
	SelfAddress   string         `json:"self_address" cbor:"4,keyasint"`
	AmountMinor   int64          `json:"amount_minor" cbor:"5,keyasint"`
	Status        Status         `json:"status" cbor:"6,keyasint"`
	Payload       []byte         `json:"payload,omitempty" cbor:"7,keyasint,omitempty"`
	NetworkID     string         `json:"network_id,omitempty" cbor:"8,keyasint,omitempty"`
	Channel       Channel        `json:"channel,omitempty" cbor:"9,keyasint,omitempty"`
	History       []HistoryEntry `json:"history" cbor:"10,keyasint"`
	Confirmations int            `json:"confirmations,omitempty" cbor:"11,keyasint,omitempty"`
	Seq           uint64         `json:"seq" cbor:"12,keyasint"`
	CreatedAt     time.Time      `json:"created_at" cbor:"13,keyasint"`
	LastUpdated   time.Time      `json:"last_updated" cbor:"14,keyasint"`
}

// Clone returns a deep copy so callers can hold records without aliasing the
// store's history slice or payload bytes.
func (r Record) Clone() Record {
	c := r
	if r.History != nil {
		c.History = make([]HistoryEntry, len(r.History))
		copy(c.History, r.History)
	}
	if r.Payload != nil {
		c.Payload = make([]byte, len(r.Payload))
		copy(c.Payload, r.Payload)
	}
	return c
}
