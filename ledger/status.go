package ledger

// Status is a transaction lifecycle state.
type Status string

const (
	// StatusQueued marks an outgoing transfer waiting for connectivity.
	StatusQueued Status = "queued"
	// StatusPending marks a transfer accepted before signing context or
	// connectivity was available; the drain picks it up later.
	StatusPending Status = "pending"
	// StatusSigned marks a transfer whose payload is ready for transport.
	StatusSigned Status = "signed"
	// StatusBroadcasting marks a delivery attempt in flight.
	StatusBroadcasting Status = "broadcasting"
	// StatusBroadcasted marks acceptance by a transport.
	StatusBroadcasted Status = "broadcasted"
	// StatusConfirming marks a transaction seen by the network but below the
	// confirmation threshold.
	StatusConfirming Status = "confirming"
	// StatusConfirmed is terminal.
	StatusConfirmed Status = "confirmed"
	// StatusFailed is terminal unless superseded by a delayed confirmation
	// carrying evidence.
	StatusFailed Status = "failed"
	// StatusCancelled is terminal.
	StatusCancelled Status = "cancelled"
)

// transitions holds the forward edges of the lifecycle. Failed and cancelled
// are additionally reachable from every non-terminal state.
var transitions = map[Status][]Status{
	StatusQueued:       {StatusSigned, StatusBroadcasting},
	StatusPending:      {StatusSigned, StatusBroadcasting, StatusBroadcasted},
	StatusSigned:       {StatusBroadcasting, StatusBroadcasted},
	StatusBroadcasting: {StatusBroadcasted},
	StatusBroadcasted:  {StatusConfirming, StatusConfirmed},
	StatusConfirming:   {StatusConfirmed},
	// A failed record stays addressable: it may be retried, or superseded by
	// a delayed broadcast confirmation (the service gates that edge on
	// evidence).
	StatusFailed: {StatusBroadcasting, StatusBroadcasted},
}

// Known reports whether s is a defined lifecycle state.
func (s Status) Known() bool {
	switch s {
	case StatusQueued, StatusPending, StatusSigned, StatusBroadcasting,
		StatusBroadcasted, StatusConfirming, StatusConfirmed, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s ends the lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ValidTransition reports whether a record may move from one status to
// another.
func ValidTransition(from, to Status) bool {
	if !from.Known() || !to.Known() {
		return false
	}
	if !from.Terminal() && (to == StatusFailed || to == StatusCancelled) {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
