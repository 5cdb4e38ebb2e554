// Package oracles checks ledger-wide invariants over a full record snapshot.
package oracles

import (
	"context"
	"fmt"

	"driftpay/ledger"
)

type Oracle struct {
	Name  string
	Check func(recs []ledger.Record) (string, bool)
}

func All() []Oracle {
	return []Oracle{
		{
			// Every record's history starts at its creation status and only
			// moves along legal transitions.
			Name: "O1_history_transitions",
			Check: func(recs []ledger.Record) (string, bool) {
				for _, r := range recs {
					if len(r.History) == 0 {
						return fmt.Sprintf("record %s has empty history", r.ID), false
					}
					for i := 1; i < len(r.History); i++ {
						prev, next := r.History[i-1].Status, r.History[i].Status
						if !ledger.ValidTransition(prev, next) {
							return fmt.Sprintf("record %s: %s -> %s", r.ID, prev, next), false
						}
					}
					if last := r.History[len(r.History)-1].Status; last != r.Status {
						return fmt.Sprintf("record %s status %s but history ends at %s", r.ID, r.Status, last), false
					}
				}
				return "", true
			},
		},
		{
			Name: "O2_history_timestamps_monotonic",
			Check: func(recs []ledger.Record) (string, bool) {
				for _, r := range recs {
					for i := 1; i < len(r.History); i++ {
						if r.History[i].Timestamp.Before(r.History[i-1].Timestamp) {
							return fmt.Sprintf("record %s entry %d predates entry %d", r.ID, i, i-1), false
						}
					}
				}
				return "", true
			},
		},
		{
			// One record per network identifier, no matter how many times the
			// same signed bytes arrived.
			Name: "O3_network_id_unique",
			Check: func(recs []ledger.Record) (string, bool) {
				seen := make(map[string]string)
				for _, r := range recs {
					if r.NetworkID == "" {
						continue
					}
					if other, ok := seen[r.NetworkID]; ok {
						return fmt.Sprintf("network id %s on records %s and %s", r.NetworkID, other, r.ID), false
					}
					seen[r.NetworkID] = r.ID
				}
				return "", true
			},
		},
		{
			Name: "O4_broadcast_has_network_id",
			Check: func(recs []ledger.Record) (string, bool) {
				for _, r := range recs {
					switch r.Status {
					case ledger.StatusBroadcasted, ledger.StatusConfirming, ledger.StatusConfirmed:
						if r.NetworkID == "" {
							return fmt.Sprintf("record %s is %s without a network id", r.ID, r.Status), false
						}
					}
				}
				return "", true
			},
		},
		{
			Name: "O5_seq_unique",
			Check: func(recs []ledger.Record) (string, bool) {
				seen := make(map[uint64]string)
				for _, r := range recs {
					if other, ok := seen[r.Seq]; ok {
						return fmt.Sprintf("seq %d on records %s and %s", r.Seq, other, r.ID), false
					}
					seen[r.Seq] = r.ID
				}
				return "", true
			},
		},
	}
}

// Run snapshots the ledger and evaluates all oracles, returning the first
// failure (name and detail) or an empty name when all pass.
func Run(ctx context.Context, ldg *ledger.Service) (string, string, error) {
	recs, err := ldg.List(ctx)
	if err != nil {
		return "", "", err
	}
	for _, o := range All() {
		if detail, ok := o.Check(recs); !ok {
			return o.Name, detail, nil
		}
	}
	return "", "", nil
}
