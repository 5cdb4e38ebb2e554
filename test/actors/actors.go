// Package actors holds the concurrent workloads the stress test runs against
// a live ledger and orchestrator.
package actors

import (
	"context"
	"encoding/hex"
	"errors"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"driftpay/delivery"
	"driftpay/ledger"
)

func pause(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-time.After(d):
		return true
	}
}

// Submitter submits outgoing transfers with random payloads in a loop. Some
// attempts land while the node is offline and queue instead of delivering.
func Submitter(ctx context.Context, orc *delivery.Orchestrator, dest, self string, stop <-chan struct{}) error {
	for {
		payload := make([]byte, 16)
		rand.Read(payload)

		// A submission can lose the race against a reconnect drain touching
		// the same record; only storage trouble ends the run.
		_, err := orc.Submit(ctx, delivery.SubmitParams{
			To:          dest,
			SelfAddress: self,
			AmountMinor: int64(rand.Intn(1_000_000) + 1),
			Payload:     payload,
		})
		if err != nil && errors.Is(err, ledger.ErrStorageUnavailable) {
			return err
		}

		if !pause(ctx, stop, time.Duration(rand.Intn(20))*time.Millisecond) {
			return nil
		}
	}
}

// Relayer feeds inbound envelopes, deliberately replaying payloads from a
// small fixed set so the same signed bytes arrive many times.
func Relayer(ctx context.Context, orc *delivery.Orchestrator, from, to string, stop <-chan struct{}) error {
	payloads := make([][]byte, 8)
	for i := range payloads {
		payloads[i] = make([]byte, 16)
		rand.Read(payloads[i])
	}

	for {
		payload := payloads[rand.Intn(len(payloads))]
		env := delivery.Envelope{
			Type:   delivery.EnvelopeType,
			ID:     hex.EncodeToString(payload[:8]),
			From:   from,
			To:     to,
			Amount: decimal.New(int64(rand.Intn(100)+1), -2),
			Raw:    hex.EncodeToString(payload),
		}
		data, err := env.Encode()
		if err != nil {
			return err
		}

		// Two replays of the same payload can race past the dedup lookup and
		// collide on the network-id index; that is the store doing its job.
		if err := orc.HandleInbound(ctx, data); err != nil && errors.Is(err, ledger.ErrStorageUnavailable) {
			return err
		}

		if !pause(ctx, stop, time.Duration(rand.Intn(30))*time.Millisecond) {
			return nil
		}
	}
}

// Confirmer plays the chain watcher: it walks broadcast records forward
// through confirming into confirmed with growing confirmation counts.
func Confirmer(ctx context.Context, ldg *ledger.Service, stop <-chan struct{}) error {
	for {
		recs, err := ldg.ListPending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		for _, rec := range recs {
			var next ledger.Status
			switch rec.Status {
			case ledger.StatusBroadcasted:
				next = ledger.StatusConfirming
			case ledger.StatusConfirming:
				next = ledger.StatusConfirmed
			default:
				continue
			}
			confirmations := rec.Confirmations + 1
			_, err := ldg.UpdateStatus(ctx, rec.ID, ledger.StatusUpdate{
				Status:        next,
				Confirmations: &confirmations,
			})
			// Racing another actor's transition is expected; only storage
			// trouble ends the run.
			if err != nil && errors.Is(err, ledger.ErrStorageUnavailable) {
				return err
			}
		}

		if !pause(ctx, stop, time.Duration(rand.Intn(50)+10)*time.Millisecond) {
			return nil
		}
	}
}
