// Package queue drains pending ledger records when connectivity returns. One
// drain runs at a time; overlapping triggers are dropped rather than stacked.
package queue

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"driftpay/ledger"
)

// ReasonIncompleteContext marks records that cannot be retried because their
// signing context never reached the queue.
const ReasonIncompleteContext = "IncompleteContext"

// Deliverer is the delivery surface the processor drives. Satisfied by
// delivery.Orchestrator.
type Deliverer interface {
	Deliver(ctx context.Context, rec ledger.Record) (ledger.Record, error)
	Rebroadcast(ctx context.Context, rec ledger.Record) (ledger.Record, error)
}

// Ledger is the slice of the ledger service the processor needs.
type Ledger interface {
	ListPending(ctx context.Context) ([]ledger.Record, error)
	UpdateStatus(ctx context.Context, id string, upd ledger.StatusUpdate) (ledger.Record, error)
}

// Processor owns the offline backlog. It watches connectivity transitions and
// walks the pending set in creation order whenever the node comes back online.
type Processor struct {
	ledger    Ledger
	deliverer Deliverer
	log       *zap.Logger

	sem    *semaphore.Weighted
	online atomic.Bool
}

func NewProcessor(ldg Ledger, deliverer Deliverer, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		ledger:    ldg,
		deliverer: deliverer,
		log:       logger,
		sem:       semaphore.NewWeighted(1),
	}
}

// SetDeliverer installs the delivery surface after construction. The
// orchestrator consults the processor for its online signal, so one of the
// two has to be wired late; call this before the first connectivity event.
func (p *Processor) SetDeliverer(d Deliverer) {
	p.deliverer = d
}

// Online reports the last connectivity state the processor saw.
func (p *Processor) Online() bool {
	return p.online.Load()
}

// SetOnline records the connectivity state and triggers a drain on the
// offline-to-online edge. Repeated same-state calls do nothing.
func (p *Processor) SetOnline(ctx context.Context, online bool) {
	was := p.online.Swap(online)
	if online && !was {
		p.OnConnectivityRestored(ctx)
	}
}

// OnConnectivityRestored drains the pending backlog once, sequentially. If a
// drain is already running the call returns immediately without queueing
// another.
func (p *Processor) OnConnectivityRestored(ctx context.Context) {
	if !p.sem.TryAcquire(1) {
		p.log.Debug("drain already in progress, trigger dropped")
		return
	}
	defer p.sem.Release(1)

	pending, err := p.ledger.ListPending(ctx)
	if err != nil {
		p.log.Error("listing pending records failed", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}
	p.log.Info("draining pending records", zap.Int("count", len(pending)))

	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			p.log.Warn("drain interrupted", zap.Error(err))
			return
		}
		if !awaitingDelivery(rec.Status) {
			// Already on the network; confirmations arrive on their own.
			continue
		}
		p.process(ctx, rec)
	}
}

func awaitingDelivery(status ledger.Status) bool {
	switch status {
	case ledger.StatusQueued, ledger.StatusPending, ledger.StatusSigned, ledger.StatusBroadcasting:
		return true
	}
	return false
}

// process runs one record's attempt. A failed attempt is already recorded in
// the ledger by the deliverer; the drain moves on regardless.
func (p *Processor) process(ctx context.Context, rec ledger.Record) {
	if len(rec.Payload) == 0 {
		if _, err := p.ledger.UpdateStatus(ctx, rec.ID, ledger.StatusUpdate{
			Status: ledger.StatusFailed,
			Reason: ReasonIncompleteContext,
		}); err != nil {
			p.log.Error("marking payloadless record failed",
				zap.String("id", rec.ID),
				zap.Error(err))
		}
		return
	}

	var err error
	switch rec.Direction {
	case ledger.DirectionIncoming:
		_, err = p.deliverer.Rebroadcast(ctx, rec)
	default:
		_, err = p.deliverer.Deliver(ctx, rec)
	}
	if err != nil {
		p.log.Warn("drain attempt failed",
			zap.String("id", rec.ID),
			zap.String("direction", string(rec.Direction)),
			zap.Error(err))
	}
}
