package delivery

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"driftpay/address"
	"driftpay/amount"
	"driftpay/ledger"
	"driftpay/txid"
)

// DefaultAttemptTimeout bounds a single transport attempt. An attempt that
// neither succeeds nor fails within it counts as a failure for fallback
// purposes.
const DefaultAttemptTimeout = 15 * time.Second

// Config carries the orchestrator's collaborator-independent settings.
type Config struct {
	// NetworkPrefix is the address prefix this node accepts; destinations
	// under any other prefix are foreign and rejected.
	NetworkPrefix string
	// AttemptTimeout bounds each transport attempt. Zero means
	// DefaultAttemptTimeout.
	AttemptTimeout time.Duration
	// Online reports current connectivity; consulted for inbound
	// rebroadcast decisions and offline submissions.
	Online func() bool
	Logger *zap.Logger
}

// Orchestrator performs delivery attempts over the local peer channel with
// network fallback, and handles inbound relayed payloads idempotently.
type Orchestrator struct {
	ledger  *ledger.Service
	peer    PeerTransport
	net     Broadcaster
	prefix  string
	timeout time.Duration
	online  func() bool
	log     *zap.Logger
}

// NewOrchestrator wires the orchestrator to its ledger and transports. peer
// may be nil when no local channel exists on this device.
func NewOrchestrator(ldg *ledger.Service, peer PeerTransport, net Broadcaster, cfg Config) *Orchestrator {
	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	online := cfg.Online
	if online == nil {
		online = func() bool { return true }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		ledger:  ldg,
		peer:    peer,
		net:     net,
		prefix:  cfg.NetworkPrefix,
		timeout: timeout,
		online:  online,
		log:     logger,
	}
}

// SubmitParams describes an outgoing transfer intent.
type SubmitParams struct {
	// ID optionally fixes the local record id.
	ID string
	// To is the codec-validated destination address.
	To string
	// SelfAddress is this wallet's own address.
	SelfAddress string
	AmountMinor int64
	// Payload holds the signed transaction bytes when signing context is
	// already available.
	Payload []byte
}

// Submit records an outgoing transfer and, when the node is online and the
// payload is signed, attempts delivery immediately. Offline submissions are
// queued for the next connectivity-restored drain.
func (o *Orchestrator) Submit(ctx context.Context, params SubmitParams) (ledger.Record, error) {
	if !address.Valid(params.To, o.prefix) {
		return ledger.Record{}, fmt.Errorf("%w: %q", ErrInvalidDestination, params.To)
	}

	status := ledger.StatusQueued
	if len(params.Payload) == 0 {
		// No signing context yet; the drain will not retry it until a payload
		// is attached.
		status = ledger.StatusPending
	}

	rec, err := o.ledger.Create(ctx, ledger.CreateParams{
		ID:           params.ID,
		Direction:    ledger.DirectionOutgoing,
		Counterparty: params.To,
		SelfAddress:  params.SelfAddress,
		AmountMinor:  params.AmountMinor,
		Status:       status,
		Payload:      params.Payload,
	})
	if err != nil {
		return ledger.Record{}, err
	}

	if !o.online() || len(params.Payload) == 0 {
		o.log.Info("transfer queued for later delivery",
			zap.String("id", rec.ID),
			zap.String("status", string(rec.Status)))
		return rec, nil
	}
	return o.Deliver(ctx, rec)
}

// Deliver performs one delivery attempt for an outgoing record: local peer
// channel first when available, network broadcast as fallback. Every outcome
// is written through the ledger before Deliver returns.
func (o *Orchestrator) Deliver(ctx context.Context, rec ledger.Record) (ledger.Record, error) {
	if !address.Valid(rec.Counterparty, o.prefix) {
		return rec, fmt.Errorf("%w: %q", ErrInvalidDestination, rec.Counterparty)
	}
	if len(rec.Payload) == 0 {
		return rec, fmt.Errorf("%w: record %s", ErrMissingPayload, rec.ID)
	}

	rec, err := o.ledger.UpdateStatus(ctx, rec.ID, ledger.StatusUpdate{Status: ledger.StatusBroadcasting})
	if err != nil {
		return rec, err
	}

	if o.peer != nil && o.peer.Available() {
		if rec, ok := o.deliverPeer(ctx, rec); ok {
			return rec, nil
		}
		// Fallback is automatic; the primary failure is not user-visible on
		// its own.
	}
	return o.deliverNetwork(ctx, rec)
}

func (o *Orchestrator) deliverPeer(ctx context.Context, rec ledger.Record) (ledger.Record, bool) {
	env := Envelope{
		Type:   EnvelopeType,
		ID:     rec.ID,
		From:   rec.SelfAddress,
		To:     rec.Counterparty,
		Amount: amount.ToDisplay(rec.AmountMinor),
		Raw:    hex.EncodeToString(rec.Payload),
	}

	attemptCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if err := o.peer.Send(attemptCtx, env); err != nil {
		o.log.Debug("local peer delivery failed, falling back to network",
			zap.String("id", rec.ID),
			zap.Error(err))
		return rec, false
	}

	// The peer channel assigns no identifier; bind the one computed from the
	// payload so later confirmations can find the record.
	updated, err := o.ledger.UpdateStatus(ctx, rec.ID, ledger.StatusUpdate{
		Status:    ledger.StatusBroadcasted,
		Channel:   ledger.ChannelLocalPeer,
		NetworkID: txid.Compute(rec.Payload),
	})
	if err != nil {
		o.log.Error("peer delivery succeeded but ledger write failed",
			zap.String("id", rec.ID),
			zap.Error(err))
		return rec, false
	}

	o.log.Info("payload delivered over local peer channel", zap.String("id", updated.ID))
	return updated, true
}

func (o *Orchestrator) deliverNetwork(ctx context.Context, rec ledger.Record) (ledger.Record, error) {
	networkID, sendErr := o.broadcast(ctx, rec.Payload)
	if sendErr != nil {
		failed, err := o.ledger.UpdateStatus(ctx, rec.ID, ledger.StatusUpdate{
			Status: ledger.StatusFailed,
			Reason: sendErr.Error(),
		})
		if err != nil {
			// The delivery outcome is unknown, not failed; surface the
			// storage condition instead.
			return rec, err
		}
		return failed, sendErr
	}

	upd := ledger.StatusUpdate{
		Status:  ledger.StatusBroadcasted,
		Channel: ledger.ChannelNetwork,
	}
	if rec.NetworkID == "" {
		upd.NetworkID = networkID
	} else if rec.NetworkID != networkID {
		o.log.Warn("network assigned a different identifier than recorded",
			zap.String("id", rec.ID),
			zap.String("recorded", rec.NetworkID),
			zap.String("assigned", networkID))
	}

	updated, err := o.ledger.UpdateStatus(ctx, rec.ID, upd)
	if err != nil {
		return rec, err
	}

	o.log.Info("payload broadcast to network",
		zap.String("id", updated.ID),
		zap.String("network_id", updated.NetworkID))
	return updated, nil
}

// broadcast runs one bounded network submission and normalizes its failures
// to ErrTransportFailure.
func (o *Orchestrator) broadcast(ctx context.Context, payload []byte) (string, error) {
	if o.net == nil {
		return "", fmt.Errorf("%w: no network transport configured", ErrTransportFailure)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	networkID, err := o.net.BroadcastRaw(attemptCtx, hex.EncodeToString(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	if networkID == "" {
		return "", fmt.Errorf("%w: broadcast response carried no identifier", ErrTransportFailure)
	}
	return networkID, nil
}

// HandleInbound processes a relayed payload received over the local peer
// channel. Replays of the same signed bytes are detected through the computed
// network identifier and ignored.
func (o *Orchestrator) HandleInbound(ctx context.Context, raw []byte) error {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return err
	}
	if _, _, err := address.Decode(env.From); err != nil {
		return fmt.Errorf("%w: from address: %v", ErrMalformedPayload, err)
	}
	if _, _, err := address.Decode(env.To); err != nil {
		return fmt.Errorf("%w: to address: %v", ErrMalformedPayload, err)
	}

	payload, err := env.RawBytes()
	if err != nil {
		return err
	}
	networkID := txid.Compute(payload)

	if _, err := o.ledger.GetByNetworkID(ctx, networkID); err == nil {
		o.log.Info("duplicate relayed payload ignored",
			zap.String("network_id", networkID),
			zap.String("correlation_id", env.ID))
		return nil
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return err
	}

	amountMinor, err := amount.FromDisplay(env.Amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	rec, err := o.ledger.Create(ctx, ledger.CreateParams{
		Direction:    ledger.DirectionIncoming,
		Counterparty: env.From,
		SelfAddress:  env.To,
		AmountMinor:  amountMinor,
		Status:       ledger.StatusPending,
		Payload:      payload,
		NetworkID:    networkID,
		Channel:      ledger.ChannelImported,
	})
	if err != nil {
		return err
	}

	o.log.Info("relayed payload accepted",
		zap.String("id", rec.ID),
		zap.String("network_id", networkID),
		zap.String("correlation_id", env.ID))

	if !o.online() {
		// Left pending; the next connectivity-restored drain rebroadcasts it.
		return nil
	}
	if _, err := o.Rebroadcast(ctx, rec); err != nil {
		// The record is persisted either way; rebroadcast failure is its own
		// ledger outcome, not a handler error.
		o.log.Warn("inbound rebroadcast failed",
			zap.String("id", rec.ID),
			zap.Error(err))
	}
	return nil
}

// Rebroadcast pushes an incoming record's payload to the network on the
// counterpart's behalf.
func (o *Orchestrator) Rebroadcast(ctx context.Context, rec ledger.Record) (ledger.Record, error) {
	if len(rec.Payload) == 0 {
		return rec, fmt.Errorf("%w: record %s", ErrMissingPayload, rec.ID)
	}

	rec, err := o.ledger.UpdateStatus(ctx, rec.ID, ledger.StatusUpdate{Status: ledger.StatusBroadcasting})
	if err != nil {
		return rec, err
	}
	return o.deliverNetwork(ctx, rec)
}
