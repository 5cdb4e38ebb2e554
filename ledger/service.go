package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"driftpay/txid"
)

// Service applies the lifecycle rules on top of a Store and publishes a
// change feed. All read-modify-write sequences run under a single mutex, so
// concurrent updates to the same record cannot lose writes.
type Service struct {
	store Store
	log   *zap.Logger
	subs  subscribers

	mu          sync.Mutex
	idGenerator func() string
	now         func() time.Time
}

// NewService builds a ledger service over the given store.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       store,
		log:         logger,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// WithIDGenerator overrides record id generation, mainly for tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// WithClock overrides the time source, mainly for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateParams describes a record at its entry point. ID may be left empty to
// have one assigned.
type CreateParams struct {
	ID           string
	Direction    Direction
	Counterparty string
	SelfAddress  string
	AmountMinor  int64
	Status       Status
	Payload      []byte
	NetworkID    string
	Channel      Channel
}

// Create persists a new record with its initial history entry.
func (s *Service) Create(ctx context.Context, params CreateParams) (Record, error) {
	switch params.Direction {
	case DirectionOutgoing, DirectionIncoming:
	default:
		return Record{}, fmt.Errorf("ledger: unknown direction %q", params.Direction)
	}
	if !params.Status.Known() {
		return Record{}, fmt.Errorf("ledger: unknown status %q", params.Status)
	}
	if params.AmountMinor < 0 {
		return Record{}, fmt.Errorf("ledger: negative amount %d", params.AmountMinor)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := params.ID
	if id == "" {
		id = s.idGenerator()
	}
	now := s.now().UTC()

	rec := Record{
		ID:           id,
		Direction:    params.Direction,
		Counterparty: params.Counterparty,
		SelfAddress:  params.SelfAddress,
		AmountMinor:  params.AmountMinor,
		Status:       params.Status,
		Payload:      params.Payload,
		NetworkID:    params.NetworkID,
		Channel:      params.Channel,
		History:      []HistoryEntry{{Status: params.Status, Timestamp: now}},
		CreatedAt:    now,
		LastUpdated:  now,
	}

	stored, err := s.store.Insert(ctx, rec)
	if err != nil {
		return Record{}, err
	}

	s.log.Debug("ledger record created",
		zap.String("id", stored.ID),
		zap.String("direction", string(stored.Direction)),
		zap.String("status", string(stored.Status)))
	s.publish(Event{
		RecordID:  stored.ID,
		Status:    stored.Status,
		Terminal:  stored.Status.Terminal(),
		NetworkID: stored.NetworkID,
		At:        now,
	})
	return stored, nil
}

// StatusUpdate carries the changes applied by UpdateStatus and
// UpdateByNetworkID. A zero Status leaves the state machine untouched and
// only writes auxiliary fields.
type StatusUpdate struct {
	Status Status
	// Reason is recorded on the appended history entry.
	Reason string
	// NetworkID binds the transport-assigned identifier. Once a record holds
	// one it cannot change, except through Evidence.
	NetworkID string
	Channel   Channel
	Payload   []byte
	// Confirmations, when non-nil, replaces the confirmation count. A changed
	// count refreshes LastUpdated even when the status stays put.
	Confirmations *int
	// Evidence authorizes the failed -> broadcasted supersede: it must equal
	// the identifier computed from the record's payload.
	Evidence string
}

// UpdateStatus applies a transition to the record with the given local id.
func (s *Service) UpdateStatus(ctx context.Context, id string, upd StatusUpdate) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	return s.apply(ctx, rec, upd)
}

// UpdateByNetworkID applies a transition to the record bound to the given
// network identifier, used when an inbound confirmation references the
// chain-level id rather than the local one.
func (s *Service) UpdateByNetworkID(ctx context.Context, networkID string, upd StatusUpdate) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.store.GetByNetworkID(ctx, networkID)
	if err != nil {
		return Record{}, err
	}
	return s.apply(ctx, rec, upd)
}

// apply mutates rec per upd and persists it. Callers hold s.mu.
func (s *Service) apply(ctx context.Context, rec Record, upd StatusUpdate) (Record, error) {
	prev := rec.Status
	now := s.now().UTC()
	statusChanged := upd.Status != "" && upd.Status != rec.Status
	superseding := statusChanged && prev == StatusFailed && upd.Status == StatusBroadcasted

	if statusChanged {
		if !ValidTransition(rec.Status, upd.Status) {
			return Record{}, fmt.Errorf("ledger: invalid transition %s -> %s for record %s", rec.Status, upd.Status, rec.ID)
		}
		if superseding {
			if err := verifySupersedeEvidence(rec, upd); err != nil {
				return Record{}, err
			}
		}
		rec.Status = upd.Status
		rec.History = append(rec.History, HistoryEntry{
			Status:    upd.Status,
			Timestamp: now,
			Reason:    upd.Reason,
		})
	}

	if upd.NetworkID != "" && upd.NetworkID != rec.NetworkID {
		if rec.NetworkID != "" && !superseding {
			return Record{}, fmt.Errorf("ledger: network id of record %s is already %s", rec.ID, rec.NetworkID)
		}
		rec.NetworkID = upd.NetworkID
	}
	if upd.Channel != "" {
		rec.Channel = upd.Channel
	}
	if upd.Payload != nil {
		rec.Payload = upd.Payload
	}
	if upd.Confirmations != nil {
		rec.Confirmations = *upd.Confirmations
	}
	rec.LastUpdated = now

	if err := s.store.Update(ctx, rec); err != nil {
		return Record{}, err
	}

	if statusChanged {
		s.log.Info("ledger status transition",
			zap.String("id", rec.ID),
			zap.String("from", string(prev)),
			zap.String("to", string(rec.Status)),
			zap.String("reason", upd.Reason))
		s.publish(Event{
			RecordID:  rec.ID,
			Previous:  prev,
			Status:    rec.Status,
			Terminal:  rec.Status.Terminal(),
			NetworkID: rec.NetworkID,
			At:        now,
		})
	}
	return rec, nil
}

// verifySupersedeEvidence gates the failed -> broadcasted edge: the caller
// must present the identifier recomputed from the record's own payload.
func verifySupersedeEvidence(rec Record, upd StatusUpdate) error {
	if upd.Evidence == "" {
		return fmt.Errorf("ledger: superseding failed record %s requires evidence", rec.ID)
	}
	if len(rec.Payload) == 0 {
		return fmt.Errorf("ledger: record %s has no payload to verify evidence against", rec.ID)
	}
	if computed := txid.Compute(rec.Payload); upd.Evidence != computed {
		return fmt.Errorf("ledger: evidence %s does not match payload identifier %s", upd.Evidence, computed)
	}
	return nil
}

// Get loads one record by local id.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.store.Get(ctx, id)
}

// GetByNetworkID loads one record through the network-id index.
func (s *Service) GetByNetworkID(ctx context.Context, networkID string) (Record, error) {
	return s.store.GetByNetworkID(ctx, networkID)
}

// ListPending returns all non-terminal records in creation order.
func (s *Service) ListPending(ctx context.Context) ([]Record, error) {
	return s.store.ListPending(ctx)
}

// List returns every record in creation order.
func (s *Service) List(ctx context.Context) ([]Record, error) {
	return s.store.List(ctx)
}

// Clear wipes the entire ledger. Only an explicit user action should reach
// this.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	s.log.Warn("ledger cleared")
	return nil
}
