package ledger

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no record matches the given key.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrDuplicateID signals an insert with an id that already exists.
	ErrDuplicateID = errors.New("ledger: duplicate record id")
	// ErrDuplicateNetworkID signals an insert or update that would bind a
	// network id already held by another record.
	ErrDuplicateNetworkID = errors.New("ledger: duplicate network id")
	// ErrStorageUnavailable wraps persistence-layer failures. Callers must
	// treat it as "outcome unknown, retry later", never as a failed delivery.
	ErrStorageUnavailable = errors.New("ledger: storage unavailable")
)

// Store is the persistence contract behind the ledger service. Implementations
// assign Seq on insert and preserve it on update; all other fields are written
// as given. The service serializes read-modify-write sequences, so stores only
// need per-call atomicity.
type Store interface {
	// Insert persists a new record. Fails with ErrDuplicateID if the id is
	// taken and ErrDuplicateNetworkID if the network id is.
	Insert(ctx context.Context, rec Record) (Record, error)
	// Get loads a record by its local id.
	Get(ctx context.Context, id string) (Record, error)
	// GetByNetworkID loads a record through the network-id index.
	GetByNetworkID(ctx context.Context, networkID string) (Record, error)
	// Update overwrites an existing record. Fails with ErrNotFound if the id
	// is unknown.
	Update(ctx context.Context, rec Record) error
	// ListPending returns every record in a non-terminal status, in creation
	// order.
	ListPending(ctx context.Context) ([]Record, error)
	// List returns every record, in creation order.
	List(ctx context.Context) ([]Record, error)
	// Clear removes every record. Irreversible.
	Clear(ctx context.Context) error
}
