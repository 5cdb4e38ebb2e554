package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

// Key layout: records under "tx:<id>", the network-id index under
// "net:<network id>" pointing at the local id.
var (
	recordPrefix  = []byte("tx:")
	networkPrefix = []byte("net:")
	seqKey        = []byte("ledger-seq")
)

var recordEnc cbor.EncMode

func init() {
	// Microsecond time keeps history ordering intact across a reload;
	// the default second resolution would collapse adjacent entries.
	em, err := cbor.EncOptions{Time: cbor.TimeUnixMicro, TimeTag: cbor.EncTagRequired}.EncMode()
	if err != nil {
		panic(err)
	}
	recordEnc = em
}

// BadgerStore persists the ledger in an embedded Badger database, the default
// for on-device deployments.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

// NewBadgerStore wraps an open Badger handle. Callers own the handle's
// lifetime; Close releases only the store's sequence.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	seq, err := db.GetSequence(seqKey, 128)
	if err != nil {
		return nil, storageErr("open sequence", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

// Close releases the creation-order sequence.
func (s *BadgerStore) Close() error {
	return s.seq.Release()
}

func (s *BadgerStore) Insert(ctx context.Context, rec Record) (Record, error) {
	n, err := s.seq.Next()
	if err != nil {
		return Record{}, storageErr("next sequence", err)
	}
	rec.Seq = n

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(recordKey(rec.ID)); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return storageErr("probe id", err)
		}

		if rec.NetworkID != "" {
			if _, err := txn.Get(networkKey(rec.NetworkID)); err == nil {
				return fmt.Errorf("%w: %s", ErrDuplicateNetworkID, rec.NetworkID)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return storageErr("probe network id", err)
			}
			if err := txn.Set(networkKey(rec.NetworkID), []byte(rec.ID)); err != nil {
				return storageErr("index network id", err)
			}
		}

		data, err := recordEnc.Marshal(rec)
		if err != nil {
			return fmt.Errorf("ledger: encode record: %w", err)
		}
		if err := txn.Set(recordKey(rec.ID), data); err != nil {
			return storageErr("set record", err)
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *BadgerStore) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *BadgerStore) GetByNetworkID(ctx context.Context, networkID string) (Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(networkKey(networkID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: network id %s", ErrNotFound, networkID)
			}
			return storageErr("get network index", err)
		}
		return item.Value(func(val []byte) error {
			rec, err = getRecord(txn, string(val))
			return err
		})
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *BadgerStore) Update(ctx context.Context, rec Record) error {
	return s.db.Update(func(txn *badger.Txn) error {
		old, err := getRecord(txn, rec.ID)
		if err != nil {
			return err
		}

		// Creation order is owned by the store.
		rec.Seq = old.Seq
		rec.CreatedAt = old.CreatedAt

		if old.NetworkID != rec.NetworkID {
			if old.NetworkID != "" {
				if err := txn.Delete(networkKey(old.NetworkID)); err != nil {
					return storageErr("drop network index", err)
				}
			}
			if rec.NetworkID != "" {
				if _, err := txn.Get(networkKey(rec.NetworkID)); err == nil {
					return fmt.Errorf("%w: %s", ErrDuplicateNetworkID, rec.NetworkID)
				} else if !errors.Is(err, badger.ErrKeyNotFound) {
					return storageErr("probe network id", err)
				}
				if err := txn.Set(networkKey(rec.NetworkID), []byte(rec.ID)); err != nil {
					return storageErr("index network id", err)
				}
			}
		}

		data, err := recordEnc.Marshal(rec)
		if err != nil {
			return fmt.Errorf("ledger: encode record: %w", err)
		}
		if err := txn.Set(recordKey(rec.ID), data); err != nil {
			return storageErr("set record", err)
		}
		return nil
	})
}

func (s *BadgerStore) ListPending(ctx context.Context) ([]Record, error) {
	return s.list(ctx, func(r Record) bool { return !r.Status.Terminal() })
}

func (s *BadgerStore) List(ctx context.Context) ([]Record, error) {
	return s.list(ctx, func(Record) bool { return true })
}

func (s *BadgerStore) list(_ context.Context, keep func(Record) bool) ([]Record, error) {
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec Record
				if err := cbor.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("ledger: decode record: %w", err)
				}
				if keep(rec) {
					out = append(out, rec)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *BadgerStore) Clear(ctx context.Context) error {
	if err := s.db.DropPrefix(recordPrefix, networkPrefix); err != nil {
		return storageErr("drop prefixes", err)
	}
	return nil
}

func getRecord(txn *badger.Txn, id string) (Record, error) {
	item, err := txn.Get(recordKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Record{}, storageErr("get record", err)
	}

	var rec Record
	err = item.Value(func(val []byte) error {
		return cbor.Unmarshal(val, &rec)
	})
	if err != nil {
		return Record{}, fmt.Errorf("ledger: decode record %s: %w", id, err)
	}
	return rec, nil
}

func recordKey(id string) []byte {
	return append(append([]byte{}, recordPrefix...), id...)
}

func networkKey(networkID string) []byte {
	return append(append([]byte{}, networkPrefix...), networkID...)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("ledger: %s: %w", op, errors.Join(ErrStorageUnavailable, err))
}
