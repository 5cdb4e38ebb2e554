package db

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// OpenBadger opens the on-device key-value store at path, creating it when
// absent. Badger's own logging is silenced; the caller logs what matters.
func OpenBadger(path string) (*badger.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db: empty badger path")
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	database, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("db: open badger at %s: %w", path, err)
	}
	return database, nil
}
