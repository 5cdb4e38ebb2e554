package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the ledger in PostgreSQL for server-side deployments
// of the relay, behind the same Store contract as the embedded store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the ledger schema. Statements are idempotent, so repeated
// startup runs are safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
CREATE TABLE IF NOT EXISTS transactions (
    id            TEXT PRIMARY KEY,
    seq           BIGSERIAL,
    direction     TEXT        NOT NULL,
    counterparty  TEXT        NOT NULL,
    self_address  TEXT        NOT NULL,
    amount_minor  BIGINT      NOT NULL,
    status        TEXT        NOT NULL,
    payload       BYTEA,
    network_id    TEXT        NOT NULL DEFAULT '',
    channel       TEXT        NOT NULL DEFAULT '',
    confirmations INT         NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL,
    last_updated  TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS transactions_network_id_key
    ON transactions (network_id) WHERE network_id <> '';

CREATE TABLE IF NOT EXISTS transaction_history (
    id             BIGSERIAL PRIMARY KEY,
    transaction_id TEXT        NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
    status         TEXT        NOT NULL,
    reason         TEXT        NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS transaction_history_tx_idx
    ON transaction_history (transaction_id, id);
`
	if _, err := pool.Exec(ctx, schema); err != nil {
		return storageErr("apply schema", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
        INSERT INTO transactions
            (id, direction, counterparty, self_address, amount_minor, status,
             payload, network_id, channel, confirmations, created_at, last_updated)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        RETURNING seq
    `
	err = tx.QueryRow(ctx, insertSQL,
		rec.ID, rec.Direction, rec.Counterparty, rec.SelfAddress, rec.AmountMinor,
		rec.Status, rec.Payload, rec.NetworkID, rec.Channel, rec.Confirmations,
		rec.CreatedAt, rec.LastUpdated,
	).Scan(&rec.Seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "transactions_network_id_key" {
				return Record{}, fmt.Errorf("%w: %s", ErrDuplicateNetworkID, rec.NetworkID)
			}
			return Record{}, fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
		}
		return Record{}, storageErr("insert record", err)
	}

	if err := insertHistoryTail(ctx, tx, rec.ID, rec.History, 0); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, storageErr("commit insert", err)
	}
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	return s.getBy(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) GetByNetworkID(ctx context.Context, networkID string) (Record, error) {
	if networkID == "" {
		return Record{}, fmt.Errorf("%w: empty network id", ErrNotFound)
	}
	return s.getBy(ctx, `WHERE network_id = $1`, networkID)
}

func (s *PostgresStore) getBy(ctx context.Context, where string, arg any) (Record, error) {
	query := `
        SELECT id, direction, counterparty, self_address, amount_minor, status,
               payload, network_id, channel, confirmations, seq, created_at, last_updated
        FROM transactions ` + where

	var rec Record
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&rec.ID, &rec.Direction, &rec.Counterparty, &rec.SelfAddress, &rec.AmountMinor,
		&rec.Status, &rec.Payload, &rec.NetworkID, &rec.Channel, &rec.Confirmations,
		&rec.Seq, &rec.CreatedAt, &rec.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: %v", ErrNotFound, arg)
		}
		return Record{}, storageErr("select record", err)
	}

	rec.History, err = s.loadHistory(ctx, rec.ID)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *PostgresStore) loadHistory(ctx context.Context, id string) ([]HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT status, reason, created_at
        FROM transaction_history
        WHERE transaction_id = $1
        ORDER BY id
    `, id)
	if err != nil {
		return nil, storageErr("select history", err)
	}
	defer rows.Close()

	var history []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.Status, &h.Reason, &h.Timestamp); err != nil {
			return nil, storageErr("scan history", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate history", err)
	}
	return history, nil
}

func (s *PostgresStore) Update(ctx context.Context, rec Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	const updateSQL = `
        UPDATE transactions
        SET status=$2, payload=$3, network_id=$4, channel=$5, confirmations=$6,
            last_updated=$7
        WHERE id=$1
    `
	tag, err := tx.Exec(ctx, updateSQL,
		rec.ID, rec.Status, rec.Payload, rec.NetworkID, rec.Channel,
		rec.Confirmations, rec.LastUpdated,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateNetworkID, rec.NetworkID)
		}
		return storageErr("update record", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}

	// History is append-only: persist only the entries beyond what is stored.
	var existing int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM transaction_history WHERE transaction_id = $1`, rec.ID).Scan(&existing); err != nil {
		return storageErr("count history", err)
	}
	if err := insertHistoryTail(ctx, tx, rec.ID, rec.History, existing); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit update", err)
	}
	return nil
}

func insertHistoryTail(ctx context.Context, tx pgx.Tx, id string, history []HistoryEntry, from int) error {
	for _, h := range history[min(from, len(history)):] {
		_, err := tx.Exec(ctx, `
            INSERT INTO transaction_history (transaction_id, status, reason, created_at)
            VALUES ($1,$2,$3,$4)
        `, id, h.Status, h.Reason, h.Timestamp)
		if err != nil {
			return storageErr("insert history", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListPending(ctx context.Context) ([]Record, error) {
	return s.list(ctx, `WHERE status NOT IN ('confirmed','failed','cancelled')`)
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	return s.list(ctx, ``)
}

func (s *PostgresStore) list(ctx context.Context, where string) ([]Record, error) {
	query := `
        SELECT id, direction, counterparty, self_address, amount_minor, status,
               payload, network_id, channel, confirmations, seq, created_at, last_updated
        FROM transactions ` + where + `
        ORDER BY seq
    `
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, storageErr("list records", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.Direction, &rec.Counterparty, &rec.SelfAddress, &rec.AmountMinor,
			&rec.Status, &rec.Payload, &rec.NetworkID, &rec.Channel, &rec.Confirmations,
			&rec.Seq, &rec.CreatedAt, &rec.LastUpdated,
		); err != nil {
			return nil, storageErr("scan record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate records", err)
	}

	for i := range out {
		out[i].History, err = s.loadHistory(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE transaction_history, transactions`); err != nil {
		return storageErr("truncate", err)
	}
	return nil
}
