package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"storepay/crypto"
)

// SQLiteStore persists one row per successfully built purchase: the payment
// reference and the charged amount. This is a side channel for later
// reconciliation; write failures never fail a build.
type SQLiteStore struct {
	db *sql.DB
}

// OrderRecord is a persisted purchase construction.
type OrderRecord struct {
	ID          string
	Reference   string
	AmountUnits uint64
	CreatedAt   time.Time
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS orders (
        id TEXT PRIMARY KEY,
        reference TEXT NOT NULL,
        amount_units INTEGER NOT NULL,
        created_at TIMESTAMP NOT NULL
    );
    CREATE INDEX IF NOT EXISTS orders_reference ON orders (reference);`)
	return err
}

// Record implements checkout.Recorder.
func (s *SQLiteStore) Record(ctx context.Context, reference crypto.PublicKey, amountUnits uint64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (id, reference, amount_units, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), reference.String(), amountUnits, time.Now().UTC(),
	)
	return err
}

// OrdersByReference returns the recorded constructions carrying a reference,
// newest first. References are unique per attempt, so more than one row for
// the same reference indicates a misbehaving caller.
func (s *SQLiteStore) OrdersByReference(ctx context.Context, reference crypto.PublicKey) ([]OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reference, amount_units, created_at FROM orders WHERE reference = ? ORDER BY created_at DESC`,
		reference.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []OrderRecord
	for rows.Next() {
		var rec OrderRecord
		if err := rows.Scan(&rec.ID, &rec.Reference, &rec.AmountUnits, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
