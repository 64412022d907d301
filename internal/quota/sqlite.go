package quota

import (
	"context"
	"database/sql"
	"fmt"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps records in the quota table. Update relies on the
// database being opened with immediate transactions so the read already
// holds the write lock.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Update(ctx context.Context, userID string, fn func(*Record) (bool, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning quota transaction: %w", err)
	}
	defer tx.Rollback()

	var r Record
	err = tx.QueryRowContext(ctx,
		`SELECT request_count, period_start_ms FROM quota WHERE user_id = ?`, userID,
	).Scan(&r.Count, &r.PeriodStart)
	if err == sql.ErrNoRows {
		return ErrNoSubscriptionData
	}
	if err != nil {
		return fmt.Errorf("reading quota: %w", err)
	}

	write, err := fn(&r)
	if err != nil || !write {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE quota SET request_count = ?, period_start_ms = ? WHERE user_id = ?`,
		r.Count, r.PeriodStart, userID,
	); err != nil {
		return fmt.Errorf("writing quota: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (Record, error) {
	var r Record
	err := s.db.QueryRowContext(ctx,
		`SELECT request_count, period_start_ms FROM quota WHERE user_id = ?`, userID,
	).Scan(&r.Count, &r.PeriodStart)
	if err == sql.ErrNoRows {
		return Record{}, ErrNoSubscriptionData
	}
	return r, err
}

func (s *SQLiteStore) Create(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO quota (user_id, request_count, period_start_ms) VALUES (?, 0, 0) ON CONFLICT(user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
