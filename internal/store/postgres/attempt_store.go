package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// AttemptStore implements domain.AttemptStore on submission_attempts.
type AttemptStore struct {
	db DB
}

// NewAttemptStore creates an AttemptStore.
func NewAttemptStore(db DB) *AttemptStore {
	return &AttemptStore{db: db}
}

// Record inserts a. A second success for the same kind and key is ignored.
func (s *AttemptStore) Record(ctx context.Context, a domain.Attempt) error {
	const q = `
		INSERT INTO submission_attempts (kind, key, trigger_id, status, tx_hash, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`
	if _, err := s.db.Exec(ctx, q, a.Kind, a.Key, a.TriggerID, a.Status, a.TxHash, a.Reason); err != nil {
		return fmt.Errorf("postgres: record attempt %s/%s: %w", a.Kind, a.Key, err)
	}
	return nil
}

// Succeeded reports whether kind/key has a recorded success.
func (s *AttemptStore) Succeeded(ctx context.Context, kind, key string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM submission_attempts WHERE kind = $1 AND key = $2 AND status = 'success')`,
		kind, key,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: check attempt %s/%s: %w", kind, key, err)
	}
	return ok, nil
}

// List returns attempts newest first.
func (s *AttemptStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Attempt, error) {
	query, args := listClause(
		`SELECT id, kind, key, trigger_id, status, tx_hash, reason, created_at FROM submission_attempts`, opts)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		if err := rows.Scan(&a.ID, &a.Kind, &a.Key, &a.TriggerID, &a.Status, &a.TxHash, &a.Reason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list attempts: %w", err)
	}
	return out, nil
}

var _ domain.AttemptStore = (*AttemptStore)(nil)
