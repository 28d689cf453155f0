package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Attempt kinds.
const (
	AttemptCreation   = "creation"
	AttemptSettlement = "settlement"
	AttemptSession    = "session"
)

// Attempt is one submission outcome recorded by a replica.
type Attempt struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Key       string    `json:"key"`
	TriggerID string    `json:"trigger_id"`
	Status    string    `json:"status"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AttemptStore is the submission ledger. Succeeded is consulted for work
// whose finalized state is not readable on chain (sessions).
type AttemptStore interface {
	Record(ctx context.Context, a Attempt) error
	Succeeded(ctx context.Context, kind, key string) (bool, error)
	List(ctx context.Context, opts ListOpts) ([]Attempt, error)
}
