package settlement

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// MemoryLedger is an in-process AttemptStore for deployments without
// Postgres. Entries live as long as the process.
type MemoryLedger struct {
	mu       sync.RWMutex
	attempts []domain.Attempt
	success  map[string]bool
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{success: make(map[string]bool)}
}

func (l *MemoryLedger) Record(_ context.Context, a domain.Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a.ID = int64(len(l.attempts) + 1)
	l.attempts = append(l.attempts, a)
	if a.Status == string(StatusSuccess) {
		l.success[a.Kind+"/"+a.Key] = true
	}
	return nil
}

func (l *MemoryLedger) Succeeded(_ context.Context, kind, key string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.success[kind+"/"+key], nil
}

// List returns attempts newest first.
func (l *MemoryLedger) List(_ context.Context, opts domain.ListOpts) ([]domain.Attempt, error) {
	l.mu.RLock()
	out := make([]domain.Attempt, 0, len(l.attempts))
	for _, a := range l.attempts {
		if opts.Since != nil && a.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && a.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, a)
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

var _ domain.AttemptStore = (*MemoryLedger)(nil)
