package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// StepFunc produces the canonical encoding of one observation.
type StepFunc func(ctx context.Context) ([]byte, error)

// Aggregator runs a step for its replicas and returns the agreed encoding.
// round and step together name the value; every replica must use the same
// names for the same logical observation.
type Aggregator interface {
	Run(ctx context.Context, round, step string, fn StepFunc) ([]byte, error)
}

// Scope binds an aggregator to one trigger round.
type Scope struct {
	agg   Aggregator
	round string
}

// NewScope returns a scope for round. A nil aggregator runs each step once.
func NewScope(agg Aggregator, round string) *Scope {
	if agg == nil {
		agg = Solo{}
	}
	return &Scope{agg: agg, round: round}
}

// Round returns the round identifier the scope was created with.
func (s *Scope) Round() string { return s.round }

// Observe runs fn under the scope's aggregator. Values are compared by their
// JSON encoding, so fn must derive its result only from inputs every replica
// shares.
func Observe[T any](ctx context.Context, sc *Scope, step string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if sc == nil {
		sc = NewScope(nil, "")
	}
	raw, err := sc.agg.Run(ctx, sc.round, step, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, fmt.Errorf("consensus: step %s: %w", step, err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("consensus: step %s: decode agreed value: %w", step, err)
	}
	return out, nil
}

// Solo is the single-replica aggregator.
type Solo struct{}

func (Solo) Run(ctx context.Context, _, _ string, fn StepFunc) ([]byte, error) {
	v, err := fn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrObservation, err)
	}
	return v, nil
}

// LocalAggregator executes each step on Replicas concurrent in-process
// executions and folds them with Policy.
type LocalAggregator struct {
	replicas int
	policy   Policy
	logger   *slog.Logger
}

// NewLocalAggregator creates a LocalAggregator. replicas below one is
// treated as one; a nil policy means Identical.
func NewLocalAggregator(replicas int, policy Policy, logger *slog.Logger) *LocalAggregator {
	if replicas < 1 {
		replicas = 1
	}
	if policy == nil {
		policy = Identical{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalAggregator{
		replicas: replicas,
		policy:   policy,
		logger:   logger.With(slog.String("component", "consensus_local")),
	}
}

func (a *LocalAggregator) Run(ctx context.Context, round, step string, fn StepFunc) ([]byte, error) {
	results := make([][]byte, a.replicas)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < a.replicas; i++ {
		g.Go(func() error {
			v, err := fn(gctx)
			if err != nil {
				return fmt.Errorf("replica %d: %w", i, err)
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrObservation, err)
	}

	agreed, err := a.policy.Aggregate(results)
	if err != nil {
		a.logger.WarnContext(ctx, "aggregation failed",
			slog.String("round", round),
			slog.String("step", step),
			slog.String("policy", a.policy.Name()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return agreed, nil
}
