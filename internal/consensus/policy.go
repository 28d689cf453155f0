// Package consensus forces replicated executions of a pipeline step to agree
// on an externally observed value before anything downstream may act on it.
package consensus

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrDivergence is returned when observations disagree under the policy.
	ErrDivergence = errors.New("consensus: observations diverged")
	// ErrObservation is returned when a replica failed to produce a value.
	ErrObservation = errors.New("consensus: observation failed")
	// ErrTimeout is returned when not enough replicas reported in time.
	ErrTimeout = errors.New("consensus: timed out waiting for observations")
)

// Policy folds the encoded observations of one step into the agreed value.
type Policy interface {
	Name() string
	Aggregate(observations [][]byte) ([]byte, error)
}

// Identical accepts only when every observation is byte-identical.
type Identical struct{}

func (Identical) Name() string { return "identical" }

func (Identical) Aggregate(observations [][]byte) ([]byte, error) {
	if len(observations) == 0 {
		return nil, fmt.Errorf("%w: no observations", ErrObservation)
	}
	first := observations[0]
	for i, o := range observations[1:] {
		if !bytes.Equal(first, o) {
			return nil, fmt.Errorf("%w: replica %d differs from replica 0", ErrDivergence, i+1)
		}
	}
	return first, nil
}

// Quorum accepts the value reported by at least Min observations.
type Quorum struct {
	Min int
}

func (q Quorum) Name() string { return fmt.Sprintf("quorum(%d)", q.Min) }

func (q Quorum) Aggregate(observations [][]byte) ([]byte, error) {
	if len(observations) == 0 {
		return nil, fmt.Errorf("%w: no observations", ErrObservation)
	}
	need := q.Min
	if need <= 0 {
		need = len(observations)/2 + 1
	}
	counts := make(map[string]int, len(observations))
	for _, o := range observations {
		counts[string(o)]++
	}
	// Iterate in observation order so ties resolve the same way everywhere.
	for _, o := range observations {
		if counts[string(o)] >= need {
			return o, nil
		}
	}
	return nil, fmt.Errorf("%w: no value reached %d of %d", ErrDivergence, need, len(observations))
}
