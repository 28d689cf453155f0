package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// BoardConfig tunes a BoardAggregator.
type BoardConfig struct {
	Replica  string
	Expected int
	Timeout  time.Duration
	Poll     time.Duration
	TTL      time.Duration
}

// BoardAggregator treats each process as one replica. It posts its own
// observation to a shared board and waits for Expected observations before
// applying the policy.
type BoardAggregator struct {
	board  domain.ObservationBoard
	policy Policy
	cfg    BoardConfig
	logger *slog.Logger
}

// posting is what a replica writes to the board. Failures are posted too so
// peers stop waiting early.
type posting struct {
	Value []byte `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewBoardAggregator creates a BoardAggregator.
func NewBoardAggregator(board domain.ObservationBoard, policy Policy, cfg BoardConfig, logger *slog.Logger) *BoardAggregator {
	if policy == nil {
		policy = Identical{}
	}
	if cfg.Expected < 1 {
		cfg.Expected = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 250 * time.Millisecond
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BoardAggregator{
		board:  board,
		policy: policy,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "consensus_board"), slog.String("replica", cfg.Replica)),
	}
}

func (a *BoardAggregator) Run(ctx context.Context, round, step string, fn StepFunc) ([]byte, error) {
	key := round + "/" + step

	var p posting
	v, obsErr := fn(ctx)
	if obsErr != nil {
		p.Error = obsErr.Error()
	} else {
		p.Value = v
	}
	encoded, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("consensus: encode posting: %w", err)
	}
	if err := a.board.Post(ctx, key, a.cfg.Replica, encoded, a.cfg.TTL); err != nil {
		return nil, fmt.Errorf("consensus: post %s: %w", key, err)
	}
	if obsErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrObservation, obsErr)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	ticker := time.NewTicker(a.cfg.Poll)
	defer ticker.Stop()

	for {
		values, done, err := a.collect(ctx, key)
		if err != nil {
			return nil, err
		}
		if done {
			agreed, err := a.policy.Aggregate(values)
			if err != nil {
				a.logger.WarnContext(ctx, "aggregation failed",
					slog.String("step", key),
					slog.String("policy", a.policy.Name()),
					slog.String("error", err.Error()),
				)
				return nil, err
			}
			return agreed, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// collect returns the values posted so far ordered by replica name, and
// whether enough replicas have reported.
func (a *BoardAggregator) collect(ctx context.Context, key string) ([][]byte, bool, error) {
	posted, err := a.board.Collect(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("consensus: collect %s: %w", key, err)
	}
	replicas := make([]string, 0, len(posted))
	for r := range posted {
		replicas = append(replicas, r)
	}
	sort.Strings(replicas)

	values := make([][]byte, 0, len(replicas))
	for _, r := range replicas {
		var p posting
		if err := json.Unmarshal(posted[r], &p); err != nil {
			return nil, false, fmt.Errorf("%w: replica %s posted garbage", ErrObservation, r)
		}
		if p.Error != "" {
			return nil, false, fmt.Errorf("%w: replica %s: %s", ErrObservation, r, p.Error)
		}
		values = append(values, p.Value)
	}
	return values, len(values) >= a.cfg.Expected, nil
}
