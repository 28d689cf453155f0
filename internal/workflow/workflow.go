// Package workflow holds the trigger handlers. Each handler runs one pipeline
// pass for one trigger and returns the short status text operators see.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/retropick/internal/consensus"
	"github.com/alanyoungcy/retropick/internal/domain"
	"github.com/alanyoungcy/retropick/internal/settlement"
)

// Handler status texts.
const (
	StatusSuccess         = "Success"
	StatusAlreadySettled  = "Market already settled"
	StatusOtherReplica    = "Report transmitted by another replica"
	StatusNoFeeds         = "No feeds"
	StatusNoItems         = "No items"
	StatusNoSessions      = "No sessions"
	StatusEmptyRequest    = "Error: Empty Request"
	StatusQuestionMissing = "Error: Question is required"
	StatusResolveInPast   = "Error: resolveTime must be in the future"
	StatusMissingCreator  = "Missing creatorAddress"
	StatusMissingFactory  = "Missing marketFactoryAddress"
	StatusMissingReceiver = "Missing creReceiverAddress"
	StatusMissingMarket   = "Missing marketAddress"
)

// Config is the shared configuration every handler reads.
type Config struct {
	Creator  common.Address
	Factory  common.Address
	Receiver common.Address
	Market   common.Address
	Feeds    []domain.FeedConfig
	Sessions []domain.SessionRecord
	// HTTPResolveAfter is the resolve horizon of markets created over HTTP
	// when the request does not name one.
	HTTPResolveAfter time.Duration
}

// FeedFetcher turns one feed configuration into candidate items.
type FeedFetcher interface {
	Fetch(ctx context.Context, sc *consensus.Scope, asOf time.Time, fc domain.FeedConfig) ([]domain.FeedItem, error)
}

// Oracle resolves a market question.
type Oracle interface {
	Ask(ctx context.Context, sc *consensus.Scope, question string) (domain.Outcome, error)
}

// Deps are the collaborators of a Workflow. Ledger, Aggregator and Sink are
// optional.
type Deps struct {
	Feeds      FeedFetcher
	Oracle     Oracle
	Reader     domain.MarketReader
	Submitter  *settlement.Submitter
	Ledger     domain.AttemptStore
	Aggregator consensus.Aggregator
	Sink       Sink
}

// Workflow runs the creation, settlement and session pipelines.
type Workflow struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

// New creates a Workflow.
func New(cfg Config, deps Deps, logger *slog.Logger) *Workflow {
	if cfg.HTTPResolveAfter <= 0 {
		cfg.HTTPResolveAfter = 24 * time.Hour
	}
	if deps.Sink == nil {
		deps.Sink = NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "workflow")),
	}
}

// Config returns the configuration the workflow was built with.
func (w *Workflow) Config() Config { return w.cfg }

func (w *Workflow) scope(trig domain.Trigger) *consensus.Scope {
	return consensus.NewScope(w.deps.Aggregator, trig.ID)
}

func (w *Workflow) emit(ctx context.Context, trig domain.Trigger, typ string, res settlement.Result) {
	ev := domain.PipelineEvent{
		Type:      typ,
		TriggerID: trig.ID,
		Status:    string(res.Status),
		Key:       res.Key,
		Message:   res.Reason,
		At:        trig.AsOf,
	}
	switch res.Status {
	case settlement.StatusSkipped:
		ev.Type = domain.EventSubmissionSkipped
	case settlement.StatusFailed:
		ev.Type = domain.EventSubmissionFailed
	}
	if res.TxHash != (common.Hash{}) {
		ev.TxHash = res.TxHash.Hex()
	}
	w.deps.Sink.Emit(ctx, ev)
}

func (w *Workflow) finish(ctx context.Context, trig domain.Trigger, status string) string {
	w.logger.InfoContext(ctx, "run completed",
		slog.String("trigger_id", trig.ID),
		slog.String("trigger_kind", string(trig.Kind)),
		slog.String("status", status),
	)
	w.deps.Sink.Emit(ctx, domain.PipelineEvent{
		Type:      domain.EventRunCompleted,
		TriggerID: trig.ID,
		Status:    status,
		Detail:    map[string]string{"kind": string(trig.Kind)},
		At:        trig.AsOf,
	})
	return status
}

func countSuccess(results []settlement.Result) int {
	n := 0
	for _, r := range results {
		if r.Status == settlement.StatusSuccess {
			n++
		}
	}
	return n
}

func errorStatus(reason string) string {
	return fmt.Sprintf("Error: %s", reason)
}
