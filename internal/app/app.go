// Package app provides the top-level lifecycle of a retropick replica. It
// wires the chain, oracle, feeds and backing stores together and starts the
// cron jobs, log watcher and HTTP server the configured mode asks for.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/alanyoungcy/retropick/internal/config"
	"github.com/alanyoungcy/retropick/internal/domain"
	"github.com/alanyoungcy/retropick/internal/workflow"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
	now     func() time.Time
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		now:    time.Now,
	}
}

// Run wires all dependencies, starts the runners of the configured mode and
// blocks until the context is cancelled or a runner fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	orch, err := a.orchestrator(deps)
	if err != nil {
		return err
	}
	return orch.Run(ctx)
}

// CreateMarket runs one HTTP-style creation for a JSON body and returns the
// handler status.
func (a *App) CreateMarket(ctx context.Context, body []byte) (string, error) {
	return a.oneShot(ctx, func(ctx context.Context, deps *Dependencies) string {
		return deps.Workflow.OnHTTP(ctx, workflow.HTTPTrigger(body, a.now()), body)
	})
}

// Settle resolves marketID as if its SettlementRequested log had been seen.
func (a *App) Settle(ctx context.Context, marketID *big.Int, question string) (string, error) {
	if marketID == nil || marketID.Sign() < 0 {
		return "", fmt.Errorf("app: invalid market id")
	}
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("app: question is required")
	}
	return a.oneShot(ctx, func(ctx context.Context, deps *Dependencies) string {
		trig := workflow.ManualTrigger("settle-"+marketID.String(), a.now())
		return deps.Workflow.OnSettlementRequested(ctx, trig, domain.SettlementRequest{
			MarketID: marketID,
			Question: question,
		})
	})
}

// FinalizeSessions runs one session snapshot pass.
func (a *App) FinalizeSessions(ctx context.Context) (string, error) {
	return a.oneShot(ctx, func(ctx context.Context, deps *Dependencies) string {
		return deps.Workflow.OnSessionSnapshot(ctx, workflow.SessionTrigger(a.now()))
	})
}

// ExportLedger writes the attempts recorded in [since, until] to object
// storage and returns the object key and row count.
func (a *App) ExportLedger(ctx context.Context, since, until time.Time) (string, int, error) {
	if !until.After(since) {
		return "", 0, fmt.Errorf("app: export window is empty")
	}
	deps, err := a.wire(ctx)
	if err != nil {
		return "", 0, err
	}
	if deps.Exporter == nil {
		return "", 0, fmt.Errorf("app: ledger export: %w: s3 is disabled", domain.ErrMissingConfig)
	}
	path, n, err := deps.Exporter.Export(ctx, since, until)
	if err != nil {
		return "", 0, fmt.Errorf("app: ledger export: %w", err)
	}
	a.logger.InfoContext(ctx, "ledger exported", slog.String("path", path), slog.Int("rows", n))
	return path, n, nil
}

func (a *App) oneShot(ctx context.Context, fn func(context.Context, *Dependencies) string) (string, error) {
	deps, err := a.wire(ctx)
	if err != nil {
		return "", err
	}
	res := fn(ctx, deps)
	deps.Notifier.Flush(ctx)
	return res, nil
}

func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
