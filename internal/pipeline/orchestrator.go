package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner is a long-lived loop that returns when ctx is cancelled.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc struct {
	Label string
	Fn    func(ctx context.Context) error
}

func (r RunnerFunc) Name() string                  { return r.Label }
func (r RunnerFunc) Run(ctx context.Context) error { return r.Fn(ctx) }

// Orchestrator runs every Runner concurrently. A runner failing for any
// reason other than shutdown cancels the others.
type Orchestrator struct {
	runners []Runner
	logger  *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(logger *slog.Logger, runners ...Runner) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		runners: runners,
		logger:  logger.With(slog.String("component", "orchestrator")),
	}
}

// Add registers another runner. It must be called before Run.
func (o *Orchestrator) Add(r Runner) { o.runners = append(o.runners, r) }

// Names lists the registered runners in registration order.
func (o *Orchestrator) Names() []string {
	names := make([]string, len(o.runners))
	for i, r := range o.runners {
		names[i] = r.Name()
	}
	return names
}

// Run blocks until every runner has returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "pipeline orchestrator starting", slog.Any("runners", o.Names()))

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range o.runners {
		g.Go(func() error {
			o.logger.InfoContext(ctx, "starting runner", slog.String("runner", r.Name()))
			err := r.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			if err == nil {
				o.logger.InfoContext(ctx, "runner finished", slog.String("runner", r.Name()))
				return nil
			}
			return fmt.Errorf("%s: %w", r.Name(), err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
