package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/retropick/internal/config"
	"github.com/alanyoungcy/retropick/internal/domain"
	"github.com/alanyoungcy/retropick/internal/pipeline"
	"github.com/alanyoungcy/retropick/internal/server"
	"github.com/alanyoungcy/retropick/internal/server/handler"
	"github.com/alanyoungcy/retropick/internal/server/ws"
	"github.com/alanyoungcy/retropick/internal/workflow"
)

// Job names, also used in cron trigger IDs.
const (
	jobCreate   = "create"
	jobSessions = "sessions"
)

// cacheSweep is how often the in-process response cache drops expired
// entries.
const cacheSweep = time.Minute

// orchestrator assembles the runners of the configured mode:
//
//	full    cron jobs, log watcher and HTTP server
//	cron    cron jobs only
//	watch   SettlementRequested log watcher only
//	server  HTTP trigger API only
//
// The notifier runs in every mode, as does the response cache janitor when
// Redis is disabled.
func (a *App) orchestrator(deps *Dependencies) (*pipeline.Orchestrator, error) {
	mode := strings.ToLower(a.cfg.Mode)
	orch := pipeline.NewOrchestrator(a.logger)
	orch.Add(pipeline.RunnerFunc{Label: "notifier", Fn: deps.Notifier.Run})
	if deps.MemoryCache != nil {
		orch.Add(pipeline.RunnerFunc{Label: "cache_janitor", Fn: func(ctx context.Context) error {
			return deps.MemoryCache.Run(ctx, cacheSweep)
		}})
	}

	if mode == "full" || mode == "cron" {
		scheds, err := a.schedulers(deps)
		if err != nil {
			return nil, err
		}
		for _, s := range scheds {
			orch.Add(s)
		}
	}
	if mode == "full" || mode == "watch" {
		orch.Add(pipeline.RunnerFunc{Label: "log_watcher", Fn: func(ctx context.Context) error {
			return deps.Watcher.Run(ctx, func(ctx context.Context, req domain.SettlementRequest, asOf time.Time) error {
				deps.Workflow.OnSettlementRequested(ctx, workflow.LogTrigger(req, asOf), req)
				return nil
			})
		}})
	}
	if mode == "server" || (mode == "full" && a.cfg.Server.Enabled) {
		srv, hub := a.httpServer(deps)
		orch.Add(pipeline.RunnerFunc{Label: "http_server", Fn: srv.Run})
		if hub != nil {
			orch.Add(pipeline.RunnerFunc{Label: "ws_hub", Fn: hub.Run})
		}
	}
	return orch, nil
}

// schedulers builds one Scheduler per configured cron expression. Without
// a shared consensus board, a Redis lock keeps a firing to one replica.
func (a *App) schedulers(deps *Dependencies) ([]*pipeline.Scheduler, error) {
	var opts []pipeline.SchedulerOption
	if deps.LockManager != nil && !strings.EqualFold(a.cfg.Consensus.Mode, "board") {
		opts = append(opts, pipeline.WithExclusiveLock(deps.LockManager, a.cfg.Workflow.LockTTL.Duration))
	}
	if a.now != nil {
		opts = append(opts, pipeline.WithClock(a.now))
	}

	wf := deps.Workflow
	jobs := []pipeline.Job{
		{Name: jobCreate, Cron: a.cfg.Workflow.CreationCron, Run: func(ctx context.Context, at time.Time) string {
			return wf.OnSchedule(ctx, workflow.CronTrigger(jobCreate, at))
		}},
		{Name: jobSessions, Cron: a.cfg.Workflow.SessionCron, Run: func(ctx context.Context, at time.Time) string {
			return wf.OnSessionSnapshot(ctx, workflow.SessionTrigger(at))
		}},
	}

	var out []*pipeline.Scheduler
	for _, j := range jobs {
		if strings.TrimSpace(j.Cron) == "" {
			continue
		}
		s, err := pipeline.NewScheduler(j, a.logger, opts...)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}

// httpServer builds the trigger API. The WebSocket hub needs the signal bus
// and is nil without Redis.
func (a *App) httpServer(deps *Dependencies) (*server.Server, *ws.Hub) {
	sc := a.cfg.Server

	checks := map[string]handler.Check{}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis.Ping
	}
	if deps.Postgres != nil {
		checks["postgres"] = deps.Postgres.Ping
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3.Health
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		var channels []string
		if sc.EventChannel != "" {
			channels = []string{sc.EventChannel}
		}
		hub = ws.NewHub(deps.SignalBus, ws.Config{
			Channels:  channels,
			Stream:    eventStream,
			ReplicaID: deps.ReplicaID,
		}, a.logger)
	}

	authorized := make([]common.Address, 0, len(sc.AuthorizedKeys))
	for _, k := range sc.AuthorizedKeys {
		authorized = append(authorized, config.Address(k))
	}

	cfg := a.cfg
	srv := server.NewServer(server.Config{
		Port:           sc.Port,
		CORSOrigins:    sc.CORSOrigins,
		APIKey:         sc.APIKey,
		AuthorizedKeys: authorized,
		RateLimit:      sc.RateLimit,
		RateWindow:     sc.RateWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(checks, a.logger),
		Trigger: handler.NewTriggerHandler(deps.Workflow, a.logger),
		Reports: handler.NewReportsHandler(deps.Blobs, deps.Ledger, a.logger),
		Debug: handler.NewDebugHandler(func() any {
			return map[string]any{
				"replica_id": deps.ReplicaID,
				"signer":     deps.Signer.Address().Hex(),
				"config":     config.RedactedConfig(cfg),
			}
		}),
	}, hub, deps.RateLimiter, a.logger)
	return srv, hub
}
