package workflow

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// Sink receives pipeline events. Emit must not block the pipeline on a
// slow consumer and never fails the run.
type Sink interface {
	Emit(ctx context.Context, ev domain.PipelineEvent)
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, domain.PipelineEvent) {}

// MultiSink forwards each event to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, ev domain.PipelineEvent) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}

// BusSink publishes events on a signal bus channel and appends them to a
// durable stream.
type BusSink struct {
	Bus     domain.SignalBus
	Channel string
	Stream  string
	Logger  *slog.Logger
}

func (b BusSink) Emit(ctx context.Context, ev domain.PipelineEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if b.Channel != "" {
		if err := b.Bus.Publish(ctx, b.Channel, payload); err != nil {
			b.warn(ctx, "publish event", err)
		}
	}
	if b.Stream != "" {
		if err := b.Bus.StreamAppend(ctx, b.Stream, payload); err != nil {
			b.warn(ctx, "append event", err)
		}
	}
}

func (b BusSink) warn(ctx context.Context, what string, err error) {
	if b.Logger != nil {
		b.Logger.WarnContext(ctx, what+" failed", slog.String("error", err.Error()))
	}
}

// AuditSink writes every event to the audit log.
type AuditSink struct {
	Store  domain.AuditStore
	Logger *slog.Logger
}

func (a AuditSink) Emit(ctx context.Context, ev domain.PipelineEvent) {
	detail := map[string]any{
		"trigger_id": ev.TriggerID,
		"status":     ev.Status,
	}
	if ev.Key != "" {
		detail["key"] = ev.Key
	}
	if ev.TxHash != "" {
		detail["tx_hash"] = ev.TxHash
	}
	if ev.Message != "" {
		detail["message"] = ev.Message
	}
	for k, v := range ev.Detail {
		detail[k] = v
	}
	if err := a.Store.Log(ctx, ev.Type, detail); err != nil && a.Logger != nil {
		a.Logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}
