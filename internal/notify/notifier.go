// Package notify forwards pipeline events to operator channels (Telegram,
// Discord) and to an AMQP exchange. Notifications can be filtered by event
// type so operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

const defaultQueue = 64

// Notifier dispatches events to one or more Senders. Emit queues without
// blocking; Run drains the queue.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	queue   chan domain.PipelineEvent
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only events whose type appears in events
// are forwarded; an empty list allows every type.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan domain.PipelineEvent, defaultQueue),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Emit queues ev for delivery. The event is dropped when the queue is full.
func (n *Notifier) Emit(ctx context.Context, ev domain.PipelineEvent) {
	if !n.allowed(ev.Type) || len(n.senders) == 0 {
		return
	}
	select {
	case n.queue <- ev:
	default:
		n.logger.WarnContext(ctx, "notification queue full, dropping event",
			slog.String("event", ev.Type),
			slog.String("trigger_id", ev.TriggerID),
		)
	}
}

// Run delivers queued events until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-n.queue:
			_ = n.dispatch(ctx, Title(ev), Message(ev))
		}
	}
}

// Flush delivers whatever is queued and returns. One-shot commands call it
// before exiting since they never start Run.
func (n *Notifier) Flush(ctx context.Context) {
	for {
		select {
		case ev := <-n.queue:
			_ = n.dispatch(ctx, Title(ev), Message(ev))
		default:
			return
		}
	}
}

// Notify sends synchronously, subject to the event filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.allowed(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) allowed(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// dispatch sends to every sender; one failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Title renders the headline for ev.
func Title(ev domain.PipelineEvent) string {
	switch ev.Type {
	case domain.EventMarketCreated:
		return "Market created"
	case domain.EventMarketSettled:
		return "Market settled"
	case domain.EventSessionFinalized:
		return "Session finalized"
	case domain.EventSubmissionSkipped:
		return "Submission skipped"
	case domain.EventSubmissionFailed:
		return "Submission failed"
	case domain.EventRunCompleted:
		return "Run completed"
	default:
		return ev.Type
	}
}

// Message renders the body for ev as key: value lines.
func Message(ev domain.PipelineEvent) string {
	var b strings.Builder
	line := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	line("trigger", ev.TriggerID)
	line("status", ev.Status)
	line("key", ev.Key)
	line("tx", ev.TxHash)
	line("message", ev.Message)
	return strings.TrimSuffix(b.String(), "\n")
}
