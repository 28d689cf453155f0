package domain

import "time"

// TriggerKind names the external event that started a pipeline run.
type TriggerKind string

const (
	TriggerCron    TriggerKind = "cron"
	TriggerHTTP    TriggerKind = "http"
	TriggerLog     TriggerKind = "log"
	TriggerSession TriggerKind = "session"
	TriggerManual  TriggerKind = "manual"
)

// Trigger identifies one pipeline run. ID must be identical on every replica
// processing the same event, and AsOf is the single timestamp every stage of
// the run uses in place of the wall clock.
type Trigger struct {
	ID   string      `json:"id"`
	Kind TriggerKind `json:"kind"`
	AsOf time.Time   `json:"as_of"`
}

// PipelineEvent is a pipeline result published to operators and dashboards.
type PipelineEvent struct {
	Type      string            `json:"type"`
	TriggerID string            `json:"trigger_id"`
	Status    string            `json:"status"`
	Key       string            `json:"key,omitempty"`
	TxHash    string            `json:"tx_hash,omitempty"`
	Message   string            `json:"message,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	At        time.Time         `json:"at"`
}

// Event type names used in PipelineEvent.Type and notifier filters.
const (
	EventMarketCreated     = "market_created"
	EventMarketSettled     = "market_settled"
	EventSessionFinalized  = "session_finalized"
	EventSubmissionSkipped = "submission_skipped"
	EventSubmissionFailed  = "submission_failed"
	EventRunCompleted      = "run_completed"
)
