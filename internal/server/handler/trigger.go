package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/retropick/internal/domain"
	"github.com/alanyoungcy/retropick/internal/workflow"
)

// TimestampHeader carries the caller's as-of time in unix seconds so every
// replica handling the same request uses the same timestamp.
const TimestampHeader = "X-Trigger-Timestamp"

const maxTriggerBody = 64 << 10

// Pipeline is the subset of the workflow the trigger endpoints drive.
type Pipeline interface {
	OnHTTP(ctx context.Context, trig domain.Trigger, body []byte) string
	OnSettlementRequested(ctx context.Context, trig domain.Trigger, req domain.SettlementRequest) string
	OnSessionSnapshot(ctx context.Context, trig domain.Trigger) string
}

// TriggerHandler starts pipeline runs over HTTP.
type TriggerHandler struct {
	pipeline Pipeline
	now      func() time.Time
	logger   *slog.Logger
}

// NewTriggerHandler creates a TriggerHandler.
func NewTriggerHandler(p Pipeline, logger *slog.Logger) *TriggerHandler {
	return &TriggerHandler{pipeline: p, now: time.Now, logger: logHandler(logger, "trigger")}
}

type triggerResponse struct {
	TriggerID string `json:"trigger_id"`
	Result    string `json:"result"`
}

// CreateMarket creates one market from a JSON body
// {"question","category","resolveTime","source"}.
// POST /trigger/markets
func (h *TriggerHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTriggerBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	trig := workflow.HTTPTrigger(body, h.asOf(r))
	h.logger.InfoContext(r.Context(), "http creation trigger", slog.String("trigger_id", trig.ID))

	res := h.pipeline.OnHTTP(r.Context(), trig, body)
	writeJSON(w, statusFor(res), triggerResponse{TriggerID: trig.ID, Result: res})
}

type settleBody struct {
	MarketID string `json:"marketId"`
	Question string `json:"question"`
}

// Settle runs the settlement pipeline for one market.
// POST /trigger/settlements
func (h *TriggerHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var body settleBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTriggerBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, ok := new(big.Int).SetString(strings.TrimSpace(body.MarketID), 10)
	if !ok || id.Sign() < 0 {
		writeError(w, http.StatusBadRequest, "marketId must be a non-negative decimal integer")
		return
	}
	if strings.TrimSpace(body.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	trig := workflow.ManualTrigger("settle-"+id.String(), h.asOf(r))
	res := h.pipeline.OnSettlementRequested(r.Context(), trig, domain.SettlementRequest{
		MarketID: id,
		Question: body.Question,
	})
	writeJSON(w, statusFor(res), triggerResponse{TriggerID: trig.ID, Result: res})
}

// FinalizeSessions runs one session scan.
// POST /trigger/sessions
func (h *TriggerHandler) FinalizeSessions(w http.ResponseWriter, r *http.Request) {
	trig := workflow.SessionTrigger(h.asOf(r))
	res := h.pipeline.OnSessionSnapshot(r.Context(), trig)
	writeJSON(w, statusFor(res), triggerResponse{TriggerID: trig.ID, Result: res})
}

// asOf reads TimestampHeader, falling back to the current minute.
func (h *TriggerHandler) asOf(r *http.Request) time.Time {
	if v := strings.TrimSpace(r.Header.Get(TimestampHeader)); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil && sec > 0 {
			return time.Unix(sec, 0).UTC()
		}
	}
	return h.now().UTC().Truncate(time.Minute)
}

func statusFor(res string) int {
	switch {
	case res == workflow.StatusEmptyRequest, res == workflow.StatusQuestionMissing:
		return http.StatusBadRequest
	case strings.HasPrefix(res, "Error:"):
		return http.StatusUnprocessableEntity
	case strings.HasPrefix(res, "Missing "):
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}
