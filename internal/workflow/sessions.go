package workflow

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/retropick/internal/domain"
	"github.com/alanyoungcy/retropick/internal/report"
	"github.com/alanyoungcy/retropick/internal/settlement"
)

// OnSessionSnapshot finalizes every configured session whose resolve time
// has passed as of the trigger. Sessions already finalized according to the
// ledger are skipped.
func (w *Workflow) OnSessionSnapshot(ctx context.Context, trig domain.Trigger) string {
	if len(w.cfg.Sessions) == 0 {
		return w.finish(ctx, trig, StatusNoSessions)
	}
	if w.cfg.Receiver == (common.Address{}) {
		return w.finish(ctx, trig, StatusMissingReceiver)
	}

	var reqs []settlement.Request
	for _, s := range w.cfg.Sessions {
		if !s.Eligible(trig.AsOf) {
			continue
		}
		reqs = append(reqs, w.sessionRequest(trig, s))
	}
	results := w.deps.Submitter.SubmitBatch(ctx, reqs)
	for _, r := range results {
		w.emit(ctx, trig, domain.EventSessionFinalized, r)
	}
	return w.finish(ctx, trig, fmt.Sprintf("Finalized %d sessions", countSuccess(results)))
}

func (w *Workflow) sessionRequest(trig domain.Trigger, s domain.SessionRecord) settlement.Request {
	key := s.SessionID.Hex()
	req := settlement.Request{
		Kind:      domain.AttemptSession,
		Key:       key,
		TriggerID: trig.ID,
		Receiver:  w.cfg.Receiver,
		Build: func(context.Context) ([]byte, error) {
			return report.EncodeSessionFinalization(s)
		},
	}
	if s.MarketID != nil {
		req.Extra = map[string]string{"market_id": s.MarketID.String()}
	}
	if w.deps.Ledger != nil {
		req.Check = settlement.Recorded(w.deps.Ledger, domain.AttemptSession, key)
	}
	return req
}
