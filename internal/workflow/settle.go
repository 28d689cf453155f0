package workflow

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/retropick/internal/domain"
	"github.com/alanyoungcy/retropick/internal/report"
	"github.com/alanyoungcy/retropick/internal/settlement"
)

// OnSettlementRequested settles one market. The market is read first; the
// oracle is only consulted for markets that are not settled yet.
func (w *Workflow) OnSettlementRequested(ctx context.Context, trig domain.Trigger, req domain.SettlementRequest) string {
	if req.MarketID == nil {
		return w.finish(ctx, trig, errorStatus("missing market id"))
	}
	if w.cfg.Market == (common.Address{}) {
		return w.finish(ctx, trig, StatusMissingMarket)
	}
	w.logger.InfoContext(ctx, "settlement requested",
		slog.String("trigger_id", trig.ID),
		slog.String("market_id", req.MarketID.String()),
		slog.String("question", req.Question),
	)

	sc := w.scope(trig)
	res := w.deps.Submitter.Submit(ctx, settlement.Request{
		Kind:      domain.AttemptSettlement,
		Key:       req.MarketID.String(),
		TriggerID: trig.ID,
		Receiver:  w.cfg.Market,
		Check:     settlement.MarketSettled(w.deps.Reader, req.MarketID),
		Build: func(ctx context.Context) ([]byte, error) {
			out, err := w.deps.Oracle.Ask(ctx, sc, req.Question)
			if err != nil {
				return nil, err
			}
			rep, err := domain.NewSettlementReport(req.MarketID, out)
			if err != nil {
				return nil, err
			}
			return report.EncodeSettlement(rep)
		},
		Extra: map[string]string{"question": req.Question},
	})
	w.emit(ctx, trig, domain.EventMarketSettled, res)

	switch res.Status {
	case settlement.StatusSkipped:
		if res.Reason == settlement.ReasonOtherReplica {
			return w.finish(ctx, trig, StatusOtherReplica)
		}
		return w.finish(ctx, trig, StatusAlreadySettled)
	case settlement.StatusSuccess:
		return w.finish(ctx, trig, res.TxHash.Hex())
	default:
		return w.finish(ctx, trig, errorStatus(res.Reason))
	}
}
