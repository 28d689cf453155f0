package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/retropick/internal/domain"
	"github.com/alanyoungcy/retropick/internal/market"
	"github.com/alanyoungcy/retropick/internal/report"
	"github.com/alanyoungcy/retropick/internal/settlement"
)

// httpSourceID is the feed id used for markets requested over HTTP.
const httpSourceID = "http"

// OnSchedule fetches every configured feed and creates one market per item.
// A feed that fails is skipped; the remaining feeds still run.
func (w *Workflow) OnSchedule(ctx context.Context, trig domain.Trigger) string {
	if len(w.cfg.Feeds) == 0 {
		return w.finish(ctx, trig, StatusNoFeeds)
	}
	if w.cfg.Creator == (common.Address{}) {
		return w.finish(ctx, trig, StatusMissingCreator)
	}

	sc := w.scope(trig)
	var items []domain.FeedItem
	for _, fc := range w.cfg.Feeds {
		got, err := w.deps.Feeds.Fetch(ctx, sc, trig.AsOf, fc)
		if err != nil {
			w.logger.WarnContext(ctx, "feed skipped",
				slog.String("feed_id", fc.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		items = append(items, got...)
	}
	if len(items) == 0 {
		return w.finish(ctx, trig, StatusNoItems)
	}
	if w.cfg.Factory == (common.Address{}) {
		return w.finish(ctx, trig, StatusMissingFactory)
	}

	reqs := make([]settlement.Request, 0, len(items))
	for _, it := range items {
		reqs = append(reqs, w.creationRequest(trig, it))
	}
	results := w.deps.Submitter.SubmitBatch(ctx, reqs)
	for _, r := range results {
		w.emit(ctx, trig, domain.EventMarketCreated, r)
	}
	return w.finish(ctx, trig, fmt.Sprintf("Created %d markets", countSuccess(results)))
}

func (w *Workflow) creationRequest(trig domain.Trigger, item domain.FeedItem) settlement.Request {
	key := item.FeedID + ":" + item.ExternalKey
	if err := market.ValidateItem(item); err == nil {
		key = market.ExternalID(item.FeedID, item.ExternalKey, item.ResolveTime).Hex()
	}
	return settlement.Request{
		Kind:      domain.AttemptCreation,
		Key:       key,
		TriggerID: trig.ID,
		Receiver:  w.cfg.Factory,
		Build: func(context.Context) ([]byte, error) {
			in, err := market.Build(item, w.cfg.Creator)
			if err != nil {
				return nil, err
			}
			if err := market.ValidateInput(in); err != nil {
				return nil, err
			}
			return report.EncodeCreateMarket(in, nil)
		},
		Extra: map[string]string{"feed_id": item.FeedID, "question": item.Question},
	}
}

// CreateRequest is the body of an HTTP creation trigger.
type CreateRequest struct {
	Question    string `json:"question"`
	Category    string `json:"category,omitempty"`
	ResolveTime int64  `json:"resolveTime,omitempty"`
	Source      string `json:"source,omitempty"`
}

// OnHTTP creates a single market from a JSON request body. It returns the
// transaction hash on success.
func (w *Workflow) OnHTTP(ctx context.Context, trig domain.Trigger, body []byte) string {
	if len(strings.TrimSpace(string(body))) == 0 {
		return w.finish(ctx, trig, StatusEmptyRequest)
	}
	var req CreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return w.finish(ctx, trig, errorStatus("invalid JSON body"))
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return w.finish(ctx, trig, StatusQuestionMissing)
	}
	if w.cfg.Creator == (common.Address{}) {
		return w.finish(ctx, trig, StatusMissingCreator)
	}
	if w.cfg.Factory == (common.Address{}) {
		return w.finish(ctx, trig, StatusMissingFactory)
	}

	resolve := req.ResolveTime
	if resolve == 0 {
		resolve = trig.AsOf.Add(w.cfg.HTTPResolveAfter).Unix()
	}
	if resolve <= trig.AsOf.Unix() {
		return w.finish(ctx, trig, StatusResolveInPast)
	}
	item := domain.FeedItem{
		FeedID:      httpSourceID,
		Question:    req.Question,
		Category:    orDefault(req.Category, "custom"),
		ResolveTime: resolve,
		SourceURL:   orDefault(req.Source, httpSourceID),
		ExternalKey: req.Question,
	}

	res := w.deps.Submitter.Submit(ctx, w.creationRequest(trig, item))
	w.emit(ctx, trig, domain.EventMarketCreated, res)
	switch {
	case res.Status == settlement.StatusSuccess:
		return w.finish(ctx, trig, res.TxHash.Hex())
	case res.Reason == settlement.ReasonOtherReplica:
		return w.finish(ctx, trig, StatusOtherReplica)
	default:
		return w.finish(ctx, trig, errorStatus(res.Reason))
	}
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
