package feed

import (
	"context"
	"time"

	"github.com/alanyoungcy/retropick/internal/consensus"
	"github.com/alanyoungcy/retropick/internal/domain"
)

const (
	trendURL       = "https://api.github.com/search/repositories?q=stars:>50000&sort=stars&order=desc"
	trendPath      = "items.0.full_name"
	trendTemplate  = "Will {{value}} gain 1000 stars in 7 days?"
	trendMockValue = "repo-name"
)

// TrendSource asks whether a trending repository keeps growing.
type TrendSource struct {
	req Requester
}

func (s *TrendSource) Fetch(ctx context.Context, sc *consensus.Scope, asOf time.Time, fc domain.FeedConfig) ([]domain.FeedItem, error) {
	category := orDefault(fc.Category, "dev")
	resolveTime := asOf.Unix() + resolveSeconds(fc, 7*24*time.Hour)

	if fc.Mock {
		value := orDefault(fc.MockValue, trendMockValue)
		q := renderTemplate(fc.QuestionTemplate, trendTemplate, value)
		return []domain.FeedItem{valueItem(fc, q, category, fc.URL, value, resolveTime)}, nil
	}

	src := orDefault(fc.URL, trendURL)
	body, err := observeBody(ctx, sc, s.req, fc, src)
	if err != nil {
		return nil, err
	}
	value, err := extract(body, orDefault(fc.ValuePath, trendPath))
	if err != nil {
		return nil, err
	}
	q := renderTemplate(fc.QuestionTemplate, trendTemplate, value)
	return []domain.FeedItem{valueItem(fc, q, category, src, value, resolveTime)}, nil
}
