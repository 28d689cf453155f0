package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/retropick/internal/consensus"
	"github.com/alanyoungcy/retropick/internal/domain"
)

const (
	customTemplate  = "Will the value be above {{value}}?"
	customMockValue = "N/A"
)

// CustomSource reads one value from an arbitrary JSON endpoint.
type CustomSource struct {
	req Requester
}

func (s *CustomSource) Fetch(ctx context.Context, sc *consensus.Scope, asOf time.Time, fc domain.FeedConfig) ([]domain.FeedItem, error) {
	category := orDefault(fc.Category, "custom")
	resolveTime := asOf.Unix() + resolveSeconds(fc, 24*time.Hour)

	if fc.Mock {
		value := orDefault(fc.MockValue, customMockValue)
		q := renderTemplate(fc.QuestionTemplate, customTemplate, value)
		return []domain.FeedItem{valueItem(fc, q, category, fc.URL, value, resolveTime)}, nil
	}
	if fc.URL == "" {
		return nil, fmt.Errorf("%w: custom feed %s missing url", domain.ErrInvalidFeedConfig, fc.ID)
	}

	body, err := observeBody(ctx, sc, s.req, fc, fc.URL)
	if err != nil {
		return nil, err
	}
	value, err := extract(body, fc.ValuePath)
	if err != nil {
		return nil, err
	}
	q := renderTemplate(fc.QuestionTemplate, customTemplate, value)
	return []domain.FeedItem{valueItem(fc, q, category, fc.URL, value, resolveTime)}, nil
}
