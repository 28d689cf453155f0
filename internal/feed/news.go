package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/alanyoungcy/retropick/internal/consensus"
	"github.com/alanyoungcy/retropick/internal/domain"
)

const (
	newsTemplate  = `Will "{{value}}" remain a top headline in 24 hours?`
	newsMockValue = "Markets rally"
	// maxHeadlineLen keeps rendered questions inside the question bounds.
	maxHeadlineLen = 140
)

// NewsSource turns the newest headline of an RSS/Atom feed, or a value from
// a JSON news API when ValuePath is set, into a question.
type NewsSource struct {
	req Requester
}

// NewNewsSource creates a NewsSource.
func NewNewsSource(req Requester) *NewsSource {
	return &NewsSource{req: req}
}

func (s *NewsSource) Fetch(ctx context.Context, sc *consensus.Scope, asOf time.Time, fc domain.FeedConfig) ([]domain.FeedItem, error) {
	category := orDefault(fc.Category, "news")
	resolveTime := asOf.Unix() + resolveSeconds(fc, 24*time.Hour)

	if fc.Mock {
		value := orDefault(fc.MockValue, newsMockValue)
		q := renderTemplate(fc.QuestionTemplate, newsTemplate, value)
		return []domain.FeedItem{valueItem(fc, q, category, fc.URL, value, resolveTime)}, nil
	}

	body, err := observeBody(ctx, sc, s.req, fc, fc.URL)
	if err != nil {
		return nil, err
	}

	var value string
	if fc.ValuePath != "" {
		value, err = extract(body, fc.ValuePath)
	} else {
		value, err = s.headline(body)
	}
	if err != nil {
		return nil, err
	}
	value = clip(strings.TrimSpace(value), maxHeadlineLen)
	q := renderTemplate(fc.QuestionTemplate, newsTemplate, value)
	return []domain.FeedItem{valueItem(fc, q, category, fc.URL, value, resolveTime)}, nil
}

func (s *NewsSource) headline(body string) (string, error) {
	// gofeed parsers keep per-parse state, so each call gets its own.
	parsed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for _, item := range parsed.Items {
		if t := strings.TrimSpace(item.Title); t != "" {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: feed has no titled items", ErrValueMissing)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
