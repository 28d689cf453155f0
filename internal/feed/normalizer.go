// Package feed turns configured external data sources into normalized
// candidate markets. Each feed kind has one source handler; every network
// read happens inside a consensus scope so replicas agree on the body.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/retropick/internal/consensus"
	"github.com/alanyoungcy/retropick/internal/domain"
	"github.com/alanyoungcy/retropick/internal/fetch"
)

var (
	// ErrMalformed is returned when an upstream body cannot be decoded.
	ErrMalformed = errors.New("feed: malformed upstream response")
	// ErrValueMissing is returned when the configured value is absent.
	ErrValueMissing = errors.New("feed: value missing")
)

// feedCacheMaxAge lets replicas that fire within the same minute share one
// upstream body.
const feedCacheMaxAge = 60 * time.Second

// Requester performs upstream requests.
type Requester interface {
	Do(ctx context.Context, req fetch.Request) (fetch.Response, error)
}

// Source produces items for one feed kind.
type Source interface {
	Fetch(ctx context.Context, sc *consensus.Scope, asOf time.Time, fc domain.FeedConfig) ([]domain.FeedItem, error)
}

// Normalizer dispatches feed configs to their kind's source.
type Normalizer struct {
	sources map[domain.FeedKind]Source
	logger  *slog.Logger
}

// NewNormalizer creates a Normalizer with the built-in sources.
func NewNormalizer(req Requester, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		sources: map[domain.FeedKind]Source{
			domain.FeedKindPrice:  &PriceSource{req: req},
			domain.FeedKindNews:   NewNewsSource(req),
			domain.FeedKindTrend:  &TrendSource{req: req},
			domain.FeedKindCustom: &CustomSource{req: req},
		},
		logger: logger.With(slog.String("component", "feed_normalizer")),
	}
}

// ValidateConfig checks that fc can be fetched at all.
func ValidateConfig(fc domain.FeedConfig) error {
	if strings.TrimSpace(fc.ID) == "" || strings.TrimSpace(string(fc.Kind)) == "" {
		return fmt.Errorf("%w: missing id or kind", domain.ErrInvalidFeedConfig)
	}
	if !fc.Mock && strings.TrimSpace(fc.URL) == "" && fc.Kind != domain.FeedKindPrice {
		return fmt.Errorf("%w: feed %s missing url", domain.ErrInvalidFeedConfig, fc.ID)
	}
	return nil
}

// Fetch validates fc and runs its source. Unknown kinds yield no items and
// no error.
func (n *Normalizer) Fetch(ctx context.Context, sc *consensus.Scope, asOf time.Time, fc domain.FeedConfig) ([]domain.FeedItem, error) {
	if err := ValidateConfig(fc); err != nil {
		return nil, err
	}
	src, ok := n.sources[fc.Kind]
	if !ok {
		n.logger.DebugContext(ctx, "unsupported feed kind",
			slog.String("feed", fc.ID),
			slog.String("kind", string(fc.Kind)),
		)
		return nil, nil
	}
	items, err := src.Fetch(ctx, sc, asOf, fc)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", fc.ID, err)
	}
	return items, nil
}

// observeBody fetches fc's endpoint under the consensus scope and returns
// the agreed body. Non-2xx responses fail the step.
func observeBody(ctx context.Context, sc *consensus.Scope, req Requester, fc domain.FeedConfig, url string) (string, error) {
	method := strings.ToUpper(fc.Method)
	if method == "" {
		method = http.MethodGet
	}
	var body []byte
	if len(fc.Body) > 0 {
		b, err := jsonBody(fc.Body)
		if err != nil {
			return "", err
		}
		body = b
	}
	r := fetch.Request{
		Method:      method,
		URL:         url,
		Headers:     fc.Headers,
		Body:        body,
		CacheMaxAge: feedCacheMaxAge,
	}
	return consensus.Observe(ctx, sc, "feed:"+fc.ID, func(ctx context.Context) (string, error) {
		resp, err := req.Do(ctx, r)
		if err != nil {
			return "", err
		}
		if !resp.OK() {
			return "", &fetch.StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
		}
		return resp.Body, nil
	})
}

// renderTemplate substitutes the first {{value}} placeholder.
func renderTemplate(tpl, fallback, value string) string {
	if tpl == "" {
		tpl = fallback
	}
	return strings.Replace(tpl, "{{value}}", value, 1)
}

func resolveSeconds(fc domain.FeedConfig, fallback time.Duration) int64 {
	if fc.ResolveSeconds > 0 {
		return fc.ResolveSeconds
	}
	return int64(fallback / time.Second)
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
