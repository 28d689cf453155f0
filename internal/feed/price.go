package feed

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/retropick/internal/consensus"
	"github.com/alanyoungcy/retropick/internal/domain"
	"github.com/alanyoungcy/retropick/internal/jsonpath"
)

const (
	defaultCoinID     = "bitcoin"
	defaultVsCurrency = "usd"
	defaultMultiplier = 1.05
	defaultMockPrice  = "30000"
	priceURLFormat    = "https://api.coingecko.com/api/v3/simple/price?ids=%s&vs_currencies=%s"
)

// PriceSource turns a spot price into a threshold question:
// target = round(price * multiplier).
type PriceSource struct {
	req Requester
}

func (s *PriceSource) Fetch(ctx context.Context, sc *consensus.Scope, asOf time.Time, fc domain.FeedConfig) ([]domain.FeedItem, error) {
	coin := orDefault(fc.CoinID, defaultCoinID)
	vs := orDefault(fc.VsCurrency, defaultVsCurrency)
	multiplier := fc.Multiplier
	if multiplier == 0 {
		multiplier = defaultMultiplier
	}
	seconds := resolveSeconds(fc, 24*time.Hour)
	src := fc.URL
	if src == "" {
		src = fmt.Sprintf(priceURLFormat, url.QueryEscape(coin), url.QueryEscape(vs))
	}

	var price decimal.Decimal
	if fc.Mock {
		p, err := decimal.NewFromString(orDefault(fc.MockValue, defaultMockPrice))
		if err != nil {
			return nil, fmt.Errorf("%w: mock value %q", domain.ErrInvalidFeedConfig, fc.MockValue)
		}
		price = p
	} else {
		body, err := observeBody(ctx, sc, s.req, fc, src)
		if err != nil {
			return nil, err
		}
		root, err := jsonpath.Parse([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		path := orDefault(fc.ValuePath, coin+"."+vs)
		v, ok := root.Lookup(path)
		if !ok {
			return nil, fmt.Errorf("%w: price path %q", ErrValueMissing, path)
		}
		p, ok := v.Decimal()
		if !ok {
			return nil, fmt.Errorf("%w: price at %q is not numeric", ErrMalformed, path)
		}
		price = p
	}

	target := Target(price, multiplier)
	hours := int64(math.Round(float64(seconds) / 3600))
	return []domain.FeedItem{{
		FeedID:      fc.ID,
		Question:    fmt.Sprintf("Will %s price be above %s %s by %d hours?", coin, target, vs, hours),
		Category:    orDefault(fc.Category, "crypto"),
		ResolveTime: asOf.Unix() + seconds,
		SourceURL:   src,
		ExternalKey: fmt.Sprintf("%s:%s:%s", fc.ID, coin, target),
		Metadata:    copyMetadata(fc.Metadata),
	}}, nil
}

// Target returns round(price * multiplier) with halves rounded away from
// zero, rendered as an integer string.
func Target(price decimal.Decimal, multiplier float64) string {
	return price.Mul(decimal.NewFromFloat(multiplier)).Round(0).String()
}
