package feed

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/retropick/internal/consensus"
	"github.com/alanyoungcy/retropick/internal/domain"
	"github.com/alanyoungcy/retropick/internal/fetch"
	"github.com/alanyoungcy/retropick/internal/market"
)

var asOf = time.Unix(1_700_000_000, 0).UTC()

func newNormalizer() *Normalizer {
	return NewNormalizer(fetch.New(nil, fetch.WithCache(fetch.NewMemoryCache())), nil)
}

func serve(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestPriceFeedMockScenario(t *testing.T) {
	fc := domain.FeedConfig{
		ID:         "btc",
		Kind:       domain.FeedKindPrice,
		CoinID:     "bitcoin",
		Mock:       true,
		MockValue:  "30000",
		Multiplier: 1.05,
	}
	items, err := newNormalizer().Fetch(context.Background(), nil, asOf, fc)
	require.NoError(t, err)
	require.Len(t, items, 1)

	it := items[0]
	assert.Contains(t, it.Question, "31500")
	assert.Equal(t, "Will bitcoin price be above 31500 usd by 24 hours?", it.Question)
	assert.Equal(t, "btc:bitcoin:31500", it.ExternalKey)
	assert.Equal(t, "crypto", it.Category)
	assert.Equal(t, asOf.Unix()+86400, it.ResolveTime)
	assert.Equal(t, "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd", it.SourceURL)

	again, err := newNormalizer().Fetch(context.Background(), nil, asOf, fc)
	require.NoError(t, err)
	assert.Equal(t,
		market.ExternalID(it.FeedID, it.ExternalKey, it.ResolveTime),
		market.ExternalID(again[0].FeedID, again[0].ExternalKey, again[0].ResolveTime))
}

func TestPriceFeedLive(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"ethereum":{"eur":2000.4}}`)
	fc := domain.FeedConfig{
		ID:             "eth",
		Kind:           domain.FeedKindPrice,
		URL:            srv.URL,
		CoinID:         "ethereum",
		VsCurrency:     "eur",
		Multiplier:     1.1,
		ResolveSeconds: 3 * 3600,
	}
	items, err := newNormalizer().Fetch(context.Background(), nil, asOf, fc)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Will ethereum price be above 2200 eur by 3 hours?", items[0].Question)
	assert.Equal(t, "eth:ethereum:2200", items[0].ExternalKey)
	assert.Equal(t, srv.URL, items[0].SourceURL)
}

func TestPriceFeedFailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"missing path", http.StatusOK, `{"bitcoin":{}}`, ErrValueMissing},
		{"not json", http.StatusOK, `<html>`, ErrMalformed},
		{"not numeric", http.StatusOK, `{"bitcoin":{"usd":"n/a"}}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := serve(t, tt.status, tt.body)
			fc := domain.FeedConfig{ID: "btc", Kind: domain.FeedKindPrice, URL: srv.URL}
			items, err := newNormalizer().Fetch(context.Background(), nil, asOf, fc)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, items)
		})
	}
}

func TestUpstreamErrorStatus(t *testing.T) {
	srv, _ := serve(t, http.StatusBadGateway, "bad gateway")
	fc := domain.FeedConfig{ID: "c", Kind: domain.FeedKindCustom, URL: srv.URL, ValuePath: "x"}
	_, err := newNormalizer().Fetch(context.Background(), nil, asOf, fc)

	var se *fetch.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
}

func TestTarget(t *testing.T) {
	assert.Equal(t, "31500", Target(decimal.NewFromInt(30000), 1.05))
	assert.Equal(t, "11", Target(decimal.RequireFromString("10.5"), 1))
	assert.Equal(t, "10", Target(decimal.RequireFromString("10.49"), 1))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		fc      domain.FeedConfig
		wantErr bool
	}{
		{"missing id", domain.FeedConfig{Kind: domain.FeedKindCustom, Mock: true}, true},
		{"missing kind", domain.FeedConfig{ID: "x", Mock: true}, true},
		{"custom without url", domain.FeedConfig{ID: "x", Kind: domain.FeedKindCustom}, true},
		{"trend without url", domain.FeedConfig{ID: "x", Kind: domain.FeedKindTrend}, true},
		{"price derives url", domain.FeedConfig{ID: "x", Kind: domain.FeedKindPrice}, false},
		{"mock without url", domain.FeedConfig{ID: "x", Kind: domain.FeedKindNews, Mock: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.fc)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidFeedConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestUnknownKindYieldsNothing(t *testing.T) {
	items, err := newNormalizer().Fetch(context.Background(), nil, asOf, domain.FeedConfig{
		ID: "w", Kind: "weather", Mock: true,
	})
	assert.NoError(t, err)
	assert.Empty(t, items)
}

func TestTrendFeed(t *testing.T) {
	mock, err := newNormalizer().Fetch(context.Background(), nil, asOf, domain.FeedConfig{
		ID: "gh", Kind: domain.FeedKindTrend, Mock: true,
	})
	require.NoError(t, err)
	require.Len(t, mock, 1)
	assert.Equal(t, "Will repo-name gain 1000 stars in 7 days?", mock[0].Question)
	assert.Equal(t, "gh:repo-name", mock[0].ExternalKey)
	assert.Equal(t, "dev", mock[0].Category)
	assert.Equal(t, asOf.Unix()+7*86400, mock[0].ResolveTime)

	srv, _ := serve(t, http.StatusOK, `{"items":[{"full_name":"golang/go"}]}`)
	live, err := newNormalizer().Fetch(context.Background(), nil, asOf, domain.FeedConfig{
		ID: "gh", Kind: domain.FeedKindTrend, URL: srv.URL,
	})
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "Will golang/go gain 1000 stars in 7 days?", live[0].Question)
	assert.Equal(t, "gh:golang/go", live[0].ExternalKey)
}

func TestCustomFeed(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"data":{"temp":[21.5,22]}}`)
	items, err := newNormalizer().Fetch(context.Background(), nil, asOf, domain.FeedConfig{
		ID:               "weather",
		Kind:             domain.FeedKindCustom,
		URL:              srv.URL,
		Method:           "post",
		Body:             map[string]any{"city": "Lisbon"},
		ValuePath:        "data.temp.1",
		QuestionTemplate: "Will Lisbon exceed {{value}} degrees tomorrow?",
		Metadata:         map[string]string{"unit": "C"},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Will Lisbon exceed 22 degrees tomorrow?", items[0].Question)
	assert.Equal(t, "weather:22", items[0].ExternalKey)
	assert.Equal(t, "custom", items[0].Category)
	assert.Equal(t, map[string]string{"unit": "C"}, items[0].Metadata)
}

const rss = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Wire</title>
<item><title>Central bank holds rates</title><link>https://news.example/1</link></item>
<item><title>Second story</title></item>
</channel></rss>`

func TestNewsFeed(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, rss)
	items, err := newNormalizer().Fetch(context.Background(), nil, asOf, domain.FeedConfig{
		ID: "wire", Kind: domain.FeedKindNews, URL: srv.URL,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, `Will "Central bank holds rates" remain a top headline in 24 hours?`, items[0].Question)
	assert.Equal(t, "news", items[0].Category)
	assert.Equal(t, "wire:Central bank holds rates", items[0].ExternalKey)

	jsonSrv, _ := serve(t, http.StatusOK, `{"articles":[{"title":"Rates hold"}]}`)
	items, err = newNormalizer().Fetch(context.Background(), nil, asOf, domain.FeedConfig{
		ID: "api", Kind: domain.FeedKindNews, URL: jsonSrv.URL, ValuePath: "articles.0.title",
	})
	require.NoError(t, err)
	assert.Equal(t, "api:Rates hold", items[0].ExternalKey)

	badSrv, _ := serve(t, http.StatusOK, "definitely not a feed")
	_, err = newNormalizer().Fetch(context.Background(), nil, asOf, domain.FeedConfig{
		ID: "bad", Kind: domain.FeedKindNews, URL: badSrv.URL,
	})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReplicasShareOneUpstreamRead(t *testing.T) {
	srv, hits := serve(t, http.StatusOK, `{"bitcoin":{"usd":30000}}`)
	sc := consensus.NewScope(consensus.NewLocalAggregator(4, nil, nil), "cron:1")

	items, err := newNormalizer().Fetch(context.Background(), sc, asOf, domain.FeedConfig{
		ID: "btc", Kind: domain.FeedKindPrice, URL: srv.URL,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, strings.Contains(items[0].Question, "31500"))
	assert.Equal(t, int32(1), hits.Load())
}
