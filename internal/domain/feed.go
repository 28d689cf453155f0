package domain

import "strings"

// FeedKind selects the source handler for a configured feed.
type FeedKind string

const (
	FeedKindPrice  FeedKind = "priceFeed"
	FeedKindNews   FeedKind = "newsFeed"
	FeedKindTrend  FeedKind = "trendFeed"
	FeedKindCustom FeedKind = "customFeed"
)

// ParseFeedKind maps a configured kind name onto a FeedKind. Provider style
// aliases ("coinGecko", "newsAPI", "githubTrends", "custom") are accepted.
// Unrecognised names are returned verbatim so the normalizer can skip them.
func ParseFeedKind(s string) FeedKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pricefeed", "price", "coingecko":
		return FeedKindPrice
	case "newsfeed", "news", "newsapi", "rss":
		return FeedKindNews
	case "trendfeed", "trend", "githubtrends", "github":
		return FeedKindTrend
	case "customfeed", "custom":
		return FeedKindCustom
	default:
		return FeedKind(s)
	}
}

// FeedConfig describes one external data source that produces candidate
// market questions.
type FeedConfig struct {
	ID               string            `json:"id"`
	Kind             FeedKind          `json:"kind"`
	URL              string            `json:"url,omitempty"`
	Method           string            `json:"method,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	Body             map[string]any    `json:"body,omitempty"`
	ValuePath        string            `json:"value_path,omitempty"`
	QuestionTemplate string            `json:"question_template,omitempty"`
	Category         string            `json:"category,omitempty"`
	ResolveSeconds   int64             `json:"resolve_seconds,omitempty"`
	Mock             bool              `json:"mock,omitempty"`
	MockValue        string            `json:"mock_value,omitempty"`
	CoinID           string            `json:"coin_id,omitempty"`
	VsCurrency       string            `json:"vs_currency,omitempty"`
	Multiplier       float64           `json:"multiplier,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// FeedItem is a normalized candidate market produced by a single feed fetch.
// ExternalKey is the raw dedup key; the on-chain identifier is derived from
// it together with FeedID and ResolveTime.
type FeedItem struct {
	FeedID      string            `json:"feed_id"`
	Question    string            `json:"question"`
	Category    string            `json:"category"`
	ResolveTime int64             `json:"resolve_time"`
	SourceURL   string            `json:"source_url,omitempty"`
	ExternalKey string            `json:"external_key"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
