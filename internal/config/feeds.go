package config

import (
	"github.com/alanyoungcy/retropick/internal/domain"
)

// FeedConfig is one [[feeds]] table.
type FeedConfig struct {
	ID               string            `toml:"id"`
	Kind             string            `toml:"kind"`
	URL              string            `toml:"url"`
	Method           string            `toml:"method"`
	Headers          map[string]string `toml:"headers"`
	Body             map[string]any    `toml:"body"`
	ValuePath        string            `toml:"value_path"`
	QuestionTemplate string            `toml:"question_template"`
	Category         string            `toml:"category"`
	ResolveSeconds   int64             `toml:"resolve_seconds"`
	Mock             bool              `toml:"mock"`
	MockValue        string            `toml:"mock_value"`
	CoinID           string            `toml:"coin_id"`
	VsCurrency       string            `toml:"vs_currency"`
	Multiplier       float64           `toml:"multiplier"`
	Metadata         map[string]string `toml:"metadata"`
}

// ToDomain converts the table, resolving kind aliases.
func (f FeedConfig) ToDomain() domain.FeedConfig {
	return domain.FeedConfig{
		ID:               f.ID,
		Kind:             domain.ParseFeedKind(f.Kind),
		URL:              f.URL,
		Method:           f.Method,
		Headers:          f.Headers,
		Body:             f.Body,
		ValuePath:        f.ValuePath,
		QuestionTemplate: f.QuestionTemplate,
		Category:         f.Category,
		ResolveSeconds:   f.ResolveSeconds,
		Mock:             f.Mock,
		MockValue:        f.MockValue,
		CoinID:           f.CoinID,
		VsCurrency:       f.VsCurrency,
		Multiplier:       f.Multiplier,
		Metadata:         f.Metadata,
	}
}

// DomainFeeds converts every configured feed.
func (c *Config) DomainFeeds() []domain.FeedConfig {
	out := make([]domain.FeedConfig, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		out = append(out, f.ToDomain())
	}
	return out
}
