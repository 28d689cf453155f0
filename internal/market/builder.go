// Package market turns normalized feed items into market creation inputs.
package market

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// Question length bounds, counted in characters.
const (
	MinQuestionLen = 10
	MaxQuestionLen = 200
)

// UnknownSource is used when an item carries no source URL.
const UnknownSource = "unknown"

// ExternalID derives the on-chain dedup key for a feed item:
// keccak256("feedId:rawKey:resolveTime").
func ExternalID(feedID, rawKey string, resolveTime int64) common.Hash {
	var b strings.Builder
	b.WriteString(feedID)
	b.WriteByte(':')
	b.WriteString(rawKey)
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(resolveTime, 10))
	return crypto.Keccak256Hash([]byte(b.String()))
}

// ValidateItem checks the shape of a feed item before it may become a market.
func ValidateItem(item domain.FeedItem) error {
	if err := validateQuestion(item.Question); err != nil {
		return fmt.Errorf("%w: feed %q: %v", domain.ErrInvalidFeedItem, item.FeedID, err)
	}
	if strings.TrimSpace(item.Category) == "" {
		return fmt.Errorf("%w: feed %q: category is required", domain.ErrInvalidFeedItem, item.FeedID)
	}
	if item.ResolveTime <= 0 {
		return fmt.Errorf("%w: feed %q: resolve time is required", domain.ErrInvalidFeedItem, item.FeedID)
	}
	if item.ExternalKey == "" {
		return fmt.Errorf("%w: feed %q: external key is required", domain.ErrInvalidFeedItem, item.FeedID)
	}
	return nil
}

// Build validates item and converts it into a MarketInput requested by
// requester. The result is a pure function of its arguments.
func Build(item domain.FeedItem, requester common.Address) (domain.MarketInput, error) {
	if err := ValidateItem(item); err != nil {
		return domain.MarketInput{}, err
	}
	if requester == (common.Address{}) {
		return domain.MarketInput{}, fmt.Errorf("%w: requester is the zero address", domain.ErrInvalidMarketInput)
	}
	source := item.SourceURL
	if source == "" {
		source = UnknownSource
	}
	return domain.MarketInput{
		Question:    item.Question,
		RequestedBy: requester,
		ResolveTime: item.ResolveTime,
		Category:    item.Category,
		Source:      source,
		ExternalID:  ExternalID(item.FeedID, item.ExternalKey, item.ResolveTime),
	}, nil
}

// ValidateInput re-checks a MarketInput right before it is encoded.
func ValidateInput(in domain.MarketInput) error {
	switch {
	case in.RequestedBy == (common.Address{}):
		return fmt.Errorf("%w: requester is the zero address", domain.ErrInvalidMarketInput)
	case in.ExternalID == (common.Hash{}):
		return fmt.Errorf("%w: external id is empty", domain.ErrInvalidMarketInput)
	case strings.TrimSpace(in.Category) == "":
		return fmt.Errorf("%w: category is required", domain.ErrInvalidMarketInput)
	case strings.TrimSpace(in.Source) == "":
		return fmt.Errorf("%w: source is required", domain.ErrInvalidMarketInput)
	case in.ResolveTime <= 0:
		return fmt.Errorf("%w: resolve time is required", domain.ErrInvalidMarketInput)
	}
	if err := validateQuestion(in.Question); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMarketInput, err)
	}
	return nil
}

func validateQuestion(q string) error {
	n := utf8.RuneCountInString(q)
	if n < MinQuestionLen || n > MaxQuestionLen {
		return fmt.Errorf("question length %d outside [%d, %d]", n, MinQuestionLen, MaxQuestionLen)
	}
	return nil
}
