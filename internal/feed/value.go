package feed

import (
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/retropick/internal/domain"
	"github.com/alanyoungcy/retropick/internal/jsonpath"
)

// valueItem builds the single item produced by template-driven feeds.
// The raw dedup key is "feedId:value".
func valueItem(fc domain.FeedConfig, question, category, sourceURL, value string, resolveTime int64) domain.FeedItem {
	return domain.FeedItem{
		FeedID:      fc.ID,
		Question:    question,
		Category:    category,
		ResolveTime: resolveTime,
		SourceURL:   sourceURL,
		ExternalKey: fc.ID + ":" + value,
		Metadata:    copyMetadata(fc.Metadata),
	}
}

// extract parses body as JSON and returns the value at path rendered as text.
func extract(body, path string) (string, error) {
	root, err := jsonpath.Parse([]byte(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	v, ok := root.Lookup(path)
	if !ok {
		return "", fmt.Errorf("%w: path %q", ErrValueMissing, path)
	}
	return v.String(), nil
}

func jsonBody(body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("feed: encode request body: %w", err)
	}
	return b, nil
}
