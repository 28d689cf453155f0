package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/retropick/internal/consensus"
	"github.com/alanyoungcy/retropick/internal/domain"
)

// Client asks the configured provider and turns its text into a validated
// outcome. The provider round trip is the aggregated step; parsing happens
// on the agreed text.
type Client struct {
	provider Provider
	logger   *slog.Logger
}

// NewClient creates a Client.
func NewClient(p Provider, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		provider: p,
		logger:   logger.With(slog.String("component", "oracle"), slog.String("provider", p.Name())),
	}
}

// Ask returns the outcome for question.
func (c *Client) Ask(ctx context.Context, sc *consensus.Scope, question string) (domain.Outcome, error) {
	c.logger.InfoContext(ctx, "querying ai for market outcome")

	text, err := consensus.Observe(ctx, sc, stepName(question), func(ctx context.Context) (string, error) {
		return c.provider.Complete(ctx, question)
	})
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("oracle: ask: %w", err)
	}

	out, err := ParseOutcome(text)
	if err != nil {
		c.logger.WarnContext(ctx, "ai response rejected",
			slog.String("response", clip(text, 200)),
			slog.String("error", err.Error()),
		)
		return domain.Outcome{}, err
	}
	c.logger.InfoContext(ctx, "ai outcome",
		slog.String("result", string(out.Result)),
		slog.Int("confidence", out.Confidence),
	)
	return out, nil
}

func stepName(question string) string {
	sum := sha256.Sum256([]byte(question))
	return "oracle:" + hex.EncodeToString(sum[:8])
}
