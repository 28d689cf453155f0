package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// GeminiProvider asks a Gemini model through the genai SDK.
type GeminiProvider struct {
	client *genai.Client
	model  string
	cache  domain.ResponseCache
	logger *slog.Logger
}

// NewGeminiProvider creates a GeminiProvider. baseURL overrides the API
// endpoint and is empty in production.
func NewGeminiProvider(ctx context.Context, cfg Config, cache domain.ResponseCache, logger *slog.Logger) (*GeminiProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: gemini api key", domain.ErrMissingConfig)
	}
	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.URL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.URL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("oracle: gemini client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiProvider{
		client: client,
		model:  orDefault(cfg.Model, geminiModel),
		cache:  cache,
		logger: logger.With(slog.String("component", "oracle_gemini")),
	}, nil
}

func (p *GeminiProvider) Name() string { return ProviderGemini }

func (p *GeminiProvider) Complete(ctx context.Context, question string) (string, error) {
	key := p.cacheKey(question)
	if p.cache != nil {
		if b, err := p.cache.Get(ctx, key); err == nil {
			return string(b), nil
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model,
		genai.Text(userPrompt(question)),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
			Temperature:       genai.Ptr[float32](0),
			ResponseMIMEType:  "application/json",
		},
	)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &UpstreamError{Status: apiErr.Code, Body: apiErr.Message}
		}
		return "", fmt.Errorf("oracle: gemini: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: gemini returned no text", ErrMalformedResponse)
	}
	if p.cache != nil {
		if err := p.cache.Set(ctx, key, []byte(text), responseCacheAge); err != nil {
			p.logger.WarnContext(ctx, "gemini cache write failed", slog.String("error", err.Error()))
		}
	}
	return text, nil
}

func (p *GeminiProvider) cacheKey(question string) string {
	sum := sha256.Sum256([]byte(p.model + "\x00" + question))
	return "oracle:gemini:" + hex.EncodeToString(sum[:])
}
