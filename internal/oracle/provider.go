package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/retropick/internal/domain"
	"github.com/alanyoungcy/retropick/internal/fetch"
)

// Provider names accepted in configuration.
const (
	ProviderMock     = "mock"
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderGemini   = "gemini"
)

const (
	openAIURL     = "https://api.openai.com/v1/chat/completions"
	openAIModel   = "gpt-4"
	deepSeekURL   = "https://api.deepseek.com/v1/chat/completions"
	deepSeekModel = "deepseek-chat"
	geminiModel   = "gemini-2.0-flash"

	// responseCacheAge bounds how long a completion may be reused by
	// replicas asking the same question.
	responseCacheAge = 60 * time.Second
)

// Provider returns the raw model text for a market question.
type Provider interface {
	Name() string
	Complete(ctx context.Context, question string) (string, error)
}

// Requester performs upstream HTTP requests.
type Requester interface {
	Do(ctx context.Context, req fetch.Request) (fetch.Response, error)
}

// MockProvider answers every question with a fixed text.
type MockProvider struct {
	Response string
}

func (m MockProvider) Name() string { return ProviderMock }

func (m MockProvider) Complete(context.Context, string) (string, error) {
	if m.Response == "" {
		return DefaultMockResponse, nil
	}
	return m.Response, nil
}

// ChatProvider talks to any OpenAI-compatible chat completion endpoint.
type ChatProvider struct {
	name   string
	req    Requester
	url    string
	model  string
	apiKey string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

// NewChatProvider creates a ChatProvider.
func NewChatProvider(name string, req Requester, url, model, apiKey string) *ChatProvider {
	return &ChatProvider{name: name, req: req, url: url, model: model, apiKey: apiKey}
}

func (p *ChatProvider) Name() string { return p.name }

func (p *ChatProvider) Complete(ctx context.Context, question string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: userPrompt(question)},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("oracle: encode request: %w", err)
	}

	resp, err := p.req.Do(ctx, fetch.Request{
		Method: http.MethodPost,
		URL:    p.url,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + p.apiKey,
		},
		Body:        body,
		CacheMaxAge: responseCacheAge,
	})
	if err != nil {
		return "", fmt.Errorf("oracle: %s: %w", p.name, err)
	}
	if !resp.OK() {
		return "", &UpstreamError{Status: resp.StatusCode, Body: resp.Body}
	}
	return ParseCompletion(resp.Body)
}

// Config selects and parameterises a provider.
type Config struct {
	Provider     string
	URL          string
	Model        string
	APIKey       string
	MockResponse string
}

// NewProvider builds the provider named in cfg. Gemini is built separately
// because its client needs a context and may fail to initialise.
func NewProvider(cfg Config, req Requester) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch name {
	case ProviderMock:
		return MockProvider{Response: cfg.MockResponse}, nil
	case ProviderOpenAI, ProviderDeepSeek, "", "compatible":
	default:
		return nil, fmt.Errorf("%w: unknown ai provider %q", domain.ErrMissingConfig, cfg.Provider)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: ai api key", domain.ErrMissingConfig)
	}

	url, model := cfg.URL, cfg.Model
	switch name {
	case ProviderDeepSeek:
		url = orDefault(url, deepSeekURL)
		model = orDefault(model, deepSeekModel)
	default:
		if name == "" {
			name = ProviderOpenAI
		}
		url = orDefault(url, openAIURL)
		model = orDefault(model, openAIModel)
	}
	return NewChatProvider(name, req, url, model, strings.TrimSpace(cfg.APIKey)), nil
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return strings.TrimSpace(s)
}
