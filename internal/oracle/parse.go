package oracle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// ErrMalformedResponse is returned when no outcome text can be extracted.
var ErrMalformedResponse = errors.New("oracle: malformed response")

// UpstreamError carries a non-2xx answer from the completion endpoint.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("oracle: upstream error %d: %s", e.Status, body)
}

// envelope covers both the chat-completion shape and the Gemini REST shape.
type envelope struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// ParseCompletion extracts the first message text from a completion body.
func ParseCompletion(body string) (string, error) {
	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(env.Choices) > 0 && env.Choices[0].Message.Content != "" {
		return env.Choices[0].Message.Content, nil
	}
	if len(env.Candidates) > 0 && len(env.Candidates[0].Content.Parts) > 0 &&
		env.Candidates[0].Content.Parts[0].Text != "" {
		return env.Candidates[0].Content.Parts[0].Text, nil
	}
	return "", fmt.Errorf("%w: missing text content", ErrMalformedResponse)
}

var objectPattern = regexp.MustCompile(`\{[^{}]*\}`)

type rawOutcome struct {
	Result     *string         `json:"result"`
	Confidence json.RawMessage `json:"confidence"`
}

func (r rawOutcome) complete() bool { return r.Result != nil && len(r.Confidence) > 0 }

// ParseOutcome reads the model text as the outcome grammar. The whole text
// is tried first; failing that, the first embedded object carrying both
// fields is used. The result is validated before it is returned.
func ParseOutcome(text string) (domain.Outcome, error) {
	raw, ok := decodeOutcome(strings.TrimSpace(text))
	if !ok {
		for _, m := range objectPattern.FindAllString(text, -1) {
			if raw, ok = decodeOutcome(m); ok {
				break
			}
		}
	}
	if !ok {
		return domain.Outcome{}, fmt.Errorf("%w: no outcome object in %q", ErrMalformedResponse, clip(text, 120))
	}

	confidence, err := integer(raw.Confidence)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: %v", domain.ErrInvalidOutcome, err)
	}
	out := domain.Outcome{Result: domain.Verdict(*raw.Result), Confidence: confidence}
	if err := out.Validate(); err != nil {
		return domain.Outcome{}, err
	}
	return out, nil
}

func decodeOutcome(s string) (rawOutcome, bool) {
	var r rawOutcome
	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(&r); err != nil {
		return rawOutcome{}, false
	}
	if dec.More() {
		return rawOutcome{}, false
	}
	return r, r.complete()
}

// integer accepts a JSON number with an integral value.
func integer(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' {
		return 0, fmt.Errorf("confidence %s is not a number", string(raw))
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return 0, fmt.Errorf("confidence %s is not a number", string(raw))
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("confidence %s is not an integer", d.String())
	}
	if d.GreaterThan(decimal.NewFromInt(domain.MaxConfidence)) || d.IsNegative() {
		return 0, fmt.Errorf("confidence %s out of range", d.String())
	}
	return int(d.IntPart()), nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
