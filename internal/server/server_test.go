package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/retropick/internal/crypto"
	"github.com/alanyoungcy/retropick/internal/domain"
	"github.com/alanyoungcy/retropick/internal/server/handler"
	"github.com/alanyoungcy/retropick/internal/workflow"
)

type stubPipeline struct {
	trig   domain.Trigger
	body   string
	settle domain.SettlementRequest
	result string
}

func (s *stubPipeline) OnHTTP(_ context.Context, trig domain.Trigger, body []byte) string {
	s.trig, s.body = trig, string(body)
	return s.result
}

func (s *stubPipeline) OnSettlementRequested(_ context.Context, trig domain.Trigger, req domain.SettlementRequest) string {
	s.trig, s.settle = trig, req
	return s.result
}

func (s *stubPipeline) OnSessionSnapshot(_ context.Context, trig domain.Trigger) string {
	s.trig = trig
	return s.result
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }
func (denyAll) Wait(context.Context, string) error                              { return nil }

func newTestServer(cfg Config, p *stubPipeline, limiter domain.RateLimiter) http.Handler {
	h := Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Check{
			"ok": func(context.Context) error { return nil },
		}, nil),
		Trigger: handler.NewTriggerHandler(p, nil),
		Debug:   handler.NewDebugHandler(func() any { return map[string]string{"mode": "full"} }),
	}
	return NewServer(cfg, h, nil, limiter, nil).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	h := newTestServer(Config{APIKey: "secret"}, &stubPipeline{}, nil)
	rec := do(t, h, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateMarketUsesTimestampHeader(t *testing.T) {
	p := &stubPipeline{result: "0xabc"}
	h := newTestServer(Config{APIKey: "secret"}, p, nil)
	body := `{"question":"Will it rain?"}`

	rec := do(t, h, http.MethodPost, "/trigger/markets", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/trigger/markets", body, map[string]string{
		"Authorization":         "Bearer secret",
		handler.TimestampHeader: "1700000000",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, p.body)
	assert.Equal(t, workflow.HTTPTrigger([]byte(body), time.Unix(1_700_000_000, 0)), p.trig)
	assert.Contains(t, rec.Body.String(), `"result":"0xabc"`)
}

func TestCreateMarketStatusCodes(t *testing.T) {
	cases := map[string]int{
		workflow.StatusQuestionMissing: http.StatusBadRequest,
		"Error: transaction reverted":  http.StatusUnprocessableEntity,
		workflow.StatusMissingFactory:  http.StatusServiceUnavailable,
	}
	for result, want := range cases {
		p := &stubPipeline{result: result}
		rec := do(t, newTestServer(Config{}, p, nil), http.MethodPost, "/trigger/markets", "{}", nil)
		assert.Equal(t, want, rec.Code, result)
	}
}

func TestSignedTrigger(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.NewReportSigner(key)
	p := &stubPipeline{result: "0x01"}
	h := newTestServer(Config{AuthorizedKeys: []common.Address{signer.Address()}}, p, nil)

	body := `{"question":"Signed?"}`
	sig, err := signer.SignTrigger([]byte(body))
	require.NoError(t, err)

	rec := do(t, h, http.MethodPost, "/trigger/markets", body, map[string]string{"X-Signature": sig})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, p.body)

	rec = do(t, h, http.MethodPost, "/trigger/markets", `{"question":"tampered"}`, map[string]string{"X-Signature": sig})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/trigger/markets", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSettleValidatesBody(t *testing.T) {
	p := &stubPipeline{result: workflow.StatusAlreadySettled}
	h := newTestServer(Config{}, p, nil)

	rec := do(t, h, http.MethodPost, "/trigger/settlements", `{"marketId":"x","question":"q"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/trigger/settlements", `{"marketId":"42","question":"q"}`,
		map[string]string{handler.TimestampHeader: "1700000000"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), p.settle.MarketID.Int64())
	assert.Equal(t, "manual:settle-42:1700000000", p.trig.ID)
}

func TestRateLimitRejects(t *testing.T) {
	h := newTestServer(Config{RateLimit: 1}, &stubPipeline{}, denyAll{})
	rec := do(t, h, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHealthDegraded(t *testing.T) {
	hh := handler.NewHealthHandler(map[string]handler.Check{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}, nil)
	rec := httptest.NewRecorder()
	hh.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
