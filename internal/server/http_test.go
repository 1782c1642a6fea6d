package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpotLedger/internal/core"
	"SpotLedger/internal/event"
	"SpotLedger/internal/observability"
	"SpotLedger/internal/persistence"
	"SpotLedger/internal/projection"
	"SpotLedger/internal/query"
	"SpotLedger/internal/state"
	"SpotLedger/internal/testutil"
)

type fakeIntegrity struct {
	report *persistence.IntegrityReport
	err    error
}

func (f fakeIntegrity) VerifyIntegrity(context.Context) (*persistence.IntegrityReport, error) {
	return f.report, f.err
}

type fakeHistory struct {
	rows      []projection.HistoryRow
	lastLimit int
}

func (f *fakeHistory) LoadHistory(_ context.Context, index uint16, limit int) ([]projection.HistoryRow, error) {
	f.lastLimit = limit
	var out []projection.HistoryRow
	for _, r := range f.rows {
		if r.MarketIndex == index {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestHandler(t *testing.T, integrity IntegrityVerifier) (http.Handler, *observability.HealthChecker) {
	return newTestHandlerWithHistory(t, integrity, nil)
}

func newTestHandlerWithHistory(t *testing.T, integrity IntegrityVerifier, history HistoryReader) (http.Handler, *observability.HealthChecker) {
	t.Helper()
	engine := core.NewMarketEngine(nil, nil, core.Options{LRUCapacity: 16, Logger: zerolog.Nop()})
	for _, m := range []*state.SpotMarket{testutil.DefaultQuoteMarket(), testutil.DefaultBaseMarket()} {
		require.NoError(t, engine.ProcessEvent(&event.SpotMarketListed{Market: *m, Sequence: 1, Ts: 1_700_000_000}))
	}

	health := observability.NewHealthChecker()
	h, err := NewHandler(Deps{
		Risk:      query.NewRiskService(engine),
		Engine:    engine,
		Integrity: integrity,
		History:   history,
		Health:    health,
		Logger:    zerolog.Nop(),
		StartTime: time.Now(),
	})
	require.NoError(t, err)
	return h, health
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

func TestListMarkets(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec, body := get(t, h, "/v1/spot-markets")
	require.Equal(t, http.StatusOK, rec.Code)
	markets, ok := body["markets"].([]interface{})
	require.True(t, ok)
	require.Len(t, markets, 2)
	assert.Equal(t, "USDC", markets[0].(map[string]interface{})["name"])
	assert.Equal(t, "SOL", markets[1].(map[string]interface{})["name"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestGetMarket(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec, body := get(t, h, "/v1/spot-markets/1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SOL", body["name"])
	assert.Equal(t, "0.8", body["initial_asset_weight"])
	assert.Contains(t, body, "market")

	rec, body = get(t, h, "/v1/spot-markets/9")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["code"])

	rec, body = get(t, h, "/v1/spot-markets/70000")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", body["code"])
}

func TestGetWeights(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec, body := get(t, h, "/v1/spot-markets/1/weights?margin_type=maintenance")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(9000), body["asset_weight"])
	assert.Equal(t, float64(11000), body["liability_weight"])
	assert.Equal(t, "Maintenance", body["margin_requirement"])

	rec, _ = get(t, h, "/v1/spot-markets/1/weights?margin_type=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = get(t, h, "/v1/spot-markets/1/weights?size=-5")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTokenAmount(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec, body := get(t, h, "/v1/spot-markets/1/token-amount?balance=1000000000&balance_type=deposit")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1000000000", body["token_amount"])
	assert.Equal(t, "1", body["token_amount_ui"])

	rec, _ = get(t, h, "/v1/spot-markets/1/token-amount")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = get(t, h, "/v1/spot-markets/1/token-amount?balance=1&balance_type=short")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreviewBalanceUpdate(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec, body := get(t, h, "/v1/spot-markets/1/balance-update?amount=1000000000&direction=deposit")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1_000_000_000), body["scaled_balance"])
	assert.Equal(t, "deposit", body["balance_type"])
	assert.Equal(t, "1", body["token_amount_ui"])
	assert.Equal(t, "1000000000", body["market_deposit_balance"])

	rec, body = get(t, h, "/v1/spot-markets/1/balance-update?amount=1&direction=borrow")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "borrow", body["balance_type"])
	assert.Equal(t, float64(2), body["scaled_balance"])

	rec, _ = get(t, h, "/v1/spot-markets/1/balance-update?direction=borrow")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// the market pool holds no deposit to withdraw from
	rec, body = get(t, h, "/v1/spot-markets/1/balance-update?balance=10&balance_type=deposit&amount=5&direction=borrow")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "math", body["code"])

	rec, _ = get(t, h, "/v1/spot-markets/9/balance-update?amount=1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatus(t *testing.T) {
	h, health := newTestHandler(t, nil)

	rec, body := get(t, h, "/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "starting", body["state"])
	assert.Equal(t, float64(2), body["next_sequence"])
	assert.Len(t, body["state_hash"], 64)

	health.SetReady(true)
	_, body = get(t, h, "/v1/status")
	assert.Equal(t, "ready", body["state"])
}

func TestHealthRoutes(t *testing.T) {
	h, health := newTestHandler(t, nil)

	rec, _ := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	health.SetReady(true)
	rec, _ = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIntegrity(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec, _ := get(t, h, "/v1/admin/integrity")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h, _ = newTestHandler(t, fakeIntegrity{report: &persistence.IntegrityReport{LastSequence: 4, IsHealthy: true}})
	rec, body := get(t, h, "/v1/admin/integrity")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["is_healthy"])

	h, _ = newTestHandler(t, fakeIntegrity{err: errors.New("db down")})
	rec, body = get(t, h, "/v1/admin/integrity")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", body["code"])
}

func TestRequestIDPropagated(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/spot-markets/9", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "req-42", body["request_id"])
}

func TestGetHistory(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec, _ := get(t, h, "/v1/spot-markets/1/history")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	history := &fakeHistory{rows: []projection.HistoryRow{
		{Sequence: 3, MarketIndex: 1, EventType: "SpotMarketStatusUpdate", Status: state.MarketStatusReduceOnly},
		{Sequence: 1, MarketIndex: 1, EventType: "SpotMarketListed", Status: state.MarketStatusActive},
	}}
	h, _ = newTestHandlerWithHistory(t, nil, history)

	rec, body := get(t, h, "/v1/spot-markets/1/history?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, history.lastLimit)
	rows := body["history"].([]interface{})
	require.Len(t, rows, 2)
	assert.Equal(t, "reduce_only", rows[0].(map[string]interface{})["status"])

	_, body = get(t, h, "/v1/spot-markets/0/history")
	assert.Equal(t, defaultHistoryLimit, history.lastLimit)
	assert.Empty(t, body["history"])

	rec, _ = get(t, h, "/v1/spot-markets/1/history?limit=5000")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = get(t, h, "/v1/spot-markets/9/history")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
