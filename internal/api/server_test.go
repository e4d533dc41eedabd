package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheldcoop/upstox-backtest/internal/backtest"
	"github.com/sheldcoop/upstox-backtest/internal/data"
)

func newTestServer() *Server {
	return NewServer(data.NewSyntheticProvider(42, 21800, 0.20))
}

func postJSON(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHandleRun(t *testing.T) {
	srv := newTestServer()

	body := map[string]any{
		"underlying":       "NIFTY",
		"strategy":         "CALENDAR",
		"option_type":      "CALL",
		"start":            "2026-02-02T00:00:00Z",
		"end":              "2026-02-27T00:00:00Z",
		"near_dte":         7,
		"far_dte":          28,
		"auto_roll":        true,
		"roll_days_before": 3,
	}
	rec := postJSON(t, srv, "/api/run", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res backtest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotEmpty(t, res.RunID)
	assert.NotEmpty(t, res.Snapshots)
	assert.Equal(t, "CALENDAR", res.StrategyName)
}

func TestHandleRunBadBody(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/run", bytes.NewReader([]byte("{nope")))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRunInvalidWindow(t *testing.T) {
	srv := newTestServer()
	body := map[string]any{
		"underlying": "NIFTY",
		"start":      "2026-02-27T00:00:00Z",
		"end":        "2026-02-02T00:00:00Z",
	}
	rec := postJSON(t, srv, "/api/run", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandlePreview(t *testing.T) {
	srv := newTestServer()

	body := map[string]any{
		"underlying":  "NIFTY",
		"strategy":    "double_calendar",
		"spot":        21800,
		"iv":          0.20,
		"strike":      21800,
		"near_expiry": "2099-02-05",
		"far_expiry":  "2099-02-26",
	}
	rec := postJSON(t, srv, "/api/preview", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	legs, ok := res["legs"].([]any)
	require.True(t, ok)
	assert.Len(t, legs, 4)
}

func TestHandlePreviewBadExpiry(t *testing.T) {
	srv := newTestServer()
	body := map[string]any{
		"underlying":  "NIFTY",
		"spot":        21800,
		"iv":          0.20,
		"strike":      21800,
		"near_expiry": "Feb 5",
		"far_expiry":  "2099-02-26",
	}
	rec := postJSON(t, srv, "/api/preview", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePreviewExpiryOrder(t *testing.T) {
	srv := newTestServer()
	body := map[string]any{
		"underlying":  "NIFTY",
		"spot":        21800,
		"iv":          0.20,
		"strike":      21800,
		"near_expiry": "2099-02-26",
		"far_expiry":  "2099-02-05",
	}
	rec := postJSON(t, srv, "/api/preview", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
