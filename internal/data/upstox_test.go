package data

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUpstoxTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/v2/historical-candle/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"status": "success",
			"data": map[string]any{
				"candles": [][]any{
					{"2026-02-03T00:00:00Z", 21810.0, 21900.0, 21750.0, 21850.0, 120000, 0},
					{"2026-02-02T00:00:00Z", 21780.0, 21880.0, 21700.0, 21800.0, 110000, 0},
					{"2026-02-04T00:00:00Z", 21860.0, 21950.0, 21800.0, 21900.0, 130000, 0},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/v2/option/contract", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"status": "success",
			"data": []map[string]any{
				{"expiry": "2026-02-12", "strike_price": 21800.0, "instrument_key": "NSE_FO|1"},
				{"expiry": "2026-02-05", "strike_price": 21800.0, "instrument_key": "NSE_FO|2"},
				{"expiry": "2026-02-05", "strike_price": 21850.0, "instrument_key": "NSE_FO|3"},
				{"expiry": "2026-01-29", "strike_price": 21800.0, "instrument_key": "NSE_FO|4"},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestUpstoxProviderSeries(t *testing.T) {
	srv := newUpstoxTestServer(t)
	p := NewUpstoxDataProvider(srv.URL, "test-token", nil)

	quotes, err := p.GetDailySeries("NSE_INDEX|Nifty 50", date("2026-02-01"), date("2026-02-28"))
	require.NoError(t, err)
	require.Len(t, quotes, 3)

	// Candles arrive unordered; the provider sorts ascending.
	assert.Equal(t, date("2026-02-02"), quotes[0].Date)
	assert.Equal(t, 21800.0, quotes[0].Close)
	assert.Equal(t, date("2026-02-04"), quotes[2].Date)

	// The API carries no IV series; every row gets the realized proxy.
	for _, q := range quotes {
		assert.Greater(t, q.IV, 0.0)
	}
}

func TestUpstoxProviderExpiries(t *testing.T) {
	srv := newUpstoxTestServer(t)
	p := NewUpstoxDataProvider(srv.URL, "test-token", nil)

	expiries, err := p.GetExpiries("NSE_INDEX|Nifty 50", date("2026-02-01"), date("2026-02-28"))
	require.NoError(t, err)

	// Duplicate strikes collapse to one expiry; dates before the window
	// start are dropped.
	require.Len(t, expiries, 2)
	assert.Equal(t, date("2026-02-05"), expiries[0])
	assert.Equal(t, date("2026-02-12"), expiries[1])
}

func TestUpstoxProviderSecondaryFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	synth := NewSyntheticProvider(1, 21800, 0.20)
	p := NewUpstoxDataProvider(srv.URL, "test-token", synth)

	quotes, err := p.GetDailySeries("NIFTY", date("2026-02-01"), date("2026-02-28"))
	require.NoError(t, err)
	assert.NotEmpty(t, quotes)

	expiries, err := p.GetExpiries("NIFTY", date("2026-02-01"), date("2026-02-28"))
	require.NoError(t, err)
	assert.NotEmpty(t, expiries)
}

func TestFillRealizedIV(t *testing.T) {
	quotes := make([]Quote, 30)
	base := 21800.0
	for i := range quotes {
		if i%2 == 0 {
			base *= 1.01
		} else {
			base *= 0.995
		}
		quotes[i] = Quote{Date: date("2026-01-01").AddDate(0, 0, i), Close: base}
	}

	fillRealizedIV(quotes)
	for i, q := range quotes {
		assert.Greaterf(t, q.IV, 0.0, "row %d", i)
	}
	// Rows before a full window share the whole-series estimate.
	assert.Equal(t, quotes[0].IV, quotes[ivWindow-1].IV)
}
