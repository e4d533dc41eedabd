// Package api exposes the backtest engine over HTTP for the surrounding
// application: a full run endpoint and a single-shot strategy preview.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sheldcoop/upstox-backtest/internal/backtest"
	"github.com/sheldcoop/upstox-backtest/internal/backtest/strategy"
	"github.com/sheldcoop/upstox-backtest/internal/data"
	"github.com/sheldcoop/upstox-backtest/internal/logger"
	"github.com/sheldcoop/upstox-backtest/internal/pricing"
)

// Server routes backtest requests onto a shared data provider.
type Server struct {
	provider data.Provider
	router   *chi.Mux
}

// NewServer builds the HTTP surface on top of the given provider.
func NewServer(provider data.Provider) *Server {
	s := &Server{provider: provider, router: chi.NewRouter()}
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(2 * time.Minute))

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.router.Post("/api/run", s.handleRun)
	s.router.Post("/api/preview", s.handlePreview)
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks serving on addr.
func (s *Server) ListenAndServe(addr string) error {
	logger.Infof("REST server listening on %s", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
	return srv.ListenAndServe()
}

// handleRun executes one backtest from a JSON backtest.Config body.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var cfg backtest.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid config: "+err.Error(), http.StatusBadRequest)
		return
	}

	quotes, err := s.provider.GetDailySeries(cfg.Underlying, cfg.Start, cfg.End)
	if err != nil {
		http.Error(w, "fetching series: "+err.Error(), http.StatusBadGateway)
		return
	}
	expiries, err := s.provider.GetExpiries(cfg.Underlying, cfg.Start, cfg.End.AddDate(0, 3, 0))
	if err != nil {
		http.Error(w, "fetching expiries: "+err.Error(), http.StatusBadGateway)
		return
	}

	res, err := backtest.NewEngine(cfg).Run(quotes, expiries)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, res)
}

// previewRequest is the ad-hoc construction contract: what would this
// spread look like today, priced off the supplied snapshot.
type previewRequest struct {
	Underlying string  `json:"underlying"`
	Strategy   string  `json:"strategy"`
	OptionType string  `json:"option_type"`
	Spot       float64 `json:"spot"`
	IV         float64 `json:"iv"`
	Strike     float64 `json:"strike"`
	NearExpiry string  `json:"near_expiry"`
	FarExpiry  string  `json:"far_expiry"`
	Rate       float64 `json:"rate"`
}

// handlePreview constructs a strategy without running a backtest.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	near, err1 := time.Parse("2006-01-02", req.NearExpiry)
	far, err2 := time.Parse("2006-01-02", req.FarExpiry)
	if err1 != nil || err2 != nil {
		http.Error(w, "expiries must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	builder := strategy.NewBuilder(pricing.NewCalculator(pricing.DefaultBackend()))
	m := strategy.MarketInputs{
		Spot:    req.Spot,
		NearVol: req.IV,
		FarVol:  req.IV,
		Rate:    req.Rate,
		AsOf:    time.Now().UTC().Truncate(24 * time.Hour),
	}

	ot := strategy.Call
	if req.OptionType == "PUT" || req.OptionType == "put" {
		ot = strategy.Put
	}

	var (
		st  *strategy.MultiExpiryStrategy
		err error
	)
	switch req.Strategy {
	case "double_calendar", "DOUBLE_CALENDAR":
		st, err = builder.DoubleCalendar(m, req.Underlying, req.Strike, near, far)
	default:
		st, err = builder.CalendarSpread(m, req.Underlying, req.Strike, near, far, ot)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, st)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("encoding response: %v", err)
	}
}
