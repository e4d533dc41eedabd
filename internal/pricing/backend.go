package pricing

import (
	"math"
	"sync"

	"github.com/sheldcoop/upstox-backtest/internal/logger"
)

const sqrt2Pi = 2.5066282746310002

// NormalBackend supplies the standard normal distribution functions the
// Black-Scholes formulas depend on. Two interchangeable implementations
// exist: an exact one built on math.Erf and a polynomial approximation.
// Callers depend only on this interface; the concrete backend is chosen
// once at startup by DefaultBackend.
type NormalBackend interface {
	Name() string
	CDF(x float64) float64
	PDF(x float64) float64
}

// erfBackend computes the normal CDF through the error function.
type erfBackend struct{}

func (erfBackend) Name() string { return "erf" }

func (erfBackend) CDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

func (erfBackend) PDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / sqrt2Pi
}

// polyBackend approximates the normal CDF with the Abramowitz & Stegun
// 26.2.17 rational polynomial. Absolute error is below 7.5e-8, well inside
// the 1e-3 delta agreement the engine requires of the two backends.
type polyBackend struct{}

func (polyBackend) Name() string { return "polynomial" }

func (polyBackend) CDF(x float64) float64 {
	if x < 0 {
		return 1.0 - polyBackend{}.CDF(-x)
	}

	const (
		b0 = 0.2316419
		b1 = 0.319381530
		b2 = -0.356563782
		b3 = 1.781477937
		b4 = -1.821255978
		b5 = 1.330274429
	)

	t := 1.0 / (1.0 + b0*x)
	poly := t * (b1 + t*(b2+t*(b3+t*(b4+t*b5))))
	return 1.0 - polyBackend{}.PDF(x)*poly
}

func (polyBackend) PDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / sqrt2Pi
}

var (
	backendOnce sync.Once
	backend     NormalBackend
)

// DefaultBackend returns the process-wide normal backend. The selection is
// performed exactly once: the exact backend is verified against a reference
// quantile and kept when the check passes, otherwise the polynomial
// approximation takes over. Per-call branching on the backend is never done.
func DefaultBackend() NormalBackend {
	backendOnce.Do(func() {
		backend = detectBackend()
	})
	return backend
}

// detectBackend runs the one-time feature check. N(1.96) must reproduce the
// 97.5% quantile to within 1e-6 for the exact backend to be trusted.
func detectBackend() NormalBackend {
	exact := erfBackend{}
	if math.Abs(exact.CDF(1.959963984540054)-0.975) < 1e-6 {
		logger.Debugf("normal backend selected: %s", exact.Name())
		return exact
	}
	approx := polyBackend{}
	logger.Infof("exact normal backend failed self-check, using %s approximation", approx.Name())
	return approx
}
