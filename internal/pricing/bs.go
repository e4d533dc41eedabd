// Package pricing implements Black-Scholes pricing and Greeks for European
// options, plus the implied-volatility and delta-strike helpers the data
// layer builds on.
//
// Conventions:
//   - time to expiry is expressed in years
//   - vega is reported per one volatility point (1%)
//   - theta is reported per calendar day
package pricing

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput flags malformed numeric inputs: non-positive spot or
// strike, or negative volatility. Such requests are rejected immediately
// and never retried.
var ErrInvalidInput = errors.New("invalid pricing input")

// Result bundles the theoretical price of a single option leg with its
// first-order sensitivities.
type Result struct {
	Price float64 `json:"theoretical_price"`
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// Calculator prices European options against a fixed normal backend.
// The zero-cost construction makes it cheap to embed wherever pricing
// is needed; all methods are pure.
type Calculator struct {
	backend NormalBackend
}

// NewCalculator returns a Calculator bound to the given backend.
// Pass DefaultBackend() unless a test needs a specific implementation.
func NewCalculator(b NormalBackend) *Calculator {
	return &Calculator{backend: b}
}

// Backend reports which normal backend the calculator is using.
func (c *Calculator) Backend() NormalBackend { return c.backend }

// PriceAndGreeks calculates the price and Greeks of a European option.
//
// Parameters:
//   - isCall: true for call option, false for put option
//   - S: spot price of the underlying asset
//   - K: strike price of the option
//   - T: time to expiry in years
//   - sigma: volatility of the underlying asset (annual, as a decimal)
//   - r: risk-free interest rate (annual)
//   - q: continuous dividend yield
//
// At T <= 0 the option is worth its intrinsic value: delta collapses to
// 1, 0 or -1 by moneyness (0.5 / -0.5 exactly at the money, the limiting
// behavior), and gamma, theta, vega are all zero. At sigma == 0 with time
// remaining, the discounted forward terminal payoff is used so the d1
// denominator is never divided by zero.
func (c *Calculator) PriceAndGreeks(isCall bool, S, K, T, sigma, r, q float64) (Result, error) {
	if S <= 0 {
		return Result{}, fmt.Errorf("%w: spot %.4f must be positive", ErrInvalidInput, S)
	}
	if K <= 0 {
		return Result{}, fmt.Errorf("%w: strike %.4f must be positive", ErrInvalidInput, K)
	}
	if sigma < 0 {
		return Result{}, fmt.Errorf("%w: volatility %.4f must be non-negative", ErrInvalidInput, sigma)
	}

	if T <= 0 {
		return terminalGreeks(isCall, S, K), nil
	}
	if sigma == 0 {
		return zeroVolGreeks(isCall, S, K, T, r, q), nil
	}

	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r-q+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	nd1 := c.backend.CDF(d1)
	nd2 := c.backend.CDF(d2)
	pd1 := c.backend.PDF(d1)
	discR := math.Exp(-r * T)
	discQ := math.Exp(-q * T)

	var price, delta, theta float64
	if isCall {
		price = S*discQ*nd1 - K*discR*nd2
		delta = discQ * nd1
		theta = (-S*discQ*pd1*sigma/(2*sqrtT) - r*K*discR*nd2 + q*S*discQ*nd1) / 365.0
	} else {
		price = K*discR*c.backend.CDF(-d2) - S*discQ*c.backend.CDF(-d1)
		delta = discQ * (nd1 - 1)
		theta = (-S*discQ*pd1*sigma/(2*sqrtT) + r*K*discR*c.backend.CDF(-d2) - q*S*discQ*c.backend.CDF(-d1)) / 365.0
	}

	gamma := discQ * pd1 / (S * sigma * sqrtT)
	vega := S * discQ * pd1 * sqrtT / 100.0

	return Result{Price: price, Delta: delta, Gamma: gamma, Theta: theta, Vega: vega}, nil
}

// terminalGreeks returns expiry-day values: intrinsic price, step-function
// delta with the at-the-money tie broken at +/-0.5, and zero time value.
func terminalGreeks(isCall bool, S, K float64) Result {
	var res Result
	if isCall {
		res.Price = math.Max(0, S-K)
		switch {
		case S > K:
			res.Delta = 1
		case S < K:
			res.Delta = 0
		default:
			res.Delta = 0.5
		}
	} else {
		res.Price = math.Max(0, K-S)
		switch {
		case S < K:
			res.Delta = -1
		case S > K:
			res.Delta = 0
		default:
			res.Delta = -0.5
		}
	}
	return res
}

// zeroVolGreeks handles the sigma == 0 limit. The underlying drifts
// deterministically to its forward, so the option is worth the discounted
// terminal payoff against the forward price.
func zeroVolGreeks(isCall bool, S, K, T, r, q float64) Result {
	fwd := S * math.Exp((r-q)*T)
	discR := math.Exp(-r * T)
	discQ := math.Exp(-q * T)

	var res Result
	if isCall {
		res.Price = discR * math.Max(0, fwd-K)
		if fwd > K {
			res.Delta = discQ
		}
	} else {
		res.Price = discR * math.Max(0, K-fwd)
		if fwd < K {
			res.Delta = -discQ
		}
	}
	return res
}

// ImpliedVolATM calculates the implied volatility at-the-money using the
// Newton-Raphson method. It takes the underlying price S, strike price K,
// time to expiry T (in years), risk-free rate r, and both call and put
// prices at the strike. The function iteratively solves for the volatility
// that makes the Black-Scholes price match the market price (average of
// call and put prices). Returns the implied volatility or an error if
// convergence fails or inputs are invalid.
func (c *Calculator) ImpliedVolATM(S, K, T, r, callPrice, putPrice float64) (float64, error) {
	if T <= 0 {
		return 0, fmt.Errorf("%w: expiry in the past", ErrInvalidInput)
	}

	marketPrice := (callPrice + putPrice) / 2

	// Initial guess: 20%
	sigma := 0.20

	const (
		maxIter = 100
		tol     = 1e-6
	)

	for i := 0; i < maxIter; i++ {
		res, err := c.PriceAndGreeks(true, S, K, T, sigma, r, 0)
		if err != nil {
			return 0, err
		}
		diff := res.Price - marketPrice

		if math.Abs(diff) < tol {
			return sigma, nil
		}

		// raw vega, not the per-point scaling
		vega := res.Vega * 100
		if vega < 1e-8 {
			break
		}

		sigma -= diff / vega

		// Guardrails
		if sigma <= 0 {
			sigma = 1e-4
		}
		if sigma > 5 {
			sigma = 5
		}
	}

	return 0, fmt.Errorf("implied vol did not converge")
}

// StrikeFromDelta inverts the Black-Scholes delta to find the strike at
// which an option carries the target delta. Used by delta-based strike
// rules. targetDelta is the delta magnitude as a percentage (30 for a
// 30-delta call or put).
func (c *Calculator) StrikeFromDelta(S, targetDelta, r, q, sigma, T float64, isCall bool) float64 {
	// Call: delta = e^{-qT} N(d1). Put: delta = e^{-qT}(N(d1) - 1).
	p := (targetDelta / 100.0) * math.Exp(q*T)
	if !isCall {
		p = 1 - p
	}
	d1 := NormInv(math.Min(math.Max(p, 1e-9), 1-1e-9))
	return S * math.Exp(-(d1*sigma*math.Sqrt(T) - (r-q+0.5*sigma*sigma)*T))
}

// NormInv computes the inverse of the standard normal cumulative
// distribution function (quantile function) using Wichura's rational
// approximation. p must be strictly between 0 and 1; values outside the
// range panic.
func NormInv(p float64) float64 {
	if p <= 0 || p >= 1 {
		panic("NormInv: p must be in (0,1)")
	}

	// Coefficients
	a := []float64{
		-3.969683028665376e+01,
		2.209460984245205e+02,
		-2.759285104469687e+02,
		1.383577518672690e+02,
		-3.066479806614716e+01,
		2.506628277459239e+00,
	}

	b := []float64{
		-5.447609879822406e+01,
		1.615858368580409e+02,
		-1.556989798598866e+02,
		6.680131188771972e+01,
		-1.328068155288572e+01,
	}

	cc := []float64{
		-7.784894002430293e-03,
		-3.223964580411365e-01,
		-2.400758277161838e+00,
		-2.549732539343734e+00,
		4.374664141464968e+00,
		2.938163982698783e+00,
	}

	d := []float64{
		7.784695709041462e-03,
		3.224671290700398e-01,
		2.445134137142996e+00,
		3.754408661907416e+00,
	}

	plow := 0.02425
	phigh := 1 - plow

	var q, r float64

	if p < plow {
		q = math.Sqrt(-2 * math.Log(p))
		return (((((cc[0]*q+cc[1])*q+cc[2])*q+cc[3])*q+cc[4])*q + cc[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	}

	if p > phigh {
		q = math.Sqrt(-2 * math.Log(1-p))
		return -(((((cc[0]*q+cc[1])*q+cc[2])*q+cc[3])*q+cc[4])*q + cc[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	}

	q = p - 0.5
	r = q * q
	return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
		(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
}
