package risk

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// VaR calibration constants. One definition is used everywhere: parametric
// 95%. EWMALambda is the decay UpdateVariance applies; the engine never
// calls UpdateVariance and no code reads ReturnWindow, so the covariance
// stays as supplied to NewVaRModel.
const (
	VaRZScore     = 1.645
	VaRErrEpsilon = 1e-9
	EWMALambda    = 0.94
	ReturnWindow  = 60
)

// VaRModel computes parametric portfolio VaR from a covariance matrix and
// the position weight vector. Recomputation is throttled by the engine; the
// per-order check uses an incremental quadratic-form delta instead of a
// full matrix evaluation.
type VaRModel struct {
	cov     *mat.SymDense // covariance of per-symbol returns
	index   map[uint32]int
	weights *mat.VecDense // current position weights (signed notional)
	sigmaW  *mat.VecDense // Σ·w cache for incremental checks
	quad    float64       // wᵀΣw cache
}

// NewVaRModel builds a model over an ordered symbol universe with the given
// covariance. The matrix must be n×n for n symbols.
func NewVaRModel(symbols []uint32, cov *mat.SymDense) *VaRModel {
	index := make(map[uint32]int, len(symbols))
	for i, s := range symbols {
		index[s] = i
	}
	n := len(symbols)
	return &VaRModel{
		cov:     cov,
		index:   index,
		weights: mat.NewVecDense(n, nil),
		sigmaW:  mat.NewVecDense(n, nil),
	}
}

// Recompute refreshes the cached quadratic form from the full position
// vector. notionals are signed micro-currency exposures per symbol.
func (m *VaRModel) Recompute(notionals map[uint32]int64) {
	for sym, idx := range m.index {
		m.weights.SetVec(idx, float64(notionals[sym])/1e6)
	}
	m.sigmaW.MulVec(m.cov, m.weights)
	m.quad = mat.Dot(m.weights, m.sigmaW)
	if m.quad < 0 {
		m.quad = 0
	}
}

// Portfolio returns the cached portfolio VaR in currency units.
func (m *VaRModel) Portfolio() float64 {
	return VaRZScore * math.Sqrt(m.quad)
}

// WithDelta approximates the VaR after changing one symbol's exposure by
// deltaNotional (micro currency), using Δ(wᵀΣw) = 2δ(Σw)ᵢ + δ²Σᵢᵢ.
func (m *VaRModel) WithDelta(symbolID uint32, deltaNotional int64) float64 {
	idx, ok := m.index[symbolID]
	if !ok {
		return m.Portfolio()
	}
	d := float64(deltaNotional) / 1e6
	quad := m.quad + 2*d*m.sigmaW.AtVec(idx) + d*d*m.cov.At(idx, idx)
	if quad < 0 {
		quad = 0
	}
	return VaRZScore * math.Sqrt(quad)
}

// UpdateVariance applies an EWMA variance update for one symbol from an
// observed return. Keeps the covariance diagonal tracking realized
// volatility between full recalibrations.
func (m *VaRModel) UpdateVariance(symbolID uint32, ret float64) {
	idx, ok := m.index[symbolID]
	if !ok {
		return
	}
	old := m.cov.At(idx, idx)
	m.cov.SetSym(idx, idx, EWMALambda*old+(1-EWMALambda)*ret*ret)
}
