// Package risk implements the inline pre-trade risk engine: a short-circuit
// rule pipeline over the position store and portfolio aggregates, the
// process-wide kill switch, clock-bucketed rate limiting, and parametric
// portfolio VaR.
package risk

import (
	"sync/atomic"

	"github.com/abdoElHodaky/hftcore/internal/position"
	"github.com/abdoElHodaky/hftcore/internal/types"
	"go.uber.org/zap"
)

// Reason enumerates the closed set of rejection causes.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonPositionLimit
	ReasonOrderValueLimit
	ReasonDailyVolumeLimit
	ReasonPortfolioVaRLimit
	ReasonConcentrationLimit
	ReasonRateLimit
	ReasonCancelRatioLimit
	ReasonMarketConditions
	ReasonKillSwitch
)

// String returns the string representation of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonPositionLimit:
		return "position_limit"
	case ReasonOrderValueLimit:
		return "order_value_limit"
	case ReasonDailyVolumeLimit:
		return "daily_volume_limit"
	case ReasonPortfolioVaRLimit:
		return "portfolio_var_limit"
	case ReasonConcentrationLimit:
		return "concentration_limit"
	case ReasonRateLimit:
		return "rate_limit"
	case ReasonCancelRatioLimit:
		return "cancel_ratio_limit"
	case ReasonMarketConditions:
		return "market_conditions"
	case ReasonKillSwitch:
		return "kill_switch"
	default:
		return "unknown"
	}
}

// Verdict is the engine's decision on an order.
type Verdict struct {
	Approved bool
	Reason   Reason
}

var approved = Verdict{Approved: true}

func rejected(r Reason) Verdict { return Verdict{Reason: r} }

// MarketView supplies the quote context the market-conditions rule needs.
// Implemented by the book snapshot registry.
type MarketView interface {
	SpreadBps(symbolID uint32) float64
	Mid(symbolID uint32) uint64
}

// Config carries the engine limits. Monetary limits are whole currency
// units.
type Config struct {
	MaxPositionQty    uint64
	MaxOrderNotional  uint64
	MaxDailyVolume    uint64  // notional traded per session
	MaxConcentration  float64 // single-symbol share of gross exposure
	MaxSpreadBps      float64
	RateLimitPerSec   uint64
	MaxCancelRatio    float64
	CancelRatioMinObs uint64
	VaRLimit          float64 // currency units
	VaRIntervalTSC    uint64  // min counter delta between full recomputes
	Epsilon           float64
}

// Stats counts engine activity.
type Stats struct {
	Checked  atomic.Uint64
	Passed   atomic.Uint64
	Failed   atomic.Uint64
	ByReason [ReasonKillSwitch + 1]atomic.Uint64
}

// Engine evaluates pre-trade risk inline on the order-submission path. All
// mutation happens on the owning risk thread; the kill switch is the only
// cross-thread surface.
type Engine struct {
	cfg        Config
	logger     *zap.Logger
	killSwitch *KillSwitch
	positions  *position.Store
	market     MarketView
	limiter    *RateLimiter
	cancels    *CancelRatioTracker
	varModel   *VaRModel

	dailyVolume uint64 // notional traded, currency units
	lastVaRTSC  uint64
	varBreaches uint32
	stats       Stats
}

// NewEngine wires the engine. varModel may be nil to disable the VaR rule.
func NewEngine(cfg Config, ks *KillSwitch, store *position.Store, market MarketView, varModel *VaRModel, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = VaRErrEpsilon
	}
	return &Engine{
		cfg:        cfg,
		logger:     logger,
		killSwitch: ks,
		positions:  store,
		market:     market,
		limiter:    NewRateLimiter(cfg.RateLimitPerSec),
		cancels:    NewCancelRatioTracker(cfg.MaxCancelRatio, cfg.CancelRatioMinObs),
		varModel:   varModel,
	}
}

// KillSwitch exposes the engine's gate for the supervisor and manager.
func (e *Engine) KillSwitch() *KillSwitch { return e.killSwitch }

// Stats returns the engine counters.
func (e *Engine) Stats() *Stats { return &e.stats }

// CheckOrder runs the rule pipeline, cheapest rule first, short-circuiting
// on the first failure. Pure with respect to the order, the position store,
// and the aggregate snapshot.
func (e *Engine) CheckOrder(order *types.Order, bucket uint64, tsc uint64) Verdict {
	e.stats.Checked.Add(1)

	v := e.evaluate(order, bucket, tsc)
	if v.Approved {
		e.stats.Passed.Add(1)
	} else {
		e.stats.Failed.Add(1)
		e.stats.ByReason[v.Reason].Add(1)
	}
	return v
}

func (e *Engine) evaluate(order *types.Order, bucket uint64, tsc uint64) Verdict {
	// 1. Kill switch.
	if v := e.checkKillSwitch(order); !v.Approved {
		return v
	}

	// 2. Rate limit, then cancel-ratio, both on the clock-bucket windows.
	if !e.limiter.Allow(order.SymbolID, bucket) {
		return rejected(ReasonRateLimit)
	}
	e.cancels.RecordOrder(bucket)
	if e.cancels.Breached(bucket) {
		return rejected(ReasonCancelRatioLimit)
	}

	pos, err := e.positions.Get(order.SymbolID)
	if err != nil {
		// An unregistered symbol cannot be position-checked; fail closed.
		return rejected(ReasonMarketConditions)
	}
	markPx := order.Price
	if markPx == types.MarketPrice {
		markPx = e.market.Mid(order.SymbolID)
		if markPx == 0 {
			// Thin book: fall back to the last traded mark; with no
			// reference at all, fail closed.
			markPx = pos.MarkPx
		}
		if markPx == 0 {
			return rejected(ReasonMarketConditions)
		}
	}

	// 3. Per-symbol position limit on the proposed delta.
	proposed := proposedNet(pos.NetQty, order)
	if e.cfg.MaxPositionQty > 0 && absI64(proposed) > int64(e.cfg.MaxPositionQty) {
		return rejected(ReasonPositionLimit)
	}

	// 4. Per-order notional.
	notional := types.NotionalAt(markPx, order.Quantity)
	if e.cfg.MaxOrderNotional > 0 && notional > e.cfg.MaxOrderNotional {
		return rejected(ReasonOrderValueLimit)
	}

	// 5. Daily volume.
	if e.cfg.MaxDailyVolume > 0 && e.dailyVolume+notional > e.cfg.MaxDailyVolume {
		return rejected(ReasonDailyVolumeLimit)
	}

	// 6. Concentration.
	if v := e.checkConcentration(&pos, order, markPx); !v.Approved {
		return v
	}

	// 7. Market conditions.
	if e.cfg.MaxSpreadBps > 0 {
		spread := e.market.SpreadBps(order.SymbolID)
		if spread <= 0 || spread > e.cfg.MaxSpreadBps+e.cfg.Epsilon {
			return rejected(ReasonMarketConditions)
		}
	}

	// 8. Portfolio VaR (most expensive, last).
	if v := e.checkVaR(order, proposed-pos.NetQty, markPx, tsc); !v.Approved {
		return v
	}

	return approved
}

// checkKillSwitch applies the level semantics against the current position.
func (e *Engine) checkKillSwitch(order *types.Order) Verdict {
	level := e.killSwitch.Level()
	if level == LevelNone {
		return approved
	}
	if level >= LevelEmergencyStop {
		return rejected(ReasonKillSwitch)
	}

	pos, err := e.positions.Get(order.SymbolID)
	if err != nil {
		return rejected(ReasonKillSwitch)
	}
	proposed := proposedNet(pos.NetQty, order)

	switch level {
	case LevelReduceOnly:
		// Reject anything that would increase absolute position.
		if absI64(proposed) > absI64(pos.NetQty) {
			return rejected(ReasonKillSwitch)
		}
	case LevelCloseOnly:
		// Reject anything that is not strictly reducing.
		if absI64(proposed) >= absI64(pos.NetQty) {
			return rejected(ReasonKillSwitch)
		}
	}
	return approved
}

func (e *Engine) checkConcentration(pos *position.Position, order *types.Order, markPx uint64) Verdict {
	if e.cfg.MaxConcentration <= 0 {
		return approved
	}
	agg := e.positions.Aggregate()

	proposed := proposedNet(pos.NetQty, order)
	symbolExposure := absI64(proposed) * int64(markPx)
	delta := symbolExposure - absI64(pos.NetQty)*int64(pos.MarkPx)
	gross := int64(agg.GrossExposure) + delta
	if gross <= 0 {
		return approved
	}
	if float64(symbolExposure)/float64(gross) > e.cfg.MaxConcentration+e.cfg.Epsilon {
		return rejected(ReasonConcentrationLimit)
	}
	return approved
}

func (e *Engine) checkVaR(order *types.Order, deltaQty int64, markPx uint64, tsc uint64) Verdict {
	if e.varModel == nil || e.cfg.VaRLimit <= 0 {
		return approved
	}
	if tsc-e.lastVaRTSC >= e.cfg.VaRIntervalTSC {
		notionals := make(map[uint32]int64)
		for _, p := range e.positions.Snapshot() {
			notionals[p.SymbolID] = p.NetQty * int64(p.MarkPx)
		}
		e.varModel.Recompute(notionals)
		e.lastVaRTSC = tsc
	}
	projected := e.varModel.WithDelta(order.SymbolID, deltaQty*int64(markPx))
	if projected > e.cfg.VaRLimit+e.cfg.Epsilon {
		e.varBreaches++
		return rejected(ReasonPortfolioVaRLimit)
	}
	return approved
}

// RecordFill accrues traded notional toward the daily-volume cap. Called by
// the OMS on each fill; runs on the same thread as CheckOrder.
func (e *Engine) RecordFill(fill *types.Fill) {
	e.dailyVolume += types.NotionalAt(fill.Price, fill.Quantity)
}

// RecordCancel feeds the cancel-ratio window.
func (e *Engine) RecordCancel(bucket uint64) {
	e.cancels.RecordCancel(bucket)
}

// VaRBreaches returns the session breach count, one of the kill-switch
// trigger inputs.
func (e *Engine) VaRBreaches() uint32 { return e.varBreaches }

// proposedNet returns the net position if the order filled completely.
func proposedNet(net int64, order *types.Order) int64 {
	if order.Side == types.SideBuy {
		return net + int64(order.Remaining())
	}
	return net - int64(order.Remaining())
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
