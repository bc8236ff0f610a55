package strategy

import (
	"fmt"

	"github.com/abdoElHodaky/hftcore/internal/risk"
	"github.com/abdoElHodaky/hftcore/internal/types"
	"go.uber.org/zap"
)

// Allocation is the manager's per-strategy capital grant and limits.
// Monetary values are whole currency units.
type Allocation struct {
	Capital        uint64
	MaxDrawdown    float64 // fraction of strategy equity HWM
	DailyLossLimit uint64
	Enabled        bool
}

// DisableFunc is invoked when the manager disables a strategy, so the
// supervisor can surface it.
type DisableFunc func(strategyID uint32, name string, reason string)

// ManagerConfig carries the portfolio-level limits.
type ManagerConfig struct {
	TotalCapitalCap   uint64  // rebalancing never allocates above this
	AggregateLossCap  uint64  // currency; breach trips the kill switch
	RebalanceMinShare float64 // floor share a strategy keeps while enabled
}

// Manager owns the strategies: it collects their signals, scales quantities
// by capital share, enforces per-strategy limits, and trips the kill switch
// when the aggregate loss cap breaches. A disabled strategy stays disabled
// until an operator re-enables it.
type Manager struct {
	cfg        ManagerConfig
	logger     *zap.Logger
	killSwitch *risk.KillSwitch
	onDisable  DisableFunc

	strategies map[uint32]Strategy
	order      []uint32
	allocs     map[uint32]*Allocation

	drain [maxPendingSignals]types.Signal
}

// NewManager creates an empty manager.
func NewManager(cfg ManagerConfig, ks *risk.KillSwitch, onDisable DisableFunc, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if onDisable == nil {
		onDisable = func(uint32, string, string) {}
	}
	return &Manager{
		cfg:        cfg,
		logger:     logger,
		killSwitch: ks,
		onDisable:  onDisable,
		strategies: make(map[uint32]Strategy),
		allocs:     make(map[uint32]*Allocation),
	}
}

// Register adds a strategy with its allocation.
func (m *Manager) Register(s Strategy, alloc Allocation) error {
	if _, exists := m.strategies[s.ID()]; exists {
		return fmt.Errorf("strategy id %d already registered", s.ID())
	}
	m.strategies[s.ID()] = s
	m.order = append(m.order, s.ID())
	a := alloc
	m.allocs[s.ID()] = &a
	m.logger.Info("Registered strategy",
		zap.Uint32("id", s.ID()),
		zap.String("name", s.Name()),
		zap.String("kind", s.Kind().String()),
		zap.Uint64("capital", alloc.Capital))
	return nil
}

// Strategy returns a registered strategy.
func (m *Manager) Strategy(id uint32) (Strategy, bool) {
	s, ok := m.strategies[id]
	return s, ok
}

// Allocation returns a copy of a strategy's allocation.
func (m *Manager) Allocation(id uint32) (Allocation, bool) {
	a, ok := m.allocs[id]
	if !ok {
		return Allocation{}, false
	}
	return *a, true
}

// OnMarketData fans an event out to the strategies trading its symbol.
func (m *Manager) OnMarketData(ev *types.MarketDataEvent) {
	for _, id := range m.order {
		if !m.allocs[id].Enabled {
			continue
		}
		s := m.strategies[id]
		for _, sym := range s.Symbols() {
			if sym == ev.SymbolID {
				s.OnMarketData(ev)
				break
			}
		}
	}
}

// OnOrderFill routes a fill to its owning strategy.
func (m *Manager) OnOrderFill(order *types.Order, fill *types.Fill) {
	if s, ok := m.strategies[order.StrategyID]; ok {
		s.OnOrderFill(order, fill)
	}
}

// OnTick runs periodic strategy maintenance and the limit sweep.
func (m *Manager) OnTick(tsc uint64) {
	for _, id := range m.order {
		if m.allocs[id].Enabled {
			m.strategies[id].OnTick(tsc)
		}
	}
	m.enforceLimits()
}

// Collect drains signals from all enabled strategies into out, scaling each
// signal's quantity by the strategy's capital share. Returns the count.
func (m *Manager) Collect(out []types.Signal) int {
	total := m.enabledCapital()
	n := 0
	for _, id := range m.order {
		alloc := m.allocs[id]
		if !alloc.Enabled {
			continue
		}
		s := m.strategies[id]
		cnt := s.DrainSignals(m.drain[:])
		share := 1.0
		if total > 0 {
			share = float64(alloc.Capital) / float64(total)
		}
		for i := 0; i < cnt && n < len(out); i++ {
			sig := m.drain[i]
			scaled := uint64(float64(sig.SuggestedQty) * share)
			if scaled == 0 && sig.SuggestedQty > 0 {
				scaled = 1
			}
			sig.SuggestedQty = scaled
			out[n] = sig
			n++
		}
	}
	return n
}

// enforceLimits disables strategies past their limits and checks the
// aggregate loss cap. Disables never auto-revert.
func (m *Manager) enforceLimits() {
	var aggregateLoss int64
	for _, id := range m.order {
		alloc := m.allocs[id]
		s := m.strategies[id]
		met := s.Metrics()

		pnl := met.RealizedPnL + met.UnrealizedPnL
		if pnl < 0 {
			aggregateLoss += -pnl
		}
		if !alloc.Enabled {
			continue
		}

		if alloc.MaxDrawdown > 0 && met.MaxDrawdown > alloc.MaxDrawdown {
			m.disable(id, s, "max_drawdown")
			continue
		}
		if alloc.DailyLossLimit > 0 && pnl < -int64(alloc.DailyLossLimit)*types.PriceScale {
			m.disable(id, s, "daily_loss")
		}
	}

	if m.cfg.AggregateLossCap > 0 &&
		aggregateLoss > int64(m.cfg.AggregateLossCap)*types.PriceScale {
		m.killSwitch.Escalate(risk.LevelReduceOnly, "aggregate strategy loss cap")
	}
}

// disable turns a strategy off and notifies the supervisor.
func (m *Manager) disable(id uint32, s Strategy, reason string) {
	m.allocs[id].Enabled = false
	m.logger.Warn("Strategy disabled",
		zap.Uint32("id", id),
		zap.String("name", s.Name()),
		zap.String("reason", reason))
	m.onDisable(id, s.Name(), reason)
}

// Enable re-enables a strategy. Operator action only.
func (m *Manager) Enable(id uint32) bool {
	alloc, ok := m.allocs[id]
	if !ok {
		return false
	}
	alloc.Enabled = true
	return true
}

// enabledCapital sums capital across enabled strategies.
func (m *Manager) enabledCapital() uint64 {
	var total uint64
	for _, id := range m.order {
		if m.allocs[id].Enabled {
			total += m.allocs[id].Capital
		}
	}
	return total
}

// Rebalance reweights allocations by recent risk-adjusted performance
// (Sharpe), keeping each enabled strategy at or above the configured floor
// share (an equal split when the floors alone exceed the whole) and never
// allocating above the total cap.
func (m *Manager) Rebalance() {
	total := m.enabledCapital()
	if total == 0 {
		return
	}
	if m.cfg.TotalCapitalCap > 0 && total > m.cfg.TotalCapitalCap {
		total = m.cfg.TotalCapitalCap
	}

	scores := make(map[uint32]float64, len(m.order))
	var scoreSum float64
	for _, id := range m.order {
		if !m.allocs[id].Enabled {
			continue
		}
		// Shift Sharpe into positive territory so losers keep a floor.
		score := m.strategies[id].Metrics().SharpeRatio + 2.0
		if score < 0.1 {
			score = 0.1
		}
		scores[id] = score
		scoreSum += score
	}
	if scoreSum == 0 {
		return
	}

	// Each strategy gets the floor share plus a Sharpe-weighted part of what
	// the floors leave, so shares sum to one and the total stays in bounds.
	floor := m.cfg.RebalanceMinShare
	if n := float64(len(scores)); floor*n > 1 {
		floor = 1 / n
	}
	spare := 1 - floor*float64(len(scores))
	for id, score := range scores {
		share := floor + spare*score/scoreSum
		m.allocs[id].Capital = uint64(float64(total) * share)
	}
	m.logger.Info("Rebalanced allocations",
		zap.Int("strategies", len(scores)),
		zap.Uint64("total_capital", total))
}

// MetricsByStrategy returns a snapshot of every strategy's metrics.
func (m *Manager) MetricsByStrategy() map[uint32]Metrics {
	out := make(map[uint32]Metrics, len(m.order))
	for _, id := range m.order {
		out[id] = m.strategies[id].Metrics()
	}
	return out
}
