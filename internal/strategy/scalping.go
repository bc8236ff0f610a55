package strategy

import (
	"github.com/abdoElHodaky/hftcore/internal/types"
	"go.uber.org/zap"
)

// scalpState is the per-symbol state for the scalping strategy.
type scalpState struct {
	prices  *RollingStats
	volumes *RollingStats

	inTrade   bool
	direction int8 // +1 long, -1 short
	entryPx   uint64
	targetPx  uint64
	stopPx    uint64
	entryTSC  uint64
	qty       uint64
}

// Scalping trades short-horizon momentum bursts confirmed by a volume
// surge, one position at a time per symbol, exiting at a fixed tick target,
// a fixed tick stop, or a holding-time timeout.
type Scalping struct {
	base

	entryThreshold  float64 // fractional price move over the lookback
	profitTicks     uint64
	stopTicks       uint64
	tickSize        uint64
	qty             uint64
	minVolume       float64
	surgeMultiplier float64
	maxHoldTSC      uint64
	lookback        int

	state map[uint32]*scalpState
}

// NewScalping creates a scalping strategy from config.
func NewScalping(cfg Config, logger *zap.Logger) *Scalping {
	p := cfg.Params
	s := &Scalping{
		base:            newBase(cfg.ID, cfg.Name, KindScalping, cfg.Symbols, logger),
		entryThreshold:  p.get("entry_threshold", 0.0002),
		profitTicks:     uint64(p.get("profit_target_ticks", 2)),
		stopTicks:       uint64(p.get("stop_loss_ticks", 3)),
		tickSize:        uint64(p.get("tick_size", 10_000)), // 0.01 at 6dp
		qty:             uint64(p.get("quantity", 100)),
		minVolume:       p.get("min_volume", 10_000),
		surgeMultiplier: p.get("volume_surge_multiplier", 2.0),
		maxHoldTSC:      uint64(p.get("max_hold_ns", 5e9)),
		lookback:        int(p.get("momentum_lookback", 20)),
		state:           make(map[uint32]*scalpState),
	}
	for _, sym := range cfg.Symbols {
		s.state[sym] = &scalpState{
			prices:  NewRollingStats(s.lookback),
			volumes: NewRollingStats(s.lookback),
		}
	}
	return s
}

// OnMarketData updates per-symbol momentum state and emits entry or exit
// signals.
func (s *Scalping) OnMarketData(ev *types.MarketDataEvent) {
	if ev.Kind != types.EventTrade {
		return
	}
	st, ok := s.state[ev.SymbolID]
	if !ok {
		return
	}

	st.prices.Add(float64(ev.Price))
	st.volumes.Add(float64(ev.Quantity))
	s.markPrice(ev.SymbolID, ev.Price)

	if st.inTrade {
		s.checkExit(ev.SymbolID, st, ev.Price, ev.TimestampTSC)
		return
	}
	if !st.prices.Full() {
		return
	}

	vals := st.prices.Values()
	first, last := vals[0], vals[len(vals)-1]
	if first == 0 {
		return
	}
	momentum := (last - first) / first

	avgVol := st.volumes.Mean()
	surge := avgVol >= s.minVolume/float64(s.lookback) &&
		float64(ev.Quantity) > s.surgeMultiplier*avgVol
	if !surge {
		return
	}

	switch {
	case momentum > s.entryThreshold:
		s.enter(ev.SymbolID, st, +1, ev.Price, ev.TimestampTSC)
	case momentum < -s.entryThreshold:
		s.enter(ev.SymbolID, st, -1, ev.Price, ev.TimestampTSC)
	}
}

// enter opens a tracked trade and emits the entry signal.
func (s *Scalping) enter(symbolID uint32, st *scalpState, dir int8, px uint64, tsc uint64) {
	st.inTrade = true
	st.direction = dir
	st.entryPx = px
	st.entryTSC = tsc
	st.qty = s.qty
	if dir > 0 {
		st.targetPx = px + s.profitTicks*s.tickSize
		st.stopPx = px - s.stopTicks*s.tickSize
	} else {
		st.targetPx = px - s.profitTicks*s.tickSize
		st.stopPx = px + s.stopTicks*s.tickSize
	}

	s.emit(types.Signal{
		TimestampTSC:   tsc,
		SymbolID:       symbolID,
		Strength:       float64(dir),
		Confidence:     0.7,
		SuggestedQty:   st.qty,
		SuggestedPrice: types.MarketPrice,
		UrgencyMs:      5,
		Kind:           types.SignalEntry,
	})
	s.logger.Debug("Scalp entry",
		zap.Uint32("symbol", symbolID),
		zap.Int8("direction", dir),
		zap.Uint64("price", px))
}

// checkExit closes the trade at target, stop, or timeout.
func (s *Scalping) checkExit(symbolID uint32, st *scalpState, px uint64, tsc uint64) {
	var reason string
	switch {
	case st.direction > 0 && px >= st.targetPx, st.direction < 0 && px <= st.targetPx:
		reason = "target"
	case st.direction > 0 && px <= st.stopPx, st.direction < 0 && px >= st.stopPx:
		reason = "stop"
	case tsc-st.entryTSC >= s.maxHoldTSC:
		reason = "timeout"
	default:
		return
	}

	s.emit(types.Signal{
		TimestampTSC:   tsc,
		SymbolID:       symbolID,
		Strength:       -float64(st.direction),
		Confidence:     1.0,
		SuggestedQty:   st.qty,
		SuggestedPrice: types.MarketPrice,
		UrgencyMs:      1,
		Kind:           types.SignalExit,
	})
	s.logger.Debug("Scalp exit",
		zap.Uint32("symbol", symbolID),
		zap.String("reason", reason),
		zap.Uint64("price", px))
	st.inTrade = false
	st.direction = 0
}

// OnOrderFill reconciles fills into the local view.
func (s *Scalping) OnOrderFill(order *types.Order, fill *types.Fill) {
	s.applyFill(fill)
}

// OnTick sweeps holding-time exits even when the tape is quiet.
func (s *Scalping) OnTick(tsc uint64) {
	for sym, st := range s.state {
		if st.inTrade && tsc-st.entryTSC >= s.maxHoldTSC {
			s.checkExit(sym, st, s.mark[sym], tsc)
		}
	}
}
