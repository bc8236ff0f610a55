package strategy

import (
	"math"

	"github.com/abdoElHodaky/hftcore/internal/types"
	"go.uber.org/zap"
)

// mrState is the per-symbol state for the mean-reversion strategy.
type mrState struct {
	window *RollingStats
	kalman *KalmanMean

	inTrade   bool
	direction int8 // +1 long (bought the dip), -1 short (sold the spike)
	entryZ    float64
	qty       uint64

	// Pair-spread variant bookkeeping.
	history []float64
}

// MeanReversion fades deviations from a rolling mean: enter when |z| exceeds
// the entry threshold, exit when it reverts inside the exit threshold, stop
// out when it deepens further against the trade. The mean is either the
// simple window mean or a Kalman-filtered level. An optional pair-spread
// variant trades the spread between two symbols, gated on their Pearson
// correlation.
type MeanReversion struct {
	base

	lookback    int
	entryThresh float64
	exitThresh  float64
	stopDeepen  float64
	qty         uint64
	useKalman   bool

	pairMode    bool
	pairA       uint32
	pairB       uint32
	minCorr     float64
	lastPxA     float64
	lastPxB     float64
	spreadStats *RollingStats

	state map[uint32]*mrState
}

// NewMeanReversion creates a mean-reversion strategy from config. Pair mode
// activates when exactly two symbols are configured and the pair_mode
// parameter is set.
func NewMeanReversion(cfg Config, logger *zap.Logger) *MeanReversion {
	p := cfg.Params
	m := &MeanReversion{
		base:        newBase(cfg.ID, cfg.Name, KindMeanReversion, cfg.Symbols, logger),
		lookback:    int(p.get("lookback", 50)),
		entryThresh: p.get("entry_threshold", 2.0),
		exitThresh:  p.get("exit_threshold", 0.5),
		stopDeepen:  p.get("stop_deepen", 1.5),
		qty:         uint64(p.get("quantity", 100)),
		useKalman:   p.get("use_kalman", 0) != 0,
		minCorr:     p.get("min_correlation", 0.7),
		state:       make(map[uint32]*mrState),
	}
	if p.get("pair_mode", 0) != 0 && len(cfg.Symbols) == 2 {
		m.pairMode = true
		m.pairA = cfg.Symbols[0]
		m.pairB = cfg.Symbols[1]
		m.spreadStats = NewRollingStats(m.lookback)
	}
	for _, sym := range cfg.Symbols {
		st := &mrState{window: NewRollingStats(m.lookback)}
		if m.useKalman {
			st.kalman = NewKalmanMean(p.get("kalman_q", 1e-5), p.get("kalman_r", 1e-2))
		}
		m.state[sym] = st
	}
	return m
}

// OnMarketData updates the rolling statistics and evaluates entries/exits.
func (m *MeanReversion) OnMarketData(ev *types.MarketDataEvent) {
	if ev.Kind != types.EventTrade {
		return
	}
	st, ok := m.state[ev.SymbolID]
	if !ok {
		return
	}
	px := float64(ev.Price)
	m.markPrice(ev.SymbolID, ev.Price)

	if m.pairMode {
		m.onPairData(ev.SymbolID, px, ev.TimestampTSC)
		return
	}

	st.window.Add(px)
	if !st.window.Full() {
		return
	}

	z := m.zScore(st, px)
	m.evaluate(ev.SymbolID, st, z, ev.TimestampTSC)
}

// zScore computes the deviation against the configured mean estimator.
func (m *MeanReversion) zScore(st *mrState, px float64) float64 {
	if m.useKalman && st.kalman != nil {
		level := st.kalman.Update(px)
		sd := st.window.StdDev()
		if sd == 0 {
			return 0
		}
		return (px - level) / sd
	}
	return st.window.ZScore(px)
}

// evaluate applies the entry/exit/stop thresholds for one symbol or the
// pair spread.
func (m *MeanReversion) evaluate(symbolID uint32, st *mrState, z float64, tsc uint64) {
	if !st.inTrade {
		if z > m.entryThresh {
			// Rich: sell the spike.
			m.enter(symbolID, st, -1, z, tsc)
		} else if z < -m.entryThresh {
			// Cheap: buy the dip.
			m.enter(symbolID, st, +1, z, tsc)
		}
		return
	}

	reverted := math.Abs(z) < m.exitThresh
	deepened := (st.direction < 0 && z > st.entryZ+m.stopDeepen) ||
		(st.direction > 0 && z < st.entryZ-m.stopDeepen)

	if reverted || deepened {
		kind := types.SignalExit
		conf := 1.0
		if deepened {
			kind = types.SignalRiskReduce
			conf = 0.9
		}
		m.emit(types.Signal{
			TimestampTSC:   tsc,
			SymbolID:       symbolID,
			Strength:       -float64(st.direction),
			Confidence:     conf,
			SuggestedQty:   st.qty,
			SuggestedPrice: types.MarketPrice,
			UrgencyMs:      20,
			Kind:           kind,
		})
		m.logger.Debug("Mean reversion exit",
			zap.Uint32("symbol", symbolID),
			zap.Float64("z", z),
			zap.Bool("stopped", deepened))
		st.inTrade = false
		st.direction = 0
	}
}

// enter opens a position against the deviation. Strength carries the full
// conviction of the fade: -1 for shorting a rich print, +1 for buying a
// cheap one.
func (m *MeanReversion) enter(symbolID uint32, st *mrState, dir int8, z float64, tsc uint64) {
	st.inTrade = true
	st.direction = dir
	st.entryZ = z
	st.qty = m.qty

	confidence := math.Min(1.0, math.Abs(z)/(m.entryThresh*1.5))
	m.emit(types.Signal{
		TimestampTSC:   tsc,
		SymbolID:       symbolID,
		Strength:       float64(dir),
		Confidence:     confidence,
		SuggestedQty:   st.qty,
		SuggestedPrice: types.MarketPrice,
		UrgencyMs:      30,
		Kind:           types.SignalEntry,
	})
	m.logger.Debug("Mean reversion entry",
		zap.Uint32("symbol", symbolID),
		zap.Int8("direction", dir),
		zap.Float64("z", z))
}

// onPairData maintains the pair spread and trades symbol A against it. The
// pair is only tradeable while the legs stay correlated.
func (m *MeanReversion) onPairData(symbolID uint32, px float64, tsc uint64) {
	if symbolID == m.pairA {
		m.lastPxA = px
	} else {
		m.lastPxB = px
	}
	if m.lastPxA == 0 || m.lastPxB == 0 {
		return
	}

	stA := m.state[m.pairA]
	stB := m.state[m.pairB]
	stA.history = appendBounded(stA.history, m.lastPxA, m.lookback)
	stB.history = appendBounded(stB.history, m.lastPxB, m.lookback)

	spread := m.lastPxA - m.lastPxB
	m.spreadStats.Add(spread)
	if !m.spreadStats.Full() || len(stA.history) < m.lookback {
		return
	}

	if corr := Correlation(stA.history, stB.history); math.Abs(corr) < m.minCorr {
		return
	}
	m.evaluate(m.pairA, stA, m.spreadStats.ZScore(spread), tsc)
}

// appendBounded appends keeping at most n trailing values.
func appendBounded(s []float64, v float64, n int) []float64 {
	s = append(s, v)
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}

// OnOrderFill reconciles fills into the local view.
func (m *MeanReversion) OnOrderFill(order *types.Order, fill *types.Fill) {
	m.applyFill(fill)
}

// OnTick is a no-op: the strategy has no timers.
func (m *MeanReversion) OnTick(tsc uint64) {}
