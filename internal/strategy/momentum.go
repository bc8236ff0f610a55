package strategy

import (
	talib "github.com/markcheno/go-talib"

	"github.com/abdoElHodaky/hftcore/internal/types"
	"go.uber.org/zap"
)

// bar is a time-aggregated OHLCV sample built from trades.
type bar struct {
	open, high, low, close float64
	volume                 float64
}

// momentumState is the per-symbol state for the momentum strategy.
type momentumState struct {
	bars    []bar
	curBar  bar
	barOpen bool
	barTSC  uint64

	vwapPxVol float64
	vwapVol   float64

	fastMA float64
	slowMA float64
	atr    float64

	inTrade   bool
	direction int8
	entryPx   float64
	stopPx    float64
	highWater float64
	lowWater  float64
	qty       uint64
}

// Momentum trades fast/slow moving-average crossovers with volume
// confirmation and VWAP proximity, protected by an ATR stop that trails new
// high/low watermarks, and exits on momentum exhaustion.
type Momentum struct {
	base

	fastPeriod  int
	slowPeriod  int
	atrPeriod   int
	atrStopMult float64
	vwapBandPct float64
	volumeMult  float64
	qty         uint64
	barSpanTSC  uint64
	maxBars     int

	state map[uint32]*momentumState
}

// NewMomentum creates a momentum strategy from config.
func NewMomentum(cfg Config, logger *zap.Logger) *Momentum {
	p := cfg.Params
	m := &Momentum{
		base:        newBase(cfg.ID, cfg.Name, KindMomentum, cfg.Symbols, logger),
		fastPeriod:  int(p.get("fast_period", 9)),
		slowPeriod:  int(p.get("slow_period", 21)),
		atrPeriod:   int(p.get("atr_period", 14)),
		atrStopMult: p.get("atr_stop_multiplier", 2.0),
		vwapBandPct: p.get("vwap_band_pct", 0.002),
		volumeMult:  p.get("volume_confirmation_multiplier", 1.5),
		qty:         uint64(p.get("quantity", 100)),
		barSpanTSC:  uint64(p.get("bar_span_ns", 1e9)),
		state:       make(map[uint32]*momentumState),
	}
	m.maxBars = m.slowPeriod*4 + m.atrPeriod
	for _, sym := range cfg.Symbols {
		m.state[sym] = &momentumState{}
	}
	return m
}

// OnMarketData aggregates trades into bars and evaluates on bar close.
func (m *Momentum) OnMarketData(ev *types.MarketDataEvent) {
	if ev.Kind != types.EventTrade {
		return
	}
	st, ok := m.state[ev.SymbolID]
	if !ok {
		return
	}

	px := float64(ev.Price)
	vol := float64(ev.Quantity)
	m.markPrice(ev.SymbolID, ev.Price)

	st.vwapPxVol += px * vol
	st.vwapVol += vol

	if !st.barOpen {
		st.curBar = bar{open: px, high: px, low: px, close: px, volume: vol}
		st.barOpen = true
		st.barTSC = ev.TimestampTSC
	} else {
		if px > st.curBar.high {
			st.curBar.high = px
		}
		if px < st.curBar.low {
			st.curBar.low = px
		}
		st.curBar.close = px
		st.curBar.volume += vol
	}

	// Intrabar: manage the trailing stop against the live print.
	if st.inTrade {
		m.manageStop(ev.SymbolID, st, px, ev.TimestampTSC)
	}

	if ev.TimestampTSC-st.barTSC >= m.barSpanTSC {
		m.closeBar(ev.SymbolID, st, ev.TimestampTSC)
	}
}

// closeBar finalizes the bar, recomputes indicators, and evaluates entries.
func (m *Momentum) closeBar(symbolID uint32, st *momentumState, tsc uint64) {
	st.bars = append(st.bars, st.curBar)
	if len(st.bars) > m.maxBars {
		st.bars = st.bars[len(st.bars)-m.maxBars:]
	}
	st.barOpen = false

	if len(st.bars) < m.slowPeriod+1 || len(st.bars) < m.atrPeriod+1 {
		return
	}

	closes := make([]float64, len(st.bars))
	highs := make([]float64, len(st.bars))
	lows := make([]float64, len(st.bars))
	for i, b := range st.bars {
		closes[i] = b.close
		highs[i] = b.high
		lows[i] = b.low
	}

	fast := talib.Ema(closes, m.fastPeriod)
	slow := talib.Ema(closes, m.slowPeriod)
	atr := talib.Atr(highs, lows, closes, m.atrPeriod)

	prevFast, prevSlow := st.fastMA, st.slowMA
	st.fastMA = fast[len(fast)-1]
	st.slowMA = slow[len(slow)-1]
	st.atr = atr[len(atr)-1]
	if prevFast == 0 || prevSlow == 0 {
		return
	}

	last := st.bars[len(st.bars)-1]

	if st.inTrade {
		// Momentum exhaustion: the crossover inverts against the trade.
		if (st.direction > 0 && st.fastMA < st.slowMA) ||
			(st.direction < 0 && st.fastMA > st.slowMA) {
			m.exit(symbolID, st, tsc, "exhaustion")
		}
		return
	}

	// Volume confirmation against the recent bar average.
	var avgVol float64
	for _, b := range st.bars[:len(st.bars)-1] {
		avgVol += b.volume
	}
	avgVol /= float64(len(st.bars) - 1)
	if last.volume < m.volumeMult*avgVol {
		return
	}

	// VWAP proximity gate.
	if st.vwapVol > 0 {
		vwap := st.vwapPxVol / st.vwapVol
		if vwap > 0 {
			dev := (last.close - vwap) / vwap
			if dev > m.vwapBandPct || dev < -m.vwapBandPct {
				return
			}
		}
	}

	crossedUp := prevFast <= prevSlow && st.fastMA > st.slowMA
	crossedDown := prevFast >= prevSlow && st.fastMA < st.slowMA
	switch {
	case crossedUp:
		m.enter(symbolID, st, +1, last.close, tsc)
	case crossedDown:
		m.enter(symbolID, st, -1, last.close, tsc)
	}
}

// enter opens a trade with an ATR-multiple stop.
func (m *Momentum) enter(symbolID uint32, st *momentumState, dir int8, px float64, tsc uint64) {
	st.inTrade = true
	st.direction = dir
	st.entryPx = px
	st.highWater = px
	st.lowWater = px
	st.qty = m.qty
	if dir > 0 {
		st.stopPx = px - m.atrStopMult*st.atr
	} else {
		st.stopPx = px + m.atrStopMult*st.atr
	}

	m.emit(types.Signal{
		TimestampTSC:   tsc,
		SymbolID:       symbolID,
		Strength:       float64(dir) * 0.8,
		Confidence:     0.6,
		SuggestedQty:   st.qty,
		SuggestedPrice: types.MarketPrice,
		UrgencyMs:      50,
		Kind:           types.SignalEntry,
	})
	m.logger.Debug("Momentum entry",
		zap.Uint32("symbol", symbolID),
		zap.Int8("direction", dir),
		zap.Float64("atr", st.atr))
}

// manageStop trails the stop on new watermarks and exits when hit.
func (m *Momentum) manageStop(symbolID uint32, st *momentumState, px float64, tsc uint64) {
	if st.direction > 0 {
		if px > st.highWater {
			st.highWater = px
			if trailed := px - m.atrStopMult*st.atr; trailed > st.stopPx {
				st.stopPx = trailed
			}
		}
		if px <= st.stopPx {
			m.exit(symbolID, st, tsc, "stop")
		}
		return
	}
	if px < st.lowWater {
		st.lowWater = px
		if trailed := px + m.atrStopMult*st.atr; trailed < st.stopPx {
			st.stopPx = trailed
		}
	}
	if px >= st.stopPx {
		m.exit(symbolID, st, tsc, "stop")
	}
}

// exit closes the trade with an exit signal.
func (m *Momentum) exit(symbolID uint32, st *momentumState, tsc uint64, reason string) {
	m.emit(types.Signal{
		TimestampTSC:   tsc,
		SymbolID:       symbolID,
		Strength:       -float64(st.direction),
		Confidence:     1.0,
		SuggestedQty:   st.qty,
		SuggestedPrice: types.MarketPrice,
		UrgencyMs:      10,
		Kind:           types.SignalExit,
	})
	m.logger.Debug("Momentum exit",
		zap.Uint32("symbol", symbolID),
		zap.String("reason", reason))
	st.inTrade = false
	st.direction = 0
}

// OnOrderFill reconciles fills into the local view.
func (m *Momentum) OnOrderFill(order *types.Order, fill *types.Fill) {
	m.applyFill(fill)
}

// OnTick closes a dangling bar when the tape goes quiet mid-bar.
func (m *Momentum) OnTick(tsc uint64) {
	for sym, st := range m.state {
		if st.barOpen && tsc-st.barTSC >= m.barSpanTSC {
			m.closeBar(sym, st, tsc)
		}
	}
}
