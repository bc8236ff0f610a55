package strategy

import (
	"math"
	"math/rand"

	"github.com/abdoElHodaky/hftcore/internal/types"
	"go.uber.org/zap"
)

// mmState is the per-symbol quoting state.
type mmState struct {
	lastMid      uint64
	lastQuoteTSC uint64
	quoting      bool

	vol *RollingStats // rolling mid returns for volatility sizing

	// Adverse-selection tracking: fills followed by the mid moving through
	// our quote within the horizon.
	recentFills   []mmFill
	adverseCount  uint64
	fillCount     uint64
	quotesPulled  bool
}

// mmFill remembers a fill long enough to score it for adverse selection.
type mmFill struct {
	side types.Side
	px   uint64
	tsc  uint64
}

// MarketMaking quotes both sides around the mid, skewing for inventory and
// sizing down as inventory or volatility grows. Quotes refresh when the
// market moves a tick or the refresh interval lapses; quoting stops while
// the adverse-selection ratio is above its bound. The quote-pull gate is
// strategy-local: it never touches the kill switch.
type MarketMaking struct {
	base

	tickSize       uint64
	spreadTicks    uint64
	baseQty        uint64
	maxInventory   int64
	skewTicksMax   float64
	refreshTSC     uint64
	adverseBound   float64
	adverseHorizon uint64
	volWindow      int
	jitter         *rand.Rand

	state map[uint32]*mmState
}

// NewMarketMaking creates a market-making strategy from config. The jitter
// PRNG is explicitly seeded so a given stream reproduces the same quotes.
func NewMarketMaking(cfg Config, logger *zap.Logger) *MarketMaking {
	p := cfg.Params
	m := &MarketMaking{
		base:           newBase(cfg.ID, cfg.Name, KindMarketMaking, cfg.Symbols, logger),
		tickSize:       uint64(p.get("tick_size", 10_000)),
		spreadTicks:    uint64(p.get("spread_ticks", 2)),
		baseQty:        uint64(p.get("base_quantity", 200)),
		maxInventory:   int64(p.get("max_inventory", 2000)),
		skewTicksMax:   p.get("skew_ticks_max", 3),
		refreshTSC:     uint64(p.get("refresh_ns", 250e6)),
		adverseBound:   p.get("adverse_selection_bound", 0.4),
		adverseHorizon: uint64(p.get("adverse_horizon_ns", 500e6)),
		volWindow:      int(p.get("vol_window", 64)),
		jitter:         rand.New(rand.NewSource(cfg.Seed)),
		state:          make(map[uint32]*mmState),
	}
	for _, sym := range cfg.Symbols {
		m.state[sym] = &mmState{vol: NewRollingStats(m.volWindow)}
	}
	return m
}

// OnMarketData refreshes quotes when the mid moves a tick and scores
// outstanding fills for adverse selection.
func (m *MarketMaking) OnMarketData(ev *types.MarketDataEvent) {
	st, ok := m.state[ev.SymbolID]
	if !ok {
		return
	}

	var mid uint64
	switch ev.Kind {
	case types.EventQuote:
		if ev.BidPrice == 0 || ev.AskPrice == 0 {
			return
		}
		mid = (ev.BidPrice + ev.AskPrice) / 2
	case types.EventTrade:
		mid = ev.Price
	default:
		return
	}
	m.markPrice(ev.SymbolID, mid)

	if st.lastMid != 0 {
		ret := (float64(mid) - float64(st.lastMid)) / float64(st.lastMid)
		st.vol.Add(ret)
	}
	m.scoreAdverse(st, mid, ev.TimestampTSC)

	moved := st.lastMid == 0 || absDiff(mid, st.lastMid) >= m.tickSize
	if moved {
		m.refreshQuotes(ev.SymbolID, st, mid, ev.TimestampTSC)
	}
	st.lastMid = mid
}

// OnTick refreshes stale quotes on the configured interval.
func (m *MarketMaking) OnTick(tsc uint64) {
	for sym, st := range m.state {
		if st.lastMid != 0 && tsc-st.lastQuoteTSC >= m.refreshTSC {
			m.refreshQuotes(sym, st, st.lastMid, tsc)
		}
	}
}

// refreshQuotes emits a two-sided quote unless the adverse-selection gate
// is closed.
func (m *MarketMaking) refreshQuotes(symbolID uint32, st *mmState, mid uint64, tsc uint64) {
	if m.adverseRatio(st) > m.adverseBound {
		if !st.quotesPulled {
			st.quotesPulled = true
			m.logger.Debug("Quotes pulled on adverse selection",
				zap.Uint32("symbol", symbolID),
				zap.Float64("ratio", m.adverseRatio(st)))
		}
		st.quoting = false
		return
	}
	st.quotesPulled = false

	inv := m.netQty(symbolID)
	invRatio := float64(inv) / float64(m.maxInventory)
	if invRatio > 1 {
		invRatio = 1
	} else if invRatio < -1 {
		invRatio = -1
	}

	// Inventory skew shifts both quotes away from accumulating more.
	skewTicks := int64(math.Round(-invRatio * m.skewTicksMax))
	half := int64(m.spreadTicks) * int64(m.tickSize) / 2
	if half < int64(m.tickSize) {
		half = int64(m.tickSize)
	}
	// Snap the center to the tick grid so both quotes price-validate.
	center := (int64(mid)/int64(m.tickSize))*int64(m.tickSize) + skewTicks*int64(m.tickSize)

	// Size shrinks with inventory and with volatility.
	size := float64(m.baseQty) * (1 - math.Abs(invRatio))
	if sd := st.vol.StdDev(); sd > 0 {
		size /= 1 + sd*1e3
	}
	qty := uint64(size)
	if qty == 0 {
		st.quoting = false
		return
	}
	// A sub-tick jitter value is drawn from the seeded PRNG and discarded;
	// it changes neither the quote prices nor the refresh timing.
	_ = m.jitter.Int63n(int64(m.tickSize))

	bid := uint64(center - half)
	ask := uint64(center + half)

	m.emit(types.Signal{
		TimestampTSC:   tsc,
		SymbolID:       symbolID,
		Strength:       0.3,
		Confidence:     0.5,
		SuggestedQty:   qty,
		SuggestedPrice: bid,
		UrgencyMs:      200,
		Kind:           types.SignalEntry,
	})
	m.emit(types.Signal{
		TimestampTSC:   tsc,
		SymbolID:       symbolID,
		Strength:       -0.3,
		Confidence:     0.5,
		SuggestedQty:   qty,
		SuggestedPrice: ask,
		UrgencyMs:      200,
		Kind:           types.SignalEntry,
	})
	st.quoting = true
	st.lastQuoteTSC = tsc
}

// scoreAdverse retires fills past the horizon, counting the ones the mid
// moved through.
func (m *MarketMaking) scoreAdverse(st *mmState, mid uint64, tsc uint64) {
	keep := st.recentFills[:0]
	for _, f := range st.recentFills {
		if tsc-f.tsc < m.adverseHorizon {
			keep = append(keep, f)
			continue
		}
		st.fillCount++
		adverse := (f.side == types.SideBuy && mid < f.px) ||
			(f.side == types.SideSell && mid > f.px)
		if adverse {
			st.adverseCount++
		}
	}
	st.recentFills = keep
}

// adverseRatio returns the scored adverse-fill fraction.
func (m *MarketMaking) adverseRatio(st *mmState) float64 {
	if st.fillCount < 8 {
		return 0
	}
	return float64(st.adverseCount) / float64(st.fillCount)
}

// OnOrderFill reconciles fills and remembers them for adverse scoring.
func (m *MarketMaking) OnOrderFill(order *types.Order, fill *types.Fill) {
	m.applyFill(fill)
	if st, ok := m.state[fill.SymbolID]; ok {
		st.recentFills = append(st.recentFills, mmFill{
			side: fill.Side,
			px:   fill.Price,
			tsc:  fill.TSC,
		})
	}
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
