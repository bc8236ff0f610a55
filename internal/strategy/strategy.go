// Package strategy contains the signal-generating strategies, their shared
// runtime contract, and the manager that allocates capital across them.
package strategy

import (
	"fmt"
	"math"

	"github.com/abdoElHodaky/hftcore/internal/types"
	"go.uber.org/zap"
)

// Kind identifies a strategy implementation. Strategies are a closed set.
type Kind uint8

const (
	KindScalping Kind = iota
	KindMomentum
	KindMeanReversion
	KindMarketMaking
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindScalping:
		return "scalping"
	case KindMomentum:
		return "momentum"
	case KindMeanReversion:
		return "mean_reversion"
	case KindMarketMaking:
		return "market_making"
	default:
		return "unknown"
	}
}

// Strategy is the runtime contract every implementation satisfies. All
// methods are called from the strategy's shard worker only.
type Strategy interface {
	// ID returns the strategy id used on orders and signals.
	ID() uint32

	// Name returns the display name.
	Name() string

	// Kind returns the implementation kind.
	Kind() Kind

	// Symbols returns the symbol ids this strategy trades.
	Symbols() []uint32

	// OnMarketData updates internal state from a normalized event.
	OnMarketData(ev *types.MarketDataEvent)

	// OnOrderFill reconciles a fill against the strategy's own position
	// view and performance metrics.
	OnOrderFill(order *types.Order, fill *types.Fill)

	// OnTick runs periodic maintenance: timers, stop adjustments, quote
	// refresh.
	OnTick(tsc uint64)

	// DrainSignals moves pending signals into buf and returns the count.
	DrainSignals(buf []types.Signal) int

	// Metrics returns a read-only snapshot of performance counters.
	Metrics() Metrics
}

// Metrics is the per-strategy performance snapshot.
type Metrics struct {
	SignalsGenerated uint64
	OrdersExecuted   uint64
	TotalTrades      uint64
	WinningTrades    uint64
	LosingTrades     uint64
	RealizedPnL      int64 // micro currency
	UnrealizedPnL    int64
	MaxDrawdown      float64
	WinRate          float64
	SharpeRatio      float64
}

// maxPendingSignals bounds the per-strategy signal buffer; emissions past
// the bound are dropped and counted.
const maxPendingSignals = 256

// base carries the state common to all implementations: signal buffering,
// the strategy-local position view, and performance accounting.
type base struct {
	id      uint32
	name    string
	kind    Kind
	symbols []uint32
	logger  *zap.Logger

	pending []types.Signal
	dropped uint64

	// Strategy-local position view, reconciled from fills.
	net   map[uint32]int64
	avgPx map[uint32]uint64
	mark  map[uint32]uint64

	metrics      Metrics
	equityHWM    float64
	equity       float64
	returnsStats *RollingStats
}

func newBase(id uint32, name string, kind Kind, symbols []uint32, logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		id:           id,
		name:         name,
		kind:         kind,
		symbols:      symbols,
		logger:       logger,
		pending:      make([]types.Signal, 0, maxPendingSignals),
		net:          make(map[uint32]int64),
		avgPx:        make(map[uint32]uint64),
		mark:         make(map[uint32]uint64),
		returnsStats: NewRollingStats(ReturnSampleWindow),
	}
}

// ReturnSampleWindow is the per-strategy return window backing the Sharpe
// estimate.
const ReturnSampleWindow = 256

func (b *base) ID() uint32        { return b.id }
func (b *base) Name() string      { return b.name }
func (b *base) Kind() Kind        { return b.kind }
func (b *base) Symbols() []uint32 { return b.symbols }

// emit queues a signal for the manager, dropping when the buffer is full.
func (b *base) emit(sig types.Signal) {
	if len(b.pending) >= maxPendingSignals {
		b.dropped++
		return
	}
	sig.StrategyID = b.id
	b.pending = append(b.pending, sig)
	b.metrics.SignalsGenerated++
}

// DrainSignals moves pending signals into buf and returns the count.
func (b *base) DrainSignals(buf []types.Signal) int {
	n := copy(buf, b.pending)
	remaining := copy(b.pending, b.pending[n:])
	b.pending = b.pending[:remaining]
	return n
}

// applyFill reconciles a fill into the local position view and realizes
// P&L on closing quantity.
func (b *base) applyFill(fill *types.Fill) {
	net := b.net[fill.SymbolID]
	avg := b.avgPx[fill.SymbolID]
	qty := int64(fill.Quantity)
	px := int64(fill.Price)

	signed := qty
	if fill.Side == types.SideSell {
		signed = -qty
	}

	switch {
	case net == 0 || (net > 0) == (signed > 0):
		// Extending: recompute average.
		total := absI64(net) + qty
		if total > 0 {
			b.avgPx[fill.SymbolID] = uint64((int64(avg)*absI64(net) + px*qty) / total)
		}
	default:
		// Closing (possibly flipping).
		closeQty := qty
		if closeQty > absI64(net) {
			closeQty = absI64(net)
		}
		var pnl int64
		if net > 0 {
			pnl = (px - int64(avg)) * closeQty
		} else {
			pnl = (int64(avg) - px) * closeQty
		}
		b.recordTrade(pnl)
		if qty > absI64(net) {
			// Flipped: remainder opens at fill price.
			b.avgPx[fill.SymbolID] = uint64(px)
		}
	}

	b.net[fill.SymbolID] = net + signed
	if b.net[fill.SymbolID] == 0 {
		b.avgPx[fill.SymbolID] = 0
	}
	b.mark[fill.SymbolID] = fill.Price
	b.metrics.OrdersExecuted++
	b.refreshUnrealized()
}

// recordTrade folds a realized trade result into the metrics.
func (b *base) recordTrade(pnl int64) {
	b.metrics.RealizedPnL += pnl
	b.metrics.TotalTrades++
	if pnl > 0 {
		b.metrics.WinningTrades++
	} else if pnl < 0 {
		b.metrics.LosingTrades++
	}
	if b.metrics.TotalTrades > 0 {
		b.metrics.WinRate = float64(b.metrics.WinningTrades) / float64(b.metrics.TotalTrades)
	}

	ret := float64(pnl) / float64(types.PriceScale)
	b.returnsStats.Add(ret)
	if sd := b.returnsStats.StdDev(); sd > 0 {
		b.metrics.SharpeRatio = b.returnsStats.Mean() / sd * math.Sqrt(252)
	}

	b.equity += ret
	if b.equity > b.equityHWM {
		b.equityHWM = b.equity
	}
	if dd := b.equityHWM - b.equity; b.equityHWM > 0 {
		frac := dd / b.equityHWM
		if frac > b.metrics.MaxDrawdown {
			b.metrics.MaxDrawdown = frac
		}
	}
}

// refreshUnrealized recomputes mark-to-market P&L over the local view.
func (b *base) refreshUnrealized() {
	var u int64
	for sym, net := range b.net {
		if net == 0 {
			continue
		}
		mark := int64(b.mark[sym])
		avg := int64(b.avgPx[sym])
		if mark == 0 {
			continue
		}
		if net > 0 {
			u += (mark - avg) * net
		} else {
			u += (avg - mark) * -net
		}
	}
	b.metrics.UnrealizedPnL = u
}

// markPrice records a traded price for mark-to-market without a fill.
func (b *base) markPrice(symbolID uint32, px uint64) {
	b.mark[symbolID] = px
	b.refreshUnrealized()
}

// Metrics returns the performance snapshot.
func (b *base) Metrics() Metrics { return b.metrics }

// netQty returns the strategy-local net position for a symbol.
func (b *base) netQty(symbolID uint32) int64 { return b.net[symbolID] }

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Params is the kind-specific parameter bag from config.
type Params map[string]float64

// get reads a parameter with a default.
func (p Params) get(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Config describes one strategy instance from configuration.
type Config struct {
	Kind    Kind
	ID      uint32
	Name    string
	Symbols []uint32
	Params  Params
	Seed    int64
}

// New constructs a strategy from config. Unknown kinds are a config error.
func New(cfg Config, logger *zap.Logger) (Strategy, error) {
	switch cfg.Kind {
	case KindScalping:
		return NewScalping(cfg, logger), nil
	case KindMomentum:
		return NewMomentum(cfg, logger), nil
	case KindMeanReversion:
		return NewMeanReversion(cfg, logger), nil
	case KindMarketMaking:
		return NewMarketMaking(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown strategy kind %d", cfg.Kind)
	}
}
