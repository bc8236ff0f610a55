package strategy

import (
	"testing"

	"github.com/abdoElHodaky/hftcore/internal/risk"
	"github.com/abdoElHodaky/hftcore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStrategy is a scripted strategy for manager tests.
type fakeStrategy struct {
	base
	queued []types.Signal
	met    Metrics
}

func newFake(id uint32, symbols []uint32) *fakeStrategy {
	return &fakeStrategy{base: newBase(id, "fake", KindScalping, symbols, nil)}
}

func (f *fakeStrategy) OnMarketData(ev *types.MarketDataEvent) {
	for _, sig := range f.queued {
		f.emit(sig)
	}
	f.queued = nil
}
func (f *fakeStrategy) OnOrderFill(order *types.Order, fill *types.Fill) { f.applyFill(fill) }
func (f *fakeStrategy) OnTick(tsc uint64)                                {}
func (f *fakeStrategy) Metrics() Metrics {
	if f.met != (Metrics{}) {
		return f.met
	}
	return f.base.Metrics()
}

func TestManager_CollectScalesByCapitalShare(t *testing.T) {
	ks := risk.NewKillSwitch(nil)
	m := NewManager(ManagerConfig{}, ks, nil, nil)

	a := newFake(1, []uint32{1})
	b := newFake(2, []uint32{1})
	require.NoError(t, m.Register(a, Allocation{Capital: 750_000, Enabled: true}))
	require.NoError(t, m.Register(b, Allocation{Capital: 250_000, Enabled: true}))

	a.queued = []types.Signal{{SymbolID: 1, SuggestedQty: 1000, Kind: types.SignalEntry}}
	b.queued = []types.Signal{{SymbolID: 1, SuggestedQty: 1000, Kind: types.SignalEntry}}
	m.OnMarketData(&types.MarketDataEvent{Kind: types.EventTrade, SymbolID: 1, Price: 1, Quantity: 1})

	out := make([]types.Signal, 16)
	n := m.Collect(out)
	require.Equal(t, 2, n)
	assert.Equal(t, uint64(750), out[0].SuggestedQty)
	assert.Equal(t, uint32(1), out[0].StrategyID)
	assert.Equal(t, uint64(250), out[1].SuggestedQty)
}

func TestManager_DisableOnDrawdownNeverAutoReverts(t *testing.T) {
	ks := risk.NewKillSwitch(nil)
	var disabled []uint32
	m := NewManager(ManagerConfig{}, ks, func(id uint32, _, _ string) {
		disabled = append(disabled, id)
	}, nil)

	f := newFake(1, []uint32{1})
	require.NoError(t, m.Register(f, Allocation{Capital: 100, MaxDrawdown: 0.10, Enabled: true}))

	f.met = Metrics{MaxDrawdown: 0.25}
	m.OnTick(1)

	require.Equal(t, []uint32{1}, disabled)
	alloc, _ := m.Allocation(1)
	assert.False(t, alloc.Enabled)

	// Recovery in metrics does not re-enable.
	f.met = Metrics{MaxDrawdown: 0.0}
	m.OnTick(2)
	alloc, _ = m.Allocation(1)
	assert.False(t, alloc.Enabled)

	// Operator action does.
	assert.True(t, m.Enable(1))
	alloc, _ = m.Allocation(1)
	assert.True(t, alloc.Enabled)
}

func TestManager_DisabledStrategyNotCollected(t *testing.T) {
	ks := risk.NewKillSwitch(nil)
	m := NewManager(ManagerConfig{}, ks, nil, nil)

	f := newFake(1, []uint32{1})
	require.NoError(t, m.Register(f, Allocation{Capital: 100, Enabled: false}))

	f.queued = []types.Signal{{SymbolID: 1, SuggestedQty: 10}}
	m.OnMarketData(&types.MarketDataEvent{Kind: types.EventTrade, SymbolID: 1})

	out := make([]types.Signal, 4)
	assert.Zero(t, m.Collect(out))
}

func TestManager_AggregateLossTripsKillSwitch(t *testing.T) {
	ks := risk.NewKillSwitch(nil)
	m := NewManager(ManagerConfig{AggregateLossCap: 1000}, ks, nil, nil)

	f := newFake(1, []uint32{1})
	require.NoError(t, m.Register(f, Allocation{Capital: 100, Enabled: true}))

	f.met = Metrics{RealizedPnL: -2000 * types.PriceScale}
	m.OnTick(1)

	assert.Equal(t, risk.LevelReduceOnly, ks.Level())
}

func TestManager_RebalanceRespectsCap(t *testing.T) {
	ks := risk.NewKillSwitch(nil)
	m := NewManager(ManagerConfig{TotalCapitalCap: 1_000_000, RebalanceMinShare: 0.1}, ks, nil, nil)

	a := newFake(1, []uint32{1})
	b := newFake(2, []uint32{1})
	require.NoError(t, m.Register(a, Allocation{Capital: 900_000, Enabled: true}))
	require.NoError(t, m.Register(b, Allocation{Capital: 900_000, Enabled: true}))

	a.met = Metrics{SharpeRatio: 2.0}
	b.met = Metrics{SharpeRatio: -1.0}
	m.Rebalance()

	allocA, _ := m.Allocation(1)
	allocB, _ := m.Allocation(2)
	assert.LessOrEqual(t, allocA.Capital+allocB.Capital, uint64(1_000_000),
		"total never exceeds the cap")
	assert.Greater(t, allocA.Capital, allocB.Capital, "better Sharpe earns more capital")
	assert.GreaterOrEqual(t, allocB.Capital, uint64(100_000), "floor share holds")
}

func TestManager_DuplicateRegistration(t *testing.T) {
	m := NewManager(ManagerConfig{}, risk.NewKillSwitch(nil), nil, nil)
	require.NoError(t, m.Register(newFake(1, nil), Allocation{}))
	assert.Error(t, m.Register(newFake(1, nil), Allocation{}))
}

func TestScalping_EntersOnMomentumWithVolumeSurge(t *testing.T) {
	s, err := New(Config{
		Kind: KindScalping, ID: 3, Name: "scalp", Symbols: []uint32{1},
		Params: Params{
			"entry_threshold":         0.0002,
			"momentum_lookback":       10,
			"min_volume":              100,
			"volume_surge_multiplier": 2.0,
			"quantity":                50,
		},
	}, nil)
	require.NoError(t, err)

	// Rising tape with ordinary volume: no surge, no entry.
	tsc := uint64(1)
	for i := 0; i < 12; i++ {
		s.OnMarketData(&types.MarketDataEvent{
			Kind: types.EventTrade, SymbolID: 1,
			Price: px(100.0 + float64(i)*0.01), Quantity: 100, TimestampTSC: tsc,
		})
		tsc++
	}
	assert.Empty(t, drain(s))

	// Surge volume on a continuing up-move: long entry.
	s.OnMarketData(&types.MarketDataEvent{
		Kind: types.EventTrade, SymbolID: 1,
		Price: px(100.15), Quantity: 500, TimestampTSC: tsc,
	})
	sigs := drain(s)
	require.Len(t, sigs, 1)
	assert.Equal(t, types.SignalEntry, sigs[0].Kind)
	assert.InDelta(t, 1.0, sigs[0].Strength, 1e-9)
	assert.Equal(t, uint64(50), sigs[0].SuggestedQty)
}

func TestMarketMaking_QuotesBothSidesAndSkews(t *testing.T) {
	s, err := New(Config{
		Kind: KindMarketMaking, ID: 4, Name: "mm", Symbols: []uint32{1},
		Params: Params{
			"tick_size":     10_000, // 0.01
			"spread_ticks":  2,
			"base_quantity": 100,
			"max_inventory": 1000,
		},
		Seed: 42,
	}, nil)
	require.NoError(t, err)
	mm := s.(*MarketMaking)

	mm.OnMarketData(&types.MarketDataEvent{
		Kind: types.EventQuote, SymbolID: 1,
		BidPrice: px(99.99), AskPrice: px(100.01), TimestampTSC: 1,
	})
	sigs := drain(mm)
	require.Len(t, sigs, 2, "two-sided quote")
	bid, ask := sigs[0], sigs[1]
	assert.Less(t, bid.SuggestedPrice, ask.SuggestedPrice)
	assert.Positive(t, bid.Strength)
	assert.Negative(t, ask.Strength)
	mid := px(100.00)
	assert.Less(t, bid.SuggestedPrice, mid)
	assert.Greater(t, ask.SuggestedPrice, mid)

	// Long inventory skews both quotes down and shrinks size.
	mm.OnOrderFill(
		&types.Order{OrderID: 1, SymbolID: 1, StrategyID: 4, Side: types.SideBuy},
		&types.Fill{SymbolID: 1, Side: types.SideBuy, Quantity: 500, Price: px(99.99), TSC: 2},
	)
	mm.OnMarketData(&types.MarketDataEvent{
		Kind: types.EventQuote, SymbolID: 1,
		BidPrice: px(100.00), AskPrice: px(100.02), TimestampTSC: 3,
	})
	skewed := drain(mm)
	require.Len(t, skewed, 2)
	assert.Less(t, skewed[0].SuggestedQty, uint64(100), "size shrinks with inventory")
	newMid := px(100.01)
	// Skewed center sits below the raw mid when long.
	center := (skewed[0].SuggestedPrice + skewed[1].SuggestedPrice) / 2
	assert.Less(t, center, newMid)
}

func TestBase_FillAccountingAndMetrics(t *testing.T) {
	f := newFake(1, []uint32{1})

	buy := &types.Fill{SymbolID: 1, Side: types.SideBuy, Quantity: 100, Price: px(10.00), TSC: 1}
	sell := &types.Fill{SymbolID: 1, Side: types.SideSell, Quantity: 100, Price: px(11.00), TSC: 2}
	f.OnOrderFill(nil, buy)
	f.OnOrderFill(nil, sell)

	met := f.base.Metrics()
	assert.Equal(t, uint64(1), met.TotalTrades)
	assert.Equal(t, uint64(1), met.WinningTrades)
	assert.Equal(t, int64(100)*int64(px(1.00)), met.RealizedPnL)
	assert.InDelta(t, 1.0, met.WinRate, 1e-9)
}
