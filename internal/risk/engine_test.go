package risk

import (
	"testing"

	"github.com/abdoElHodaky/hftcore/internal/position"
	"github.com/abdoElHodaky/hftcore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func px(v float64) uint64 { return uint64(v*types.PriceScale + 0.5) }

// stubMarket provides fixed quotes for the market-conditions rule.
type stubMarket struct {
	spread float64
	mid    uint64
}

func (m *stubMarket) SpreadBps(uint32) float64 { return m.spread }
func (m *stubMarket) Mid(uint32) uint64        { return m.mid }

func newTestEngine(cfg Config) (*Engine, *position.Store, *KillSwitch) {
	store := position.NewStore(nil)
	store.Register(1)
	ks := NewKillSwitch(nil)
	eng := NewEngine(cfg, ks, store, &stubMarket{spread: 2.0, mid: px(60.00)}, nil, nil)
	return eng, store, ks
}

func order(side types.Side, qty uint64, price float64) *types.Order {
	return &types.Order{
		OrderID:  1,
		SymbolID: 1,
		Side:     side,
		Type:     types.OrderTypeLimit,
		Price:    px(price),
		Quantity: qty,
	}
}

func TestEngine_ApprovesCleanOrder(t *testing.T) {
	eng, _, _ := newTestEngine(Config{MaxOrderNotional: 10_000_000})
	v := eng.CheckOrder(order(types.SideBuy, 100, 60.00), 0, 0)
	assert.True(t, v.Approved)
	assert.Equal(t, uint64(1), eng.Stats().Passed.Load())
}

func TestEngine_RejectsOverNotional(t *testing.T) {
	// max_order_value = 1,000,000; buy 20000 @ 60.00 = 1.2M notional.
	eng, store, _ := newTestEngine(Config{MaxOrderNotional: 1_000_000})

	v := eng.CheckOrder(order(types.SideBuy, 20000, 60.00), 0, 0)
	require.False(t, v.Approved)
	assert.Equal(t, ReasonOrderValueLimit, v.Reason)
	assert.Equal(t, uint64(1), eng.Stats().Failed.Load())

	// Position unchanged.
	p, err := store.Get(1)
	require.NoError(t, err)
	assert.Zero(t, p.NetQty)
}

func TestEngine_KillSwitchReduceOnly(t *testing.T) {
	eng, store, ks := newTestEngine(Config{})

	// Net +500.
	require.NoError(t, store.ApplyFill(&types.Fill{SymbolID: 1, Side: types.SideBuy, Quantity: 500, Price: px(60.00), TSC: 1}))
	ks.Escalate(LevelReduceOnly, "test")

	v := eng.CheckOrder(order(types.SideBuy, 100, 60.00), 0, 0)
	require.False(t, v.Approved)
	assert.Equal(t, ReasonKillSwitch, v.Reason)

	v = eng.CheckOrder(order(types.SideSell, 200, 60.00), 0, 0)
	assert.True(t, v.Approved)
}

func TestEngine_KillSwitchCloseOnly(t *testing.T) {
	eng, store, ks := newTestEngine(Config{})
	require.NoError(t, store.ApplyFill(&types.Fill{SymbolID: 1, Side: types.SideBuy, Quantity: 100, Price: px(60.00), TSC: 1}))
	ks.Escalate(LevelCloseOnly, "test")

	// Strictly reducing: approved.
	v := eng.CheckOrder(order(types.SideSell, 50, 60.00), 0, 0)
	assert.True(t, v.Approved)

	// Over-closing flips long 100 to short 100: |net| stays at 100, which
	// is not strictly reducing.
	v = eng.CheckOrder(order(types.SideSell, 200, 60.00), 0, 0)
	require.False(t, v.Approved)
	assert.Equal(t, ReasonKillSwitch, v.Reason)
}

func TestEngine_KillSwitchEmergencyStop(t *testing.T) {
	eng, _, ks := newTestEngine(Config{})
	ks.Escalate(LevelEmergencyStop, "test")
	v := eng.CheckOrder(order(types.SideSell, 1, 60.00), 0, 0)
	require.False(t, v.Approved)
	assert.Equal(t, ReasonKillSwitch, v.Reason)
}

func TestKillSwitch_Monotonic(t *testing.T) {
	ks := NewKillSwitch(nil)
	assert.True(t, ks.Escalate(LevelCloseOnly, "up"))
	assert.False(t, ks.Escalate(LevelReduceOnly, "down ignored"))
	assert.Equal(t, LevelCloseOnly, ks.Level())

	ks.Reset("operator")
	assert.Equal(t, LevelNone, ks.Level())
}

func TestEngine_RateLimit(t *testing.T) {
	eng, _, _ := newTestEngine(Config{RateLimitPerSec: 5})

	bucket := uint64(100)
	for i := 0; i < 5; i++ {
		v := eng.CheckOrder(order(types.SideBuy, 10, 60.00), bucket, 0)
		require.True(t, v.Approved, "order %d should pass", i)
	}
	v := eng.CheckOrder(order(types.SideBuy, 10, 60.00), bucket, 0)
	require.False(t, v.Approved)
	assert.Equal(t, ReasonRateLimit, v.Reason)

	// Next second's bucket admits again.
	v = eng.CheckOrder(order(types.SideBuy, 10, 60.00), bucket+1, 0)
	assert.True(t, v.Approved)
}

func TestEngine_PositionLimit(t *testing.T) {
	eng, store, _ := newTestEngine(Config{MaxPositionQty: 1000})
	require.NoError(t, store.ApplyFill(&types.Fill{SymbolID: 1, Side: types.SideBuy, Quantity: 950, Price: px(60.00), TSC: 1}))

	v := eng.CheckOrder(order(types.SideBuy, 100, 60.00), 0, 0)
	require.False(t, v.Approved)
	assert.Equal(t, ReasonPositionLimit, v.Reason)

	v = eng.CheckOrder(order(types.SideBuy, 50, 60.00), 0, 0)
	assert.True(t, v.Approved)
}

func TestEngine_DailyVolumeLimit(t *testing.T) {
	eng, _, _ := newTestEngine(Config{MaxDailyVolume: 10_000})
	eng.RecordFill(&types.Fill{SymbolID: 1, Price: px(60.00), Quantity: 150})

	// 9000 already traded; another 6000 breaches 10k.
	v := eng.CheckOrder(order(types.SideBuy, 100, 60.00), 0, 0)
	require.False(t, v.Approved)
	assert.Equal(t, ReasonDailyVolumeLimit, v.Reason)
}

func TestEngine_MarketConditions(t *testing.T) {
	store := position.NewStore(nil)
	store.Register(1)
	eng := NewEngine(Config{MaxSpreadBps: 5}, NewKillSwitch(nil), store,
		&stubMarket{spread: 50.0, mid: px(60.00)}, nil, nil)

	v := eng.CheckOrder(order(types.SideBuy, 10, 60.00), 0, 0)
	require.False(t, v.Approved)
	assert.Equal(t, ReasonMarketConditions, v.Reason)
}

func TestEngine_VaRLimit(t *testing.T) {
	store := position.NewStore(nil)
	store.Register(1)
	store.Register(2)

	cov := mat.NewSymDense(2, []float64{
		0.04, 0.01,
		0.01, 0.09,
	})
	model := NewVaRModel([]uint32{1, 2}, cov)
	eng := NewEngine(Config{VaRLimit: 100, VaRIntervalTSC: 1_000_000_000},
		NewKillSwitch(nil), store, &stubMarket{spread: 2.0, mid: px(60.00)}, model, nil)

	// A huge new exposure pushes projected VaR over 100 currency units.
	v := eng.CheckOrder(order(types.SideBuy, 100_000, 60.00), 0, 0)
	require.False(t, v.Approved)
	assert.Equal(t, ReasonPortfolioVaRLimit, v.Reason)
	assert.Equal(t, uint32(1), eng.VaRBreaches())

	// A tiny order stays under the cap.
	v = eng.CheckOrder(order(types.SideBuy, 1, 60.00), 0, 2_000_000_000)
	assert.True(t, v.Approved)
}

func TestEngine_Deterministic(t *testing.T) {
	cfg := Config{MaxOrderNotional: 1_000_000, RateLimitPerSec: 100}
	engA, _, _ := newTestEngine(cfg)
	engB, _, _ := newTestEngine(cfg)

	o := order(types.SideBuy, 20000, 60.00)
	assert.Equal(t, engA.CheckOrder(o, 5, 10), engB.CheckOrder(o, 5, 10))
}

func TestVaRModel_IncrementalMatchesFull(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{
		0.04, 0.01,
		0.01, 0.09,
	})
	model := NewVaRModel([]uint32{1, 2}, cov)
	model.Recompute(map[uint32]int64{1: 500 * 1e6, 2: -200 * 1e6})

	base := model.Portfolio()
	withDelta := model.WithDelta(1, 300*1e6)

	// Full recompute at the new position must match the incremental value.
	model.Recompute(map[uint32]int64{1: 800 * 1e6, 2: -200 * 1e6})
	assert.InDelta(t, model.Portfolio(), withDelta, 1e-6)
	assert.NotEqual(t, base, withDelta)
}

func TestCancelRatioTracker(t *testing.T) {
	tr := NewCancelRatioTracker(0.5, 4)
	bucket := uint64(10)
	for i := 0; i < 4; i++ {
		tr.RecordOrder(bucket)
	}
	assert.False(t, tr.Breached(bucket))
	tr.RecordCancel(bucket)
	tr.RecordCancel(bucket)
	tr.RecordCancel(bucket)
	assert.True(t, tr.Breached(bucket))
}
