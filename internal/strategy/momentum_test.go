package strategy

import (
	"testing"

	"github.com/abdoElHodaky/hftcore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMomentum(t *testing.T) *Momentum {
	t.Helper()
	s, err := New(Config{
		Kind: KindMomentum, ID: 5, Name: "mom", Symbols: []uint32{1},
		Params: Params{
			"fast_period":                    3,
			"slow_period":                    6,
			"atr_period":                     3,
			"atr_stop_multiplier":            2.0,
			"vwap_band_pct":                  1.0, // wide gate for the test
			"volume_confirmation_multiplier": 1.5,
			"quantity":                       100,
			"bar_span_ns":                    10,
		},
	}, nil)
	require.NoError(t, err)
	return s.(*Momentum)
}

// feedBar pushes one trade and advances the clock one bar span, so a trade
// opens a bar and the next trade closes it: each bar holds two trades.
func feedBar(m *Momentum, price float64, qty uint64, tsc uint64) uint64 {
	m.OnMarketData(&types.MarketDataEvent{
		Kind: types.EventTrade, SymbolID: 1,
		Price: px(price), Quantity: qty, TimestampTSC: tsc,
	})
	return tsc + 10
}

func TestMomentum_CrossoverEntryWithVolume(t *testing.T) {
	m := newMomentum(t)

	// Flat tape: averages converge, no cross, no volume surge.
	tsc := uint64(1)
	for i := 0; i < 15; i++ {
		tsc = feedBar(m, 100.0, 100, tsc)
	}
	assert.Empty(t, drain(m))

	// A strong up-move on surging volume crosses fast over slow.
	var sigs []types.Signal
	for i := 0; i < 8 && len(sigs) == 0; i++ {
		tsc = feedBar(m, 100.0+float64(i+1)*0.5, 400, tsc)
		sigs = drain(m)
	}
	require.NotEmpty(t, sigs, "crossover with volume confirmation enters")
	assert.Equal(t, types.SignalEntry, sigs[0].Kind)
	assert.Positive(t, sigs[0].Strength)
	assert.Equal(t, uint64(100), sigs[0].SuggestedQty)
}

func TestMomentum_TrailingStopExit(t *testing.T) {
	m := newMomentum(t)

	tsc := uint64(1)
	for i := 0; i < 15; i++ {
		tsc = feedBar(m, 100.0, 100, tsc)
	}
	var entered []types.Signal
	for i := 0; i < 8 && len(entered) == 0; i++ {
		tsc = feedBar(m, 100.0+float64(i+1)*0.5, 400, tsc)
		entered = drain(m)
	}
	require.NotEmpty(t, entered)

	// A sharp reversal through the trailed stop exits the trade.
	var exited []types.Signal
	for i := 0; i < 20 && len(exited) == 0; i++ {
		tsc = feedBar(m, 99.0-float64(i)*0.5, 100, tsc)
		exited = drain(m)
	}
	require.NotEmpty(t, exited)
	assert.Equal(t, types.SignalExit, exited[0].Kind)
	assert.Negative(t, exited[0].Strength)
}
