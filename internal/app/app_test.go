package app

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/hftcore/internal/config"
	"github.com/abdoElHodaky/hftcore/internal/marketdata"
	"github.com/abdoElHodaky/hftcore/internal/types"
)

// scriptedIngress replays queued packets through the Ingress trait.
type scriptedIngress struct {
	packets []marketdata.Packet
}

func (s *scriptedIngress) RecvBurst(buf []marketdata.Packet) int {
	n := copy(buf, s.packets)
	s.packets = s.packets[n:]
	return n
}

func testConfig() *config.Config {
	return &config.Config{
		Cores: config.CoresConfig{Ingress: -1, Risk: -1, Router: -1, Supervisor: -1},
		Book: config.BookConfig{
			MaxOrdersPerBook: 10_000,
			MaxLevelsPerSide: 1_000,
			SnapshotDepth:    16,
		},
		Risk: config.RiskConfig{
			RateLimitPerSec:        1000,
			MaxOrderNotional:       100_000_000,
			MaxPositionQty:         1_000_000,
			VaRRecomputeIntervalMs: 1000,
		},
		Symbols: []config.SymbolConfig{{
			Name:          "AAPL",
			TickSizeUnits: 10_000,
			MinPriceUnits: 10_000,
			MaxPriceUnits: 10_000_000_000,
			MaxQuantity:   1_000_000,
		}},
		Venues: []config.VenueConfig{{ID: 1, Name: "sim", Sim: true}},
		Strategies: []config.StrategyConfig{{
			Kind:    "mean_reversion",
			ID:      1,
			Name:    "mr",
			Capital: 100_000,
			TargetSymbols: []string{"AAPL"},
			Params: map[string]float64{
				"lookback":        50,
				"entry_threshold": 2.0,
				"exit_threshold":  0.5,
				"quantity":        100,
			},
		}},
		Router: config.RouterConfig{SmallOrderNotional: 1_000_000, TopK: 2, MaxVenueShare: 0.5},
		Audit:  config.AuditConfig{RingCapacity: 1024},
	}
}

// tradePacket builds a feed packet for the JSON parser.
func tradePacket(a *App, price float64) marketdata.Packet {
	payload, _ := json.Marshal(map[string]any{
		"symbol": "AAPL",
		"kind":   "trade",
		"price":  price,
		"qty":    100,
	})
	id, _ := a.Registry.Lookup("AAPL")
	return marketdata.Packet{
		TimestampTSC: a.Clock.Now(),
		SymbolID:     id,
		Payload:      payload,
	}
}

// step runs one pass of every worker loop in pipeline order.
func step(a *App) {
	a.pollIngress()
	a.pollStrategy()
	a.pollOMS()
	a.pollRouter()
	a.pollOMS()
}

func TestApp_SignalToFillPipeline(t *testing.T) {
	a, err := New(testConfig(), nil, nil)
	require.NoError(t, err)

	feed := &scriptedIngress{}
	a.AddIngress(feed)

	// Settle the mean-reversion window around 100.00.
	for i := 0; i < 60; i++ {
		px := 100.1
		if i%2 == 0 {
			px = 99.9
		}
		feed.packets = append(feed.packets, tradePacket(a, px))
	}
	step(a)

	id, _ := a.Registry.Lookup("AAPL")
	pos, err := a.Positions.Get(id)
	require.NoError(t, err)
	assert.Zero(t, pos.NetQty, "no trading while flat around the mean")

	// A spike triggers a short entry; the order flows through risk, the
	// router, the sim venue, and back as a fill.
	feed.packets = append(feed.packets, tradePacket(a, 101.5))
	step(a)
	step(a)

	pos, err = a.Positions.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(-100), pos.NetQty, "short entry filled")

	met := a.Manager.MetricsByStrategy()[1]
	assert.Positive(t, met.SignalsGenerated)
	assert.Positive(t, met.OrdersExecuted)

	// The fill is recorded against the venue latency tracker and the
	// risk engine counted the approval.
	assert.Positive(t, a.OMS.Latency().FillEWMA(1))
	assert.Positive(t, a.Risk.Stats().Passed.Load())
}

func TestApp_MarkUpdatesFlowToPositions(t *testing.T) {
	a, err := New(testConfig(), nil, nil)
	require.NoError(t, err)
	feed := &scriptedIngress{}
	a.AddIngress(feed)

	feed.packets = append(feed.packets, tradePacket(a, 123.45))
	step(a)

	id, _ := a.Registry.Lookup("AAPL")
	pos, err := a.Positions.Get(id)
	require.NoError(t, err)
	scale := float64(types.PriceScale)
	assert.Equal(t, uint64(123.45*scale+0.5), pos.MarkPx)
}

func TestApp_SnapshotContainsPositions(t *testing.T) {
	a, err := New(testConfig(), nil, nil)
	require.NoError(t, err)

	id, _ := a.Registry.Lookup("AAPL")
	snap := a.Snapshot()
	assert.Len(t, snap.Positions, 1)
	assert.Equal(t, id, snap.Positions[0].SymbolID)
}

func TestApp_ProbeExposesRings(t *testing.T) {
	a, err := New(testConfig(), nil, nil)
	require.NoError(t, err)

	h := a.Supervisor.Probe()
	require.Len(t, h.Workers, 4)
	names := make([]string, 0, 4)
	for _, w := range h.Workers {
		names = append(names, w.Name)
	}
	assert.Equal(t, []string{"ingress", "strategy", "oms-risk", "router"}, names)
	assert.NotEmpty(t, h.Queues)
	_ = fmt.Sprintf("%v", h)
}
