package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/hftcore/internal/clock"
	"github.com/abdoElHodaky/hftcore/internal/types"
)

func px(v float64) uint64 { return uint64(v*types.PriceScale + 0.5) }

type stubLatency map[uint8]float64

func (s stubLatency) AckEWMA(v uint8) float64 { return s[v] }

func venueState(venue uint8, fillRate float64, askSize uint64) types.VenueState {
	return types.VenueState{
		VenueID: venue, SymbolID: 1,
		Bid: px(99.99), Ask: px(100.01),
		BidSize: askSize, AskSize: askSize,
		FillRateEWMA: fillRate,
		Operational:  true,
	}
}

func newTestRouter(lat stubLatency) *Router {
	return New(Config{
		SmallOrderNotional: 50_000,
		TopK:               3,
		MaxVenueShare:      0.6,
	}, clock.NewOrderIDSource(1000), lat, nil)
}

func parentOrder(qty uint64, price float64) *types.Order {
	return &types.Order{
		OrderID: 1, SymbolID: 1, Side: types.SideBuy,
		Type: types.OrderTypeLimit, Price: px(price), Quantity: qty,
	}
}

func TestRouter_SmallOrderBestVenue(t *testing.T) {
	r := newTestRouter(nil)
	r.UpdateVenue(venueState(1, 0.95, 5000))
	r.UpdateVenue(venueState(2, 0.60, 5000))

	// 100 × 100.00 = 10k notional: below the small-order bound.
	dec, err := r.Route(parentOrder(100, 100.00), 1)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), dec.Primary)
	assert.Equal(t, uint8(2), dec.Backup)
	require.Len(t, dec.Children, 1)
	assert.Equal(t, uint64(100), dec.Children[0].Quantity)
	assert.Equal(t, uint64(1), dec.Children[0].ParentID)
	assert.Equal(t, uint8(1), dec.Children[0].VenueID)
}

func TestRouter_ExcludesNonOperational(t *testing.T) {
	r := newTestRouter(nil)
	best := venueState(1, 0.95, 5000)
	best.Operational = false
	r.UpdateVenue(best)
	r.UpdateVenue(venueState(2, 0.60, 5000))

	dec, err := r.Route(parentOrder(100, 100.00), 1)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), dec.Primary)
}

func TestRouter_NoVenue(t *testing.T) {
	r := newTestRouter(nil)
	down := venueState(1, 0.95, 5000)
	down.Operational = false
	r.UpdateVenue(down)

	_, err := r.Route(parentOrder(100, 100.00), 1)
	assert.ErrorIs(t, err, ErrNoVenue)
}

func TestRouter_LatencyTiebreak(t *testing.T) {
	r := newTestRouter(stubLatency{1: 900_000, 2: 80_000})
	r.UpdateVenue(venueState(1, 0.90, 5000))
	r.UpdateVenue(venueState(2, 0.90, 5000))

	dec, err := r.Route(parentOrder(100, 100.00), 1)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), dec.Primary, "equal scores resolve by ack latency")
}

func TestRouter_LargeOrderSplit(t *testing.T) {
	r := newTestRouter(nil)
	r.UpdateVenue(venueState(1, 0.90, 6000))
	r.UpdateVenue(venueState(2, 0.85, 3000))
	r.UpdateVenue(venueState(3, 0.80, 1000))

	// 10000 × 100.00 = 1M notional: split path.
	dec, err := r.Route(parentOrder(10_000, 100.00), 1)
	require.NoError(t, err)
	require.NotEmpty(t, dec.Children)
	assert.Greater(t, len(dec.Children), 1, "large order fans out")

	var total uint64
	seen := map[uint8]uint64{}
	for _, c := range dec.Children {
		total += c.Quantity
		seen[c.VenueID] = c.Quantity
		assert.Equal(t, uint64(1), c.ParentID)
	}
	// Child quantities always sum to the parent quantity.
	assert.Equal(t, uint64(10_000), total)
	// Deeper venues get more.
	assert.Greater(t, seen[1], seen[3])
}

func TestRouter_SplitRespectsVenueShareCap(t *testing.T) {
	r := New(Config{
		SmallOrderNotional: 1,
		TopK:               2,
		MaxVenueShare:      0.5,
	}, clock.NewOrderIDSource(1), nil, nil)
	r.UpdateVenue(venueState(1, 0.90, 1_000_000)) // dominant liquidity
	r.UpdateVenue(venueState(2, 0.85, 1_000))

	dec, err := r.Route(parentOrder(10_000, 100.00), 1)
	require.NoError(t, err)

	var total uint64
	for _, c := range dec.Children {
		total += c.Quantity
	}
	assert.Equal(t, uint64(10_000), total, "tail is reabsorbed")
}

func TestPerformanceTracker_QualityMoves(t *testing.T) {
	tr := NewPerformanceTracker()
	assert.InDelta(t, 0.5, tr.Quality(1, 1), 1e-9)

	for i := 0; i < 50; i++ {
		tr.RecordExecution(1, 1, 1.0, 0) // perfect fills
		tr.RecordExecution(2, 1, 0.1, 50) // poor fills, heavy slippage
	}
	assert.Greater(t, tr.Quality(1, 1), 0.7)
	assert.Less(t, tr.Quality(2, 1), 0.4)
	assert.Equal(t, uint64(50), tr.Executions(1, 1))
}
