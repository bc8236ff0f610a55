// Package router selects execution venues for approved orders from live
// venue state: best single venue for small orders, a size-weighted split
// across the top venues for large ones.
package router

import (
	"errors"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/hftcore/internal/clock"
	"github.com/abdoElHodaky/hftcore/internal/types"
)

// ErrNoVenue is returned when no operational venue can take the order.
var ErrNoVenue = errors.New("router: no operational venue")

// Config tunes the routing policy.
type Config struct {
	SmallOrderNotional uint64  // below this, route to a single venue
	SpreadDenomBps     float64 // spread penalty denominator in the score
	TopK               int     // venues in a large-order split
	MaxVenueShare      float64 // cap on any venue's share of a split
	LatencyTieBps      float64 // score tolerance for the latency tiebreak
}

// defaults mirror the policy constants of the execution layer.
const (
	defaultSpreadDenom   = 100.0
	defaultTopK          = 3
	defaultMaxShare      = 0.5
	defaultLatencyTieBps = 0.02
)

// Decision is the routing outcome for one parent order.
type Decision struct {
	Primary  uint8
	Backup   uint8 // 0 when no backup exists
	Children []*types.Order
}

// AckLatencySource supplies smoothed per-venue ack latency for tiebreaks.
type AckLatencySource interface {
	AckEWMA(venueID uint8) float64
}

// Router owns the venue state map. All mutation happens on the router
// worker.
type Router struct {
	cfg     Config
	logger  *zap.Logger
	ids     *clock.OrderIDSource
	latency AckLatencySource

	// venue id -> symbol id -> state
	venues  map[uint8]map[uint32]*types.VenueState
	tracker *PerformanceTracker
}

// New creates a router.
func New(cfg Config, ids *clock.OrderIDSource, latency AckLatencySource, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SpreadDenomBps == 0 {
		cfg.SpreadDenomBps = defaultSpreadDenom
	}
	if cfg.TopK == 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.MaxVenueShare == 0 {
		cfg.MaxVenueShare = defaultMaxShare
	}
	if cfg.LatencyTieBps == 0 {
		cfg.LatencyTieBps = defaultLatencyTieBps
	}
	return &Router{
		cfg:     cfg,
		logger:  logger,
		ids:     ids,
		latency: latency,
		venues:  make(map[uint8]map[uint32]*types.VenueState),
		tracker: NewPerformanceTracker(),
	}
}

// UpdateVenue installs the latest state for a venue/symbol.
func (r *Router) UpdateVenue(state types.VenueState) {
	bySymbol, ok := r.venues[state.VenueID]
	if !ok {
		bySymbol = make(map[uint32]*types.VenueState)
		r.venues[state.VenueID] = bySymbol
	}
	s := state
	bySymbol[state.SymbolID] = &s
}

// SetOperational flips a venue's operational flag across all symbols; the
// venue gateway breaker drives this.
func (r *Router) SetOperational(venueID uint8, up bool) {
	for _, st := range r.venues[venueID] {
		st.Operational = up
	}
}

// Tracker exposes the per-venue execution quality tracker.
func (r *Router) Tracker() *PerformanceTracker { return r.tracker }

// candidate is a scored venue for one order.
type candidate struct {
	state     *types.VenueState
	score     float64
	available float64
}

// Route selects venues for a parent order and returns the child orders to
// submit. The parent keeps the full quantity; children reference it.
func (r *Router) Route(parent *types.Order, tsc uint64) (Decision, error) {
	cands := r.candidates(parent)
	if len(cands) == 0 {
		return Decision{}, ErrNoVenue
	}

	notional := parent.Notional()
	if notional < r.cfg.SmallOrderNotional || len(cands) == 1 {
		return r.routeSingle(parent, cands, tsc), nil
	}
	return r.routeSplit(parent, cands, tsc), nil
}

// candidates scores the operational venues quoting this symbol.
func (r *Router) candidates(parent *types.Order) []candidate {
	var out []candidate
	for _, bySymbol := range r.venues {
		st, ok := bySymbol[parent.SymbolID]
		if !ok || !st.Operational {
			continue
		}
		spreadBps := venueSpreadBps(st)
		score := st.FillRateEWMA * (1 - spreadBps/r.cfg.SpreadDenomBps)
		score *= 0.5 + 0.5*r.tracker.Quality(st.VenueID, parent.SymbolID)
		if score < 0 {
			score = 0
		}

		visible := st.AskSize
		if parent.Side == types.SideSell {
			visible = st.BidSize
		}
		out = append(out, candidate{
			state:     st,
			score:     score,
			available: float64(visible) + st.HiddenLiquidity,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if math.Abs(out[i].score-out[j].score) <= r.cfg.LatencyTieBps {
			// Scores tie within tolerance: prefer lower ack latency.
			return r.ackEWMA(out[i].state.VenueID) < r.ackEWMA(out[j].state.VenueID)
		}
		return out[i].score > out[j].score
	})
	return out
}

func (r *Router) ackEWMA(venueID uint8) float64 {
	if r.latency == nil {
		return 0
	}
	return r.latency.AckEWMA(venueID)
}

// routeSingle sends the whole order to the best venue.
func (r *Router) routeSingle(parent *types.Order, cands []candidate, tsc uint64) Decision {
	best := cands[0]
	child := r.child(parent, best.state.VenueID, parent.Quantity, tsc)
	dec := Decision{Primary: best.state.VenueID, Children: []*types.Order{child}}
	if len(cands) > 1 {
		dec.Backup = cands[1].state.VenueID
	}
	r.logger.Debug("Routed single",
		zap.Uint64("parent", parent.OrderID),
		zap.Uint8("venue", dec.Primary))
	return dec
}

// routeSplit spreads the order across the top-K venues weighted by
// available liquidity, capped by the per-venue share.
func (r *Router) routeSplit(parent *types.Order, cands []candidate, tsc uint64) Decision {
	k := r.cfg.TopK
	if k > len(cands) {
		k = len(cands)
	}
	top := cands[:k]

	var totalAvail float64
	for _, c := range top {
		totalAvail += c.available
	}

	dec := Decision{Primary: top[0].state.VenueID}
	if len(cands) > k {
		dec.Backup = cands[k].state.VenueID
	} else if k > 1 {
		dec.Backup = top[1].state.VenueID
	}

	remaining := parent.Quantity
	for i, c := range top {
		share := 1.0 / float64(k)
		if totalAvail > 0 {
			share = c.available / totalAvail
		}
		if share > r.cfg.MaxVenueShare {
			share = r.cfg.MaxVenueShare
		}
		qty := uint64(float64(parent.Quantity) * share)
		if i == len(top)-1 || qty > remaining {
			qty = remaining
		}
		if qty == 0 {
			continue
		}
		dec.Children = append(dec.Children, r.child(parent, c.state.VenueID, qty, tsc))
		remaining -= qty
		if remaining == 0 {
			break
		}
	}

	// Share caps can leave an unallocated tail; the primary venue absorbs it.
	if remaining > 0 && len(dec.Children) > 0 {
		dec.Children[0].Quantity += remaining
	}
	r.logger.Debug("Routed split",
		zap.Uint64("parent", parent.OrderID),
		zap.Int("children", len(dec.Children)))
	return dec
}

// child builds a child order referencing the parent.
func (r *Router) child(parent *types.Order, venueID uint8, qty uint64, tsc uint64) *types.Order {
	return &types.Order{
		OrderID:    r.ids.Next(),
		ParentID:   parent.OrderID,
		SymbolID:   parent.SymbolID,
		StrategyID: parent.StrategyID,
		Side:       parent.Side,
		Type:       parent.Type,
		TIF:        parent.TIF,
		Price:      parent.Price,
		Quantity:   qty,
		VenueID:    venueID,
		CreatedTSC: tsc,
		ExpiryTSC:  parent.ExpiryTSC,
	}
}

// venueSpreadBps computes the quoted spread in basis points of the mid.
func venueSpreadBps(st *types.VenueState) float64 {
	if st.Bid == 0 || st.Ask == 0 || st.Ask <= st.Bid {
		return 0
	}
	mid := float64(st.Bid+st.Ask) / 2
	return float64(st.Ask-st.Bid) / mid * 10_000
}
