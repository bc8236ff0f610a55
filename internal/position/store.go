// Package position tracks per-symbol positions and portfolio aggregates.
// The store is owned by the OMS/risk thread; other threads read individual
// records through a per-record sequence guard.
package position

import (
	"errors"
	"sync/atomic"

	"github.com/abdoElHodaky/hftcore/internal/types"
	"go.uber.org/zap"
)

// ErrUnknownSymbol is returned for reads of a symbol never traded.
var ErrUnknownSymbol = errors.New("position: unknown symbol")

// Position is the per-symbol record. Monetary values (P&L, notionals) are
// in micro currency units (1e-6), matching the price scale. Fields behind
// the sequence guard must only be written by the owning thread.
type Position struct {
	SymbolID      uint32
	NetQty        int64
	LongQty       uint64
	ShortQty      uint64
	AvgLongPx     uint64 // price units
	AvgShortPx    uint64
	RealizedPnL   int64 // micro currency
	UnrealizedPnL int64
	MarkPx        uint64
	LastUpdateTSC uint64
}

// record wraps a Position with its seqlock.
type record struct {
	seq atomic.Uint64
	pos Position
}

// write brackets a mutation so readers can detect torn reads.
func (r *record) write(fn func(*Position)) {
	r.seq.Add(1)
	fn(&r.pos)
	r.seq.Add(1)
}

// read returns a consistent copy, retrying while a write is in flight.
func (r *record) read() Position {
	for {
		s1 := r.seq.Load()
		if s1&1 != 0 {
			continue
		}
		p := r.pos
		if r.seq.Load() == s1 {
			return p
		}
	}
}

// Store holds all positions for the session. Constructed once; records are
// never destroyed until shutdown.
type Store struct {
	logger  *zap.Logger
	records map[uint32]*record
	order   []uint32 // registration order, for deterministic iteration

	sessionStartValue int64
	highWaterMark     atomic.Int64
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger:  logger,
		records: make(map[uint32]*record),
	}
}

// Register pre-creates the record for a symbol. Must be called for every
// traded symbol before workers start; the map is read-only afterwards.
func (s *Store) Register(symbolID uint32) {
	if _, ok := s.records[symbolID]; ok {
		return
	}
	s.records[symbolID] = &record{pos: Position{SymbolID: symbolID}}
	s.order = append(s.order, symbolID)
}

// Get returns a consistent copy of a symbol's position.
func (s *Store) Get(symbolID uint32) (Position, error) {
	r, ok := s.records[symbolID]
	if !ok {
		return Position{}, ErrUnknownSymbol
	}
	return r.read(), nil
}

// ApplyFill applies an execution to the position, recomputing cost-basis
// averages and realizing P&L on closing quantity. Owning thread only.
func (s *Store) ApplyFill(fill *types.Fill) error {
	r, ok := s.records[fill.SymbolID]
	if !ok {
		return ErrUnknownSymbol
	}

	r.write(func(p *Position) {
		qty := fill.Quantity
		px := fill.Price

		if fill.Side == types.SideBuy {
			// Close short first, remainder opens/extends long.
			closeQty := min64(qty, p.ShortQty)
			if closeQty > 0 {
				p.RealizedPnL += int64(p.AvgShortPx)*int64(closeQty) - int64(px)*int64(closeQty)
				p.ShortQty -= closeQty
				if p.ShortQty == 0 {
					p.AvgShortPx = 0
				}
				qty -= closeQty
			}
			if qty > 0 {
				p.AvgLongPx = weightedAvg(p.AvgLongPx, p.LongQty, px, qty)
				p.LongQty += qty
			}
		} else {
			closeQty := min64(qty, p.LongQty)
			if closeQty > 0 {
				p.RealizedPnL += int64(px)*int64(closeQty) - int64(p.AvgLongPx)*int64(closeQty)
				p.LongQty -= closeQty
				if p.LongQty == 0 {
					p.AvgLongPx = 0
				}
				qty -= closeQty
			}
			if qty > 0 {
				p.AvgShortPx = weightedAvg(p.AvgShortPx, p.ShortQty, px, qty)
				p.ShortQty += qty
			}
		}

		p.NetQty = int64(p.LongQty) - int64(p.ShortQty)
		p.MarkPx = px
		p.UnrealizedPnL = unrealized(p)
		p.LastUpdateTSC = fill.TSC
	})
	return nil
}

// Mark updates the mark price and unrealized P&L for a symbol. Owning
// thread only.
func (s *Store) Mark(symbolID uint32, markPx uint64, tsc uint64) error {
	r, ok := s.records[symbolID]
	if !ok {
		return ErrUnknownSymbol
	}
	r.write(func(p *Position) {
		p.MarkPx = markPx
		p.UnrealizedPnL = unrealized(p)
		p.LastUpdateTSC = tsc
	})
	return nil
}

// Restore installs a previously persisted position. Startup only, before
// any worker runs.
func (s *Store) Restore(p Position) {
	s.Register(p.SymbolID)
	s.records[p.SymbolID].write(func(dst *Position) { *dst = p })
}

// unrealized computes mark-to-market P&L in micro currency units.
func unrealized(p *Position) int64 {
	if p.MarkPx == 0 {
		return 0
	}
	var u int64
	if p.LongQty > 0 {
		u += (int64(p.MarkPx) - int64(p.AvgLongPx)) * int64(p.LongQty)
	}
	if p.ShortQty > 0 {
		u += (int64(p.AvgShortPx) - int64(p.MarkPx)) * int64(p.ShortQty)
	}
	return u
}

// weightedAvg recomputes a cost-basis average for added quantity.
func weightedAvg(avgPx uint64, curQty, px, addQty uint64) uint64 {
	total := curQty + addQty
	if total == 0 {
		return 0
	}
	// Integer arithmetic; the remainder is below one price unit.
	return (avgPx*curQty + px*addQty) / total
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// Aggregates is the portfolio-level rollup.
type Aggregates struct {
	GrossExposure uint64 // Σ |net × mark|, micro currency
	NetExposure   int64
	RealizedPnL   int64
	UnrealizedPnL int64
	DailyPnL      int64
	HighWaterMark int64
	DrawdownFrac  float64
	Positions     int
}

// Snapshot returns all positions in registration order.
func (s *Store) Snapshot() []Position {
	out := make([]Position, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].read())
	}
	return out
}

// Aggregate rolls up portfolio exposure, P&L, and drawdown from the
// high-water mark of session value.
func (s *Store) Aggregate() Aggregates {
	var agg Aggregates
	for _, id := range s.order {
		p := s.records[id].read()
		mv := p.NetQty * int64(p.MarkPx)
		if mv < 0 {
			agg.GrossExposure += uint64(-mv)
		} else {
			agg.GrossExposure += uint64(mv)
		}
		agg.NetExposure += mv
		agg.RealizedPnL += p.RealizedPnL
		agg.UnrealizedPnL += p.UnrealizedPnL
		if p.NetQty != 0 || p.RealizedPnL != 0 {
			agg.Positions++
		}
	}
	agg.DailyPnL = agg.RealizedPnL + agg.UnrealizedPnL

	value := s.sessionStartValue + agg.DailyPnL
	hwm := s.highWaterMark.Load()
	if value > hwm {
		s.highWaterMark.Store(value)
		hwm = value
	}
	agg.HighWaterMark = hwm
	if hwm > 0 {
		agg.DrawdownFrac = float64(hwm-value) / float64(hwm)
	}
	return agg
}

// SetSessionStartValue seeds the portfolio value used for high-water-mark
// and drawdown accounting.
func (s *Store) SetSessionStartValue(v int64) {
	s.sessionStartValue = v
	s.highWaterMark.Store(v)
}
