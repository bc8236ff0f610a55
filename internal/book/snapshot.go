package book

import (
	"sync/atomic"
)

// Snapshot is an immutable point-in-time copy of the book, published by the
// writer thread via an atomic pointer swap. Cross-shard readers never touch
// the live book.
type Snapshot struct {
	SymbolID    uint32
	SeqNum      uint64
	Bids        []PriceLevel
	Asks        []PriceLevel
	TotalBidQty uint64
	TotalAskQty uint64
	LastTSC     uint64
}

// BestBid returns the best bid, false when the side is empty.
func (s *Snapshot) BestBid() (uint64, bool) {
	if len(s.Bids) == 0 {
		return 0, false
	}
	return s.Bids[0].Price, true
}

// BestAsk returns the best ask, false when the side is empty.
func (s *Snapshot) BestAsk() (uint64, bool) {
	if len(s.Asks) == 0 {
		return 0, false
	}
	return s.Asks[0].Price, true
}

// Mid returns the midpoint price, zero when either side is empty.
func (s *Snapshot) Mid() uint64 {
	bid, bok := s.BestBid()
	ask, aok := s.BestAsk()
	if !bok || !aok {
		return 0
	}
	return (bid + ask) / 2
}

// Imbalance returns bid depth as a fraction of total visible depth over the
// top n levels, 0.5 when flat or empty.
func (s *Snapshot) Imbalance(n int) float64 {
	var bid, ask uint64
	for i := 0; i < len(s.Bids) && i < n; i++ {
		bid += s.Bids[i].TotalQty
	}
	for i := 0; i < len(s.Asks) && i < n; i++ {
		ask += s.Asks[i].TotalQty
	}
	total := bid + ask
	if total == 0 {
		return 0.5
	}
	return float64(bid) / float64(total)
}

// Publisher owns the atomic snapshot slot for one book.
type Publisher struct {
	cur atomic.Pointer[Snapshot]
}

// NewPublisher creates a publisher seeded with an empty snapshot.
func NewPublisher(symbolID uint32) *Publisher {
	p := &Publisher{}
	p.cur.Store(&Snapshot{SymbolID: symbolID})
	return p
}

// Publish copies the book's visible state and swaps it in. Called by the
// book's owning thread only.
func (p *Publisher) Publish(b *Book, depth int) *Snapshot {
	bidDepth, askDepth := len(b.bids), len(b.asks)
	if depth > 0 {
		if bidDepth > depth {
			bidDepth = depth
		}
		if askDepth > depth {
			askDepth = depth
		}
	}
	snap := &Snapshot{
		SymbolID:    b.spec.SymbolID,
		SeqNum:      b.SeqNum(),
		Bids:        append([]PriceLevel(nil), b.bids[:bidDepth]...),
		Asks:        append([]PriceLevel(nil), b.asks[:askDepth]...),
		TotalBidQty: b.totalBidQty,
		TotalAskQty: b.totalAskQty,
		LastTSC:     b.lastTSC,
	}
	p.cur.Store(snap)
	return snap
}

// Load returns the most recent snapshot. Safe from any goroutine.
func (p *Publisher) Load() *Snapshot {
	return p.cur.Load()
}

// SpreadTicks returns the spread in ticks for a given symbol spec, zero when
// either side is empty.
func (s *Snapshot) SpreadTicks(tickSize uint64) uint64 {
	bid, bok := s.BestBid()
	ask, aok := s.BestAsk()
	if !bok || !aok || tickSize == 0 {
		return 0
	}
	return (ask - bid) / tickSize
}
