// Package audit keeps the bounded ring of terminal orders and risk
// verdicts, queryable at runtime by order id or time range, with a
// pluggable persistence backend.
package audit

import (
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/hftcore/internal/risk"
	"github.com/abdoElHodaky/hftcore/internal/types"
)

// RecordKind distinguishes audit entries.
type RecordKind uint8

const (
	RecordOrder RecordKind = iota
	RecordVerdict
)

// Record is one audit entry.
type Record struct {
	ID       string     `json:"id"`
	Kind     RecordKind `json:"kind"`
	TSC      uint64     `json:"tsc"`
	Order    types.Order `json:"order"`
	Approved bool       `json:"approved,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// Backend persists audit records. Implementations own their durability and
// must tolerate bursts; Flush is called at shutdown.
type Backend interface {
	Persist(rec *Record) error
	Flush() error
}

// Store is the in-memory audit ring. Appends happen on the OMS thread;
// queries read the live ring with no lock or snapshot, so they are not safe
// concurrently with appends.
type Store struct {
	logger  *zap.Logger
	backend Backend

	ring  []Record
	next  int
	count int

	persistFailures uint64
}

// NewStore creates a ring of the given capacity. backend may be nil for a
// memory-only store.
func NewStore(capacity int, backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = 65536
	}
	return &Store{
		logger:  logger,
		backend: backend,
		ring:    make([]Record, capacity),
	}
}

// append adds a record, overwriting the oldest at capacity.
func (s *Store) append(rec Record) {
	rec.ID = ksuid.New().String()
	s.ring[s.next] = rec
	s.next = (s.next + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
	if s.backend != nil {
		if err := s.backend.Persist(&rec); err != nil {
			s.persistFailures++
			s.logger.Warn("Audit persist failed", zap.Error(err))
		}
	}
}

// ArchiveOrder records a terminal order. Implements the OMS archiver.
func (s *Store) ArchiveOrder(order types.Order, tsc uint64) {
	s.append(Record{Kind: RecordOrder, TSC: tsc, Order: order})
}

// ArchiveVerdict records a risk verdict with the order that caused it.
// Implements the OMS archiver.
func (s *Store) ArchiveVerdict(order types.Order, verdict risk.Verdict, tsc uint64) {
	s.append(Record{
		Kind:     RecordVerdict,
		TSC:      tsc,
		Order:    order,
		Approved: verdict.Approved,
		Reason:   verdict.Reason.String(),
	})
}

// each iterates the ring oldest-first.
func (s *Store) each(fn func(*Record)) {
	start := s.next - s.count
	for i := 0; i < s.count; i++ {
		idx := start + i
		if idx < 0 {
			idx += len(s.ring)
		}
		fn(&s.ring[idx%len(s.ring)])
	}
}

// ByOrderID returns all records for an order, oldest first.
func (s *Store) ByOrderID(orderID uint64) []Record {
	var out []Record
	s.each(func(r *Record) {
		if r.Order.OrderID == orderID {
			out = append(out, *r)
		}
	})
	return out
}

// ByTimeRange returns records with TSC in [t0, t1], oldest first.
func (s *Store) ByTimeRange(t0, t1 uint64) []Record {
	var out []Record
	s.each(func(r *Record) {
		if r.TSC >= t0 && r.TSC <= t1 {
			out = append(out, *r)
		}
	})
	return out
}

// Len returns the number of retained records.
func (s *Store) Len() int { return s.count }

// PersistFailures returns the backend failure count.
func (s *Store) PersistFailures() uint64 { return s.persistFailures }

// Flush drains the backend. Called at shutdown and on fatal escalation.
func (s *Store) Flush() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Flush()
}
