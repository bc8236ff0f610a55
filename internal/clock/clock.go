package clock

import (
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// Clock provides monotonic hardware-counter timestamps for the hot path.
//
// Counter units are nanoseconds of the process monotonic clock. A one-shot
// calibration at construction measures the counter against the wall clock so
// that counter values can be converted to wall time without further syscalls.
type Clock struct {
	origin      time.Time
	wallAtStart int64 // wall nanos observed at calibration
	tscAtStart  uint64
	nanosPerTsc float64
	logger      *zap.Logger
}

// DefaultCalibrationSleep is how long Calibrate samples the counter against
// the wall clock. Longer windows tighten the ratio estimate.
const DefaultCalibrationSleep = 50 * time.Millisecond

// New creates a calibrated clock. Calibration runs once, before any worker
// starts; subsequent Now calls are pure monotonic reads.
func New(logger *zap.Logger) *Clock {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Clock{
		origin: time.Now(),
		logger: logger,
	}
	c.calibrate(DefaultCalibrationSleep)
	return c
}

// calibrate measures counter ticks against wall time over a short sleep.
func (c *Clock) calibrate(window time.Duration) {
	wallStart := time.Now()
	tscStart := c.Now()

	time.Sleep(window)

	wallEnd := time.Now()
	tscEnd := c.Now()

	wallElapsed := wallEnd.Sub(wallStart).Nanoseconds()
	tscElapsed := tscEnd - tscStart
	if tscElapsed == 0 {
		tscElapsed = 1
	}

	c.wallAtStart = wallStart.UnixNano()
	c.tscAtStart = tscStart
	c.nanosPerTsc = float64(wallElapsed) / float64(tscElapsed)

	c.logger.Info("Clock calibrated",
		zap.Int64("wall_elapsed_ns", wallElapsed),
		zap.Uint64("counter_elapsed", tscElapsed),
		zap.Float64("nanos_per_unit", c.nanosPerTsc))
}

// Now returns the current counter value. Monotonic and strictly cheap:
// a single monotonic clock read, no allocation.
func (c *Clock) Now() uint64 {
	return uint64(time.Since(c.origin))
}

// ToNanos converts a counter value to calibrated nanoseconds since session
// start.
func (c *Clock) ToNanos(tsc uint64) uint64 {
	return uint64(float64(tsc) * c.nanosPerTsc)
}

// WallTime converts a counter value to wall-clock time using the calibration
// reference. Not for the hot path.
func (c *Clock) WallTime(tsc uint64) time.Time {
	deltaNs := int64(float64(tsc-c.tscAtStart) * c.nanosPerTsc)
	return time.Unix(0, c.wallAtStart+deltaNs)
}

// SecondBucket returns the wall second a counter value falls into. The risk
// engine keys its sliding-window buckets on this.
func (c *Clock) SecondBucket(tsc uint64) uint64 {
	deltaNs := int64(float64(tsc-c.tscAtStart) * c.nanosPerTsc)
	return uint64((c.wallAtStart + deltaNs) / int64(time.Second))
}

// DriftCheck re-samples the wall clock and reports the divergence between
// calibrated and actual wall time. The supervisor polls this; drift beyond
// its tolerance is a degraded-mode condition.
func (c *Clock) DriftCheck() time.Duration {
	predicted := c.WallTime(c.Now())
	return time.Since(predicted)
}

// OrderIDSource hands out unique, monotonically increasing order ids.
type OrderIDSource struct {
	next atomic.Uint64
}

// NewOrderIDSource seeds the allocator. Resumed sessions seed past the
// highest archived id.
func NewOrderIDSource(start uint64) *OrderIDSource {
	s := &OrderIDSource{}
	s.next.Store(start)
	return s
}

// Next returns the next order id.
func (s *OrderIDSource) Next() uint64 {
	return s.next.Add(1)
}

// Seed raises the allocator floor. No-op if the allocator is already past it.
func (s *OrderIDSource) Seed(floor uint64) {
	for {
		cur := s.next.Load()
		if cur >= floor {
			return
		}
		if s.next.CompareAndSwap(cur, floor) {
			return
		}
	}
}

// NewSessionID returns a sortable unique id for the trading session.
func NewSessionID() string {
	return ksuid.New().String()
}
