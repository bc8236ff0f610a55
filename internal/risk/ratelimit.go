package risk

// WindowSeconds is the sliding-window length for rate accounting.
const WindowSeconds = 60

// slidingWindow counts events over the last 60 one-second buckets. The
// bucket index comes from the calibrated clock; rotation zeroes any buckets
// skipped since the last event. Accessed only from the risk thread.
type slidingWindow struct {
	buckets    [WindowSeconds]uint32
	lastBucket uint64
	sum        uint64
}

// rotate advances the window to the given second bucket, clearing skipped
// buckets.
func (w *slidingWindow) rotate(bucket uint64) {
	if bucket <= w.lastBucket {
		return
	}
	gap := bucket - w.lastBucket
	if gap >= WindowSeconds {
		*w = slidingWindow{lastBucket: bucket}
		return
	}
	for i := uint64(1); i <= gap; i++ {
		idx := (w.lastBucket + i) % WindowSeconds
		w.sum -= uint64(w.buckets[idx])
		w.buckets[idx] = 0
	}
	w.lastBucket = bucket
}

// add records one event in the current bucket.
func (w *slidingWindow) add(bucket uint64) {
	w.rotate(bucket)
	w.buckets[bucket%WindowSeconds]++
	w.sum++
}

// total returns the rolling 60-second sum.
func (w *slidingWindow) total(bucket uint64) uint64 {
	w.rotate(bucket)
	return w.sum
}

// current returns the count in the given second's bucket.
func (w *slidingWindow) current(bucket uint64) uint64 {
	w.rotate(bucket)
	return uint64(w.buckets[bucket%WindowSeconds])
}

// RateLimiter enforces per-symbol and global order-rate caps over the
// 60-bucket sliding window.
type RateLimiter struct {
	perSecond uint64
	global    slidingWindow
	perSymbol map[uint32]*slidingWindow
}

// NewRateLimiter creates a limiter with a per-second cap applied to both
// the global and per-symbol windows (window sum vs cap × window length).
func NewRateLimiter(perSecond uint64) *RateLimiter {
	return &RateLimiter{
		perSecond: perSecond,
		perSymbol: make(map[uint32]*slidingWindow),
	}
}

// Allow checks both windows and, when within limits, records the event.
// The per-second cap binds within the current bucket; the rolling-minute
// sum binds at cap × window length.
func (r *RateLimiter) Allow(symbolID uint32, bucket uint64) bool {
	if r.perSecond == 0 {
		return true
	}
	windowCap := r.perSecond * WindowSeconds

	w, ok := r.perSymbol[symbolID]
	if !ok {
		w = &slidingWindow{lastBucket: bucket}
		r.perSymbol[symbolID] = w
	}
	if r.global.current(bucket) >= r.perSecond || w.current(bucket) >= r.perSecond {
		return false
	}
	if r.global.total(bucket) >= windowCap || w.total(bucket) >= windowCap {
		return false
	}
	r.global.add(bucket)
	w.add(bucket)
	return true
}

// CancelRatioTracker watches the cancel-to-order ratio over the sliding
// window; an excessive ratio indicates quote stuffing or a runaway
// strategy.
type CancelRatioTracker struct {
	orders     slidingWindow
	cancels    slidingWindow
	maxRatio   float64
	minSamples uint64
}

// NewCancelRatioTracker creates a tracker that trips above maxRatio once at
// least minSamples orders are in the window.
func NewCancelRatioTracker(maxRatio float64, minSamples uint64) *CancelRatioTracker {
	return &CancelRatioTracker{maxRatio: maxRatio, minSamples: minSamples}
}

// RecordOrder counts an order submission.
func (c *CancelRatioTracker) RecordOrder(bucket uint64) {
	c.orders.add(bucket)
}

// RecordCancel counts a cancel.
func (c *CancelRatioTracker) RecordCancel(bucket uint64) {
	c.cancels.add(bucket)
}

// Breached reports whether the cancel ratio exceeds the configured bound.
func (c *CancelRatioTracker) Breached(bucket uint64) bool {
	orders := c.orders.total(bucket)
	if c.maxRatio <= 0 || orders < c.minSamples {
		return false
	}
	return float64(c.cancels.total(bucket))/float64(orders) > c.maxRatio
}
