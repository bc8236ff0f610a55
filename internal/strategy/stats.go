package strategy

import "math"

// RollingStats maintains mean and variance over a bounded window of values.
// Welford's online algorithm over a ring buffer: adding past capacity
// retires the oldest value, so the window never grows.
type RollingStats struct {
	buf   []float64
	head  int
	count int
	mean  float64
	m2    float64
}

// NewRollingStats creates a window of the given length.
func NewRollingStats(window int) *RollingStats {
	if window < 2 {
		window = 2
	}
	return &RollingStats{buf: make([]float64, window)}
}

// Add pushes a value, retiring the oldest when the window is full.
func (s *RollingStats) Add(value float64) {
	if s.count == len(s.buf) {
		s.remove(s.buf[s.head])
	} else {
		s.count++
	}
	s.buf[s.head] = value
	s.head = (s.head + 1) % len(s.buf)

	n := float64(s.countAdded())
	delta := value - s.mean
	s.mean += delta / n
	s.m2 += delta * (value - s.mean)
}

// remove backs one value out of the running moments.
func (s *RollingStats) remove(value float64) {
	n := float64(s.countAdded())
	if n <= 1 {
		s.mean = 0
		s.m2 = 0
		return
	}
	delta := value - s.mean
	s.mean -= delta / (n - 1)
	s.m2 -= delta * (value - s.mean)
	if s.m2 < 0 {
		s.m2 = 0
	}
}

// countAdded is the live count during an Add/remove pair.
func (s *RollingStats) countAdded() int { return s.count }

// Count returns the number of values in the window.
func (s *RollingStats) Count() int { return s.count }

// Full reports whether the window has reached capacity.
func (s *RollingStats) Full() bool { return s.count == len(s.buf) }

// Mean returns the window mean.
func (s *RollingStats) Mean() float64 { return s.mean }

// StdDev returns the window standard deviation.
func (s *RollingStats) StdDev() float64 {
	if s.count < 2 {
		return 0
	}
	return math.Sqrt(s.m2 / float64(s.count-1))
}

// ZScore returns the z-score of a value against the window, zero while the
// deviation is degenerate.
func (s *RollingStats) ZScore(value float64) float64 {
	sd := s.StdDev()
	if sd == 0 {
		return 0
	}
	return (value - s.mean) / sd
}

// Values copies the window contents oldest-first. Used for full indicator
// recomputation on the cold path.
func (s *RollingStats) Values() []float64 {
	out := make([]float64, 0, s.count)
	start := s.head - s.count
	for i := 0; i < s.count; i++ {
		idx := start + i
		if idx < 0 {
			idx += len(s.buf)
		}
		out = append(out, s.buf[idx%len(s.buf)])
	}
	return out
}

// EWMA is a simple exponentially weighted moving average.
type EWMA struct {
	alpha float64
	value float64
	init  bool
}

// NewEWMA creates an average with the given smoothing factor in (0, 1].
func NewEWMA(alpha float64) *EWMA {
	return &EWMA{alpha: alpha}
}

// Update folds in an observation and returns the new value.
func (e *EWMA) Update(v float64) float64 {
	if !e.init {
		e.value = v
		e.init = true
		return v
	}
	e.value = e.alpha*v + (1-e.alpha)*e.value
	return e.value
}

// Value returns the current average.
func (e *EWMA) Value() float64 { return e.value }

// Initialized reports whether any observation has been folded in.
func (e *EWMA) Initialized() bool { return e.init }

// KalmanMean is a one-dimensional Kalman filter tracking a slowly drifting
// level, the optional mean estimator for the mean-reversion strategy.
type KalmanMean struct {
	x float64 // state estimate
	p float64 // estimate covariance
	q float64 // process noise
	r float64 // measurement noise
	init bool
}

// NewKalmanMean creates a filter with the given process and measurement
// noise.
func NewKalmanMean(processNoise, measurementNoise float64) *KalmanMean {
	return &KalmanMean{p: 1, q: processNoise, r: measurementNoise}
}

// Update folds in an observation and returns the filtered level.
func (k *KalmanMean) Update(z float64) float64 {
	if !k.init {
		k.x = z
		k.init = true
		return k.x
	}
	k.p += k.q
	gain := k.p / (k.p + k.r)
	k.x += gain * (z - k.x)
	k.p *= 1 - gain
	return k.x
}

// Value returns the current level estimate.
func (k *KalmanMean) Value() float64 { return k.x }

// Correlation computes the Pearson correlation coefficient of two equal
// length series. Returns zero when degenerate.
func Correlation(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}
	var sumX, sumY float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
	}
	meanX := sumX / float64(len(x))
	meanY := sumY / float64(len(y))

	var num, denX, denY float64
	for i := range x {
		dx := x[i] - meanX
		dy := y[i] - meanY
		num += dx * dy
		denX += dx * dx
		denY += dy * dy
	}
	if denX == 0 || denY == 0 {
		return 0
	}
	return num / math.Sqrt(denX*denY)
}
