package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// latencyBuckets cover the sub-microsecond to tens-of-milliseconds range
// the hot path lives in, in nanoseconds.
var latencyBuckets = []float64{
	500, 1_000, 2_500, 5_000, 10_000, 25_000, 50_000,
	100_000, 250_000, 500_000, 1_000_000, 5_000_000, 25_000_000,
}

// maxSeries bounds the number of distinct series the sink will create;
// past the bound new series are dropped and counted rather than grown.
const maxSeries = 4096

// PrometheusSink implements Sink over a prometheus registry. Metric vector
// creation is lazy and bounded; record calls on existing series are
// lock-free on the prometheus side.
type PrometheusSink struct {
	registry *prometheus.Registry
	logger   *zap.Logger

	mu         sync.RWMutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	series     int

	drops atomic.Uint64
}

// NewPrometheusSink creates a sink registering into the given registry.
func NewPrometheusSink(registry *prometheus.Registry, logger *zap.Logger) *PrometheusSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &PrometheusSink{
		registry:   registry,
		logger:     logger,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry returns the backing registry for the HTTP exposition handler.
func (s *PrometheusSink) Registry() *prometheus.Registry { return s.registry }

// tagKeys extracts the sorted label-key set implied by tags. Series
// identity requires a stable key set per metric name.
func tagKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	// Insertion sort; tag sets are tiny.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// RecordCounter implements Sink.
func (s *PrometheusSink) RecordCounter(name string, value uint64, tags map[string]string) {
	s.mu.RLock()
	vec, ok := s.counters[name]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		vec, ok = s.counters[name]
		if !ok {
			if s.series >= maxSeries {
				s.mu.Unlock()
				s.drops.Add(1)
				return
			}
			vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, tagKeys(tags))
			if err := s.registry.Register(vec); err != nil {
				s.mu.Unlock()
				s.drops.Add(1)
				return
			}
			s.counters[name] = vec
			s.series++
		}
		s.mu.Unlock()
	}
	m, err := vec.GetMetricWith(tags)
	if err != nil {
		s.drops.Add(1)
		return
	}
	m.Add(float64(value))
}

// RecordGauge implements Sink.
func (s *PrometheusSink) RecordGauge(name string, value float64, tags map[string]string) {
	s.mu.RLock()
	vec, ok := s.gauges[name]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		vec, ok = s.gauges[name]
		if !ok {
			if s.series >= maxSeries {
				s.mu.Unlock()
				s.drops.Add(1)
				return
			}
			vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, tagKeys(tags))
			if err := s.registry.Register(vec); err != nil {
				s.mu.Unlock()
				s.drops.Add(1)
				return
			}
			s.gauges[name] = vec
			s.series++
		}
		s.mu.Unlock()
	}
	m, err := vec.GetMetricWith(tags)
	if err != nil {
		s.drops.Add(1)
		return
	}
	m.Set(value)
}

// RecordHistogram implements Sink.
func (s *PrometheusSink) RecordHistogram(name string, valueNs uint64, tags map[string]string) {
	s.mu.RLock()
	vec, ok := s.histograms[name]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		vec, ok = s.histograms[name]
		if !ok {
			if s.series >= maxSeries {
				s.mu.Unlock()
				s.drops.Add(1)
				return
			}
			vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    name,
				Buckets: latencyBuckets,
			}, tagKeys(tags))
			if err := s.registry.Register(vec); err != nil {
				s.mu.Unlock()
				s.drops.Add(1)
				return
			}
			s.histograms[name] = vec
			s.series++
		}
		s.mu.Unlock()
	}
	m, err := vec.GetMetricWith(tags)
	if err != nil {
		s.drops.Add(1)
		return
	}
	m.Observe(float64(valueNs))
}

// Log implements Sink, forwarding to the structured logger.
func (s *PrometheusSink) Log(level Level, component, message string) {
	field := zap.String("component", component)
	switch level {
	case LevelDebug:
		s.logger.Debug(message, field)
	case LevelInfo:
		s.logger.Info(message, field)
	case LevelWarn:
		s.logger.Warn(message, field)
	default:
		s.logger.Error(message, field)
	}
}

// Drops implements Sink.
func (s *PrometheusSink) Drops() uint64 { return s.drops.Load() }
