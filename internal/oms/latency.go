package oms

import (
	gometrics "github.com/rcrowley/go-metrics"
)

// venueLatency tracks ack and fill latency per venue: a decaying histogram
// for percentiles plus a plain EWMA the router reads for tiebreaks.
type venueLatency struct {
	ackHist  gometrics.Histogram
	fillHist gometrics.Histogram
	ackEWMA  float64
	fillEWMA float64
}

// latencyAlpha is the EWMA smoothing for venue latency tracking.
const latencyAlpha = 0.1

// LatencyTracker aggregates per-venue execution latency.
type LatencyTracker struct {
	venues map[uint8]*venueLatency
}

// NewLatencyTracker creates an empty tracker.
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{venues: make(map[uint8]*venueLatency)}
}

func (t *LatencyTracker) venue(id uint8) *venueLatency {
	v, ok := t.venues[id]
	if !ok {
		v = &venueLatency{
			ackHist:  gometrics.NewHistogram(gometrics.NewExpDecaySample(1028, 0.015)),
			fillHist: gometrics.NewHistogram(gometrics.NewExpDecaySample(1028, 0.015)),
		}
		t.venues[id] = v
	}
	return v
}

// RecordAck folds in a submit-to-ack latency observation in nanoseconds.
func (t *LatencyTracker) RecordAck(venueID uint8, ns int64) {
	v := t.venue(venueID)
	v.ackHist.Update(ns)
	if v.ackEWMA == 0 {
		v.ackEWMA = float64(ns)
	} else {
		v.ackEWMA = latencyAlpha*float64(ns) + (1-latencyAlpha)*v.ackEWMA
	}
}

// RecordFill folds in a submit-to-fill latency observation in nanoseconds.
func (t *LatencyTracker) RecordFill(venueID uint8, ns int64) {
	v := t.venue(venueID)
	v.fillHist.Update(ns)
	if v.fillEWMA == 0 {
		v.fillEWMA = float64(ns)
	} else {
		v.fillEWMA = latencyAlpha*float64(ns) + (1-latencyAlpha)*v.fillEWMA
	}
}

// AckEWMA returns the smoothed ack latency for a venue in nanoseconds.
func (t *LatencyTracker) AckEWMA(venueID uint8) float64 {
	if v, ok := t.venues[venueID]; ok {
		return v.ackEWMA
	}
	return 0
}

// FillEWMA returns the smoothed fill latency for a venue in nanoseconds.
func (t *LatencyTracker) FillEWMA(venueID uint8) float64 {
	if v, ok := t.venues[venueID]; ok {
		return v.fillEWMA
	}
	return 0
}

// AckP99 returns the 99th-percentile ack latency for a venue.
func (t *LatencyTracker) AckP99(venueID uint8) float64 {
	if v, ok := t.venues[venueID]; ok {
		return v.ackHist.Percentile(0.99)
	}
	return 0
}
