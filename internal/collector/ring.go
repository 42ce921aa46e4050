// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package collector

import "time"

// ring is a fixed-capacity ring buffer of observations. When full, a push
// overwrites the oldest entry.
type ring struct {
	values     []float64
	timestamps []time.Time
	head       int
	size       int
}

func newRing(capacity int) *ring {
	return &ring{
		values:     make([]float64, capacity),
		timestamps: make([]time.Time, capacity),
	}
}

func (r *ring) push(v float64, ts time.Time) {
	r.values[r.head] = v
	r.timestamps[r.head] = ts
	r.head = (r.head + 1) % len(r.values)
	if r.size < len(r.values) {
		r.size++
	}
}

// window returns the values observed at or after cutoff, oldest first.
func (r *ring) window(cutoff time.Time) []float64 {
	out := make([]float64, 0, r.size)
	start := r.head - r.size
	if start < 0 {
		start += len(r.values)
	}
	for i := 0; i < r.size; i++ {
		idx := (start + i) % len(r.values)
		if !r.timestamps[idx].Before(cutoff) {
			out = append(out, r.values[idx])
		}
	}
	return out
}

func (r *ring) len() int { return r.size }
