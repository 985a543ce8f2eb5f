package utils

import (
	"sort"
	"sync"
)

// LatencyTracker keeps a bounded window of recent latency samples per key.
type LatencyTracker struct {
	mu      sync.RWMutex
	windows map[string]*window
	maxSize int
}

type window struct {
	samples []int64
	next    int
	full    bool
}

// NewLatencyTracker creates a tracker storing up to maxSize samples per key.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &LatencyTracker{windows: make(map[string]*window), maxSize: maxSize}
}

// Observe records a latency sample in milliseconds for key.
func (l *LatencyTracker) Observe(key string, ms int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &window{samples: make([]int64, 0, l.maxSize)}
		l.windows[key] = w
	}
	if !w.full {
		w.samples = append(w.samples, ms)
		if len(w.samples) == l.maxSize {
			w.full = true
		}
		return
	}
	// Ring overwrite of the oldest sample.
	w.samples[w.next] = ms
	w.next = (w.next + 1) % l.maxSize
}

// Percentile returns the p-th percentile (0-100) for key, or zero without samples.
func (l *LatencyTracker) Percentile(key string, p float64) int64 {
	sorted := l.sorted(key)
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	index := int((p / 100.0) * float64(len(sorted)-1))
	return sorted[index]
}

// Mean returns the average sample for key, or zero without samples.
func (l *LatencyTracker) Mean(key string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	w, ok := l.windows[key]
	if !ok || len(w.samples) == 0 {
		return 0
	}
	var sum int64
	for _, s := range w.samples {
		sum += s
	}
	return float64(sum) / float64(len(w.samples))
}

// Count returns the number of samples held for key.
func (l *LatencyTracker) Count(key string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if w, ok := l.windows[key]; ok {
		return len(w.samples)
	}
	return 0
}

// Keys lists every key with at least one sample, sorted.
func (l *LatencyTracker) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]string, 0, len(l.windows))
	for k := range l.windows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (l *LatencyTracker) sorted(key string) []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.windows[key]
	if !ok {
		return nil
	}
	sorted := append([]int64(nil), w.samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}
