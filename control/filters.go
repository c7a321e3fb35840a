package control

import (
	"sync"

	"github.com/pkg/errors"
)

// MovingAverage is a finite impulse response filter averaging the last N samples.
type MovingAverage struct {
	mu     sync.Mutex
	window []float64
	next   int
	filled int
	sum    float64
}

// NewMovingAverage returns a filter over a window of filterSize samples.
func NewMovingAverage(filterSize int) (*MovingAverage, error) {
	if filterSize < 1 {
		return nil, errors.Errorf("moving average filter_size should be at least 1, got %d", filterSize)
	}
	return &MovingAverage{window: make([]float64, filterSize)}, nil
}

// Next pushes x and returns the average of the samples currently in the window.
func (f *MovingAverage) Next(x float64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sum += x - f.window[f.next]
	f.window[f.next] = x
	f.next = (f.next + 1) % len(f.window)
	if f.filled < len(f.window) {
		f.filled++
	}
	return f.sum / float64(f.filled)
}

// Reset empties the window.
func (f *MovingAverage) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.window {
		f.window[i] = 0
	}
	f.next, f.filled, f.sum = 0, 0, 0
}
