package stats

import (
	"math"
	"strconv"
	"sync"

	"github.com/zeusync/physync/internal/core/systems/physics"
)

// Summary is the reduced form of a full window. Values are milliseconds
// when the window records phase timings.
type Summary struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Window accumulates sum, min and max over exactly Size samples. It must
// not be read until it is full; Drain reads and resets in one step.
type Window struct {
	mu    sync.Mutex
	size  int
	count int
	sum   float64
	min   float64
	max   float64
}

// NewWindow creates a window over size samples. Sizes below 1 are raised to 1.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	w := &Window{size: size}
	w.reset()
	return w
}

func (w *Window) Size() int { return w.size }

// Count returns the samples recorded since the last reset.
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Full reports whether exactly Size samples have been recorded.
func (w *Window) Full() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count == w.size
}

// Record adds one sample. Recording into a full window is a contract breach.
func (w *Window) Record(v float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count >= w.size {
		return physics.NewError(physics.ErrorCodeWindowIncomplete,
			"stat window overflow at "+strconv.Itoa(w.size)+" samples", physics.ErrWindowIncomplete)
	}
	w.count++
	w.sum += v
	if v < w.min {
		w.min = v
	}
	if v > w.max {
		w.max = v
	}
	return nil
}

// Summary reads the window without resetting it.
func (w *Window) Summary() (Summary, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.summary()
}

// Drain reads the window and resets it under the same lock.
func (w *Window) Drain() (Summary, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, err := w.summary()
	if err != nil {
		return Summary{}, err
	}
	w.reset()
	return s, nil
}

// Reset clears all accumulators to identity and returns the number of
// samples thrown away.
func (w *Window) Reset() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.count
	w.reset()
	return n
}

func (w *Window) summary() (Summary, error) {
	if w.count != w.size {
		return Summary{}, physics.NewError(physics.ErrorCodeWindowIncomplete,
			"stat window has "+strconv.Itoa(w.count)+" of "+strconv.Itoa(w.size)+" samples", physics.ErrWindowIncomplete)
	}
	return Summary{Avg: w.sum / float64(w.count), Min: w.min, Max: w.max}, nil
}

func (w *Window) reset() {
	w.count = 0
	w.sum = 0
	w.min = math.MaxFloat64
	w.max = -math.MaxFloat64
}
