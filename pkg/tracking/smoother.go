package tracking

import "gonum.org/v1/gonum/stat"

// Smoother is a bounded-window moving average of a scalar signal.
// One instance is used per axis.
type Smoother struct {
	window  int
	samples []float64
}

// NewSmoother creates a smoother averaging the last window samples.
// A window below 1 is treated as 1 (no smoothing).
func NewSmoother(window int) *Smoother {
	if window < 1 {
		window = 1
	}
	return &Smoother{
		window:  window,
		samples: make([]float64, 0, window),
	}
}

// Update appends a sample, evicts the oldest beyond the window
// and returns the mean of the retained samples.
func (s *Smoother) Update(value float64) float64 {
	if len(s.samples) == s.window {
		copy(s.samples, s.samples[1:])
		s.samples = s.samples[:s.window-1]
	}
	s.samples = append(s.samples, value)
	return stat.Mean(s.samples, nil)
}

// Reset clears the history.
func (s *Smoother) Reset() {
	s.samples = s.samples[:0]
}

// Len returns the number of samples currently held.
func (s *Smoother) Len() int {
	return len(s.samples)
}

// Window returns the configured window size.
func (s *Smoother) Window() int {
	return s.window
}
