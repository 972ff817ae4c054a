package filter

import (
	"fmt"
	"slices"
)

// WindowStage consumes the whole buffer. Only the first stage of a pipeline has this shape.
//
// The window passed in is a scratch copy; implementations may reorder it.
type WindowStage interface {
	ProcessWindow(window []float64) float64
}

// ScalarStage consumes the scalar produced by the previous stage.
type ScalarStage interface {
	ProcessScalar(v float64) float64
}

// Median outputs the median of the window. An empty window yields 0.
type Median struct{}

func (Median) ProcessWindow(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	slices.Sort(window)
	mid := len(window) / 2
	if len(window)%2 == 0 {
		return (window[mid-1] + window[mid]) / 2
	}
	return window[mid]
}

// Mean outputs the arithmetic mean of the window. An empty window yields 0.
type Mean struct{}

func (Mean) ProcessWindow(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, v := range window {
		sum += v
	}
	return sum / float64(len(window))
}

// Latest passes the most recent value through unchanged. Paired with an EMA it
// gives a plain single-pole low-pass on the raw input.
type Latest struct{}

func (Latest) ProcessWindow(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	return window[len(window)-1]
}

// EMA is an exponential moving average. The first value seeds the output.
//
// Not safe for concurrent use; each channel owns its own instance.
type EMA struct {
	alpha  float64
	value  float64
	seeded bool
}

// NewEMA returns an EMA with smoothing factor alpha in (0, 1).
// Smaller alpha smooths harder and lags more.
func NewEMA(alpha float64) (*EMA, error) {
	if !(alpha > 0 && alpha < 1) {
		return nil, fmt.Errorf("filter: ema alpha %v out of range (0,1)", alpha)
	}
	return &EMA{alpha: alpha}, nil
}

func (e *EMA) Alpha() float64 { return e.alpha }

func (e *EMA) ProcessScalar(v float64) float64 {
	if !e.seeded {
		e.value = v
		e.seeded = true
		return e.value
	}
	e.value = e.alpha*v + (1-e.alpha)*e.value
	return e.value
}

// Reset forgets the filter memory; the next input seeds it again.
func (e *EMA) Reset() {
	e.value = 0
	e.seeded = false
}
