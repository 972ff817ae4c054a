// Package filter implements the signal conditioning chain used on the servo
// outputs: a bounded sliding window feeding one window stage, followed by any
// number of pointwise stages.
package filter

import (
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyChain = errors.New("filter: pipeline needs a window stage")

// Pipeline owns a Buffer and a fixed chain of stages.
//
// Stage 0 always receives the buffer contents and every later stage receives
// the scalar produced by its predecessor. The chain cannot be changed after
// construction.
type Pipeline struct {
	buf     *Buffer
	window  WindowStage
	scalars []ScalarStage

	scratch []float64

	cached    float64
	cachedGen uint64
	haveCache bool
}

func NewPipeline(capacity int, window WindowStage, scalars ...ScalarStage) (*Pipeline, error) {
	if window == nil {
		return nil, ErrEmptyChain
	}
	for i, s := range scalars {
		if s == nil {
			return nil, fmt.Errorf("filter: scalar stage %d is nil", i+1)
		}
	}
	buf, err := NewBuffer(capacity)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		buf:     buf,
		window:  window,
		scalars: append([]ScalarStage(nil), scalars...),
		scratch: make([]float64, 0, capacity),
	}, nil
}

func (p *Pipeline) Add(v float64) { p.buf.Add(v) }

// Value runs the chain over the current buffer. An empty buffer yields 0
// without touching any stage.
//
// The buffer is never modified, and calling Value again without an
// intervening Add returns the same result without advancing stateful stages.
func (p *Pipeline) Value() float64 {
	if p.buf.Len() == 0 {
		return 0
	}
	if p.haveCache && p.cachedGen == p.buf.gen {
		return p.cached
	}

	p.scratch = p.buf.appendTo(p.scratch[:0])
	v := p.window.ProcessWindow(p.scratch)
	for _, s := range p.scalars {
		v = s.ProcessScalar(v)
	}

	p.cached = v
	p.cachedGen = p.buf.gen
	p.haveCache = true
	return v
}

// Window returns a copy of the buffered history, oldest first.
func (p *Pipeline) Window() []float64 { return p.buf.Values() }

func (p *Pipeline) Capacity() int { return p.buf.Cap() }

// String describes the chain, e.g. "median(5)->ema(0.3)".
func (p *Pipeline) String() string {
	var sb strings.Builder
	sb.WriteString(stageName(p.window))
	fmt.Fprintf(&sb, "(%d)", p.buf.Cap())
	for _, s := range p.scalars {
		sb.WriteString("->")
		sb.WriteString(stageName(s))
	}
	return sb.String()
}

func stageName(s any) string {
	switch v := s.(type) {
	case Median, *Median:
		return KindMedian
	case Mean, *Mean:
		return KindMean
	case Latest, *Latest:
		return KindLatest
	case *EMA:
		return fmt.Sprintf("%s(%g)", KindEMA, v.alpha)
	default:
		return fmt.Sprintf("%T", s)
	}
}
