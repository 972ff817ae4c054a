package sensor

import (
	"fmt"
	"io"
)

// Replay serves previously recorded samples in order. Without Loop it returns
// io.EOF once the recording is exhausted.
type Replay struct {
	samples []RawSample
	next    int
	loop    bool
}

func NewReplay(samples []RawSample, loop bool) (*Replay, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("sensor: replay has no samples")
	}
	return &Replay{samples: append([]RawSample(nil), samples...), loop: loop}, nil
}

func (r *Replay) ReadRaw() (RawSample, error) {
	if r.next >= len(r.samples) {
		if !r.loop {
			return RawSample{}, io.EOF
		}
		r.next = 0
	}
	s := r.samples[r.next]
	r.next++
	return s, nil
}

func (r *Replay) Len() int { return len(r.samples) }

func (r *Replay) Close() error { return nil }
