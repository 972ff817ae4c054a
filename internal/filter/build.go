package filter

import (
	"fmt"
	"strings"
)

const (
	KindMedian = "median"
	KindMean   = "mean"
	KindLatest = "latest"
	KindEMA    = "ema"
)

// StageSpec describes one stage of a pipeline as it appears in configuration.
type StageSpec struct {
	Kind  string
	Alpha float64
}

// Build constructs a pipeline from stage specs. The first spec must be a
// window kind (median, mean, latest); the rest must be scalar kinds (ema).
func Build(capacity int, specs []StageSpec) (*Pipeline, error) {
	if len(specs) == 0 {
		return nil, ErrEmptyChain
	}

	window, err := windowStage(specs[0])
	if err != nil {
		return nil, fmt.Errorf("filter: stage 0: %w", err)
	}

	scalars := make([]ScalarStage, 0, len(specs)-1)
	for i, spec := range specs[1:] {
		s, err := scalarStage(spec)
		if err != nil {
			return nil, fmt.Errorf("filter: stage %d: %w", i+1, err)
		}
		scalars = append(scalars, s)
	}
	return NewPipeline(capacity, window, scalars...)
}

func windowStage(spec StageSpec) (WindowStage, error) {
	switch strings.ToLower(strings.TrimSpace(spec.Kind)) {
	case KindMedian:
		return Median{}, nil
	case KindMean:
		return Mean{}, nil
	case KindLatest:
		return Latest{}, nil
	case KindEMA:
		return nil, fmt.Errorf("%q consumes a scalar and cannot start a chain", spec.Kind)
	default:
		return nil, fmt.Errorf("unknown stage kind %q", spec.Kind)
	}
}

func scalarStage(spec StageSpec) (ScalarStage, error) {
	switch strings.ToLower(strings.TrimSpace(spec.Kind)) {
	case KindEMA:
		return NewEMA(spec.Alpha)
	case KindMedian, KindMean, KindLatest:
		return nil, fmt.Errorf("%q consumes a window and is only valid as the first stage", spec.Kind)
	default:
		return nil, fmt.Errorf("unknown stage kind %q", spec.Kind)
	}
}
