package filter

import (
	"errors"
	"math"
	"slices"
	"testing"
)

func TestBuffer_EvictsOldestFirst(t *testing.T) {
	b, err := NewBuffer(3)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	for _, v := range []float64{1, 2, 3, 4} {
		b.Add(v)
	}
	if got, want := b.Values(), []float64{2, 3, 4}; !slices.Equal(got, want) {
		t.Fatalf("values=%v want %v", got, want)
	}
	if b.Len() != 3 || b.Cap() != 3 {
		t.Fatalf("len=%d cap=%d want 3/3", b.Len(), b.Cap())
	}
}

func TestBuffer_WrapsManyTimes(t *testing.T) {
	b, _ := NewBuffer(4)
	for i := 1; i <= 11; i++ {
		b.Add(float64(i))
	}
	if got, want := b.Values(), []float64{8, 9, 10, 11}; !slices.Equal(got, want) {
		t.Fatalf("values=%v want %v", got, want)
	}
}

func TestBuffer_RejectsNonPositiveCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		if _, err := NewBuffer(c); err == nil {
			t.Fatalf("capacity %d: expected error", c)
		}
	}
}

func TestMedian(t *testing.T) {
	cases := []struct {
		name string
		in   []float64
		want float64
	}{
		{name: "Odd", in: []float64{5, 1, 4, 2, 3}, want: 3},
		{name: "Even", in: []float64{4, 1, 3, 2}, want: 2.5},
		{name: "Empty", in: nil, want: 0},
		{name: "Single", in: []float64{7}, want: 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := (Median{}).ProcessWindow(tc.in); got != tc.want {
				t.Fatalf("got=%v want=%v", got, tc.want)
			}
		})
	}
}

func TestMeanAndLatest(t *testing.T) {
	w := []float64{1, 2, 3, 6}
	if got := (Mean{}).ProcessWindow(w); got != 3 {
		t.Fatalf("mean=%v want 3", got)
	}
	if got := (Latest{}).ProcessWindow(w); got != 6 {
		t.Fatalf("latest=%v want 6", got)
	}
	if got := (Mean{}).ProcessWindow(nil); got != 0 {
		t.Fatalf("mean(empty)=%v want 0", got)
	}
}

func TestEMA_SeedThenBlend(t *testing.T) {
	e, err := NewEMA(0.3)
	if err != nil {
		t.Fatalf("NewEMA: %v", err)
	}
	if got := e.ProcessScalar(10); got != 10 {
		t.Fatalf("first=%v want 10", got)
	}
	if got := e.ProcessScalar(20); math.Abs(got-13.0) > 1e-12 {
		t.Fatalf("second=%v want 13", got)
	}
	e.Reset()
	if got := e.ProcessScalar(50); got != 50 {
		t.Fatalf("after reset=%v want 50", got)
	}
}

func TestNewEMA_AlphaRange(t *testing.T) {
	for _, a := range []float64{0, 1, -0.1, 1.5, math.NaN()} {
		if _, err := NewEMA(a); err == nil {
			t.Fatalf("alpha=%v: expected error", a)
		}
	}
}

func TestPipeline_EmptyBufferYieldsZero(t *testing.T) {
	e, _ := NewEMA(0.5)
	p, err := NewPipeline(5, Median{}, e)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if got := p.Value(); got != 0 {
		t.Fatalf("got=%v want 0", got)
	}
	// The EMA must not have been seeded by the empty evaluation.
	p.Add(40)
	if got := p.Value(); got != 40 {
		t.Fatalf("got=%v want 40", got)
	}
}

func TestPipeline_MedianThenEMA(t *testing.T) {
	e, _ := NewEMA(0.3)
	p, err := NewPipeline(5, Median{}, e)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	p.Add(10)
	if got := p.Value(); got != 10 {
		t.Fatalf("tick1=%v want 10", got)
	}
	p.Add(12)
	// median(10,12)=11 -> 0.3*11 + 0.7*10 = 10.3
	if got := p.Value(); math.Abs(got-10.3) > 1e-9 {
		t.Fatalf("tick2=%v want 10.3", got)
	}
}

func TestPipeline_ValueIsIdempotentAndLeavesBuffer(t *testing.T) {
	e, _ := NewEMA(0.3)
	p, _ := NewPipeline(3, Median{}, e)
	for _, v := range []float64{3, 1, 2} {
		p.Add(v)
		p.Value()
	}
	before := p.Window()
	a := p.Value()
	b := p.Value()
	if a != b {
		t.Fatalf("repeat Value changed result: %v then %v", a, b)
	}
	if after := p.Window(); !slices.Equal(before, after) {
		t.Fatalf("buffer mutated: before=%v after=%v", before, after)
	}
	// Sorting happens on scratch space, so insertion order survives.
	if want := []float64{3, 1, 2}; !slices.Equal(before, want) {
		t.Fatalf("window=%v want %v", before, want)
	}
}

func TestPipeline_ConvergesOnConstantInput(t *testing.T) {
	e, _ := NewEMA(0.3)
	p, _ := NewPipeline(5, Median{}, e)
	p.Add(0)
	p.Value()
	var got float64
	for i := 0; i < 100; i++ {
		p.Add(90)
		got = p.Value()
	}
	if math.Abs(got-90) > 1e-9 {
		t.Fatalf("got=%v want 90", got)
	}
}

func TestNewPipeline_RequiresWindowStage(t *testing.T) {
	if _, err := NewPipeline(3, nil); !errors.Is(err, ErrEmptyChain) {
		t.Fatalf("err=%v want ErrEmptyChain", err)
	}
}

func TestBuild(t *testing.T) {
	p, err := Build(5, []StageSpec{{Kind: "median"}, {Kind: "EMA", Alpha: 0.3}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got, want := p.String(), "median(5)->ema(0.3)"; got != want {
		t.Fatalf("String()=%q want %q", got, want)
	}

	bad := []struct {
		name  string
		specs []StageSpec
	}{
		{name: "Empty", specs: nil},
		{name: "ScalarFirst", specs: []StageSpec{{Kind: "ema", Alpha: 0.3}}},
		{name: "WindowLater", specs: []StageSpec{{Kind: "median"}, {Kind: "mean"}}},
		{name: "Unknown", specs: []StageSpec{{Kind: "kalman"}}},
		{name: "BadAlpha", specs: []StageSpec{{Kind: "latest"}, {Kind: "ema", Alpha: 2}}},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Build(5, tc.specs); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
