package sensor

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// SimConfig describes a synthetic roll oscillation around level flight.
type SimConfig struct {
	// RollAmplitudeDeg is the peak roll; zero means a steady level attitude.
	RollAmplitudeDeg float64
	// Period of one full roll oscillation.
	Period time.Duration
	// NoiseDeg adds uniform noise in [-NoiseDeg, NoiseDeg] to the roll angle.
	NoiseDeg float64
	Seed     uint64
}

// Sim synthesizes accelerometer samples for a wing rocking about its
// longitudinal axis with zero pitch.
type Sim struct {
	cfg   SimConfig
	enc   Encoder
	start time.Time
	now   func() time.Time
	rng   *rand.Rand
}

func NewSim(cfg SimConfig, enc Encoder) (*Sim, error) {
	if enc == nil {
		return nil, fmt.Errorf("sensor: sim needs an encoder")
	}
	if cfg.RollAmplitudeDeg < 0 || cfg.RollAmplitudeDeg >= 90 {
		return nil, fmt.Errorf("sensor: sim roll amplitude %v out of range [0,90)", cfg.RollAmplitudeDeg)
	}
	if cfg.RollAmplitudeDeg > 0 && cfg.Period <= 0 {
		return nil, fmt.Errorf("sensor: sim period must be > 0")
	}
	s := &Sim{cfg: cfg, enc: enc, now: time.Now}
	s.start = s.now()
	if cfg.NoiseDeg > 0 {
		s.rng = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	}
	return s, nil
}

// RollAt returns the simulated roll (degrees) after elapsed time, before noise.
func (s *Sim) RollAt(elapsed time.Duration) float64 {
	if s.cfg.RollAmplitudeDeg == 0 {
		return 0
	}
	phase := 2 * math.Pi * elapsed.Seconds() / s.cfg.Period.Seconds()
	return s.cfg.RollAmplitudeDeg * math.Sin(phase)
}

func (s *Sim) ReadRaw() (RawSample, error) {
	roll := s.RollAt(s.now().Sub(s.start))
	if s.rng != nil {
		roll += (s.rng.Float64()*2 - 1) * s.cfg.NoiseDeg
	}
	r := roll * math.Pi / 180
	// Gravity seen by a sensor rolled by r: y carries sin(r), z carries cos(r).
	return s.enc.Encode([3]float64{0, math.Sin(r), math.Cos(r)}), nil
}

func (s *Sim) Close() error { return nil }
