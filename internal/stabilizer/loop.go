// Package stabilizer runs the control tick: read the accelerometer, estimate
// roll, compute the aileron command and drive both servos.
//
// The tick itself is single-threaded. GPS, display, flight log and telemetry
// are optional and never block it; their failures are logged and counted.
package stabilizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"wingleveler/internal/accel"
	"wingleveler/internal/control"
	"wingleveler/internal/display"
	"wingleveler/internal/flightlog"
	"wingleveler/internal/gps"
	"wingleveler/internal/sensor"
	"wingleveler/internal/servo"
	"wingleveler/internal/udp"
)

var afterFn = time.After
var nowFn = time.Now

const defaultInterval = 50 * time.Millisecond

type GPS interface {
	Snapshot() gps.Snapshot
}

type Recorder interface {
	Record(t flightlog.Tick) bool
}

type Telemetry interface {
	SendMessage(m udp.Message) error
}

type Config struct {
	// Interval is the sleep between ticks.
	Interval    time.Duration
	TrimDeg     float64
	Calibration accel.Calibration
}

// Result describes one completed tick.
type Result struct {
	Tick        uint64
	Time        time.Time
	Raw         sensor.RawSample
	Orientation accel.Orientation
	Command     float64
	LeftDuty    uint16
	RightDuty   uint16
	Elapsed     time.Duration
}

type Stats struct {
	Ticks           uint64
	Overruns        uint64
	MaxTick         time.Duration
	DisplayErrors   uint64
	TelemetryErrors uint64
	RecordDrops     uint64
}

type Loop struct {
	cfg   Config
	src   sensor.Source
	law   control.Law
	left  *servo.Channel
	right *servo.Channel
	log   *slog.Logger

	gps            GPS
	disp           display.Display
	displayEvery   uint64
	rec            Recorder
	tel            Telemetry
	telemetryEvery uint64

	stats Stats
}

type Option func(*Loop)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.log = logger
		}
	}
}

func WithGPS(g GPS) Option {
	return func(l *Loop) { l.gps = g }
}

// WithDisplay refreshes d every n ticks (n < 1 means every tick).
func WithDisplay(d display.Display, every int) Option {
	return func(l *Loop) {
		l.disp = d
		l.displayEvery = uint64(max(every, 1))
	}
}

func WithRecorder(r Recorder) Option {
	return func(l *Loop) { l.rec = r }
}

// WithTelemetry sends a datagram every n ticks (n < 1 means every tick).
func WithTelemetry(t Telemetry, every int) Option {
	return func(l *Loop) {
		l.tel = t
		l.telemetryEvery = uint64(max(every, 1))
	}
}

func New(cfg Config, src sensor.Source, law control.Law, left, right *servo.Channel, opts ...Option) (*Loop, error) {
	if src == nil || law == nil || left == nil || right == nil {
		return nil, errors.New("stabilizer: source, law and both servo channels are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Calibration == (accel.Calibration{}) {
		cfg.Calibration = accel.DefaultCalibration()
	}
	l := &Loop{
		cfg:   cfg,
		src:   src,
		law:   law,
		left:  left,
		right: right,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Loop) Stats() Stats { return l.stats }

// Step runs one tick. Sensor and servo errors are returned; collaborator
// failures are only logged.
func (l *Loop) Step() (Result, error) {
	start := nowFn()
	raw, err := l.src.ReadRaw()
	if err != nil {
		return Result{}, fmt.Errorf("stabilizer: read sensor: %w", err)
	}
	o := l.cfg.Calibration.Estimate(raw)
	cmd := l.law.Command(o.RollDeg, l.cfg.TrimDeg)

	if err := l.left.SetAngle(cmd); err != nil {
		return Result{}, fmt.Errorf("stabilizer: %s servo: %w", l.left.Name(), err)
	}
	if err := l.right.SetAngle(cmd); err != nil {
		return Result{}, fmt.Errorf("stabilizer: %s servo: %w", l.right.Name(), err)
	}

	l.stats.Ticks++
	res := Result{
		Tick:        l.stats.Ticks,
		Time:        start,
		Raw:         raw,
		Orientation: o,
		Command:     cmd,
	}
	res.LeftDuty, _ = l.left.CurrentDuty()
	res.RightDuty, _ = l.right.CurrentDuty()

	var fix gps.Snapshot
	if l.gps != nil {
		fix = l.gps.Snapshot()
	}
	l.record(res, fix)
	l.show(res)
	l.send(res, fix)

	res.Elapsed = nowFn().Sub(start)
	if res.Elapsed > l.stats.MaxTick {
		l.stats.MaxTick = res.Elapsed
	}
	return res, nil
}

// Run ticks until ctx is cancelled (returns nil) or a tick fails.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("stabilizer started", "interval", l.cfg.Interval, "trim_deg", l.cfg.TrimDeg)
	if l.disp != nil {
		if err := l.disp.Clear(); err != nil {
			l.stats.DisplayErrors++
			l.log.Warn("display clear failed", "err", err)
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		res, err := l.Step()
		if err != nil {
			return err
		}
		if res.Elapsed > l.cfg.Interval {
			l.stats.Overruns++
			l.log.Warn("tick overrun", "tick", res.Tick, "elapsed", res.Elapsed, "interval", l.cfg.Interval)
		}
		l.log.Debug("tick",
			"tick", res.Tick,
			"roll", res.Orientation.RollDeg,
			"pitch", res.Orientation.PitchDeg,
			"command", res.Command,
			"left_duty", res.LeftDuty,
			"right_duty", res.RightDuty,
		)

		select {
		case <-ctx.Done():
			return nil
		case <-afterFn(l.cfg.Interval):
		}
	}
}

func (l *Loop) record(res Result, fix gps.Snapshot) {
	if l.rec == nil {
		return
	}
	t := flightlog.Tick{
		Seq:       res.Tick,
		Time:      res.Time,
		Raw:       res.Raw,
		Accel:     res.Orientation.Accel,
		RollDeg:   res.Orientation.RollDeg,
		PitchDeg:  res.Orientation.PitchDeg,
		Command:   res.Command,
		LeftDuty:  res.LeftDuty,
		RightDuty: res.RightDuty,
	}
	if fix.Valid {
		if lat, lon, ok := fix.Location(); ok {
			t.LatDeg, t.LonDeg = &lat, &lon
		}
	}
	if !l.rec.Record(t) {
		l.stats.RecordDrops++
	}
}

func (l *Loop) show(res Result) {
	if l.disp == nil || (res.Tick-1)%l.displayEvery != 0 {
		return
	}
	rows := [display.Rows]string{
		fmt.Sprintf("tick: %d", res.Tick),
		fmt.Sprintf("Roll:%7.2f", res.Orientation.RollDeg),
		fmt.Sprintf("Pitch:%6.2f", res.Orientation.PitchDeg),
	}
	for y, text := range rows {
		if err := l.disp.WriteTextAt(0, y, text); err != nil {
			l.stats.DisplayErrors++
			l.log.Warn("display write failed", "row", y, "err", err)
			return
		}
	}
}

func (l *Loop) send(res Result, fix gps.Snapshot) {
	if l.tel == nil || (res.Tick-1)%l.telemetryEvery != 0 {
		return
	}
	m := udp.Message{
		Tick:      res.Tick,
		Time:      res.Time.UTC(),
		RollDeg:   res.Orientation.RollDeg,
		PitchDeg:  res.Orientation.PitchDeg,
		Command:   res.Command,
		LeftDuty:  res.LeftDuty,
		RightDuty: res.RightDuty,
		Overruns:  l.stats.Overruns,
	}
	if fix.Enabled {
		m.GPS = &udp.GPSReport{
			Valid:      fix.Valid,
			LatDeg:     fix.LatDeg,
			LonDeg:     fix.LonDeg,
			AltitudeM:  fix.AltitudeM,
			SpeedKmh:   fix.SpeedKmh,
			CourseDeg:  fix.CourseDeg,
			Satellites: fix.Satellites,
		}
	}
	if err := l.tel.SendMessage(m); err != nil {
		l.stats.TelemetryErrors++
		l.log.Warn("telemetry send failed", "tick", res.Tick, "err", err)
	}
}
