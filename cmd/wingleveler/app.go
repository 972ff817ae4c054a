package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"wingleveler/internal/accel"
	"wingleveler/internal/config"
	"wingleveler/internal/control"
	"wingleveler/internal/display"
	"wingleveler/internal/filter"
	"wingleveler/internal/flightlog"
	"wingleveler/internal/gps"
	"wingleveler/internal/sensor"
	"wingleveler/internal/servo"
	"wingleveler/internal/stabilizer"
	"wingleveler/internal/udp"
)

// run wires the configured hardware and blocks until ctx is cancelled or the
// control loop fails. Once the servos are open, every return path leaves
// them at neutral and released.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	cal := calibration(cfg.Sensor.Calibration)

	src, err := openSource(ctx, cfg.Sensor, cal, logger)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	law, err := control.New(control.Config{
		Mode:             cfg.Control.Mode,
		GainDivisor:      cfg.Control.GainDivisor,
		MaxDeflectionDeg: cfg.Control.MaxDeflectionDeg,
		NeutralDeg:       *cfg.Control.NeutralDeg,
		Kp:               cfg.Control.PID.Kp,
		Ki:               cfg.Control.PID.Ki,
		Kd:               cfg.Control.PID.Kd,
		Interval:         cfg.Loop.Interval,
	})
	if err != nil {
		return err
	}

	var (
		store *flightlog.Store
		rec   *flightlog.Recorder
	)
	if cfg.Record.Enable {
		store = flightlog.New(cfg.Record.Path)
		defer func() { _ = store.Close() }()
		session, err := store.BeginSession(ctx, cfg.Sensor.Source, cfg)
		if err != nil {
			return err
		}
		rec = flightlog.NewRecorder(store, session, flightlog.WithLogger(logger))
		logger.Info("flight log recording", "path", cfg.Record.Path, "session", session)
	}

	left, right, err := openChannels(cfg.Servos, logger)
	if err != nil {
		if rec != nil {
			_ = rec.Close()
		}
		return err
	}
	bank := servo.NewBank(logger, left, right)
	bank.SetFailSafeHold(*cfg.Servos.FailSafeHold)
	if cfg.Servos.RailPin > 0 {
		rail, err := servo.OpenRail(cfg.Servos.RailPin)
		if err != nil {
			logger.Warn("servo rail unavailable", "gpio", cfg.Servos.RailPin, "err", err)
		} else {
			bank.SetRail(rail)
		}
	}

	var loop *stabilizer.Loop
	start := time.Now()
	err = bank.Guard(func() error {
		opts := []stabilizer.Option{stabilizer.WithLogger(logger)}

		if cfg.GPS.Enable {
			svc := gps.New(gps.Config{Enable: true, Device: cfg.GPS.Device, Baud: cfg.GPS.Baud}, logger)
			if err := svc.Start(ctx); err != nil {
				logger.Warn("gps unavailable", "err", err)
			}
			defer svc.Close()
			opts = append(opts, stabilizer.WithGPS(svc))
		}

		if cfg.Display.Enable {
			d, err := display.Open(display.Config{
				Driver:     cfg.Display.Driver,
				SPIDevice:  cfg.Display.SPIDevice,
				SPISpeedHz: cfg.Display.SPISpeedHz,
				GPIOChip:   cfg.Display.GPIOChip,
				DCPin:      cfg.Display.DCPin,
				RSTPin:     cfg.Display.RSTPin,
				Contrast:   cfg.Display.Contrast,
				Font:       cfg.Display.Font,
			}, logger)
			if err != nil {
				logger.Warn("display unavailable", "err", err)
			} else {
				defer func() { _ = d.Close() }()
				opts = append(opts, stabilizer.WithDisplay(d, cfg.Display.Every))
			}
		}

		if rec != nil {
			defer func() { _ = rec.Close() }()
			opts = append(opts, stabilizer.WithRecorder(rec))
		}

		if cfg.Telemetry.Enable {
			sender, err := udp.NewSender(cfg.Telemetry.Dest)
			if err != nil {
				logger.Warn("telemetry unavailable", "dest", cfg.Telemetry.Dest, "err", err)
			} else {
				defer func() { _ = sender.Close() }()
				opts = append(opts, stabilizer.WithTelemetry(sender, cfg.Telemetry.Every))
			}
		}

		var err error
		loop, err = stabilizer.New(stabilizer.Config{
			Interval:    cfg.Loop.Interval,
			TrimDeg:     cfg.Control.TrimDeg,
			Calibration: cal,
		}, src, law, left, right, opts...)
		if err != nil {
			return err
		}

		// Known starting position before the first measured command.
		if err := bank.SetAll(servo.NeutralAngle); err != nil {
			return err
		}
		return loop.Run(ctx)
	})

	if loop != nil {
		logSummary(logger, loop.Stats(), rec, store, time.Since(start))
	}
	return err
}

func calibration(c config.CalibrationConfig) accel.Calibration {
	return accel.Calibration{
		ADCMax:       c.ADCMax,
		VRef:         c.VRef,
		ZeroGVoltage: *c.ZeroGVoltage,
		Sensitivity:  c.Sensitivity,
	}
}

func openSource(ctx context.Context, cfg config.SensorConfig, cal accel.Calibration, logger *slog.Logger) (sensor.Source, error) {
	switch cfg.Source {
	case "ads1115":
		var chans [3]int
		copy(chans[:], cfg.Channels)
		src, err := sensor.OpenADS1115(sensor.ADS1115Config{
			I2CBus:   cfg.I2CBus,
			Addr:     cfg.Addr,
			Channels: chans,
			VRef:     cal.VRef,
			ADCMax:   cal.ADCMax,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("sensor ads1115", "bus", cfg.I2CBus, "addr", fmt.Sprintf("0x%02x", cfg.Addr), "channels", cfg.Channels)
		return src, nil
	case "sim":
		src, err := sensor.NewSim(sensor.SimConfig{
			RollAmplitudeDeg: cfg.Sim.RollAmplitudeDeg,
			Period:           cfg.Sim.Period,
			NoiseDeg:         cfg.Sim.NoiseDeg,
			Seed:             cfg.Sim.Seed,
		}, cal)
		if err != nil {
			return nil, err
		}
		logger.Info("sensor sim", "roll_amplitude_deg", cfg.Sim.RollAmplitudeDeg, "period", cfg.Sim.Period)
		return src, nil
	case "replay":
		return openReplay(ctx, cfg.Replay, logger)
	default:
		return nil, fmt.Errorf("unknown sensor source %q", cfg.Source)
	}
}

func openReplay(ctx context.Context, cfg config.ReplayConfig, logger *slog.Logger) (sensor.Source, error) {
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	store := flightlog.New(cfg.Path)
	defer func() { _ = store.Close() }()

	session := cfg.Session
	if session == 0 {
		latest, err := store.LatestSession(ctx)
		if err != nil {
			return nil, fmt.Errorf("replay: %s: %w", cfg.Path, err)
		}
		session = latest
	}
	samples, err := store.Samples(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	src, err := sensor.NewReplay(samples, cfg.Loop)
	if err != nil {
		return nil, err
	}
	logger.Info("sensor replay", "path", cfg.Path, "session", session, "samples", humanize.Comma(int64(src.Len())), "loop", cfg.Loop)
	return src, nil
}

func openChannels(cfg config.ServosConfig, logger *slog.Logger) (left, right *servo.Channel, err error) {
	left, err = openChannel("left", cfg.Left, logger)
	if err != nil {
		return nil, nil, err
	}
	right, err = openChannel("right", cfg.Right, logger)
	if err != nil {
		return nil, nil, errors.Join(err, left.Release())
	}
	return left, right, nil
}

func openChannel(name string, cfg config.ServoConfig, logger *slog.Logger) (*servo.Channel, error) {
	specs := make([]filter.StageSpec, 0, len(cfg.Filter.Stages))
	for _, s := range cfg.Filter.Stages {
		specs = append(specs, filter.StageSpec{Kind: s.Kind, Alpha: s.Alpha})
	}
	pipe, err := filter.Build(cfg.Filter.BufferSize, specs)
	if err != nil {
		return nil, fmt.Errorf("servos.%s.filter: %w", name, err)
	}

	chip := -1
	if cfg.PWMChip != nil {
		chip = *cfg.PWMChip
	}
	periph, err := servo.Open(name, servo.PeripheralConfig{
		Backend:     cfg.Backend,
		Chip:        chip,
		Channel:     cfg.PWMChannel,
		FrequencyHz: cfg.FrequencyHz,
	}, logger)
	if err != nil {
		return nil, err
	}

	ch, err := servo.NewChannel(servo.ChannelConfig{
		Name:    name,
		MinDuty: cfg.MinDuty,
		MaxDuty: cfg.MaxDuty,
		Reverse: cfg.Reverse,
	}, pipe, periph)
	if err != nil {
		return nil, errors.Join(err, periph.Release())
	}
	logger.Info("servo channel", "name", name, "backend", cfg.Backend, "filter", pipe.String(), "reverse", cfg.Reverse)
	return ch, nil
}

func logSummary(logger *slog.Logger, st stabilizer.Stats, rec *flightlog.Recorder, store *flightlog.Store, elapsed time.Duration) {
	attrs := []any{
		"ticks", humanize.Comma(int64(st.Ticks)),
		"elapsed", elapsed.Round(time.Millisecond),
		"overruns", humanize.Comma(int64(st.Overruns)),
		"max_tick", st.MaxTick,
	}
	if st.DisplayErrors > 0 {
		attrs = append(attrs, "display_errors", st.DisplayErrors)
	}
	if st.TelemetryErrors > 0 {
		attrs = append(attrs, "telemetry_errors", st.TelemetryErrors)
	}
	if rec != nil {
		rs := rec.Stats()
		attrs = append(attrs,
			"logged", humanize.Comma(int64(rs.Written)),
			"log_dropped", humanize.Comma(int64(rs.Dropped+rs.Failed)),
		)
	}
	if store != nil {
		if fi, err := os.Stat(store.Path()); err == nil {
			attrs = append(attrs, "log_size", humanize.Bytes(uint64(fi.Size())))
		}
	}
	logger.Info("wingleveler summary", attrs...)
}
