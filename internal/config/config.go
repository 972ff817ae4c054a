package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel  string          `yaml:"log_level"`
	Loop      LoopConfig      `yaml:"loop"`
	Sensor    SensorConfig    `yaml:"sensor"`
	Control   ControlConfig   `yaml:"control"`
	Servos    ServosConfig    `yaml:"servos"`
	GPS       GPSConfig       `yaml:"gps"`
	Display   DisplayConfig   `yaml:"display"`
	Record    RecordConfig    `yaml:"record"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type LoopConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type SensorConfig struct {
	// Source is ads1115, sim or replay.
	Source      string            `yaml:"source"`
	I2CBus      int               `yaml:"i2c_bus"`
	Addr        uint16            `yaml:"addr"`
	Channels    []int             `yaml:"channels"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Sim         SimConfig         `yaml:"sim"`
	Replay      ReplayConfig      `yaml:"replay"`
}

type CalibrationConfig struct {
	ADCMax       float64 `yaml:"adc_max"`
	VRef         float64 `yaml:"vref"`
	// ZeroGVoltage is a pointer so an explicit 0 V survives defaulting.
	ZeroGVoltage *float64 `yaml:"zero_g_voltage"`
	Sensitivity  float64 `yaml:"sensitivity"`
}

type SimConfig struct {
	RollAmplitudeDeg float64       `yaml:"roll_amplitude_deg"`
	Period           time.Duration `yaml:"period"`
	NoiseDeg         float64       `yaml:"noise_deg"`
	Seed             uint64        `yaml:"seed"`
}

type ReplayConfig struct {
	Path string `yaml:"path"`
	// Session is the flight log session to replay; 0 means the latest.
	Session int64 `yaml:"session"`
	Loop    bool  `yaml:"loop"`
}

type ControlConfig struct {
	// Mode is quadratic or pid.
	Mode             string    `yaml:"mode"`
	TrimDeg          float64   `yaml:"trim_deg"`
	GainDivisor      float64   `yaml:"gain_divisor"`
	MaxDeflectionDeg float64   `yaml:"max_deflection_deg"`
	NeutralDeg       *float64  `yaml:"neutral_deg"`
	PID              PIDConfig `yaml:"pid"`
}

type PIDConfig struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`
}

type ServosConfig struct {
	Left  ServoConfig `yaml:"left"`
	Right ServoConfig `yaml:"right"`
	// RailPin is a BCM GPIO that powers the servo rail; 0 means none.
	RailPin int `yaml:"rail_pin"`
	// FailSafeHold is how long neutral stays driven before the pins are
	// released on exit. Unset means 500ms; 0 releases at once.
	FailSafeHold *time.Duration `yaml:"failsafe_hold"`
}

type ServoConfig struct {
	// Backend is sysfs or log.
	Backend string `yaml:"backend"`
	// PWMChip is the pwmchipN index; -1 picks the first chip with PWMChannel.
	PWMChip     *int         `yaml:"pwm_chip"`
	PWMChannel  int          `yaml:"pwm_channel"`
	FrequencyHz int          `yaml:"frequency_hz"`
	MinDuty     uint16       `yaml:"min_duty"`
	MaxDuty     uint16       `yaml:"max_duty"`
	Reverse     bool         `yaml:"reverse"`
	Filter      FilterConfig `yaml:"filter"`
}

type FilterConfig struct {
	BufferSize int           `yaml:"buffer_size"`
	Stages     []StageConfig `yaml:"stages"`
}

type StageConfig struct {
	Kind  string  `yaml:"kind"`
	Alpha float64 `yaml:"alpha"`
}

type GPSConfig struct {
	Enable bool   `yaml:"enable"`
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type DisplayConfig struct {
	Enable bool `yaml:"enable"`
	// Driver is pcd8544 or log.
	Driver     string `yaml:"driver"`
	SPIDevice  string `yaml:"spi_device"`
	SPISpeedHz uint32 `yaml:"spi_speed_hz"`
	GPIOChip   string `yaml:"gpio_chip"`
	DCPin      int    `yaml:"dc_pin"`
	RSTPin     int    `yaml:"rst_pin"`
	Contrast   uint8  `yaml:"contrast"`
	// Font is basic or gomono.
	Font string `yaml:"font"`
	// Every refreshes the display once per this many ticks.
	Every int `yaml:"every"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type TelemetryConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
	Every  int    `yaml:"every"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Loop.Interval == 0 {
		cfg.Loop.Interval = 50 * time.Millisecond
	}

	s := &cfg.Sensor
	s.Source = strings.ToLower(strings.TrimSpace(s.Source))
	if s.Source == "" {
		s.Source = "ads1115"
	}
	if s.I2CBus == 0 {
		s.I2CBus = 1
	}
	if s.Addr == 0 {
		s.Addr = 0x48
	}
	if len(s.Channels) == 0 {
		s.Channels = []int{0, 1, 2}
	}
	// GY-61 (ADXL335) at 3.3 V.
	if s.Calibration.ADCMax == 0 {
		s.Calibration.ADCMax = 65535
	}
	if s.Calibration.VRef == 0 {
		s.Calibration.VRef = 3.3
	}
	if s.Calibration.ZeroGVoltage == nil {
		s.Calibration.ZeroGVoltage = ptr(1.65)
	}
	if s.Calibration.Sensitivity == 0 {
		s.Calibration.Sensitivity = 0.33
	}
	if s.Sim.Period == 0 {
		s.Sim.Period = 4 * time.Second
	}

	c := &cfg.Control
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = "quadratic"
	}
	if c.GainDivisor == 0 {
		c.GainDivisor = 10
	}
	if c.MaxDeflectionDeg == 0 {
		c.MaxDeflectionDeg = 90
	}
	if c.NeutralDeg == nil {
		c.NeutralDeg = ptr(90.0)
	}

	// Two servos on the auto-selected chip need distinct channels. With an
	// explicit chip on either side, channel 0 may be valid for both.
	if cfg.Servos.Left.PWMChip == nil && cfg.Servos.Right.PWMChip == nil &&
		cfg.Servos.Left.PWMChannel == 0 && cfg.Servos.Right.PWMChannel == 0 {
		cfg.Servos.Right.PWMChannel = 1
	}
	if cfg.Servos.FailSafeHold == nil {
		cfg.Servos.FailSafeHold = ptr(500 * time.Millisecond)
	}

	for _, sv := range []*ServoConfig{&cfg.Servos.Left, &cfg.Servos.Right} {
		sv.Backend = strings.ToLower(strings.TrimSpace(sv.Backend))
		if sv.Backend == "" {
			sv.Backend = "sysfs"
		}
		if sv.PWMChip == nil {
			auto := -1
			sv.PWMChip = &auto
		}
		if sv.FrequencyHz == 0 {
			sv.FrequencyHz = 50
		}
		// 0.5 ms and 2.5 ms pulses in a 20 ms period (SG90 travel).
		if sv.MinDuty == 0 && sv.MaxDuty == 0 {
			sv.MinDuty, sv.MaxDuty = 1638, 8192
		}
		if sv.Filter.BufferSize == 0 {
			sv.Filter.BufferSize = 5
		}
		if len(sv.Filter.Stages) == 0 {
			sv.Filter.Stages = []StageConfig{{Kind: "median"}, {Kind: "ema", Alpha: 0.3}}
		}
	}

	if cfg.GPS.Device == "" {
		cfg.GPS.Device = "/dev/serial0"
	}
	if cfg.GPS.Baud == 0 {
		cfg.GPS.Baud = 9600
	}

	d := &cfg.Display
	d.Driver = strings.ToLower(strings.TrimSpace(d.Driver))
	if d.Driver == "" {
		d.Driver = "pcd8544"
	}
	if d.Font == "" {
		d.Font = "basic"
	}
	if d.Every == 0 {
		d.Every = 10
	}

	if cfg.Record.Path == "" {
		cfg.Record.Path = "wingleveler.db"
	}
	if cfg.Telemetry.Every == 0 {
		cfg.Telemetry.Every = 5
	}
}

func (cfg *Config) validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}
	if cfg.Loop.Interval < 0 {
		return fmt.Errorf("loop.interval must be > 0")
	}

	s := cfg.Sensor
	switch s.Source {
	case "ads1115":
		if len(s.Channels) != 3 {
			return fmt.Errorf("sensor.channels must list 3 inputs (x, y, z)")
		}
		for _, ch := range s.Channels {
			if ch < 0 || ch > 3 {
				return fmt.Errorf("sensor.channels entries must be in 0..3")
			}
		}
	case "sim":
		if s.Sim.RollAmplitudeDeg < 0 || s.Sim.RollAmplitudeDeg >= 90 {
			return fmt.Errorf("sensor.sim.roll_amplitude_deg must be in [0, 90)")
		}
		if s.Sim.Period < 0 {
			return fmt.Errorf("sensor.sim.period must be > 0")
		}
	case "replay":
		if s.Replay.Path == "" {
			return fmt.Errorf("sensor.replay.path is required when sensor.source is 'replay'")
		}
	default:
		return fmt.Errorf("sensor.source must be one of ads1115, sim, replay")
	}
	if s.Calibration.ADCMax < 0 || s.Calibration.VRef < 0 {
		return fmt.Errorf("sensor.calibration.adc_max and sensor.calibration.vref must be > 0")
	}
	if *s.Calibration.ZeroGVoltage < 0 {
		return fmt.Errorf("sensor.calibration.zero_g_voltage must be >= 0")
	}
	if s.Calibration.Sensitivity < 0 {
		return fmt.Errorf("sensor.calibration.sensitivity must be > 0")
	}

	c := cfg.Control
	switch c.Mode {
	case "quadratic", "pid":
	default:
		return fmt.Errorf("control.mode must be 'quadratic' or 'pid'")
	}
	if c.GainDivisor < 0 {
		return fmt.Errorf("control.gain_divisor must be > 0")
	}
	if c.MaxDeflectionDeg < 0 || c.MaxDeflectionDeg > 90 {
		return fmt.Errorf("control.max_deflection_deg must be in (0, 90]")
	}
	if *c.NeutralDeg < 0 || *c.NeutralDeg > 180 {
		return fmt.Errorf("control.neutral_deg must be in [0, 180]")
	}

	for _, sv := range []struct {
		name string
		cfg  ServoConfig
	}{{"servos.left", cfg.Servos.Left}, {"servos.right", cfg.Servos.Right}} {
		switch sv.cfg.Backend {
		case "sysfs", "log":
		default:
			return fmt.Errorf("%s.backend must be 'sysfs' or 'log'", sv.name)
		}
		if sv.cfg.PWMChannel < 0 {
			return fmt.Errorf("%s.pwm_channel must be >= 0", sv.name)
		}
		if sv.cfg.FrequencyHz < 0 {
			return fmt.Errorf("%s.frequency_hz must be > 0", sv.name)
		}
		if sv.cfg.MinDuty >= sv.cfg.MaxDuty {
			return fmt.Errorf("%s.min_duty must be below %s.max_duty", sv.name, sv.name)
		}
		if sv.cfg.Filter.BufferSize < 0 {
			return fmt.Errorf("%s.filter.buffer_size must be > 0", sv.name)
		}
	}
	l, r := cfg.Servos.Left, cfg.Servos.Right
	if l.Backend == "sysfs" && r.Backend == "sysfs" && *l.PWMChip == *r.PWMChip && l.PWMChannel == r.PWMChannel {
		return fmt.Errorf("servos.left and servos.right cannot share a pwm channel")
	}
	if cfg.Servos.RailPin < 0 {
		return fmt.Errorf("servos.rail_pin must be >= 0")
	}
	if *cfg.Servos.FailSafeHold < 0 {
		return fmt.Errorf("servos.failsafe_hold must be >= 0")
	}

	if cfg.GPS.Enable && cfg.GPS.Baud < 0 {
		return fmt.Errorf("gps.baud must be > 0")
	}

	if cfg.Display.Enable {
		switch cfg.Display.Driver {
		case "pcd8544", "log":
		default:
			return fmt.Errorf("display.driver must be 'pcd8544' or 'log'")
		}
		switch cfg.Display.Font {
		case "basic", "gomono":
		default:
			return fmt.Errorf("display.font must be 'basic' or 'gomono'")
		}
		if cfg.Display.Every < 0 {
			return fmt.Errorf("display.every must be > 0")
		}
	}

	if cfg.Record.Enable && s.Source == "replay" && cfg.Record.Path == s.Replay.Path {
		return fmt.Errorf("record.path must differ from sensor.replay.path")
	}

	if cfg.Telemetry.Enable {
		if cfg.Telemetry.Dest == "" {
			return fmt.Errorf("telemetry.dest is required when telemetry.enable is true")
		}
		if cfg.Telemetry.Every < 0 {
			return fmt.Errorf("telemetry.every must be > 0")
		}
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
