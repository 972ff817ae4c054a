package sensor

import (
	"fmt"
	"math"
	"time"

	"wingleveler/internal/i2c"
)

var sleep = time.Sleep

// ADS1115 register map and config bits used for single-shot, single-ended reads.
const (
	ads1115AddrDefault = 0x48

	regConversion = 0x00
	regConfig     = 0x01

	cfgOSStart       = 0x8000 // write: start a conversion; read: 1 when idle
	cfgMuxSingleBase = 0x4000 // AIN0 vs GND; AINn adds n<<12
	cfgPGA4096       = 0x0200 // +/-4.096 V full scale
	cfgModeSingle    = 0x0100
	cfgDR860         = 0x00E0
	cfgCompDisable   = 0x0003

	ads1115FullScaleV = 4.096

	// One conversion at 860 SPS takes ~1.16 ms.
	conversionWait = 1200 * time.Microsecond
	readyPollWait  = 200 * time.Microsecond
	readyPolls     = 5
)

type adsRegIO interface {
	ReadRegU16(reg byte) (uint16, error)
	WriteRegU16(reg byte, v uint16) error
}

type ADS1115Config struct {
	// I2CBus is the /dev/i2c-N index.
	I2CBus int
	Addr   uint16
	// Channels maps X, Y, Z to ADS1115 inputs AIN0..AIN3.
	Channels [3]int

	// VRef and ADCMax define the raw code scale reported to callers.
	VRef   float64
	ADCMax float64
}

// ADS1115 samples an analog accelerometer (GY-61/ADXL335 class) through a
// TI ADS1115 16-bit ADC and rescales the measured voltages to raw codes.
type ADS1115 struct {
	dev      adsRegIO
	bus      *i2c.Bus
	channels [3]int
	vref     float64
	adcMax   float64
}

func DefaultADS1115Address() uint16 { return ads1115AddrDefault }

func OpenADS1115(cfg ADS1115Config) (*ADS1115, error) {
	if cfg.Addr == 0 {
		cfg.Addr = ads1115AddrDefault
	}
	bus, err := i2c.OpenIndex(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("ads1115: %w", err)
	}
	a, err := newADS1115(bus.Dev(cfg.Addr), cfg)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	a.bus = bus
	return a, nil
}

func newADS1115(dev adsRegIO, cfg ADS1115Config) (*ADS1115, error) {
	if dev == nil {
		return nil, fmt.Errorf("ads1115: dev is nil")
	}
	for i, ch := range cfg.Channels {
		if ch < 0 || ch > 3 {
			return nil, fmt.Errorf("ads1115: axis %d mapped to invalid input AIN%d", i, ch)
		}
	}
	if cfg.VRef <= 0 || cfg.ADCMax <= 0 {
		return nil, fmt.Errorf("ads1115: vref and adc_max must be > 0")
	}

	a := &ADS1115{dev: dev, channels: cfg.Channels, vref: cfg.VRef, adcMax: cfg.ADCMax}
	// Probe: the config register must be readable.
	if _, err := dev.ReadRegU16(regConfig); err != nil {
		return nil, fmt.Errorf("ads1115: probe failed: %w", err)
	}
	return a, nil
}

func (a *ADS1115) ReadRaw() (RawSample, error) {
	var codes [3]uint16
	for i, ch := range a.channels {
		v, err := a.readVolts(ch)
		if err != nil {
			return RawSample{}, err
		}
		codes[i] = voltsToCode(v, a.vref, a.adcMax)
	}
	return RawSample{X: codes[0], Y: codes[1], Z: codes[2]}, nil
}

func (a *ADS1115) Close() error {
	if a == nil || a.bus == nil {
		return nil
	}
	err := a.bus.Close()
	a.bus = nil
	return err
}

func (a *ADS1115) readVolts(ch int) (float64, error) {
	cfg := uint16(cfgOSStart | cfgMuxSingleBase | ch<<12 | cfgPGA4096 | cfgModeSingle | cfgDR860 | cfgCompDisable)
	if err := a.dev.WriteRegU16(regConfig, cfg); err != nil {
		return 0, fmt.Errorf("ads1115: start AIN%d: %w", ch, err)
	}
	sleep(conversionWait)

	ready := false
	for i := 0; i < readyPolls; i++ {
		st, err := a.dev.ReadRegU16(regConfig)
		if err != nil {
			return 0, fmt.Errorf("ads1115: poll AIN%d: %w", ch, err)
		}
		if st&cfgOSStart != 0 {
			ready = true
			break
		}
		sleep(readyPollWait)
	}
	if !ready {
		return 0, fmt.Errorf("ads1115: AIN%d conversion timed out", ch)
	}

	raw, err := a.dev.ReadRegU16(regConversion)
	if err != nil {
		return 0, fmt.Errorf("ads1115: read AIN%d: %w", ch, err)
	}
	return float64(int16(raw)) * ads1115FullScaleV / 32768.0, nil
}

// voltsToCode maps v onto [0, adcMax] relative to vref, clamping out-of-range input.
func voltsToCode(v, vref, adcMax float64) uint16 {
	ratio := v / vref
	if ratio < 0 || math.IsNaN(ratio) {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return uint16(math.Round(ratio * adcMax))
}
