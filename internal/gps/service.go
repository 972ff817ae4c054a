package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var openSerialFn = openSerial

const (
	defaultDevice = "/dev/serial0"
	defaultBaud   = 9600
)

type Config struct {
	Enable bool
	// Device is the UART the receiver is wired to (/dev/serial0 on a Pi).
	Device string
	Baud   int
}

// Snapshot is the receiver state decoded so far. Pointer fields are nil
// until a sentence carrying them has been parsed.
type Snapshot struct {
	Enabled bool `json:"enabled"`
	Valid   bool `json:"valid"`

	Device string `json:"device,omitempty"`
	Baud   int    `json:"baud,omitempty"`

	LatDeg     *float64 `json:"lat_deg,omitempty"`
	LonDeg     *float64 `json:"lon_deg,omitempty"`
	AltitudeM  *float64 `json:"altitude_m,omitempty"`
	SpeedKmh   *float64 `json:"speed_kmh,omitempty"`
	CourseDeg  *float64 `json:"course_deg,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
	FixQuality *int     `json:"fix_quality,omitempty"`

	LastFix   time.Time `json:"last_fix,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Location returns latitude and longitude when both are known.
func (s Snapshot) Location() (lat, lon float64, ok bool) {
	if s.LatDeg == nil || s.LonDeg == nil {
		return 0, 0, false
	}
	return *s.LatDeg, *s.LonDeg, true
}

// Service reads NMEA in a background goroutine. Snapshot never blocks.
type Service struct {
	cfg Config
	log *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	last atomic.Value // Snapshot

	mu     sync.Mutex
	closer io.Closer
}

func New(cfg Config, logger *slog.Logger) *Service {
	if strings.TrimSpace(cfg.Device) == "" {
		cfg.Device = defaultDevice
	}
	if cfg.Baud == 0 {
		cfg.Baud = defaultBaud
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Service{cfg: cfg, log: logger}
	s.last.Store(Snapshot{Enabled: cfg.Enable, Device: cfg.Device, Baud: cfg.Baud})
	return s
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps: service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	f, err := openSerialFn(s.cfg.Device, s.cfg.Baud)
	if err != nil {
		s.setErrorLocked(fmt.Sprintf("gps open failed device=%s baud=%d: %v", s.cfg.Device, s.cfg.Baud, err))
		return fmt.Errorf("gps: open %s: %w", s.cfg.Device, err)
	}
	s.closer = f

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = f.Close() }()
		s.log.Info("gps enabled", "device", s.cfg.Device, "baud", s.cfg.Baud)
		s.consume(childCtx, f)
	}()
	return nil
}

// consume decodes lines from r until ctx is done or r fails.
func (s *Service) consume(ctx context.Context, r io.Reader) {
	sc := bufio.NewScanner(r)
	// NMEA sentences are at most 82 chars; allow some headroom for noise.
	sc.Buffer(make([]byte, 0, 256), 4096)

	var st nmeaState
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !sc.Scan() {
			err := sc.Err()
			if err == nil {
				err = io.EOF
			}
			s.setError(fmt.Sprintf("gps read stopped: %v", err))
			s.log.Warn("gps read stopped", "err", err)
			return
		}

		line := strings.TrimSpace(sc.Text())
		// Receivers occasionally emit binary UBX chatter between sentences.
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sent, err := parseNMEASentence(line)
		if err != nil {
			s.setError(err.Error())
			continue
		}
		if st.apply(time.Now().UTC(), sent) {
			s.publish(st.snapshot())
		}
	}
}

func (s *Service) publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.Snapshot()
	snap.Enabled = cur.Enabled
	snap.Device = cur.Device
	snap.Baud = cur.Baud
	s.last.Store(snap)
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	v, _ := s.last.Load().(Snapshot)
	return v
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel, closer := s.cancel, s.closer
	s.cancel, s.closer = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Closing the port unblocks a pending read.
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrorLocked(msg)
}

func (s *Service) setErrorLocked(msg string) {
	cur := s.Snapshot()
	cur.LastError = msg
	// Parse noise does not change validity.
	s.last.Store(cur)
}
