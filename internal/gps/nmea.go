// Package gps reads a u-blox NEO-7M (or any NMEA 0183 receiver) over a
// serial port and keeps the latest decoded fix for telemetry.
//
// Only GGA and RMC are decoded:
//   - GGA: latitude, longitude, altitude, satellites, fix quality and validity
//   - RMC: ground speed (km/h) and course
package gps

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const knotsToKmh = 1.852

type nmeaSentence struct {
	Type string
	// Fields is the comma-split payload (without '$' and checksum).
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil || len(want) != 1 {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum %q", ck[:2])
	}
	var got byte
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch got=%02X want=%02X", got, want[0])
	}

	parts := strings.Split(payload, ",")
	if len(parts[0]) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type %q", parts[0])
	}
	// GPGGA, GNGGA, ... all normalize to GGA.
	t := parts[0][len(parts[0])-3:]
	return nmeaSentence{Type: strings.ToUpper(t), Fields: parts}, nil
}

// nmeaState accumulates what has been parsed so far. Each field stays unset
// until a sentence carrying it has been seen.
type nmeaState struct {
	latDeg, lonDeg float64
	latOK, lonOK   bool

	altM  float64
	altOK bool

	speedKmh float64
	speedOK  bool

	courseDeg float64
	courseOK  bool

	satellites int
	satsOK     bool

	fixQuality   int
	fixQualityOK bool

	valid   bool
	lastFix time.Time
}

func (s *nmeaState) apply(now time.Time, sent nmeaSentence) bool {
	switch sent.Type {
	case "GGA":
		return s.applyGGA(now, sent.Fields)
	case "RMC":
		return s.applyRMC(sent.Fields)
	default:
		return false
	}
}

func (s *nmeaState) snapshot() Snapshot {
	out := Snapshot{Valid: s.valid, LastFix: s.lastFix}
	if s.latOK {
		v := s.latDeg
		out.LatDeg = &v
	}
	if s.lonOK {
		v := s.lonDeg
		out.LonDeg = &v
	}
	if s.altOK {
		v := s.altM
		out.AltitudeM = &v
	}
	if s.speedOK {
		v := s.speedKmh
		out.SpeedKmh = &v
	}
	if s.courseOK {
		v := s.courseDeg
		out.CourseDeg = &v
	}
	if s.satsOK {
		v := s.satellites
		out.Satellites = &v
	}
	if s.fixQualityOK {
		v := s.fixQuality
		out.FixQuality = &v
	}
	return out
}

// GGA: Global Positioning System Fix Data
//
//	0: talker+type
//	1: time
//	2: latitude, 3: N/S
//	4: longitude, 5: E/W
//	6: fix quality (0=invalid)
//	7: number of satellites
//	8: HDOP
//	9: altitude (meters)
//
// Validity follows the fix quality of the most recent GGA.
func (s *nmeaState) applyGGA(now time.Time, f []string) bool {
	if len(f) < 10 {
		return false
	}
	q, err := strconv.Atoi(strings.TrimSpace(f[6]))
	if err != nil {
		return false
	}
	s.fixQuality = q
	s.fixQualityOK = true
	s.valid = q != 0

	if lat, ok := parseNMEALatLon(f[2], f[3]); ok {
		s.latDeg, s.latOK = lat, true
	}
	if lon, ok := parseNMEALatLon(f[4], f[5]); ok {
		s.lonDeg, s.lonOK = lon, true
	}
	if sats, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil {
		s.satellites, s.satsOK = sats, true
	}
	if alt, ok := parseFloat(f[9]); ok {
		s.altM, s.altOK = alt, true
	}
	if s.valid {
		s.lastFix = now
	}
	return true
}

// RMC: Recommended Minimum Specific GNSS Data
//
//	2: status (A=active, V=void)
//	7: speed over ground (knots)
//	8: course over ground (deg)
//
// Position comes from GGA; RMC contributes speed and course only.
func (s *nmeaState) applyRMC(f []string) bool {
	if len(f) < 9 {
		return false
	}
	if strings.TrimSpace(f[2]) != "A" {
		return false
	}
	updated := false
	if kt, ok := parseFloat(f[7]); ok {
		s.speedKmh, s.speedOK = kt*knotsToKmh, true
		updated = true
	}
	if trk, ok := parseFloat(f[8]); ok {
		s.courseDeg, s.courseOK = math.Mod(trk+360.0, 360.0), true
		updated = true
	}
	return updated
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseNMEALatLon parses ddmm.mmmm (latitude) or dddmm.mmmm (longitude)
// plus hemisphere into signed decimal degrees.
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	// The last two integer digits are whole minutes.
	intPart := v
	if dot := strings.IndexByte(v, '.'); dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}
	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + mins/60.0
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
