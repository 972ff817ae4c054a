// Package udp sends flight telemetry datagrams to a ground station.
package udp

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)

type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Message is one telemetry datagram, encoded as JSON.
type Message struct {
	Tick      uint64     `json:"tick"`
	Time      time.Time  `json:"time"`
	RollDeg   float64    `json:"roll_deg"`
	PitchDeg  float64    `json:"pitch_deg"`
	Command   float64    `json:"command_deg"`
	LeftDuty  uint16     `json:"left_duty"`
	RightDuty uint16     `json:"right_duty"`
	Overruns  uint64     `json:"overruns"`
	GPS       *GPSReport `json:"gps,omitempty"`
}

type GPSReport struct {
	Valid      bool     `json:"valid"`
	LatDeg     *float64 `json:"lat_deg,omitempty"`
	LonDeg     *float64 `json:"lon_deg,omitempty"`
	AltitudeM  *float64 `json:"alt_m,omitempty"`
	SpeedKmh   *float64 `json:"speed_kmh,omitempty"`
	CourseDeg  *float64 `json:"course_deg,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
}

type Sender struct {
	dest string
	conn udpConn
}

// NewSender resolves dest ("host:port") and connects a UDP socket to it.
func NewSender(dest string) (*Sender, error) {
	return newSender(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newSender(dest string, resolve resolveFunc, dial dialFunc) (*Sender, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %s: %w", dest, err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp: dial %s: %w", dest, err)
	}
	return &Sender{dest: dest, conn: conn}, nil
}

func (s *Sender) Dest() string { return s.dest }

// Send writes payload as a single datagram. Empty payloads are skipped.
func (s *Sender) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := s.conn.Write(payload)
	return err
}

func (s *Sender) SendMessage(m Message) error {
	p, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("udp: encode telemetry: %w", err)
	}
	return s.Send(p)
}

func (s *Sender) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
