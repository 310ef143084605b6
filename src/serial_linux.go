//go:build linux

package malamute

import (
	"fmt"
	"os"
	"time"

	serial "github.com/daedaluz/goserial"
)

// serialPort adapts a raw serial device to the Port interface: the
// engine's read deadline becomes a per-call poll timeout.
type serialPort struct {
	p        *serial.Port
	deadline time.Time
}

// NewSerialPort opens a serial KISS TNC: raw mode, 8N1, the given
// speed.
func NewSerialPort(device string, speed uint32) (Port, error) {
	var port, err = serial.Open(device, serial.NewOptions())
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", device, err)
	}
	var attrs, attrErr = port.GetAttr2()
	if attrErr != nil {
		port.Close()
		return nil, fmt.Errorf("reading terminal attributes: %w", attrErr)
	}
	attrs.MakeRaw()
	attrs.SetCustomSpeed(speed)
	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, fmt.Errorf("setting terminal attributes: %w", err)
	}
	return &serialPort{p: port}, nil
}

func (s *serialPort) Read(b []byte) (int, error) {
	if s.deadline.IsZero() {
		return s.p.Read(b)
	}
	var remain = time.Until(s.deadline)
	if remain <= 0 {
		return 0, os.ErrDeadlineExceeded
	}
	var n, err = s.p.ReadTimeout(b, remain)
	if n == 0 && !time.Now().Before(s.deadline) {
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

func (s *serialPort) Write(b []byte) (int, error) {
	return s.p.Write(b)
}

func (s *serialPort) Close() error {
	return s.p.Close()
}

func (s *serialPort) SetReadDeadline(t time.Time) error {
	s.deadline = t
	return nil
}
