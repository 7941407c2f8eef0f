package ringer

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// Relay channels on the USB relay board.
const (
	chanEnable  byte = 1
	chanRinger1 byte = 2
	chanRinger2 byte = 3
)

// SerialRelay drives the H-bridge through a USB serial relay board that
// takes 4-byte frames: 0xA0, channel, state, checksum.
type SerialRelay struct {
	mu   sync.Mutex
	port io.WriteCloser
	log  *logrus.Entry
}

var _ Outputs = (*SerialRelay)(nil)

func OpenSerialRelay(name string, baud int, log *logrus.Entry) (*SerialRelay, error) {
	port, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "ringer: open %s", name)
	}
	log.WithFields(logrus.Fields{"port": name, "baud": baud}).Info("relay board opened")
	return NewSerialRelay(port, log), nil
}

// NewSerialRelay wraps an already open port.
func NewSerialRelay(port io.WriteCloser, log *logrus.Entry) *SerialRelay {
	return &SerialRelay{port: port, log: log}
}

func (s *SerialRelay) RingerEnable(on bool) error { return s.write(chanEnable, on) }
func (s *SerialRelay) Ringer1(on bool) error { return s.write(chanRinger1, on) }
func (s *SerialRelay) Ringer2(on bool) error { return s.write(chanRinger2, on) }

func (s *SerialRelay) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}

func frame(ch byte, on bool) []byte {
	var state byte
	if on {
		state = 1
	}
	return []byte{0xA0, ch, state, 0xA0 + ch + state}
}

func (s *SerialRelay) write(ch byte, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.port.Write(frame(ch, on)); err != nil {
		return errors.Wrapf(err, "ringer: relay %d", ch)
	}
	return nil
}

// LoggedOutputs stands in for the relay board when none is configured.
type LoggedOutputs struct {
	Log *logrus.Entry
}

func (l LoggedOutputs) RingerEnable(on bool) error { return l.line("enable", on) }
func (l LoggedOutputs) Ringer1(on bool) error { return l.line("ringer1", on) }
func (l LoggedOutputs) Ringer2(on bool) error { return l.line("ringer2", on) }

func (l LoggedOutputs) line(name string, on bool) error {
	l.Log.WithFields(logrus.Fields{"line": name, "on": on}).Trace("ringer output")
	return nil
}
