//go:build linux

// Package radio switches the Bluetooth radio through the kernel rfkill
// device.
package radio

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	DefaultDevice = "/dev/rfkill"

	typeBluetooth = 2
	opChangeAll   = 3
	eventSize     = 8
)

// RFKill soft-blocks or unblocks every Bluetooth radio at once.
type RFKill struct {
	device string
	log    *logrus.Entry
}

func New(device string, log *logrus.Entry) *RFKill {
	if device == "" {
		device = DefaultDevice
	}
	return &RFKill{device: device, log: log}
}

func (r *RFKill) Unblock() error { return r.change(false) }

// event encodes struct rfkill_event: idx u32, type, op, soft, hard.
func event(soft bool) []byte {
	b := make([]byte, eventSize)
	binary.LittleEndian.PutUint32(b, 0)
	b[4] = typeBluetooth
	b[5] = opChangeAll
	if soft {
		b[6] = 1
	}
	return b
}

func (r *RFKill) change(block bool) error {
	fd, err := unix.Open(r.device, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return errors.Wrapf(err, "radio: open %s", r.device)
	}
	defer unix.Close(fd)

	n, err := unix.Write(fd, event(block))
	if err != nil {
		return errors.Wrap(err, "radio: rfkill write")
	}
	if n != eventSize {
		return errors.Errorf("radio: short rfkill write (%d bytes)", n)
	}
	r.log.WithField("blocked", block).Info("bluetooth radio switched")
	return nil
}
