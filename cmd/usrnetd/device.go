package main

import (
	"github.com/cbxgyh/usrnet"
	"github.com/cbxgyh/usrnet/internal"
)

// tapDevice adapts internal.Tap's blocking Read/Write/MTU to the
// iface.Device contract, translating a zero-byte read (no frame ready) to
// usrnet.ErrExhausted.
type tapDevice struct {
	tap *internal.Tap
	mtu int
}

func (d *tapDevice) Recv(buf []byte) (int, error) {
	n, err := d.tap.Read(buf)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, usrnet.ErrExhausted
	}
	return n, nil
}

func (d *tapDevice) Send(buf []byte) error {
	_, err := d.tap.Write(buf)
	return err
}

func (d *tapDevice) MaxTransmissionUnit() int {
	if d.mtu != 0 {
		return d.mtu
	}
	mtu, err := d.tap.MTU()
	if err != nil || mtu <= 0 {
		return 1500
	}
	d.mtu = mtu
	return mtu
}
