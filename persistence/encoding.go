package persistence

import (
	"encoding/binary"
	"errors"
)

// errShortBuffer is returned when a section payload ends mid-value.
var errShortBuffer = errors.New("persistence: truncated section")

// encoder accumulates little-endian section payloads.
type encoder struct {
	buf []byte
}

func newEncoder() *encoder {
	return &encoder{buf: make([]byte, 0, 4096)}
}

func (e *encoder) reset() { e.buf = e.buf[:0] }

func (e *encoder) bytes() []byte { return e.buf }

func (e *encoder) putUint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *encoder) putBytes(b []byte) {
	e.putUint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) putString(s string) {
	e.putUint32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

// decoder walks a section payload produced by encoder.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) uint32() (uint32, error) {
	if d.off+4 > len(d.buf) {
		return 0, errShortBuffer
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) byteSlice() ([]byte, error) {
	n, err := d.uint32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if d.off+int(n) > len(d.buf) {
		return nil, errShortBuffer
	}
	out := make([]byte, n)
	copy(out, d.buf[d.off:d.off+int(n)])
	d.off += int(n)
	return out, nil
}

func (d *decoder) string() (string, error) {
	b, err := d.byteSlice()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
