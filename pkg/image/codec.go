package image

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errTruncated = errors.New("truncated image body")

type encoder struct {
	buf []byte
}

func (e *encoder) uvarint(v uint64) { e.buf = binary.AppendUvarint(e.buf, v) }
func (e *encoder) varint(v int64)   { e.buf = binary.AppendVarint(e.buf, v) }
func (e *encoder) u8(b byte)        { e.buf = append(e.buf, b) }

func (e *encoder) flag(b bool) {
	if b {
		e.u8(1)
		return
	}
	e.u8(0)
}

func (e *encoder) bytes(b []byte) {
	e.uvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) str(s string) {
	e.uvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// decoder reads the primitives written by encoder. The first failure is
// sticky; callers check err once after a group of reads.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf[d.off:])
	if n <= 0 {
		d.fail(errTruncated)
		return 0
	}
	d.off += n
	return v
}

func (d *decoder) varint() int64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.buf[d.off:])
	if n <= 0 {
		d.fail(errTruncated)
		return 0
	}
	d.off += n
	return v
}

func (d *decoder) u8() byte {
	if d.err != nil {
		return 0
	}
	if d.remaining() < 1 {
		d.fail(errTruncated)
		return 0
	}
	b := d.buf[d.off]
	d.off++
	return b
}

func (d *decoder) flag() bool {
	return d.u8() != 0
}

func (d *decoder) bytes() []byte {
	n := d.count()
	if d.err != nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, d.buf[d.off:d.off+n])
	d.off += n
	return out
}

func (d *decoder) str() string {
	n := d.count()
	if d.err != nil {
		return ""
	}
	s := string(d.buf[d.off : d.off+n])
	d.off += n
	return s
}

// count reads a length prefix and rejects values larger than the bytes
// left, since every counted element occupies at least one byte.
func (d *decoder) count() int {
	n := d.uvarint()
	if d.err != nil {
		return 0
	}
	if n > uint64(d.remaining()) {
		d.fail(fmt.Errorf("%w: count %d exceeds %d remaining bytes", errTruncated, n, d.remaining()))
		return 0
	}
	return int(n)
}

func marshalPayload(img *Image) ([]byte, error) {
	e := &encoder{}
	e.uvarint(uint64(len(img.Sections)))
	for _, s := range img.Sections {
		e.str(s.Name)
		e.uvarint(s.Addr)
		e.flag(s.Writable)
		e.bytes(s.Data)
	}
	e.uvarint(uint64(len(img.Symbols)))
	for _, s := range img.Symbols {
		e.str(s.Name)
		e.uvarint(s.Addr)
		e.uvarint(s.Size)
		e.str(s.Section)
	}
	e.uvarint(uint64(len(img.Ctors)))
	for _, c := range img.Ctors {
		e.varint(int64(c.Priority))
		e.str(c.Func)
	}
	e.uvarint(uint64(len(img.Funcs)))
	for _, f := range img.Funcs {
		if err := encodeFunc(e, f); err != nil {
			return nil, fmt.Errorf("encode func %s: %w", f.Name, err)
		}
	}
	return e.buf, nil
}

func unmarshalPayload(data []byte, ptrSize int) (*Image, error) {
	d := &decoder{buf: data}
	img := &Image{PointerSize: ptrSize}

	n := d.count()
	for i := 0; i < n && d.err == nil; i++ {
		s := &Section{}
		s.Name = d.str()
		s.Addr = d.uvarint()
		s.Writable = d.flag()
		s.Data = d.bytes()
		img.Sections = append(img.Sections, s)
	}
	if d.err != nil {
		return nil, fmt.Errorf("decode sections: %w", d.err)
	}

	n = d.count()
	for i := 0; i < n && d.err == nil; i++ {
		var s Symbol
		s.Name = d.str()
		s.Addr = d.uvarint()
		s.Size = d.uvarint()
		s.Section = d.str()
		img.Symbols = append(img.Symbols, s)
	}
	if d.err != nil {
		return nil, fmt.Errorf("decode symbols: %w", d.err)
	}

	n = d.count()
	for i := 0; i < n && d.err == nil; i++ {
		var c Ctor
		c.Priority = int(d.varint())
		c.Func = d.str()
		img.Ctors = append(img.Ctors, c)
	}
	if d.err != nil {
		return nil, fmt.Errorf("decode ctors: %w", d.err)
	}

	n = d.count()
	for i := 0; i < n && d.err == nil; i++ {
		f, err := decodeFunc(d)
		if err != nil {
			return nil, fmt.Errorf("decode func %d: %w", i, err)
		}
		img.Funcs = append(img.Funcs, f)
	}
	if d.err != nil {
		return nil, fmt.Errorf("decode funcs: %w", d.err)
	}
	if d.remaining() != 0 {
		return nil, fmt.Errorf("decode image: %d trailing bytes", d.remaining())
	}
	return img, nil
}
