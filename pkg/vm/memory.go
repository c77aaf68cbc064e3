package vm

import (
	"fmt"

	"github.com/odvcencio/cocoons/pkg/image"
)

// maxSpan bounds the address range a process may map.
const maxSpan = 1 << 30

// Fault is an invalid memory access.
type Fault struct {
	Addr   uint64
	Size   int
	Write  bool
	Reason string
}

func (f *Fault) Error() string {
	kind := "read"
	if f.Write {
		kind = "write"
	}
	return fmt.Sprintf("memory fault: %s of %d bytes at %#x: %s", kind, f.Size, f.Addr, f.Reason)
}

type region struct {
	name     string
	start    uint64
	end      uint64
	writable bool
}

// Memory is the address space of a loaded image. Only bytes inside a
// section are addressable, and only writable sections accept stores.
type Memory struct {
	base    uint64
	buf     []byte
	regions []region
	release func() error
	closed  bool
}

// NewMemory maps every section of img at its linked address.
func NewMemory(img *image.Image) (*Memory, error) {
	m := &Memory{}
	if len(img.Sections) == 0 {
		m.release = func() error { return nil }
		return m, nil
	}

	lo, hi := img.Sections[0].Addr, img.Sections[0].End()
	for _, s := range img.Sections {
		if s.Addr < lo {
			lo = s.Addr
		}
		if s.End() > hi {
			hi = s.End()
		}
	}
	if hi-lo > maxSpan {
		return nil, fmt.Errorf("image spans %d bytes, limit %d", hi-lo, maxSpan)
	}

	buf, release, err := allocate(int(hi - lo))
	if err != nil {
		return nil, err
	}
	m.base, m.buf, m.release = lo, buf, release
	for _, s := range img.Sections {
		copy(m.buf[s.Addr-lo:], s.Data)
		m.regions = append(m.regions, region{name: s.Name, start: s.Addr, end: s.End(), writable: s.Writable})
	}
	return m, nil
}

// Close releases the backing memory.
func (m *Memory) Close() error {
	if m.release == nil {
		return nil
	}
	err := m.release()
	m.release, m.buf, m.closed = nil, nil, true
	return err
}

func (m *Memory) check(addr uint64, size int, write bool) ([]byte, error) {
	if m.closed {
		return nil, &Fault{Addr: addr, Size: size, Write: write, Reason: "memory released"}
	}
	end := addr + uint64(size)
	for _, r := range m.regions {
		if addr < r.start || end > r.end || end < addr {
			continue
		}
		if write && !r.writable {
			return nil, &Fault{Addr: addr, Size: size, Write: write, Reason: "section " + r.name + " is read-only"}
		}
		return m.buf[addr-m.base : end-m.base], nil
	}
	return nil, &Fault{Addr: addr, Size: size, Write: write, Reason: "unmapped"}
}

// Load reads a little-endian integer of size bytes.
func (m *Memory) Load(addr uint64, size int) (uint64, error) {
	b, err := m.check(addr, size, false)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// Store writes the low size bytes of v little-endian.
func (m *Memory) Store(addr uint64, size int, v uint64) error {
	b, err := m.check(addr, size, true)
	if err != nil {
		return err
	}
	for i := 0; i < size; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return nil
}

// Read returns a copy of n bytes at addr.
func (m *Memory) Read(addr uint64, n int) ([]byte, error) {
	b, err := m.check(addr, n, false)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// CString reads a NUL-terminated string at addr.
func (m *Memory) CString(addr uint64) (string, error) {
	var out []byte
	for a := addr; ; a++ {
		c, err := m.Load(a, 1)
		if err != nil {
			return "", fmt.Errorf("unterminated string at %#x: %w", addr, err)
		}
		if c == 0 {
			return string(out), nil
		}
		out = append(out, byte(c))
	}
}
