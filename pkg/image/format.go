package image

import (
	"encoding/binary"
	"fmt"
)

const (
	headerSize       = 16
	supportedVersion = 1

	flagZstd = 1 << 0
)

var magic = [4]byte{'C', 'I', 'M', 'G'}

// Header is the fixed-size image header.
//
// Bytes:
//   - 0..3:   "CIMG"
//   - 4..5:   version (big-endian)
//   - 6:      pointer size in bytes
//   - 7:      flags (bit 0: body is zstd-compressed)
//   - 8..15:  stored body length (big-endian)
//
// The body follows the header and a 32-byte BLAKE2b-256 checksum over
// header and stored body follows the body.
type Header struct {
	Version     uint16
	PointerSize uint8
	Flags       uint8
	BodyLen     uint64
}

// Marshal serializes the header to its canonical 16 bytes.
func (h Header) Marshal() []byte {
	buf := make([]byte, headerSize)
	copy(buf[:4], magic[:])
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	buf[6] = h.PointerSize
	buf[7] = h.Flags
	binary.BigEndian.PutUint64(buf[8:16], h.BodyLen)
	return buf
}

// UnmarshalHeader parses and validates an image header.
func UnmarshalHeader(data []byte) (*Header, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("image header too short: got %d bytes", len(data))
	}
	if string(data[:4]) != string(magic[:]) {
		return nil, fmt.Errorf("invalid image magic %q", data[:4])
	}
	h := &Header{
		Version:     binary.BigEndian.Uint16(data[4:6]),
		PointerSize: data[6],
		Flags:       data[7],
		BodyLen:     binary.BigEndian.Uint64(data[8:16]),
	}
	if h.Version != supportedVersion {
		return nil, fmt.Errorf("unsupported image version %d", h.Version)
	}
	if h.PointerSize != 4 && h.PointerSize != 8 {
		return nil, fmt.Errorf("unsupported pointer size %d", h.PointerSize)
	}
	return h, nil
}
