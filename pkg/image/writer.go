package image

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

const checksumSize = blake2b.Size256

// Encode writes img as header, zstd-compressed body and checksum trailer.
func Encode(w io.Writer, img *Image) error {
	if img.PointerSize != 4 && img.PointerSize != 8 {
		return fmt.Errorf("encode image: unsupported pointer size %d", img.PointerSize)
	}
	payload, err := marshalPayload(img)
	if err != nil {
		return fmt.Errorf("encode image: %w", err)
	}
	body, err := compressBody(payload)
	if err != nil {
		return fmt.Errorf("encode image: compress: %w", err)
	}

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return fmt.Errorf("encode image: checksum: %w", err)
	}
	hashedW := io.MultiWriter(w, hasher)

	header := Header{
		Version:     supportedVersion,
		PointerSize: uint8(img.PointerSize),
		Flags:       flagZstd,
		BodyLen:     uint64(len(body)),
	}
	if _, err := hashedW.Write(header.Marshal()); err != nil {
		return fmt.Errorf("write image header: %w", err)
	}
	if _, err := hashedW.Write(body); err != nil {
		return fmt.Errorf("write image body: %w", err)
	}
	if _, err := w.Write(hasher.Sum(nil)); err != nil {
		return fmt.Errorf("write image checksum: %w", err)
	}
	return nil
}

// Marshal returns the encoded form of img.
func Marshal(img *Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal verifies and decodes an encoded image.
func Unmarshal(data []byte) (*Image, error) {
	h, err := UnmarshalHeader(data)
	if err != nil {
		return nil, err
	}
	if len(data) < headerSize+checksumSize || uint64(len(data)-headerSize-checksumSize) != h.BodyLen {
		return nil, fmt.Errorf("image size mismatch: body %d, file %d", h.BodyLen, len(data))
	}

	bodyEnd := headerSize + int(h.BodyLen)
	sum := blake2b.Sum256(data[:bodyEnd])
	if !bytes.Equal(sum[:], data[bodyEnd:]) {
		return nil, fmt.Errorf("image checksum mismatch")
	}

	body := data[headerSize:bodyEnd]
	if h.Flags&flagZstd != 0 {
		body, err = decompressBody(body)
		if err != nil {
			return nil, fmt.Errorf("decompress image body: %w", err)
		}
	}
	return unmarshalPayload(body, int(h.PointerSize))
}
