package image

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// maxPayload bounds the decompressed image body.
const maxPayload = 256 << 20

func compressBody(payload []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(payload, make([]byte, 0, len(payload)/2)), nil
}

func decompressBody(body []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxPayload))
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()
	return dec.DecodeAll(body, nil)
}
