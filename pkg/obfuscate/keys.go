package obfuscate

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
)

// KeySource yields per-object XOR keys in [1,255].
type KeySource interface {
	Key() (byte, error)
}

// byteKeys draws keys from an entropy stream, rejecting zero so the
// result is uniform over [1,255].
type byteKeys struct {
	r   io.Reader
	buf [1]byte
}

func (k *byteKeys) Key() (byte, error) {
	for {
		if _, err := io.ReadFull(k.r, k.buf[:]); err != nil {
			return 0, fmt.Errorf("draw key: %w", err)
		}
		if k.buf[0] != 0 {
			return k.buf[0], nil
		}
	}
}

// NewRandomKeys returns a KeySource backed by crypto/rand.
func NewRandomKeys() KeySource {
	return &byteKeys{r: rand.Reader}
}

// NewSeededKeys returns a deterministic KeySource for reproducible builds
// and tests. Equal seeds produce equal key sequences.
func NewSeededKeys(seed uint64) KeySource {
	var key [chacha20.KeySize]byte
	binary.LittleEndian.PutUint64(key[:8], seed)
	nonce := make([]byte, chacha20.NonceSize)
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce)
	if err != nil {
		// Key and nonce sizes are fixed above.
		panic(fmt.Sprintf("obfuscate: chacha20 init: %v", err))
	}
	return &byteKeys{r: &keystream{c: c}}
}

type keystream struct {
	c *chacha20.Cipher
}

func (s *keystream) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	s.c.XORKeyStream(p, p)
	return len(p), nil
}

// FixedKeys replays a key list, cycling when exhausted. Zero entries are
// skipped. It is meant for golden tests.
type FixedKeys struct {
	Keys []byte
	next int
}

func (f *FixedKeys) Key() (byte, error) {
	for tries := 0; tries < len(f.Keys); tries++ {
		k := f.Keys[f.next%len(f.Keys)]
		f.next++
		if k != 0 {
			return k, nil
		}
	}
	return 0, fmt.Errorf("draw key: no non-zero fixed keys")
}
