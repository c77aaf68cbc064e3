package obfuscate

import (
	"github.com/apex/log"
	"github.com/odvcencio/cocoons/pkg/ir"
)

// Engine XORs resolved byte buffers in place and moves them into the
// writable obfuscated-strings section.
type Engine struct{}

// Eligible reports whether target is a non-empty byte buffer that has
// not been moved to StringsSection yet.
func (Engine) Eligible(target *ir.Object) bool {
	if target == nil || target.IsDeclaration() {
		return false
	}
	data, ok := target.Init.(*ir.DataArray)
	if !ok || data.ElemBits != 8 || len(data.Data) == 0 {
		return false
	}
	if target.Section == StringsSection {
		log.WithField("object", target.Name).Debug("encrypt: already obfuscated")
		return false
	}
	return true
}

// Encrypt transforms every byte of target except the last with key. It
// returns false, leaving target untouched, when key is zero or target is
// not Eligible.
func (e Engine) Encrypt(target *ir.Object, key byte) bool {
	if key == 0 || !e.Eligible(target) {
		return false
	}
	data := target.Init.(*ir.DataArray)

	cipher := XOR(data.Data, key)
	target.Init = &ir.DataArray{ElemBits: 8, Data: cipher}
	target.Constant = false
	target.Section = StringsSection
	target.Align = 1

	log.WithFields(log.Fields{"object": target.Name, "len": len(cipher)}).Debug("encrypt: done")
	return true
}

// XOR returns a copy of b with every byte but the last XORed with key. The
// transform is its own inverse.
func XOR(b []byte, key byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	for i := 0; i < len(out)-1; i++ {
		out[i] ^= key
	}
	return out
}
