// Package obfuscate hides tagged string literals in a compilation unit.
//
// A run resolves every annotated object down to its byte buffer, XORs the
// buffer in place with a per-object key, records (address, length, key)
// in a dedicated metadata section and synthesizes a startup routine that
// walks that section once per process and restores the plaintext.
package obfuscate

import "github.com/odvcencio/cocoons/pkg/ir"

const (
	// DefaultTagPrefix selects annotations that request obfuscation.
	DefaultTagPrefix = "obfuscate"

	// StringsSection holds encrypted string bytes. It is writable.
	StringsSection = "__DATA,__obf_strings"

	// MetaSection holds one fixed-layout record per encrypted object.
	MetaSection = "__DATA,__cocoons_obs"

	// MetaTypeName is the record type shared by every unit in a link.
	MetaTypeName = "CocoonsMetaTy"

	// MetaAlign is the alignment of every metadata object and therefore
	// the granularity of the record stride.
	MetaAlign = 8

	MetaPrefix    = "_cocoons_meta_"
	GuardName     = "__cocoons_dec_guard"
	DecrypterName = "__cocoons_runtime_decrypter"

	// DecrypterPriority is the startup priority of the decrypter.
	DecrypterPriority = 0
)

// MetaType returns the metadata record layout { ptr, i32, i8 }.
func MetaType() *ir.RecordType {
	return &ir.RecordType{Name: MetaTypeName, Fields: []ir.Type{ir.TypePtr, ir.TypeI32, ir.TypeI8}}
}

// RecordStride is the distance between consecutive metadata records for
// the given pointer width.
func RecordStride(ptrSize int) int {
	return ir.AlignUp(MetaType().Layout(ptrSize).Size, MetaAlign)
}

