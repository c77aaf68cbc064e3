package obfuscate

import (
	"github.com/apex/log"
	"github.com/odvcencio/cocoons/pkg/ir"
)

// Emitter places one metadata record per encrypted object in MetaSection
// and roots it in the unit's keep-alive set.
type Emitter struct{}

// Emit records (address of target, length, key) and returns the new
// metadata object. length is the full buffer length including the
// untouched trailing byte.
func (Emitter) Emit(u *ir.Unit, target *ir.Object, length uint32, key byte) *ir.Object {
	metaTy := u.AddType(MetaType())
	rec := &ir.Record{
		Type: metaTy,
		Fields: []ir.Value{
			&ir.Cast{X: &ir.Ref{Target: target}},
			&ir.Int{Bits: 32, V: uint64(length)},
			&ir.Int{Bits: 8, V: uint64(key)},
		},
	}
	meta := u.AddObject(&ir.Object{
		Name:    MetaPrefix + target.Name,
		Section: MetaSection,
		Align:   MetaAlign,
		Linkage: ir.LinkageInternal,
		Init:    rec,
	})
	u.AppendUsed(meta)

	log.WithFields(log.Fields{
		"unit":   u.Name,
		"object": meta.Name,
		"len":    length,
		"key":    key,
	}).Debug("metadata: emitted")
	return meta
}

// Record is a decoded metadata entry.
type Record struct {
	Addr   uint64
	Length uint32
	Key    byte
}

// DecodeRecords reads consecutive records from a raw metadata section.
// The last record may omit its stride padding; shorter trailing bytes are
// ignored.
func DecodeRecords(section []byte, ptrSize int) []Record {
	layout := MetaType().Layout(ptrSize)
	stride := RecordStride(ptrSize)
	var out []Record
	for off := 0; off+layout.Size <= len(section); off += stride {
		rec := section[off : off+layout.Size]
		out = append(out, Record{
			Addr:   readUint(rec[layout.Offsets[0]:], ptrSize),
			Length: uint32(readUint(rec[layout.Offsets[1]:], 4)),
			Key:    rec[layout.Offsets[2]],
		})
	}
	return out
}

func readUint(b []byte, size int) uint64 {
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
