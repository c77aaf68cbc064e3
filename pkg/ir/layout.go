package ir

import (
	"fmt"
	"strings"
)

// Type is a scalar field type used by named record layouts.
type Type uint8

const (
	TypePtr Type = iota + 1
	TypeI8
	TypeI16
	TypeI32
	TypeI64
)

func (t Type) String() string {
	switch t {
	case TypePtr:
		return "ptr"
	case TypeI8:
		return "i8"
	case TypeI16:
		return "i16"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Size returns the store size of t for the given pointer width.
func (t Type) Size(ptrSize int) int {
	switch t {
	case TypePtr:
		return ptrSize
	case TypeI8:
		return 1
	case TypeI16:
		return 2
	case TypeI32:
		return 4
	case TypeI64:
		return 8
	default:
		return 0
	}
}

// RecordType is a named aggregate layout. Two units that use the same name
// must agree on Fields.
type RecordType struct {
	Name   string
	Fields []Type
}

// Equal reports whether two record types have the same name and fields.
func (rt *RecordType) Equal(other *RecordType) bool {
	if rt == nil || other == nil {
		return rt == other
	}
	if rt.Name != other.Name || len(rt.Fields) != len(other.Fields) {
		return false
	}
	for i := range rt.Fields {
		if rt.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}

// Layout is the natural-alignment placement of a record.
type Layout struct {
	Size    int
	Align   int
	Offsets []int
}

// Layout computes field offsets, total size (padded to alignment) and
// alignment of rt.
func (rt *RecordType) Layout(ptrSize int) Layout {
	sizes := make([]int, len(rt.Fields))
	for i, f := range rt.Fields {
		sizes[i] = f.Size(ptrSize)
	}
	return layoutFields(sizes, sizes)
}

func layoutFields(sizes, aligns []int) Layout {
	l := Layout{Align: 1, Offsets: make([]int, len(sizes))}
	off := 0
	for i := range sizes {
		a := aligns[i]
		if a < 1 {
			a = 1
		}
		off = AlignUp(off, a)
		l.Offsets[i] = off
		off += sizes[i]
		if a > l.Align {
			l.Align = a
		}
	}
	l.Size = AlignUp(off, l.Align)
	return l
}

// AlignUp rounds n up to a multiple of a. a <= 1 returns n.
func AlignUp(n, a int) int {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}

// SizeOf returns the byte size of v when stored.
func SizeOf(v Value, ptrSize int) int {
	switch v := v.(type) {
	case *DataArray:
		return len(v.Data)
	case *Int:
		return (v.Bits + 7) / 8
	case *Ref, *Cast, *AddrExpr, *Null:
		return ptrSize
	case *Record:
		return RecordLayout(v, ptrSize).Size
	default:
		return 0
	}
}

// AlignOf returns the natural alignment of v.
func AlignOf(v Value, ptrSize int) int {
	switch v := v.(type) {
	case *DataArray:
		return v.ElemBytes()
	case *Int:
		return (v.Bits + 7) / 8
	case *Ref, *Cast, *AddrExpr, *Null:
		return ptrSize
	case *Record:
		return RecordLayout(v, ptrSize).Align
	default:
		return 1
	}
}

// RecordLayout computes the layout of a record value from its fields.
func RecordLayout(r *Record, ptrSize int) Layout {
	sizes := make([]int, len(r.Fields))
	aligns := make([]int, len(r.Fields))
	for i, f := range r.Fields {
		sizes[i] = SizeOf(f, ptrSize)
		aligns[i] = AlignOf(f, ptrSize)
	}
	return layoutFields(sizes, aligns)
}

// SectionStartSymbol and SectionEndSymbol name the linker boundary markers
// of a "SEG,SECT" section: section$start$SEG$SECT and section$end$SEG$SECT.
func SectionStartSymbol(section string) string { return boundarySymbol("start", section) }
func SectionEndSymbol(section string) string   { return boundarySymbol("end", section) }

func boundarySymbol(which, section string) string {
	seg, sect, _ := strings.Cut(section, ",")
	return "section$" + which + "$" + seg + "$" + sect
}

// ParseBoundarySymbol is the inverse of SectionStartSymbol/SectionEndSymbol.
// start is true for a start marker.
func ParseBoundarySymbol(name string) (section string, start bool, ok bool) {
	rest, found := strings.CutPrefix(name, "section$")
	if !found {
		return "", false, false
	}
	which, rest, found := strings.Cut(rest, "$")
	if !found || (which != "start" && which != "end") {
		return "", false, false
	}
	seg, sect, found := strings.Cut(rest, "$")
	if !found || seg == "" {
		return "", false, false
	}
	return seg + "," + sect, which == "start", true
}
