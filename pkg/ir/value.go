package ir

import "fmt"

// ValueKind is the closed set of initializer shapes an Object can carry.
type ValueKind uint8

const (
	KindDataArray ValueKind = iota + 1
	KindRecord
	KindRef
	KindCast
	KindAddrExpr
	KindInt
	KindNull
)

func (k ValueKind) String() string {
	switch k {
	case KindDataArray:
		return "data-array"
	case KindRecord:
		return "record"
	case KindRef:
		return "ref"
	case KindCast:
		return "cast"
	case KindAddrExpr:
		return "addr-expr"
	case KindInt:
		return "int"
	case KindNull:
		return "null"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a constant initializer. The set of implementations is closed:
// *DataArray, *Record, *Ref, *Cast, *AddrExpr, *Int and *Null.
type Value interface {
	Kind() ValueKind
	isValue()
}

// DataArray is a flat sequence of fixed-width integer elements stored
// little-endian in Data. ElemBits is 8 for byte strings.
type DataArray struct {
	ElemBits int
	Data     []byte
}

// NewBytes returns an 8-bit data array holding a copy of b.
func NewBytes(b []byte) *DataArray {
	out := make([]byte, len(b))
	copy(out, b)
	return &DataArray{ElemBits: 8, Data: out}
}

// NewCString returns an 8-bit data array holding s followed by a NUL.
func NewCString(s string) *DataArray {
	out := make([]byte, len(s)+1)
	copy(out, s)
	return &DataArray{ElemBits: 8, Data: out}
}

// ElemBytes is the byte width of one element.
func (a *DataArray) ElemBytes() int {
	if a.ElemBits <= 0 {
		return 1
	}
	return (a.ElemBits + 7) / 8
}

// Len is the element count.
func (a *DataArray) Len() int {
	return len(a.Data) / a.ElemBytes()
}

// Record is an aggregate whose fields are laid out with natural alignment.
// Type is optional; when set it names the layout shared across units.
type Record struct {
	Type   *RecordType
	Fields []Value
}

// Ref denotes the address of another object.
type Ref struct {
	Target *Object
}

// Cast is a pointer reinterpretation of X. It does not change the address.
type Cast struct {
	X Value
}

// AddrExpr is an address computation: Base plus a byte Offset.
type AddrExpr struct {
	Base   Value
	Offset int64
}

// Int is an integer constant of the given bit width.
type Int struct {
	Bits int
	V    uint64
}

// Null is a pointer-sized zero.
type Null struct{}

func (*DataArray) Kind() ValueKind { return KindDataArray }
func (*Record) Kind() ValueKind    { return KindRecord }
func (*Ref) Kind() ValueKind       { return KindRef }
func (*Cast) Kind() ValueKind      { return KindCast }
func (*AddrExpr) Kind() ValueKind  { return KindAddrExpr }
func (*Int) Kind() ValueKind       { return KindInt }
func (*Null) Kind() ValueKind      { return KindNull }

func (*DataArray) isValue() {}
func (*Record) isValue()    {}
func (*Ref) isValue()       {}
func (*Cast) isValue()      {}
func (*AddrExpr) isValue()  {}
func (*Int) isValue()       {}
func (*Null) isValue()      {}

// StripCasts removes any number of leading Cast wrappers.
func StripCasts(v Value) Value {
	for {
		c, ok := v.(*Cast)
		if !ok || c.X == nil {
			return v
		}
		v = c.X
	}
}

// Refs appends every object directly referenced by v to dst.
func Refs(dst []*Object, v Value) []*Object {
	switch v := v.(type) {
	case *Ref:
		if v.Target != nil {
			dst = append(dst, v.Target)
		}
	case *Cast:
		dst = Refs(dst, v.X)
	case *AddrExpr:
		dst = Refs(dst, v.Base)
	case *Record:
		for _, f := range v.Fields {
			dst = Refs(dst, f)
		}
	}
	return dst
}
