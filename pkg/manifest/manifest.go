// Package manifest loads compilation units from YAML descriptions.
//
// A manifest lists a unit's record types, objects with their
// initializers, candidate annotations and keep-alive roots:
//
//	unit: main
//	pointer_size: 8
//	objects:
//	  - name: .str
//	    linkage: private
//	    constant: true
//	    init: {cstring: "HELLO"}
//	annotations:
//	  - {target: .str, tag: obfuscate}
package manifest

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/cocoons/pkg/ir"
	"gopkg.in/yaml.v3"
)

// Manifest is the YAML form of a unit.
type Manifest struct {
	Unit        string       `yaml:"unit"`
	PointerSize int          `yaml:"pointer_size,omitempty"`
	Types       []Type       `yaml:"types,omitempty"`
	Objects     []Object     `yaml:"objects"`
	Annotations []Annotation `yaml:"annotations,omitempty"`
	Used        []string     `yaml:"used,omitempty"`
}

type Type struct {
	Name   string   `yaml:"name"`
	Fields []string `yaml:"fields"`
}

type Object struct {
	Name       string `yaml:"name"`
	Constant   bool   `yaml:"constant,omitempty"`
	Section    string `yaml:"section,omitempty"`
	Align      int    `yaml:"align,omitempty"`
	Linkage    string `yaml:"linkage,omitempty"`
	Visibility string `yaml:"visibility,omitempty"`
	// Init is nil for declarations.
	Init *Value `yaml:"init,omitempty"`
}

type Annotation struct {
	Target string `yaml:"target"`
	Tag    string `yaml:"tag"`
}

// Value is an initializer. Exactly one field must be set.
type Value struct {
	CString *string   `yaml:"cstring,omitempty"`
	Bytes   *string   `yaml:"bytes,omitempty"`
	Array   *Array    `yaml:"array,omitempty"`
	Int     *IntValue `yaml:"int,omitempty"`
	Ref     string    `yaml:"ref,omitempty"`
	Cast    *Value    `yaml:"cast,omitempty"`
	Addr    *Addr     `yaml:"addr,omitempty"`
	Record  *Record   `yaml:"record,omitempty"`
	NullPtr bool      `yaml:"nullptr,omitempty"`
}

// Array is a data array of Bits-wide elements.
type Array struct {
	Bits   int      `yaml:"bits"`
	Values []uint64 `yaml:"values"`
}

type IntValue struct {
	Bits  int    `yaml:"bits"`
	Value uint64 `yaml:"value"`
}

type Addr struct {
	Base   *Value `yaml:"base"`
	Offset int64  `yaml:"offset,omitempty"`
}

type Record struct {
	Type   string  `yaml:"type,omitempty"`
	Fields []Value `yaml:"fields"`
}

// Load reads and builds the unit described by the manifest at path. The
// unit name defaults to the file name without its extension.
func Load(path string) (*ir.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	u, err := Parse(data, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return u, nil
}

// Parse builds a unit from manifest bytes. defaultName is used when the
// manifest does not name its unit.
func Parse(data []byte, defaultName string) (*ir.Unit, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if m.Unit == "" {
		m.Unit = defaultName
	}
	return m.Build()
}

// Build converts m into a unit. Objects are created first so references
// may point forward.
func (m *Manifest) Build() (*ir.Unit, error) {
	ptrSize := m.PointerSize
	if ptrSize == 0 {
		ptrSize = 8
	}
	if ptrSize != 4 && ptrSize != 8 {
		return nil, fmt.Errorf("unit %s: unsupported pointer size %d", m.Unit, ptrSize)
	}
	u := ir.NewUnit(m.Unit, ptrSize)

	for _, t := range m.Types {
		rt, err := buildType(t)
		if err != nil {
			return nil, err
		}
		u.AddType(rt)
	}

	objs := make(map[string]*ir.Object, len(m.Objects))
	for _, mo := range m.Objects {
		if mo.Name == "" {
			return nil, fmt.Errorf("object without name")
		}
		if _, dup := objs[mo.Name]; dup {
			return nil, fmt.Errorf("duplicate object %s", mo.Name)
		}
		linkage, err := ir.ParseLinkage(mo.Linkage)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", mo.Name, err)
		}
		vis, err := parseVisibility(mo.Visibility)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", mo.Name, err)
		}
		objs[mo.Name] = u.AddObject(&ir.Object{
			Name:       mo.Name,
			Constant:   mo.Constant,
			Section:    mo.Section,
			Align:      mo.Align,
			Linkage:    linkage,
			Visibility: vis,
		})
	}

	b := &builder{unit: u, objs: objs}
	for _, mo := range m.Objects {
		if mo.Init == nil {
			continue
		}
		v, err := b.value(mo.Init)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", mo.Name, err)
		}
		objs[mo.Name].Init = v
	}

	for _, a := range m.Annotations {
		target, ok := objs[a.Target]
		if !ok {
			return nil, fmt.Errorf("annotation %q: unknown target %s", a.Tag, a.Target)
		}
		u.Annotate(target, a.Tag)
	}
	for _, name := range m.Used {
		o, ok := objs[name]
		if !ok {
			return nil, fmt.Errorf("used: unknown object %s", name)
		}
		u.AppendUsed(o)
	}
	return u, nil
}

type builder struct {
	unit *ir.Unit
	objs map[string]*ir.Object
}

func (b *builder) value(v *Value) (ir.Value, error) {
	if v == nil {
		return nil, fmt.Errorf("missing value")
	}
	set := 0
	for _, ok := range []bool{v.CString != nil, v.Bytes != nil, v.Array != nil, v.Int != nil, v.Ref != "", v.Cast != nil, v.Addr != nil, v.Record != nil, v.NullPtr} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("value must set exactly one kind, got %d", set)
	}

	switch {
	case v.CString != nil:
		return ir.NewCString(*v.CString), nil
	case v.Bytes != nil:
		raw, err := hex.DecodeString(strings.ReplaceAll(*v.Bytes, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("bytes: %w", err)
		}
		return ir.NewBytes(raw), nil
	case v.Array != nil:
		return buildArray(v.Array)
	case v.Int != nil:
		if !validBits(v.Int.Bits) {
			return nil, fmt.Errorf("int: unsupported width %d", v.Int.Bits)
		}
		return &ir.Int{Bits: v.Int.Bits, V: v.Int.Value}, nil
	case v.Ref != "":
		target, ok := b.objs[v.Ref]
		if !ok {
			return nil, fmt.Errorf("unknown ref %s", v.Ref)
		}
		return &ir.Ref{Target: target}, nil
	case v.Cast != nil:
		x, err := b.value(v.Cast)
		if err != nil {
			return nil, fmt.Errorf("cast: %w", err)
		}
		return &ir.Cast{X: x}, nil
	case v.Addr != nil:
		base, err := b.value(v.Addr.Base)
		if err != nil {
			return nil, fmt.Errorf("addr: %w", err)
		}
		return &ir.AddrExpr{Base: base, Offset: v.Addr.Offset}, nil
	case v.Record != nil:
		return b.record(v.Record)
	default:
		return &ir.Null{}, nil
	}
}

func (b *builder) record(r *Record) (ir.Value, error) {
	rec := &ir.Record{}
	if r.Type != "" {
		rec.Type = b.unit.Type(r.Type)
		if rec.Type == nil {
			return nil, fmt.Errorf("record: unknown type %s", r.Type)
		}
		if len(rec.Type.Fields) != len(r.Fields) {
			return nil, fmt.Errorf("record %s: %d fields, type has %d", r.Type, len(r.Fields), len(rec.Type.Fields))
		}
	}
	for i := range r.Fields {
		f, err := b.value(&r.Fields[i])
		if err != nil {
			return nil, fmt.Errorf("record field %d: %w", i, err)
		}
		rec.Fields = append(rec.Fields, f)
	}
	return rec, nil
}

func buildArray(a *Array) (*ir.DataArray, error) {
	if !validBits(a.Bits) {
		return nil, fmt.Errorf("array: unsupported element width %d", a.Bits)
	}
	width := a.Bits / 8
	data := make([]byte, 0, len(a.Values)*width)
	for _, v := range a.Values {
		for i := 0; i < width; i++ {
			data = append(data, byte(v>>(8*i)))
		}
	}
	return &ir.DataArray{ElemBits: a.Bits, Data: data}, nil
}

func buildType(t Type) (*ir.RecordType, error) {
	rt := &ir.RecordType{Name: t.Name}
	for _, f := range t.Fields {
		ft, err := parseType(f)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", t.Name, err)
		}
		rt.Fields = append(rt.Fields, ft)
	}
	return rt, nil
}

func parseType(s string) (ir.Type, error) {
	switch s {
	case "ptr":
		return ir.TypePtr, nil
	case "i8":
		return ir.TypeI8, nil
	case "i16":
		return ir.TypeI16, nil
	case "i32":
		return ir.TypeI32, nil
	case "i64":
		return ir.TypeI64, nil
	default:
		return 0, fmt.Errorf("unknown field type %q", s)
	}
}

func parseVisibility(s string) (ir.Visibility, error) {
	switch s {
	case "", "default":
		return ir.VisibilityDefault, nil
	case "hidden":
		return ir.VisibilityHidden, nil
	default:
		return 0, fmt.Errorf("unknown visibility %q", s)
	}
}

func validBits(bits int) bool {
	return bits == 8 || bits == 16 || bits == 32 || bits == 64
}
