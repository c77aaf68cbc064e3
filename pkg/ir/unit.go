package ir

import (
	"fmt"
	"strings"
)

// Linkage controls how a symbol participates in linking.
type Linkage uint8

const (
	LinkageExternal Linkage = iota
	LinkageInternal
	LinkagePrivate
	LinkageLinkOnceODR
)

func (l Linkage) String() string {
	switch l {
	case LinkageExternal:
		return "external"
	case LinkageInternal:
		return "internal"
	case LinkagePrivate:
		return "private"
	case LinkageLinkOnceODR:
		return "linkonce_odr"
	default:
		return fmt.Sprintf("linkage(%d)", uint8(l))
	}
}

// Local reports whether the symbol is only visible inside its unit.
func (l Linkage) Local() bool {
	return l == LinkageInternal || l == LinkagePrivate
}

// ParseLinkage maps the textual linkage names used in manifests.
func ParseLinkage(s string) (Linkage, error) {
	switch strings.TrimSpace(s) {
	case "", "external":
		return LinkageExternal, nil
	case "internal":
		return LinkageInternal, nil
	case "private":
		return LinkagePrivate, nil
	case "linkonce_odr":
		return LinkageLinkOnceODR, nil
	default:
		return 0, fmt.Errorf("unknown linkage %q", s)
	}
}

// Visibility is the symbol visibility outside the linked image.
type Visibility uint8

const (
	VisibilityDefault Visibility = iota
	VisibilityHidden
)

func (v Visibility) String() string {
	if v == VisibilityHidden {
		return "hidden"
	}
	return "default"
}

// Object is a named, typed, optionally initialized storage unit. An Object
// with a nil Init is a declaration resolved at link time.
type Object struct {
	Name       string
	Constant   bool
	Section    string
	Align      int
	Linkage    Linkage
	Visibility Visibility
	Init       Value
}

// IsDeclaration reports whether o has no initializer.
func (o *Object) IsDeclaration() bool {
	return o.Init == nil
}

// Annotation pairs a target object with a free-form tag string.
type Annotation struct {
	Target *Object
	Tag    string
}

// Ctor is one entry of the unit's startup list.
type Ctor struct {
	Priority int
	Func     *Func
}

// Unit is one compilation unit: its objects, functions, named types,
// annotations, keep-alive roots and startup list.
type Unit struct {
	Name        string
	PointerSize int

	Objects     []*Object
	Funcs       []*Func
	Annotations []Annotation
	Used        []*Object
	Ctors       []Ctor

	types   map[string]*RecordType
	byName  map[string]*Object
	funcsBy map[string]*Func
}

// NewUnit creates an empty unit. ptrSize defaults to 8.
func NewUnit(name string, ptrSize int) *Unit {
	if ptrSize <= 0 {
		ptrSize = 8
	}
	return &Unit{
		Name:        name,
		PointerSize: ptrSize,
		types:       make(map[string]*RecordType),
		byName:      make(map[string]*Object),
		funcsBy:     make(map[string]*Func),
	}
}

// uniqueName returns name, or name with a numeric suffix when the name is
// already taken by an object or function.
func (u *Unit) uniqueName(name string) string {
	if !u.nameTaken(name) {
		return name
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s.%d", name, i)
		if !u.nameTaken(candidate) {
			return candidate
		}
	}
}

func (u *Unit) nameTaken(name string) bool {
	_, obj := u.byName[name]
	_, fn := u.funcsBy[name]
	return obj || fn
}

// AddObject appends o, renaming it if its name clashes. It returns o.
func (u *Unit) AddObject(o *Object) *Object {
	o.Name = u.uniqueName(o.Name)
	u.Objects = append(u.Objects, o)
	u.byName[o.Name] = o
	return o
}

// Object returns the object with the given name, or nil.
func (u *Unit) Object(name string) *Object {
	return u.byName[name]
}

// AddFunc appends f, renaming it if its name clashes. It returns f.
func (u *Unit) AddFunc(f *Func) *Func {
	f.Name = u.uniqueName(f.Name)
	u.Funcs = append(u.Funcs, f)
	u.funcsBy[f.Name] = f
	return f
}

// Func returns the function with the given name, or nil.
func (u *Unit) Func(name string) *Func {
	return u.funcsBy[name]
}

// AddType registers rt under its name, replacing nothing: the first
// registration wins and is returned.
func (u *Unit) AddType(rt *RecordType) *RecordType {
	if existing, ok := u.types[rt.Name]; ok {
		return existing
	}
	u.types[rt.Name] = rt
	return rt
}

// Type returns the named record type, or nil.
func (u *Unit) Type(name string) *RecordType {
	return u.types[name]
}

// Types returns every registered record type.
func (u *Unit) Types() []*RecordType {
	out := make([]*RecordType, 0, len(u.types))
	for _, rt := range u.types {
		out = append(out, rt)
	}
	return out
}

// Annotate adds a candidate tag for target.
func (u *Unit) Annotate(target *Object, tag string) {
	u.Annotations = append(u.Annotations, Annotation{Target: target, Tag: tag})
}

// AppendUsed adds objects to the keep-alive root set, skipping duplicates.
func (u *Unit) AppendUsed(objs ...*Object) {
	for _, o := range objs {
		if o == nil || u.IsUsed(o) {
			continue
		}
		u.Used = append(u.Used, o)
	}
}

// IsUsed reports whether o is in the keep-alive root set.
func (u *Unit) IsUsed(o *Object) bool {
	for _, used := range u.Used {
		if used == o {
			return true
		}
	}
	return false
}

// AppendCtor registers f in the startup list with the given priority.
func (u *Unit) AppendCtor(f *Func, priority int) {
	u.Ctors = append(u.Ctors, Ctor{Priority: priority, Func: f})
}

// ObjectsInSection returns the defined objects placed in section.
func (u *Unit) ObjectsInSection(section string) []*Object {
	var out []*Object
	for _, o := range u.Objects {
		if !o.IsDeclaration() && o.Section == section {
			out = append(out, o)
		}
	}
	return out
}
