// Package link combines compilation units into a single image: it merges
// symbols across units, strips unreachable internal objects, lays out
// sections and resolves every address.
package link

import (
	"fmt"
	"sort"

	"github.com/apex/log"
	"github.com/odvcencio/cocoons/pkg/image"
	"github.com/odvcencio/cocoons/pkg/ir"
)

const (
	// ConstSection and DataSection receive objects without an explicit
	// section, split by whether they are constant.
	ConstSection = "__TEXT,__const"
	DataSection  = "__DATA,__data"

	DefaultBase64 uint64 = 0x100000000
	DefaultBase32 uint64 = 0x10000

	sectionAlign = 16
)

// Options controls a link.
type Options struct {
	// PointerSize must match every unit. Zero takes it from the first unit.
	PointerSize int
	// BaseAddress is where the first section starts. Zero picks a default
	// for the pointer size.
	BaseAddress uint64
	// DeadStrip removes local objects and functions that no root reaches.
	DeadStrip bool
}

// DefaultOptions enables dead stripping with default placement.
func DefaultOptions() Options {
	return Options{DeadStrip: true}
}

// symbol is one linked entity: a defined object, a defined function or a
// section boundary marker.
type symbol struct {
	name string
	unit *ir.Unit
	obj  *ir.Object
	fn   *ir.Func

	boundary bool
	start    bool

	// section is the placement section for objects and the bounded
	// section for boundary markers.
	section string
	addr    uint64
	size    uint64
}

func (s *symbol) linkage() ir.Linkage {
	if s.obj != nil {
		return s.obj.Linkage
	}
	if s.fn != nil {
		return s.fn.Linkage
	}
	return ir.LinkageExternal
}

type linker struct {
	opts    Options
	ptrSize int
	units   []*ir.Unit

	globals    map[string]*symbol
	boundaries map[string]*symbol
	boundOrder []*symbol
	taken      map[string]bool
	scopes     map[*ir.Unit]map[string]*symbol
	objSyms    map[*ir.Object]*symbol
	funcSyms   map[*ir.Func]*symbol

	// placed lists kept object symbols in layout order.
	placed []*symbol
}

// Link merges units into an image.
func Link(units []*ir.Unit, opts Options) (*image.Image, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("link: no units")
	}
	l := &linker{
		opts:       opts,
		units:      units,
		globals:    make(map[string]*symbol),
		boundaries: make(map[string]*symbol),
		taken:      make(map[string]bool),
		scopes:     make(map[*ir.Unit]map[string]*symbol),
		objSyms:    make(map[*ir.Object]*symbol),
		funcSyms:   make(map[*ir.Func]*symbol),
	}
	if err := l.checkUnits(); err != nil {
		return nil, fmt.Errorf("link: %w", err)
	}
	if err := l.defineGlobals(); err != nil {
		return nil, fmt.Errorf("link: %w", err)
	}
	l.defineLocals()
	if err := l.resolveDeclarations(); err != nil {
		return nil, fmt.Errorf("link: %w", err)
	}

	keep, err := l.live()
	if err != nil {
		return nil, fmt.Errorf("link: %w", err)
	}

	img := &image.Image{PointerSize: l.ptrSize}
	l.layout(img, keep)
	if err := l.writeData(img); err != nil {
		return nil, fmt.Errorf("link: %w", err)
	}
	l.writeSymbols(img, keep)
	if err := l.writeFuncs(img, keep); err != nil {
		return nil, fmt.Errorf("link: %w", err)
	}
	if err := l.writeCtors(img); err != nil {
		return nil, fmt.Errorf("link: %w", err)
	}

	log.WithFields(log.Fields{
		"units":    len(units),
		"sections": len(img.Sections),
		"symbols":  len(img.Symbols),
		"funcs":    len(img.Funcs),
		"ctors":    len(img.Ctors),
	}).Debug("link: done")
	return img, nil
}

func (l *linker) checkUnits() error {
	l.ptrSize = l.opts.PointerSize
	if l.ptrSize == 0 {
		l.ptrSize = l.units[0].PointerSize
	}
	if l.ptrSize != 4 && l.ptrSize != 8 {
		return fmt.Errorf("unsupported pointer size %d", l.ptrSize)
	}

	type owned struct {
		rt   *ir.RecordType
		unit string
	}
	types := make(map[string]owned)
	for _, u := range l.units {
		if u.PointerSize != l.ptrSize {
			return fmt.Errorf("unit %s has pointer size %d, want %d", u.Name, u.PointerSize, l.ptrSize)
		}
		rts := u.Types()
		sort.Slice(rts, func(i, j int) bool { return rts[i].Name < rts[j].Name })
		for _, rt := range rts {
			prev, ok := types[rt.Name]
			if !ok {
				types[rt.Name] = owned{rt: rt, unit: u.Name}
				continue
			}
			if !prev.rt.Equal(rt) {
				return fmt.Errorf("record type %s differs between units %s and %s", rt.Name, prev.unit, u.Name)
			}
		}
	}
	return nil
}

func (l *linker) defineGlobals() error {
	for _, u := range l.units {
		scope := make(map[string]*symbol)
		l.scopes[u] = scope
		for _, o := range u.Objects {
			if o.IsDeclaration() || o.Linkage.Local() {
				continue
			}
			sym, err := l.defineGlobal(u, &symbol{name: o.Name, unit: u, obj: o})
			if err != nil {
				return err
			}
			l.objSyms[o] = sym
			scope[o.Name] = sym
		}
		for _, f := range u.Funcs {
			if f.Linkage.Local() {
				continue
			}
			sym, err := l.defineGlobal(u, &symbol{name: f.Name, unit: u, fn: f})
			if err != nil {
				return err
			}
			l.funcSyms[f] = sym
			scope[f.Name] = sym
		}
	}
	return nil
}

// defineGlobal registers cand, or returns the first definition when both
// are linkonce_odr definitions of the same kind.
func (l *linker) defineGlobal(u *ir.Unit, cand *symbol) (*symbol, error) {
	prev, ok := l.globals[cand.name]
	if !ok {
		l.globals[cand.name] = cand
		l.taken[cand.name] = true
		return cand, nil
	}
	sameKind := (prev.obj != nil) == (cand.obj != nil)
	if sameKind && prev.linkage() == ir.LinkageLinkOnceODR && cand.linkage() == ir.LinkageLinkOnceODR {
		return prev, nil
	}
	return nil, fmt.Errorf("duplicate symbol %s in units %s and %s", cand.name, prev.unit.Name, u.Name)
}

// defineLocals gives every internal or private definition a name that is
// unique across the link.
func (l *linker) defineLocals() {
	for _, u := range l.units {
		scope := l.scopes[u]
		for _, o := range u.Objects {
			if o.IsDeclaration() || !o.Linkage.Local() {
				continue
			}
			sym := &symbol{name: l.uniqueName(o.Name), unit: u, obj: o}
			l.objSyms[o] = sym
			scope[o.Name] = sym
		}
		for _, f := range u.Funcs {
			if !f.Linkage.Local() {
				continue
			}
			sym := &symbol{name: l.uniqueName(f.Name), unit: u, fn: f}
			l.funcSyms[f] = sym
			scope[f.Name] = sym
		}
	}
}

func (l *linker) uniqueName(name string) string {
	candidate := name
	for i := 1; l.taken[candidate]; i++ {
		candidate = fmt.Sprintf("%s.%d", name, i)
	}
	l.taken[candidate] = true
	return candidate
}

func (l *linker) resolveDeclarations() error {
	for _, u := range l.units {
		scope := l.scopes[u]
		for _, o := range u.Objects {
			if !o.IsDeclaration() {
				continue
			}
			sym, err := l.lookupGlobal(u, o.Name)
			if err != nil {
				return err
			}
			l.objSyms[o] = sym
			scope[o.Name] = sym
		}
	}
	return nil
}

// lookupGlobal finds a definition visible to every unit. Section boundary
// markers are synthesized on demand.
func (l *linker) lookupGlobal(u *ir.Unit, name string) (*symbol, error) {
	if sym, ok := l.globals[name]; ok {
		return sym, nil
	}
	if section, start, ok := ir.ParseBoundarySymbol(name); ok {
		sym, ok := l.boundaries[name]
		if !ok {
			sym = &symbol{name: name, boundary: true, start: start, section: section}
			l.boundaries[name] = sym
			l.boundOrder = append(l.boundOrder, sym)
		}
		return sym, nil
	}
	return nil, fmt.Errorf("undefined symbol %s referenced from unit %s", name, u.Name)
}

// resolve maps a name as written inside u to its linked symbol.
func (l *linker) resolve(u *ir.Unit, name string) (*symbol, error) {
	if sym, ok := l.scopes[u][name]; ok {
		return sym, nil
	}
	return l.lookupGlobal(u, name)
}

func (l *linker) live() (map[*symbol]struct{}, error) {
	if l.opts.DeadStrip {
		roots, err := l.roots()
		if err != nil {
			return nil, err
		}
		return reachable(roots, l.refs)
	}

	keep := make(map[*symbol]struct{})
	for _, sym := range l.objSyms {
		keep[sym] = struct{}{}
	}
	for _, sym := range l.funcSyms {
		keep[sym] = struct{}{}
	}
	// Function bodies may name boundary markers without declaring them.
	for sym := range keep {
		if _, err := l.refs(sym); err != nil {
			return nil, fmt.Errorf("%s: %w", sym.name, err)
		}
	}
	return keep, nil
}

func (l *linker) baseAddress() uint64 {
	if l.opts.BaseAddress != 0 {
		return l.opts.BaseAddress
	}
	if l.ptrSize == 4 {
		return DefaultBase32
	}
	return DefaultBase64
}

func (l *linker) objectAlign(o *ir.Object) int {
	if o.Align > 0 {
		return o.Align
	}
	if a := ir.AlignOf(o.Init, l.ptrSize); a > 0 {
		return a
	}
	return 1
}

// layout groups kept objects by section in first-seen order and assigns
// addresses. A section is writable unless every object in it is constant.
func (l *linker) layout(img *image.Image, keep map[*symbol]struct{}) {
	var order []string
	members := make(map[string][]*symbol)
	for _, u := range l.units {
		for _, o := range u.Objects {
			if o.IsDeclaration() {
				continue
			}
			sym := l.objSyms[o]
			if sym.obj != o {
				continue
			}
			if _, ok := keep[sym]; !ok {
				log.WithFields(log.Fields{"unit": u.Name, "object": o.Name}).Debug("link: stripped")
				continue
			}
			name := o.Section
			if name == "" {
				name = DataSection
				if o.Constant {
					name = ConstSection
				}
			}
			sym.section = name
			if _, ok := members[name]; !ok {
				order = append(order, name)
			}
			members[name] = append(members[name], sym)
		}
	}

	cursor := l.baseAddress()
	for _, name := range order {
		syms := members[name]
		align := sectionAlign
		writable := false
		for _, s := range syms {
			if a := l.objectAlign(s.obj); a > align {
				align = a
			}
			if !s.obj.Constant {
				writable = true
			}
		}
		cursor = alignUp(cursor, uint64(align))

		off := 0
		for _, s := range syms {
			off = ir.AlignUp(off, l.objectAlign(s.obj))
			s.addr = cursor + uint64(off)
			s.size = uint64(ir.SizeOf(s.obj.Init, l.ptrSize))
			off += int(s.size)
			l.placed = append(l.placed, s)
		}
		img.Sections = append(img.Sections, &image.Section{
			Name:     name,
			Addr:     cursor,
			Data:     make([]byte, off),
			Writable: writable,
		})
		cursor += uint64(off)
	}

	// Boundary markers of absent sections resolve to zero, so a walk
	// from start to end is empty.
	for _, b := range l.boundOrder {
		sec := img.Section(b.section)
		switch {
		case sec == nil:
			b.addr = 0
		case b.start:
			b.addr = sec.Addr
		default:
			b.addr = sec.End()
		}
	}
}

func alignUp(n, a uint64) uint64 {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}

func (l *linker) writeData(img *image.Image) error {
	for _, s := range l.placed {
		sec := img.Section(s.section)
		buf := sec.Data[s.addr-sec.Addr : s.addr-sec.Addr+s.size]
		if err := l.encode(buf, s.obj.Init); err != nil {
			return fmt.Errorf("object %s: %w", s.name, err)
		}
	}
	return nil
}

// encode stores v little-endian into buf.
func (l *linker) encode(buf []byte, v ir.Value) error {
	switch v := v.(type) {
	case *ir.DataArray:
		copy(buf, v.Data)
	case *ir.Int:
		putUint(buf, v.V, (v.Bits+7)/8)
	case *ir.Null:
	case *ir.Ref, *ir.Cast, *ir.AddrExpr:
		addr, err := l.address(v)
		if err != nil {
			return err
		}
		putUint(buf, addr, l.ptrSize)
	case *ir.Record:
		layout := ir.RecordLayout(v, l.ptrSize)
		for i, f := range v.Fields {
			if err := l.encode(buf[layout.Offsets[i]:], f); err != nil {
				return fmt.Errorf("field %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unsupported initializer %T", v)
	}
	return nil
}

func (l *linker) address(v ir.Value) (uint64, error) {
	switch v := v.(type) {
	case *ir.Ref:
		sym, ok := l.objSyms[v.Target]
		if !ok || v.Target == nil {
			return 0, fmt.Errorf("reference to unknown object")
		}
		return sym.addr, nil
	case *ir.Cast:
		return l.address(v.X)
	case *ir.AddrExpr:
		base, err := l.address(v.Base)
		if err != nil {
			return 0, err
		}
		return base + uint64(v.Offset), nil
	case *ir.Null:
		return 0, nil
	default:
		return 0, fmt.Errorf("%T is not an address", v)
	}
}

func putUint(buf []byte, v uint64, size int) {
	for i := 0; i < size && i < len(buf); i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func (l *linker) writeSymbols(img *image.Image, keep map[*symbol]struct{}) {
	for _, s := range l.placed {
		img.Symbols = append(img.Symbols, image.Symbol{
			Name:    s.name,
			Addr:    s.addr,
			Size:    s.size,
			Section: s.section,
		})
	}
	for _, b := range l.boundOrder {
		if _, ok := keep[b]; !ok && l.opts.DeadStrip {
			continue
		}
		img.Symbols = append(img.Symbols, image.Symbol{Name: b.name, Addr: b.addr})
	}
}

func (l *linker) writeFuncs(img *image.Image, keep map[*symbol]struct{}) error {
	for _, u := range l.units {
		for _, f := range u.Funcs {
			sym := l.funcSyms[f]
			if sym.fn != f {
				continue
			}
			if _, ok := keep[sym]; !ok {
				log.WithFields(log.Fields{"unit": u.Name, "func": f.Name}).Debug("link: stripped")
				continue
			}

			rename := make(map[string]string)
			for _, name := range f.Symbols() {
				target, err := l.resolve(u, name)
				if err != nil {
					return fmt.Errorf("func %s: %w", f.Name, err)
				}
				if target.fn != nil {
					return fmt.Errorf("func %s: function %s used as an address", f.Name, name)
				}
				if target.name != name {
					rename[name] = target.name
				}
			}
			out := f.Clone()
			out.Name = sym.name
			out.RenameSymbols(rename)
			img.Funcs = append(img.Funcs, out)
		}
	}
	return nil
}

// writeCtors keeps one entry per registration; duplicate registrations of
// a merged routine all point at the surviving definition.
func (l *linker) writeCtors(img *image.Image) error {
	for _, u := range l.units {
		for _, c := range u.Ctors {
			sym, ok := l.funcSyms[c.Func]
			if !ok {
				return fmt.Errorf("unit %s: startup routine %s is not part of the unit", u.Name, funcName(c.Func))
			}
			img.Ctors = append(img.Ctors, image.Ctor{Priority: c.Priority, Func: sym.name})
		}
	}
	sort.SliceStable(img.Ctors, func(i, j int) bool { return img.Ctors[i].Priority < img.Ctors[j].Priority })
	return nil
}

func funcName(f *ir.Func) string {
	if f == nil {
		return "<nil>"
	}
	return f.Name
}
