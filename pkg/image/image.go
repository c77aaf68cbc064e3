// Package image holds linked programs: laid-out sections, resolved
// symbols, the startup list and the functions the runtime interprets.
package image

import (
	"sort"

	"github.com/odvcencio/cocoons/pkg/ir"
)

// Section is a contiguous, laid-out storage region.
type Section struct {
	Name     string
	Addr     uint64
	Data     []byte
	Writable bool
}

// End is the address one past the last byte of s.
func (s *Section) End() uint64 {
	return s.Addr + uint64(len(s.Data))
}

// Symbol is a resolved object address. Boundary markers have Size 0 and
// an empty Section.
type Symbol struct {
	Name    string
	Addr    uint64
	Size    uint64
	Section string
}

// Ctor is one startup routine registration.
type Ctor struct {
	Priority int
	Func     string
}

// Image is a linked program.
type Image struct {
	PointerSize int
	Sections    []*Section
	Symbols     []Symbol
	Ctors       []Ctor
	Funcs       []*ir.Func
}

// Section returns the named section, or nil.
func (img *Image) Section(name string) *Section {
	for _, s := range img.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Symbol looks up a symbol by name.
func (img *Image) Symbol(name string) (Symbol, bool) {
	for _, s := range img.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// SymbolsIn returns the symbols placed in section, ordered by address.
func (img *Image) SymbolsIn(section string) []Symbol {
	var out []Symbol
	for _, s := range img.Symbols {
		if s.Section == section {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// SymbolTable maps every symbol name to its address.
func (img *Image) SymbolTable() map[string]uint64 {
	out := make(map[string]uint64, len(img.Symbols))
	for _, s := range img.Symbols {
		out[s.Name] = s.Addr
	}
	return out
}

// Func returns the named function, or nil.
func (img *Image) Func(name string) *ir.Func {
	for _, f := range img.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}
