package link

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/odvcencio/cocoons/pkg/ir"
)

func retFunc(name string, linkage ir.Linkage) *ir.Func {
	f := ir.NewFunc(name, linkage)
	f.NewBlock("entry").NewRet()
	return f
}

func TestLinkPlacesObjectsAndResolvesRefs(t *testing.T) {
	u := ir.NewUnit("main", 8)
	str := u.AddObject(&ir.Object{Name: ".str", Constant: true, Linkage: ir.LinkagePrivate, Align: 1, Init: ir.NewCString("hi")})
	u.AddObject(&ir.Object{Name: "greeting", Linkage: ir.LinkageExternal, Init: &ir.AddrExpr{Base: &ir.Ref{Target: str}, Offset: 1}})

	img, err := Link([]*ir.Unit{u}, DefaultOptions())
	if err != nil {
		t.Fatalf("Link: %v", err)
	}

	consts := img.Section(ConstSection)
	data := img.Section(DataSection)
	if consts == nil || data == nil {
		t.Fatalf("sections = %+v", img.Sections)
	}
	if consts.Addr != DefaultBase64 {
		t.Fatalf("const section addr = %#x, want %#x", consts.Addr, DefaultBase64)
	}
	if consts.Writable || !data.Writable {
		t.Fatalf("writable: const=%v data=%v", consts.Writable, data.Writable)
	}
	if data.Addr%sectionAlign != 0 {
		t.Fatalf("data section addr %#x not aligned", data.Addr)
	}

	sym, ok := img.Symbol(".str")
	if !ok || sym.Size != 3 {
		t.Fatalf("Symbol(.str) = %+v, %v", sym, ok)
	}
	got := binary.LittleEndian.Uint64(data.Data)
	if got != sym.Addr+1 {
		t.Fatalf("greeting = %#x, want %#x", got, sym.Addr+1)
	}
}

func TestLinkDeadStripKeepsRoots(t *testing.T) {
	u := ir.NewUnit("main", 8)
	u.AddObject(&ir.Object{Name: "orphan", Linkage: ir.LinkageInternal, Init: &ir.Int{Bits: 32, V: 1}})
	kept := u.AddObject(&ir.Object{Name: "kept", Linkage: ir.LinkageInternal, Init: &ir.Int{Bits: 32, V: 2}})
	target := u.AddObject(&ir.Object{Name: "target", Linkage: ir.LinkagePrivate, Init: ir.NewCString("x")})
	holder := u.AddObject(&ir.Object{Name: "holder", Linkage: ir.LinkageInternal, Init: &ir.Cast{X: &ir.Ref{Target: target}}})
	u.AppendUsed(kept, holder)
	u.AddFunc(retFunc("unused_helper", ir.LinkageInternal))

	img, err := Link([]*ir.Unit{u}, DefaultOptions())
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	for _, name := range []string{"kept", "holder", "target"} {
		if _, ok := img.Symbol(name); !ok {
			t.Errorf("symbol %s stripped", name)
		}
	}
	if _, ok := img.Symbol("orphan"); ok {
		t.Error("orphan should be stripped")
	}
	if img.Func("unused_helper") != nil {
		t.Error("unused_helper should be stripped")
	}

	opts := DefaultOptions()
	opts.DeadStrip = false
	img, err = Link([]*ir.Unit{u}, opts)
	if err != nil {
		t.Fatalf("Link without strip: %v", err)
	}
	if _, ok := img.Symbol("orphan"); !ok {
		t.Error("orphan stripped with DeadStrip disabled")
	}
}

func TestLinkRenamesClashingLocals(t *testing.T) {
	var units []*ir.Unit
	for _, name := range []string{"a", "b"} {
		u := ir.NewUnit(name, 8)
		str := u.AddObject(&ir.Object{Name: ".str", Linkage: ir.LinkagePrivate, Init: ir.NewCString(name)})
		u.AddObject(&ir.Object{Name: "ptr_" + name, Init: &ir.Ref{Target: str}})
		units = append(units, u)
	}

	img, err := Link(units, DefaultOptions())
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	first, ok1 := img.Symbol(".str")
	second, ok2 := img.Symbol(".str.1")
	if !ok1 || !ok2 {
		t.Fatalf("symbols = %+v", img.Symbols)
	}

	ptrB, _ := img.Symbol("ptr_b")
	sec := img.Section(DataSection)
	got := binary.LittleEndian.Uint64(sec.Data[ptrB.Addr-sec.Addr:])
	if got != second.Addr || got == first.Addr {
		t.Fatalf("ptr_b = %#x, want %#x", got, second.Addr)
	}
}

func TestLinkLinkOnceKeepsFirstDefinition(t *testing.T) {
	var units []*ir.Unit
	for _, name := range []string{"a", "b"} {
		u := ir.NewUnit(name, 8)
		u.AddObject(&ir.Object{Name: "guard", Linkage: ir.LinkageLinkOnceODR, Init: &ir.Int{Bits: 32, V: 0}})
		f := u.AddFunc(retFunc("init", ir.LinkageLinkOnceODR))
		u.AppendCtor(f, 0)
		units = append(units, u)
	}

	img, err := Link(units, DefaultOptions())
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if len(img.Funcs) != 1 {
		t.Fatalf("funcs = %d, want 1", len(img.Funcs))
	}
	if len(img.Ctors) != 2 || img.Ctors[0].Func != "init" || img.Ctors[1].Func != "init" {
		t.Fatalf("ctors = %+v", img.Ctors)
	}
	count := 0
	for _, s := range img.Symbols {
		if strings.HasPrefix(s.Name, "guard") {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("guard symbols = %d, want 1", count)
	}
}

func TestLinkDuplicateExternalFails(t *testing.T) {
	a := ir.NewUnit("a", 8)
	a.AddObject(&ir.Object{Name: "x", Init: &ir.Int{Bits: 8, V: 1}})
	b := ir.NewUnit("b", 8)
	b.AddObject(&ir.Object{Name: "x", Init: &ir.Int{Bits: 8, V: 2}})

	_, err := Link([]*ir.Unit{a, b}, DefaultOptions())
	if err == nil || !strings.Contains(err.Error(), "duplicate symbol x") {
		t.Fatalf("err = %v, want duplicate symbol", err)
	}
}

func TestLinkResolvesDeclarations(t *testing.T) {
	a := ir.NewUnit("a", 8)
	a.AddObject(&ir.Object{Name: "shared", Init: &ir.Int{Bits: 32, V: 7}})
	b := ir.NewUnit("b", 8)
	decl := b.AddObject(&ir.Object{Name: "shared"})
	b.AddObject(&ir.Object{Name: "ptr", Init: &ir.Ref{Target: decl}})

	img, err := Link([]*ir.Unit{a, b}, DefaultOptions())
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	shared, _ := img.Symbol("shared")
	ptr, _ := img.Symbol("ptr")
	sec := img.Section(DataSection)
	if got := binary.LittleEndian.Uint64(sec.Data[ptr.Addr-sec.Addr:]); got != shared.Addr {
		t.Fatalf("ptr = %#x, want %#x", got, shared.Addr)
	}

	c := ir.NewUnit("c", 8)
	c.AddObject(&ir.Object{Name: "missing"})
	if _, err := Link([]*ir.Unit{c}, DefaultOptions()); err == nil || !strings.Contains(err.Error(), "undefined symbol missing") {
		t.Fatalf("err = %v, want undefined symbol", err)
	}
}

func TestLinkBoundarySymbols(t *testing.T) {
	const section = "__DATA,__items"
	u := ir.NewUnit("main", 4)
	for i := 0; i < 3; i++ {
		o := u.AddObject(&ir.Object{Name: "item", Linkage: ir.LinkageInternal, Section: section, Align: 8, Init: &ir.Int{Bits: 32, V: uint64(i)}})
		u.AppendUsed(o)
	}

	f := ir.NewFunc("walk", ir.LinkageExternal)
	entry := f.NewBlock("entry")
	entry.NewLoad(32, ir.SymbolAddr{Name: ir.SectionStartSymbol(section)})
	entry.NewLoad(32, ir.SymbolAddr{Name: ir.SectionEndSymbol(section)})
	entry.NewLoad(32, ir.SymbolAddr{Name: ir.SectionStartSymbol("__DATA,__absent")})
	entry.NewRet()
	u.AddFunc(f)

	img, err := Link([]*ir.Unit{u}, DefaultOptions())
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	sec := img.Section(section)
	if sec == nil || len(sec.Data) != 20 {
		t.Fatalf("section = %+v", sec)
	}
	if sec.Addr != DefaultBase32 {
		t.Fatalf("addr = %#x, want %#x", sec.Addr, DefaultBase32)
	}

	table := img.SymbolTable()
	if table[ir.SectionStartSymbol(section)] != sec.Addr {
		t.Errorf("start = %#x, want %#x", table[ir.SectionStartSymbol(section)], sec.Addr)
	}
	if table[ir.SectionEndSymbol(section)] != sec.End() {
		t.Errorf("end = %#x, want %#x", table[ir.SectionEndSymbol(section)], sec.End())
	}
	if addr, ok := table[ir.SectionStartSymbol("__DATA,__absent")]; !ok || addr != 0 {
		t.Errorf("absent start = %#x, %v", addr, ok)
	}
}

func TestLinkSortsCtorsByPriority(t *testing.T) {
	u := ir.NewUnit("main", 8)
	late := u.AddFunc(retFunc("late", ir.LinkageInternal))
	early := u.AddFunc(retFunc("early", ir.LinkageInternal))
	also := u.AddFunc(retFunc("also_late", ir.LinkageInternal))
	u.AppendCtor(late, 10)
	u.AppendCtor(early, 0)
	u.AppendCtor(also, 10)

	img, err := Link([]*ir.Unit{u}, DefaultOptions())
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	var got []string
	for _, c := range img.Ctors {
		got = append(got, c.Func)
	}
	if strings.Join(got, ",") != "early,late,also_late" {
		t.Fatalf("ctors = %v", got)
	}
}

func TestLinkRejectsIncompatibleUnits(t *testing.T) {
	a := ir.NewUnit("a", 8)
	b := ir.NewUnit("b", 4)
	if _, err := Link([]*ir.Unit{a, b}, DefaultOptions()); err == nil || !strings.Contains(err.Error(), "pointer size") {
		t.Fatalf("err = %v, want pointer size mismatch", err)
	}

	c := ir.NewUnit("c", 8)
	c.AddType(&ir.RecordType{Name: "T", Fields: []ir.Type{ir.TypePtr, ir.TypeI32}})
	d := ir.NewUnit("d", 8)
	d.AddType(&ir.RecordType{Name: "T", Fields: []ir.Type{ir.TypePtr, ir.TypeI8}})
	if _, err := Link([]*ir.Unit{c, d}, DefaultOptions()); err == nil || !strings.Contains(err.Error(), "record type T") {
		t.Fatalf("err = %v, want record type mismatch", err)
	}

	if _, err := Link(nil, DefaultOptions()); err == nil {
		t.Fatal("expected error for empty link")
	}
}
