package vm

import (
	"errors"
	"testing"

	"github.com/odvcencio/cocoons/pkg/image"
	"github.com/odvcencio/cocoons/pkg/ir"
	"github.com/odvcencio/cocoons/pkg/link"
	"github.com/odvcencio/cocoons/pkg/obfuscate"
)

// stringUnit returns a unit holding one tagged private C string per entry
// of strs, named after the unit.
func stringUnit(t *testing.T, name string, ptrSize int, strs map[string]string) *ir.Unit {
	t.Helper()
	u := ir.NewUnit(name, ptrSize)
	for sym, s := range strs {
		o := u.AddObject(&ir.Object{Name: sym, Constant: true, Linkage: ir.LinkageExternal, Align: 1, Init: ir.NewCString(s)})
		u.Annotate(o, "obfuscate")
	}
	return u
}

func obfuscateUnit(t *testing.T, u *ir.Unit, keys ...byte) *obfuscate.Result {
	t.Helper()
	opts := obfuscate.DefaultOptions()
	opts.Keys = &obfuscate.FixedKeys{Keys: keys}
	res, err := obfuscate.New(opts).Run(u)
	if err != nil {
		t.Fatalf("Run(%s): %v", u.Name, err)
	}
	return res
}

func loadUnits(t *testing.T, units ...*ir.Unit) *Process {
	t.Helper()
	img, err := link.Link(units, link.DefaultOptions())
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	p, err := Load(img)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestStartupRestoresString(t *testing.T) {
	u := stringUnit(t, "main", 8, map[string]string{"greeting": "HELLO"})
	res := obfuscateUnit(t, u, 0xAD)
	if len(res.Records) != 1 || res.Decrypter == nil {
		t.Fatalf("result = %+v", res)
	}

	p := loadUnits(t, u)
	addr, ok := p.Symbol("greeting")
	if !ok {
		t.Fatal("greeting not linked")
	}
	raw, err := p.Mem.Read(addr, 6)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []byte{'H' ^ 0xAD, 'E' ^ 0xAD, 'L' ^ 0xAD, 'L' ^ 0xAD, 'O' ^ 0xAD, 0}
	if string(raw) != string(want) {
		t.Fatalf("stored bytes = %x, want %x", raw, want)
	}
	meta := p.Image.Section(obfuscate.MetaSection)
	if meta == nil {
		t.Fatal("metadata section missing")
	}
	recs := obfuscate.DecodeRecords(meta.Data, 8)
	if len(recs) != 1 || recs[0] != (obfuscate.Record{Addr: addr, Length: 6, Key: 0xAD}) {
		t.Fatalf("records = %+v, want one {addr %#x, len 6, key 0xad}", recs, addr)
	}

	if err := p.Startup(); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	got, err := p.CString("greeting")
	if err != nil {
		t.Fatalf("CString: %v", err)
	}
	if got != "HELLO" {
		t.Fatalf("greeting = %q, want HELLO", got)
	}
}

func TestStartupDecryptsOnceAcrossUnits(t *testing.T) {
	a := stringUnit(t, "a", 8, map[string]string{"first": "alpha"})
	b := stringUnit(t, "b", 8, map[string]string{"second": "bravo"})
	obfuscateUnit(t, a, 0x11)
	obfuscateUnit(t, b, 0x22)

	p := loadUnits(t, a, b)
	if len(p.Image.Ctors) != 2 {
		t.Fatalf("ctors = %+v, want two registrations", p.Image.Ctors)
	}
	if len(p.Image.Funcs) != 1 {
		t.Fatalf("funcs = %d, want one merged decrypter", len(p.Image.Funcs))
	}

	for round := 0; round < 2; round++ {
		if err := p.Startup(); err != nil {
			t.Fatalf("Startup round %d: %v", round, err)
		}
		for sym, want := range map[string]string{"first": "alpha", "second": "bravo"} {
			got, err := p.CString(sym)
			if err != nil {
				t.Fatalf("CString(%s): %v", sym, err)
			}
			if got != want {
				t.Fatalf("round %d: %s = %q, want %q", round, sym, got, want)
			}
		}
	}
}

func TestStartupSkipsEmptyString(t *testing.T) {
	u := stringUnit(t, "main", 8, map[string]string{"empty": "", "word": "ok"})
	obfuscateUnit(t, u, 0x5A)

	p := loadUnits(t, u)
	if err := p.Startup(); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	for sym, want := range map[string]string{"empty": "", "word": "ok"} {
		got, err := p.CString(sym)
		if err != nil {
			t.Fatalf("CString(%s): %v", sym, err)
		}
		if got != want {
			t.Fatalf("%s = %q, want %q", sym, got, want)
		}
	}
}

func TestStartup32BitStride(t *testing.T) {
	u := stringUnit(t, "main", 4, map[string]string{"s1": "one", "s2": "two", "s3": "three"})
	obfuscateUnit(t, u, 0x31, 0x32, 0x33)

	p := loadUnits(t, u)
	meta := p.Image.Section(obfuscate.MetaSection)
	if meta == nil {
		t.Fatal("metadata section missing")
	}
	if got := len(obfuscate.DecodeRecords(meta.Data, 4)); got != 3 {
		t.Fatalf("records = %d, want 3", got)
	}
	if err := p.Startup(); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	for sym, want := range map[string]string{"s1": "one", "s2": "two", "s3": "three"} {
		got, err := p.CString(sym)
		if err != nil || got != want {
			t.Fatalf("%s = %q, %v; want %q", sym, got, err, want)
		}
	}
}

func TestStoreToReadOnlySectionFaults(t *testing.T) {
	u := ir.NewUnit("main", 8)
	u.AddObject(&ir.Object{Name: "msg", Constant: true, Init: ir.NewCString("fixed")})
	f := ir.NewFunc("scribble", ir.LinkageExternal)
	entry := f.NewBlock("entry")
	entry.NewStore(8, ir.Const{Bits: 8, V: 'X'}, ir.SymbolAddr{Name: "msg"})
	entry.NewRet()
	u.AddFunc(f)

	p := loadUnits(t, u)
	err := p.Call("scribble")
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("err = %v, want *Fault", err)
	}
	if !fault.Write {
		t.Fatalf("fault = %+v, want write fault", fault)
	}
	if got, _ := p.CString("msg"); got != "fixed" {
		t.Fatalf("msg = %q after faulting store", got)
	}
}

func TestCallStepLimit(t *testing.T) {
	u := ir.NewUnit("main", 8)
	f := ir.NewFunc("spin", ir.LinkageExternal)
	loop := f.NewBlock("loop")
	loop.NewBr(loop)
	u.AddFunc(f)

	p := loadUnits(t, u)
	p.SetMaxSteps(100)
	if err := p.Call("spin"); !errors.Is(err, ErrStepLimit) {
		t.Fatalf("err = %v, want ErrStepLimit", err)
	}
}

func TestMemoryUnmappedAndClosed(t *testing.T) {
	img := &image.Image{
		PointerSize: 8,
		Sections: []*image.Section{
			{Name: "__DATA,__data", Addr: 0x1000, Data: []byte{1, 2, 3, 4}, Writable: true},
			{Name: "__TEXT,__const", Addr: 0x1010, Data: []byte{9}},
		},
	}
	mem, err := NewMemory(img)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}

	v, err := mem.Load(0x1000, 4)
	if err != nil || v != 0x04030201 {
		t.Fatalf("Load = %#x, %v", v, err)
	}
	if _, err := mem.Load(0x1004, 1); err == nil {
		t.Fatal("expected fault in padding between sections")
	}
	if _, err := mem.Load(0x1002, 4); err == nil {
		t.Fatal("expected fault for access past section end")
	}
	if err := mem.Store(0x1010, 1, 0); err == nil {
		t.Fatal("expected fault for store to read-only section")
	}

	if err := mem.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := mem.Load(0x1000, 1); err == nil {
		t.Fatal("expected fault after Close")
	}
}

func TestMachineArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   ir.Op
		bits int
		x, y uint64
		want uint64
	}{
		{"add wraps", ir.OpAdd, 8, 0xff, 2, 1},
		{"sub wraps", ir.OpSub, 32, 0, 1, 0xffffffff},
		{"shl past width", ir.OpShl, 8, 1, 8, 0},
		{"xor", ir.OpXor, 8, 0xaa, 0xff, 0x55},
		{"lshr", ir.OpLShr, 16, 0x8000, 15, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := binary(tt.op, tt.bits, tt.x, tt.y); got != tt.want {
				t.Fatalf("%s(%#x, %#x) = %#x, want %#x", tt.op, tt.x, tt.y, got, tt.want)
			}
		})
	}

	if ok, _ := compare(ir.PredSGT, 32, 0xffffffff, 0); ok {
		t.Fatal("-1 sgt 0 should be false")
	}
	if ok, _ := compare(ir.PredUGT, 32, 0xffffffff, 0); !ok {
		t.Fatal("0xffffffff ugt 0 should be true")
	}
}
