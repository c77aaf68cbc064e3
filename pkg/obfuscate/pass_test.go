package obfuscate

import (
	"bytes"
	"testing"

	"github.com/odvcencio/cocoons/pkg/ir"
	"github.com/odvcencio/cocoons/pkg/link"
)

func newPass(keys ...byte) *Pass {
	opts := DefaultOptions()
	opts.Keys = &FixedKeys{Keys: keys}
	return New(opts)
}

func TestEncrypt(t *testing.T) {
	obj := &ir.Object{Name: ".str", Constant: true, Section: "__TEXT,__cstring", Init: ir.NewCString("HI")}
	var e Engine

	if e.Encrypt(obj, 0) {
		t.Fatal("zero key accepted")
	}
	if !e.Encrypt(obj, 0x42) {
		t.Fatal("Encrypt returned false")
	}
	want := []byte{'H' ^ 0x42, 'I' ^ 0x42, 0}
	if got := obj.Init.(*ir.DataArray).Data; !bytes.Equal(got, want) {
		t.Fatalf("data = %x, want %x", got, want)
	}
	if obj.Constant || obj.Section != StringsSection || obj.Align != 1 {
		t.Fatalf("object = %+v", obj)
	}
	if e.Encrypt(obj, 0x42) {
		t.Fatal("second Encrypt should be refused")
	}
	if got := obj.Init.(*ir.DataArray).Data; !bytes.Equal(got, want) {
		t.Fatalf("data changed by refused Encrypt: %x", got)
	}

	empty := &ir.Object{Name: "e", Init: &ir.DataArray{ElemBits: 8}}
	if e.Encrypt(empty, 0x42) {
		t.Fatal("empty buffer accepted")
	}
}

func TestXORIsInvolution(t *testing.T) {
	for _, n := range []int{1, 2, 7, 64} {
		in := make([]byte, n)
		for i := range in {
			in[i] = byte(i*31 + 1)
		}
		for k := 1; k <= 255; k++ {
			key := byte(k)
			once := XOR(in, key)
			if once[n-1] != in[n-1] {
				t.Fatalf("len %d key %#x: trailing byte transformed", n, key)
			}
			for i := 0; i < n-1; i++ {
				if once[i] != in[i]^key {
					t.Fatalf("len %d key %#x: byte %d = %#x, want %#x", n, key, i, once[i], in[i]^key)
				}
			}
			if !bytes.Equal(XOR(once, key), in) {
				t.Fatalf("len %d key %#x: XOR is not its own inverse", n, key)
			}
		}
	}
	if len(XOR(nil, 1)) != 0 {
		t.Fatal("XOR(nil) not empty")
	}
}

func TestPassSelectsTaggedStrings(t *testing.T) {
	u := ir.NewUnit("main", 8)
	plain := u.AddObject(&ir.Object{Name: "plain", Constant: true, Init: ir.NewCString("visible")})
	hidden := u.AddObject(&ir.Object{Name: "hidden", Constant: true, Init: ir.NewCString("secret")})
	suffixed := u.AddObject(&ir.Object{Name: "suffixed", Constant: true, Init: ir.NewCString("also")})
	u.Annotate(plain, "keep")
	u.Annotate(hidden, "obfuscate")
	u.Annotate(suffixed, "obfuscate.low")

	res, err := newPass(0x10, 0x20).Run(u)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Candidates != 2 || len(res.Records) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if plain.Section == StringsSection || !plain.Constant {
		t.Fatal("untagged string was obfuscated")
	}
	if string(plain.Init.(*ir.DataArray).Data) != "visible\x00" {
		t.Fatal("untagged string bytes changed")
	}
	if hidden.Section != StringsSection || suffixed.Section != StringsSection {
		t.Fatal("tagged strings not moved to the strings section")
	}
	if len(u.Used) != 2 {
		t.Fatalf("used = %d, want 2", len(u.Used))
	}
}

func TestPassDedupesTargets(t *testing.T) {
	u := ir.NewUnit("main", 8)
	str := u.AddObject(&ir.Object{Name: ".str", Constant: true, Linkage: ir.LinkagePrivate, Init: ir.NewCString("shared")})
	w := wrapper(u, "_unnamed_cfstring_", str)
	u.Annotate(str, "obfuscate")
	u.Annotate(w, "obfuscate")
	u.Annotate(str, "obfuscate.again")

	res, err := newPass(0x77).Run(u)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Candidates != 3 || len(res.Targets) != 1 || len(res.Records) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if got := XOR(str.Init.(*ir.DataArray).Data, 0x77); string(got) != "shared\x00" {
		t.Fatalf("decrypted = %q", got)
	}
}

func TestPassIsIdempotent(t *testing.T) {
	u := ir.NewUnit("main", 8)
	str := u.AddObject(&ir.Object{Name: "s", Constant: true, Init: ir.NewCString("twice")})
	u.Annotate(str, "obfuscate")

	p := newPass(0x33, 0x44)
	first, err := p.Run(u)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	cipher := append([]byte(nil), str.Init.(*ir.DataArray).Data...)

	second, err := p.Run(u)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Changed() {
		t.Fatalf("second run changed the unit: %+v", second)
	}
	if !bytes.Equal(str.Init.(*ir.DataArray).Data, cipher) {
		t.Fatal("second run re-encrypted the string")
	}
	if len(u.Ctors) != 1 || len(u.ObjectsInSection(MetaSection)) != 1 {
		t.Fatalf("ctors = %d, records = %d", len(u.Ctors), len(u.ObjectsInSection(MetaSection)))
	}
	if first.Decrypter == nil || u.Func(DecrypterName) != first.Decrypter {
		t.Fatal("decrypter missing")
	}
}

func TestPassWithoutTargetsLeavesUnitAlone(t *testing.T) {
	u := ir.NewUnit("main", 8)
	u.AddObject(&ir.Object{Name: "n", Init: &ir.Int{Bits: 32, V: 1}})
	u.Annotate(u.Object("n"), "obfuscate")
	before := u.String()

	res, err := newPass(1).Run(u)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Changed() || res.Decrypter != nil || res.Candidates != 1 {
		t.Fatalf("result = %+v", res)
	}
	if u.Type(MetaTypeName) != nil || len(u.Funcs) != 0 {
		t.Fatal("unit gained metadata or functions")
	}
	if u.String() != before {
		t.Fatalf("unit changed:\n%s", u.String())
	}
}

func TestPassDoesNotSpendKeysOnObfuscatedTargets(t *testing.T) {
	u := ir.NewUnit("main", 8)
	first := u.AddObject(&ir.Object{Name: "first", Constant: true, Init: ir.NewCString("one")})
	u.Annotate(first, "obfuscate")

	p := newPass(0x10, 0x20)
	if _, err := p.Run(u); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second := u.AddObject(&ir.Object{Name: "second", Constant: true, Init: ir.NewCString("two")})
	u.Annotate(second, "obfuscate")

	res, err := p.Run(u)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(res.Records))
	}
	if got := XOR(second.Init.(*ir.DataArray).Data, 0x20); string(got) != "two\x00" {
		t.Fatalf("second decrypted with the next key = %q", got)
	}
}

func TestPassLeavesUnitWithForeignReservedNames(t *testing.T) {
	tests := []struct {
		name  string
		setup func(u *ir.Unit)
	}{
		{"short metadata type", func(u *ir.Unit) {
			u.AddType(&ir.RecordType{Name: MetaTypeName, Fields: []ir.Type{ir.TypeI8, ir.TypePtr}})
		}},
		{"reordered metadata type", func(u *ir.Unit) {
			u.AddType(&ir.RecordType{Name: MetaTypeName, Fields: []ir.Type{ir.TypeI8, ir.TypeI32, ir.TypePtr}})
		}},
		{"constant guard", func(u *ir.Unit) {
			u.AddObject(&ir.Object{Name: GuardName, Constant: true, Init: &ir.Int{Bits: 32, V: 1}})
		}},
		{"set guard", func(u *ir.Unit) {
			u.AddObject(&ir.Object{Name: GuardName, Linkage: ir.LinkageLinkOnceODR, Visibility: ir.VisibilityHidden, Init: &ir.Int{Bits: 32, V: 1}})
		}},
		{"guard function", func(u *ir.Unit) {
			u.AddFunc(&ir.Func{Name: GuardName})
		}},
		{"decrypter not at startup", func(u *ir.Unit) {
			u.AddObject(&ir.Object{Name: GuardName, Linkage: ir.LinkageLinkOnceODR, Visibility: ir.VisibilityHidden, Init: &ir.Int{Bits: 32}})
			fn := u.AddFunc(&ir.Func{Name: DecrypterName, Linkage: ir.LinkageLinkOnceODR, Visibility: ir.VisibilityHidden})
			fn.NewBlock("entry").NewRet()
		}},
		{"external decrypter", func(u *ir.Unit) {
			fn := u.AddFunc(&ir.Func{Name: DecrypterName})
			fn.NewBlock("entry").NewRet()
			u.AppendCtor(fn, DecrypterPriority)
		}},
		{"defined section marker", func(u *ir.Unit) {
			u.AddObject(&ir.Object{Name: ir.SectionEndSymbol(MetaSection), Init: &ir.Int{Bits: 64}})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := ir.NewUnit("main", 8)
			str := u.AddObject(&ir.Object{Name: "s", Constant: true, Init: ir.NewCString("secret")})
			u.Annotate(str, "obfuscate")
			tt.setup(u)
			ctors := len(u.Ctors)

			res, err := newPass(0x5C).Run(u)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Changed() || res.Decrypter != nil {
				t.Fatalf("result = %+v, want no change", res)
			}
			if str.Section == StringsSection || string(str.Init.(*ir.DataArray).Data) != "secret\x00" {
				t.Fatalf("string was encrypted: %+v", str)
			}
			if len(u.ObjectsInSection(MetaSection)) != 0 || len(u.Ctors) != ctors {
				t.Fatal("unit gained metadata or startup routines")
			}
		})
	}
}

func TestPassKeySourceError(t *testing.T) {
	u := ir.NewUnit("main", 8)
	u.Annotate(u.AddObject(&ir.Object{Name: "s", Init: ir.NewCString("x")}), "obfuscate")
	if _, err := newPass(0, 0).Run(u); err == nil {
		t.Fatal("expected error from key source without usable keys")
	}
}

func TestMetadataRecordsMatchLinkedStrings(t *testing.T) {
	for _, ptrSize := range []int{4, 8} {
		u := ir.NewUnit("main", ptrSize)
		a := u.AddObject(&ir.Object{Name: "a", Constant: true, Init: ir.NewCString("first")})
		b := u.AddObject(&ir.Object{Name: "b", Constant: true, Init: ir.NewCString("")})
		u.Annotate(a, "obfuscate")
		u.Annotate(b, "obfuscate")
		if _, err := newPass(0xA1, 0xB2).Run(u); err != nil {
			t.Fatalf("Run: %v", err)
		}

		img, err := link.Link([]*ir.Unit{u}, link.DefaultOptions())
		if err != nil {
			t.Fatalf("Link(ptr %d): %v", ptrSize, err)
		}
		meta := img.Section(MetaSection)
		if meta == nil || len(meta.Data) < RecordStride(ptrSize) {
			t.Fatalf("ptr %d: metadata section = %+v", ptrSize, meta)
		}
		recs := DecodeRecords(meta.Data, ptrSize)
		if len(recs) != 2 {
			t.Fatalf("ptr %d: records = %+v", ptrSize, recs)
		}
		symA, _ := img.Symbol("a")
		symB, _ := img.Symbol("b")
		want := []Record{{Addr: symA.Addr, Length: 6, Key: 0xA1}, {Addr: symB.Addr, Length: 1, Key: 0xB2}}
		for i := range want {
			if recs[i] != want[i] {
				t.Fatalf("ptr %d: record %d = %+v, want %+v", ptrSize, i, recs[i], want[i])
			}
		}
	}
}

func TestRecordStride(t *testing.T) {
	for _, ptrSize := range []int{4, 8} {
		if got := RecordStride(ptrSize); got != 16 {
			t.Fatalf("RecordStride(%d) = %d, want 16", ptrSize, got)
		}
	}
	l := MetaType().Layout(8)
	if l.Offsets[0] != 0 || l.Offsets[1] != 8 || l.Offsets[2] != 12 {
		t.Fatalf("offsets = %v", l.Offsets)
	}
}

func TestSynthesizer(t *testing.T) {
	u := ir.NewUnit("main", 8)
	if fn := (Synthesizer{}).Synthesize(u); fn != nil {
		t.Fatal("synthesized without metadata")
	}

	str := u.AddObject(&ir.Object{Name: "s", Init: ir.NewCString("abc")})
	Emitter{}.Emit(u, str, 4, 0x10)
	fn := Synthesizer{}.Synthesize(u)
	if fn == nil {
		t.Fatal("Synthesize returned nil")
	}
	if again := (Synthesizer{}).Synthesize(u); again != fn || len(u.Ctors) != 1 {
		t.Fatal("second Synthesize added another decrypter")
	}

	var names []string
	for _, b := range fn.Blocks {
		names = append(names, b.Name)
	}
	want := []string{"entry", "do_dec", "loop.cond", "loop.body", "inner.xor", "loop.next", "exit"}
	if len(names) != len(want) {
		t.Fatalf("blocks = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("blocks = %v, want %v", names, want)
		}
	}
	if fn.Linkage != ir.LinkageLinkOnceODR || fn.Visibility != ir.VisibilityHidden {
		t.Fatalf("decrypter linkage = %s %s", fn.Linkage, fn.Visibility)
	}
	if u.Ctors[0].Priority != DecrypterPriority || u.Ctors[0].Func != fn {
		t.Fatalf("ctor = %+v", u.Ctors[0])
	}

	guard := u.Object(GuardName)
	if guard == nil || guard.Linkage != ir.LinkageLinkOnceODR || guard.Visibility != ir.VisibilityHidden {
		t.Fatalf("guard = %+v", guard)
	}
	for _, name := range []string{ir.SectionStartSymbol(MetaSection), ir.SectionEndSymbol(MetaSection)} {
		if o := u.Object(name); o == nil || !o.IsDeclaration() {
			t.Fatalf("boundary %s not declared", name)
		}
	}
}

func TestSeededKeys(t *testing.T) {
	draw := func(ks KeySource, n int) []byte {
		out := make([]byte, n)
		for i := range out {
			k, err := ks.Key()
			if err != nil {
				t.Fatalf("Key: %v", err)
			}
			if k == 0 {
				t.Fatal("zero key drawn")
			}
			out[i] = k
		}
		return out
	}

	a := draw(NewSeededKeys(42), 64)
	b := draw(NewSeededKeys(42), 64)
	c := draw(NewSeededKeys(43), 64)
	if !bytes.Equal(a, b) {
		t.Fatal("equal seeds produced different keys")
	}
	if bytes.Equal(a, c) {
		t.Fatal("different seeds produced equal keys")
	}
	draw(NewRandomKeys(), 64)
}

func TestFixedKeysSkipZero(t *testing.T) {
	ks := &FixedKeys{Keys: []byte{0, 5, 0, 7}}
	for _, want := range []byte{5, 7, 5} {
		got, err := ks.Key()
		if err != nil || got != want {
			t.Fatalf("Key = %d, %v; want %d", got, err, want)
		}
	}
}

func TestSynthesizerRefusesForeignGuard(t *testing.T) {
	u := ir.NewUnit("main", 8)
	str := u.AddObject(&ir.Object{Name: "s", Init: ir.NewCString("abc")})
	Emitter{}.Emit(u, str, 4, 0x10)
	u.AddObject(&ir.Object{Name: GuardName, Constant: true, Init: &ir.Int{Bits: 32, V: 1}})

	if fn := (Synthesizer{}).Synthesize(u); fn != nil {
		t.Fatal("decrypter synthesized over a foreign guard")
	}
	if u.Func(DecrypterName) != nil || len(u.Ctors) != 0 {
		t.Fatal("unit gained a decrypter")
	}
}
