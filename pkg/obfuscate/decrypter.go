package obfuscate

import (
	"github.com/apex/log"
	"github.com/odvcencio/cocoons/pkg/ir"
)

// Synthesizer emits the guard flag, the boundary marker declarations and
// the runtime decrypter, and registers the decrypter as a startup routine.
type Synthesizer struct{}

// Synthesize adds the decrypter to u. It returns nil when u has no
// metadata type or no metadata records, or when a reserved name is taken
// by something it did not emit. It returns the existing decrypter when one
// was already synthesized.
func (Synthesizer) Synthesize(u *ir.Unit) *ir.Func {
	metaTy := u.Type(MetaTypeName)
	if metaTy == nil {
		log.WithField("unit", u.Name).Debug("decrypter: metadata type undefined")
		return nil
	}
	if len(u.ObjectsInSection(MetaSection)) == 0 {
		log.WithField("unit", u.Name).Debug("decrypter: metadata section empty")
		return nil
	}
	if err := checkReserved(u); err != nil {
		log.WithError(err).WithField("unit", u.Name).Warn("decrypter: reserved name in use")
		return nil
	}
	if existing := u.Func(DecrypterName); existing != nil {
		return existing
	}

	ptrBits := u.PointerSize * 8
	layout := metaTy.Layout(u.PointerSize)
	stride := uint64(RecordStride(u.PointerSize))

	guard := u.Object(GuardName)
	if guard == nil {
		guard = u.AddObject(&ir.Object{
			Name:       GuardName,
			Linkage:    ir.LinkageLinkOnceODR,
			Visibility: ir.VisibilityHidden,
			Align:      4,
			Init:       &ir.Int{Bits: 32, V: 0},
		})
	}
	start := declare(u, ir.SectionStartSymbol(MetaSection))
	end := declare(u, ir.SectionEndSymbol(MetaSection))

	fn := u.AddFunc(&ir.Func{
		Name:       DecrypterName,
		Linkage:    ir.LinkageLinkOnceODR,
		Visibility: ir.VisibilityHidden,
	})
	entry := fn.NewBlock("entry")
	doDec := fn.NewBlock("do_dec")
	loopCond := fn.NewBlock("loop.cond")
	loopBody := fn.NewBlock("loop.body")
	innerXor := fn.NewBlock("inner.xor")
	loopNext := fn.NewBlock("loop.next")
	exit := fn.NewBlock("exit")

	guardAddr := ir.SymbolAddr{Name: guard.Name}
	i32 := func(v uint64) ir.Const { return ir.Const{Bits: 32, V: v} }
	iptr := func(v uint64) ir.Const { return ir.Const{Bits: ptrBits, V: v} }

	// entry: skip everything once the guard is set.
	isInit := entry.NewLoad(32, guardAddr)
	notYet := entry.NewICmp(ir.PredEQ, 32, isInit, i32(0))
	entry.NewCondBr(notYet, doDec, exit)

	// do_dec: claim the guard, start at the first record.
	doDec.NewStore(32, i32(1), guardAddr)
	doDec.NewBr(loopCond)

	// loop.cond: cursor < end
	cur := loopCond.NewPhi(ptrBits, ir.Incoming{X: ir.SymbolAddr{Name: start.Name}, Pred: doDec}).SetName("curr.addr")
	more := loopCond.NewICmp(ir.PredULT, ptrBits, cur, ir.SymbolAddr{Name: end.Name})
	loopCond.NewCondBr(more, loopBody, exit)

	// loop.body: read { addr, len, key } and skip empty payloads.
	addrPtr := loopBody.NewAdd(ptrBits, cur, iptr(uint64(layout.Offsets[0])))
	strAddr := loopBody.NewLoad(ptrBits, addrPtr).SetName("str.addr")
	lenPtr := loopBody.NewAdd(ptrBits, cur, iptr(uint64(layout.Offsets[1])))
	strLen := loopBody.NewLoad(32, lenPtr).SetName("str.len")
	decLen := loopBody.NewSub(32, strLen, i32(1)).SetName("dec.len")
	keyPtr := loopBody.NewAdd(ptrBits, cur, iptr(uint64(layout.Offsets[2])))
	key := loopBody.NewLoad(8, keyPtr).SetName("xor.key")
	hasPayload := loopBody.NewICmp(ir.PredSGT, 32, decLen, i32(0))
	loopBody.NewCondBr(hasPayload, innerXor, loopNext)

	// inner.xor: s[idx] ^= key for idx in [0, decLen)
	idx := innerXor.NewPhi(32, ir.Incoming{X: i32(0), Pred: loopBody}).SetName("idx")
	wide := innerXor.NewZExt(ptrBits, idx)
	bytePtr := innerXor.NewAdd(ptrBits, strAddr, wide)
	plain := innerXor.NewXor(8, innerXor.NewLoad(8, bytePtr), key)
	innerXor.NewStore(8, plain, bytePtr)
	nextIdx := innerXor.NewAdd(32, idx, i32(1))
	idx.AddIncoming(nextIdx, innerXor)
	again := innerXor.NewICmp(ir.PredULT, 32, nextIdx, decLen)
	innerXor.NewCondBr(again, innerXor, loopNext)

	// loop.next: advance by one record.
	next := loopNext.NewAdd(ptrBits, cur, iptr(stride))
	cur.AddIncoming(next, loopNext)
	loopNext.NewBr(loopCond)

	exit.NewRet()

	u.AppendCtor(fn, DecrypterPriority)
	log.WithFields(log.Fields{"unit": u.Name, "stride": stride}).Debug("decrypter: synthesized")
	return fn
}

func declare(u *ir.Unit, name string) *ir.Object {
	if o := u.Object(name); o != nil {
		return o
	}
	return u.AddObject(&ir.Object{Name: name, Linkage: ir.LinkageExternal})
}
