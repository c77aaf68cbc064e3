// Package substitute rewrites integer additions into an equivalent
// bitwise form: a + b == (a ^ b) + ((a & b) << 1).
package substitute

import (
	"github.com/apex/log"
	"github.com/odvcencio/cocoons/pkg/ir"
)

// Func rewrites every add in f and reports whether f changed. Adds are
// collected before rewriting, so the add introduced by each replacement
// is left alone.
func Func(f *ir.Func) bool {
	var work []*ir.Inst
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			if inst.Op == ir.OpAdd && len(inst.Args) == 2 {
				work = append(work, inst)
			}
		}
	}

	changed := false
	for _, add := range work {
		x, y := add.Args[0], add.Args[1]
		bits := add.Bits
		vxor := ir.NewBinaryInst(ir.OpXor, bits, x, y)
		vand := ir.NewBinaryInst(ir.OpAnd, bits, x, y)
		vshl := ir.NewBinaryInst(ir.OpShl, bits, vand, ir.Const{Bits: bits, V: 1})
		sum := ir.NewBinaryInst(ir.OpAdd, bits, vxor, vshl)
		sum.Name = add.Name

		b := add.Block
		b.InsertBefore(add, vxor, vand, vshl, sum)
		f.ReplaceAllUses(add, sum)
		if !f.HasUses(add) {
			b.Remove(add)
			changed = true
		}
	}
	if changed {
		log.WithFields(log.Fields{"func": f.Name, "adds": len(work)}).Debug("substitute: rewrote")
	}
	return changed
}

// Unit runs Func over every function in u and returns how many changed.
func Unit(u *ir.Unit) int {
	n := 0
	for _, f := range u.Funcs {
		if Func(f) {
			n++
		}
	}
	return n
}
