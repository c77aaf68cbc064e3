package image

import (
	"fmt"

	"github.com/odvcencio/cocoons/pkg/ir"
)

// Operand kind tags. These values are persisted; do not renumber.
const (
	operandInst   byte = 0
	operandConst  byte = 1
	operandSymbol byte = 2
)

func encodeFunc(e *encoder, f *ir.Func) error {
	blockIdx := make(map[*ir.Block]int, len(f.Blocks))
	instIdx := make(map[*ir.Inst]int)
	for i, b := range f.Blocks {
		blockIdx[b] = i
	}
	for i, inst := range f.Insts() {
		instIdx[inst] = i
	}

	operand := func(op ir.Operand) error {
		switch op := op.(type) {
		case *ir.Inst:
			idx, ok := instIdx[op]
			if !ok {
				return fmt.Errorf("operand refers to an instruction outside the function")
			}
			e.u8(operandInst)
			e.uvarint(uint64(idx))
		case ir.Const:
			e.u8(operandConst)
			e.uvarint(uint64(op.Bits))
			e.uvarint(op.V)
		case ir.SymbolAddr:
			e.u8(operandSymbol)
			e.str(op.Name)
		default:
			return fmt.Errorf("unsupported operand %T", op)
		}
		return nil
	}
	block := func(b *ir.Block) error {
		idx, ok := blockIdx[b]
		if !ok {
			return fmt.Errorf("branch to a block outside the function")
		}
		e.uvarint(uint64(idx))
		return nil
	}

	e.str(f.Name)
	e.u8(byte(f.Linkage))
	e.u8(byte(f.Visibility))
	e.uvarint(uint64(len(f.Blocks)))
	for _, b := range f.Blocks {
		e.str(b.Name)
		e.uvarint(uint64(len(b.Insts)))
		for _, inst := range b.Insts {
			e.u8(byte(inst.Op))
			e.uvarint(uint64(inst.Bits))
			e.u8(byte(inst.Pred))
			e.str(inst.Name)
			e.uvarint(uint64(len(inst.Args)))
			for _, a := range inst.Args {
				if err := operand(a); err != nil {
					return err
				}
			}
			e.uvarint(uint64(len(inst.Incoming)))
			for _, in := range inst.Incoming {
				if err := operand(in.X); err != nil {
					return err
				}
				if err := block(in.Pred); err != nil {
					return err
				}
			}
			e.uvarint(uint64(len(inst.Targets)))
			for _, t := range inst.Targets {
				if err := block(t); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

type rawOperand struct {
	kind byte
	idx  int
	c    ir.Const
	sym  string
}

type rawInst struct {
	inst     *ir.Inst
	args     []rawOperand
	incoming []rawOperand
	preds    []int
	targets  []int
}

func decodeOperand(d *decoder) rawOperand {
	var op rawOperand
	op.kind = d.u8()
	switch op.kind {
	case operandInst:
		op.idx = int(d.uvarint())
	case operandConst:
		op.c.Bits = int(d.uvarint())
		op.c.V = d.uvarint()
	case operandSymbol:
		op.sym = d.str()
	default:
		d.fail(fmt.Errorf("unknown operand kind %d", op.kind))
	}
	return op
}

// decodeFunc reads a function in two steps: every block and instruction
// is allocated first, then operands and branch targets are linked, since
// phi edges may refer forward.
func decodeFunc(d *decoder) (*ir.Func, error) {
	f := &ir.Func{}
	f.Name = d.str()
	f.Linkage = ir.Linkage(d.u8())
	f.Visibility = ir.Visibility(d.u8())

	var raws []*rawInst
	nblocks := d.count()
	for bi := 0; bi < nblocks && d.err == nil; bi++ {
		b := f.NewBlock(d.str())
		ninsts := d.count()
		for ii := 0; ii < ninsts && d.err == nil; ii++ {
			inst := &ir.Inst{Block: b}
			inst.Op = ir.Op(d.u8())
			inst.Bits = int(d.uvarint())
			inst.Pred = ir.Pred(d.u8())
			inst.Name = d.str()
			raw := &rawInst{inst: inst}

			nargs := d.count()
			for i := 0; i < nargs && d.err == nil; i++ {
				raw.args = append(raw.args, decodeOperand(d))
			}
			ninc := d.count()
			for i := 0; i < ninc && d.err == nil; i++ {
				raw.incoming = append(raw.incoming, decodeOperand(d))
				raw.preds = append(raw.preds, int(d.uvarint()))
			}
			ntargets := d.count()
			for i := 0; i < ntargets && d.err == nil; i++ {
				raw.targets = append(raw.targets, int(d.uvarint()))
			}
			b.Insts = append(b.Insts, inst)
			raws = append(raws, raw)
		}
	}
	if d.err != nil {
		return nil, d.err
	}

	resolve := func(op rawOperand) (ir.Operand, error) {
		switch op.kind {
		case operandInst:
			if op.idx < 0 || op.idx >= len(raws) {
				return nil, fmt.Errorf("instruction index %d out of range", op.idx)
			}
			return raws[op.idx].inst, nil
		case operandConst:
			return op.c, nil
		default:
			return ir.SymbolAddr{Name: op.sym}, nil
		}
	}
	block := func(idx int) (*ir.Block, error) {
		if idx < 0 || idx >= len(f.Blocks) {
			return nil, fmt.Errorf("block index %d out of range", idx)
		}
		return f.Blocks[idx], nil
	}

	for _, raw := range raws {
		for _, a := range raw.args {
			op, err := resolve(a)
			if err != nil {
				return nil, err
			}
			raw.inst.Args = append(raw.inst.Args, op)
		}
		for i, in := range raw.incoming {
			op, err := resolve(in)
			if err != nil {
				return nil, err
			}
			pred, err := block(raw.preds[i])
			if err != nil {
				return nil, err
			}
			raw.inst.AddIncoming(op, pred)
		}
		for _, t := range raw.targets {
			b, err := block(t)
			if err != nil {
				return nil, err
			}
			raw.inst.Targets = append(raw.inst.Targets, b)
		}
	}
	return f, nil
}
