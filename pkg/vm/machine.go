package vm

import (
	"errors"
	"fmt"

	"github.com/odvcencio/cocoons/pkg/ir"
)

// DefaultMaxSteps bounds the instructions a single call may execute.
const DefaultMaxSteps = 1 << 24

// ErrStepLimit is returned when a call exceeds its step budget.
var ErrStepLimit = errors.New("step limit exceeded")

// Machine interprets functions against a memory and a symbol table.
type Machine struct {
	Mem      *Memory
	Symbols  map[string]uint64
	MaxSteps int
}

type frame struct {
	regs map[*ir.Inst]uint64
}

// Call runs f to completion.
func (m *Machine) Call(f *ir.Func) error {
	if err := m.call(f); err != nil {
		return fmt.Errorf("call %s: %w", f.Name, err)
	}
	return nil
}

func (m *Machine) call(f *ir.Func) error {
	b := f.Entry()
	if b == nil {
		return fmt.Errorf("function has no body")
	}
	limit := m.MaxSteps
	if limit <= 0 {
		limit = DefaultMaxSteps
	}
	fr := &frame{regs: make(map[*ir.Inst]uint64)}

	var prev *ir.Block
	steps := 0
	for {
		next, done, err := m.runBlock(fr, b, prev, &steps, limit)
		if err != nil {
			return fmt.Errorf("block %s: %w", b.Name, err)
		}
		if done {
			return nil
		}
		prev, b = b, next
	}
}

// runBlock executes b and returns the successor. Leading phis read their
// incoming values before any of them is assigned.
func (m *Machine) runBlock(fr *frame, b, prev *ir.Block, steps *int, limit int) (*ir.Block, bool, error) {
	i := 0
	type pending struct {
		inst *ir.Inst
		v    uint64
	}
	var phis []pending
	for ; i < len(b.Insts) && b.Insts[i].Op == ir.OpPhi; i++ {
		phi := b.Insts[i]
		v, err := m.incoming(fr, phi, prev)
		if err != nil {
			return nil, false, err
		}
		phis = append(phis, pending{inst: phi, v: v})
	}
	for _, p := range phis {
		fr.regs[p.inst] = p.v
	}

	for ; i < len(b.Insts); i++ {
		*steps++
		if *steps > limit {
			return nil, false, ErrStepLimit
		}
		inst := b.Insts[i]
		switch inst.Op {
		case ir.OpRet:
			return nil, true, nil
		case ir.OpBr:
			if len(inst.Targets) != 1 {
				return nil, false, fmt.Errorf("br needs one target")
			}
			return inst.Targets[0], false, nil
		case ir.OpCondBr:
			if len(inst.Targets) != 2 || len(inst.Args) != 1 {
				return nil, false, fmt.Errorf("conditional br needs a condition and two targets")
			}
			c, err := m.value(fr, inst.Args[0])
			if err != nil {
				return nil, false, err
			}
			if c&1 != 0 {
				return inst.Targets[0], false, nil
			}
			return inst.Targets[1], false, nil
		case ir.OpPhi:
			return nil, false, fmt.Errorf("phi after non-phi instruction")
		default:
			v, err := m.exec(fr, inst)
			if err != nil {
				return nil, false, fmt.Errorf("%s: %w", inst.Op, err)
			}
			fr.regs[inst] = v
		}
	}
	return nil, false, fmt.Errorf("missing terminator")
}

func (m *Machine) incoming(fr *frame, phi *ir.Inst, prev *ir.Block) (uint64, error) {
	for _, in := range phi.Incoming {
		if in.Pred == prev {
			v, err := m.value(fr, in.X)
			if err != nil {
				return 0, err
			}
			return v & mask(phi.Bits), nil
		}
	}
	name := "<entry>"
	if prev != nil {
		name = prev.Name
	}
	return 0, fmt.Errorf("phi has no edge from %s", name)
}

func (m *Machine) value(fr *frame, op ir.Operand) (uint64, error) {
	switch op := op.(type) {
	case *ir.Inst:
		v, ok := fr.regs[op]
		if !ok {
			return 0, fmt.Errorf("use of %s before definition", instName(op))
		}
		return v, nil
	case ir.Const:
		return op.V & mask(op.Bits), nil
	case ir.SymbolAddr:
		addr, ok := m.Symbols[op.Name]
		if !ok {
			return 0, fmt.Errorf("unresolved symbol %s", op.Name)
		}
		return addr, nil
	default:
		return 0, fmt.Errorf("unsupported operand %T", op)
	}
}

func (m *Machine) args(fr *frame, inst *ir.Inst, n int) ([]uint64, error) {
	if len(inst.Args) != n {
		return nil, fmt.Errorf("want %d operands, got %d", n, len(inst.Args))
	}
	out := make([]uint64, n)
	for i, a := range inst.Args {
		v, err := m.value(fr, a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *Machine) exec(fr *frame, inst *ir.Inst) (uint64, error) {
	switch {
	case inst.Op == ir.OpLoad:
		a, err := m.args(fr, inst, 1)
		if err != nil {
			return 0, err
		}
		return m.Mem.Load(a[0], byteWidth(inst.Bits))
	case inst.Op == ir.OpStore:
		a, err := m.args(fr, inst, 2)
		if err != nil {
			return 0, err
		}
		return 0, m.Mem.Store(a[1], byteWidth(inst.Bits), a[0])
	case inst.Op == ir.OpZExt:
		a, err := m.args(fr, inst, 1)
		if err != nil {
			return 0, err
		}
		return a[0] & mask(inst.Bits), nil
	case inst.Op == ir.OpICmp:
		a, err := m.args(fr, inst, 2)
		if err != nil {
			return 0, err
		}
		ok, err := compare(inst.Pred, inst.Bits, a[0], a[1])
		if err != nil {
			return 0, err
		}
		if ok {
			return 1, nil
		}
		return 0, nil
	case inst.Op.IsBinary():
		a, err := m.args(fr, inst, 2)
		if err != nil {
			return 0, err
		}
		return binary(inst.Op, inst.Bits, a[0], a[1]), nil
	default:
		return 0, fmt.Errorf("unsupported instruction")
	}
}

func binary(op ir.Op, bits int, x, y uint64) uint64 {
	x, y = x&mask(bits), y&mask(bits)
	var v uint64
	switch op {
	case ir.OpAdd:
		v = x + y
	case ir.OpSub:
		v = x - y
	case ir.OpMul:
		v = x * y
	case ir.OpAnd:
		v = x & y
	case ir.OpOr:
		v = x | y
	case ir.OpXor:
		v = x ^ y
	case ir.OpShl:
		if y < uint64(bits) {
			v = x << y
		}
	case ir.OpLShr:
		if y < uint64(bits) {
			v = x >> y
		}
	}
	return v & mask(bits)
}

func compare(p ir.Pred, bits int, x, y uint64) (bool, error) {
	x, y = x&mask(bits), y&mask(bits)
	sx, sy := signExtend(x, bits), signExtend(y, bits)
	switch p {
	case ir.PredEQ:
		return x == y, nil
	case ir.PredNE:
		return x != y, nil
	case ir.PredULT:
		return x < y, nil
	case ir.PredULE:
		return x <= y, nil
	case ir.PredUGT:
		return x > y, nil
	case ir.PredUGE:
		return x >= y, nil
	case ir.PredSLT:
		return sx < sy, nil
	case ir.PredSLE:
		return sx <= sy, nil
	case ir.PredSGT:
		return sx > sy, nil
	case ir.PredSGE:
		return sx >= sy, nil
	default:
		return false, fmt.Errorf("unknown predicate %s", p)
	}
}

func mask(bits int) uint64 {
	if bits <= 0 || bits >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(bits) - 1
}

func signExtend(v uint64, bits int) int64 {
	if bits <= 0 || bits >= 64 {
		return int64(v)
	}
	shift := uint(64 - bits)
	return int64(v<<shift) >> shift
}

func byteWidth(bits int) int {
	return (bits + 7) / 8
}

func instName(i *ir.Inst) string {
	if i.Name != "" {
		return "%" + i.Name
	}
	return "unnamed " + i.Op.String()
}
