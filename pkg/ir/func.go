package ir

import "fmt"

// Op is an instruction opcode.
type Op uint8

const (
	OpLoad Op = iota + 1
	OpStore
	OpAdd
	OpSub
	OpMul
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLShr
	OpZExt
	OpICmp
	OpPhi
	OpBr
	OpCondBr
	OpRet
)

var opNames = map[Op]string{
	OpLoad:   "load",
	OpStore:  "store",
	OpAdd:    "add",
	OpSub:    "sub",
	OpMul:    "mul",
	OpAnd:    "and",
	OpOr:     "or",
	OpXor:    "xor",
	OpShl:    "shl",
	OpLShr:   "lshr",
	OpZExt:   "zext",
	OpICmp:   "icmp",
	OpPhi:    "phi",
	OpBr:     "br",
	OpCondBr: "br",
	OpRet:    "ret",
}

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// IsBinary reports whether op is a two-operand integer arithmetic op.
func (op Op) IsBinary() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpAnd, OpOr, OpXor, OpShl, OpLShr:
		return true
	}
	return false
}

// IsTerminator reports whether op ends a block.
func (op Op) IsTerminator() bool {
	return op == OpBr || op == OpCondBr || op == OpRet
}

// Pred is an integer comparison predicate.
type Pred uint8

const (
	PredEQ Pred = iota + 1
	PredNE
	PredULT
	PredULE
	PredUGT
	PredUGE
	PredSLT
	PredSLE
	PredSGT
	PredSGE
)

var predNames = map[Pred]string{
	PredEQ: "eq", PredNE: "ne",
	PredULT: "ult", PredULE: "ule", PredUGT: "ugt", PredUGE: "uge",
	PredSLT: "slt", PredSLE: "sle", PredSGT: "sgt", PredSGE: "sge",
}

func (p Pred) String() string {
	if s, ok := predNames[p]; ok {
		return s
	}
	return fmt.Sprintf("pred(%d)", uint8(p))
}

// Operand is an instruction input: *Inst, Const or SymbolAddr.
type Operand interface {
	isOperand()
}

// Const is an integer immediate.
type Const struct {
	Bits int
	V    uint64
}

// SymbolAddr is the link-time address of a named object or boundary marker.
type SymbolAddr struct {
	Name string
}

func (Const) isOperand()      {}
func (SymbolAddr) isOperand() {}
func (*Inst) isOperand()      {}

// Incoming is one phi edge.
type Incoming struct {
	X    Operand
	Pred *Block
}

// Inst is a single instruction. Bits is the result width; for load and
// store it is the access width and for icmp the operand width.
type Inst struct {
	Name     string
	Op       Op
	Bits     int
	Pred     Pred
	Args     []Operand
	Incoming []Incoming
	Targets  []*Block
	Block    *Block
}

// SetName names the instruction's result and returns i.
func (i *Inst) SetName(name string) *Inst {
	i.Name = name
	return i
}

// AddIncoming appends a phi edge.
func (i *Inst) AddIncoming(x Operand, pred *Block) {
	i.Incoming = append(i.Incoming, Incoming{X: x, Pred: pred})
}

// Block is a labelled straight-line instruction sequence.
type Block struct {
	Name  string
	Insts []*Inst
	Func  *Func
}

// Func is a no-argument void routine.
type Func struct {
	Name       string
	Linkage    Linkage
	Visibility Visibility
	Blocks     []*Block
}

// NewFunc creates a function with no blocks.
func NewFunc(name string, linkage Linkage) *Func {
	return &Func{Name: name, Linkage: linkage}
}

// NewBlock appends a new empty block.
func (f *Func) NewBlock(name string) *Block {
	b := &Block{Name: name, Func: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// Entry returns the first block, or nil.
func (f *Func) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// Insts returns every instruction in block order.
func (f *Func) Insts() []*Inst {
	var out []*Inst
	for _, b := range f.Blocks {
		out = append(out, b.Insts...)
	}
	return out
}

// Symbols returns the distinct symbol names referenced by f, in first-use order.
func (f *Func) Symbols() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(op Operand) {
		if s, ok := op.(SymbolAddr); ok && !seen[s.Name] {
			seen[s.Name] = true
			out = append(out, s.Name)
		}
	}
	for _, inst := range f.Insts() {
		for _, a := range inst.Args {
			add(a)
		}
		for _, in := range inst.Incoming {
			add(in.X)
		}
	}
	return out
}

// RenameSymbols rewrites SymbolAddr operands through rename. Names not in
// the map are left alone.
func (f *Func) RenameSymbols(rename map[string]string) {
	fix := func(op Operand) Operand {
		if s, ok := op.(SymbolAddr); ok {
			if to, ok := rename[s.Name]; ok {
				return SymbolAddr{Name: to}
			}
		}
		return op
	}
	for _, inst := range f.Insts() {
		for i, a := range inst.Args {
			inst.Args[i] = fix(a)
		}
		for i, in := range inst.Incoming {
			inst.Incoming[i].X = fix(in.X)
		}
	}
}

// ReplaceAllUses points every use of old at repl.
func (f *Func) ReplaceAllUses(old *Inst, repl Operand) {
	for _, inst := range f.Insts() {
		for i, a := range inst.Args {
			if a == Operand(old) {
				inst.Args[i] = repl
			}
		}
		for i, in := range inst.Incoming {
			if in.X == Operand(old) {
				inst.Incoming[i].X = repl
			}
		}
	}
}

// HasUses reports whether any instruction in f reads i.
func (f *Func) HasUses(i *Inst) bool {
	for _, inst := range f.Insts() {
		for _, a := range inst.Args {
			if a == Operand(i) {
				return true
			}
		}
		for _, in := range inst.Incoming {
			if in.X == Operand(i) {
				return true
			}
		}
	}
	return false
}

func (b *Block) append(i *Inst) *Inst {
	i.Block = b
	b.Insts = append(b.Insts, i)
	return i
}

// Terminator returns the block's last instruction if it ends the block.
func (b *Block) Terminator() *Inst {
	if len(b.Insts) == 0 {
		return nil
	}
	last := b.Insts[len(b.Insts)-1]
	if !last.Op.IsTerminator() {
		return nil
	}
	return last
}

// InsertBefore places insts immediately before at. It panics if at is not
// in b, which indicates a builder bug.
func (b *Block) InsertBefore(at *Inst, insts ...*Inst) {
	idx := b.indexOf(at)
	if idx < 0 {
		panic(fmt.Sprintf("ir: instruction not in block %s", b.Name))
	}
	for _, i := range insts {
		i.Block = b
	}
	out := make([]*Inst, 0, len(b.Insts)+len(insts))
	out = append(out, b.Insts[:idx]...)
	out = append(out, insts...)
	out = append(out, b.Insts[idx:]...)
	b.Insts = out
}

// Remove deletes i from b. It reports whether i was found.
func (b *Block) Remove(i *Inst) bool {
	idx := b.indexOf(i)
	if idx < 0 {
		return false
	}
	b.Insts = append(b.Insts[:idx], b.Insts[idx+1:]...)
	i.Block = nil
	return true
}

func (b *Block) indexOf(i *Inst) int {
	for idx, inst := range b.Insts {
		if inst == i {
			return idx
		}
	}
	return -1
}

// NewBinaryInst builds a detached binary instruction.
func NewBinaryInst(op Op, bits int, x, y Operand) *Inst {
	return &Inst{Op: op, Bits: bits, Args: []Operand{x, y}}
}

// NewLoad reads bits from addr.
func (b *Block) NewLoad(bits int, addr Operand) *Inst {
	return b.append(&Inst{Op: OpLoad, Bits: bits, Args: []Operand{addr}})
}

// NewStore writes the low bits of val to addr.
func (b *Block) NewStore(bits int, val, addr Operand) *Inst {
	return b.append(&Inst{Op: OpStore, Bits: bits, Args: []Operand{val, addr}})
}

// NewBinary appends a binary arithmetic instruction.
func (b *Block) NewBinary(op Op, bits int, x, y Operand) *Inst {
	return b.append(NewBinaryInst(op, bits, x, y))
}

func (b *Block) NewAdd(bits int, x, y Operand) *Inst { return b.NewBinary(OpAdd, bits, x, y) }
func (b *Block) NewSub(bits int, x, y Operand) *Inst { return b.NewBinary(OpSub, bits, x, y) }
func (b *Block) NewXor(bits int, x, y Operand) *Inst { return b.NewBinary(OpXor, bits, x, y) }

// NewZExt widens x to bits.
func (b *Block) NewZExt(bits int, x Operand) *Inst {
	return b.append(&Inst{Op: OpZExt, Bits: bits, Args: []Operand{x}})
}

// NewICmp compares two bits-wide operands.
func (b *Block) NewICmp(pred Pred, bits int, x, y Operand) *Inst {
	return b.append(&Inst{Op: OpICmp, Bits: bits, Pred: pred, Args: []Operand{x, y}})
}

// NewPhi appends a phi node. Edges can be added later with AddIncoming.
func (b *Block) NewPhi(bits int, incs ...Incoming) *Inst {
	return b.append(&Inst{Op: OpPhi, Bits: bits, Incoming: incs})
}

// NewBr appends an unconditional branch.
func (b *Block) NewBr(target *Block) *Inst {
	return b.append(&Inst{Op: OpBr, Targets: []*Block{target}})
}

// NewCondBr branches to t when cond is non-zero, else to f.
func (b *Block) NewCondBr(cond Operand, t, f *Block) *Inst {
	return b.append(&Inst{Op: OpCondBr, Args: []Operand{cond}, Targets: []*Block{t, f}})
}

// NewRet returns from the function.
func (b *Block) NewRet() *Inst {
	return b.append(&Inst{Op: OpRet})
}

// Clone returns a deep copy of f. Operands that refer to instructions
// outside f are carried over unchanged.
func (f *Func) Clone() *Func {
	out := &Func{Name: f.Name, Linkage: f.Linkage, Visibility: f.Visibility}
	blocks := make(map[*Block]*Block, len(f.Blocks))
	insts := make(map[*Inst]*Inst)
	for _, b := range f.Blocks {
		nb := out.NewBlock(b.Name)
		blocks[b] = nb
		for _, i := range b.Insts {
			ni := &Inst{Name: i.Name, Op: i.Op, Bits: i.Bits, Pred: i.Pred, Block: nb}
			insts[i] = ni
			nb.Insts = append(nb.Insts, ni)
		}
	}

	operand := func(op Operand) Operand {
		if i, ok := op.(*Inst); ok {
			if ni, ok := insts[i]; ok {
				return ni
			}
		}
		return op
	}
	block := func(b *Block) *Block {
		if nb, ok := blocks[b]; ok {
			return nb
		}
		return b
	}
	for _, b := range f.Blocks {
		for _, i := range b.Insts {
			ni := insts[i]
			for _, a := range i.Args {
				ni.Args = append(ni.Args, operand(a))
			}
			for _, in := range i.Incoming {
				ni.AddIncoming(operand(in.X), block(in.Pred))
			}
			for _, t := range i.Targets {
				ni.Targets = append(ni.Targets, block(t))
			}
		}
	}
	return out
}
