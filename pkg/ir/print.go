package ir

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// String renders u as text IR.
func (u *Unit) String() string {
	var buf bytes.Buffer
	_ = u.Print(&buf)
	return buf.String()
}

// Print writes the text form of u to w.
func (u *Unit) Print(w io.Writer) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "; unit %s (ptr %d)\n", u.Name, u.PointerSize)

	types := u.Types()
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
	for _, rt := range types {
		fields := make([]string, len(rt.Fields))
		for i, f := range rt.Fields {
			fields[i] = f.String()
		}
		fmt.Fprintf(&buf, "%%%s = type { %s }\n", rt.Name, strings.Join(fields, ", "))
	}
	if len(types) > 0 {
		buf.WriteByte('\n')
	}

	for _, o := range u.Objects {
		buf.WriteString(FormatObject(o))
		buf.WriteByte('\n')
	}
	for _, a := range u.Annotations {
		if a.Target == nil {
			continue
		}
		fmt.Fprintf(&buf, "; annotate @%s %q\n", a.Target.Name, a.Tag)
	}
	if len(u.Used) > 0 {
		refs := make([]string, len(u.Used))
		for i, o := range u.Used {
			refs[i] = "ptr @" + o.Name
		}
		fmt.Fprintf(&buf, "@llvm.used = [%s]\n", strings.Join(refs, ", "))
	}
	if len(u.Ctors) > 0 {
		entries := make([]string, len(u.Ctors))
		for i, c := range u.Ctors {
			entries[i] = fmt.Sprintf("{ i32 %d, ptr @%s }", c.Priority, c.Func.Name)
		}
		fmt.Fprintf(&buf, "@llvm.global_ctors = [%s]\n", strings.Join(entries, ", "))
	}

	for _, f := range u.Funcs {
		buf.WriteByte('\n')
		buf.WriteString(f.String())
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// FormatObject renders one object definition or declaration.
func FormatObject(o *Object) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "@%s = ", o.Name)
	if o.IsDeclaration() {
		sb.WriteString("external global")
		return sb.String()
	}
	if o.Linkage != LinkageExternal {
		sb.WriteString(o.Linkage.String())
		sb.WriteByte(' ')
	}
	if o.Visibility == VisibilityHidden {
		sb.WriteString("hidden ")
	}
	if o.Constant {
		sb.WriteString("constant ")
	} else {
		sb.WriteString("global ")
	}
	sb.WriteString(FormatValue(o.Init))
	if o.Section != "" {
		fmt.Fprintf(&sb, ", section %q", o.Section)
	}
	if o.Align > 0 {
		fmt.Fprintf(&sb, ", align %d", o.Align)
	}
	return sb.String()
}

// FormatValue renders a constant with its type prefix.
func FormatValue(v Value) string {
	switch v := v.(type) {
	case *DataArray:
		if v.ElemBits == 8 {
			return fmt.Sprintf("[%d x i8] c\"%s\"", len(v.Data), escapeBytes(v.Data))
		}
		elems := make([]string, 0, v.Len())
		width := v.ElemBytes()
		for i := 0; i+width <= len(v.Data); i += width {
			var x uint64
			for j := width - 1; j >= 0; j-- {
				x = x<<8 | uint64(v.Data[i+j])
			}
			elems = append(elems, fmt.Sprintf("i%d %d", v.ElemBits, x))
		}
		return fmt.Sprintf("[%d x i%d] [%s]", v.Len(), v.ElemBits, strings.Join(elems, ", "))
	case *Record:
		fields := make([]string, len(v.Fields))
		for i, f := range v.Fields {
			fields[i] = FormatValue(f)
		}
		prefix := ""
		if v.Type != nil {
			prefix = "%" + v.Type.Name + " "
		}
		return fmt.Sprintf("%s{ %s }", prefix, strings.Join(fields, ", "))
	case *Ref:
		if v.Target == nil {
			return "ptr null"
		}
		return "ptr @" + v.Target.Name
	case *Cast:
		return fmt.Sprintf("ptr bitcast (%s)", FormatValue(v.X))
	case *AddrExpr:
		return fmt.Sprintf("ptr getelementptr (%s, i64 %d)", FormatValue(v.Base), v.Offset)
	case *Int:
		return fmt.Sprintf("i%d %d", v.Bits, v.V)
	case *Null:
		return "ptr null"
	case nil:
		return "<none>"
	default:
		return fmt.Sprintf("<%T>", v)
	}
}

func escapeBytes(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c >= 0x20 && c < 0x7f && c != '"' && c != '\\' {
			sb.WriteByte(c)
			continue
		}
		fmt.Fprintf(&sb, "\\%02X", c)
	}
	return sb.String()
}

// String renders f as text IR. Unnamed results are numbered in order.
func (f *Func) String() string {
	names := make(map[*Inst]string)
	next := 0
	for _, inst := range f.Insts() {
		if !producesValue(inst.Op) {
			continue
		}
		if inst.Name != "" {
			names[inst] = inst.Name
			continue
		}
		names[inst] = strconv.Itoa(next)
		next++
	}
	operand := func(op Operand) string {
		switch op := op.(type) {
		case *Inst:
			if n, ok := names[op]; ok {
				return "%" + n
			}
			return "%<detached>"
		case Const:
			return strconv.FormatUint(op.V, 10)
		case SymbolAddr:
			return "@" + op.Name
		default:
			return "<?>"
		}
	}

	var sb strings.Builder
	sb.WriteString("define ")
	if f.Linkage != LinkageExternal {
		sb.WriteString(f.Linkage.String())
		sb.WriteByte(' ')
	}
	if f.Visibility == VisibilityHidden {
		sb.WriteString("hidden ")
	}
	fmt.Fprintf(&sb, "void @%s() {\n", f.Name)
	for _, b := range f.Blocks {
		fmt.Fprintf(&sb, "%s:\n", b.Name)
		for _, inst := range b.Insts {
			sb.WriteString("  ")
			if n, ok := names[inst]; ok {
				fmt.Fprintf(&sb, "%%%s = ", n)
			}
			switch {
			case inst.Op == OpLoad:
				fmt.Fprintf(&sb, "load i%d, ptr %s", inst.Bits, operand(inst.Args[0]))
			case inst.Op == OpStore:
				fmt.Fprintf(&sb, "store i%d %s, ptr %s", inst.Bits, operand(inst.Args[0]), operand(inst.Args[1]))
			case inst.Op.IsBinary():
				fmt.Fprintf(&sb, "%s i%d %s, %s", inst.Op, inst.Bits, operand(inst.Args[0]), operand(inst.Args[1]))
			case inst.Op == OpZExt:
				fmt.Fprintf(&sb, "zext %s to i%d", operand(inst.Args[0]), inst.Bits)
			case inst.Op == OpICmp:
				fmt.Fprintf(&sb, "icmp %s i%d %s, %s", inst.Pred, inst.Bits, operand(inst.Args[0]), operand(inst.Args[1]))
			case inst.Op == OpPhi:
				edges := make([]string, len(inst.Incoming))
				for i, in := range inst.Incoming {
					edges[i] = fmt.Sprintf("[ %s, %%%s ]", operand(in.X), in.Pred.Name)
				}
				fmt.Fprintf(&sb, "phi i%d %s", inst.Bits, strings.Join(edges, ", "))
			case inst.Op == OpBr:
				fmt.Fprintf(&sb, "br label %%%s", inst.Targets[0].Name)
			case inst.Op == OpCondBr:
				fmt.Fprintf(&sb, "br i1 %s, label %%%s, label %%%s", operand(inst.Args[0]), inst.Targets[0].Name, inst.Targets[1].Name)
			case inst.Op == OpRet:
				sb.WriteString("ret void")
			default:
				sb.WriteString(inst.Op.String())
			}
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

func producesValue(op Op) bool {
	switch op {
	case OpStore, OpBr, OpCondBr, OpRet:
		return false
	}
	return true
}
