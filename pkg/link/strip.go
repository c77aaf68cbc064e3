package link

import (
	"fmt"

	"github.com/odvcencio/cocoons/pkg/ir"
)

// reachable returns every symbol reachable from roots by following refs.
// Nil roots are ignored.
func reachable(roots []*symbol, refs func(*symbol) ([]*symbol, error)) (map[*symbol]struct{}, error) {
	out := make(map[*symbol]struct{}, len(roots))
	if len(roots) == 0 {
		return out, nil
	}

	stack := make([]*symbol, 0, len(roots))
	stack = append(stack, roots...)
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if s == nil {
			continue
		}
		if _, ok := out[s]; ok {
			continue
		}
		out[s] = struct{}{}

		next, err := refs(s)
		if err != nil {
			return nil, fmt.Errorf("reachable set %s: %w", s.name, err)
		}
		stack = append(stack, next...)
	}
	return out, nil
}

// roots are the symbols a dead-strip must keep: every non-local
// definition, every keep-alive object and every startup routine.
func (l *linker) roots() ([]*symbol, error) {
	var out []*symbol
	for _, u := range l.units {
		for _, o := range u.Objects {
			if !o.IsDeclaration() && !o.Linkage.Local() {
				out = append(out, l.objSyms[o])
			}
		}
		for _, f := range u.Funcs {
			if !f.Linkage.Local() {
				out = append(out, l.funcSyms[f])
			}
		}
		for _, o := range u.Used {
			sym, ok := l.objSyms[o]
			if !ok {
				return nil, fmt.Errorf("unit %s: used object %s is not part of the unit", u.Name, o.Name)
			}
			out = append(out, sym)
		}
		for _, c := range u.Ctors {
			sym, ok := l.funcSyms[c.Func]
			if !ok {
				return nil, fmt.Errorf("unit %s: startup routine %s is not part of the unit", u.Name, funcName(c.Func))
			}
			out = append(out, sym)
		}
	}
	return out, nil
}

// refs lists the symbols s depends on.
func (l *linker) refs(s *symbol) ([]*symbol, error) {
	switch {
	case s.obj != nil:
		targets := ir.Refs(nil, s.obj.Init)
		out := make([]*symbol, 0, len(targets))
		for _, t := range targets {
			sym, ok := l.objSyms[t]
			if !ok {
				return nil, fmt.Errorf("reference to object %s outside unit %s", t.Name, s.unit.Name)
			}
			out = append(out, sym)
		}
		return out, nil
	case s.fn != nil:
		names := s.fn.Symbols()
		out := make([]*symbol, 0, len(names))
		for _, name := range names {
			sym, err := l.resolve(s.unit, name)
			if err != nil {
				return nil, err
			}
			out = append(out, sym)
		}
		return out, nil
	default:
		return nil, nil
	}
}
