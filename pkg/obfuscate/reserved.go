package obfuscate

import (
	"fmt"

	"github.com/odvcencio/cocoons/pkg/ir"
)

// checkReserved reports the first type or symbol in u that carries a name
// this package emits but does not have the shape a previous run would have
// given it. A decrypter built over such a symbol would never restore the
// unit's strings.
func checkReserved(u *ir.Unit) error {
	if ty := u.Type(MetaTypeName); ty != nil && !ty.Equal(MetaType()) {
		return fmt.Errorf("type %s has fields %v, want %v", MetaTypeName, ty.Fields, MetaType().Fields)
	}
	if u.Func(GuardName) != nil {
		return fmt.Errorf("%s is defined as a function", GuardName)
	}
	if u.Object(DecrypterName) != nil {
		return fmt.Errorf("%s is defined as an object", DecrypterName)
	}

	guard := u.Object(GuardName)
	if guard != nil && !isGuard(guard) {
		return fmt.Errorf("object %s is not a writable zero i32 with hidden linkonce_odr linkage", GuardName)
	}
	if fn := u.Func(DecrypterName); fn != nil {
		if fn.Linkage != ir.LinkageLinkOnceODR || fn.Visibility != ir.VisibilityHidden {
			return fmt.Errorf("function %s has %s %s linkage", DecrypterName, fn.Linkage, fn.Visibility)
		}
		if !isStartup(u, fn) {
			return fmt.Errorf("function %s is not a startup routine", DecrypterName)
		}
		if guard == nil {
			return fmt.Errorf("function %s exists without %s", DecrypterName, GuardName)
		}
	}

	for _, name := range []string{ir.SectionStartSymbol(MetaSection), ir.SectionEndSymbol(MetaSection)} {
		if o := u.Object(name); o != nil && !o.IsDeclaration() {
			return fmt.Errorf("section marker %s is defined", name)
		}
	}
	return nil
}

func isGuard(o *ir.Object) bool {
	if o.Linkage != ir.LinkageLinkOnceODR || o.Visibility != ir.VisibilityHidden || o.Constant || o.Section != "" {
		return false
	}
	v, ok := o.Init.(*ir.Int)
	return ok && v.Bits == 32 && v.V == 0
}

func isStartup(u *ir.Unit, fn *ir.Func) bool {
	for _, c := range u.Ctors {
		if c.Func == fn && c.Priority == DecrypterPriority {
			return true
		}
	}
	return false
}
