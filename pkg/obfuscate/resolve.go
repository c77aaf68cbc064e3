package obfuscate

import (
	"github.com/apex/log"
	"github.com/odvcencio/cocoons/pkg/ir"
)

const (
	// DefaultRecordField is the wrapper field that points at the character
	// data in a tagged constant-string record { isa, flags, chars, length }.
	DefaultRecordField = 2

	// DefaultMaxDepth bounds how many wrapper hops are followed.
	DefaultMaxDepth = 32
)

// Resolver walks wrapper objects down to the leaf byte buffer they denote.
// It never mutates the unit.
type Resolver struct {
	// RecordField is the field index followed through record wrappers.
	RecordField int
	// MaxDepth bounds the number of hops; zero means DefaultMaxDepth.
	MaxDepth int
}

// NewResolver returns a Resolver with default settings.
func NewResolver() *Resolver {
	return &Resolver{RecordField: DefaultRecordField, MaxDepth: DefaultMaxDepth}
}

// Resolve returns the leaf byte buffer reachable from obj, or false when
// obj is not a supported shape. Unsupported shapes are not errors.
func (r *Resolver) Resolve(obj *ir.Object) (*ir.Object, bool) {
	maxDepth := r.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return r.resolveObject(obj, make(map[*ir.Object]bool), maxDepth)
}

func (r *Resolver) resolveObject(obj *ir.Object, visiting map[*ir.Object]bool, depth int) (*ir.Object, bool) {
	if obj == nil || obj.IsDeclaration() {
		return nil, false
	}
	if depth <= 0 {
		log.WithField("object", obj.Name).Debug("resolve: depth limit reached")
		return nil, false
	}
	if visiting[obj] {
		log.WithField("object", obj.Name).Debug("resolve: cycle")
		return nil, false
	}
	visiting[obj] = true
	defer delete(visiting, obj)

	switch init := ir.StripCasts(obj.Init).(type) {
	case *ir.DataArray:
		return r.resolveLeaf(obj, init)
	case *ir.Record:
		return r.resolveRecord(obj, init, visiting, depth)
	case *ir.Ref:
		log.WithField("object", obj.Name).Debug("resolve: alias")
		return r.resolveObject(init.Target, visiting, depth-1)
	case *ir.AddrExpr:
		return r.resolveAddr(init, visiting, depth)
	default:
		return nil, false
	}
}

func (r *Resolver) resolveLeaf(obj *ir.Object, data *ir.DataArray) (*ir.Object, bool) {
	if data.ElemBits != 8 {
		log.WithFields(log.Fields{"object": obj.Name, "bits": data.ElemBits}).Debug("resolve: not a byte array")
		return nil, false
	}
	log.WithField("object", obj.Name).Debug("resolve: byte array")
	return obj, true
}

func (r *Resolver) resolveRecord(obj *ir.Object, rec *ir.Record, visiting map[*ir.Object]bool, depth int) (*ir.Object, bool) {
	if r.RecordField < 0 || r.RecordField >= len(rec.Fields) {
		return nil, false
	}
	log.WithFields(log.Fields{"object": obj.Name, "field": r.RecordField}).Debug("resolve: record wrapper")
	v := ir.StripCasts(rec.Fields[r.RecordField])
	if addr, ok := v.(*ir.AddrExpr); ok {
		v = ir.StripCasts(addr.Base)
	}
	ref, ok := v.(*ir.Ref)
	if !ok {
		return nil, false
	}
	return r.resolveObject(ref.Target, visiting, depth-1)
}

func (r *Resolver) resolveAddr(addr *ir.AddrExpr, visiting map[*ir.Object]bool, depth int) (*ir.Object, bool) {
	ref, ok := ir.StripCasts(addr.Base).(*ir.Ref)
	if !ok {
		return nil, false
	}
	return r.resolveObject(ref.Target, visiting, depth-1)
}
