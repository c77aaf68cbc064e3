package obfuscate

import (
	"fmt"
	"strings"

	"github.com/apex/log"
	"github.com/odvcencio/cocoons/pkg/ir"
)

// Options configures a Pass.
type Options struct {
	// TagPrefix selects annotations; empty means DefaultTagPrefix.
	TagPrefix string
	// RecordField and MaxDepth configure the Resolver.
	RecordField int
	MaxDepth    int
	// Keys supplies per-object keys; nil means NewRandomKeys.
	Keys KeySource
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		TagPrefix:   DefaultTagPrefix,
		RecordField: DefaultRecordField,
		MaxDepth:    DefaultMaxDepth,
	}
}

// Result summarizes one run over a unit.
type Result struct {
	// Candidates counts annotations whose tag matched the prefix.
	Candidates int
	// Targets are the distinct resolved byte buffers, in first-seen order.
	Targets []*ir.Object
	// Records are the metadata objects emitted by this run.
	Records []*ir.Object
	// Decrypter is the unit's decrypter, nil when none was synthesized.
	Decrypter *ir.Func
}

// Changed reports whether the run modified the unit.
func (r *Result) Changed() bool {
	return len(r.Records) > 0
}

// Pass drives discovery, encryption, metadata emission and decrypter
// synthesis for one unit at a time.
type Pass struct {
	prefix   string
	keys     KeySource
	resolver *Resolver
	engine   Engine
	emitter  Emitter
	synth    Synthesizer
}

// New builds a Pass from opts.
func New(opts Options) *Pass {
	if opts.TagPrefix == "" {
		opts.TagPrefix = DefaultTagPrefix
	}
	if opts.Keys == nil {
		opts.Keys = NewRandomKeys()
	}
	return &Pass{
		prefix:   opts.TagPrefix,
		keys:     opts.Keys,
		resolver: &Resolver{RecordField: opts.RecordField, MaxDepth: opts.MaxDepth},
	}
}

// Run obfuscates every tagged string in u. Objects that cannot be
// resolved or were already obfuscated are skipped. A unit that already
// holds a foreign symbol under one of the reserved names is left
// unchanged. The only error is a failing key source.
func (p *Pass) Run(u *ir.Unit) (*Result, error) {
	res := &Result{}
	seen := make(map[*ir.Object]bool)

	for _, a := range u.Annotations {
		if a.Target == nil || !strings.HasPrefix(a.Tag, p.prefix) {
			continue
		}
		res.Candidates++
		leaf, ok := p.resolver.Resolve(a.Target)
		if !ok {
			log.WithFields(log.Fields{"unit": u.Name, "object": a.Target.Name}).Debug("pass: unresolvable candidate")
			continue
		}
		if seen[leaf] {
			continue
		}
		seen[leaf] = true
		res.Targets = append(res.Targets, leaf)
	}

	if len(res.Targets) == 0 {
		log.WithField("unit", u.Name).Debug("pass: nothing to obfuscate")
		return res, nil
	}

	if err := checkReserved(u); err != nil {
		log.WithError(err).WithField("unit", u.Name).Warn("pass: reserved name in use, unit left unchanged")
		return res, nil
	}

	for _, target := range res.Targets {
		if !p.engine.Eligible(target) {
			continue
		}
		data := target.Init.(*ir.DataArray)
		length := uint32(data.Len() * data.ElemBytes())
		key, err := p.keys.Key()
		if err != nil {
			return nil, fmt.Errorf("obfuscate %s: %w", u.Name, err)
		}
		if !p.engine.Encrypt(target, key) {
			continue
		}
		res.Records = append(res.Records, p.emitter.Emit(u, target, length, key))
	}

	if res.Changed() {
		res.Decrypter = p.synth.Synthesize(u)
	}
	log.WithFields(log.Fields{
		"unit":       u.Name,
		"candidates": res.Candidates,
		"encrypted":  len(res.Records),
	}).Info("string obfuscation")
	return res, nil
}
