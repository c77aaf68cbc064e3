// Package vm loads linked images into an address space and runs their
// functions. It is the runtime used to verify that obfuscated programs
// restore their strings at startup.
package vm

import (
	"fmt"

	"github.com/apex/log"
	"github.com/odvcencio/cocoons/pkg/image"
)

// Process is a loaded image.
type Process struct {
	Image   *image.Image
	Mem     *Memory
	machine *Machine
}

// Load maps img and prepares it for execution.
func Load(img *image.Image) (*Process, error) {
	mem, err := NewMemory(img)
	if err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}
	return &Process{
		Image:   img,
		Mem:     mem,
		machine: &Machine{Mem: mem, Symbols: img.SymbolTable()},
	}, nil
}

// SetMaxSteps changes the per-call instruction budget.
func (p *Process) SetMaxSteps(n int) {
	p.machine.MaxSteps = n
}

// Startup runs every startup routine in priority order.
func (p *Process) Startup() error {
	for _, c := range p.Image.Ctors {
		log.WithFields(log.Fields{"func": c.Func, "priority": c.Priority}).Debug("vm: startup")
		if err := p.Call(c.Func); err != nil {
			return fmt.Errorf("startup: %w", err)
		}
	}
	return nil
}

// Call runs the named function.
func (p *Process) Call(name string) error {
	f := p.Image.Func(name)
	if f == nil {
		return fmt.Errorf("call %s: no such function", name)
	}
	return p.machine.Call(f)
}

// Symbol returns the address of a named symbol.
func (p *Process) Symbol(name string) (uint64, bool) {
	addr, ok := p.machine.Symbols[name]
	return addr, ok
}

// CString reads the NUL-terminated string at the named symbol.
func (p *Process) CString(name string) (string, error) {
	addr, ok := p.Symbol(name)
	if !ok {
		return "", fmt.Errorf("symbol %s not found", name)
	}
	return p.Mem.CString(addr)
}

// Close releases the address space.
func (p *Process) Close() error {
	return p.Mem.Close()
}
