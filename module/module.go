// Package module implements spec.md §9's loadable-driver contract: a
// kernel module is an ELF relocatable whose image is loaded into a
// reserved memory region and whose entry point is a plain function.
// Per spec.md §9 ("Do not attempt to reproduce dynamic loading semantics
// of the source language's module system — the contract is purely 'run
// init(), run fini()'") and the ELF-loader-internals Non-goal, this
// package does not perform relocation application: it loads PT_LOAD
// segments verbatim, resolves external symbol references against a
// kernel symbol table, and calls init()/fini() through a caller-supplied
// Invoker — the Go simulation's stand-in for transmuting a raw function
// pointer and calling it, since a host Go process cannot execute x86
// machine code directly. Grounded on
// original_source/kernel/src/module/mod.rs's Module::load.
package module

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/maestro-os/maestro/errno"
)

// Magic is the value every module image's MOD_MAGIC symbol must hold,
// per original_source/kernel/src/module/mod.rs's MOD_MAGIC constant.
const Magic uint64 = 0x9792df56efb7c93f

// Version is a module's semantic version, read from its MOD_VERSION
// symbol.
type Version struct {
	Major, Minor, Patch uint32
}

// Resolver looks up a kernel (or other already-loaded module) symbol by
// name, for resolving a module image's undefined external references —
// the Go analogue of resolve_symbol in the original.
type Resolver func(name string) (uint64, bool)

// Invoker executes a function at an offset into a loaded module's
// memory image. Since this module is a host-process simulation of a
// kernel rather than a real x86 machine, the actual machine-code call is
// abstracted behind this interface (tests supply a fake that looks up a
// Go closure registered for the offset).
type Invoker interface {
	// CallInit invokes the module's init() and reports its boolean
	// result, per the original's init contract.
	CallInit(mem []byte, offset uint64) bool
	// CallFini invokes the module's fini(), if present.
	CallFini(mem []byte, offset uint64)
}

// Module is a loaded kernel module, per original_source's Module struct.
type Module struct {
	Name    string
	Version Version
	// InstanceID distinguishes this load from any other load of a module
	// sharing the same name (e.g. after an Unload/Load cycle), for
	// correlating log lines with a specific loaded image rather than the
	// module's name alone.
	InstanceID uuid.UUID

	mem        []byte
	finiOffset uint64
	hasFini    bool
	invoker    Invoker
}

// requiredAttr resolves a data symbol named name in f and returns its
// raw bytes from the backing section, per the original's get_attribute/
// get_array_attribute helpers.
func requiredAttr(f *elf.File, name string, size int) ([]byte, error) {
	syms, err := f.Symbols()
	if err != nil {
		return nil, errno.EINVAL
	}
	for _, sym := range syms {
		if sym.Name != name {
			continue
		}
		if int(sym.Section) >= len(f.Sections) {
			return nil, errno.EINVAL
		}
		sec := f.Sections[sym.Section]
		data, err := sec.Data()
		if err != nil {
			return nil, errno.EINVAL
		}
		off := sym.Value - sec.Addr
		if off+uint64(size) > uint64(len(data)) {
			return nil, errno.EINVAL
		}
		return data[off : off+uint64(size)], nil
	}
	return nil, errno.EINVAL
}

func findSymbol(f *elf.File, name string) (elf.Symbol, bool) {
	syms, err := f.Symbols()
	if err != nil {
		return elf.Symbol{}, false
	}
	for _, sym := range syms {
		if sym.Name == name {
			return sym, true
		}
	}
	return elf.Symbol{}, false
}

// loadSize returns the extent of memory a module's PT_LOAD segments
// span, per the original's Module::get_load_size.
func loadSize(f *elf.File) uint64 {
	var max uint64
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		end := prog.Vaddr + prog.Memsz
		if end > max {
			max = end
		}
	}
	return max
}

// Load parses image as an ELF relocatable module, copies its PT_LOAD
// segments into a freshly allocated memory region, resolves every
// undefined external symbol through resolver, validates the
// MOD_MAGIC/MOD_NAME/MOD_VERSION attributes, and invokes init() through
// invoker. On success, fini (if the image defines one) is recorded for
// Unload to call later.
func Load(image []byte, resolver Resolver, invoker Invoker) (*Module, error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, errno.EINVAL
	}
	defer f.Close()

	size := loadSize(f)
	mem := make([]byte, size)
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return nil, errno.EINVAL
		}
		copy(mem[prog.Vaddr:], data)
	}

	if err := resolveExternalSymbols(f, resolver); err != nil {
		return nil, err
	}

	magicBytes, err := requiredAttr(f, "MOD_MAGIC", 8)
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint64(magicBytes) != Magic {
		return nil, errno.EINVAL
	}

	nameSym, ok := findSymbol(f, "MOD_NAME")
	if !ok {
		return nil, errno.EINVAL
	}
	nameBytes, err := requiredAttr(f, "MOD_NAME", int(nameSym.Size))
	if err != nil {
		return nil, err
	}
	name := strings.TrimRight(string(nameBytes), "\x00")

	versionBytes, err := requiredAttr(f, "MOD_VERSION", 12)
	if err != nil {
		return nil, err
	}
	version := Version{
		Major: binary.LittleEndian.Uint32(versionBytes[0:4]),
		Minor: binary.LittleEndian.Uint32(versionBytes[4:8]),
		Patch: binary.LittleEndian.Uint32(versionBytes[8:12]),
	}

	initSym, ok := findSymbol(f, "init")
	if !ok {
		return nil, errno.EINVAL
	}
	if invoker != nil && !invoker.CallInit(mem, initSym.Value) {
		return nil, errno.EINVAL
	}

	m := &Module{Name: name, Version: version, InstanceID: uuid.New(), mem: mem, invoker: invoker}
	if finiSym, ok := findSymbol(f, "fini"); ok {
		m.finiOffset = finiSym.Value
		m.hasFini = true
	}
	return m, nil
}

// resolveExternalSymbols fails with ENOENT unless every undefined symbol
// referenced by image resolves through resolver, mirroring the original's resolve_symbol fallback to
// the kernel image/other loaded modules.
func resolveExternalSymbols(f *elf.File, resolver Resolver) error {
	syms, err := f.Symbols()
	if err != nil {
		return errno.EINVAL
	}
	for _, sym := range syms {
		if sym.Section != elf.SHN_UNDEF || sym.Name == "" {
			continue
		}
		if resolver == nil {
			return errno.ENOENT
		}
		if _, ok := resolver(sym.Name); !ok {
			return errno.ENOENT
		}
	}
	return nil
}

// Unload calls the module's fini(), if it defined one.
func (m *Module) Unload() {
	if m.hasFini && m.invoker != nil {
		m.invoker.CallFini(m.mem, m.finiOffset)
	}
}

// Registry is the loaded-module table, per the original's MODULES
// static map.
type Registry struct {
	mu      sync.Mutex
	modules map[string]*Module
}

// NewRegistry returns an empty module registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]*Module)}
}

// IsLoaded reports whether a module with the given name is loaded.
func (r *Registry) IsLoaded(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.modules[name]
	return ok
}

// Add records m in the registry under its own name.
func (r *Registry) Add(m *Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name] = m
}

// Remove calls Unload on the named module and drops it from the
// registry.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	m, ok := r.modules[name]
	delete(r.modules, name)
	r.mu.Unlock()
	if ok {
		m.Unload()
	}
}
