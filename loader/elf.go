// Package loader provides ELF binary loading for RV32 executables.
package loader

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"

	"github.com/sarchlab/rvsim/log"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// DefaultStackTop is the address just past the synthesized stack. It
// sits below the 2 GiB mark, far above where RV32 executables link.
const DefaultStackTop = 0x7fff_f000

// DefaultStackSize is the default stack size (1 MiB). The stack grows
// downward from DefaultStackTop.
const DefaultStackSize = 1 << 20

// heapAlign rounds the heap base up to a page boundary above the
// highest loaded segment.
const heapAlign = 0x1000

// GlobalPointerSym is the linker-provided symbol conventionally loaded
// into gp (x3) at startup.
const GlobalPointerSym = "__global_pointer$"

// LoadError reports a malformed or unsupported program image.
type LoadError struct {
	Reason string
}

func (e *LoadError) Error() string {
	return "load error: " + e.Reason
}

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// Name is a synthesized section-style name (.text, .rodata, .data);
	// every segment after the first carries its index as a suffix, e.g.
	// .data1.
	Name string
	// VirtAddr is the virtual address where this segment is loaded.
	VirtAddr uint32
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (larger than len(Data) for BSS).
	MemSize uint32
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program represents a loaded RV32 program ready for execution.
type Program struct {
	// EntryPoint is the virtual address where execution begins.
	EntryPoint uint32
	// Segments contains all PT_LOAD segments from the ELF file.
	Segments []Segment
	// StackBase and StackSize describe the synthesized stack segment.
	StackBase uint32
	StackSize uint32
	// InitialSP is the initial stack pointer, 16-byte aligned.
	InitialSP uint32
	// HeapBase is where the synthesized heap segment begins.
	HeapBase uint32
	// GlobalPointer is the initial gp (x3) value; zero when the image
	// carries no __global_pointer$ symbol.
	GlobalPointer uint32
	// Symbols maps symbol names to addresses when the image carries a
	// symbol table. Execution never requires it; the dump pass uses it
	// for labels.
	Symbols map[string]uint32
}

// Option configures the loader.
type Option func(*config)

type config struct {
	stackSize uint32
	stackTop  uint32
}

// WithStackSize overrides the synthesized stack size.
func WithStackSize(size uint32) Option {
	return func(c *config) {
		c.stackSize = size
	}
}

// WithStackTop overrides the address just past the synthesized stack.
func WithStackTop(top uint32) Option {
	return func(c *config) {
		c.stackTop = top
	}
}

// Load parses an RV32 ELF executable from a file.
func Load(path string, opts ...Option) (*Program, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program image: %w", err)
	}
	return LoadBytes(image, opts...)
}

// LoadBytes parses an RV32 ELF executable from a byte image and returns
// a Program ready for loading into the emulator's memory.
func LoadBytes(image []byte, opts ...Option) (*Program, error) {
	cfg := &config{stackSize: DefaultStackSize, stackTop: DefaultStackTop}
	for _, opt := range opts {
		opt(cfg)
	}

	logger := log.Default().Module("loader")

	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, &LoadError{Reason: fmt.Sprintf("not an ELF image: %v", err)}
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS32 {
		return nil, &LoadError{Reason: "not a 32-bit ELF file"}
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, &LoadError{Reason: "not a little-endian ELF file"}
	}
	if f.Type != elf.ET_EXEC {
		return nil, &LoadError{Reason: fmt.Sprintf("not a statically-linked executable (type: %v)", f.Type)}
	}
	if f.Machine != elf.EM_RISCV {
		return nil, &LoadError{Reason: fmt.Sprintf("not a RISC-V ELF file (machine type: %v)", f.Machine)}
	}

	prog := &Program{
		EntryPoint: uint32(f.Entry),
		StackSize:  cfg.stackSize,
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && uint64(n) != phdr.Filesz {
				return nil, &LoadError{Reason: fmt.Sprintf(
					"short read for segment at %#x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)}
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		seg := Segment{
			Name:     segmentName(flags, len(prog.Segments)),
			VirtAddr: uint32(phdr.Vaddr),
			Data:     data,
			MemSize:  uint32(phdr.Memsz),
			Flags:    flags,
		}
		logger.Debug("found segment",
			"name", seg.Name,
			"vaddr", fmt.Sprintf("%#08x", seg.VirtAddr),
			"memsz", seg.MemSize,
			"perms", seg.Flags)

		prog.Segments = append(prog.Segments, seg)
	}

	if len(prog.Segments) == 0 {
		return nil, &LoadError{Reason: "no loadable segments"}
	}

	if !entryInExecutableSegment(prog) {
		return nil, &LoadError{Reason: fmt.Sprintf(
			"entry point %#08x lies outside every executable segment", prog.EntryPoint)}
	}

	if err := placeStackAndHeap(prog, cfg); err != nil {
		return nil, err
	}

	readSymbols(f, prog, logger)

	logger.Debug("program loaded",
		"entry", fmt.Sprintf("%#08x", prog.EntryPoint),
		"sp", fmt.Sprintf("%#08x", prog.InitialSP),
		"heap", fmt.Sprintf("%#08x", prog.HeapBase))

	return prog, nil
}

// segmentName derives a section-style name from segment permissions.
func segmentName(flags SegmentFlags, index int) string {
	var name string
	switch {
	case flags&SegmentFlagExecute != 0:
		name = ".text"
	case flags&SegmentFlagWrite != 0:
		name = ".data"
	default:
		name = ".rodata"
	}
	if index > 0 {
		name = fmt.Sprintf("%s%d", name, index)
	}
	return name
}

// entryInExecutableSegment checks that e_entry lands inside a loaded
// executable segment.
func entryInExecutableSegment(prog *Program) bool {
	for _, seg := range prog.Segments {
		if seg.Flags&SegmentFlagExecute == 0 {
			continue
		}
		if prog.EntryPoint >= seg.VirtAddr && prog.EntryPoint < seg.VirtAddr+seg.MemSize {
			return true
		}
	}
	return false
}

// placeStackAndHeap synthesizes the stack and heap placement: the stack
// just below cfg.stackTop, the heap page-aligned above the highest
// loaded segment.
func placeStackAndHeap(prog *Program, cfg *config) error {
	var maxEnd uint32
	for _, seg := range prog.Segments {
		if end := seg.VirtAddr + seg.MemSize; end > maxEnd {
			maxEnd = end
		}
	}

	prog.HeapBase = (maxEnd + heapAlign - 1) &^ (heapAlign - 1)
	prog.StackBase = cfg.stackTop - cfg.stackSize

	if prog.StackBase >= cfg.stackTop {
		return &LoadError{Reason: "stack size exceeds stack top"}
	}
	for _, seg := range prog.Segments {
		if seg.VirtAddr < cfg.stackTop && prog.StackBase < seg.VirtAddr+seg.MemSize {
			return &LoadError{Reason: fmt.Sprintf(
				"segment at %#08x overlaps the stack [%#08x, %#08x)",
				seg.VirtAddr, prog.StackBase, cfg.stackTop)}
		}
	}
	if prog.HeapBase >= prog.StackBase {
		return &LoadError{Reason: "no room for the heap below the stack"}
	}

	prog.InitialSP = cfg.stackTop &^ 15
	return nil
}

// readSymbols records the symbol table when present. Missing symbol
// tables are not an error.
func readSymbols(f *elf.File, prog *Program, logger *log.Logger) {
	syms, err := f.Symbols()
	if err != nil {
		return
	}

	prog.Symbols = make(map[string]uint32, len(syms))
	for _, sym := range syms {
		if sym.Name == "" {
			continue
		}
		prog.Symbols[sym.Name] = uint32(sym.Value)
	}

	if gp, ok := prog.Symbols[GlobalPointerSym]; ok {
		logger.Debug("global pointer", "addr", fmt.Sprintf("%#08x", gp))
		prog.GlobalPointer = gp
	} else {
		logger.Warn("global pointer symbol not found")
	}
}
