// Package emu provides functional RV32 emulation.
package emu

import (
	"fmt"

	"github.com/sarchlab/rvsim/insts"
	"github.com/sarchlab/rvsim/loader"
)

// MemoryFromProgram builds a Memory holding the program's loaded
// segments plus the synthesized stack and heap.
func MemoryFromProgram(prog *loader.Program) (*Memory, error) {
	mem := NewMemory()

	for _, seg := range prog.Segments {
		s, err := mem.AddSegment(seg.Name, seg.VirtAddr, seg.MemSize, permFromFlags(seg.Flags))
		if err != nil {
			return nil, fmt.Errorf("mapping segment %s: %w", seg.Name, err)
		}
		// p_filesz bytes come from the image; the rest stays zero.
		copy(s.Data, seg.Data)
	}

	if _, err := mem.AddSegment(".stack", prog.StackBase, prog.StackSize, PermRead|PermWrite); err != nil {
		return nil, fmt.Errorf("mapping stack: %w", err)
	}
	if _, err := mem.AddHeap(prog.HeapBase); err != nil {
		return nil, fmt.Errorf("mapping heap: %w", err)
	}

	return mem, nil
}

// LoadProgram builds an emulator with the program's memory image and
// initial register state: all registers zero, sp at the 16-byte aligned
// stack top, gp from the image's global-pointer symbol when present, PC
// at the entry point.
func LoadProgram(prog *loader.Program, opts ...EmulatorOption) (*Emulator, error) {
	mem, err := MemoryFromProgram(prog)
	if err != nil {
		return nil, err
	}

	e := NewEmulator(append([]EmulatorOption{WithMemory(mem)}, opts...)...)
	e.regFile.WriteReg(insts.RegSP, prog.InitialSP)
	e.regFile.WriteReg(insts.RegGP, prog.GlobalPointer)
	e.regFile.PC = prog.EntryPoint

	return e, nil
}

// permFromFlags converts loader segment flags to memory permissions.
func permFromFlags(flags loader.SegmentFlags) Perm {
	var p Perm
	if flags&loader.SegmentFlagRead != 0 {
		p |= PermRead
	}
	if flags&loader.SegmentFlagWrite != 0 {
		p |= PermWrite
	}
	if flags&loader.SegmentFlagExecute != 0 {
		p |= PermExecute
	}
	return p
}
