// Package emu provides functional RV32 emulation.
package emu

import "github.com/sarchlab/rvsim/insts"

// RegFile represents the RV32 register file: 32 general-purpose 32-bit
// registers plus the program counter. Register x0 is hardwired to zero.
type RegFile struct {
	// X holds general-purpose registers x0-x31. X[0] stays zero because
	// WriteReg drops writes to it.
	X [32]uint32

	// PC is the program counter.
	PC uint32
}

// ReadReg reads a register value. Register 0 always reads as 0.
func (r *RegFile) ReadReg(reg uint8) uint32 {
	if reg >= 32 {
		return 0
	}
	return r.X[reg]
}

// WriteReg writes a value to a register. Writes to register 0 are
// discarded; this is the single site that enforces the x0 invariant.
func (r *RegFile) WriteReg(reg uint8, value uint32) {
	if reg == 0 || reg >= 32 {
		return
	}
	r.X[reg] = value
}

// SP returns the stack pointer (x2).
func (r *RegFile) SP() uint32 {
	return r.X[insts.RegSP]
}
