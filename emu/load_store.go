// Package emu provides functional RV32 emulation.
package emu

import "github.com/sarchlab/rvsim/insts"

// LoadStoreUnit implements the RV32 load and store instructions against
// segment-backed memory. Alignment and permission violations surface as
// MemoryError without mutating state.
type LoadStoreUnit struct {
	regFile *RegFile
	memory  *Memory
}

// NewLoadStoreUnit creates a LoadStoreUnit connected to the given
// register file and memory.
func NewLoadStoreUnit(regFile *RegFile, memory *Memory) *LoadStoreUnit {
	return &LoadStoreUnit{regFile: regFile, memory: memory}
}

// Load applies LB/LH/LW/LBU/LHU at rs1 + imm.
func (lsu *LoadStoreUnit) Load(inst *insts.Instruction) error {
	addr := lsu.regFile.ReadReg(inst.Rs1) + uint32(inst.Imm)

	var value uint32
	switch inst.Op {
	case insts.OpLB:
		b, err := lsu.memory.Read8(addr)
		if err != nil {
			return err
		}
		value = uint32(int32(int8(b)))
	case insts.OpLBU:
		b, err := lsu.memory.Read8(addr)
		if err != nil {
			return err
		}
		value = uint32(b)
	case insts.OpLH:
		h, err := lsu.memory.Read16(addr)
		if err != nil {
			return err
		}
		value = uint32(int32(int16(h)))
	case insts.OpLHU:
		h, err := lsu.memory.Read16(addr)
		if err != nil {
			return err
		}
		value = uint32(h)
	case insts.OpLW:
		w, err := lsu.memory.Read32(addr)
		if err != nil {
			return err
		}
		value = w
	}

	lsu.regFile.WriteReg(inst.Rd, value)
	return nil
}

// Store applies SB/SH/SW at rs1 + imm, writing the low byte, halfword,
// or word of rs2.
func (lsu *LoadStoreUnit) Store(inst *insts.Instruction) error {
	addr := lsu.regFile.ReadReg(inst.Rs1) + uint32(inst.Imm)
	value := lsu.regFile.ReadReg(inst.Rs2)

	switch inst.Op {
	case insts.OpSB:
		return lsu.memory.Write8(addr, uint8(value))
	case insts.OpSH:
		return lsu.memory.Write16(addr, uint16(value))
	case insts.OpSW:
		return lsu.memory.Write32(addr, value)
	}
	return nil
}
