// Package emu provides functional RV32 emulation.
package emu

import "github.com/sarchlab/rvsim/insts"

// BranchUnit implements the RV32 control-transfer instructions. Each
// method leaves PC pointing at the next instruction to fetch.
type BranchUnit struct {
	regFile *RegFile
}

// NewBranchUnit creates a BranchUnit connected to the given register
// file.
func NewBranchUnit(regFile *RegFile) *BranchUnit {
	return &BranchUnit{regFile: regFile}
}

// JAL links PC+4 into rd and jumps PC-relative. The decoded immediate
// already carries the implicit low zero bit.
func (b *BranchUnit) JAL(inst *insts.Instruction) {
	pc := b.regFile.PC
	b.regFile.WriteReg(inst.Rd, pc+4)
	b.regFile.PC = pc + uint32(inst.Imm)
}

// JALR links PC+4 into rd and jumps to (rs1 + imm) with the least
// significant bit cleared.
func (b *BranchUnit) JALR(inst *insts.Instruction) {
	pc := b.regFile.PC
	target := (b.regFile.ReadReg(inst.Rs1) + uint32(inst.Imm)) &^ 1
	b.regFile.WriteReg(inst.Rd, pc+4)
	b.regFile.PC = target
}

// Branch applies a conditional branch, adding the pre-shifted immediate
// to PC when the comparison holds and advancing past the instruction
// otherwise.
func (b *BranchUnit) Branch(inst *insts.Instruction) {
	rs1 := b.regFile.ReadReg(inst.Rs1)
	rs2 := b.regFile.ReadReg(inst.Rs2)

	var taken bool
	switch inst.Op {
	case insts.OpBEQ:
		taken = rs1 == rs2
	case insts.OpBNE:
		taken = rs1 != rs2
	case insts.OpBLT:
		taken = int32(rs1) < int32(rs2)
	case insts.OpBGE:
		taken = int32(rs1) >= int32(rs2)
	case insts.OpBLTU:
		taken = rs1 < rs2
	case insts.OpBGEU:
		taken = rs1 >= rs2
	}

	if taken {
		b.regFile.PC += uint32(inst.Imm)
	} else {
		b.regFile.PC += 4
	}
}
