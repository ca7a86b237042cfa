// Package emu provides functional RV32 emulation.
package emu

import (
	"github.com/sarchlab/rvsim/insts"
)

// ALU implements the RV32I integer operations and the RV32M
// multiply/divide extension. All arithmetic is 32-bit two's complement.
type ALU struct {
	regFile *RegFile
}

// NewALU creates an ALU connected to the given register file.
func NewALU(regFile *RegFile) *ALU {
	return &ALU{regFile: regFile}
}

// ExecuteImm applies an op-imm instruction (ADDI..SRAI).
func (a *ALU) ExecuteImm(inst *insts.Instruction) {
	rs1 := a.regFile.ReadReg(inst.Rs1)
	imm := uint32(inst.Imm)

	var result uint32
	switch inst.Op {
	case insts.OpADDI:
		result = rs1 + imm
	case insts.OpSLTI:
		result = boolToReg(int32(rs1) < inst.Imm)
	case insts.OpSLTIU:
		// The immediate is sign-extended, then compared unsigned.
		result = boolToReg(rs1 < imm)
	case insts.OpXORI:
		result = rs1 ^ imm
	case insts.OpORI:
		result = rs1 | imm
	case insts.OpANDI:
		result = rs1 & imm
	case insts.OpSLLI:
		result = rs1 << (imm & 0x1f)
	case insts.OpSRLI:
		result = rs1 >> (imm & 0x1f)
	case insts.OpSRAI:
		result = uint32(int32(rs1) >> (imm & 0x1f))
	}

	a.regFile.WriteReg(inst.Rd, result)
}

// ExecuteReg applies an op-reg instruction (ADD..AND, and RV32M).
func (a *ALU) ExecuteReg(inst *insts.Instruction) {
	rs1 := a.regFile.ReadReg(inst.Rs1)
	rs2 := a.regFile.ReadReg(inst.Rs2)

	var result uint32
	switch inst.Op {
	case insts.OpADD:
		result = rs1 + rs2
	case insts.OpSUB:
		result = rs1 - rs2
	case insts.OpSLL:
		result = rs1 << (rs2 & 0x1f)
	case insts.OpSLT:
		result = boolToReg(int32(rs1) < int32(rs2))
	case insts.OpSLTU:
		result = boolToReg(rs1 < rs2)
	case insts.OpXOR:
		result = rs1 ^ rs2
	case insts.OpSRL:
		result = rs1 >> (rs2 & 0x1f)
	case insts.OpSRA:
		result = uint32(int32(rs1) >> (rs2 & 0x1f))
	case insts.OpOR:
		result = rs1 | rs2
	case insts.OpAND:
		result = rs1 & rs2
	default:
		result = a.executeMul(inst.Op, rs1, rs2)
	}

	a.regFile.WriteReg(inst.Rd, result)
}

// executeMul applies an RV32M operation. Division follows the ISA's
// no-trap rule: division by zero yields an all-ones quotient and the
// dividend as remainder; INT_MIN / -1 yields INT_MIN with remainder 0.
func (a *ALU) executeMul(op insts.Op, rs1, rs2 uint32) uint32 {
	switch op {
	case insts.OpMUL:
		return rs1 * rs2
	case insts.OpMULH:
		return uint32(uint64(int64(int32(rs1))*int64(int32(rs2))) >> 32)
	case insts.OpMULHSU:
		return uint32(uint64(int64(int32(rs1))*int64(rs2)) >> 32)
	case insts.OpMULHU:
		return uint32(uint64(rs1) * uint64(rs2) >> 32)
	case insts.OpDIV:
		switch {
		case rs2 == 0:
			return 0xffff_ffff
		case int32(rs1) == -1<<31 && int32(rs2) == -1:
			return rs1
		default:
			return uint32(int32(rs1) / int32(rs2))
		}
	case insts.OpDIVU:
		if rs2 == 0 {
			return 0xffff_ffff
		}
		return rs1 / rs2
	case insts.OpREM:
		switch {
		case rs2 == 0:
			return rs1
		case int32(rs1) == -1<<31 && int32(rs2) == -1:
			return 0
		default:
			return uint32(int32(rs1) % int32(rs2))
		}
	case insts.OpREMU:
		if rs2 == 0 {
			return rs1
		}
		return rs1 % rs2
	}
	return 0
}

func boolToReg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
