// Package insts provides RV32 instruction definitions, decoding, encoding,
// and disassembly.
//
// This package implements decoding of RV32I base integer instructions and
// the RV32M multiply/divide extension into structured instruction
// representations.
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst := decoder.Decode(0xfff00093) // ADDI x1, x0, -1
//	fmt.Printf("Op: %v, Rd: %d, Rs1: %d, Imm: %d\n", inst.Op, inst.Rd, inst.Rs1, inst.Imm)
package insts

// Op represents an RV32 opcode.
type Op uint16

// RV32I base integer opcodes.
const (
	OpUnknown Op = iota
	OpLUI
	OpAUIPC
	OpJAL
	OpJALR
	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpBLTU
	OpBGEU
	OpLB
	OpLH
	OpLW
	OpLBU
	OpLHU
	OpSB
	OpSH
	OpSW
	OpADDI
	OpSLTI
	OpSLTIU
	OpXORI
	OpORI
	OpANDI
	OpSLLI
	OpSRLI
	OpSRAI
	OpADD
	OpSUB
	OpSLL
	OpSLT
	OpSLTU
	OpXOR
	OpSRL
	OpSRA
	OpOR
	OpAND
	OpFENCE
	OpECALL
	OpEBREAK
)

// RV32M multiply/divide opcodes.
const (
	OpMUL Op = iota + 64
	OpMULH
	OpMULHSU
	OpMULHU
	OpDIV
	OpDIVU
	OpREM
	OpREMU
)

// Format represents an instruction encoding format.
type Format uint8

// RV32 instruction formats.
const (
	FormatUnknown Format = iota
	FormatR              // register-register (ADD, SUB, ..., RV32M)
	FormatI              // immediate (ADDI, loads, JALR, shifts, system)
	FormatS              // store
	FormatB              // branch
	FormatU              // upper immediate (LUI, AUIPC)
	FormatJ              // jump (JAL)
)

// Instruction represents a decoded RV32 instruction.
type Instruction struct {
	Op     Op     // Operation code
	Format Format // Encoding format

	Rd  uint8 // Destination register index (0..31)
	Rs1 uint8 // First source register index
	Rs2 uint8 // Second source register index

	// Imm is the sign-extended immediate. B- and J-type immediates carry
	// the implicit low-order zero bit, so the executor adds Imm to PC
	// directly. For shift-immediate instructions Imm holds the 5-bit
	// shift amount; for ECALL/EBREAK it holds the system selector.
	Imm int32

	// Raw is the encoded instruction word, retained for diagnostics.
	Raw uint32
}

// ABI register indices.
const (
	RegZero = 0  // hardwired to 0, ignores writes
	RegRA   = 1  // return address for jumps
	RegSP   = 2  // stack pointer
	RegGP   = 3  // global pointer
	RegTP   = 4  // thread pointer
	RegT0   = 5  // temporary register 0
	RegT1   = 6  // temporary register 1
	RegT2   = 7  // temporary register 2
	RegS0   = 8  // saved register 0 / frame pointer
	RegFP   = 8  // alias of s0
	RegS1   = 9  // saved register 1
	RegA0   = 10 // return value / function argument 0
	RegA1   = 11 // return value / function argument 1
	RegA2   = 12 // function argument 2
	RegA3   = 13 // function argument 3
	RegA4   = 14 // function argument 4
	RegA5   = 15 // function argument 5
	RegA6   = 16 // function argument 6
	RegA7   = 17 // function argument 7 / syscall selector
	RegS2   = 18
	RegS3   = 19
	RegS4   = 20
	RegS5   = 21
	RegS6   = 22
	RegS7   = 23
	RegS8   = 24
	RegS9   = 25
	RegS10  = 26
	RegS11  = 27
	RegT3   = 28
	RegT4   = 29
	RegT5   = 30
	RegT6   = 31
)

// regNames maps register indices to their ABI names.
var regNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// RegName returns the ABI name of a register index, e.g. RegName(2) == "sp".
func RegName(reg uint8) string {
	if int(reg) >= len(regNames) {
		return "?"
	}
	return regNames[reg]
}
