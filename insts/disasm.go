// Package insts provides RV32 instruction definitions and decoding.
package insts

import "fmt"

// mnemonics maps each operation to its assembler mnemonic.
var mnemonics = map[Op]string{
	OpLUI: "lui", OpAUIPC: "auipc", OpJAL: "jal", OpJALR: "jalr",
	OpBEQ: "beq", OpBNE: "bne", OpBLT: "blt", OpBGE: "bge",
	OpBLTU: "bltu", OpBGEU: "bgeu",
	OpLB: "lb", OpLH: "lh", OpLW: "lw", OpLBU: "lbu", OpLHU: "lhu",
	OpSB: "sb", OpSH: "sh", OpSW: "sw",
	OpADDI: "addi", OpSLTI: "slti", OpSLTIU: "sltiu",
	OpXORI: "xori", OpORI: "ori", OpANDI: "andi",
	OpSLLI: "slli", OpSRLI: "srli", OpSRAI: "srai",
	OpADD: "add", OpSUB: "sub", OpSLL: "sll", OpSLT: "slt", OpSLTU: "sltu",
	OpXOR: "xor", OpSRL: "srl", OpSRA: "sra", OpOR: "or", OpAND: "and",
	OpFENCE: "fence", OpECALL: "ecall", OpEBREAK: "ebreak",
	OpMUL: "mul", OpMULH: "mulh", OpMULHSU: "mulhsu", OpMULHU: "mulhu",
	OpDIV: "div", OpDIVU: "divu", OpREM: "rem", OpREMU: "remu",
}

// String returns the assembler mnemonic for an operation.
func (op Op) String() string {
	if m, ok := mnemonics[op]; ok {
		return m
	}
	return "unknown"
}

// String renders the instruction in assembler syntax with ABI register
// names, e.g. "addi a0, zero, -1" or "beq a0, a1, 16".
func (i *Instruction) String() string {
	switch i.Format {
	case FormatR:
		return fmt.Sprintf("%s %s, %s, %s",
			i.Op, RegName(i.Rd), RegName(i.Rs1), RegName(i.Rs2))
	case FormatI:
		switch i.Op {
		case OpECALL, OpEBREAK, OpFENCE:
			return i.Op.String()
		case OpLB, OpLH, OpLW, OpLBU, OpLHU:
			return fmt.Sprintf("%s %s, %d(%s)",
				i.Op, RegName(i.Rd), i.Imm, RegName(i.Rs1))
		case OpJALR:
			return fmt.Sprintf("%s %s, %d(%s)",
				i.Op, RegName(i.Rd), i.Imm, RegName(i.Rs1))
		default:
			return fmt.Sprintf("%s %s, %s, %d",
				i.Op, RegName(i.Rd), RegName(i.Rs1), i.Imm)
		}
	case FormatS:
		return fmt.Sprintf("%s %s, %d(%s)",
			i.Op, RegName(i.Rs2), i.Imm, RegName(i.Rs1))
	case FormatB:
		return fmt.Sprintf("%s %s, %s, %d",
			i.Op, RegName(i.Rs1), RegName(i.Rs2), i.Imm)
	case FormatU:
		return fmt.Sprintf("%s %s, %#x", i.Op, RegName(i.Rd), uint32(i.Imm)>>12)
	case FormatJ:
		return fmt.Sprintf("%s %s, %d", i.Op, RegName(i.Rd), i.Imm)
	default:
		return fmt.Sprintf("unknown (%#08x)", i.Raw)
	}
}
