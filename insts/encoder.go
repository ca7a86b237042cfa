// Package insts provides RV32 instruction definitions and decoding.
package insts

import "fmt"

// encoding carries the fixed fields of one operation.
type encoding struct {
	format Format
	opcode uint32
	funct3 uint32
	funct7 uint32
}

// encodings maps each operation to its fixed encoding fields.
var encodings = map[Op]encoding{
	OpLUI:    {FormatU, opcodeLUI, 0, 0},
	OpAUIPC:  {FormatU, opcodeAUIPC, 0, 0},
	OpJAL:    {FormatJ, opcodeJAL, 0, 0},
	OpJALR:   {FormatI, opcodeJALR, 0b000, 0},
	OpBEQ:    {FormatB, opcodeBranch, 0b000, 0},
	OpBNE:    {FormatB, opcodeBranch, 0b001, 0},
	OpBLT:    {FormatB, opcodeBranch, 0b100, 0},
	OpBGE:    {FormatB, opcodeBranch, 0b101, 0},
	OpBLTU:   {FormatB, opcodeBranch, 0b110, 0},
	OpBGEU:   {FormatB, opcodeBranch, 0b111, 0},
	OpLB:     {FormatI, opcodeLoad, 0b000, 0},
	OpLH:     {FormatI, opcodeLoad, 0b001, 0},
	OpLW:     {FormatI, opcodeLoad, 0b010, 0},
	OpLBU:    {FormatI, opcodeLoad, 0b100, 0},
	OpLHU:    {FormatI, opcodeLoad, 0b101, 0},
	OpSB:     {FormatS, opcodeStore, 0b000, 0},
	OpSH:     {FormatS, opcodeStore, 0b001, 0},
	OpSW:     {FormatS, opcodeStore, 0b010, 0},
	OpADDI:   {FormatI, opcodeOpImm, 0b000, 0},
	OpSLTI:   {FormatI, opcodeOpImm, 0b010, 0},
	OpSLTIU:  {FormatI, opcodeOpImm, 0b011, 0},
	OpXORI:   {FormatI, opcodeOpImm, 0b100, 0},
	OpORI:    {FormatI, opcodeOpImm, 0b110, 0},
	OpANDI:   {FormatI, opcodeOpImm, 0b111, 0},
	OpSLLI:   {FormatI, opcodeOpImm, 0b001, 0b0000000},
	OpSRLI:   {FormatI, opcodeOpImm, 0b101, 0b0000000},
	OpSRAI:   {FormatI, opcodeOpImm, 0b101, 0b0100000},
	OpADD:    {FormatR, opcodeOpReg, 0b000, 0b0000000},
	OpSUB:    {FormatR, opcodeOpReg, 0b000, 0b0100000},
	OpSLL:    {FormatR, opcodeOpReg, 0b001, 0b0000000},
	OpSLT:    {FormatR, opcodeOpReg, 0b010, 0b0000000},
	OpSLTU:   {FormatR, opcodeOpReg, 0b011, 0b0000000},
	OpXOR:    {FormatR, opcodeOpReg, 0b100, 0b0000000},
	OpSRL:    {FormatR, opcodeOpReg, 0b101, 0b0000000},
	OpSRA:    {FormatR, opcodeOpReg, 0b101, 0b0100000},
	OpOR:     {FormatR, opcodeOpReg, 0b110, 0b0000000},
	OpAND:    {FormatR, opcodeOpReg, 0b111, 0b0000000},
	OpFENCE:  {FormatI, opcodeFence, 0b000, 0},
	OpECALL:  {FormatI, opcodeSystem, 0b000, 0},
	OpEBREAK: {FormatI, opcodeSystem, 0b000, 0},
	OpMUL:    {FormatR, opcodeOpReg, 0b000, 0b0000001},
	OpMULH:   {FormatR, opcodeOpReg, 0b001, 0b0000001},
	OpMULHSU: {FormatR, opcodeOpReg, 0b010, 0b0000001},
	OpMULHU:  {FormatR, opcodeOpReg, 0b011, 0b0000001},
	OpDIV:    {FormatR, opcodeOpReg, 0b100, 0b0000001},
	OpDIVU:   {FormatR, opcodeOpReg, 0b101, 0b0000001},
	OpREM:    {FormatR, opcodeOpReg, 0b110, 0b0000001},
	OpREMU:   {FormatR, opcodeOpReg, 0b111, 0b0000001},
}

// Encode produces the 32-bit instruction word for a decoded instruction.
// It is the inverse of Decoder.Decode: for every word that decodes to a
// known operation, encoding the result reproduces the word. FENCE is the
// exception: the decoder discards its operand fields, so it encodes with
// them all zero. Immediates outside the encodable range for the
// operation's format are an error.
func Encode(inst *Instruction) (uint32, error) {
	enc, ok := encodings[inst.Op]
	if !ok {
		return 0, fmt.Errorf("cannot encode op %v", inst.Op)
	}

	switch inst.Op {
	case OpECALL:
		return enc.opcode, nil
	case OpEBREAK:
		return 1<<20 | enc.opcode, nil
	case OpFENCE:
		return enc.opcode, nil
	case OpSLLI, OpSRLI, OpSRAI:
		if inst.Imm < 0 || inst.Imm > 31 {
			return 0, fmt.Errorf("shift amount %d out of range", inst.Imm)
		}
		return enc.funct7<<25 | uint32(inst.Imm)<<20 | regField(inst.Rs1)<<15 |
			enc.funct3<<12 | regField(inst.Rd)<<7 | enc.opcode, nil
	}

	switch enc.format {
	case FormatR:
		return enc.funct7<<25 | regField(inst.Rs2)<<20 | regField(inst.Rs1)<<15 |
			enc.funct3<<12 | regField(inst.Rd)<<7 | enc.opcode, nil
	case FormatI:
		if inst.Imm < -2048 || inst.Imm > 2047 {
			return 0, fmt.Errorf("I-type immediate %d out of range", inst.Imm)
		}
		imm := uint32(inst.Imm) & 0xfff
		return imm<<20 | regField(inst.Rs1)<<15 |
			enc.funct3<<12 | regField(inst.Rd)<<7 | enc.opcode, nil
	case FormatS:
		if inst.Imm < -2048 || inst.Imm > 2047 {
			return 0, fmt.Errorf("S-type immediate %d out of range", inst.Imm)
		}
		imm := uint32(inst.Imm) & 0xfff
		return (imm>>5)<<25 | regField(inst.Rs2)<<20 | regField(inst.Rs1)<<15 |
			enc.funct3<<12 | (imm&0b1_1111)<<7 | enc.opcode, nil
	case FormatB:
		if inst.Imm&1 != 0 {
			return 0, fmt.Errorf("branch offset %d is odd", inst.Imm)
		}
		if inst.Imm < -4096 || inst.Imm > 4094 {
			return 0, fmt.Errorf("branch offset %d out of range", inst.Imm)
		}
		imm := uint32(inst.Imm) & 0x1fff
		return (imm>>12)&0b1<<31 |
			(imm>>5)&0b11_1111<<25 |
			regField(inst.Rs2)<<20 | regField(inst.Rs1)<<15 | enc.funct3<<12 |
			(imm>>1)&0b1111<<8 |
			(imm>>11)&0b1<<7 |
			enc.opcode, nil
	case FormatU:
		if inst.Imm&0xfff != 0 {
			return 0, fmt.Errorf("U-type immediate %#x has low bits set", inst.Imm)
		}
		return uint32(inst.Imm) | regField(inst.Rd)<<7 | enc.opcode, nil
	case FormatJ:
		if inst.Imm&1 != 0 {
			return 0, fmt.Errorf("jump offset %d is odd", inst.Imm)
		}
		if inst.Imm < -(1<<20) || inst.Imm > (1<<20)-2 {
			return 0, fmt.Errorf("jump offset %d out of range", inst.Imm)
		}
		imm := uint32(inst.Imm) & 0x1f_ffff
		return (imm>>20)&0b1<<31 |
			(imm>>1)&0b11_1111_1111<<21 |
			(imm>>11)&0b1<<20 |
			(imm>>12)&0b1111_1111<<12 |
			regField(inst.Rd)<<7 | enc.opcode, nil
	}

	return 0, fmt.Errorf("cannot encode format %v", enc.format)
}

// MustEncode is Encode for statically known-valid instructions; it panics
// on encoding errors. Intended for tests and hand-assembled fixtures.
func MustEncode(inst *Instruction) uint32 {
	word, err := Encode(inst)
	if err != nil {
		panic(err)
	}
	return word
}

func regField(reg uint8) uint32 {
	return uint32(reg) & 0b1_1111
}
