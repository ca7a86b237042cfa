package emu_test

import (
	"bytes"
	"encoding/binary"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvsim/emu"
	"github.com/sarchlab/rvsim/insts"
)

const (
	testTextBase = uint32(0x1000)
	testDataBase = uint32(0x2000)
)

// buildEmulator maps a .text segment holding the given words at
// testTextBase, an empty .data scratch segment at testDataBase, and
// points PC at the first instruction.
func buildEmulator(words []uint32, opts ...emu.EmulatorOption) *emu.Emulator {
	memory := emu.NewMemory()

	text, err := memory.AddSegment(".text", testTextBase, uint32(len(words)*4), emu.PermRead|emu.PermExecute)
	Expect(err).NotTo(HaveOccurred())
	for i, w := range words {
		binary.LittleEndian.PutUint32(text.Data[i*4:], w)
	}

	_, err = memory.AddSegment(".data", testDataBase, 0x100, emu.PermRead|emu.PermWrite)
	Expect(err).NotTo(HaveOccurred())

	e := emu.NewEmulator(append([]emu.EmulatorOption{emu.WithMemory(memory)}, opts...)...)
	e.RegFile().PC = testTextBase
	return e
}

// asm assembles one instruction.
func asm(inst insts.Instruction) uint32 {
	return insts.MustEncode(&inst)
}

var _ = Describe("Emulator", func() {
	Describe("NewEmulator", func() {
		It("should create an emulator with initialized components", func() {
			e := emu.NewEmulator()

			Expect(e).NotTo(BeNil())
			Expect(e.RegFile()).NotTo(BeNil())
			Expect(e.Memory()).NotTo(BeNil())
		})
	})

	Describe("Step", func() {
		Context("op-imm instructions", func() {
			It("should execute ADDI with a negative immediate", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpADDI, Rd: 1, Rs1: 0, Imm: -1}),
				})

				result := e.Step()

				Expect(result.Err).To(BeNil())
				Expect(result.Exited).To(BeFalse())
				Expect(e.RegFile().ReadReg(1)).To(Equal(uint32(0xffffffff)))
				Expect(e.RegFile().PC).To(Equal(testTextBase + 4))
			})

			It("should discard writes targeting x0", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpADDI, Rd: 0, Rs1: 0, Imm: 42}),
				})

				Expect(e.Step().Err).To(BeNil())
				Expect(e.RegFile().ReadReg(0)).To(Equal(uint32(0)))
			})

			It("should preserve the sign through SRAI", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpSRAI, Rd: 1, Rs1: 1, Imm: 31}),
				})
				e.RegFile().WriteReg(1, 0x80000000)

				Expect(e.Step().Err).To(BeNil())
				Expect(e.RegFile().ReadReg(1)).To(Equal(uint32(0xffffffff)))
			})

			It("should shift in zeros through SRLI", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpSRLI, Rd: 1, Rs1: 1, Imm: 31}),
				})
				e.RegFile().WriteReg(1, 0x80000000)

				Expect(e.Step().Err).To(BeNil())
				Expect(e.RegFile().ReadReg(1)).To(Equal(uint32(1)))
			})

			It("should compare SLTI signed and SLTIU unsigned", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpSLTI, Rd: 5, Rs1: 1, Imm: 0}),
					asm(insts.Instruction{Op: insts.OpSLTIU, Rd: 6, Rs1: 1, Imm: 0}),
				})
				e.RegFile().WriteReg(1, 0xffffffff) // -1 signed, UINT_MAX unsigned

				Expect(e.Step().Err).To(BeNil())
				Expect(e.Step().Err).To(BeNil())

				Expect(e.RegFile().ReadReg(5)).To(Equal(uint32(1)))
				Expect(e.RegFile().ReadReg(6)).To(Equal(uint32(0)))
			})
		})

		Context("op-reg instructions", func() {
			It("should execute ADD and SUB with two's-complement wraparound", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpADD, Rd: 3, Rs1: 1, Rs2: 2}),
					asm(insts.Instruction{Op: insts.OpSUB, Rd: 4, Rs1: 1, Rs2: 2}),
				})
				e.RegFile().WriteReg(1, 0xffffffff)
				e.RegFile().WriteReg(2, 2)

				Expect(e.Step().Err).To(BeNil())
				Expect(e.Step().Err).To(BeNil())

				Expect(e.RegFile().ReadReg(3)).To(Equal(uint32(1)))
				Expect(e.RegFile().ReadReg(4)).To(Equal(uint32(0xfffffffd)))
			})

			It("should mask register shift amounts to five bits", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpSLL, Rd: 3, Rs1: 1, Rs2: 2}),
				})
				e.RegFile().WriteReg(1, 1)
				e.RegFile().WriteReg(2, 33) // shifts by 33&31 == 1

				Expect(e.Step().Err).To(BeNil())
				Expect(e.RegFile().ReadReg(3)).To(Equal(uint32(2)))
			})
		})

		Context("RV32M instructions", func() {
			step1 := func(op insts.Op, rs1, rs2 uint32) uint32 {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: op, Rd: 3, Rs1: 1, Rs2: 2}),
				})
				e.RegFile().WriteReg(1, rs1)
				e.RegFile().WriteReg(2, rs2)
				Expect(e.Step().Err).To(BeNil())
				return e.RegFile().ReadReg(3)
			}

			It("should multiply low and high halves", func() {
				Expect(step1(insts.OpMUL, 0x10000, 0x10000)).To(Equal(uint32(0)))
				Expect(step1(insts.OpMULHU, 0x10000, 0x10000)).To(Equal(uint32(1)))
			})

			It("should compute MULH on signed operands", func() {
				// -2 * -2 = 4, high word 0
				Expect(step1(insts.OpMULH, 0xfffffffe, 0xfffffffe)).To(Equal(uint32(0)))
				// -1 * 2 = -2 -> high word all ones
				Expect(step1(insts.OpMULH, 0xffffffff, 2)).To(Equal(uint32(0xffffffff)))
			})

			It("should compute MULHSU with a signed rs1 and unsigned rs2", func() {
				// -1 * 0xffffffff = -0xffffffff -> high word 0xffffffff
				Expect(step1(insts.OpMULHSU, 0xffffffff, 0xffffffff)).To(Equal(uint32(0xffffffff)))
			})

			It("should follow the division-by-zero rule", func() {
				Expect(step1(insts.OpDIV, 42, 0)).To(Equal(uint32(0xffffffff)))
				Expect(step1(insts.OpDIVU, 42, 0)).To(Equal(uint32(0xffffffff)))
				Expect(step1(insts.OpREM, 42, 0)).To(Equal(uint32(42)))
				Expect(step1(insts.OpREMU, 42, 0)).To(Equal(uint32(42)))
			})

			It("should follow the signed-overflow rule", func() {
				Expect(step1(insts.OpDIV, 0x80000000, 0xffffffff)).To(Equal(uint32(0x80000000)))
				Expect(step1(insts.OpREM, 0x80000000, 0xffffffff)).To(Equal(uint32(0)))
			})

			It("should divide and round toward zero", func() {
				Expect(step1(insts.OpDIV, 0xfffffff9, 2)).To(Equal(uint32(0xfffffffd))) // -7 / 2 = -3
				Expect(step1(insts.OpREM, 0xfffffff9, 2)).To(Equal(uint32(0xffffffff))) // -7 % 2 = -1
			})
		})

		Context("control transfer", func() {
			It("should link and jump through JAL", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpJAL, Rd: 1, Imm: 8}),
				})

				Expect(e.Step().Err).To(BeNil())
				Expect(e.RegFile().ReadReg(1)).To(Equal(testTextBase + 4))
				Expect(e.RegFile().PC).To(Equal(testTextBase + 8))
			})

			It("should clear the target LSB through JALR", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpJALR, Rd: 1, Rs1: 5, Imm: 1}),
				})
				e.RegFile().WriteReg(5, testTextBase+8)

				Expect(e.Step().Err).To(BeNil())
				Expect(e.RegFile().ReadReg(1)).To(Equal(testTextBase + 4))
				Expect(e.RegFile().PC).To(Equal(testTextBase + 8))
			})

			It("should take and fall through branches", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpBNE, Rs1: 1, Rs2: 2, Imm: 8}),
					asm(insts.Instruction{Op: insts.OpBEQ, Rs1: 1, Rs2: 2, Imm: 8}),
				})
				e.RegFile().WriteReg(1, 7)
				e.RegFile().WriteReg(2, 7)

				// BNE falls through to the next instruction
				Expect(e.Step().Err).To(BeNil())
				Expect(e.RegFile().PC).To(Equal(testTextBase + 4))

				// BEQ is taken relative to its own address
				Expect(e.Step().Err).To(BeNil())
				Expect(e.RegFile().PC).To(Equal(testTextBase + 12))
			})

			It("should branch backwards", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpADDI, Rd: 1, Rs1: 1, Imm: 1}),
					asm(insts.Instruction{Op: insts.OpBLT, Rs1: 1, Rs2: 2, Imm: -4}),
				})
				e.RegFile().WriteReg(2, 3)

				// addi/blt loop runs until x1 reaches 3
				for i := 0; i < 5; i++ {
					Expect(e.Step().Err).To(BeNil())
				}
				Expect(e.RegFile().ReadReg(1)).To(Equal(uint32(3)))
			})

			It("should compare BLTU unsigned", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpBLTU, Rs1: 1, Rs2: 2, Imm: 8}),
				})
				e.RegFile().WriteReg(1, 0xffffffff)
				e.RegFile().WriteReg(2, 1)

				Expect(e.Step().Err).To(BeNil())
				// 0xffffffff is not below 1 unsigned: fall through
				Expect(e.RegFile().PC).To(Equal(testTextBase + 4))
			})

			It("should keep PC 4-byte aligned after every successful step", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpJAL, Rd: 0, Imm: 8}),
					asm(insts.Instruction{Op: insts.OpADDI, Rd: 0, Rs1: 0, Imm: 0}),
					asm(insts.Instruction{Op: insts.OpADDI, Rd: 1, Rs1: 0, Imm: 1}),
				})

				for i := 0; i < 2; i++ {
					Expect(e.Step().Err).To(BeNil())
					Expect(e.RegFile().PC % 4).To(BeZero())
				}
			})
		})

		Context("upper immediates", func() {
			It("should execute LUI", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpLUI, Rd: 1, Imm: 0x12345000}),
				})

				Expect(e.Step().Err).To(BeNil())
				Expect(e.RegFile().ReadReg(1)).To(Equal(uint32(0x12345000)))
			})

			It("should execute AUIPC relative to the instruction address", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpAUIPC, Rd: 1, Imm: 0x1000}),
				})

				Expect(e.Step().Err).To(BeNil())
				Expect(e.RegFile().ReadReg(1)).To(Equal(testTextBase + 0x1000))
			})
		})

		Context("loads and stores", func() {
			It("should round-trip a word and read it back bytewise little-endian", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpSW, Rs1: 5, Rs2: 6, Imm: 0}),
					asm(insts.Instruction{Op: insts.OpLBU, Rd: 7, Rs1: 5, Imm: 0}),
					asm(insts.Instruction{Op: insts.OpLBU, Rd: 8, Rs1: 5, Imm: 1}),
					asm(insts.Instruction{Op: insts.OpLBU, Rd: 9, Rs1: 5, Imm: 2}),
					asm(insts.Instruction{Op: insts.OpLBU, Rd: 10, Rs1: 5, Imm: 3}),
				})
				e.RegFile().WriteReg(5, testDataBase)
				e.RegFile().WriteReg(6, 0x11223344)

				for i := 0; i < 5; i++ {
					Expect(e.Step().Err).To(BeNil())
				}

				Expect(e.RegFile().ReadReg(7)).To(Equal(uint32(0x44)))
				Expect(e.RegFile().ReadReg(8)).To(Equal(uint32(0x33)))
				Expect(e.RegFile().ReadReg(9)).To(Equal(uint32(0x22)))
				Expect(e.RegFile().ReadReg(10)).To(Equal(uint32(0x11)))
			})

			It("should sign-extend LB and LH", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpSW, Rs1: 5, Rs2: 6, Imm: 0}),
					asm(insts.Instruction{Op: insts.OpLB, Rd: 7, Rs1: 5, Imm: 0}),
					asm(insts.Instruction{Op: insts.OpLH, Rd: 8, Rs1: 5, Imm: 0}),
					asm(insts.Instruction{Op: insts.OpLHU, Rd: 9, Rs1: 5, Imm: 0}),
				})
				e.RegFile().WriteReg(5, testDataBase)
				e.RegFile().WriteReg(6, 0x8081)

				for i := 0; i < 4; i++ {
					Expect(e.Step().Err).To(BeNil())
				}

				Expect(e.RegFile().ReadReg(7)).To(Equal(uint32(0xffffff81)))
				Expect(e.RegFile().ReadReg(8)).To(Equal(uint32(0xffff8081)))
				Expect(e.RegFile().ReadReg(9)).To(Equal(uint32(0x8081)))
			})

			It("should fault a store into the text segment", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpSW, Rs1: 5, Rs2: 6, Imm: 0}),
				})
				e.RegFile().WriteReg(5, testTextBase)

				result := e.Step()

				var memErr *emu.MemoryError
				Expect(errors.As(result.Err, &memErr)).To(BeTrue())
				Expect(memErr.Kind).To(Equal(emu.MemPermissionDenied))
			})

			It("should fault a misaligned load", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpLW, Rd: 7, Rs1: 5, Imm: 2}),
				})
				e.RegFile().WriteReg(5, testDataBase)

				result := e.Step()

				var memErr *emu.MemoryError
				Expect(errors.As(result.Err, &memErr)).To(BeTrue())
				Expect(memErr.Kind).To(Equal(emu.MemMisaligned))
			})
		})

		Context("faults", func() {
			It("should fault on an illegal instruction", func() {
				e := buildEmulator([]uint32{0xffffffff})

				result := e.Step()

				var illErr *emu.IllegalInstructionError
				Expect(errors.As(result.Err, &illErr)).To(BeTrue())
				Expect(illErr.PC).To(Equal(testTextBase))
				Expect(illErr.Word).To(Equal(uint32(0xffffffff)))
			})

			It("should fault on EBREAK", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpEBREAK, Imm: 1}),
				})

				result := e.Step()

				var execErr *emu.ExecutionError
				Expect(errors.As(result.Err, &execErr)).To(BeTrue())
				Expect(execErr.Kind).To(Equal(emu.ExecBreakpoint))
			})

			It("should fault a fetch from a non-executable segment", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpJALR, Rd: 0, Rs1: 5, Imm: 0}),
				})
				e.RegFile().WriteReg(5, testDataBase)

				Expect(e.Step().Err).To(BeNil())
				result := e.Step()

				var memErr *emu.MemoryError
				Expect(errors.As(result.Err, &memErr)).To(BeTrue())
				Expect(memErr.Kind).To(Equal(emu.MemPermissionDenied))
				Expect(memErr.Op).To(Equal(emu.MemOpFetch))
			})

			It("should fault a misaligned PC", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpJALR, Rd: 0, Rs1: 5, Imm: 0}),
				})
				e.RegFile().WriteReg(5, testTextBase+2)

				Expect(e.Step().Err).To(BeNil())
				result := e.Step()

				var execErr *emu.ExecutionError
				Expect(errors.As(result.Err, &execErr)).To(BeTrue())
				Expect(execErr.Kind).To(Equal(emu.ExecInstructionAddressMisaligned))
				Expect(execErr.PC).To(Equal(testTextBase + 2))
			})

			It("should enforce the instruction limit", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpJAL, Rd: 0, Imm: 0}), // spin forever
				}, emu.WithMaxInstructions(10))

				_, err := e.Run()

				var execErr *emu.ExecutionError
				Expect(errors.As(err, &execErr)).To(BeTrue())
				Expect(execErr.Kind).To(Equal(emu.ExecInstructionLimit))
				Expect(e.InstructionCount()).To(Equal(uint64(10)))
			})

			It("should reject RV32M encodings when disabled", func() {
				e := buildEmulator([]uint32{
					asm(insts.Instruction{Op: insts.OpMUL, Rd: 3, Rs1: 1, Rs2: 2}),
				}, emu.WithRV32M(false))

				result := e.Step()

				var illErr *emu.IllegalInstructionError
				Expect(errors.As(result.Err, &illErr)).To(BeTrue())
			})
		})

		Context("FENCE", func() {
			It("should advance past FENCE with no other effect", func() {
				e := buildEmulator([]uint32{0x0ff0000f})

				Expect(e.Step().Err).To(BeNil())
				Expect(e.RegFile().PC).To(Equal(testTextBase + 4))
			})
		})
	})

	Describe("Run", func() {
		It("should run until the guest exits and report its code", func() {
			e := buildEmulator([]uint32{
				asm(insts.Instruction{Op: insts.OpADDI, Rd: insts.RegA0, Rs1: 0, Imm: 7}),
				asm(insts.Instruction{Op: insts.OpADDI, Rd: insts.RegA7, Rs1: 0, Imm: 93}),
				asm(insts.Instruction{Op: insts.OpECALL}),
			}, emu.WithStdout(&bytes.Buffer{}))

			code, err := e.Run()

			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(7))
			Expect(e.InstructionCount()).To(Equal(uint64(3)))
		})
	})
})
