// Package emu provides functional RV32 emulation.
package emu

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/rvsim/insts"
	"github.com/sarchlab/rvsim/log"
)

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Exited is true if the program terminated (via an exit
	// environment call).
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int

	// Err is set if a fatal fault occurred during execution.
	Err error
}

// Emulator executes RV32 instructions functionally: one hart, one
// instruction at a time, no recovery inside the loop.
type Emulator struct {
	regFile        *RegFile
	memory         *Memory
	decoder        *insts.Decoder
	syscallHandler SyscallHandler

	// Execution units
	alu        *ALU
	lsu        *LoadStoreUnit
	branchUnit *BranchUnit

	// I/O
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	logger *log.Logger

	// Execution state
	instructionCount uint64
	maxInstructions  uint64 // 0 means no limit
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithStdin sets a custom stdin reader.
func WithStdin(r io.Reader) EmulatorOption {
	return func(e *Emulator) {
		e.stdin = r
	}
}

// WithStdout sets a custom stdout writer.
func WithStdout(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stdout = w
	}
}

// WithStderr sets a custom stderr writer.
func WithStderr(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stderr = w
	}
}

// WithSyscallHandler sets a custom environment-call handler.
func WithSyscallHandler(handler SyscallHandler) EmulatorOption {
	return func(e *Emulator) {
		e.syscallHandler = handler
	}
}

// WithMemory replaces the emulator's memory, typically with one
// populated from a loaded program image.
func WithMemory(m *Memory) EmulatorOption {
	return func(e *Emulator) {
		e.memory = m
	}
}

// WithMaxInstructions caps the number of executed instructions. A value
// of 0 means no limit; exceeding the cap is a fatal fault.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// WithRV32M enables or disables the multiply/divide extension. It is
// enabled by default.
func WithRV32M(enabled bool) EmulatorOption {
	return func(e *Emulator) {
		e.decoder.EnableM = enabled
	}
}

// WithLogger sets the logger used for trace and debug records.
func WithLogger(l *log.Logger) EmulatorOption {
	return func(e *Emulator) {
		e.logger = l
	}
}

// NewEmulator creates a new RV32 emulator.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		regFile: &RegFile{},
		memory:  NewMemory(),
		decoder: insts.NewDecoder(),
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		logger:  log.Default().Module("emu"),
	}

	// Apply options first (may replace memory or streams)
	for _, opt := range opts {
		opt(e)
	}

	// Create execution units
	e.alu = NewALU(e.regFile)
	e.lsu = NewLoadStoreUnit(e.regFile, e.memory)
	e.branchUnit = NewBranchUnit(e.regFile)

	// If no syscall handler was provided, create a default one
	if e.syscallHandler == nil {
		e.syscallHandler = NewDefaultSyscallHandler(e.regFile, e.memory, e.stdin, e.stdout, e.stderr)
	}

	return e
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() *Memory {
	return e.memory
}

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// Step executes a single instruction: fetch at PC, decode, apply, update
// PC. A fatal fault carries the faulting PC.
func (e *Emulator) Step() StepResult {
	pc := e.regFile.PC

	if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
		return StepResult{Err: &ExecutionError{Kind: ExecInstructionLimit, PC: pc}}
	}

	if pc%4 != 0 {
		return StepResult{Err: &ExecutionError{Kind: ExecInstructionAddressMisaligned, PC: pc}}
	}

	word, err := e.memory.Fetch(pc)
	if err != nil {
		return StepResult{Err: fmt.Errorf("fetch at pc %#08x: %w", pc, err)}
	}

	inst := e.decoder.Decode(word)

	if e.logger.TraceEnabled() {
		e.logger.Trace("exec",
			"pc", fmt.Sprintf("%#08x", pc),
			"word", fmt.Sprintf("%08x", word),
			"asm", inst.String())
	}

	result := e.execute(pc, inst)

	if result.Err == nil {
		e.instructionCount++
	}

	return result
}

// Run executes instructions until the program exits or a fault occurs.
// On normal guest termination it returns the guest's exit code.
func (e *Emulator) Run() (int, error) {
	for {
		result := e.Step()
		if result.Exited {
			return result.ExitCode, nil
		}
		if result.Err != nil {
			return 0, result.Err
		}
	}
}

// execute applies a decoded instruction and advances PC.
func (e *Emulator) execute(pc uint32, inst *insts.Instruction) StepResult {
	switch inst.Op {
	case insts.OpUnknown:
		return StepResult{Err: &IllegalInstructionError{PC: pc, Word: inst.Raw}}
	case insts.OpECALL:
		return e.executeECALL(pc)
	case insts.OpEBREAK:
		return StepResult{Err: &ExecutionError{Kind: ExecBreakpoint, PC: pc}}
	case insts.OpLUI:
		e.regFile.WriteReg(inst.Rd, uint32(inst.Imm))
	case insts.OpAUIPC:
		e.regFile.WriteReg(inst.Rd, pc+uint32(inst.Imm))
	case insts.OpJAL:
		e.branchUnit.JAL(inst)
		return StepResult{} // PC already updated
	case insts.OpJALR:
		e.branchUnit.JALR(inst)
		return StepResult{} // PC already updated
	case insts.OpFENCE:
		// No observable effect on a single hart.
	default:
		switch inst.Format {
		case insts.FormatB:
			e.branchUnit.Branch(inst)
			return StepResult{} // PC already updated
		case insts.FormatR:
			e.alu.ExecuteReg(inst)
		case insts.FormatS:
			if err := e.lsu.Store(inst); err != nil {
				return StepResult{Err: fmt.Errorf("at pc %#08x: %w", pc, err)}
			}
		case insts.FormatI:
			switch inst.Op {
			case insts.OpLB, insts.OpLH, insts.OpLW, insts.OpLBU, insts.OpLHU:
				if err := e.lsu.Load(inst); err != nil {
					return StepResult{Err: fmt.Errorf("at pc %#08x: %w", pc, err)}
				}
			default:
				e.alu.ExecuteImm(inst)
			}
		}
	}

	e.regFile.PC = pc + 4
	return StepResult{}
}

// executeECALL hands control to the environment-call handler. The return
// address is the next instruction.
func (e *Emulator) executeECALL(pc uint32) StepResult {
	e.regFile.PC = pc + 4

	result, err := e.syscallHandler.Handle()
	if err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) && execErr.PC == 0 {
			execErr.PC = pc
		}
		return StepResult{Err: fmt.Errorf("ecall at pc %#08x: %w", pc, err)}
	}

	return StepResult{Exited: result.Exited, ExitCode: result.ExitCode}
}
