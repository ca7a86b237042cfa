// Package emu provides functional RV32 emulation.
package emu

import (
	"errors"
	"fmt"
	"io"
	"syscall"

	"github.com/sarchlab/rvsim/insts"
	"github.com/sarchlab/rvsim/log"
)

// Environment-call selectors. The low numbers follow the MARS/SPIM
// tradition; 63/64/93/214 are the RISC-V Linux numbers. Both are kept so
// existing test programs run unchanged.
const (
	SyscallPrintInt    uint32 = 1   // print decimal a0 (signed)
	SyscallPrintString uint32 = 4   // print NUL-terminated string at a0
	SyscallExit        uint32 = 10  // terminate with code 0
	SyscallPrintChar   uint32 = 11  // print low byte of a0
	SyscallRead        uint32 = 63  // read(fd, buf, len)
	SyscallWrite       uint32 = 64  // write(fd, buf, len)
	SyscallExitLinux   uint32 = 93  // terminate with code a0
	SyscallBrk         uint32 = 214 // set program break to a0 (0 queries)
)

// Linux error numbers returned to the guest in a0.
const (
	EBADF = 9  // bad file descriptor
	EIO   = 5  // I/O error
	EPIPE = 32 // broken pipe
)

// SyscallResult represents the result of an environment call.
type SyscallResult struct {
	// Exited is true if the call terminated the program.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int
}

// SyscallHandler is the interface for handling guest environment calls.
type SyscallHandler interface {
	// Handle executes the environment call indicated by the register
	// file state: selector in a7, arguments in a0-a6, result in a0.
	Handle() (SyscallResult, error)
}

// DefaultSyscallHandler bridges the supported environment calls to host
// standard I/O.
type DefaultSyscallHandler struct {
	regFile *RegFile
	memory  *Memory
	fds     *FDTable
	logger  *log.Logger
}

// NewDefaultSyscallHandler creates a handler over the given host
// streams.
func NewDefaultSyscallHandler(regFile *RegFile, memory *Memory, stdin io.Reader, stdout, stderr io.Writer) *DefaultSyscallHandler {
	return &DefaultSyscallHandler{
		regFile: regFile,
		memory:  memory,
		fds:     NewFDTable(stdin, stdout, stderr),
		logger:  log.Default().Module("syscall"),
	}
}

// Handle executes the environment call indicated by the register file
// state.
func (h *DefaultSyscallHandler) Handle() (SyscallResult, error) {
	num := h.regFile.ReadReg(insts.RegA7)

	h.logger.Debug("ecall",
		"selector", num,
		"a0", fmt.Sprintf("%#x", h.regFile.ReadReg(insts.RegA0)),
		"a1", fmt.Sprintf("%#x", h.regFile.ReadReg(insts.RegA1)),
		"a2", fmt.Sprintf("%#x", h.regFile.ReadReg(insts.RegA2)))

	switch num {
	case SyscallPrintInt:
		return h.handlePrintInt()
	case SyscallPrintString:
		return h.handlePrintString()
	case SyscallExit:
		return SyscallResult{Exited: true}, nil
	case SyscallPrintChar:
		return h.handlePrintChar()
	case SyscallRead:
		return h.handleRead()
	case SyscallWrite:
		return h.handleWrite()
	case SyscallExitLinux:
		exitCode := int(int32(h.regFile.ReadReg(insts.RegA0)))
		return SyscallResult{Exited: true, ExitCode: exitCode}, nil
	case SyscallBrk:
		return h.handleBrk()
	default:
		return SyscallResult{}, &ExecutionError{Kind: ExecUnknownSyscall, Num: num}
	}
}

// handlePrintInt writes the decimal representation of a0 (signed) to
// stdout.
func (h *DefaultSyscallHandler) handlePrintInt() (SyscallResult, error) {
	value := int32(h.regFile.ReadReg(insts.RegA0))
	return h.print([]byte(fmt.Sprintf("%d", value)))
}

// handlePrintString writes the NUL-terminated string at guest address a0
// to stdout.
func (h *DefaultSyscallHandler) handlePrintString() (SyscallResult, error) {
	addr := h.regFile.ReadReg(insts.RegA0)
	buf, err := h.memory.ReadCString(addr)
	if err != nil {
		return SyscallResult{}, err
	}
	return h.print(buf)
}

// handlePrintChar writes the low byte of a0 to stdout.
func (h *DefaultSyscallHandler) handlePrintChar() (SyscallResult, error) {
	return h.print([]byte{byte(h.regFile.ReadReg(insts.RegA0))})
}

// print writes to stdout. A closed stream is tolerated; other host
// failures are fatal.
func (h *DefaultSyscallHandler) print(buf []byte) (SyscallResult, error) {
	w, _ := h.fds.Writer(1)
	if _, err := w.Write(buf); err != nil {
		if streamClosed(err) {
			return SyscallResult{}, nil
		}
		return SyscallResult{}, &HostError{Op: "write", Err: err}
	}
	return SyscallResult{}, nil
}

// handleRead handles read(fd=a0, buf=a1, len=a2), returning the byte
// count in a0. EOF reads as 0 bytes.
func (h *DefaultSyscallHandler) handleRead() (SyscallResult, error) {
	fd := h.regFile.ReadReg(insts.RegA0)
	bufPtr := h.regFile.ReadReg(insts.RegA1)
	count := h.regFile.ReadReg(insts.RegA2)

	r, ok := h.fds.Reader(fd)
	if !ok {
		h.setError(EBADF)
		return SyscallResult{}, nil
	}
	if r == nil {
		h.regFile.WriteReg(insts.RegA0, 0)
		return SyscallResult{}, nil
	}

	// The guest buffer is checked before the host stream is touched.
	if count > 0 {
		seg, err := h.memory.find(bufPtr, count, MemOpWrite)
		if err != nil {
			return SyscallResult{}, err
		}
		if seg.Perm&PermWrite == 0 {
			return SyscallResult{}, &MemoryError{Kind: MemPermissionDenied, Op: MemOpWrite, Addr: bufPtr, Width: count}
		}
	}

	buf := make([]byte, count)
	n, err := r.Read(buf)
	if err != nil && n == 0 {
		if streamClosed(err) {
			h.regFile.WriteReg(insts.RegA0, 0)
			return SyscallResult{}, nil
		}
		return SyscallResult{}, &HostError{Op: "read", Err: err}
	}

	// The guest buffer is validated before any bytes land.
	if err := h.memory.WriteBytes(bufPtr, buf[:n]); err != nil {
		return SyscallResult{}, err
	}

	h.regFile.WriteReg(insts.RegA0, uint32(n))
	return SyscallResult{}, nil
}

// handleWrite handles write(fd=a0, buf=a1, len=a2), returning the byte
// count in a0.
func (h *DefaultSyscallHandler) handleWrite() (SyscallResult, error) {
	fd := h.regFile.ReadReg(insts.RegA0)
	bufPtr := h.regFile.ReadReg(insts.RegA1)
	count := h.regFile.ReadReg(insts.RegA2)

	w, ok := h.fds.Writer(fd)
	if !ok {
		h.setError(EBADF)
		return SyscallResult{}, nil
	}

	buf, err := h.memory.ReadBytes(bufPtr, count)
	if err != nil {
		return SyscallResult{}, err
	}

	n, err := w.Write(buf)
	if err != nil {
		if streamClosed(err) {
			h.setError(EPIPE)
			return SyscallResult{}, nil
		}
		return SyscallResult{}, &HostError{Op: "write", Err: err}
	}

	h.regFile.WriteReg(insts.RegA0, uint32(n))
	return SyscallResult{}, nil
}

// handleBrk adjusts the program break. a0 == 0 queries the current
// break; otherwise a0 is the requested break address. The new break is
// returned in a0.
func (h *DefaultSyscallHandler) handleBrk() (SyscallResult, error) {
	req := h.regFile.ReadReg(insts.RegA0)
	if req == 0 {
		h.regFile.WriteReg(insts.RegA0, h.memory.Brk())
		return SyscallResult{}, nil
	}

	delta := int32(req - h.memory.Brk())
	newBrk, err := h.memory.Sbrk(delta)
	if err != nil {
		return SyscallResult{}, err
	}

	h.regFile.WriteReg(insts.RegA0, newBrk)
	return SyscallResult{}, nil
}

// setError sets a0 to -errno (as two's complement).
func (h *DefaultSyscallHandler) setError(errno int) {
	h.regFile.WriteReg(insts.RegA0, uint32(-int32(errno)))
}

// streamClosed reports whether a host I/O error means the peer is gone
// (EOF, closed pipe) rather than a genuine failure.
func streamClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE)
}
