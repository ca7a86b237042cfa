// Package main provides the entry point for rvsim, a user-mode RV32
// emulator for statically-linked RISC-V ELF executables.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/sarchlab/rvsim/emu"
	"github.com/sarchlab/rvsim/insts"
	"github.com/sarchlab/rvsim/loader"
	"github.com/sarchlab/rvsim/log"
)

// Version is the rvsim release version.
const Version = "0.1.0"

// Host-side failure exit codes, distinct per error class.
const (
	exitUsage   = 2
	exitLoad    = 101
	exitIllegal = 102
	exitMemory  = 103
	exitExec    = 104
	exitHost    = 105
)

var (
	disasm    = flag.Bool("d", false, "Disassemble executable segments and exit")
	dumpAll   = flag.Bool("D", false, "Dump all segments and exit")
	version   = flag.Bool("version", false, "Print version and exit")
	logLevel  = flag.String("log-level", "", "Log level (overrides "+log.EnvVar+"): error, warn, info, debug, trace")
	maxInstrs = flag.Uint64("max-instructions", 0, "Abort after this many instructions (0 = no limit)")
	stackSize = flag.Uint("stack-size", loader.DefaultStackSize, "Guest stack size in bytes")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("rvsim %s\n", Version)
		os.Exit(0)
	}

	if *logLevel != "" {
		log.SetDefault(log.New(log.ParseLevel(*logLevel)))
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: rvsim [options] <program.elf>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(exitUsage)
	}

	programPath := flag.Arg(0)

	prog, err := loader.Load(programPath, loader.WithStackSize(uint32(*stackSize)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "rvsim: %v\n", err)
		os.Exit(exitLoad)
	}

	if *disasm || *dumpAll {
		dump(prog, *dumpAll)
		os.Exit(0)
	}

	os.Exit(run(prog))
}

// run executes the loaded program and maps the outcome to a process
// exit code.
func run(prog *loader.Program) int {
	emulator, err := emu.LoadProgram(prog,
		emu.WithStdin(os.Stdin),
		emu.WithMaxInstructions(*maxInstrs),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rvsim: %v\n", err)
		return exitLoad
	}

	exitCode, err := emulator.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rvsim: %v\n", err)
		return errorExitCode(err)
	}

	// The guest's exit code, clamped to the host's 8-bit range.
	if exitCode < 0 {
		exitCode = 0
	} else if exitCode > 255 {
		exitCode = 255
	}
	return exitCode
}

// errorExitCode maps a fault to its distinct host exit code.
func errorExitCode(err error) int {
	var (
		loadErr *loader.LoadError
		illErr  *emu.IllegalInstructionError
		memErr  *emu.MemoryError
		execErr *emu.ExecutionError
		hostErr *emu.HostError
	)
	switch {
	case errors.As(err, &loadErr):
		return exitLoad
	case errors.As(err, &illErr):
		return exitIllegal
	case errors.As(err, &memErr):
		return exitMemory
	case errors.As(err, &execErr):
		return exitExec
	case errors.As(err, &hostErr):
		return exitHost
	default:
		return 1
	}
}

// dump prints the program's segments: executable segments as
// disassembly, and, when all is set, the remaining segments as hex
// bytes. Symbol names label addresses when the image carries them.
func dump(prog *loader.Program, all bool) {
	labels := make(map[uint32]string, len(prog.Symbols))
	for name, addr := range prog.Symbols {
		labels[addr] = name
	}

	decoder := insts.NewDecoder()

	for _, seg := range prog.Segments {
		if seg.Flags&loader.SegmentFlagExecute == 0 {
			continue
		}
		fmt.Printf("%s:\n", seg.Name)
		for off := 0; off+4 <= len(seg.Data); off += 4 {
			addr := seg.VirtAddr + uint32(off)
			if name, ok := labels[addr]; ok {
				fmt.Printf("%08x <%s>:\n", addr, name)
			}
			word := uint32(seg.Data[off]) |
				uint32(seg.Data[off+1])<<8 |
				uint32(seg.Data[off+2])<<16 |
				uint32(seg.Data[off+3])<<24
			fmt.Printf("  %8x: %08x  %s\n", addr, word, decoder.Decode(word))
		}
	}

	if !all {
		return
	}

	for _, seg := range prog.Segments {
		if seg.Flags&loader.SegmentFlagExecute != 0 {
			continue
		}
		fmt.Printf("%s:\n", seg.Name)
		for off := 0; off < len(seg.Data); off += 16 {
			end := off + 16
			if end > len(seg.Data) {
				end = len(seg.Data)
			}
			fmt.Printf("  %8x:", seg.VirtAddr+uint32(off))
			for _, b := range seg.Data[off:end] {
				fmt.Printf(" %02x", b)
			}
			fmt.Println()
		}
	}
}
