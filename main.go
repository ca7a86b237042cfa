// Package main provides the entry point for rvsim.
// rvsim is a user-mode emulator for 32-bit RISC-V (RV32IM) executables.
//
// For the full CLI, use: go run ./cmd/rvsim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("rvsim - RV32 user-mode emulator")
	fmt.Println("")
	fmt.Println("Usage: rvsim [options] <program.elf>")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -d                  Disassemble executable segments and exit")
	fmt.Println("  -D                  Dump all segments and exit")
	fmt.Println("  -log-level          Set the log level (error, warn, info, debug, trace)")
	fmt.Println("  -max-instructions   Abort after this many instructions")
	fmt.Println("  -stack-size         Guest stack size in bytes")
	fmt.Println("  -version            Print version and exit")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/rvsim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/rvsim' instead.")
	}
}
