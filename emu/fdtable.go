// Package emu provides functional RV32 emulation.
package emu

import "io"

// FDTable maps guest file descriptors to host streams. Guests cannot
// open files, so only the standard descriptors 0, 1, and 2 exist.
type FDTable struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// NewFDTable creates a descriptor table over the given host streams. A
// nil stdin behaves as an always-EOF stream.
func NewFDTable(stdin io.Reader, stdout, stderr io.Writer) *FDTable {
	return &FDTable{stdin: stdin, stdout: stdout, stderr: stderr}
}

// Reader returns the host stream behind a readable descriptor.
func (t *FDTable) Reader(fd uint32) (io.Reader, bool) {
	if fd == 0 {
		return t.stdin, true
	}
	return nil, false
}

// Writer returns the host stream behind a writable descriptor.
func (t *FDTable) Writer(fd uint32) (io.Writer, bool) {
	switch fd {
	case 1:
		return t.stdout, true
	case 2:
		return t.stderr, true
	default:
		return nil, false
	}
}
