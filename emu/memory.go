// Package emu provides functional RV32 emulation.
package emu

import (
	"encoding/binary"
	"fmt"
)

// Perm is a segment permission bitset.
type Perm uint8

// Segment permissions.
const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExecute
)

func (p Perm) String() string {
	b := []byte("---")
	if p&PermRead != 0 {
		b[0] = 'r'
	}
	if p&PermWrite != 0 {
		b[1] = 'w'
	}
	if p&PermExecute != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Segment is a contiguous span of guest memory with uniform permissions.
type Segment struct {
	Name string
	Base uint32
	Perm Perm
	Data []byte
}

// End returns the first address past the segment.
func (s *Segment) End() uint32 {
	return s.Base + uint32(len(s.Data))
}

// contains reports whether [addr, addr+width) lies entirely inside the
// segment. Accesses never cross segment boundaries.
func (s *Segment) contains(addr, width uint32) bool {
	return addr >= s.Base && addr-s.Base+width <= uint32(len(s.Data))
}

// DefaultHeapLimit caps heap growth under sbrk at 64 MiB.
const DefaultHeapLimit = 64 << 20

// Memory is a sparse map from base addresses to byte segments. Program
// images carry at most a handful of segments, so lookups scan linearly.
type Memory struct {
	segments []*Segment

	heap      *Segment
	heapLimit uint32
}

// NewMemory creates an empty Memory with the default heap growth cap.
func NewMemory() *Memory {
	return &Memory{heapLimit: DefaultHeapLimit}
}

// AddSegment allocates a segment of the given size and registers it. The
// segment must not overlap any existing segment.
func (m *Memory) AddSegment(name string, base uint32, size uint32, perm Perm) (*Segment, error) {
	if base+size < base {
		return nil, fmt.Errorf("segment %s at %#08x (+%d) wraps the address space", name, base, size)
	}
	for _, s := range m.segments {
		if base < s.End() && s.Base < base+size {
			return nil, fmt.Errorf("segment %s [%#08x, %#08x) overlaps %s [%#08x, %#08x)",
				name, base, base+size, s.Name, s.Base, s.End())
		}
	}

	seg := &Segment{
		Name: name,
		Base: base,
		Perm: perm,
		Data: make([]byte, size),
	}
	m.segments = append(m.segments, seg)
	return seg, nil
}

// AddHeap registers the heap segment at the given base. The heap starts
// empty and grows upward under Sbrk.
func (m *Memory) AddHeap(base uint32) (*Segment, error) {
	seg, err := m.AddSegment(".heap", base, 0, PermRead|PermWrite)
	if err != nil {
		return nil, err
	}
	m.heap = seg
	return seg, nil
}

// SetHeapLimit overrides the heap growth cap.
func (m *Memory) SetHeapLimit(limit uint32) {
	m.heapLimit = limit
}

// Segments returns the registered segments in registration order.
func (m *Memory) Segments() []*Segment {
	return m.segments
}

// Brk returns the current program break (the end of the heap segment).
func (m *Memory) Brk() uint32 {
	if m.heap == nil {
		return 0
	}
	return m.heap.End()
}

// Sbrk adjusts the program break by delta bytes and returns the new
// break. Growth past the heap cap or into another segment, and
// contraction below the initial break, fail with OutOfMemory; the break
// is unchanged on failure.
func (m *Memory) Sbrk(delta int32) (uint32, error) {
	if m.heap == nil {
		return 0, &MemoryError{Kind: MemOutOfMemory}
	}

	size := int64(len(m.heap.Data)) + int64(delta)
	if size < 0 || size > int64(m.heapLimit) {
		return 0, &MemoryError{Kind: MemOutOfMemory}
	}

	newEnd := m.heap.Base + uint32(size)
	for _, s := range m.segments {
		if s == m.heap {
			continue
		}
		if m.heap.Base < s.End() && s.Base < newEnd {
			return 0, &MemoryError{Kind: MemOutOfMemory}
		}
	}

	if delta >= 0 {
		m.heap.Data = append(m.heap.Data, make([]byte, delta)...)
	} else {
		m.heap.Data = m.heap.Data[:size]
	}
	return m.heap.End(), nil
}

// find locates the segment containing [addr, addr+width). A span that
// lies in no segment, or crosses a segment boundary, is out of bounds.
func (m *Memory) find(addr, width uint32, op MemoryOp) (*Segment, error) {
	for _, s := range m.segments {
		if s.contains(addr, width) {
			return s, nil
		}
	}
	return nil, &MemoryError{Kind: MemOutOfBounds, Op: op, Addr: addr, Width: width}
}

// access validates containment, permission, and alignment for one access.
func (m *Memory) access(addr, width uint32, op MemoryOp) (*Segment, error) {
	seg, err := m.find(addr, width, op)
	if err != nil {
		return nil, err
	}

	need := PermRead
	switch op {
	case MemOpWrite:
		need = PermWrite
	case MemOpFetch:
		need = PermExecute
	}
	if seg.Perm&need == 0 {
		return nil, &MemoryError{Kind: MemPermissionDenied, Op: op, Addr: addr, Width: width}
	}

	if addr%width != 0 {
		return nil, &MemoryError{Kind: MemMisaligned, Op: op, Addr: addr, Width: width}
	}
	return seg, nil
}

// Read8 reads one byte.
func (m *Memory) Read8(addr uint32) (uint8, error) {
	seg, err := m.access(addr, 1, MemOpRead)
	if err != nil {
		return 0, err
	}
	return seg.Data[addr-seg.Base], nil
}

// Read16 reads a little-endian halfword. The address must be 2-byte
// aligned.
func (m *Memory) Read16(addr uint32) (uint16, error) {
	seg, err := m.access(addr, 2, MemOpRead)
	if err != nil {
		return 0, err
	}
	off := addr - seg.Base
	return binary.LittleEndian.Uint16(seg.Data[off:]), nil
}

// Read32 reads a little-endian word. The address must be 4-byte aligned.
func (m *Memory) Read32(addr uint32) (uint32, error) {
	seg, err := m.access(addr, 4, MemOpRead)
	if err != nil {
		return 0, err
	}
	off := addr - seg.Base
	return binary.LittleEndian.Uint32(seg.Data[off:]), nil
}

// Write8 writes one byte.
func (m *Memory) Write8(addr uint32, value uint8) error {
	seg, err := m.access(addr, 1, MemOpWrite)
	if err != nil {
		return err
	}
	seg.Data[addr-seg.Base] = value
	return nil
}

// Write16 writes a little-endian halfword. The address must be 2-byte
// aligned.
func (m *Memory) Write16(addr uint32, value uint16) error {
	seg, err := m.access(addr, 2, MemOpWrite)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(seg.Data[addr-seg.Base:], value)
	return nil
}

// Write32 writes a little-endian word. The address must be 4-byte
// aligned.
func (m *Memory) Write32(addr uint32, value uint32) error {
	seg, err := m.access(addr, 4, MemOpWrite)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(seg.Data[addr-seg.Base:], value)
	return nil
}

// Fetch reads the instruction word at addr. The containing segment must
// be executable and the address 4-byte aligned.
func (m *Memory) Fetch(addr uint32) (uint32, error) {
	seg, err := m.access(addr, 4, MemOpFetch)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(seg.Data[addr-seg.Base:]), nil
}

// ReadBytes copies n bytes starting at addr. The span must be readable
// and lie within one segment. Used to validate guest buffers before host
// I/O.
func (m *Memory) ReadBytes(addr, n uint32) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	seg, err := m.find(addr, n, MemOpRead)
	if err != nil {
		return nil, err
	}
	if seg.Perm&PermRead == 0 {
		return nil, &MemoryError{Kind: MemPermissionDenied, Op: MemOpRead, Addr: addr, Width: n}
	}
	off := addr - seg.Base
	out := make([]byte, n)
	copy(out, seg.Data[off:off+n])
	return out, nil
}

// WriteBytes copies buf into guest memory at addr. The span must be
// writable and lie within one segment.
func (m *Memory) WriteBytes(addr uint32, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	n := uint32(len(buf))
	seg, err := m.find(addr, n, MemOpWrite)
	if err != nil {
		return err
	}
	if seg.Perm&PermWrite == 0 {
		return &MemoryError{Kind: MemPermissionDenied, Op: MemOpWrite, Addr: addr, Width: n}
	}
	copy(seg.Data[addr-seg.Base:], buf)
	return nil
}

// ReadCString reads bytes starting at addr up to (not including) a NUL
// terminator. The string must be fully contained in one readable
// segment.
func (m *Memory) ReadCString(addr uint32) ([]byte, error) {
	seg, err := m.find(addr, 1, MemOpRead)
	if err != nil {
		return nil, err
	}
	if seg.Perm&PermRead == 0 {
		return nil, &MemoryError{Kind: MemPermissionDenied, Op: MemOpRead, Addr: addr, Width: 1}
	}

	off := addr - seg.Base
	for i := off; i < uint32(len(seg.Data)); i++ {
		if seg.Data[i] == 0 {
			out := make([]byte, i-off)
			copy(out, seg.Data[off:i])
			return out, nil
		}
	}
	return nil, &MemoryError{Kind: MemOutOfBounds, Op: MemOpRead, Addr: seg.End(), Width: 1}
}
