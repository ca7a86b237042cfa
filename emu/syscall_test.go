package emu_test

import (
	"bytes"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvsim/emu"
	"github.com/sarchlab/rvsim/insts"
)

var _ = Describe("Syscall Handler", func() {
	var (
		regFile *emu.RegFile
		memory  *emu.Memory
		stdin   *strings.Reader
		stdout  *bytes.Buffer
		stderr  *bytes.Buffer
		handler *emu.DefaultSyscallHandler
	)

	BeforeEach(func() {
		regFile = &emu.RegFile{}
		memory = emu.NewMemory()

		rodata, err := memory.AddSegment(".rodata", 0x1000, 0x40, emu.PermRead)
		Expect(err).NotTo(HaveOccurred())
		copy(rodata.Data, "Hello World!\x00")

		_, err = memory.AddSegment(".data", 0x2000, 0x40, emu.PermRead|emu.PermWrite)
		Expect(err).NotTo(HaveOccurred())

		_, err = memory.AddHeap(0x3000)
		Expect(err).NotTo(HaveOccurred())

		stdin = strings.NewReader("input line\n")
		stdout = new(bytes.Buffer)
		stderr = new(bytes.Buffer)
		handler = emu.NewDefaultSyscallHandler(regFile, memory, stdin, stdout, stderr)
	})

	call := func(num uint32) (emu.SyscallResult, error) {
		regFile.WriteReg(insts.RegA7, num)
		return handler.Handle()
	}

	Describe("print_int (1)", func() {
		It("should print the signed decimal value of a0", func() {
			regFile.WriteReg(insts.RegA0, 0xffffffff)

			result, err := call(1)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Exited).To(BeFalse())
			Expect(stdout.String()).To(Equal("-1"))
		})
	})

	Describe("print_string (4)", func() {
		It("should print the NUL-terminated string at a0", func() {
			regFile.WriteReg(insts.RegA0, 0x1000)

			_, err := call(4)

			Expect(err).NotTo(HaveOccurred())
			Expect(stdout.String()).To(Equal("Hello World!"))
		})

		It("should fault an invalid string pointer", func() {
			regFile.WriteReg(insts.RegA0, 0x9000)

			_, err := call(4)

			var memErr *emu.MemoryError
			Expect(errors.As(err, &memErr)).To(BeTrue())
		})
	})

	Describe("print_char (11)", func() {
		It("should print the low byte of a0", func() {
			regFile.WriteReg(insts.RegA0, 0x1241) // low byte 'A'

			_, err := call(11)

			Expect(err).NotTo(HaveOccurred())
			Expect(stdout.String()).To(Equal("A"))
		})
	})

	Describe("exit (10) and exit_linux (93)", func() {
		It("should terminate with code 0 for selector 10", func() {
			regFile.WriteReg(insts.RegA0, 55) // ignored

			result, err := call(10)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Exited).To(BeTrue())
			Expect(result.ExitCode).To(Equal(0))
		})

		It("should terminate with the code in a0 for selector 93", func() {
			regFile.WriteReg(insts.RegA0, 3)

			result, err := call(93)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Exited).To(BeTrue())
			Expect(result.ExitCode).To(Equal(3))
		})
	})

	Describe("write (64)", func() {
		It("should write guest bytes to stdout and return the count", func() {
			Expect(memory.WriteBytes(0x2000, []byte("abcdef"))).To(Succeed())
			regFile.WriteReg(insts.RegA0, 1)
			regFile.WriteReg(insts.RegA1, 0x2000)
			regFile.WriteReg(insts.RegA2, 6)

			_, err := call(64)

			Expect(err).NotTo(HaveOccurred())
			Expect(stdout.String()).To(Equal("abcdef"))
			Expect(regFile.ReadReg(insts.RegA0)).To(Equal(uint32(6)))
		})

		It("should write to stderr for fd 2", func() {
			Expect(memory.WriteBytes(0x2000, []byte("oops"))).To(Succeed())
			regFile.WriteReg(insts.RegA0, 2)
			regFile.WriteReg(insts.RegA1, 0x2000)
			regFile.WriteReg(insts.RegA2, 4)

			_, err := call(64)

			Expect(err).NotTo(HaveOccurred())
			Expect(stderr.String()).To(Equal("oops"))
		})

		It("should return -EBADF for an unknown descriptor", func() {
			regFile.WriteReg(insts.RegA0, 7)
			regFile.WriteReg(insts.RegA1, 0x2000)
			regFile.WriteReg(insts.RegA2, 1)

			_, err := call(64)

			Expect(err).NotTo(HaveOccurred())
			Expect(int32(regFile.ReadReg(insts.RegA0))).To(Equal(int32(-emu.EBADF)))
		})

		It("should validate the guest buffer before writing", func() {
			regFile.WriteReg(insts.RegA0, 1)
			regFile.WriteReg(insts.RegA1, 0x9000)
			regFile.WriteReg(insts.RegA2, 4)

			_, err := call(64)

			var memErr *emu.MemoryError
			Expect(errors.As(err, &memErr)).To(BeTrue())
			Expect(stdout.Len()).To(BeZero())
		})
	})

	Describe("read (63)", func() {
		It("should read host bytes into guest memory and return the count", func() {
			regFile.WriteReg(insts.RegA0, 0)
			regFile.WriteReg(insts.RegA1, 0x2000)
			regFile.WriteReg(insts.RegA2, 5)

			_, err := call(63)

			Expect(err).NotTo(HaveOccurred())
			Expect(regFile.ReadReg(insts.RegA0)).To(Equal(uint32(5)))

			buf, err := memory.ReadBytes(0x2000, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(buf).To(Equal([]byte("input")))
		})

		It("should read 0 bytes at EOF", func() {
			handler = emu.NewDefaultSyscallHandler(regFile, memory, strings.NewReader(""), stdout, stderr)
			regFile.WriteReg(insts.RegA0, 0)
			regFile.WriteReg(insts.RegA1, 0x2000)
			regFile.WriteReg(insts.RegA2, 5)

			_, err := call(63)

			Expect(err).NotTo(HaveOccurred())
			Expect(regFile.ReadReg(insts.RegA0)).To(Equal(uint32(0)))
		})

		It("should read 0 bytes when no stdin is configured", func() {
			handler = emu.NewDefaultSyscallHandler(regFile, memory, nil, stdout, stderr)
			regFile.WriteReg(insts.RegA0, 0)
			regFile.WriteReg(insts.RegA2, 5)

			_, err := call(63)

			Expect(err).NotTo(HaveOccurred())
			Expect(regFile.ReadReg(insts.RegA0)).To(Equal(uint32(0)))
		})

		It("should return -EBADF for a non-readable descriptor", func() {
			regFile.WriteReg(insts.RegA0, 1)

			_, err := call(63)

			Expect(err).NotTo(HaveOccurred())
			Expect(int32(regFile.ReadReg(insts.RegA0))).To(Equal(int32(-emu.EBADF)))
		})
	})

	Describe("brk (214)", func() {
		It("should report the current break for a0 == 0", func() {
			regFile.WriteReg(insts.RegA0, 0)

			_, err := call(214)

			Expect(err).NotTo(HaveOccurred())
			Expect(regFile.ReadReg(insts.RegA0)).To(Equal(uint32(0x3000)))
		})

		It("should move the break to the requested address", func() {
			regFile.WriteReg(insts.RegA0, 0x3800)

			_, err := call(214)

			Expect(err).NotTo(HaveOccurred())
			Expect(regFile.ReadReg(insts.RegA0)).To(Equal(uint32(0x3800)))
			Expect(memory.Brk()).To(Equal(uint32(0x3800)))

			// The fresh heap pages are usable.
			Expect(memory.Write32(0x3000, 0xdeadbeef)).To(Succeed())
		})

		It("should fault an unsatisfiable request", func() {
			memory.SetHeapLimit(0x100)
			regFile.WriteReg(insts.RegA0, 0x4000)

			_, err := call(214)

			var memErr *emu.MemoryError
			Expect(errors.As(err, &memErr)).To(BeTrue())
			Expect(memErr.Kind).To(Equal(emu.MemOutOfMemory))
		})
	})

	Describe("unknown selectors", func() {
		It("should fault with the selector number", func() {
			_, err := call(4242)

			var execErr *emu.ExecutionError
			Expect(errors.As(err, &execErr)).To(BeTrue())
			Expect(execErr.Kind).To(Equal(emu.ExecUnknownSyscall))
			Expect(execErr.Num).To(Equal(uint32(4242)))
		})
	})
})
