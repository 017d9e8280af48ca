// Package gate manages the interrupt descriptor table and the entry stubs that
// save the interrupted context before handing control to Go code.
package gate

import (
	"io"
	"pluggos/kernel"
	"pluggos/kernel/cpu"
	"pluggos/kernel/kfmt"
	"unsafe"
)

//go:generate go run ../../tools/gengates -out gate_entries_amd64.s

// Registers contains a snapshot of all register values when an exception or
// interrupt occurs. The layout matches the stack frame built by the entry
// stubs in gate_amd64.s.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Vector is the interrupt vector that triggered the entry.
	Vector uint64

	// Info contains the error code pushed by the CPU for exceptions that
	// provide one and 0 otherwise.
	Info uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", r.RBP)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.R14, r.R15)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "VEC = %16x ERR = %16x\n", r.Vector, r.Info)
	kfmt.Fprintf(w, "RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	kfmt.Fprintf(w, "RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	kfmt.Fprintf(w, "RFL = %16x\n", r.RFlags)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// Debug is raised by debug traps and single-stepping.
	Debug = InterruptNumber(1)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems. It may also be
	// raised by the CPU when a watchdog timer is enabled.
	NMI = InterruptNumber(2)

	// Breakpoint is raised by the INT3 instruction.
	Breakpoint = InterruptNumber(3)

	// Overflow occurs when an overflow occurs (e.g result of division
	// cannot fit into the registers used).
	Overflow = InterruptNumber(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = InterruptNumber(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an
	// FPU/MMX/SSE instruction while no FPU is available or while
	// FPU/MMX/SSE support has been disabled by manipulating the CR0
	// register.
	DeviceNotAvailable = InterruptNumber(7)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// InvalidTSS occurs when the TSS points to an invalid task segment
	// selector.
	InvalidTSS = InterruptNumber(10)

	// SegmentNotPresent occurs when the CPU attempts to invoke a present
	// gate with an invalid stack segment selector.
	SegmentNotPresent = InterruptNumber(11)

	// StackSegmentFault occurs when attempting to push/pop from a
	// non-canonical stack address or when the stack base/limit (set in
	// GDT) checks fail.
	StackSegmentFault = InterruptNumber(12)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)

	// FloatingPointException occurs while invoking an FP instruction while:
	//  - CR0.NE = 1 OR
	//  - an unmasked FP exception is pending
	FloatingPointException = InterruptNumber(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligmed memory access is performed.
	AlignmentCheck = InterruptNumber(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = InterruptNumber(18)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs while CR4.OSXMMEXCPT is set to 1. If the OSXMMEXCPT bit is
	// not set, SIMD FP exceptions cause InvalidOpcode exceptions instead.
	SIMDFloatingPointException = InterruptNumber(19)

	// FirstExternal is the first vector available to external and
	// inter-processor interrupts; lower vectors are reserved for CPU
	// exceptions.
	FirstExternal = InterruptNumber(32)
)

const (
	// numGates is the number of IDT slots.
	numGates = 256

	// gateTypeInterrupt marks a present, ring-0, 64-bit interrupt gate.
	// Interrupt gates clear RFLAGS.IF on entry.
	gateTypeInterrupt = 0x8e

	gatePresentBit = 0x80
)

// Handler is a Go function that services an interrupt vector.
type Handler func(*Registers)

// descriptor is a 16-byte x86-64 IDT gate.
type descriptor struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

// tablePhase tracks the lifecycle of the interrupt table. The table is
// mutable while it is being built and frozen once loaded into the CPU.
type tablePhase uint8

const (
	phaseUninitialized tablePhase = iota
	phaseBuilding
	phaseLoaded
)

var (
	// KernelCodeSelector is the GDT selector of the 64-bit kernel code
	// segment installed by the boot code.
	KernelCodeSelector uint16 = 0x08

	idt      [numGates]descriptor
	handlers [numGates]Handler
	idtr     [10]byte
	phase    tablePhase

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	gateEntryAddrFn = gateEntryAddr
	loadIDTFn       = cpu.LoadIDT

	errTableFrozen         = &kernel.Error{Module: "gate", Message: "interrupt table is frozen"}
	errTableNotInitialized = &kernel.Error{Module: "gate", Message: "interrupt table has not been initialized"}
	errInvalidISTOffset    = &kernel.Error{Module: "gate", Message: "IST offset must be in the range [0, 7]"}
	errUnhandledException  = &kernel.Error{Module: "gate", Message: "unhandled CPU exception"}
)

// Init populates every IDT slot with its entry stub. All slots are present:
// exception vectors resolve to a terminal default handler and external
// vectors to a handler that reports the stray interrupt until a real handler
// is installed with HandleInterrupt.
func Init() {
	for vector := 0; vector < numGates; vector++ {
		setGate(&idt[vector], gateEntryAddrFn(uint8(vector)), KernelCodeSelector, 0)
		handlers[vector] = nil
	}
	phase = phaseBuilding
}

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular interrupt number occurs. The value of the istOffset argument
// specifies the offset in the interrupt stack table (if 0 then IST is not
// used). Handlers can only be installed between Init and Load.
func HandleInterrupt(intNumber InterruptNumber, istOffset uint8, handler Handler) *kernel.Error {
	switch {
	case phase == phaseUninitialized:
		return errTableNotInitialized
	case phase == phaseLoaded:
		return errTableFrozen
	case istOffset > 7:
		return errInvalidISTOffset
	}

	idt[intNumber].ist = istOffset
	handlers[intNumber] = handler
	return nil
}

// Load points the CPU's IDT register at the table and freezes it.
func Load() *kernel.Error {
	switch phase {
	case phaseUninitialized:
		return errTableNotInitialized
	case phaseLoaded:
		return errTableFrozen
	}

	base := uintptr(unsafe.Pointer(&idt[0]))
	limit := uint16(unsafe.Sizeof(idt) - 1)
	idtr[0], idtr[1] = byte(limit), byte(limit>>8)
	for i := 0; i < 8; i++ {
		idtr[2+i] = byte(base >> (8 * i))
	}

	loadIDTFn(uintptr(unsafe.Pointer(&idtr[0])))
	phase = phaseLoaded
	return nil
}

// GateInfo describes the decoded state of an IDT slot.
type GateInfo struct {
	// Offset is the address of the entry stub.
	Offset   uintptr
	Selector uint16
	IST      uint8
	Present  bool

	// Handled is true when a handler other than the built-in default has
	// been installed for the slot.
	Handled bool
}

// Inspect returns the decoded IDT slot for the given vector.
func Inspect(intNumber InterruptNumber) GateInfo {
	d := &idt[intNumber]
	return GateInfo{
		Offset:   uintptr(d.offsetLow) | uintptr(d.offsetMid)<<16 | uintptr(d.offsetHigh)<<32,
		Selector: d.selector,
		IST:      d.ist,
		Present:  d.typeAttr&gatePresentBit != 0,
		Handled:  handlers[intNumber] != nil,
	}
}

// setGate encodes an interrupt gate for handlerAddr into d.
func setGate(d *descriptor, handlerAddr uintptr, selector uint16, ist uint8) {
	d.offsetLow = uint16(handlerAddr)
	d.offsetMid = uint16(handlerAddr >> 16)
	d.offsetHigh = uint32(handlerAddr >> 32)
	d.selector = selector
	d.ist = ist
	d.typeAttr = gateTypeInterrupt
	d.reserved = 0
}

// dispatchInterrupt is invoked by the entry stubs to route an incoming
// interrupt to its handler.
func dispatchInterrupt(regs *Registers) {
	vector := uint8(regs.Vector)
	if handler := handlers[vector]; handler != nil {
		handler(regs)
		return
	}

	if InterruptNumber(vector) < FirstExternal {
		unhandledException(regs)
		return
	}

	kfmt.Printf("[gate] ignoring interrupt on vector %d with no handler\n", vector)
}

// unhandledException reports an exception that has no installed handler and
// halts the system.
func unhandledException(regs *Registers) {
	kfmt.Printf("\nUnhandled exception %d (%s), error code: 0x%x\n", regs.Vector, exceptionName(uint8(regs.Vector)), regs.Info)
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panic(errUnhandledException)
}

var exceptionNames = [...]string{
	"divide error", "debug", "NMI", "breakpoint", "overflow",
	"bound range exceeded", "invalid opcode", "device not available",
	"double fault", "coprocessor segment overrun", "invalid TSS",
	"segment not present", "stack-segment fault", "general protection fault",
	"page fault", "reserved", "x87 floating-point exception",
	"alignment check", "machine check", "SIMD floating-point exception",
	"virtualization exception", "control protection exception",
}

func exceptionName(vector uint8) string {
	if int(vector) < len(exceptionNames) {
		return exceptionNames[vector]
	}
	return "reserved"
}

// gateEntryAddr returns the address of the generated entry stub for vector.
// It is implemented in gate_entries_amd64.s.
func gateEntryAddr(vector uint8) uintptr

// gateCommon saves the interrupted context and calls dispatchInterrupt. It is
// only ever entered by a jump from an entry stub.
func gateCommon()
