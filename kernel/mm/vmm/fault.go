package vmm

import (
	"pluggos/kernel"
	"pluggos/kernel/gate"
	"pluggos/kernel/kfmt"
)

// Page fault error code bits.
const (
	pfPresent     = 1 << 0
	pfWrite       = 1 << 1
	pfUser        = 1 << 2
	pfReservedBit = 1 << 3
	pfInstrFetch  = 1 << 4
)

var (
	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
)

func installFaultHandlers() *kernel.Error {
	if err := handleInterruptFn(gate.PageFaultException, 0, pageFaultHandler); err != nil {
		return err
	}
	return handleInterruptFn(gate.GPFException, 0, generalProtectionFaultHandler)
}

// pageFaultHandler is invoked when a page table entry is not present or when a
// privilege or RW protection check fails. The kernel does not page so every
// page fault is terminal.
func pageFaultHandler(regs *gate.Registers) {
	faultAddress := uintptr(readCR2Fn())

	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch {
	case regs.Info&pfReservedBit != 0:
		kfmt.Printf("page table has reserved bit set")
	case regs.Info&pfInstrFetch != 0:
		kfmt.Printf("instruction fetch from ")
		printPageState(regs.Info)
	case regs.Info&pfWrite != 0:
		kfmt.Printf("write to ")
		printPageState(regs.Info)
	default:
		kfmt.Printf("read from ")
		printPageState(regs.Info)
	}

	if regs.Info&pfUser != 0 {
		kfmt.Printf(" (user-mode)")
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panic(errUnrecoverableFault)
}

func printPageState(errorCode uint64) {
	if errorCode&pfPresent != 0 {
		kfmt.Printf("protected page")
		return
	}
	kfmt.Printf("non-present page")
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
// - non-canonical memory accesses
func generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\nGeneral protection fault (selector error code: 0x%x)\n", regs.Info)
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panic(errUnrecoverableFault)
}
