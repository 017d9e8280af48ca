package irq

import (
	"pluggos/kernel"
	"pluggos/kernel/gate"
	"pluggos/kernel/kfmt"
)

var (
	errDivideByZero = &kernel.Error{Module: "irq", Message: "divide error"}
	errDoubleFault  = &kernel.Error{Module: "irq", Message: "double fault"}
)

func divideErrorHandler(regs *gate.Registers) {
	kfmt.Printf("\nDivide error at RIP 0x%16x\n", regs.RIP)
	fatal(regs, errDivideByZero)
}

// breakpointHandler reports an INT3 trap and resumes execution at the
// instruction that follows it.
func breakpointHandler(regs *gate.Registers) {
	kfmt.Printf("\nBreakpoint at RIP 0x%16x\n", regs.RIP)
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())
}

func doubleFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\nDouble fault, error code: 0x%x\n", regs.Info)
	fatal(regs, errDoubleFault)
}

func fatal(regs *gate.Registers, err *kernel.Error) {
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	// If the handler returns the system will be in an undefined state.
	panic(err)
}
