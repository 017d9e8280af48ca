// Package vmm manages the active page tables. The kernel keeps the address
// space set up by the boot loader and only adds mappings for device register
// pages and ACPI tables.
package vmm

import (
	"pluggos/kernel"
	"pluggos/kernel/cpu"
	"pluggos/kernel/gate"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	readCR2Fn         = cpu.ReadCR2
	handleInterruptFn = gate.HandleInterrupt
)

// Init installs the paging-related exception handlers. It must be called
// after gate.Init and before the interrupt table is loaded.
func Init() *kernel.Error {
	return installFaultHandlers()
}
