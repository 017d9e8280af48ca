// Package cpu exposes the privileged x86-64 instructions used by the kernel.
// All functions without a body are implemented in cpu_amd64.s.
package cpu

var (
	cpuidFn = ID
)

const (
	// cpuidFeatureLeaf returns the processor feature flags in ECX/EDX.
	cpuidFeatureLeaf = 1

	// cpuidEDXLocalAPIC is set in CPUID.1:EDX when an on-chip local APIC
	// is present.
	cpuidEDXLocalAPIC = 1 << 9
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// InterruptsEnabled returns true if the IF flag in RFLAGS is set.
func InterruptsEnabled() bool

// Halt disables interrupts and stops instruction execution. Calls to Halt
// never return.
func Halt()

// WaitForInterrupt atomically enables interrupts and halts the CPU until the
// next interrupt has been serviced.
func WaitForInterrupt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// LoadIDT loads the interrupt descriptor table register with the 10-byte
// descriptor (limit + base) located at idtrAddr.
func LoadIDT(idtrAddr uintptr)

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// HasLocalAPIC returns true if the processor reports an on-chip local APIC.
func HasLocalAPIC() bool {
	_, _, _, edx := cpuidFn(cpuidFeatureLeaf)
	return edx&cpuidEDXLocalAPIC != 0
}

// ReadMSR returns the contents of a model specific register.
func ReadMSR(msr uint32) uint64

// WriteMSR updates the contents of a model specific register.
func WriteMSR(msr uint32, value uint64)

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8
