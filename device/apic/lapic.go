// Package apic programs the local APIC of the boot processor and the I/O
// APICs that route legacy device interrupts to it.
package apic

import (
	"pluggos/kernel"
	"pluggos/kernel/cpu"
)

// Local APIC register offsets.
const (
	regID           = 0x020
	regVersion      = 0x030
	regEOI          = 0x0b0
	regSpurious     = 0x0f0
	regErrorStatus  = 0x280
	regLVTTimer     = 0x320
	regLVTLINT0     = 0x350
	regLVTLINT1     = 0x360
	regLVTError     = 0x370
	regInitialCount = 0x380
	regCurrentCount = 0x390
	regDivideConfig = 0x3e0
)

const (
	// DefaultBase is the architectural reset value of the local APIC base.
	DefaultBase uintptr = 0xfee00000

	msrAPICBase     = 0x1b
	apicBaseEnable  = 1 << 11
	apicBaseAddress = 0x000ffffffffff000

	svrVectorMask = 0xff
	svrEnable     = 1 << 8

	lvtVectorMask   = 0xff
	lvtMasked       = 1 << 16
	lvtTimerModes   = 3 << 17
	lvtTimerPeriod  = 1 << 17
	divideFieldMask = 0x0b
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	hasLocalAPICFn = cpu.HasLocalAPIC
	readMSRFn      = cpu.ReadMSR

	errNoLocalAPIC       = &kernel.Error{Module: "apic", Message: "processor does not have a local APIC"}
	errLocalAPICDisabled = &kernel.Error{Module: "apic", Message: "local APIC is disabled in IA32_APIC_BASE"}
	errInvalidDivide     = &kernel.Error{Module: "apic", Message: "timer divider must be a power of two between 1 and 128"}
)

// Locate returns the physical address of the local APIC register page.
func Locate() (uintptr, *kernel.Error) {
	if !hasLocalAPICFn() {
		return 0, errNoLocalAPIC
	}

	msr := readMSRFn(msrAPICBase)
	if msr&apicBaseEnable == 0 {
		return 0, errLocalAPICDisabled
	}

	if base := uintptr(msr & apicBaseAddress); base != 0 {
		return base, nil
	}
	return DefaultBase, nil
}

// LocalAPIC provides access to a mapped local APIC register page.
type LocalAPIC struct {
	base uintptr
}

// NewLocalAPIC returns a LocalAPIC whose registers are accessible at the
// virtual address base.
func NewLocalAPIC(base uintptr) *LocalAPIC {
	return &LocalAPIC{base: base}
}

// Base returns the virtual address of the register page.
func (l *LocalAPIC) Base() uintptr { return l.base }

// ID returns the APIC ID of the processor.
func (l *LocalAPIC) ID() uint8 {
	return uint8(l.read(regID) >> 24)
}

// Version returns the version register.
func (l *LocalAPIC) Version() uint32 {
	return l.read(regVersion)
}

// EnableSpurious software-enables the APIC and sets the vector used for
// spurious interrupts.
func (l *LocalAPIC) EnableSpurious(vector uint8) {
	l.update(regSpurious, svrVectorMask|svrEnable, uint32(vector)|svrEnable)
}

// MaskLocalInterrupts masks the LINT0 and LINT1 pins. With the 8259s masked
// nothing should arrive on them.
func (l *LocalAPIC) MaskLocalInterrupts() {
	l.update(regLVTLINT0, lvtMasked, lvtMasked)
	l.update(regLVTLINT1, lvtMasked, lvtMasked)
}

// SetErrorVector unmasks the LVT error entry and points it at vector.
func (l *LocalAPIC) SetErrorVector(vector uint8) {
	l.update(regLVTError, lvtVectorMask|lvtMasked, uint32(vector))
}

// ErrorStatus returns and clears the error status register. The register is
// only updated after a write so one is issued before reading.
func (l *LocalAPIC) ErrorStatus() uint32 {
	l.write(regErrorStatus, 0)
	status := l.read(regErrorStatus)
	l.write(regErrorStatus, 0)
	return status
}

// EOI signals the end of the interrupt currently being serviced.
func (l *LocalAPIC) EOI() {
	l.write(regEOI, 0)
}

// TimerMode selects how the LAPIC timer reloads.
type TimerMode uint8

const (
	// TimerOneShot fires once after the initial count reaches zero.
	TimerOneShot TimerMode = iota

	// TimerPeriodic reloads the initial count every time it expires.
	TimerPeriodic
)

// TimerConfig describes the LAPIC timer setup.
type TimerConfig struct {
	Vector       uint8
	Mode         TimerMode
	Divide       uint8
	InitialCount uint32

	// Masked arms the timer with its interrupt masked in the same LVT
	// write that selects the vector and mode.
	Masked bool
}

// divideEncoding returns the divide configuration value for divider. Bits
// 0, 1 and 3 of the register encode the divider; 0b1011 means 1.
func divideEncoding(divider uint8) (uint32, *kernel.Error) {
	switch divider {
	case 1:
		return 0x0b, nil
	case 2:
		return 0x00, nil
	case 4:
		return 0x01, nil
	case 8:
		return 0x02, nil
	case 16:
		return 0x03, nil
	case 32:
		return 0x08, nil
	case 64:
		return 0x09, nil
	case 128:
		return 0x0a, nil
	}
	return 0, errInvalidDivide
}

// ValidDivide returns true if divider is accepted by ConfigureTimer.
func ValidDivide(divider uint8) bool {
	_, err := divideEncoding(divider)
	return err == nil
}

// ConfigureTimer programs and starts the LAPIC timer. Writing the initial
// count last arms the timer.
func (l *LocalAPIC) ConfigureTimer(cfg TimerConfig) *kernel.Error {
	div, err := divideEncoding(cfg.Divide)
	if err != nil {
		return err
	}

	l.update(regDivideConfig, divideFieldMask, div)

	lvt := uint32(cfg.Vector)
	if cfg.Mode == TimerPeriodic {
		lvt |= lvtTimerPeriod
	}
	if cfg.Masked {
		lvt |= lvtMasked
	}
	l.update(regLVTTimer, lvtVectorMask|lvtMasked|lvtTimerModes, lvt)
	l.write(regInitialCount, cfg.InitialCount)
	return nil
}

// StopTimer masks the timer and clears its count.
func (l *LocalAPIC) StopTimer() {
	l.update(regLVTTimer, lvtMasked, lvtMasked)
	l.write(regInitialCount, 0)
}

// CurrentCount returns the remaining count of the LAPIC timer.
func (l *LocalAPIC) CurrentCount() uint32 {
	return l.read(regCurrentCount)
}

func (l *LocalAPIC) read(reg uintptr) uint32 {
	return mmioRead32Fn(l.base + reg)
}

func (l *LocalAPIC) write(reg uintptr, val uint32) {
	mmioWrite32Fn(l.base+reg, val)
}

// update replaces the bits selected by mask and keeps the rest, including
// reserved bits, as read.
func (l *LocalAPIC) update(reg uintptr, mask, val uint32) {
	l.write(reg, l.read(reg)&^mask|val&mask)
}
