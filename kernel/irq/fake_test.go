package irq

import (
	"fmt"
	"pluggos/device/apic"
	"pluggos/device/ps2"
	"pluggos/kernel"
	"pluggos/kernel/cpu"
	"pluggos/kernel/gate"
	"testing"
)

// fakeLAPIC records every register-level operation and models how a local
// APIC prioritizes vectors: a pending vector is only delivered while the CPU
// has interrupts enabled and its priority class is above the class of the
// highest vector in service. Like the hardware, the spurious vector bypasses
// the priority check and is never marked in service.
type fakeLAPIC struct {
	log *[]string

	id          uint8
	esr         uint32
	calibTicks  uint32
	calibErr    *kernel.Error
	calibDivide uint8
	timer       apic.TimerConfig

	cpuIF     bool
	inService []uint8
	pending   []uint8
}

func newFakeLAPIC(log *[]string) *fakeLAPIC {
	return &fakeLAPIC{log: log, calibTicks: 62500}
}

func (l *fakeLAPIC) logf(format string, args ...interface{}) {
	*l.log = append(*l.log, fmt.Sprintf(format, args...))
}

func (l *fakeLAPIC) ID() uint8 { return l.id }

func (l *fakeLAPIC) EnableSpurious(vector uint8) { l.logf("spurious 0x%x", vector) }

func (l *fakeLAPIC) MaskLocalInterrupts() { l.logf("mask lint") }

func (l *fakeLAPIC) SetErrorVector(vector uint8) { l.logf("error vector 0x%x", vector) }

func (l *fakeLAPIC) ErrorStatus() uint32 {
	l.logf("esr")
	return l.esr
}

func (l *fakeLAPIC) Calibrate(divide uint8) (uint32, *kernel.Error) {
	l.logf("calibrate %d", divide)
	return l.calibTicks, l.calibErr
}

func (l *fakeLAPIC) ConfigureTimer(cfg apic.TimerConfig) *kernel.Error {
	if !apic.ValidDivide(cfg.Divide) {
		return &kernel.Error{Module: "test", Message: "bad divide"}
	}
	l.timer = cfg
	l.logf("timer vector 0x%x mode %d divide %d count %d", cfg.Vector, cfg.Mode, cfg.Divide, cfg.InitialCount)
	return nil
}

func (l *fakeLAPIC) EOI() {
	if l.cpuIF {
		l.logf("EOI with interrupts enabled")
	}

	n := len(l.inService)
	if n == 0 {
		l.logf("eoi none")
		return
	}

	l.logf("eoi 0x%x", l.inService[n-1])
	l.inService = l.inService[:n-1]
}

// raise asserts vector on the local APIC.
func (l *fakeLAPIC) raise(vector uint8) {
	l.pending = append(l.pending, vector)
	l.deliverPending()
}

func (l *fakeLAPIC) deliverPending() {
	for l.cpuIF && len(l.pending) != 0 {
		best := 0
		for i, v := range l.pending {
			if v > l.pending[best] {
				best = i
			}
		}

		vector := l.pending[best]
		if n := len(l.inService); vector != SpuriousVector && n != 0 && vector>>4 <= l.inService[n-1]>>4 {
			return
		}

		l.pending = append(l.pending[:best], l.pending[best+1:]...)
		if vector != SpuriousVector {
			l.inService = append(l.inService, vector)
		}

		// The interrupt gate clears IF; IRETQ restores it.
		l.cpuIF = false
		handleIRQ(&gate.Registers{Vector: uint64(vector)})
		l.cpuIF = true
	}
}

// installCPU routes the interrupt flag manipulation done by the irq package
// to the fake local APIC.
func installCPU(t *testing.T, l *fakeLAPIC) {
	t.Helper()

	interruptsEnabledFn = func() bool { return l.cpuIF }
	enableInterruptsFn = func() {
		l.cpuIF = true
		l.deliverPending()
	}
	disableInterruptsFn = func() { l.cpuIF = false }

	t.Cleanup(func() {
		interruptsEnabledFn = cpu.InterruptsEnabled
		enableInterruptsFn = cpu.EnableInterrupts
		disableInterruptsFn = cpu.DisableInterrupts
		activeDispatcher = nil
	})
}

// mockPS2Data serves the supplied bytes from the PS/2 data port.
func mockPS2Data(t *testing.T, data ...uint8) {
	t.Helper()

	readDataFn = func() uint8 {
		if len(data) == 0 {
			t.Error("unexpected PS/2 data port read")
			return 0
		}
		b := data[0]
		data = data[1:]
		return b
	}

	t.Cleanup(func() { readDataFn = ps2.ReadData })
}

func equalLogs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
