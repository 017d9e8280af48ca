package apic

import (
	"pluggos/kernel"
	"pluggos/kernel/cpu"
	"testing"
	"unsafe"
)

// fakeLAPIC returns a LocalAPIC backed by a Go buffer large enough to hold
// every register.
func fakeLAPIC() (*LocalAPIC, *[0x400 / 4]uint32) {
	var regs [0x400 / 4]uint32
	return NewLocalAPIC(uintptr(unsafe.Pointer(&regs[0]))), &regs
}

func TestLocate(t *testing.T) {
	defer func() {
		hasLocalAPICFn = cpu.HasLocalAPIC
		readMSRFn = cpu.ReadMSR
	}()

	specs := []struct {
		hasAPIC bool
		msr     uint64
		expBase uintptr
		expErr  *kernel.Error
	}{
		{false, 0, 0, errNoLocalAPIC},
		{true, 0xfee00000, 0, errLocalAPICDisabled},
		{true, 0xfee00000 | apicBaseEnable | 1<<8, 0xfee00000, nil},
		{true, 0x1fe800000 | apicBaseEnable, 0x1fe800000, nil},
		{true, apicBaseEnable, DefaultBase, nil},
	}

	for specIndex, spec := range specs {
		hasLocalAPICFn = func() bool { return spec.hasAPIC }
		readMSRFn = func(msr uint32) uint64 {
			if msr != msrAPICBase {
				t.Errorf("[spec %d] expected MSR 0x%x to be read; got 0x%x", specIndex, msrAPICBase, msr)
			}
			return spec.msr
		}

		base, err := Locate()
		if err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
			continue
		}
		if base != spec.expBase {
			t.Errorf("[spec %d] expected base 0x%x; got 0x%x", specIndex, spec.expBase, base)
		}
	}
}

func TestEnableSpuriousPreservesReservedBits(t *testing.T) {
	l, regs := fakeLAPIC()

	// Focus checking disabled and EOI broadcast suppression set by
	// firmware, stale vector 0x0f.
	regs[regSpurious/4] = 1<<9 | 1<<12 | 0x0f

	l.EnableSpurious(0xff)

	if exp, got := uint32(1<<12|1<<9|svrEnable|0xff), regs[regSpurious/4]; got != exp {
		t.Fatalf("expected SVR to be 0x%x; got 0x%x", exp, got)
	}
}

func TestMaskLocalInterrupts(t *testing.T) {
	l, regs := fakeLAPIC()
	regs[regLVTLINT0/4] = 0x700 // ExtINT delivery
	regs[regLVTLINT1/4] = 0x400 // NMI delivery

	l.MaskLocalInterrupts()

	if got := regs[regLVTLINT0/4]; got != 0x700|lvtMasked {
		t.Errorf("expected LINT0 to be 0x%x; got 0x%x", 0x700|lvtMasked, got)
	}
	if got := regs[regLVTLINT1/4]; got != 0x400|lvtMasked {
		t.Errorf("expected LINT1 to be 0x%x; got 0x%x", 0x400|lvtMasked, got)
	}
}

func TestSetErrorVector(t *testing.T) {
	l, regs := fakeLAPIC()
	regs[regLVTError/4] = lvtMasked | 1<<20

	l.SetErrorVector(0xfe)

	if exp, got := uint32(1<<20|0xfe), regs[regLVTError/4]; got != exp {
		t.Fatalf("expected LVT error to be 0x%x; got 0x%x", exp, got)
	}
}

func TestEOI(t *testing.T) {
	l, regs := fakeLAPIC()
	regs[regEOI/4] = 0xdead

	l.EOI()

	if got := regs[regEOI/4]; got != 0 {
		t.Fatalf("expected EOI register to be written with 0; got 0x%x", got)
	}
}

func TestErrorStatus(t *testing.T) {
	defer func() {
		mmioRead32Fn = mmioRead32
		mmioWrite32Fn = mmioWrite32
	}()

	l := NewLocalAPIC(0x1000)

	var ops []string
	mmioWrite32Fn = func(addr uintptr, val uint32) {
		if addr != 0x1000+regErrorStatus {
			t.Errorf("unexpected write to 0x%x", addr)
		}
		ops = append(ops, "w")
	}
	mmioRead32Fn = func(addr uintptr) uint32 {
		ops = append(ops, "r")
		return 0x80
	}

	if got := l.ErrorStatus(); got != 0x80 {
		t.Errorf("expected ESR 0x80; got 0x%x", got)
	}

	if len(ops) != 3 || ops[0]+ops[1]+ops[2] != "wrw" {
		t.Errorf("expected access sequence write, read, write; got %v", ops)
	}
}

func TestIDAndVersion(t *testing.T) {
	l, regs := fakeLAPIC()
	regs[regID/4] = 3 << 24
	regs[regVersion/4] = 0x50014

	if got := l.ID(); got != 3 {
		t.Errorf("expected APIC ID 3; got %d", got)
	}
	if got := l.Version(); got != 0x50014 {
		t.Errorf("expected version 0x50014; got 0x%x", got)
	}
	if l.Base() != uintptr(unsafe.Pointer(&regs[0])) {
		t.Error("expected Base to return the register page address")
	}
}

func TestConfigureTimer(t *testing.T) {
	specs := []struct {
		cfg       TimerConfig
		expDivide uint32
		expLVT    uint32
	}{
		{
			TimerConfig{Vector: 0x20, Mode: TimerPeriodic, Divide: 16, InitialCount: 0x04000000},
			0x03,
			lvtTimerPeriod | 0x20,
		},
		{
			TimerConfig{Vector: 0x21, Mode: TimerOneShot, Divide: 1, InitialCount: 1000},
			0x0b,
			0x21,
		},
		{
			TimerConfig{Vector: 0x20, Mode: TimerPeriodic, Divide: 128, InitialCount: 1},
			0x0a,
			lvtTimerPeriod | 0x20,
		},
		{
			TimerConfig{Mode: TimerOneShot, Divide: 2, InitialCount: 0xffffffff, Masked: true},
			0x00,
			lvtMasked,
		},
	}

	for specIndex, spec := range specs {
		l, regs := fakeLAPIC()
		regs[regDivideConfig/4] = 0xfffffff0
		regs[regLVTTimer/4] = lvtMasked | 1<<12 | 0xee

		if err := l.ConfigureTimer(spec.cfg); err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		// Bit 2 and bits 4-31 of the divide register are reserved.
		if exp, got := uint32(0xfffffff0)&^divideFieldMask|spec.expDivide, regs[regDivideConfig/4]; got != exp {
			t.Errorf("[spec %d] expected divide config 0x%x; got 0x%x", specIndex, exp, got)
		}

		if exp, got := 1<<12|spec.expLVT, regs[regLVTTimer/4]; got != exp {
			t.Errorf("[spec %d] expected LVT timer 0x%x; got 0x%x", specIndex, exp, got)
		}

		if got := regs[regInitialCount/4]; got != spec.cfg.InitialCount {
			t.Errorf("[spec %d] expected initial count %d; got %d", specIndex, spec.cfg.InitialCount, got)
		}
	}
}

func TestConfigureTimerInvalidDivide(t *testing.T) {
	l, regs := fakeLAPIC()

	for _, div := range []uint8{0, 3, 255} {
		if err := l.ConfigureTimer(TimerConfig{Divide: div}); err != errInvalidDivide {
			t.Errorf("expected errInvalidDivide for divider %d; got %v", div, err)
		}
		if ValidDivide(div) {
			t.Errorf("expected divider %d to be rejected", div)
		}
	}

	if regs[regLVTTimer/4] != 0 || regs[regInitialCount/4] != 0 {
		t.Error("expected no timer registers to be written")
	}
}

func TestStopTimer(t *testing.T) {
	l, regs := fakeLAPIC()
	regs[regLVTTimer/4] = lvtTimerPeriod | 0x20
	regs[regInitialCount/4] = 1234

	l.StopTimer()

	if got := regs[regLVTTimer/4]; got != lvtMasked|lvtTimerPeriod|0x20 {
		t.Errorf("expected timer to be masked; got 0x%x", got)
	}
	if got := regs[regInitialCount/4]; got != 0 {
		t.Errorf("expected initial count to be cleared; got %d", got)
	}
}
