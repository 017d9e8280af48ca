// Package irq sets up interrupt delivery through the local APIC and routes
// the resulting events to application callbacks.
package irq

import (
	"pluggos/device/acpi"
	"pluggos/device/apic"
	"pluggos/device/pic"
	"pluggos/device/ps2"
	"pluggos/kernel"
	"pluggos/kernel/cpu"
	"pluggos/kernel/gate"
	"pluggos/kernel/kfmt"
	"pluggos/kernel/mm/vmm"
)

// localAPIC is the subset of apic.LocalAPIC used by the controller.
type localAPIC interface {
	ID() uint8
	EnableSpurious(vector uint8)
	MaskLocalInterrupts()
	SetErrorVector(vector uint8)
	ErrorStatus() uint32
	Calibrate(divide uint8) (uint32, *kernel.Error)
	ConfigureTimer(cfg apic.TimerConfig) *kernel.Error
	EOI()
}

// ioAPIC is the subset of apic.IOAPIC used by the controller.
type ioAPIC interface {
	Route(gsi uint32, vector uint8, activeLow, level bool, dest uint8) *kernel.Error
}

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	interruptsEnabledFn    = cpu.InterruptsEnabled
	enableInterruptsFn     = cpu.EnableInterrupts
	disableInterruptsFn    = cpu.DisableInterrupts
	waitForInterruptFn     = cpu.WaitForInterrupt
	gateInitFn             = gate.Init
	handleInterruptFn      = gate.HandleInterrupt
	loadGatesFn            = gate.Load
	vmmInitFn              = vmm.Init
	mapPhysicalFn          = vmm.MapPhysical
	picDisableFn           = pic.Disable
	picMaskedFn            = pic.Masked
	locateLAPICFn          = apic.Locate
	interruptControllersFn = acpi.InterruptControllers
	ps2InitFn              = ps2.Init
	readDataFn             = ps2.ReadData

	newLocalAPICFn = func(base uintptr) localAPIC { return apic.NewLocalAPIC(base) }
	newIOAPICFn    = func(base uintptr, gsiBase uint32) ioAPIC { return apic.NewIOAPIC(base, gsiBase) }

	errInterruptsEnabledEarly = &kernel.Error{Module: "irq", Message: "interrupts enabled before controller setup completed"}
	errPICNotMasked           = &kernel.Error{Module: "irq", Message: "legacy PIC lines are still unmasked"}
	errNoIOAPIC               = &kernel.Error{Module: "irq", Message: "no I/O APIC handles the requested interrupt"}
	errNotReady               = &kernel.Error{Module: "irq", Message: "controller is not configured or no dispatcher is active"}
	errAlreadyLive            = &kernel.Error{Module: "irq", Message: "interrupts are already enabled"}
)

// ioAPICEntry pairs a mapped I/O APIC with the first GSI it serves.
type ioAPICEntry struct {
	gsiBase uint32
	regs    ioAPIC
}

// Controller owns the interrupt hardware once Setup completes. Interrupts
// stay disabled until Enable is called.
type Controller struct {
	cfg        Config
	lapic      localAPIC
	topology   acpi.InterruptTopology
	ioapics    []ioAPICEntry
	timerCount uint32

	configured bool
	live       bool
	dispatcher *Dispatcher
}

// Setup installs the interrupt table, silences the legacy PICs and programs
// the local and I/O APICs. Every step runs with interrupts disabled; Setup
// fails with errInterruptsEnabledEarly if it finds them enabled. Errors are
// fatal for the caller.
func Setup(cfg Config) (*Controller, *kernel.Error) {
	c := &Controller{cfg: cfg}

	steps := []func() *kernel.Error{
		c.installGates,
		c.disableLegacyPIC,
		c.locateAPICs,
		c.programAPICs,
	}

	for _, step := range steps {
		if interruptsEnabledFn() {
			return nil, errInterruptsEnabledEarly
		}

		if err := step(); err != nil {
			return nil, err
		}
	}

	if interruptsEnabledFn() {
		return nil, errInterruptsEnabledEarly
	}

	c.configured = true
	return c, nil
}

// installGates populates the IDT. CPU exceptions get terminal handlers, except
// for breakpoints which are reported and resumed, and every external vector
// is routed to the dispatcher trampoline.
func (c *Controller) installGates() *kernel.Error {
	gateInitFn()

	if err := handleInterruptFn(gate.DivideByZero, 0, divideErrorHandler); err != nil {
		return err
	}
	if err := handleInterruptFn(gate.Breakpoint, 0, breakpointHandler); err != nil {
		return err
	}
	if err := handleInterruptFn(gate.DoubleFault, 0, doubleFaultHandler); err != nil {
		return err
	}
	if err := vmmInitFn(); err != nil {
		return err
	}

	for vector := int(gate.FirstExternal); vector < 256; vector++ {
		if err := handleInterruptFn(gate.InterruptNumber(vector), 0, handleIRQ); err != nil {
			return err
		}
	}

	return loadGatesFn()
}

func (c *Controller) disableLegacyPIC() *kernel.Error {
	picDisableFn()
	if !picMaskedFn() {
		return errPICNotMasked
	}
	return nil
}

// locateAPICs finds and maps the local APIC and the I/O APICs. The MADT is
// only used for the I/O APICs and the ISA overrides; the local APIC base is
// taken from IA32_APIC_BASE which reflects any relocation by firmware.
func (c *Controller) locateAPICs() *kernel.Error {
	lapicAddr, err := locateLAPICFn()
	if err != nil {
		return err
	}

	if topology, ok := interruptControllersFn(); ok {
		c.topology = *topology
		if c.topology.LocalAPICAddress != lapicAddr {
			kfmt.Printf("[irq] MADT lists the local APIC at 0x%x; using 0x%x\n", c.topology.LocalAPICAddress, lapicAddr)
		}
	}

	if c.topology.IOAPICCount == 0 {
		c.topology.IOAPICs[0] = acpi.IOAPIC{Address: apic.DefaultIOAPICBase}
		c.topology.IOAPICCount = 1
	}

	base, err := mapDevice(lapicAddr)
	if err != nil {
		return err
	}
	c.lapic = newLocalAPICFn(base)

	for i := 0; i < c.topology.IOAPICCount; i++ {
		ioapic := c.topology.IOAPICs[i]
		if base, err = mapDevice(ioapic.Address); err != nil {
			return err
		}
		c.ioapics = append(c.ioapics, ioAPICEntry{
			gsiBase: ioapic.GSIBase,
			regs:    newIOAPICFn(base, ioapic.GSIBase),
		})
	}

	kfmt.Printf("[irq] local APIC at 0x%x, %d I/O APIC(s)\n", lapicAddr, len(c.ioapics))
	return nil
}

// programAPICs enables the local APIC, starts the timer and routes the PS/2
// interrupts through the I/O APIC.
func (c *Controller) programAPICs() *kernel.Error {
	c.lapic.EnableSpurious(SpuriousVector)
	c.lapic.MaskLocalInterrupts()
	c.lapic.SetErrorVector(ErrorVector)
	c.lapic.ErrorStatus()

	c.timerCount = c.cfg.TimerCount
	if c.timerCount == 0 {
		ticks, err := c.lapic.Calibrate(c.cfg.TimerDivide)
		if err != nil {
			return err
		}
		c.timerCount = apic.CountForFrequency(ticks, c.cfg.TimerHz)
		kfmt.Printf("[irq] timer calibrated: %d ticks per 10ms, initial count %d for %dHz\n", ticks, c.timerCount, c.cfg.TimerHz)
	}

	err := c.lapic.ConfigureTimer(apic.TimerConfig{
		Vector:       TimerVector,
		Mode:         c.cfg.TimerMode,
		Divide:       c.cfg.TimerDivide,
		InitialCount: c.timerCount,
	})
	if err != nil {
		return err
	}

	if err = c.routeISA(keyboardIRQ, KeyboardVector); err != nil {
		return err
	}
	if c.cfg.EnableMouse {
		if err = c.routeISA(mouseIRQ, MouseVector); err != nil {
			return err
		}
	}

	return ps2InitFn(c.cfg.EnableMouse)
}

// routeISA delivers an ISA IRQ to vector on this CPU, honoring any MADT
// interrupt source override for the line.
func (c *Controller) routeISA(irq uint8, vector uint8) *kernel.Error {
	gsi, activeLow, level := c.topology.ResolveIRQ(irq)

	var target *ioAPICEntry
	for i := range c.ioapics {
		if cur := &c.ioapics[i]; cur.gsiBase <= gsi && (target == nil || cur.gsiBase > target.gsiBase) {
			target = cur
		}
	}
	if target == nil {
		return errNoIOAPIC
	}

	return target.regs.Route(gsi, vector, activeLow, level, c.lapic.ID())
}

// Enable turns on interrupt delivery. It requires a completed Setup and an
// activated dispatcher and may only succeed once.
func (c *Controller) Enable() *kernel.Error {
	switch {
	case c.live:
		return errAlreadyLive
	case !c.configured || c.dispatcher == nil:
		return errNotReady
	}

	c.live = true
	kfmt.Printf("[irq] enabling interrupts\n")
	enableInterruptsFn()
	return nil
}

// EndOfInterrupt acknowledges the interrupt currently in service.
func (c *Controller) EndOfInterrupt() {
	c.lapic.EOI()
}

// TimerInitialCount returns the initial count the timer was programmed with.
func (c *Controller) TimerInitialCount() uint32 {
	return c.timerCount
}

// mapDevice maps the register page containing physAddr and returns the
// virtual address of physAddr.
func mapDevice(physAddr uintptr) (uintptr, *kernel.Error) {
	m, err := mapPhysicalFn(physAddr, vmm.FlagsDevice)
	if err != nil {
		return 0, err
	}
	return m.Address() + vmm.PageOffset(physAddr), nil
}
