package irq

import (
	"pluggos/device/ps2"
	"pluggos/kernel"
	"pluggos/kernel/gate"
	"pluggos/kernel/kfmt"
	"pluggos/kernel/sync"
)

var (
	// activeDispatcher receives every external interrupt once Activate
	// has been called.
	activeDispatcher *Dispatcher

	errNoController     = &kernel.Error{Module: "irq", Message: "dispatcher requires a configured controller"}
	errAlreadyActivated = &kernel.Error{Module: "irq", Message: "a dispatcher is already active"}
)

// Stats is a snapshot of the dispatcher counters.
type Stats struct {
	// Dispatched counts the interrupts serviced per event kind.
	Dispatched [numEventKinds]uint64

	// MaxNesting is the deepest level of nested dispatching observed.
	MaxNesting uint64

	// NestedSpurious counts spurious interrupts that arrived while
	// another vector was in service. These are not acknowledged.
	NestedSpurious uint64
}

// Dispatcher routes external interrupts to the callbacks of an activated
// HandlerTable. Its state is only modified from interrupt context: the
// counters are atomic and each decoder is only touched by its own vector,
// which the local APIC never nests with itself.
type Dispatcher struct {
	ctrl     *Controller
	handlers HandlerTable

	ticks    sync.Counter
	counts   [numEventKinds]sync.Counter
	depth    sync.Counter
	maxDepth sync.Counter

	nestedSpurious sync.Counter

	keyboard ps2.KeyboardDecoder
	mouse    ps2.MouseDecoder
}

// Activate freezes the table and attaches a dispatcher for it to ctrl. From
// this point on every external vector is serviced by the returned dispatcher.
func (t *HandlerTable) Activate(ctrl *Controller) (*Dispatcher, *kernel.Error) {
	switch {
	case ctrl == nil || !ctrl.configured:
		return nil, errNoController
	case ctrl.dispatcher != nil:
		return nil, errAlreadyActivated
	}

	t.frozen = true

	d := &Dispatcher{ctrl: ctrl, handlers: *t}
	ctrl.dispatcher = d
	activeDispatcher = d
	return d, nil
}

// Run invokes the startup callback, enables interrupts and then runs the
// idle callback forever. Run only returns if interrupts cannot be enabled.
func (d *Dispatcher) Run() *kernel.Error {
	d.handlers.onStartup()

	if err := d.ctrl.Enable(); err != nil {
		return err
	}

	for {
		d.handlers.onIdle()
	}
}

// Stats returns the current dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	var s Stats
	for kind := range d.counts {
		s.Dispatched[kind] = d.counts[kind].Load()
	}
	s.MaxNesting = d.maxDepth.Load()
	s.NestedSpurious = d.nestedSpurious.Load()
	return s
}

// Ticks returns the number of timer interrupts serviced so far.
func (d *Dispatcher) Ticks() uint64 {
	return d.ticks.Load()
}

// handleIRQ is the gate handler installed for every external vector.
func handleIRQ(regs *gate.Registers) {
	if d := activeDispatcher; d != nil {
		d.dispatch(uint8(regs.Vector))
		return
	}

	kfmt.Printf("[irq] interrupt on vector %d before a dispatcher was activated\n", regs.Vector)
}

// dispatch services a single interrupt. Interrupts are re-enabled while the
// callback runs so that vectors of a higher priority class can preempt it;
// the local APIC holds back this class and lower ones until the EOI, which
// is written exactly once after the callback returns.
//
// The spurious vector never enters the in-service register, so its EOI
// retires whatever vector is in service at that point. It is only written
// when the spurious interrupt did not preempt another dispatch.
func (d *Dispatcher) dispatch(vector uint8) {
	depth := d.depth.Inc()
	d.maxDepth.StoreMax(depth)

	enableInterruptsFn()
	d.deliver(vector)
	disableInterruptsFn()

	d.depth.Dec()
	if vector == SpuriousVector && depth > 1 {
		d.nestedSpurious.Inc()
		return
	}
	d.ctrl.EndOfInterrupt()
}

func (d *Dispatcher) deliver(vector uint8) {
	kind := kindFor(vector)
	d.counts[kind].Inc()

	switch kind {
	case EventTimer:
		d.handlers.onTimer(d.ticks.Inc())
	case EventKeyboard:
		if key, ok := d.keyboard.Feed(readDataFn()); ok {
			d.handlers.onKeyboard(key)
		}
	case EventMouse:
		if packet, ok := d.mouse.Feed(readDataFn()); ok {
			d.handlers.onMouse(packet)
		}
	case EventSpurious:
		d.handlers.onSpurious()
	default:
		if vector == ErrorVector {
			kfmt.Printf("[irq] local APIC error, ESR = 0x%x\n", d.ctrl.lapic.ErrorStatus())
		}
		d.handlers.onDefault(vector)
	}
}
