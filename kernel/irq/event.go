package irq

// Interrupt vectors used by the kernel. The local APIC delivers vectors in
// priority classes of 16 (vector >> 4); a vector can only preempt a handler
// running for a lower class. The keyboard and mouse sit one class above the
// timer so input is never held back by a slow tick callback.
const (
	TimerVector    = 0x20
	KeyboardVector = 0x30
	MouseVector    = 0x31
	ErrorVector    = 0xfe
	SpuriousVector = 0xff
)

// ISA IRQ lines routed through the I/O APIC.
const (
	keyboardIRQ = 1
	mouseIRQ    = 12
)

// EventKind identifies the callback that services an interrupt vector.
type EventKind uint8

const (
	// EventTimer is raised by the local APIC timer. Its payload is the
	// tick number, starting at 1.
	EventTimer EventKind = iota

	// EventKeyboard carries a decoded ps2.Key.
	EventKeyboard

	// EventMouse carries a decoded ps2.MousePacket.
	EventMouse

	// EventSpurious is raised by the local APIC when an interrupt was
	// withdrawn before it could be delivered.
	EventSpurious

	// EventDefault covers every other external vector. Its payload is the
	// vector number.
	EventDefault

	numEventKinds
)

var eventKindNames = [numEventKinds]string{
	"timer", "keyboard", "mouse", "spurious", "default",
}

// String implements fmt.Stringer for EventKind.
func (k EventKind) String() string {
	if k < numEventKinds {
		return eventKindNames[k]
	}
	return "unknown"
}

// kindFor maps an external interrupt vector to its event kind.
func kindFor(vector uint8) EventKind {
	switch vector {
	case TimerVector:
		return EventTimer
	case KeyboardVector:
		return EventKeyboard
	case MouseVector:
		return EventMouse
	case SpuriousVector:
		return EventSpurious
	default:
		return EventDefault
	}
}
