package irq

import (
	"pluggos/device/ps2"
	"pluggos/kernel"
)

type (
	// TimerFunc is invoked on every timer tick.
	TimerFunc func(tick uint64)

	// KeyboardFunc is invoked for every decoded key press or release.
	KeyboardFunc func(key ps2.Key)

	// MouseFunc is invoked for every complete mouse packet.
	MouseFunc func(packet ps2.MousePacket)

	// DefaultFunc is invoked for external vectors without a dedicated
	// event kind.
	DefaultFunc func(vector uint8)

	// HookFunc is a callback without a payload.
	HookFunc func()
)

var (
	errHandlerTableFrozen = &kernel.Error{Module: "irq", Message: "handler table modified after activation"}
)

// HandlerTable holds exactly one callback per event kind. Kinds that are not
// explicitly set hold no-op callbacks so dispatching never checks for nil.
// The table is built with chained On* calls and frozen by Activate.
type HandlerTable struct {
	onTimer    TimerFunc
	onKeyboard KeyboardFunc
	onMouse    MouseFunc
	onDefault  DefaultFunc
	onSpurious HookFunc
	onStartup  HookFunc
	onIdle     HookFunc

	frozen bool
}

// NewHandlerTable returns a table with the default callbacks installed. The
// default idle callback halts the CPU until the next interrupt.
func NewHandlerTable() *HandlerTable {
	return &HandlerTable{
		onTimer:    func(uint64) {},
		onKeyboard: func(ps2.Key) {},
		onMouse:    func(ps2.MousePacket) {},
		onDefault:  func(uint8) {},
		onSpurious: func() {},
		onStartup:  func() {},
		onIdle:     idle,
	}
}

// OnTimer sets the timer callback.
func (t *HandlerTable) OnTimer(fn TimerFunc) *HandlerTable {
	t.checkMutable()
	if fn != nil {
		t.onTimer = fn
	}
	return t
}

// OnKeyboard sets the keyboard callback.
func (t *HandlerTable) OnKeyboard(fn KeyboardFunc) *HandlerTable {
	t.checkMutable()
	if fn != nil {
		t.onKeyboard = fn
	}
	return t
}

// OnMouse sets the mouse callback.
func (t *HandlerTable) OnMouse(fn MouseFunc) *HandlerTable {
	t.checkMutable()
	if fn != nil {
		t.onMouse = fn
	}
	return t
}

// OnDefault sets the callback for unclassified external vectors.
func (t *HandlerTable) OnDefault(fn DefaultFunc) *HandlerTable {
	t.checkMutable()
	if fn != nil {
		t.onDefault = fn
	}
	return t
}

// OnSpurious sets the callback for spurious interrupts. Spurious interrupts
// are acknowledged whether or not a callback is set.
func (t *HandlerTable) OnSpurious(fn HookFunc) *HandlerTable {
	t.checkMutable()
	if fn != nil {
		t.onSpurious = fn
	}
	return t
}

// OnStartup sets a callback that runs once, right before interrupts are
// enabled.
func (t *HandlerTable) OnStartup(fn HookFunc) *HandlerTable {
	t.checkMutable()
	if fn != nil {
		t.onStartup = fn
	}
	return t
}

// OnIdle replaces the body of the idle loop. The callback is invoked
// repeatedly with interrupts enabled.
func (t *HandlerTable) OnIdle(fn HookFunc) *HandlerTable {
	t.checkMutable()
	if fn != nil {
		t.onIdle = fn
	}
	return t
}

func (t *HandlerTable) checkMutable() {
	if t.frozen {
		panic(errHandlerTableFrozen)
	}
}

// idle halts the CPU until the next interrupt arrives.
func idle() {
	waitForInterruptFn()
}
