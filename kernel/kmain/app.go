package kmain

import (
	"pluggos/device/ps2"
	"pluggos/kernel/cpu"
	"pluggos/kernel/irq"
	"pluggos/kernel/kfmt"
	"pluggos/kernel/sync"
	"pluggos/multiboot"
)

const (
	// Playing field used when the boot loader did not report a
	// framebuffer.
	defaultScreenWidth  = 640
	defaultScreenHeight = 480
)

var (
	// waitForInterruptFn is mocked by tests.
	waitForInterruptFn = cpu.WaitForInterrupt
)

// locker guards the state shared between a callback and the idle loop.
type locker interface {
	Acquire()
	Release()
	ReleaseAndWait(wait func())
}

// pongApp is the application run on top of the dispatcher. The timer
// advances the game, the keyboard and the mouse steer the paddles and the
// idle loop renders the game on the console.
type pongApp struct {
	hz uint32

	lock locker
	game *pongGame

	// statusDue is set by the timer once per second to request a score
	// line while a match is running.
	statusDue bool

	rendered pongView
	shown    bool
}

func newPongApp(hz uint32, fb *multiboot.FramebufferInfo) *pongApp {
	width, height := int32(defaultScreenWidth), int32(defaultScreenHeight)
	if fb != nil && fb.Type == multiboot.FramebufferTypeRGB && fb.Width != 0 && fb.Height != 0 {
		width, height = int32(fb.Width), int32(fb.Height)
	}

	return &pongApp{
		hz:   hz,
		lock: new(sync.IRQLock),
		game: newPongGame(width, height),
	}
}

func (app *pongApp) handlerTable() *irq.HandlerTable {
	return irq.NewHandlerTable().
		OnStartup(app.onStartup).
		OnTimer(app.onTimer).
		OnKeyboard(app.onKeyboard).
		OnMouse(app.onMouse).
		OnIdle(app.onIdle)
}

func (app *pongApp) onStartup() {
	kfmt.Printf("[app] pong game initialized\n")
}

func (app *pongApp) onTimer(tick uint64) {
	app.lock.Acquire()
	app.game.tick()
	if app.hz != 0 && tick%uint64(app.hz) == 0 {
		app.statusDue = true
	}
	app.lock.Release()
}

func (app *pongApp) onKeyboard(key ps2.Key) {
	if !key.Pressed || key.Char == 0 {
		return
	}

	app.lock.Acquire()
	app.game.handleKey(key.Char)
	app.lock.Release()
}

// onMouse lets player 1 steer the left paddle with the mouse.
func (app *pongApp) onMouse(packet ps2.MousePacket) {
	if packet.DY == 0 {
		return
	}

	app.lock.Acquire()
	// Mouse Y grows upwards, screen Y grows downwards.
	app.game.moveLeftPaddle(-int32(packet.DY))
	app.lock.Release()
}

// onIdle renders the game when its screen changed or a status line is due.
// Otherwise it halts until the next interrupt with the lock dropped but
// interrupts still masked, so an event that arrives after the check is not
// left waiting for the following tick.
func (app *pongApp) onIdle() {
	app.lock.Acquire()
	view := app.game.view()
	redraw := !app.shown || !view.sameScreen(app.rendered)
	status := app.statusDue && view.playing()
	if !redraw && !status {
		app.lock.ReleaseAndWait(waitForInterruptFn)
		return
	}

	app.statusDue = false
	app.rendered, app.shown = view, true
	app.lock.Release()

	view.render()
}

func clamp(v, lo, hi int32) int32 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
