// Package kmain contains the kernel entry point invoked by the rt0 code.
package kmain

import (
	"pluggos/kernel"
	"pluggos/kernel/hal"
	"pluggos/kernel/irq"
	"pluggos/kernel/kfmt"
	"pluggos/kernel/mm/pmm"
	"pluggos/multiboot"
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	detectHardwareFn = hal.DetectHardware
	pmmInitFn        = pmm.Init
	irqSetupFn       = irq.Setup
	cmdLineFn        = multiboot.GetBootCmdLine
	framebufferFn    = multiboot.GetFramebufferInfo

	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. This function is invoked by the rt0 assembly code
// after setting up the GDT and a minimal g0 struct that allows Go code to run
// on the stack allocated by the assembly code. Interrupts are disabled.
//
// The rt0 code passes the address of the multiboot info payload provided by
// the bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	detectHardwareFn()
	fb := framebufferFn()
	logFramebuffer(fb)

	if err := pmmInitFn(kernelStart, kernelEnd); err != nil {
		panic(err)
	}

	cfg := irq.ConfigFromCmdLine(cmdLineFn())
	ctrl, err := irqSetupFn(cfg)
	if err != nil {
		panic(err)
	}

	app := newPongApp(cfg.TimerHz, fb)
	dispatcher, err := app.handlerTable().Activate(ctrl)
	if err != nil {
		panic(err)
	}

	if err = dispatcher.Run(); err != nil {
		panic(err)
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating it as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

func logFramebuffer(fb *multiboot.FramebufferInfo) {
	if fb == nil {
		kfmt.Printf("[kmain] no framebuffer information available\n")
		return
	}

	kfmt.Printf("[kmain] framebuffer at 0x%x: %dx%d, %d bpp, pitch %d, type %s\n",
		fb.PhysAddr, fb.Width, fb.Height, fb.Bpp, fb.Pitch, fb.Type.String(),
	)
}
