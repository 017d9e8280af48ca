// Package pmm implements the physical frame allocator.
package pmm

import (
	"pluggos/kernel"
	"pluggos/kernel/mm"
	"pluggos/multiboot"
)

var (
	// bootAllocator is the only frame allocator used by the kernel.
	bootAllocator bootMemAllocator

	// infoRegionFn is mocked by tests.
	infoRegionFn = multiboot.InfoRegion
)

// Init sets up the physical frame allocator. The frames holding the kernel
// image ([kernelStart, kernelEnd)) and the boot information block are never
// handed out. Once Init returns, mm.AllocFrame is backed by this allocator.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	bootAllocator.init(kernelStart, kernelEnd)
	if err := bootAllocator.reserve(infoRegionFn()); err != nil {
		return err
	}

	bootAllocator.printMemoryMap()
	mm.SetFrameAllocator(earlyAllocFrame)

	return nil
}

// AllocatedFrames returns the number of frames handed out so far.
func AllocatedFrames() uint64 {
	return bootAllocator.allocCount
}

func earlyAllocFrame() (mm.Frame, *kernel.Error) {
	return bootAllocator.AllocFrame()
}
