package pmm

import (
	"pluggos/kernel"
	"pluggos/kernel/kfmt"
	"pluggos/kernel/mm"
	"pluggos/multiboot"
)

// maxReservedRanges bounds the number of physical ranges that the boot
// allocator can exclude (kernel image, boot info block, ...).
const maxReservedRanges = 4

var (
	errBootAllocOutOfMemory   = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errTooManyReservedRegions = &kernel.Error{Module: "pmm", Message: "too many reserved regions"}
)

// frameRange describes an inclusive range of physical frames.
type frameRange struct {
	first, last mm.Frame
}

// bootMemAllocator implements an allocate-only physical memory allocator.
//
// The allocator uses the memory map supplied by the bootloader to locate
// available regions and hands out their frames in increasing address order,
// skipping any reserved ranges. A single cursor tracks the lowest frame that
// may still be returned so a frame is never handed out twice. Frames cannot
// be freed.
type bootMemAllocator struct {
	// allocCount tracks the total number of allocated frames.
	allocCount uint64

	// nextFrame is the lowest frame that has not been considered yet.
	nextFrame mm.Frame

	// lastAllocFrame tracks the last allocated frame number.
	lastAllocFrame mm.Frame

	kernelStartAddr, kernelEndAddr uintptr

	reserved      [maxReservedRanges]frameRange
	reservedCount int
}

// init resets the allocator state and excludes the frames occupied by the
// kernel image.
func (alloc *bootMemAllocator) init(kernelStart, kernelEnd uintptr) {
	*alloc = bootMemAllocator{
		kernelStartAddr: kernelStart,
		kernelEndAddr:   kernelEnd,
		lastAllocFrame:  mm.InvalidFrame,
	}

	_ = alloc.reserve(kernelStart, kernelEnd)
}

// reserve excludes the physical region [start, end) from allocation. The
// region is widened to whole frames. Empty regions are ignored.
func (alloc *bootMemAllocator) reserve(start, end uintptr) *kernel.Error {
	if end <= start {
		return nil
	}

	if alloc.reservedCount == maxReservedRanges {
		return errTooManyReservedRegions
	}

	alloc.reserved[alloc.reservedCount] = frameRange{
		first: mm.FrameFromAddress(start),
		last:  mm.FrameFromAddress(end - 1),
	}
	alloc.reservedCount++
	return nil
}

// skipReserved returns the first frame >= frame that does not belong to a
// reserved range.
func (alloc *bootMemAllocator) skipReserved(frame mm.Frame) mm.Frame {
	for moved := true; moved; {
		moved = false
		for i := 0; i < alloc.reservedCount; i++ {
			if r := alloc.reserved[i]; frame >= r.first && frame <= r.last {
				frame = r.last + 1
				moved = true
			}
		}
	}

	return frame
}

// AllocFrame scans the system memory regions reported by the bootloader and
// reserves the next available free frame.
//
// AllocFrame returns errBootAllocOutOfMemory once every available frame has
// been handed out.
func (alloc *bootMemAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	var (
		found     bool
		candidate mm.Frame
	)

	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		// Ignore reserved regions and regions smaller than a single page
		if region.Type != multiboot.MemAvailable || region.Length < uint64(mm.PageSize) {
			return true
		}

		// Reported addresses may not be page-aligned; round up to get
		// the start frame and round down to get the end frame
		pageSizeMinus1 := uint64(mm.PageSize - 1)
		regionStartFrame := mm.Frame(((region.PhysAddress + pageSizeMinus1) & ^pageSizeMinus1) >> mm.PageShift)
		regionEndFrame := mm.Frame(((region.PhysAddress+region.Length) & ^pageSizeMinus1)>>mm.PageShift) - 1
		if regionEndFrame < regionStartFrame {
			return true
		}

		candidate = alloc.nextFrame
		if candidate < regionStartFrame {
			candidate = regionStartFrame
		}

		if candidate = alloc.skipReserved(candidate); candidate > regionEndFrame {
			return true
		}

		found = true
		return false
	})

	if !found {
		return mm.InvalidFrame, errBootAllocOutOfMemory
	}

	alloc.nextFrame = candidate + 1
	alloc.lastAllocFrame = candidate
	alloc.allocCount++
	return candidate, nil
}

// printMemoryMap scans the memory region information provided by the
// bootloader and prints out the system's memory map.
func (alloc *bootMemAllocator) printMemoryMap() {
	kfmt.Printf("[pmm] system memory map:\n")
	var totalFree mm.Size
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == multiboot.MemAvailable {
			totalFree += mm.Size(region.Length)
		}
		return true
	})
	kfmt.Printf("[pmm] available memory: %dKb\n", uint64(totalFree/mm.Kb))
	kfmt.Printf("[pmm] kernel loaded at 0x%x - 0x%x\n", alloc.kernelStartAddr, alloc.kernelEndAddr)
	for i := 0; i < alloc.reservedCount; i++ {
		kfmt.Printf("[pmm] reserved frames: %d - %d\n", uint64(alloc.reserved[i].first), uint64(alloc.reserved[i].last))
	}
}
