package vmm

import (
	"pluggos/kernel/mm"
	"unsafe"
)

var (
	// ptePtrFn returns a pointer to the supplied entry address. Tests
	// override it to redirect the walk to in-memory tables.
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAddr)
	}
)

// pageTableWalker is invoked by walk with the page table entry for each
// level. Returning false aborts the walk.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address using the
// recursive mapping installed in the last P4 entry.
func walk(virtAddr uintptr, walkFn pageTableWalker) {
	var (
		level                            uint8
		tableAddr, entryAddr, entryIndex uintptr
	)

	for level, tableAddr = uint8(0), pdtVirtualAddr; level < pageLevels; level, tableAddr = level+1, entryAddr {
		entryIndex = (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr = tableAddr + (entryIndex << mm.PointerShift)

		if !walkFn(level, (*pageTableEntry)(ptePtrFn(entryAddr))) {
			return
		}

		// Shifting the entry address left by one level adds another
		// hop through the recursive slot and yields the virtual
		// address of the table that the entry points to.
		entryAddr <<= pageLevelBits[level]
	}
}
