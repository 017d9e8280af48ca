package vmm

import (
	"pluggos/kernel"
	"pluggos/kernel/cpu"
	"pluggos/kernel/mm"
	"unsafe"
)

var (
	// nextAddrFn is used by tests to override the nextTableAddr
	// calculations used by Map. When compiling the kernel this function
	// will be automatically inlined.
	nextAddrFn = func(entryAddr uintptr) uintptr {
		return entryAddr
	}

	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	mapFn       = Map
	translateFn = Translate

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errMappingConflict   = &kernel.Error{Module: "vmm", Message: "page is already mapped to a different frame"}
)

// Mapping links a virtual page to the physical frame it resolves to. The same
// frame may be reachable through several mappings.
type Mapping struct {
	Page  mm.Page
	Frame mm.Frame
}

// Address returns the virtual base address of the mapped page.
func (m Mapping) Address() uintptr {
	return m.Page.Address()
}

// Map establishes a mapping between a virtual page and a physical memory frame
// using the currently active page directory table. Missing intermediate page
// tables are allocated with mm.AllocFrame and cleared.
func Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flag it as present and flush its TLB entry
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		if !pte.HasFlags(FlagPresent) {
			var newTableFrame mm.Frame
			newTableFrame, err = mm.AllocFrame()
			if err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW)

			// The new table is reachable through the recursive
			// mapping; clear it before the walk descends into it.
			nextTableAddr := (uintptr(unsafe.Pointer(pte)) << pageLevelBits[pteLevel+1])
			kernel.Memset(nextAddrFn(nextTableAddr), 0, mm.PageSize)
		}

		return true
	})

	return err
}

// MapPhysical identity-maps the frame that contains physAddr and returns the
// resulting mapping. The virtual address for physAddr itself is
// Mapping.Address() + PageOffset(physAddr).
//
// MapPhysical is idempotent: if the page is already mapped to the same frame
// the existing mapping is returned unchanged. If the page is mapped to a
// different frame, errMappingConflict is returned.
func MapPhysical(physAddr uintptr, flags PageTableEntryFlag) (Mapping, *kernel.Error) {
	m := Mapping{
		Frame: mm.FrameFromAddress(physAddr),
		Page:  mm.PageFromAddress(physAddr),
	}

	if curPhys, err := translateFn(m.Page.Address()); err == nil {
		if mm.FrameFromAddress(curPhys) != m.Frame {
			return Mapping{}, errMappingConflict
		}
		return m, nil
	}

	if err := mapFn(m.Page, m.Frame, flags); err != nil {
		return Mapping{}, err
	}

	return m, nil
}

// IdentityMapRegion establishes an identity mapping to the physical memory
// region which starts at the given frame and ends at frame + pages(size). The
// size argument is always rounded up to the nearest page boundary.
// IdentityMapRegion returns back the Page that corresponds to the region
// start.
func IdentityMapRegion(startFrame mm.Frame, size uintptr, flags PageTableEntryFlag) (mm.Page, *kernel.Error) {
	startPage := mm.Page(startFrame)
	pageCount := mm.Page(((size + (mm.PageSize - 1)) & ^(mm.PageSize - 1)) >> mm.PageShift)

	for curPage := startPage; curPage < startPage+pageCount; curPage++ {
		if _, err := MapPhysical(curPage.Address(), flags); err != nil {
			return 0, err
		}
	}

	return startPage, nil
}

// Unmap removes a mapping previously installed via a call to Map.
func Unmap(page mm.Page) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to set the
		// page as non-present and flush its TLB entry
		if pteLevel == pageLevels-1 {
			pte.ClearFlags(FlagPresent)
			flushTLBEntryFn(page.Address())
			return true
		}

		// Next table is not present; this is an invalid mapping
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		return true
	})

	return err
}
