package vmm

import (
	"pluggos/kernel"
	"pluggos/kernel/mm"
	"runtime"
	"testing"
	"unsafe"
)

func TestNextAddrFn(t *testing.T) {
	// Dummy test to keep coverage happy
	if exp, got := uintptr(123), nextAddrFn(uintptr(123)); exp != got {
		t.Fatalf("expected nextAddrFn to return %v; got %v", exp, got)
	}
}

func TestMapAmd64(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 runtime; skipping")
	}

	defer func(origPtePtr func(uintptr) unsafe.Pointer, origNextAddrFn func(uintptr) uintptr, origFlushTLBEntryFn func(uintptr)) {
		ptePtrFn = origPtePtr
		nextAddrFn = origNextAddrFn
		flushTLBEntryFn = origFlushTLBEntryFn
		mm.SetFrameAllocator(nil)
	}(ptePtrFn, nextAddrFn, flushTLBEntryFn)

	var physPages [pageLevels][mm.PageSize >> mm.PointerShift]pageTableEntry
	nextPhysPage := 0

	// allocFn returns pages from index 1; we keep index 0 for the P4 entry
	mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) {
		nextPhysPage++
		pageAddr := unsafe.Pointer(&physPages[nextPhysPage][0])
		return mm.Frame(uintptr(pageAddr) >> mm.PageShift), nil
	})

	pteCallCount := 0
	ptePtrFn = func(entry uintptr) unsafe.Pointer {
		pteCallCount++
		// The last 12 bits encode the page table offset in bytes
		// which we need to convert to a uint64 entry
		pteIndex := (entry & uintptr(mm.PageSize-1)) >> mm.PointerShift
		return unsafe.Pointer(&physPages[pteCallCount-1][pteIndex])
	}

	nextAddrFn = func(entry uintptr) uintptr {
		return uintptr(unsafe.Pointer(&physPages[nextPhysPage][0]))
	}

	flushTLBEntryCallCount := 0
	flushTLBEntryFn = func(uintptr) {
		flushTLBEntryCallCount++
	}

	// The LAPIC register page 0xfee00000 breaks down to:
	// p4 index: 0
	// p3 index: 3
	// p2 index: 503
	// p1 index: 0
	page := mm.PageFromAddress(0xfee00000)
	frame := mm.Frame(0xfee00)
	levelIndices := []uint{0, 3, 503, 0}

	if err := Map(page, frame, FlagsDevice); err != nil {
		t.Fatal(err)
	}

	for level, physPage := range physPages {
		pte := physPage[levelIndices[level]]
		if !pte.HasFlags(FlagPresent | FlagRW) {
			t.Errorf("[pte at level %d] expected entry to have FlagPresent and FlagRW set", level)
		}

		switch {
		case level < pageLevels-1:
			if exp, got := mm.Frame(uintptr(unsafe.Pointer(&physPages[level+1][0]))>>mm.PageShift), pte.Frame(); got != exp {
				t.Errorf("[pte at level %d] expected entry frame to be %d; got %d", level, exp, got)
			}
		default:
			if got := pte.Frame(); got != frame {
				t.Errorf("[pte at level %d] expected entry frame to be %d; got %d", level, frame, got)
			}

			if !pte.HasFlags(FlagDoNotCache | FlagWriteThroughCaching) {
				t.Errorf("[pte at level %d] expected device mapping to disable caching", level)
			}
		}
	}

	if exp := 1; flushTLBEntryCallCount != exp {
		t.Errorf("expected flushTLBEntry to be called %d times; got %d", exp, flushTLBEntryCallCount)
	}
}

func TestMapErrorsAmd64(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 runtime; skipping")
	}

	defer func(origPtePtr func(uintptr) unsafe.Pointer, origFlushTLBEntryFn func(uintptr)) {
		ptePtrFn = origPtePtr
		flushTLBEntryFn = origFlushTLBEntryFn
		mm.SetFrameAllocator(nil)
	}(ptePtrFn, flushTLBEntryFn)

	var pte pageTableEntry
	ptePtrFn = func(uintptr) unsafe.Pointer { return unsafe.Pointer(&pte) }
	flushTLBEntryFn = func(uintptr) {}

	t.Run("encounter huge page", func(t *testing.T) {
		pte = 0
		pte.SetFlags(FlagPresent | FlagHugePage)

		if err := Map(mm.Page(0), mm.Frame(0), FlagRW); err != errNoHugePageSupport {
			t.Fatalf("expected to get errNoHugePageSupport; got %v", err)
		}
	})

	t.Run("allocFn returns an error", func(t *testing.T) {
		pte = 0
		expErr := &kernel.Error{Module: "test", Message: "out of memory"}

		mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) {
			return 0, expErr
		})

		if err := Map(mm.Page(0), mm.Frame(0), FlagRW); err != expErr {
			t.Fatalf("got unexpected error %v", err)
		}
	})

	t.Run("no frame allocator", func(t *testing.T) {
		pte = 0
		mm.SetFrameAllocator(nil)

		if err := Map(mm.Page(0), mm.Frame(0), FlagRW); err == nil {
			t.Fatal("expected an error when no frame allocator is registered")
		}
	})
}

func TestMapPhysical(t *testing.T) {
	defer func() {
		mapFn = Map
		translateFn = Translate
	}()

	physAddr := uintptr(0xfec00010)

	t.Run("not mapped", func(t *testing.T) {
		translateFn = func(uintptr) (uintptr, *kernel.Error) { return 0, ErrInvalidMapping }

		mapCallCount := 0
		mapFn = func(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
			mapCallCount++
			if page != mm.Page(0xfec00) || frame != mm.Frame(0xfec00) {
				t.Errorf("expected identity mapping for frame 0xfec00; got page %x -> frame %x", page, frame)
			}
			if flags != FlagsDevice {
				t.Errorf("expected device flags to be passed through")
			}
			return nil
		}

		m, err := MapPhysical(physAddr, FlagsDevice)
		if err != nil {
			t.Fatal(err)
		}

		if exp := 1; mapCallCount != exp {
			t.Errorf("expected Map to be called %d time(s); got %d", exp, mapCallCount)
		}

		if exp, got := physAddr, m.Address()+PageOffset(physAddr); got != exp {
			t.Errorf("expected mapped register address to be 0x%x; got 0x%x", exp, got)
		}
	})

	t.Run("already mapped to the same frame", func(t *testing.T) {
		translateFn = func(virtAddr uintptr) (uintptr, *kernel.Error) { return virtAddr, nil }
		mapFn = func(mm.Page, mm.Frame, PageTableEntryFlag) *kernel.Error {
			t.Error("unexpected call to Map")
			return nil
		}

		for i := 0; i < 2; i++ {
			m, err := MapPhysical(physAddr, FlagsDevice)
			if err != nil {
				t.Fatal(err)
			}

			if m.Frame != mm.Frame(0xfec00) {
				t.Errorf("expected mapping to reference frame 0xfec00; got %x", m.Frame)
			}
		}
	})

	t.Run("mapped to a different frame", func(t *testing.T) {
		translateFn = func(uintptr) (uintptr, *kernel.Error) { return 0x1000, nil }

		if _, err := MapPhysical(physAddr, FlagsDevice); err != errMappingConflict {
			t.Fatalf("expected errMappingConflict; got %v", err)
		}
	})

	t.Run("Map fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "map failed"}
		translateFn = func(uintptr) (uintptr, *kernel.Error) { return 0, ErrInvalidMapping }
		mapFn = func(mm.Page, mm.Frame, PageTableEntryFlag) *kernel.Error { return expErr }

		if _, err := MapPhysical(physAddr, FlagsDevice); err != expErr {
			t.Fatalf("expected error: %v; got %v", expErr, err)
		}
	})
}

func TestIdentityMapRegion(t *testing.T) {
	defer func() {
		mapFn = Map
		translateFn = Translate
	}()

	translateFn = func(uintptr) (uintptr, *kernel.Error) { return 0, ErrInvalidMapping }

	t.Run("success", func(t *testing.T) {
		mapCallCount := 0
		mapFn = func(_ mm.Page, _ mm.Frame, flags PageTableEntryFlag) *kernel.Error {
			mapCallCount++
			return nil
		}

		page, err := IdentityMapRegion(mm.Frame(0xdf0000), 4097, FlagPresent|FlagRW)
		if err != nil {
			t.Fatal(err)
		}

		if exp := mm.Page(0xdf0000); page != exp {
			t.Errorf("expected region to start at page %x; got %x", exp, page)
		}

		if exp := 2; mapCallCount != exp {
			t.Errorf("expected Map to be called %d time(s); got %d", exp, mapCallCount)
		}
	})

	t.Run("Map fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "map failed"}

		mapFn = func(_ mm.Page, _ mm.Frame, flags PageTableEntryFlag) *kernel.Error {
			return expErr
		}

		if _, err := IdentityMapRegion(mm.Frame(0xdf0000), 128000, FlagPresent|FlagRW); err != expErr {
			t.Fatalf("expected error: %v; got %v", expErr, err)
		}
	})
}

func TestUnmapAmd64(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 runtime; skipping")
	}

	defer func(origPtePtr func(uintptr) unsafe.Pointer, origFlushTLBEntryFn func(uintptr)) {
		ptePtrFn = origPtePtr
		flushTLBEntryFn = origFlushTLBEntryFn
	}(ptePtrFn, flushTLBEntryFn)

	var (
		physPages [pageLevels][mm.PageSize >> mm.PointerShift]pageTableEntry
		frame     = mm.Frame(123)
	)

	// Emulate a page mapped to virtAddr 0 across all page levels
	for level := 0; level < pageLevels; level++ {
		physPages[level][0].SetFlags(FlagPresent | FlagRW)
		if level < pageLevels-1 {
			physPages[level][0].SetFrame(mm.Frame(uintptr(unsafe.Pointer(&physPages[level+1][0])) >> mm.PageShift))
		} else {
			physPages[level][0].SetFrame(frame)
		}
	}

	pteCallCount := 0
	ptePtrFn = func(entry uintptr) unsafe.Pointer {
		pteCallCount++
		return unsafe.Pointer(&physPages[pteCallCount-1][0])
	}

	flushTLBEntryCallCount := 0
	flushTLBEntryFn = func(uintptr) {
		flushTLBEntryCallCount++
	}

	if err := Unmap(mm.PageFromAddress(0)); err != nil {
		t.Fatal(err)
	}

	for level, physPage := range physPages {
		pte := physPage[0]

		switch {
		case level < pageLevels-1:
			if !pte.HasFlags(FlagPresent) {
				t.Errorf("[pte at level %d] expected entry to retain FlagPresent", level)
			}
		default:
			if pte.HasFlags(FlagPresent) {
				t.Errorf("[pte at level %d] expected entry not to have FlagPresent set", level)
			}
			if got := pte.Frame(); got != frame {
				t.Errorf("[pte at level %d] expected entry frame to still be %d; got %d", level, frame, got)
			}
		}
	}

	if exp := 1; flushTLBEntryCallCount != exp {
		t.Errorf("expected flushTLBEntry to be called %d times; got %d", exp, flushTLBEntryCallCount)
	}
}

func TestUnmapErrorsAmd64(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 runtime; skipping")
	}

	defer func(origPtePtr func(uintptr) unsafe.Pointer) {
		ptePtrFn = origPtePtr
	}(ptePtrFn)

	var pte pageTableEntry
	ptePtrFn = func(uintptr) unsafe.Pointer { return unsafe.Pointer(&pte) }

	t.Run("encounter huge page", func(t *testing.T) {
		pte = 0
		pte.SetFlags(FlagPresent | FlagHugePage)

		if err := Unmap(mm.Page(0)); err != errNoHugePageSupport {
			t.Fatalf("expected to get errNoHugePageSupport; got %v", err)
		}
	})

	t.Run("virtual address not mapped", func(t *testing.T) {
		pte = 0

		if err := Unmap(mm.Page(0)); err != ErrInvalidMapping {
			t.Fatalf("expected to get ErrInvalidMapping; got %v", err)
		}
	})
}
