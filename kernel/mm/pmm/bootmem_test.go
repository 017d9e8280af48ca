package pmm

import (
	"bytes"
	"pluggos/kernel/kfmt"
	"pluggos/kernel/mm"
	"pluggos/multiboot"
	"strings"
	"testing"
	"unsafe"
)

func TestBootMemoryAllocator(t *testing.T) {
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&multibootMemoryMap[0])))
	defer multiboot.SetInfoPtr(0)

	specs := []struct {
		kernelStart, kernelEnd uintptr
		expAllocCount          uint64
	}{
		{
			// the kernel is loaded in a reserved memory region
			0xa0000,
			0xa0000,
			// region 1 extents get rounded to [0, 9f000] and provides 159 frames [0 to 158]
			// region 2 uses the original extents [100000 - 7fe0000] and provides 32480 frames [256-32735]
			159 + 32480,
		},
		{
			// the kernel is loaded at the beginning of region 1 taking 2.5 pages
			0x0,
			0x2800,
			// frames 0,1 and 2 (round up kernel end) are used by the kernel
			159 - 3 + 32480,
		},
		{
			// the kernel is loaded at the end of region 1 taking 2.5 pages
			0x9c800,
			0x9f000,
			// frames 156,157 and 158 (round down kernel start) are used by the kernel
			159 - 3 + 32480,
		},
		{
			// the kernel (after rounding) uses the entire region 1
			0x123,
			0x9fc00,
			32480,
		},
		{
			// the kernel is loaded at region 2 start + 2K taking 1.5 pages;
			// frames 256 and 257 are used by the kernel
			0x100800,
			0x102000,
			159 + 32480 - 2,
		},
	}

	var alloc bootMemAllocator
	for specIndex, spec := range specs {
		alloc.init(spec.kernelStart, spec.kernelEnd)

		kernelFirst := mm.FrameFromAddress(spec.kernelStart)
		kernelLast := mm.FrameFromAddress(spec.kernelEnd - 1)
		prevFrame := mm.InvalidFrame

		for {
			frame, err := alloc.AllocFrame()
			if err != nil {
				if err == errBootAllocOutOfMemory {
					break
				}
				t.Errorf("[spec %d] [frame %d] unexpected allocator error: %v", specIndex, alloc.allocCount, err)
				break
			}

			if frame != alloc.lastAllocFrame {
				t.Errorf("[spec %d] [frame %d] expected allocated frame to be %d; got %d", specIndex, alloc.allocCount, alloc.lastAllocFrame, frame)
			}

			if !frame.Valid() {
				t.Errorf("[spec %d] [frame %d] expected IsValid() to return true", specIndex, alloc.allocCount)
			}

			// Frames must be strictly increasing which also implies uniqueness
			if prevFrame.Valid() && frame <= prevFrame {
				t.Errorf("[spec %d] expected frame %d to be greater than the previous frame %d", specIndex, frame, prevFrame)
			}
			prevFrame = frame

			if spec.kernelEnd > spec.kernelStart && frame >= kernelFirst && frame <= kernelLast {
				t.Errorf("[spec %d] allocator returned frame %d which overlaps the kernel image", specIndex, frame)
			}
		}

		if alloc.allocCount != spec.expAllocCount {
			t.Errorf("[spec %d] expected allocator to allocate %d frames; allocated %d", specIndex, spec.expAllocCount, alloc.allocCount)
		}

		// The allocator must keep failing once exhausted
		if frame, err := alloc.AllocFrame(); err != errBootAllocOutOfMemory || frame.Valid() {
			t.Errorf("[spec %d] expected exhausted allocator to return (InvalidFrame, errBootAllocOutOfMemory); got (%d, %v)", specIndex, frame, err)
		}
	}
}

func TestBootMemoryAllocatorReservedRegions(t *testing.T) {
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&multibootMemoryMap[0])))
	defer multiboot.SetInfoPtr(0)

	var alloc bootMemAllocator
	alloc.init(0x0, 0x1000)

	// Adjacent reserved ranges must be skipped in one go
	for _, r := range [][2]uintptr{{0x1000, 0x2000}, {0x2000, 0x3001}} {
		if err := alloc.reserve(r[0], r[1]); err != nil {
			t.Fatal(err)
		}
	}

	if frame, err := alloc.AllocFrame(); err != nil || frame != mm.Frame(4) {
		t.Fatalf("expected first allocation to return frame 4; got %d (err: %v)", frame, err)
	}

	for alloc.reservedCount < maxReservedRanges {
		if err := alloc.reserve(0x5000, 0x6000); err != nil {
			t.Fatal(err)
		}
	}

	if err := alloc.reserve(0x7000, 0x8000); err != errTooManyReservedRegions {
		t.Fatalf("expected errTooManyReservedRegions; got %v", err)
	}

	if frame, _ := alloc.AllocFrame(); frame != mm.Frame(6) {
		t.Fatalf("expected next allocation to skip frame 5; got %d", frame)
	}
}

func TestBootMemoryAllocatorWithoutMemoryMap(t *testing.T) {
	multiboot.SetInfoPtr(0)

	var alloc bootMemAllocator
	alloc.init(0, 0)

	if _, err := alloc.AllocFrame(); err != errBootAllocOutOfMemory {
		t.Fatalf("expected errBootAllocOutOfMemory; got %v", err)
	}
}

func TestInit(t *testing.T) {
	defer func() {
		infoRegionFn = multiboot.InfoRegion
		multiboot.SetInfoPtr(0)
		mm.SetFrameAllocator(nil)
		kfmt.SetOutputSink(nil)
	}()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&multibootMemoryMap[0])))
	infoRegionFn = func() (uintptr, uintptr) {
		return 0x1000, 0x3000
	}

	if err := Init(0x100000, 0x180000); err != nil {
		t.Fatal(err)
	}

	for _, exp := range []mm.Frame{0, 3, 4} {
		frame, err := mm.AllocFrame()
		if err != nil {
			t.Fatal(err)
		}

		if frame != exp {
			t.Fatalf("expected mm.AllocFrame to return frame %d; got %d", exp, frame)
		}
	}

	if exp, got := uint64(3), AllocatedFrames(); got != exp {
		t.Fatalf("expected AllocatedFrames to return %d; got %d", exp, got)
	}

	for _, exp := range []string{
		"[pmm] system memory map:",
		"type: available",
		"[pmm] available memory: 130559Kb",
		"[pmm] kernel loaded at 0x100000 - 0x180000",
		"[pmm] reserved frames: 1 - 2",
	} {
		if !strings.Contains(buf.String(), exp) {
			t.Errorf("expected Init output to contain %q; got:\n%s", exp, buf.String())
		}
	}
}

var (
	// A dump of multiboot data when running under qemu containing only the
	// memory region tag.  The dump encodes the following available memory
	// regions:
	// [     0 -   9fc00] length:    654336
	// [100000 - 7fe0000] length: 133038080
	multibootMemoryMap = []byte{
		72, 5, 0, 0, 0, 0, 0, 0,
		6, 0, 0, 0, 160, 0, 0, 0, 24, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 252, 9, 0, 0, 0, 0, 0,
		1, 0, 0, 0, 0, 0, 0, 0, 0, 252, 9, 0, 0, 0, 0, 0,
		0, 4, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 15, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0,
		2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 16, 0, 0, 0, 0, 0,
		0, 0, 238, 7, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 254, 7, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0,
		2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 252, 255, 0, 0, 0, 0,
		0, 0, 4, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 8, 0, 0, 0,
	}
)
