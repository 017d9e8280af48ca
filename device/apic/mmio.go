package apic

import (
	"sync/atomic"
	"unsafe"
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	mmioRead32Fn  = mmioRead32
	mmioWrite32Fn = mmioWrite32
)

// APIC registers must be accessed with aligned 32-bit loads and stores. The
// atomic operations guarantee the compiler emits exactly one MOVL per access.
func mmioRead32(addr uintptr) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(addr)))
}

func mmioWrite32(addr uintptr, val uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(addr)), val)
}
