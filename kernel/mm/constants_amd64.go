package mm

const (
	// PointerShift is log2 of the pointer size on this architecture.
	PointerShift = uintptr(3)

	// PageShift is log2(PageSize); shifting an address right by PageShift
	// yields its page or frame index.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)
)
