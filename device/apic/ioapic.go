package apic

import "pluggos/kernel"

// DefaultIOAPICBase is the conventional I/O APIC address used when firmware
// does not describe one.
const DefaultIOAPICBase uintptr = 0xfec00000

const (
	ioRegSelect = 0x00
	ioWindow    = 0x10

	ioapicVersion      = 0x01
	ioapicRedirections = 0x10

	redirVectorMask   = 0xff
	redirActiveLow    = 1 << 13
	redirLevel        = 1 << 15
	redirMasked       = 1 << 16
	redirDestShift    = 24
	redirDestMask     = 0xff << redirDestShift
	redirWritableLow  = redirVectorMask | 0x7<<8 | 1<<11 | redirActiveLow | redirLevel | redirMasked
	versionMaxRedirLo = 16
)

var (
	errGSIOutOfRange = &kernel.Error{Module: "apic", Message: "GSI is not handled by this I/O APIC"}
)

// IOAPIC provides access to a mapped I/O APIC.
type IOAPIC struct {
	base    uintptr
	gsiBase uint32
}

// NewIOAPIC returns an IOAPIC mapped at base whose first input is gsiBase.
func NewIOAPIC(base uintptr, gsiBase uint32) *IOAPIC {
	return &IOAPIC{base: base, gsiBase: gsiBase}
}

// Inputs returns the number of redirection entries.
func (io *IOAPIC) Inputs() uint32 {
	return (io.read(ioapicVersion)>>versionMaxRedirLo)&0xff + 1
}

// Route delivers gsi to vector on the local APIC with ID dest using fixed
// delivery and physical destination mode. The entry is unmasked last.
func (io *IOAPIC) Route(gsi uint32, vector uint8, activeLow, level bool, dest uint8) *kernel.Error {
	reg, err := io.entry(gsi)
	if err != nil {
		return err
	}

	io.update(reg+1, redirDestMask, uint32(dest)<<redirDestShift)

	low := uint32(vector)
	if activeLow {
		low |= redirActiveLow
	}
	if level {
		low |= redirLevel
	}
	io.update(reg, redirWritableLow, low)
	return nil
}

// Mask stops gsi from being delivered.
func (io *IOAPIC) Mask(gsi uint32) *kernel.Error {
	reg, err := io.entry(gsi)
	if err != nil {
		return err
	}

	io.update(reg, redirMasked, redirMasked)
	return nil
}

func (io *IOAPIC) entry(gsi uint32) (uint32, *kernel.Error) {
	if gsi < io.gsiBase || gsi-io.gsiBase >= io.Inputs() {
		return 0, errGSIOutOfRange
	}
	return ioapicRedirections + 2*(gsi-io.gsiBase), nil
}

func (io *IOAPIC) read(reg uint32) uint32 {
	mmioWrite32Fn(io.base+ioRegSelect, reg)
	return mmioRead32Fn(io.base + ioWindow)
}

func (io *IOAPIC) write(reg, val uint32) {
	mmioWrite32Fn(io.base+ioRegSelect, reg)
	mmioWrite32Fn(io.base+ioWindow, val)
}

func (io *IOAPIC) update(reg, mask, val uint32) {
	io.write(reg, io.read(reg)&^mask|val&mask)
}
