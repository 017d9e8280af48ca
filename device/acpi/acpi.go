// Package acpi locates the ACPI root tables and decodes the interrupt
// controller topology described by the MADT.
package acpi

import (
	"io"
	"pluggos/device"
	"pluggos/device/acpi/table"
	"pluggos/kernel"
	"pluggos/kernel/kfmt"
	"pluggos/kernel/mm"
	"pluggos/kernel/mm/vmm"
	"pluggos/multiboot"
	"unsafe"
)

const (
	acpiRev1     uint8 = 0
	acpiRev2Plus uint8 = 2

	// The extended RSDP is 36 bytes long; its Go representation carries
	// trailing padding that is not part of the checksummed region.
	extRSDPLen = 36
)

var (
	errMissingRSDP           = &kernel.Error{Module: "acpi", Message: "could not locate ACPI RSDP"}
	errTableChecksumMismatch = &kernel.Error{Module: "acpi", Message: "detected checksum mismatch while parsing ACPI table header"}

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	identityMapFn = vmm.IdentityMapRegion
	bootRSDPFn    = multiboot.GetRSDP

	// RDSP must be located in the physical memory region 0xe0000 to 0xfffff
	rsdpLocationLo uintptr = 0xe0000
	rsdpLocationHi uintptr = 0xfffff
	rsdpAlignment  uintptr = 16

	rsdpSignature = [8]byte{'R', 'S', 'D', ' ', 'P', 'T', 'R', ' '}
	madtSignature = "APIC"

	// activeDriver points to the driver instance that completed its
	// initialization. It is nil if no ACPI tables were found.
	activeDriver *acpiDriver
)

type acpiDriver struct {
	// rsdtAddr holds the address to the root system descriptor table.
	rsdtAddr uintptr

	// useXSDT specifies if the driver must use the XSDT or the RSDT table.
	useXSDT bool

	// The ACPI table map allows the driver to lookup an ACPI table header
	// by the table name. All tables included in this map are mapped into
	// memory.
	tableMap map[string]*table.SDTHeader

	topology    InterruptTopology
	hasTopology bool
}

// DriverInit initializes this driver.
func (drv *acpiDriver) DriverInit(w io.Writer) *kernel.Error {
	if err := drv.enumerateTables(w); err != nil {
		return err
	}

	drv.printTableInfo(w)

	if madt := drv.LookupTable(madtSignature); madt != nil {
		topology, err := parseMADT(madt)
		if err != nil {
			return err
		}

		drv.topology, drv.hasTopology = topology, true
		kfmt.Fprintf(w, "local APIC at 0x%x, %d CPU(s), %d I/O APIC(s), %d override(s)\n",
			topology.LocalAPICAddress,
			topology.ProcessorCount,
			topology.IOAPICCount,
			topology.OverrideCount,
		)
	}

	activeDriver = drv
	return nil
}

// DriverName returns the name of this driver.
func (*acpiDriver) DriverName() string {
	return "ACPI"
}

// DriverVersion returns the version of this driver.
func (*acpiDriver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// LookupTable returns the header of the named table or nil if the firmware
// did not provide it.
func (drv *acpiDriver) LookupTable(name string) *table.SDTHeader {
	return drv.tableMap[name]
}

// LookupTable returns the header of the named ACPI table. It returns nil if
// the ACPI driver has not been initialized or the table does not exist.
func LookupTable(name string) *table.SDTHeader {
	if activeDriver == nil {
		return nil
	}
	return activeDriver.LookupTable(name)
}

// InterruptControllers returns the interrupt controller topology decoded from
// the MADT. The second return value is false if no MADT is available.
func InterruptControllers() (*InterruptTopology, bool) {
	if activeDriver == nil || !activeDriver.hasTopology {
		return nil, false
	}
	return &activeDriver.topology, true
}

func (drv *acpiDriver) printTableInfo(w io.Writer) {
	for name, header := range drv.tableMap {
		kfmt.Fprintf(w, "%s at 0x%16x %6x (%6s %8s)\n",
			name,
			uintptr(unsafe.Pointer(header)),
			header.Length,
			string(header.OEMID[:]),
			string(header.OEMTableID[:]),
		)
	}
}

// enumerateTables detects and maps all ACPI tables listed by the RSDT or
// XSDT. Tables with an invalid checksum are reported and skipped.
func (drv *acpiDriver) enumerateTables(w io.Writer) *kernel.Error {
	header, sizeofHeader, err := mapACPITable(drv.rsdtAddr)
	if err != nil {
		return err
	}

	drv.tableMap = make(map[string]*table.SDTHeader)

	var (
		payloadLen = header.Length - uint32(sizeofHeader)
		entrySize  = uintptr(4)
		entryCount uintptr
	)

	// RSDT uses 4-byte long pointers whereas the XSDT uses 8-byte long.
	if drv.useXSDT {
		entrySize = 8
	}
	entryCount = uintptr(payloadLen) / entrySize

	for i, curPtr := uintptr(0), drv.rsdtAddr+sizeofHeader; i < entryCount; i, curPtr = i+1, curPtr+entrySize {
		var addr uintptr
		if drv.useXSDT {
			addr = uintptr(*(*uint64)(unsafe.Pointer(curPtr)))
		} else {
			addr = uintptr(*(*uint32)(unsafe.Pointer(curPtr)))
		}

		if header, _, err = mapACPITable(addr); err != nil {
			if err != errTableChecksumMismatch {
				return err
			}

			kfmt.Fprintf(w, "%s at 0x%16x %6x [checksum mismatch; skipping]\n",
				string(header.Signature[:]),
				uintptr(unsafe.Pointer(header)),
				header.Length,
			)
			continue
		}

		drv.tableMap[string(header.Signature[:])] = header
	}

	return nil
}

// mapACPITable attempts to map and parse the header for the ACPI table starting
// at the given address. It then uses the length field for the header to expand
// the mapping to cover the table contents and verifies the checksum before
// returning a pointer to the table header.
func mapACPITable(tableAddr uintptr) (header *table.SDTHeader, sizeofHeader uintptr, err *kernel.Error) {
	var headerPage mm.Page

	// Identity-map the table header so we can access its length field
	sizeofHeader = unsafe.Sizeof(table.SDTHeader{})
	if headerPage, err = identityMapFn(mm.FrameFromAddress(tableAddr), vmm.PageOffset(tableAddr)+sizeofHeader, vmm.FlagPresent); err != nil {
		return nil, sizeofHeader, err
	}

	// Expand mapping to cover the table contents
	headerPageAddr := headerPage.Address() + vmm.PageOffset(tableAddr)
	header = (*table.SDTHeader)(unsafe.Pointer(headerPageAddr))
	if _, err = identityMapFn(mm.FrameFromAddress(tableAddr), vmm.PageOffset(tableAddr)+uintptr(header.Length), vmm.FlagPresent); err != nil {
		return nil, sizeofHeader, err
	}

	if !validTable(headerPageAddr, header.Length) {
		err = errTableChecksumMismatch
	}

	return header, sizeofHeader, err
}

// locateRSDT returns the physical address of the root system descriptor table
// (RSDT) or the extended system descriptor table (XSDT) if the system supports
// ACPI 2.0+. The RSDP copy supplied by the boot loader is preferred; if there
// is none, the memory region [rsdpLocationLo, rsdpLocationHi] is scanned for
// the RSDP signature.
func locateRSDT() (uintptr, bool, *kernel.Error) {
	if rsdpAddr, ok := bootRSDPFn(); ok {
		if rsdtAddr, useXSDT, valid := parseRSDP(rsdpAddr); valid {
			return rsdtAddr, useXSDT, nil
		}
	}

	// Make sure the BIOS area is accessible before scanning it.
	scanFrame := mm.FrameFromAddress(rsdpLocationLo)
	if _, err := identityMapFn(scanFrame, rsdpLocationHi-scanFrame.Address()+1, vmm.FlagPresent); err != nil {
		return 0, false, err
	}

	// The RSDP should be aligned on a 16-byte boundary
	for curPtr := rsdpLocationLo; curPtr < rsdpLocationHi; curPtr += rsdpAlignment {
		if rsdtAddr, useXSDT, valid := parseRSDP(curPtr); valid {
			return rsdtAddr, useXSDT, nil
		}
	}

	return 0, false, errMissingRSDP
}

// parseRSDP checks whether a valid RSDP is located at rsdpAddr and returns
// the root table it points to.
func parseRSDP(rsdpAddr uintptr) (rsdtAddr uintptr, useXSDT, valid bool) {
	rsdp := (*table.RSDPDescriptor)(unsafe.Pointer(rsdpAddr))
	if rsdp.Signature != rsdpSignature {
		return 0, false, false
	}

	if rsdp.Revision == acpiRev1 {
		if !validTable(rsdpAddr, uint32(unsafe.Sizeof(*rsdp))) {
			return 0, false, false
		}

		return uintptr(rsdp.RSDTAddr), false, true
	}

	// System uses ACPI revision > 1 and provides an extended RSDP
	// which can be accessed at the same place.
	rsdp2 := (*table.ExtRSDPDescriptor)(unsafe.Pointer(rsdpAddr))
	if !validTable(rsdpAddr, extRSDPLen) {
		return 0, false, false
	}

	return uintptr(rsdp2.XSDTAddr), true, true
}

// validTable calculates the checksum for an ACPI table of length tableLength
// that starts at tablePtr and returns true if the table is valid.
func validTable(tablePtr uintptr, tableLength uint32) bool {
	var sum uint8

	for _, b := range unsafe.Slice((*uint8)(unsafe.Pointer(tablePtr)), tableLength) {
		sum += b
	}

	return sum == 0
}

func probeForACPI() device.Driver {
	if rsdtAddr, useXSDT, err := locateRSDT(); err == nil {
		return &acpiDriver{
			rsdtAddr: rsdtAddr,
			useXSDT:  useXSDT,
		}
	}

	return nil
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderACPI,
		Probe: probeForACPI,
	})
}
