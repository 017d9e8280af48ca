// Package table contains the layouts of the ACPI tables used by the kernel.
package table

// Resolver is an interface implemented by objects that can lookup an ACPI table
// by its name.
//
// LookupTable attempts to locate a table by name returning back a pointer to
// its standard header or nil if the table could not be found. The resolver
// must make sure that the entire table contents are mapped so they can be
// accessed by the caller.
type Resolver interface {
	LookupTable(string) *SDTHeader
}

// RSDPDescriptor defines the root system descriptor pointer for ACPI 1.0. This
// is used as the entry-point for parsing ACPI data.
type RSDPDescriptor struct {
	// The signature must contain "RSD PTR " (last byte is a space).
	Signature [8]byte

	// A value that when added to the sum of all other bytes contained in
	// this descriptor should result in the value 0.
	Checksum uint8

	OEMID [6]byte

	// ACPI revision number. It is 0 for ACPI1.0 and 2 for versions 2.0 to 6.2.
	Revision uint8

	// Physical address of 32-bit root system descriptor table.
	RSDTAddr uint32
}

// ExtRSDPDescriptor extends RSDPDescriptor with additional fields. It is used
// when RSDPDescriptor.revision > 1.
type ExtRSDPDescriptor struct {
	RSDPDescriptor

	// The size of the 64-bit root system descriptor table.
	Length uint32

	// Physical address of 64-bit root system descriptor table.
	XSDTAddr uint64

	// A value that when added to the sum of all other bytes contained in
	// this descriptor should result in the value 0.
	ExtendedChecksum uint8

	reserved [3]byte
}

// SDTHeader defines the common header for all ACPI-related tables.
type SDTHeader struct {
	// The signature defines the table type.
	Signature [4]byte

	// The length of the table
	Length uint32

	// The revision of the table layout.
	Revision uint8

	// A value that when added to the sum of all other bytes in the table
	// should result in the value 0.
	Checksum uint8

	// OEM specific information
	OEMID       [6]byte
	OEMTableID  [8]byte
	OEMRevision uint32

	// Information about the ASL compiler that generated this table
	CreatorID       uint32
	CreatorRevision uint32
}

// MADT (Multiple APIC Description Table) is an ACPI table containing
// information about the interrupt controllers and the number of installed
// CPUs. Following the table header are a series of variable sized records
// whose first two bytes hold the record type and length.
type MADT struct {
	SDTHeader

	LocalControllerAddress uint32
	Flags                  uint32
}

// MADTEntryType describes the type of a MADT record.
type MADTEntryType uint8

// The list of MADT entry types that are recognized by the acpi driver.
const (
	MADTEntryTypeLocalAPIC MADTEntryType = iota
	MADTEntryTypeIOAPIC
	MADTEntryTypeIntSrcOverride
	MADTEntryTypeNMISource
	MADTEntryTypeLocalNMI
	MADTEntryTypeLocalAPICAddrOverride
)

// MADTFlagPCATCompat is set in MADT.Flags when the system also contains a
// pair of legacy 8259 PICs that must be masked before using the APICs.
const MADTFlagPCATCompat uint32 = 1 << 0

// MADT records are byte-packed and several of them place 32-bit fields at
// offsets that are not 4-byte aligned; they cannot be overlaid with Go
// structs and are decoded field by field using the offsets below. Offsets
// are relative to the start of the record, including its 2-byte type/length
// prefix.
const (
	MADTEntryHeaderLen = 2

	// Local APIC: processor ID, APIC ID, flags.
	MADTLocalAPICFlagsOffset = 4
	MADTLocalAPICLen         = 8

	// I/O APIC: ID, reserved, address, global system interrupt base.
	MADTIOAPICIDOffset      = 2
	MADTIOAPICAddrOffset    = 4
	MADTIOAPICGSIBaseOffset = 8
	MADTIOAPICLen           = 12

	// Interrupt source override: bus, source IRQ, GSI, flags.
	MADTOverrideBusOffset   = 2
	MADTOverrideIRQOffset   = 3
	MADTOverrideGSIOffset   = 4
	MADTOverrideFlagsOffset = 8
	MADTOverrideLen         = 10

	// Local APIC address override: reserved, 64-bit address.
	MADTLocalAPICAddrOverrideAddrOffset = 4
	MADTLocalAPICAddrOverrideLen        = 12
)

// MPS INTI flags stored in interrupt source override records.
const (
	MADTPolarityMask    uint16 = 0x3
	MADTPolarityLow     uint16 = 0x3
	MADTTriggerMask     uint16 = 0x3 << 2
	MADTTriggerLevel    uint16 = 0x3 << 2
	MADTLocalAPICEnable uint32 = 1 << 0
)
