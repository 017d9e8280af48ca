package acpi

import (
	"encoding/binary"
	"pluggos/device/acpi/table"
	"pluggos/kernel"
	"unsafe"
)

const (
	maxIOAPICs   = 8
	maxOverrides = 16
)

var (
	errMalformedMADT = &kernel.Error{Module: "acpi", Message: "malformed MADT record"}
)

// IOAPIC describes an I/O APIC listed in the MADT.
type IOAPIC struct {
	ID      uint8
	Address uintptr

	// GSIBase is the first global system interrupt routed through this
	// controller.
	GSIBase uint32
}

// InterruptOverride remaps an ISA IRQ to a global system interrupt with a
// possibly non-default polarity and trigger mode.
type InterruptOverride struct {
	Bus            uint8
	IRQ            uint8
	GSI            uint32
	ActiveLow      bool
	LevelTriggered bool
}

// InterruptTopology summarizes the interrupt controllers described by the
// MADT. Fixed-size arrays keep the decoded data usable before a heap exists.
type InterruptTopology struct {
	LocalAPICAddress uintptr

	// HasLegacyPICs is true if the machine also has a pair of 8259 PICs.
	HasLegacyPICs bool

	// ProcessorCount is the number of enabled local APICs.
	ProcessorCount int

	IOAPICs     [maxIOAPICs]IOAPIC
	IOAPICCount int

	Overrides     [maxOverrides]InterruptOverride
	OverrideCount int
}

// ResolveIRQ maps an ISA IRQ to its global system interrupt. ISA interrupts
// are identity-mapped, edge-triggered and active-high unless an interrupt
// source override says otherwise.
func (t *InterruptTopology) ResolveIRQ(irq uint8) (gsi uint32, activeLow, levelTriggered bool) {
	for i := 0; i < t.OverrideCount; i++ {
		if ov := &t.Overrides[i]; ov.Bus == 0 && ov.IRQ == irq {
			return ov.GSI, ov.ActiveLow, ov.LevelTriggered
		}
	}

	return uint32(irq), false, false
}

// IOAPICFor returns the I/O APIC with the highest GSI base not exceeding gsi.
func (t *InterruptTopology) IOAPICFor(gsi uint32) (IOAPIC, bool) {
	var (
		best  IOAPIC
		found bool
	)

	for i := 0; i < t.IOAPICCount; i++ {
		if cur := t.IOAPICs[i]; cur.GSIBase <= gsi && (!found || cur.GSIBase > best.GSIBase) {
			best, found = cur, true
		}
	}

	return best, found
}

// parseMADT walks the variable-length records that follow the MADT header.
func parseMADT(header *table.SDTHeader) (InterruptTopology, *kernel.Error) {
	var (
		topology InterruptTopology
		madt     = (*table.MADT)(unsafe.Pointer(header))
		raw      = unsafe.Slice((*byte)(unsafe.Pointer(header)), header.Length)
		offset   = int(unsafe.Sizeof(table.MADT{}))
	)

	topology.LocalAPICAddress = uintptr(madt.LocalControllerAddress)
	topology.HasLegacyPICs = madt.Flags&table.MADTFlagPCATCompat != 0

	for offset < len(raw) {
		if offset+table.MADTEntryHeaderLen > len(raw) {
			return topology, errMalformedMADT
		}

		entryType := table.MADTEntryType(raw[offset])
		entryLen := int(raw[offset+1])
		if entryLen < table.MADTEntryHeaderLen || offset+entryLen > len(raw) {
			return topology, errMalformedMADT
		}
		entry := raw[offset : offset+entryLen]
		offset += entryLen

		switch entryType {
		case table.MADTEntryTypeLocalAPIC:
			if entryLen < table.MADTLocalAPICLen {
				return topology, errMalformedMADT
			}
			if binary.LittleEndian.Uint32(entry[table.MADTLocalAPICFlagsOffset:])&table.MADTLocalAPICEnable != 0 {
				topology.ProcessorCount++
			}
		case table.MADTEntryTypeIOAPIC:
			if entryLen < table.MADTIOAPICLen {
				return topology, errMalformedMADT
			}
			if topology.IOAPICCount == maxIOAPICs {
				continue
			}
			topology.IOAPICs[topology.IOAPICCount] = IOAPIC{
				ID:      entry[table.MADTIOAPICIDOffset],
				Address: uintptr(binary.LittleEndian.Uint32(entry[table.MADTIOAPICAddrOffset:])),
				GSIBase: binary.LittleEndian.Uint32(entry[table.MADTIOAPICGSIBaseOffset:]),
			}
			topology.IOAPICCount++
		case table.MADTEntryTypeIntSrcOverride:
			if entryLen < table.MADTOverrideLen {
				return topology, errMalformedMADT
			}
			if topology.OverrideCount == maxOverrides {
				continue
			}
			flags := binary.LittleEndian.Uint16(entry[table.MADTOverrideFlagsOffset:])
			topology.Overrides[topology.OverrideCount] = InterruptOverride{
				Bus:            entry[table.MADTOverrideBusOffset],
				IRQ:            entry[table.MADTOverrideIRQOffset],
				GSI:            binary.LittleEndian.Uint32(entry[table.MADTOverrideGSIOffset:]),
				ActiveLow:      flags&table.MADTPolarityMask == table.MADTPolarityLow,
				LevelTriggered: flags&table.MADTTriggerMask == table.MADTTriggerLevel,
			}
			topology.OverrideCount++
		case table.MADTEntryTypeLocalAPICAddrOverride:
			if entryLen < table.MADTLocalAPICAddrOverrideLen {
				return topology, errMalformedMADT
			}
			topology.LocalAPICAddress = uintptr(binary.LittleEndian.Uint64(entry[table.MADTLocalAPICAddrOverrideAddrOffset:]))
		}
	}

	return topology, nil
}
