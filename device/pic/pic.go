// Package pic controls the legacy 8259 programmable interrupt controller pair.
// The kernel routes every device interrupt through the APICs, so the only
// job left for the 8259s is to get out of the way.
package pic

import "pluggos/kernel/cpu"

const (
	masterCmd  uint16 = 0x20
	masterData uint16 = 0x21
	slaveCmd   uint16 = 0xa0
	slaveData  uint16 = 0xa1

	// A write to this unused port takes long enough for the PICs to settle
	// between initialization words.
	ioDelayPort uint16 = 0x80

	icw1Init    = 0x10
	icw1NeedsW4 = 0x01
	icw4Mode86  = 0x01

	// The slave is cascaded on master line 2.
	masterCascadeLine = 1 << 2
	slaveCascadeID    = 2

	// MasterVectorBase and SlaveVectorBase are the vectors the PIC lines
	// are remapped to. They overlap the APIC vectors but stay harmless
	// because every line is masked.
	MasterVectorBase = 0x20
	SlaveVectorBase  = 0x28

	maskAll = 0xff
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
)

// Disable re-initializes both PICs so their vectors no longer collide with
// CPU exceptions and then masks every input line.
func Disable() {
	write(masterCmd, icw1Init|icw1NeedsW4)
	write(slaveCmd, icw1Init|icw1NeedsW4)

	write(masterData, MasterVectorBase)
	write(slaveData, SlaveVectorBase)

	write(masterData, masterCascadeLine)
	write(slaveData, slaveCascadeID)

	write(masterData, icw4Mode86)
	write(slaveData, icw4Mode86)

	write(masterData, maskAll)
	write(slaveData, maskAll)
}

// Masked returns true if both PICs have every input line masked.
func Masked() bool {
	return portReadByteFn(masterData) == maskAll && portReadByteFn(slaveData) == maskAll
}

func write(port uint16, val uint8) {
	portWriteByteFn(port, val)
	portWriteByteFn(ioDelayPort, 0)
}
