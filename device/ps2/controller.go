// Package ps2 drives the 8042 PS/2 controller and decodes the byte streams
// produced by the keyboard and the mouse attached to it.
package ps2

import (
	"pluggos/kernel"
	"pluggos/kernel/cpu"
)

const (
	dataPort    uint16 = 0x60
	statusPort  uint16 = 0x64
	commandPort uint16 = 0x64

	statusOutputFull = 1 << 0
	statusInputFull  = 1 << 1

	cmdReadConfig  = 0x20
	cmdWriteConfig = 0x60
	cmdDisableAux  = 0xa7
	cmdEnableAux   = 0xa8
	cmdDisableKbd  = 0xad
	cmdEnableKbd   = 0xae
	cmdWriteToAux  = 0xd4

	configKbdIRQ    = 1 << 0
	configAuxIRQ    = 1 << 1
	configKbdClock  = 1 << 4
	configAuxClock  = 1 << 5
	configTranslate = 1 << 6

	mouseSetDefaults  = 0xf6
	mouseEnableStream = 0xf4
	deviceAck         = 0xfa

	maxFlushedBytes    = 16
	maxControllerPolls = 1 << 16
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte

	errControllerTimeout = &kernel.Error{Module: "ps2", Message: "timed out waiting for the PS/2 controller"}
	errMouseNoAck        = &kernel.Error{Module: "ps2", Message: "mouse did not acknowledge command"}
)

// Init configures the controller so that the keyboard raises IRQ1 using scan
// code set 1 and, if enableMouse is set, the mouse streams packets on IRQ12.
func Init(enableMouse bool) *kernel.Error {
	if err := command(cmdDisableKbd); err != nil {
		return err
	}
	if err := command(cmdDisableAux); err != nil {
		return err
	}

	// Drop anything left in the output buffer by the firmware.
	for i := 0; i < maxFlushedBytes && portReadByteFn(statusPort)&statusOutputFull != 0; i++ {
		portReadByteFn(dataPort)
	}

	if err := command(cmdReadConfig); err != nil {
		return err
	}
	config, err := read()
	if err != nil {
		return err
	}

	// Both IRQ lines stay off while the mouse is configured: its ACKs are
	// consumed by polling here and must not leave a pending IRQ12 behind.
	config |= configTranslate
	config &^= configKbdClock | configKbdIRQ | configAuxIRQ
	if enableMouse {
		config &^= configAuxClock
	}

	if err = writeConfig(config); err != nil {
		return err
	}

	if err = command(cmdEnableKbd); err != nil {
		return err
	}

	config |= configKbdIRQ
	if enableMouse {
		if err = command(cmdEnableAux); err != nil {
			return err
		}
		if err = mouseCommand(mouseSetDefaults); err != nil {
			return err
		}
		if err = mouseCommand(mouseEnableStream); err != nil {
			return err
		}
		config |= configAuxIRQ
	}

	return writeConfig(config)
}

// ReadData returns the byte waiting in the controller's output buffer. It is
// called from the keyboard and mouse interrupt handlers, where the controller
// guarantees that a byte is available.
func ReadData() uint8 {
	return portReadByteFn(dataPort)
}

func mouseCommand(cmd uint8) *kernel.Error {
	if err := command(cmdWriteToAux); err != nil {
		return err
	}
	if err := write(dataPort, cmd); err != nil {
		return err
	}

	ack, err := read()
	if err != nil {
		return err
	}
	if ack != deviceAck {
		return errMouseNoAck
	}
	return nil
}

func writeConfig(config uint8) *kernel.Error {
	if err := command(cmdWriteConfig); err != nil {
		return err
	}
	return write(dataPort, config)
}

func command(cmd uint8) *kernel.Error {
	return write(commandPort, cmd)
}

// write waits for the controller input buffer to drain before sending val.
func write(port uint16, val uint8) *kernel.Error {
	for spins := 0; portReadByteFn(statusPort)&statusInputFull != 0; spins++ {
		if spins == maxControllerPolls {
			return errControllerTimeout
		}
	}

	portWriteByteFn(port, val)
	return nil
}

// read waits for a byte to appear in the controller output buffer.
func read() (uint8, *kernel.Error) {
	for spins := 0; portReadByteFn(statusPort)&statusOutputFull == 0; spins++ {
		if spins == maxControllerPolls {
			return 0, errControllerTimeout
		}
	}

	return portReadByteFn(dataPort), nil
}
