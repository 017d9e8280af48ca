// Package pit uses channel 2 of the 8254 programmable interval timer as a
// reference clock for calibrating other timers.
package pit

import (
	"pluggos/kernel"
	"pluggos/kernel/cpu"
)

const (
	// Frequency is the PIT input clock in Hz.
	Frequency = 1193182

	channel2Data uint16 = 0x42
	modeCmd      uint16 = 0x43

	// Port 0x61 bit 0 gates channel 2, bit 1 routes it to the speaker
	// and bit 5 reflects the channel 2 output.
	gatePort       uint16 = 0x61
	gateEnable            = 1 << 0
	speakerEnable         = 1 << 1
	channel2Output        = 1 << 5

	// Channel 2, lobyte/hibyte access, mode 0 (interrupt on terminal
	// count), binary counting.
	channel2OneShot = 0xb0
)

var (
	// maxPollSpins bounds the wait for the terminal count so a missing
	// PIT is reported instead of hanging the kernel.
	maxPollSpins = 1 << 28

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte

	errInvalidWindow = &kernel.Error{Module: "pit", Message: "calibration window does not fit in a 16-bit count"}
	errNoTerminal    = &kernel.Error{Module: "pit", Message: "timed out waiting for the PIT terminal count"}
)

// CountFor returns the PIT count that corresponds to the given number of
// microseconds.
func CountFor(micros uint32) uint32 {
	return uint32((uint64(micros)*Frequency + 500000) / 1000000)
}

// Wait busy-waits for the given number of microseconds using channel 2.
// Interrupts are not needed. The window must not exceed ~54ms.
func Wait(micros uint32) *kernel.Error {
	count := CountFor(micros)
	if count == 0 || count > 0xffff {
		return errInvalidWindow
	}

	// Gate channel 2 off and the speaker off while programming.
	gate := portReadByteFn(gatePort) &^ (gateEnable | speakerEnable)
	portWriteByteFn(gatePort, gate)

	portWriteByteFn(modeCmd, channel2OneShot)
	portWriteByteFn(channel2Data, uint8(count))
	portWriteByteFn(channel2Data, uint8(count>>8))

	// Raising the gate starts the countdown.
	portWriteByteFn(gatePort, gate|gateEnable)

	for spins := 0; portReadByteFn(gatePort)&channel2Output == 0; spins++ {
		if spins == maxPollSpins {
			portWriteByteFn(gatePort, gate)
			return errNoTerminal
		}
	}

	portWriteByteFn(gatePort, gate)
	return nil
}
