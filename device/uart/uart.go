// Package uart drives a 16550-compatible serial port. The port doubles as the
// kernel console: once initialized it becomes the kfmt output sink.
package uart

import (
	"io"
	"pluggos/device"
	"pluggos/kernel"
	"pluggos/kernel/cpu"
	"pluggos/kernel/kfmt"
)

const (
	// COM1 is the I/O port base of the first serial port.
	COM1 uint16 = 0x3f8

	regData       = 0
	regIntEnable  = 1
	regFIFOCtrl   = 2
	regLineCtrl   = 3
	regModemCtrl  = 4
	regLineStatus = 5
	regScratch    = 7

	// While DLAB is set, the data and interrupt enable registers hold the
	// baud rate divisor.
	lineCtrlDLAB = 1 << 7
	lineCtrl8N1  = 0x03

	// Enable and clear the FIFOs using a 14-byte receive threshold.
	fifoCtrlEnable = 0xc7

	// DTR, RTS and OUT2.
	modemCtrlReady = 0x0b

	lineStatusTxEmpty = 1 << 5

	// baseClock is the UART input clock divided by 16.
	baseClock = 115200

	// maxTxSpins bounds the busy-wait for the transmit holding register so
	// a wedged port cannot hang the kernel.
	maxTxSpins = 1 << 16
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte

	errTxTimeout = &kernel.Error{Module: "uart", Message: "transmit holding register did not drain"}
)

// Port is a 16550 serial port.
type Port struct {
	base    uint16
	divisor uint16
}

// NewPort returns a driver for the port at the given I/O base running at the
// given baud rate.
func NewPort(base uint16, baud uint32) *Port {
	return &Port{base: base, divisor: uint16(baseClock / baud)}
}

// DriverName returns the name of this driver.
func (*Port) DriverName() string {
	return "uart16550"
}

// DriverVersion returns the version of this driver.
func (*Port) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit programs the port for 8N1 framing with FIFOs enabled and
// interrupts disabled; output is polled.
func (p *Port) DriverInit(w io.Writer) *kernel.Error {
	portWriteByteFn(p.base+regIntEnable, 0)

	portWriteByteFn(p.base+regLineCtrl, lineCtrlDLAB)
	portWriteByteFn(p.base+regData, uint8(p.divisor))
	portWriteByteFn(p.base+regIntEnable, uint8(p.divisor>>8))
	portWriteByteFn(p.base+regLineCtrl, lineCtrl8N1)

	portWriteByteFn(p.base+regFIFOCtrl, fifoCtrlEnable)
	portWriteByteFn(p.base+regModemCtrl, modemCtrlReady)

	kfmt.Fprintf(w, "port 0x%x, %d baud, 8N1\n", p.base, baseClock/uint32(p.divisor))
	return nil
}

// Write implements io.Writer. Line feeds are expanded to CR LF.
func (p *Port) Write(data []byte) (int, error) {
	for i, b := range data {
		if b == '\n' {
			if err := p.send('\r'); err != nil {
				return i, err
			}
		}
		if err := p.send(b); err != nil {
			return i, err
		}
	}

	return len(data), nil
}

func (p *Port) send(b byte) *kernel.Error {
	for spins := 0; portReadByteFn(p.base+regLineStatus)&lineStatusTxEmpty == 0; spins++ {
		if spins == maxTxSpins {
			return errTxTimeout
		}
	}

	portWriteByteFn(p.base+regData, b)
	return nil
}

// present checks for a UART at base by round-tripping a value through its
// scratch register.
func present(base uint16) bool {
	const probeValue = 0xa5

	portWriteByteFn(base+regScratch, probeValue)
	return portReadByteFn(base+regScratch) == probeValue
}

func probeForCOM1() device.Driver {
	if !present(COM1) {
		return nil
	}

	return NewPort(COM1, 38400)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForCOM1,
	})
}
