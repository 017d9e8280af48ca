package irq

import (
	"pluggos/device/apic"
	"pluggos/kernel/kfmt"
	"strconv"
)

// Boot command line keys understood by ConfigFromCmdLine.
const (
	keyTimerHz     = "apic.timer.hz"
	keyTimerDivide = "apic.timer.divide"
	keyTimerCount  = "apic.timer.count"
	keyTimerMode   = "apic.timer.mode"
	keyMouse       = "ps2.mouse"
)

// Config controls how Setup programs the interrupt hardware.
type Config struct {
	// TimerHz is the desired timer interrupt rate. It is used to derive
	// the initial count from a PIT calibration run.
	TimerHz uint32

	// TimerDivide is the LAPIC timer clock divider.
	TimerDivide uint8

	// TimerCount, if non-zero, is used as the timer initial count as-is
	// and calibration is skipped.
	TimerCount uint32

	TimerMode apic.TimerMode

	// EnableMouse controls whether the PS/2 auxiliary port is set up.
	EnableMouse bool
}

// DefaultConfig returns the configuration used when the command line does not
// override anything: a 100Hz periodic timer with a divider of 16 and the
// mouse enabled.
func DefaultConfig() Config {
	return Config{
		TimerHz:     100,
		TimerDivide: 16,
		TimerMode:   apic.TimerPeriodic,
		EnableMouse: true,
	}
}

// ConfigFromCmdLine returns DefaultConfig adjusted by the supplied boot
// command line arguments. Invalid values are logged and ignored.
func ConfigFromCmdLine(cmdLine map[string]string) Config {
	cfg := DefaultConfig()

	for key, value := range cmdLine {
		valid := true

		switch key {
		case keyTimerHz:
			var hz uint64
			hz, valid = parseUint(value, 32)
			valid = valid && hz != 0
			if valid {
				cfg.TimerHz = uint32(hz)
			}
		case keyTimerDivide:
			var div uint64
			div, valid = parseUint(value, 8)
			valid = valid && apic.ValidDivide(uint8(div))
			if valid {
				cfg.TimerDivide = uint8(div)
			}
		case keyTimerCount:
			var count uint64
			count, valid = parseUint(value, 32)
			if valid {
				cfg.TimerCount = uint32(count)
			}
		case keyTimerMode:
			switch value {
			case "periodic":
				cfg.TimerMode = apic.TimerPeriodic
			case "oneshot":
				cfg.TimerMode = apic.TimerOneShot
			default:
				valid = false
			}
		case keyMouse:
			switch value {
			case "on", keyMouse:
				cfg.EnableMouse = true
			case "off":
				cfg.EnableMouse = false
			default:
				valid = false
			}
		}

		if !valid {
			kfmt.Printf("[irq] ignoring invalid value %s for %s\n", value, key)
		}
	}

	return cfg
}

func parseUint(value string, bits int) (uint64, bool) {
	v, err := strconv.ParseUint(value, 0, bits)
	return v, err == nil
}
