package apic

import (
	"pluggos/device/pit"
	"pluggos/kernel"
)

const (
	// CalibrationWindow is the PIT reference interval in microseconds.
	CalibrationWindow = 10000

	calibrationStartCount = 0xffffffff
)

var (
	// pitWaitFn is mocked by tests.
	pitWaitFn = pit.Wait

	errTimerStopped = &kernel.Error{Module: "apic", Message: "LAPIC timer did not count during calibration"}
)

// Calibrate measures how many LAPIC timer ticks elapse, using the given
// divider, while the PIT counts down CalibrationWindow microseconds. The
// timer is left stopped.
func (l *LocalAPIC) Calibrate(divide uint8) (uint32, *kernel.Error) {
	err := l.ConfigureTimer(TimerConfig{
		Mode:         TimerOneShot,
		Divide:       divide,
		InitialCount: calibrationStartCount,
		Masked:       true,
	})
	if err != nil {
		return 0, err
	}

	err = pitWaitFn(CalibrationWindow)
	remaining := l.CurrentCount()
	l.StopTimer()
	if err != nil {
		return 0, err
	}

	ticks := uint32(calibrationStartCount) - remaining
	if ticks == 0 {
		return 0, errTimerStopped
	}
	return ticks, nil
}

// CountForFrequency converts a calibration result to the initial count that
// makes the timer fire hz times per second.
func CountForFrequency(ticksPerWindow uint32, hz uint32) uint32 {
	if hz == 0 {
		return 0
	}

	count := uint64(ticksPerWindow) * (1000000 / CalibrationWindow) / uint64(hz)
	switch {
	case count == 0:
		return 1
	case count > 0xffffffff:
		return 0xffffffff
	}
	return uint32(count)
}
