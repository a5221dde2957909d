package inventory

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxNameLength      = 100
	maxAddressLength   = 255
	maxIntervalsPerDay = 24
)

// GenerateID returns a new random device identifier.
func GenerateID() string {
	return uuid.NewString()
}

// ValidateDevice checks a device before registration.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}
	address := strings.TrimSpace(d.Address)
	if address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidDevice)
	}
	if len(address) > maxAddressLength {
		return fmt.Errorf("%w: address exceeds %d characters", ErrInvalidDevice, maxAddressLength)
	}
	return nil
}

// ValidateCircuit checks the fields a persisted circuit must carry.
func ValidateCircuit(c *Circuit) error {
	if c == nil {
		return ErrInvalidCircuit
	}
	if c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidCircuit)
	}
	if c.ControllerID == "" {
		return fmt.Errorf("%w: controller is required", ErrInvalidCircuit)
	}
	if c.Timetable != nil {
		if err := ValidateTimetable(c.Timetable); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTimetable checks weekday keys and every interval's clocks.
func ValidateTimetable(t Timetable) error {
	for day, intervals := range t {
		if day < time.Sunday || day > time.Saturday {
			return fmt.Errorf("%w: weekday %d out of range 0-6", ErrInvalidTimetable, day)
		}
		if len(intervals) > maxIntervalsPerDay {
			return fmt.Errorf("%w: %s has more than %d intervals", ErrInvalidTimetable, day, maxIntervalsPerDay)
		}
		for _, interval := range intervals {
			if _, _, err := ParseClock(interval.Start()); err != nil {
				return fmt.Errorf("%w: %s start: %w", ErrInvalidTimetable, day, err)
			}
			if _, _, err := ParseClock(interval.End()); err != nil {
				return fmt.Errorf("%w: %s end: %w", ErrInvalidTimetable, day, err)
			}
			if interval.Start() == interval.End() {
				return fmt.Errorf("%w: %s interval %s starts and ends together", ErrInvalidTimetable, day, interval.Start())
			}
		}
	}
	return nil
}

// ParseClock splits an "HH:MM" 24-hour clock into hour and minute.
func ParseClock(clock string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(clock, ":")
	if !ok || len(h) == 0 || len(h) > 2 || len(m) != 2 {
		return 0, 0, fmt.Errorf("clock %q is not HH:MM", clock)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("clock %q has invalid hour", clock)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("clock %q has invalid minute", clock)
	}
	return hour, minute, nil
}
