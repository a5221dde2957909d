package inventory

import (
	"maps"
	"slices"
	"time"
)

// DayLayout formats the key of a daily Reading.
const DayLayout = "2006-01-02"

// Device is a networked unit registered with the system. A device whose
// capabilities include irrigation is an irrigation controller.
type Device struct {
	ID          string  `json:"_id"`
	Name        string  `json:"name"`
	MAC         *string `json:"mac,omitempty"`
	Address     string  `json:"address"`
	Hostname    *string `json:"hostname,omitempty"`
	Description *string `json:"description,omitempty"`
	Location    *string `json:"location,omitempty"`

	Capabilities Capabilities `json:"capabilities"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Capabilities lists the services a device offers.
type Capabilities struct {
	Irrigation *IrrigationCapability `json:"irrigation,omitempty"`
}

// IrrigationCapability holds the circuits an irrigation controller owns.
type IrrigationCapability struct {
	Circuits []string `json:"circuits"`
}

// IsIrrigationController reports whether the device owns irrigation circuits.
func (d *Device) IsIrrigationController() bool {
	return d.Capabilities.Irrigation != nil
}

// CircuitIDs returns the controller's circuit list, or nil for other devices.
func (d *Device) CircuitIDs() []string {
	if d.Capabilities.Irrigation == nil {
		return nil
	}
	return d.Capabilities.Irrigation.Circuits
}

// DeepCopy creates an independent copy of the Device.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	cp.MAC = copyString(d.MAC)
	cp.Hostname = copyString(d.Hostname)
	cp.Description = copyString(d.Description)
	cp.Location = copyString(d.Location)
	if d.Capabilities.Irrigation != nil {
		cp.Capabilities.Irrigation = &IrrigationCapability{
			Circuits: slices.Clone(d.Capabilities.Irrigation.Circuits),
		}
	}
	return &cp
}

// Circuit is a single controllable water line owned by one controller.
type Circuit struct {
	ID           string `json:"_id"`
	ControllerID string `json:"controller"`
	Name         string `json:"name"`

	// IsActive records the actuation state last observed or commanded.
	IsActive bool `json:"isActive"`

	// IsDisabled locks the circuit out administratively. Disabled circuits
	// cannot be started; they can always be stopped.
	IsDisabled bool `json:"isDisabled"`

	// IsReservoir marks a reservoir line. Stored but not acted upon.
	IsReservoir bool `json:"isReservoir"`

	// Sensors holds the serials of attached sensors in discovery order.
	Sensors []string `json:"sensors"`

	Timetable Timetable `json:"timetable,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSensor reports whether serial is in the circuit's sensor set.
func (c *Circuit) HasSensor(serial string) bool {
	return slices.Contains(c.Sensors, serial)
}

// AddSensor appends serial unless present. It reports whether it was added.
func (c *Circuit) AddSensor(serial string) bool {
	if c.HasSensor(serial) {
		return false
	}
	c.Sensors = append(c.Sensors, serial)
	return true
}

// DeepCopy creates an independent copy of the Circuit.
func (c *Circuit) DeepCopy() *Circuit {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Sensors = slices.Clone(c.Sensors)
	cp.Timetable = c.Timetable.Clone()
	return &cp
}

// Timetable maps a weekday to the watering intervals of that day.
// In JSON the weekday keys are "0" (Sunday) through "6" (Saturday).
type Timetable map[time.Weekday][]Interval

// Interval is a [start, end] pair of "HH:MM" 24-hour clock strings.
type Interval [2]string

// Start returns the interval's start clock.
func (i Interval) Start() string { return i[0] }

// End returns the interval's end clock.
func (i Interval) End() string { return i[1] }

// Clone returns a deep copy of the timetable.
func (t Timetable) Clone() Timetable {
	if t == nil {
		return nil
	}
	cp := make(Timetable, len(t))
	for day, intervals := range t {
		cp[day] = slices.Clone(intervals)
	}
	return cp
}

// Days returns the weekdays with at least one interval, in ascending order.
func (t Timetable) Days() []time.Weekday {
	days := make([]time.Weekday, 0, len(t))
	for _, day := range slices.Sorted(maps.Keys(t)) {
		if len(t[day]) > 0 {
			days = append(days, day)
		}
	}
	return days
}

// Sensor is a hardware measurement source attached to a device.
type Sensor struct {
	Serial   string `json:"serial"`
	DeviceID string `json:"device"`

	// Kinds lists the value kinds the sensor reports (moisture, temperature...).
	Kinds []string `json:"values"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reading is the append-only log of sensor snapshots for one UTC day.
type Reading struct {
	Day       string         `json:"day"`
	Entries   []ReadingEntry `json:"values"`
	CreatedAt time.Time      `json:"created_at"`
}

// ReadingEntry is one timestamped value snapshot from a sensor.
type ReadingEntry struct {
	Seq       int64              `json:"seq"`
	Sensor    string             `json:"sensor"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// DayKey returns the Reading key for the UTC day containing t.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
