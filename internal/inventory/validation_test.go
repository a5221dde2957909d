package inventory

import (
	"errors"
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		clock      string
		wantHour   int
		wantMinute int
		wantErr    bool
	}{
		{clock: "06:30", wantHour: 6, wantMinute: 30},
		{clock: "6:05", wantHour: 6, wantMinute: 5},
		{clock: "23:59", wantHour: 23, wantMinute: 59},
		{clock: "00:00"},
		{clock: "24:00", wantErr: true},
		{clock: "12:60", wantErr: true},
		{clock: "12", wantErr: true},
		{clock: "ab:cd", wantErr: true},
		{clock: "12:5", wantErr: true},
		{clock: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.clock, func(t *testing.T) {
			h, m, err := ParseClock(tt.clock)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClock(%q) error = %v, wantErr %v", tt.clock, err, tt.wantErr)
			}
			if !tt.wantErr && (h != tt.wantHour || m != tt.wantMinute) {
				t.Errorf("ParseClock(%q) = %d:%d, want %d:%d", tt.clock, h, m, tt.wantHour, tt.wantMinute)
			}
		})
	}
}

func TestValidateTimetable(t *testing.T) {
	tests := []struct {
		name    string
		tt      Timetable
		wantErr bool
	}{
		{name: "nil", tt: nil},
		{name: "valid", tt: Timetable{time.Sunday: {{"05:00", "05:20"}}, time.Saturday: {}}},
		{name: "weekday out of range", tt: Timetable{7: {{"05:00", "05:20"}}}, wantErr: true},
		{name: "bad start", tt: Timetable{time.Monday: {{"5am", "05:20"}}}, wantErr: true},
		{name: "bad end", tt: Timetable{time.Monday: {{"05:00", "noon"}}}, wantErr: true},
		{name: "empty interval", tt: Timetable{time.Monday: {{"05:00", "05:00"}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTimetable(tt.tt)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateTimetable() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTimetable) {
				t.Errorf("error %v does not wrap ErrInvalidTimetable", err)
			}
		})
	}
}

func TestTimetable_Days(t *testing.T) {
	tt := Timetable{
		time.Friday:  {{"06:00", "06:10"}},
		time.Monday:  {{"06:00", "06:10"}},
		time.Tuesday: {},
	}

	days := tt.Days()
	if len(days) != 2 || days[0] != time.Monday || days[1] != time.Friday {
		t.Errorf("Days() = %v, want [Monday Friday]", days)
	}
}

func TestDeepCopy_Isolation(t *testing.T) {
	c := &Circuit{
		ID:        "c1",
		Sensors:   []string{"s1"},
		Timetable: Timetable{time.Monday: {{"06:00", "06:10"}}},
	}
	cp := c.DeepCopy()
	cp.Sensors[0] = "changed"
	cp.Timetable[time.Monday][0] = Interval{"07:00", "07:10"}

	if c.Sensors[0] != "s1" {
		t.Error("circuit sensors shared with copy")
	}
	if c.Timetable[time.Monday][0].Start() != "06:00" {
		t.Error("circuit timetable shared with copy")
	}

	d := testController("ctrl")
	d.Capabilities.Irrigation.Circuits = []string{"c1"}
	dc := d.DeepCopy()
	dc.Capabilities.Irrigation.Circuits[0] = "changed"
	if d.CircuitIDs()[0] != "c1" {
		t.Error("device circuits shared with copy")
	}
}

func TestDayKey(t *testing.T) {
	moscow := time.FixedZone("MSK", 3*60*60)
	// 01:30 in Moscow is still the previous UTC day.
	ts := time.Date(2026, 10, 19, 1, 30, 0, 0, moscow)
	if got := DayKey(ts); got != "2026-10-18" {
		t.Errorf("DayKey() = %q, want 2026-10-18", got)
	}
}
