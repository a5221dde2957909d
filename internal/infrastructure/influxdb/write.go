package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by irrigationd.
const (
	MeasurementReading = "irrigation_reading"
	MeasurementCircuit = "irrigation_circuit"
)

// WriteSensorReading records one sensor snapshot taken during a reconcile
// pass. Every value kind becomes a float field of a single point.
//
// Example:
//
//	client.WriteSensorReading("ctrl-1", "c1", "s1",
//	    map[string]float64{"moisture": 900}, time.Now())
func (c *Client) WriteSensorReading(controllerID, circuitID, serial string, values map[string]float64, ts time.Time) {
	if !c.IsConnected() || len(values) == 0 {
		return
	}
	c.writeAPI.WritePoint(sensorReadingPoint(controllerID, circuitID, serial, values, ts))
}

// WriteCircuitEvent records a circuit lifecycle event. The active field is
// 1 after a start and 0 after a stop so transitions can be graphed as steps.
func (c *Client) WriteCircuitEvent(event, circuitID, controllerID string, active bool, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(circuitEventPoint(event, circuitID, controllerID, active, ts))
}

func sensorReadingPoint(controllerID, circuitID, serial string, values map[string]float64, ts time.Time) *write.Point {
	fields := make(map[string]interface{}, len(values))
	for kind, v := range values {
		fields[kind] = v
	}
	return write.NewPoint(
		MeasurementReading,
		map[string]string{
			"controller": controllerID,
			"circuit":    circuitID,
			"sensor":     serial,
		},
		fields,
		ts,
	)
}

func circuitEventPoint(event, circuitID, controllerID string, active bool, ts time.Time) *write.Point {
	state := 0
	if active {
		state = 1
	}
	return write.NewPoint(
		MeasurementCircuit,
		map[string]string{
			"circuit":    circuitID,
			"controller": controllerID,
			"event":      event,
		},
		map[string]interface{}{
			"active": state,
		},
		ts,
	)
}
