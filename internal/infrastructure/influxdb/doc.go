// Package influxdb provides the optional InfluxDB time-series sink.
//
// Every sensor snapshot appended during a reconcile pass is mirrored as an
// irrigation_reading point, and circuit lifecycle events are written as
// irrigation_circuit points. The SQLite daily Reading remains the record
// of truth; this sink only feeds dashboards.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSensorReading("ctrl-1", "c1", "s1", values, time.Now())
//
// Every point carries a site tag with the configured site id. Writes are
// non-blocking and batched per batch_size and flush_interval; Flush waits
// for the buffer to drain.
package influxdb
