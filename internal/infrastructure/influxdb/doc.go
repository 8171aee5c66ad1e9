// Package influxdb provides InfluxDB connectivity for the smart home core.
//
// It wraps influxdb-client-go v2 and stores two series:
//   - energy: per-device cumulative consumption read by each monitor pass
//   - rule_firing: one point per rule execution with its outcome
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteEnergyReading("living-room-light", "light", 0.42, time.Now())
//
// Writes are non-blocking and batched per batch_size / flush_interval.
package influxdb
