package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the core.
const (
	MeasurementEnergy     = "energy"
	MeasurementRuleFiring = "rule_firing"
)

// WriteEnergyReading records a device's cumulative consumption as observed
// by one monitor pass.
//
// Parameters:
//   - deviceID: Device identifier
//   - deviceType: "light", "thermostat", ... (tag, low cardinality)
//   - energyKWh: Cumulative consumption since the last reset
//   - at: Time of the reading
//
// Example:
//
//	client.WriteEnergyReading("living-room-light", "light", 0.42, time.Now())
func (c *Client) WriteEnergyReading(deviceID, deviceType string, energyKWh float64, at time.Time) {
	c.WritePointWithTime(MeasurementEnergy,
		map[string]string{
			"device_id":   deviceID,
			"device_type": deviceType,
		},
		map[string]interface{}{
			"energy_kwh": energyKWh,
		},
		at,
	)
}

// WriteRuleFiring records one rule execution and whether it succeeded.
func (c *Client) WriteRuleFiring(ruleID, ruleName string, success bool, duration time.Duration, at time.Time) {
	c.WritePointWithTime(MeasurementRuleFiring,
		map[string]string{
			"rule_id":   ruleID,
			"rule_name": ruleName,
		},
		map[string]interface{}{
			"success":     success,
			"duration_ms": duration.Milliseconds(),
		},
		at,
	)
}

// WritePoint writes a custom point stamped with the current time.
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"devices": 12, "rules": 4})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
// Dropped silently when the client is closed.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
