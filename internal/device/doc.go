// Package device models the controllable devices of a home: lights,
// thermostats and security equipment.
//
// Every device satisfies the Device interface (identity plus on/off) and
// may add capability interfaces:
//
//   - Dimmable: brightness 0..100
//   - Climate: target and measured temperature
//   - Armable: arm, disarm, trigger alarm
//   - EnergyMonitored: cumulative consumption in kWh
//
// Devices guard their own state and are safe for concurrent use. Each change
// is reported as a State snapshot to the function installed with
// SetOnChange; the Registry uses this to fan changes out to persistence,
// MQTT and WebSocket clients.
//
// Commands (turn_on, set_brightness, arm, ...) are the single entry point
// used by automation actions, the REST API, MQTT and the console; see Apply.
package device
