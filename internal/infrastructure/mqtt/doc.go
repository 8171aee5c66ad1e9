// Package mqtt provides MQTT connectivity for the smart home core.
//
// The core publishes retained device state, energy readings and rule-fired
// events, and listens on smarthome/command/{device_id} so other systems on
// the broker can drive devices. A Last Will on smarthome/system/status flags
// an unclean exit.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.DeviceState("porch-light"), state, true)
//
// MQTT is optional; it is only connected when mqtt.enabled is true.
package mqtt
