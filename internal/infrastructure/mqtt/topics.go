package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic published or consumed by the core.
const TopicPrefix = "smarthome"

// Topics provides builders for smart home MQTT topics.
//
//	smarthome/device/{id}/state     retained device state
//	smarthome/device/{id}/energy    per-pass energy reading
//	smarthome/command/{id}          inbound device commands
//	smarthome/rule/{id}/fired       rule execution events
//	smarthome/system/status         online/offline (LWT)
type Topics struct{}

// DeviceState returns the retained state topic for a device.
//
// Example: smarthome/device/living-room-light/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefix, deviceID)
}

// DeviceEnergy returns the energy reading topic for a device.
func (Topics) DeviceEnergy(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/energy", TopicPrefix, deviceID)
}

// DeviceCommand returns the inbound command topic for a device.
//
// Example: smarthome/command/living-room-light
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// RuleFired returns the event topic published after a rule executes.
func (Topics) RuleFired(ruleID string) string {
	return fmt.Sprintf("%s/rule/%s/fired", TopicPrefix, ruleID)
}

// SystemStatus returns the system status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllDeviceCommands matches every device command topic.
//
// Pattern: smarthome/command/+
func (Topics) AllDeviceCommands() string {
	return TopicPrefix + "/command/+"
}

// AllDeviceStates matches every retained device state topic.
//
// Pattern: smarthome/device/+/state
func (Topics) AllDeviceStates() string {
	return TopicPrefix + "/device/+/state"
}

// ParseDeviceCommand extracts the device id from a command topic.
func (Topics) ParseDeviceCommand(topic string) (string, error) {
	id, ok := strings.CutPrefix(topic, TopicPrefix+"/command/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: %q is not a device command topic", ErrInvalidTopic, topic)
	}
	return id, nil
}
