package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering a device whose ID is taken.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when a device definition is incomplete.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidType is returned for an unknown device or security type.
	ErrInvalidType = errors.New("device: invalid type")

	// ErrUnknownCommand is returned for a command name that does not exist.
	ErrUnknownCommand = errors.New("device: unknown command")

	// ErrUnsupportedCommand is returned when a device lacks the capability a
	// command needs, e.g. set_brightness on a thermostat.
	ErrUnsupportedCommand = errors.New("device: command not supported by device")

	// ErrInvalidValue is returned when a command value is missing or malformed.
	ErrInvalidValue = errors.New("device: invalid command value")
)
