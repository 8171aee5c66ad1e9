package home

import "errors"

var (
	// ErrInvalidHomeFile is returned when the home file cannot be parsed or
	// describes an invalid device or rule.
	ErrInvalidHomeFile = errors.New("home: invalid home file")

	// ErrHistoryUnavailable is returned when no firing repository is configured.
	ErrHistoryUnavailable = errors.New("home: rule history unavailable")

	// ErrAccessDisabled is returned by Login when no authorizer is configured.
	ErrAccessDisabled = errors.New("home: access control disabled")
)
