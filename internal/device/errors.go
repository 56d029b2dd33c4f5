package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering a device with an ID that already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device or patch validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidState is returned when a lifecycle precondition is violated,
	// e.g. activating a device that holds no snapshot.
	ErrInvalidState = errors.New("device: invalid state")

	// ErrPrincipalNotFound is returned when an assignment names a
	// customer or technician that does not exist.
	ErrPrincipalNotFound = errors.New("device: principal not found")
)
