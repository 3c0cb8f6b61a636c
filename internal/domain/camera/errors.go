package camera

import (
	"errors"
	"strings"
)

var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrDeviceBusy       = errors.New("camera device busy")
	ErrDeviceNotFound   = errors.New("camera device not found")
	ErrAcquireTimeout   = errors.New("camera acquisition timed out")
	ErrNoLiveTracks     = errors.New("camera stream has no live tracks")
)

// NamedError is a platform error identified by name, such as "NotAllowedError".
type NamedError struct {
	Name    string
	Message string
}

func (e *NamedError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// ErrorClass is the retry classification of an acquisition failure.
type ErrorClass int

const (
	// ClassNone means there was no error.
	ClassNone ErrorClass = iota
	// ClassTransient failures are retried with backoff.
	ClassTransient
	// ClassPermission failures stop automatic retries until the user retries.
	ClassPermission
)

// String returns a human-readable string representation of the class
func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassPermission:
		return "permission"
	default:
		return "unknown"
	}
}

var permissionErrorNames = map[string]bool{
	"NotAllowedError":       true,
	"PermissionDeniedError": true,
	"SecurityError":         true,
}

// Classify decides whether err blocks on user permission or is worth retrying.
//
// Checks run from most to least specific: sentinel, platform error name,
// then message heuristics. Anything unrecognized is transient.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, ErrPermissionDenied) {
		return ClassPermission
	}

	var named *NamedError
	if errors.As(err, &named) && permissionErrorNames[named.Name] {
		return ClassPermission
	}

	if strings.Contains(strings.ToLower(err.Error()), "permission") {
		return ClassPermission
	}
	return ClassTransient
}
