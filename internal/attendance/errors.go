package attendance

import (
	"errors"
	"fmt"
	"math"
)

// ValidationError is a submission rejected by one of the marking gates.
// Message is shown to the student verbatim.
type ValidationError struct {
	Gate    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Gate failures, in the order they are checked.
var (
	ErrInvalidSession    = &ValidationError{Gate: "session", Message: "Invalid session."}
	ErrInvalidToken      = &ValidationError{Gate: "token", Message: "Invalid QR code token."}
	ErrSessionInactive   = &ValidationError{Gate: "active", Message: "Session is not active."}
	ErrSessionNotStarted = &ValidationError{Gate: "window", Message: "Session has not started yet."}
	ErrSessionExpired    = &ValidationError{Gate: "window", Message: "Session has expired."}
	ErrSchoolIDMismatch  = &ValidationError{Gate: "identity", Message: "Student ID does not match your account."}
	ErrAlreadyMarked     = &ValidationError{Gate: "duplicate", Message: "Attendance already marked for this session."}
	ErrTooFar            = &ValidationError{Gate: "geofence", Message: "You are too far from the class location."}
)

// DistanceError reports a failed geofence check with the measured distance.
type DistanceError struct {
	Distance float64
	Radius   float64
}

func (e *DistanceError) Error() string {
	return fmt.Sprintf("You are too far from the class location (%d meters away). Maximum allowed distance is %d meters.",
		int64(math.Round(e.Distance)), int64(math.Round(e.Radius)))
}

func (e *DistanceError) Unwrap() error { return ErrTooFar }

// IsValidation reports whether err is a rejection rather than an infrastructure failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Outcome labels err for metrics: "accepted", the failing gate, or "error".
func Outcome(err error) string {
	if err == nil {
		return "accepted"
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Gate
	}
	return "error"
}
