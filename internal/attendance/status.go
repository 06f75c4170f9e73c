package attendance

import "time"

// Status is the derived presence of a student at a session.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// DefaultLateAfter is how long after the start a mark still counts as present.
const DefaultLateAfter = 15 * time.Minute

// DeriveStatus classifies a mark relative to the session start. A nil
// markedAt means the student has no record.
func DeriveStatus(start time.Time, markedAt *time.Time, lateAfter time.Duration) Status {
	if markedAt == nil {
		return StatusAbsent
	}
	if lateAfter <= 0 {
		lateAfter = DefaultLateAfter
	}
	if markedAt.Sub(start) <= lateAfter {
		return StatusPresent
	}
	return StatusLate
}
