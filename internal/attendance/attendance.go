// Package attendance validates QR scans against their session and records who was there.
package attendance

import (
	"time"

	"qrattend/internal/geo"
)

// Record is one accepted mark.
type Record struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	StudentID   string    `json:"student_id"`
	SchoolID    string    `json:"school_id"`
	StudentName string    `json:"student_name"`
	Signature   string    `json:"signature,omitempty"`
	MarkedAt    time.Time `json:"marked_at"`
}

// Entry is a record with its derived status.
type Entry struct {
	Record
	Status Status `json:"status"`
}

// Submission is what the student sends after scanning a code.
type Submission struct {
	SessionID string     `json:"session_id" binding:"required"`
	Token     string     `json:"token" binding:"required"`
	SchoolID  string     `json:"school_id" binding:"required"`
	Name      string     `json:"name"`
	Signature string     `json:"signature"`
	Position  *geo.Coord `json:"position"`
}

// HistoryItem is one session in a student's attendance history.
type HistoryItem struct {
	SessionID  string     `json:"session_id"`
	ClassID    string     `json:"class_id"`
	ClassName  string     `json:"class_name"`
	CourseCode string     `json:"course_code"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    time.Time  `json:"end_time"`
	MarkedAt   *time.Time `json:"marked_at,omitempty"`
	Status     Status     `json:"status"`
}
