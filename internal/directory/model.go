// Package directory holds the people and classes the attendance flow refers to:
// users with their roles, classes, enrolments and per-lecturer settings.
package directory

import (
	"errors"
	"time"
)

// Role is a user's permission level.
type Role string

const (
	RoleStudent  Role = "student"
	RoleLecturer Role = "lecturer"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleLecturer || r == RoleAdmin
}

// Session duration bounds, in minutes.
const (
	MinSessionMinutes     = 3
	MaxSessionMinutes     = 10
	DefaultSessionMinutes = 5
)

var (
	ErrNotFound           = errors.New("not found")
	ErrEmailExists        = errors.New("a user with this email already exists")
	ErrCourseCodeExists   = errors.New("a class with this course code already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidRole        = errors.New("invalid role")
	ErrNotLecturer        = errors.New("class owner must be a lecturer")
	ErrNotStudent         = errors.New("only students can be enrolled")
)

// User is any account: student, lecturer or admin.
type User struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	SchoolID     string    `json:"school_id,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Class is a course taught by one lecturer.
type Class struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	CourseCode string    `json:"course_code"`
	LecturerID string    `json:"lecturer_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Settings are lecturer-scoped preferences.
type Settings struct {
	LecturerID             string    `json:"lecturer_id"`
	SessionDurationMinutes int       `json:"session_duration_minutes"`
	UpdatedAt              time.Time `json:"updated_at,omitempty"`
}

// SessionDuration returns the clamped session length.
func (s Settings) SessionDuration() time.Duration {
	return time.Duration(ClampDuration(s.SessionDurationMinutes)) * time.Minute
}

// ClampDuration bounds a session length to [MinSessionMinutes, MaxSessionMinutes].
// Zero means "not set" and yields the default.
func ClampDuration(minutes int) int {
	switch {
	case minutes == 0:
		return DefaultSessionMinutes
	case minutes < MinSessionMinutes:
		return MinSessionMinutes
	case minutes > MaxSessionMinutes:
		return MaxSessionMinutes
	}
	return minutes
}
