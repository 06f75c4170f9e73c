package attendance

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"qrattend/internal/directory"
	"qrattend/internal/geo"
	"qrattend/internal/session"
)

// ErrInvalidLocation is returned when the student's position is missing or not a coordinate.
var ErrInvalidLocation = &ValidationError{Gate: "geofence", Message: "Unable to read your location. Allow location access and try again."}

// DefaultRadius is the geofence radius in metres.
const DefaultRadius = 50.0

// Sessions looks up sessions by id, bypassing any read cache.
type Sessions interface {
	GetCurrent(ctx context.Context, id string) (session.Session, error)
}

// Students looks up the submitting student's account.
type Students interface {
	GetUser(ctx context.Context, id string) (directory.User, error)
}

// Validator runs the marking gates.
type Validator struct {
	sessions Sessions
	students Students
	records  *Repository
	radius   float64
	now      func() time.Time
}

// NewValidator creates a validator with the given geofence radius in metres.
func NewValidator(sessions Sessions, students Students, records *Repository, radius float64) *Validator {
	if radius <= 0 {
		radius = DefaultRadius
	}
	return &Validator{sessions: sessions, students: students, records: records, radius: radius, now: time.Now}
}

// SetClock replaces the time source; used by tests.
func (v *Validator) SetClock(now func() time.Time) { v.now = now }

// Checked is what a successful validation resolved.
type Checked struct {
	Session session.Session
	Student directory.User
	At      time.Time
}

// Validate checks a submission gate by gate; the first failure is returned.
func (v *Validator) Validate(ctx context.Context, studentID string, sub Submission) (Checked, error) {
	sess, err := v.sessions.GetCurrent(ctx, strings.TrimSpace(sub.SessionID))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Checked{}, ErrInvalidSession
		}
		return Checked{}, fmt.Errorf("load session: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(sess.Token), []byte(sub.Token)) != 1 {
		return Checked{}, ErrInvalidToken
	}

	if !sess.Active {
		return Checked{}, ErrSessionInactive
	}

	now := v.now().UTC()
	if !sess.Open(now) {
		if now.Before(sess.StartTime) {
			return Checked{}, ErrSessionNotStarted
		}
		return Checked{}, ErrSessionExpired
	}

	student, err := v.students.GetUser(ctx, studentID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return Checked{}, ErrSchoolIDMismatch
		}
		return Checked{}, fmt.Errorf("load student: %w", err)
	}
	if !sameSchoolID(student.SchoolID, sub.SchoolID) {
		return Checked{}, ErrSchoolIDMismatch
	}

	marked, err := v.records.Exists(ctx, sess.ID, student.ID)
	if err != nil {
		return Checked{}, fmt.Errorf("check duplicate: %w", err)
	}
	if marked {
		return Checked{}, ErrAlreadyMarked
	}

	if sub.Position == nil || sub.Position.Validate() != nil {
		return Checked{}, ErrInvalidLocation
	}
	lecturer := geo.Coord{Lat: sess.LecturerLat, Lng: sess.LecturerLng}
	if !geo.Within(lecturer, *sub.Position, v.radius) {
		return Checked{}, &DistanceError{Distance: geo.Distance(lecturer, *sub.Position), Radius: v.radius}
	}

	return Checked{Session: sess, Student: student, At: now}, nil
}

func sameSchoolID(stored, submitted string) bool {
	stored = strings.TrimSpace(stored)
	return stored != "" && strings.EqualFold(stored, strings.TrimSpace(submitted))
}
