package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// NewUser is the input for creating an account.
type NewUser struct {
	Role     Role
	Name     string
	Email    string
	SchoolID string
	Password string
}

// Service wraps the repository with validation and password handling.
type Service struct {
	repo *Repository
	now  func() time.Time
}

// NewService creates a service backed by a repository.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithTx returns a service whose writes go through tx.
func (s *Service) WithTx(tx *sql.Tx) *Service {
	return &Service{repo: s.repo.WithTx(tx), now: s.now}
}

// CreateUser validates and stores a new account with a bcrypt password hash.
func (s *Service) CreateUser(ctx context.Context, nu NewUser) (User, error) {
	if !nu.Role.Valid() {
		return User{}, ErrInvalidRole
	}
	name := strings.TrimSpace(nu.Name)
	email := normalizeEmail(nu.Email)
	if name == "" || email == "" {
		return User{}, errors.New("name and email required")
	}
	if _, err := s.repo.GetUserByEmail(ctx, email); err == nil {
		return User{}, ErrEmailExists
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	u := User{
		Role:      nu.Role,
		Name:      name,
		Email:     email,
		SchoolID:  strings.TrimSpace(nu.SchoolID),
		CreatedAt: s.now().UTC(),
	}
	if nu.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(nu.Password), bcrypt.DefaultCost)
		if err != nil {
			return User{}, fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = string(hash)
	}
	return s.repo.InsertUser(ctx, u)
}

// EnsureAdmin creates the bootstrap admin account unless the email is taken.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (User, bool, error) {
	if u, err := s.repo.GetUserByEmail(ctx, email); err == nil {
		return u, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, false, err
	}
	u, err := s.CreateUser(ctx, NewUser{Role: RoleAdmin, Name: "Administrator", Email: email, Password: password})
	return u, err == nil, err
}

// Authenticate checks an email/password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// GetUser returns a user by id.
func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// GetUserByEmail returns a user by email.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.repo.GetUserByEmail(ctx, email)
}

// ListUsers returns users, optionally filtered by role.
func (s *Service) ListUsers(ctx context.Context, role Role) ([]User, error) {
	if role != "" && !role.Valid() {
		return nil, ErrInvalidRole
	}
	return s.repo.ListUsers(ctx, role)
}

// CreateClass registers a class owned by a lecturer.
func (s *Service) CreateClass(ctx context.Context, name, courseCode, lecturerID string) (Class, error) {
	name = strings.TrimSpace(name)
	code := normalizeCourseCode(courseCode)
	if name == "" || code == "" {
		return Class{}, errors.New("name and course code required")
	}
	lecturer, err := s.repo.GetUser(ctx, lecturerID)
	if err != nil {
		return Class{}, fmt.Errorf("load lecturer: %w", err)
	}
	if lecturer.Role != RoleLecturer {
		return Class{}, ErrNotLecturer
	}
	if _, err := s.repo.GetClassByCourseCode(ctx, code); err == nil {
		return Class{}, ErrCourseCodeExists
	} else if !errors.Is(err, ErrNotFound) {
		return Class{}, err
	}
	return s.repo.InsertClass(ctx, Class{
		Name:       name,
		CourseCode: code,
		LecturerID: lecturerID,
		CreatedAt:  s.now().UTC(),
	})
}

// GetClass returns a class by id.
func (s *Service) GetClass(ctx context.Context, id string) (Class, error) {
	return s.repo.GetClass(ctx, id)
}

// GetClassByCourseCode returns a class by course code.
func (s *Service) GetClassByCourseCode(ctx context.Context, code string) (Class, error) {
	return s.repo.GetClassByCourseCode(ctx, code)
}

// ClassesFor lists the classes visible to a user: all for admins, taught for lecturers, enrolled for students.
func (s *Service) ClassesFor(ctx context.Context, u User) ([]Class, error) {
	switch u.Role {
	case RoleAdmin:
		return s.repo.ListClasses(ctx)
	case RoleLecturer:
		return s.repo.ListClassesForLecturer(ctx, u.ID)
	default:
		return s.repo.ListClassesForStudent(ctx, u.ID)
	}
}

// Enroll adds a student to a class; enrolling twice is a no-op.
func (s *Service) Enroll(ctx context.Context, classID, studentID string) error {
	if _, err := s.repo.GetClass(ctx, classID); err != nil {
		return fmt.Errorf("load class: %w", err)
	}
	student, err := s.repo.GetUser(ctx, studentID)
	if err != nil {
		return fmt.Errorf("load student: %w", err)
	}
	if student.Role != RoleStudent {
		return ErrNotStudent
	}
	_, err = s.repo.Enroll(ctx, classID, studentID)
	return err
}

// Roster lists the students enrolled in a class.
func (s *Service) Roster(ctx context.Context, classID string) ([]User, error) {
	return s.repo.ListEnrolled(ctx, classID)
}

// Settings returns a lecturer's settings with the duration already clamped.
func (s *Service) Settings(ctx context.Context, lecturerID string) (Settings, error) {
	st, err := s.repo.GetSettings(ctx, lecturerID)
	if err != nil {
		return Settings{}, err
	}
	st.SessionDurationMinutes = ClampDuration(st.SessionDurationMinutes)
	return st, nil
}

// UpdateSettings stores a new session duration, clamped to the allowed range.
func (s *Service) UpdateSettings(ctx context.Context, lecturerID string, minutes int) (Settings, error) {
	st := Settings{
		LecturerID:             lecturerID,
		SessionDurationMinutes: ClampDuration(minutes),
		UpdatedAt:              s.now().UTC(),
	}
	if err := s.repo.SaveSettings(ctx, st); err != nil {
		return Settings{}, err
	}
	return st, nil
}
