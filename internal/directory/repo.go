package directory

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/store"
)

// Repository persists users, classes, enrolments and settings.
type Repository struct {
	db store.DBTX
}

// NewRepository creates a repo.
func NewRepository(db store.DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repo that runs its queries inside tx.
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

const userColumns = `id, role, name, email, school_id, password_hash, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Role, &u.Name, &u.Email, &u.SchoolID, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// InsertUser writes a new user. Email must already be normalised.
func (r *Repository) InsertUser(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, role, name, email, school_id, password_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, u.ID, string(u.Role), u.Name, u.Email, u.SchoolID, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUser returns a user by id.
func (r *Repository) GetUser(ctx context.Context, id string) (User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail returns a user by (lower-cased) email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email)))
}

// ListUsers returns users, optionally filtered by role.
func (r *Repository) ListUsers(ctx context.Context, role Role) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	args := []any{}
	if role != "" {
		query += ` WHERE role = $1`
		args = append(args, string(role))
	}
	query += ` ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const classColumns = `id, name, course_code, lecturer_id, created_at`

func scanClass(row scanner) (Class, error) {
	var c Class
	if err := row.Scan(&c.ID, &c.Name, &c.CourseCode, &c.LecturerID, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Class{}, ErrNotFound
		}
		return Class{}, err
	}
	return c, nil
}

func (r *Repository) listClasses(ctx context.Context, query string, args ...any) ([]Class, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var classes []Class
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

// InsertClass writes a new class.
func (r *Repository) InsertClass(ctx context.Context, c Class) (Class, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO classes (id, name, course_code, lecturer_id, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, c.ID, c.Name, c.CourseCode, c.LecturerID, c.CreatedAt)
	if err != nil {
		return Class{}, err
	}
	return c, nil
}

// GetClass returns a class by id.
func (r *Repository) GetClass(ctx context.Context, id string) (Class, error) {
	return scanClass(r.db.QueryRowContext(ctx, `SELECT `+classColumns+` FROM classes WHERE id = $1`, id))
}

// GetClassByCourseCode returns a class by its (upper-cased) course code.
func (r *Repository) GetClassByCourseCode(ctx context.Context, code string) (Class, error) {
	return scanClass(r.db.QueryRowContext(ctx, `SELECT `+classColumns+` FROM classes WHERE course_code = $1`, normalizeCourseCode(code)))
}

// ListClasses returns all classes.
func (r *Repository) ListClasses(ctx context.Context) ([]Class, error) {
	return r.listClasses(ctx, `SELECT `+classColumns+` FROM classes ORDER BY course_code`)
}

// ListClassesForLecturer returns the classes a lecturer teaches.
func (r *Repository) ListClassesForLecturer(ctx context.Context, lecturerID string) ([]Class, error) {
	return r.listClasses(ctx, `SELECT `+classColumns+` FROM classes WHERE lecturer_id = $1 ORDER BY course_code`, lecturerID)
}

// ListClassesForStudent returns the classes a student is enrolled in.
func (r *Repository) ListClassesForStudent(ctx context.Context, studentID string) ([]Class, error) {
	return r.listClasses(ctx, `
		SELECT c.id, c.name, c.course_code, c.lecturer_id, c.created_at
		FROM classes c
		JOIN enrollments e ON e.class_id = c.id
		WHERE e.student_id = $1
		ORDER BY c.course_code
	`, studentID)
}

// Enroll adds a student to a class. It reports whether a new enrolment was created.
func (r *Repository) Enroll(ctx context.Context, classID, studentID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO enrollments (class_id, student_id, created_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (class_id, student_id) DO NOTHING
	`, classID, studentID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListEnrolled returns the students of a class.
func (r *Repository) ListEnrolled(ctx context.Context, classID string) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.role, u.name, u.email, u.school_id, u.password_hash, u.created_at
		FROM users u
		JOIN enrollments e ON e.student_id = u.id
		WHERE e.class_id = $1
		ORDER BY u.name
	`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetSettings returns a lecturer's settings, or defaults when none are stored.
func (r *Repository) GetSettings(ctx context.Context, lecturerID string) (Settings, error) {
	s := Settings{LecturerID: lecturerID}
	err := r.db.QueryRowContext(ctx, `
		SELECT session_duration_minutes, updated_at FROM lecturer_settings WHERE lecturer_id = $1
	`, lecturerID).Scan(&s.SessionDurationMinutes, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		s.SessionDurationMinutes = DefaultSessionMinutes
		return s, nil
	}
	return s, err
}

// SaveSettings upserts a lecturer's settings.
func (r *Repository) SaveSettings(ctx context.Context, s Settings) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lecturer_settings (lecturer_id, session_duration_minutes, updated_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (lecturer_id) DO UPDATE SET
			session_duration_minutes = excluded.session_duration_minutes,
			updated_at = excluded.updated_at
	`, s.LecturerID, s.SessionDurationMinutes, s.UpdatedAt)
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeCourseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
