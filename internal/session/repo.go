package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/store"
)

// Repository persists sessions.
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

const columns = `id, class_id, lecturer_id, start_time, end_time, token, lecturer_lat, lecturer_lng, active, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (Session, error) {
	var s Session
	if err := row.Scan(&s.ID, &s.ClassID, &s.LecturerID, &s.StartTime, &s.EndTime, &s.Token,
		&s.LecturerLat, &s.LecturerLng, &s.Active, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return s, nil
}

// Insert writes a new session.
func (r *Repository) Insert(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if !s.EndTime.After(s.StartTime) {
		return Session{}, fmt.Errorf("session end %s must be after start %s", s.EndTime, s.StartTime)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, class_id, lecturer_id, start_time, end_time, token, lecturer_lat, lecturer_lng, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, s.ID, s.ClassID, s.LecturerID, s.StartTime.UTC(), s.EndTime.UTC(), s.Token, s.LecturerLat, s.LecturerLng, s.Active, s.CreatedAt.UTC())
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// Get returns a single session by id.
func (r *Repository) Get(ctx context.Context, id string) (Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Session{}, ErrNotFound
	}
	return scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM sessions WHERE id = $1`, id))
}

// FindByClassStart returns the session of a class starting exactly at start.
func (r *Repository) FindByClassStart(ctx context.Context, classID string, start time.Time) (Session, error) {
	return scan(r.db.QueryRowContext(ctx, `
		SELECT `+columns+` FROM sessions WHERE class_id = $1 AND start_time = $2
	`, classID, start.UTC()))
}

// Deactivate clears the active flag and pulls the end time back to at if it is later.
func (r *Repository) Deactivate(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET active = $1,
			end_time = CASE WHEN end_time > $2 AND start_time < $2 THEN $2 ELSE end_time END
		WHERE id = $3
	`, false, at.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListForClass returns a class's sessions, newest first, optionally bounded by start time.
func (r *Repository) ListForClass(ctx context.Context, classID string, from, to time.Time) ([]Session, error) {
	return r.list(ctx, "class_id", classID, from, to)
}

// ListForLecturer returns the sessions a lecturer issued, newest first.
func (r *Repository) ListForLecturer(ctx context.Context, lecturerID string, from, to time.Time) ([]Session, error) {
	return r.list(ctx, "lecturer_id", lecturerID, from, to)
}

func (r *Repository) list(ctx context.Context, column, value string, from, to time.Time) ([]Session, error) {
	query := `SELECT ` + columns + ` FROM sessions WHERE ` + column + ` = $1`
	args := []any{value}
	if !from.IsZero() {
		args = append(args, from.UTC())
		query += fmt.Sprintf(" AND start_time >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to.UTC())
		query += fmt.Sprintf(" AND start_time < $%d", len(args))
	}
	query += " ORDER BY start_time DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
