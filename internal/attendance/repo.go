package attendance

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/store"
)

// Repository persists attendance records.
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

// Exists reports whether the student already has a record for the session.
func (r *Repository) Exists(ctx context.Context, sessionID, studentID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_records WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID).Scan(&n)
	return n > 0, err
}

// Insert writes a record. A second record for the same (session, student)
// is rejected by the unique constraint and reported as ErrAlreadyMarked.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.MarkedAt.IsZero() {
		rec.MarkedAt = time.Now()
	}
	rec.MarkedAt = rec.MarkedAt.UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, school_id, student_name, signature, marked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, rec.ID, rec.SessionID, rec.StudentID, rec.SchoolID, rec.StudentName, rec.Signature, rec.MarkedAt)
	if err != nil {
		return Record{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, err
	}
	if n == 0 {
		return Record{}, ErrAlreadyMarked
	}
	return rec, nil
}

// ListForSession returns a session's records in marking order.
func (r *Repository) ListForSession(ctx context.Context, sessionID string) ([]Record, error) {
	return r.list(ctx, `
		SELECT id, session_id, student_id, school_id, student_name, signature, marked_at
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY marked_at, student_name
	`, sessionID)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.SchoolID, &rec.StudentName, &rec.Signature, &rec.MarkedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// ListForClass returns every record of every session of a class.
func (r *Repository) ListForClass(ctx context.Context, classID string) ([]Record, error) {
	return r.list(ctx, `
		SELECT a.id, a.session_id, a.student_id, a.school_id, a.student_name, a.signature, a.marked_at
		FROM attendance_records a
		JOIN sessions s ON s.id = a.session_id
		WHERE s.class_id = $1
		ORDER BY a.marked_at
	`, classID)
}

// History lists sessions the student attended, plus finished sessions of
// their enrolled classes, newest first. MarkedAt is nil for absences.
func (r *Repository) History(ctx context.Context, studentID string, now time.Time) ([]HistoryItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, c.id, c.name, c.course_code, s.start_time, s.end_time, a.marked_at
		FROM sessions s
		JOIN classes c ON c.id = s.class_id
		LEFT JOIN enrollments e ON e.class_id = s.class_id AND e.student_id = $1
		LEFT JOIN attendance_records a ON a.session_id = s.id AND a.student_id = $1
		WHERE a.id IS NOT NULL OR (e.student_id IS NOT NULL AND s.end_time < $2)
		ORDER BY s.start_time DESC
	`, studentID, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []HistoryItem
	for rows.Next() {
		var (
			it     HistoryItem
			marked sql.NullTime
		)
		if err := rows.Scan(&it.SessionID, &it.ClassID, &it.ClassName, &it.CourseCode, &it.StartTime, &it.EndTime, &marked); err != nil {
			return nil, err
		}
		if marked.Valid {
			t := marked.Time
			it.MarkedAt = &t
		}
		res = append(res, it)
	}
	return res, rows.Err()
}
