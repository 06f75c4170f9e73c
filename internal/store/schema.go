package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is written in the SQL subset shared by Postgres and SQLite so the
// same statements serve production and local/test databases.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		role          TEXT NOT NULL,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		school_id     TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS classes (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		course_code TEXT NOT NULL UNIQUE,
		lecturer_id TEXT NOT NULL REFERENCES users(id),
		created_at  TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		class_id   TEXT NOT NULL REFERENCES classes(id),
		student_id TEXT NOT NULL REFERENCES users(id),
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (class_id, student_id)
	)`,
	`CREATE TABLE IF NOT EXISTS lecturer_settings (
		lecturer_id              TEXT PRIMARY KEY REFERENCES users(id),
		session_duration_minutes INTEGER NOT NULL,
		updated_at               TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id           TEXT PRIMARY KEY,
		class_id     TEXT NOT NULL REFERENCES classes(id),
		lecturer_id  TEXT NOT NULL REFERENCES users(id),
		start_time   TIMESTAMP NOT NULL,
		end_time     TIMESTAMP NOT NULL,
		token        TEXT NOT NULL,
		lecturer_lat DOUBLE PRECISION NOT NULL,
		lecturer_lng DOUBLE PRECISION NOT NULL,
		active       BOOLEAN NOT NULL,
		created_at   TIMESTAMP NOT NULL,
		CHECK (end_time > start_time)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_class ON sessions(class_id, start_time)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_lecturer ON sessions(lecturer_id, start_time)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id           TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL REFERENCES sessions(id),
		student_id   TEXT NOT NULL REFERENCES users(id),
		school_id    TEXT NOT NULL,
		student_name TEXT NOT NULL,
		signature    TEXT NOT NULL DEFAULT '',
		marked_at    TIMESTAMP NOT NULL,
		UNIQUE (session_id, student_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_student ON attendance_records(student_id)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id),
		title      TEXT NOT NULL,
		message    TEXT NOT NULL,
		type       TEXT NOT NULL,
		read       BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token      TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id),
		expires_at TIMESTAMP NOT NULL,
		revoked    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL
	)`,
}

// Migrate creates the tables and indexes if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
