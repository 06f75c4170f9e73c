package report

import (
	"context"
	"database/sql"
	"time"

	"qrattend/internal/attendance"
	"qrattend/internal/directory"
	"qrattend/internal/session"
	"qrattend/internal/store"
)

// Writer is what an import writes through.
type Writer interface {
	Enroll(ctx context.Context, classID, studentID string) error
	Historical(ctx context.Context, class directory.Class, start time.Time) (session.Session, error)
	Insert(ctx context.Context, rec attendance.Record) (attendance.Record, error)
}

// Transactor runs fn with a Writer; fn's writes commit together or not at all.
type Transactor func(ctx context.Context, fn func(Writer) error) error

type writer struct {
	dir      Directory
	sessions Sessions
	records  Records
}

func (w writer) Enroll(ctx context.Context, classID, studentID string) error {
	return w.dir.Enroll(ctx, classID, studentID)
}

func (w writer) Historical(ctx context.Context, class directory.Class, start time.Time) (session.Session, error) {
	return w.sessions.Historical(ctx, class, start)
}

func (w writer) Insert(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	return w.records.Insert(ctx, rec)
}

// TxWriter binds the services' writes to tx.
func TxWriter(tx *sql.Tx, dir *directory.Service, sessions *session.Service, records *attendance.Repository) Writer {
	return writer{dir: dir.WithTx(tx), sessions: sessions.WithTx(tx), records: records.WithTx(tx)}
}

// SQLTransactor runs each import in one database transaction.
func SQLTransactor(db *sql.DB, dir *directory.Service, sessions *session.Service, records *attendance.Repository) Transactor {
	return func(ctx context.Context, fn func(Writer) error) error {
		return store.InTx(ctx, db, func(tx *sql.Tx) error {
			return fn(TxWriter(tx, dir, sessions, records))
		})
	}
}
