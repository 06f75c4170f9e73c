package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"qrattend/internal/directory"
	"qrattend/internal/logging"
	"qrattend/internal/metrics"
	"qrattend/internal/notification"
	"qrattend/internal/queue"
	"qrattend/internal/roster"
	"qrattend/internal/session"
)

// Classes resolves the class a session belongs to.
type Classes interface {
	GetClass(ctx context.Context, id string) (directory.Class, error)
}

// Notifier stores in-app notifications.
type Notifier interface {
	Notify(ctx context.Context, items ...notification.Notification) error
}

// SignatureStore uploads a signature data URL and returns where it lives.
type SignatureStore interface {
	UploadSignature(ctx context.Context, dataURL string) (string, error)
}

// Deps are the collaborators of a Service. Notifier, Signatures, Queue and
// Events are optional.
type Deps struct {
	Validator  *Validator
	Repo       *Repository
	Classes    Classes
	Notifier   Notifier
	Signatures SignatureStore
	Queue      queue.Queue
	Events     roster.Publisher
	Log        *logging.Logger
	LateAfter  time.Duration
}

// Service records attendance and fans out the follow-up work.
type Service struct {
	Deps
	sideEffectTimeout time.Duration
}

// NewService creates a service.
func NewService(d Deps) *Service {
	if d.LateAfter <= 0 {
		d.LateAfter = DefaultLateAfter
	}
	if d.Log == nil {
		d.Log = logging.New(nil, "", "", "")
	}
	return &Service{Deps: d, sideEffectTimeout: 5 * time.Second}
}

// Mark validates a submission and stores the record. Notifications, the
// queue message and the roster event are best effort: their failures are
// logged and never undo the mark.
func (s *Service) Mark(ctx context.Context, studentID string, sub Submission) (entry Entry, err error) {
	defer func() { metrics.AttendanceAttempts.WithLabelValues(Outcome(err)).Inc() }()

	chk, err := s.Validator.Validate(ctx, studentID, sub)
	if err != nil {
		return Entry{}, err
	}

	signature := strings.TrimSpace(sub.Signature)
	if s.Signatures != nil && strings.HasPrefix(signature, "data:image/") {
		if signature, err = s.Signatures.UploadSignature(ctx, signature); err != nil {
			return Entry{}, fmt.Errorf("upload signature: %w", err)
		}
	}
	name := strings.TrimSpace(sub.Name)
	if name == "" {
		name = chk.Student.Name
	}

	rec, err := s.Repo.Insert(ctx, Record{
		SessionID:   chk.Session.ID,
		StudentID:   chk.Student.ID,
		SchoolID:    chk.Student.SchoolID,
		StudentName: name,
		Signature:   signature,
		MarkedAt:    chk.At,
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyMarked) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("insert record: %w", err)
	}
	entry = Entry{Record: rec, Status: DeriveStatus(chk.Session.StartTime, &rec.MarkedAt, s.LateAfter)}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
	defer cancel()
	s.afterMark(sctx, chk, entry)
	return entry, nil
}

func (s *Service) afterMark(ctx context.Context, chk Checked, entry Entry) {
	class, err := s.Classes.GetClass(ctx, chk.Session.ClassID)
	if err != nil {
		s.Log.Error("load class for notifications", err, map[string]any{"session": chk.Session.ID})
		class = directory.Class{ID: chk.Session.ClassID, Name: "your class"}
	}

	if s.Notifier != nil {
		err := s.Notifier.Notify(ctx,
			notification.Notification{
				UserID:  chk.Student.ID,
				Title:   "Attendance Marked",
				Message: fmt.Sprintf("Your attendance for %s has been recorded as %s.", classLabel(class), entry.Status),
				Type:    notification.TypeSuccess,
			},
			notification.Notification{
				UserID:  chk.Session.LecturerID,
				Title:   "New Attendance",
				Message: fmt.Sprintf("%s marked attendance for %s.", entry.StudentName, classLabel(class)),
				Type:    notification.TypeInfo,
			},
		)
		if err != nil {
			metrics.NotificationFailures.WithLabelValues("inbox").Inc()
			s.Log.Error("store notifications", err, map[string]any{"record": entry.ID})
		}
	}

	if s.Queue != nil {
		msg, err := queue.NewMessage(queue.TypeAttendanceMarked, queue.AttendanceMarked{
			RecordID:     entry.ID,
			SessionID:    entry.SessionID,
			ClassName:    class.Name,
			CourseCode:   class.CourseCode,
			StudentID:    entry.StudentID,
			StudentName:  entry.StudentName,
			StudentEmail: chk.Student.Email,
			Status:       string(entry.Status),
			MarkedAt:     entry.MarkedAt,
		})
		if err == nil {
			err = s.Queue.Publish(ctx, msg)
		}
		if err != nil {
			metrics.NotificationFailures.WithLabelValues("queue").Inc()
			s.Log.Error("publish attendance event", err, map[string]any{"record": entry.ID})
		}
	}

	if s.Events != nil {
		ev, err := roster.NewEvent(roster.EventMarked, entry.SessionID, entry)
		if err == nil {
			err = s.Events.Publish(ctx, ev)
		}
		if err != nil {
			metrics.NotificationFailures.WithLabelValues("roster").Inc()
			s.Log.Error("broadcast roster event", err, map[string]any{"session": entry.SessionID})
		}
	}
}

func classLabel(c directory.Class) string {
	if c.CourseCode == "" {
		return c.Name
	}
	return c.Name + " (" + c.CourseCode + ")"
}

// Roster lists who has marked attendance for sess, with derived statuses.
func (s *Service) Roster(ctx context.Context, sess session.Session) ([]Entry, error) {
	recs, err := s.Repo.ListForSession(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		marked := rec.MarkedAt
		out = append(out, Entry{Record: rec, Status: DeriveStatus(sess.StartTime, &marked, s.LateAfter)})
	}
	return out, nil
}

// History returns a student's attendance across sessions, absences included.
func (s *Service) History(ctx context.Context, studentID string) ([]HistoryItem, error) {
	items, err := s.Repo.History(ctx, studentID, s.Validator.now())
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Status = DeriveStatus(items[i].StartTime, items[i].MarkedAt, s.LateAfter)
	}
	if items == nil {
		items = []HistoryItem{}
	}
	return items, nil
}
