// Package report aggregates attendance into per-class tables, exports them
// as CSV or PDF, and imports historical attendance from CSV.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"qrattend/internal/attendance"
	"qrattend/internal/directory"
	"qrattend/internal/session"
)

// Row is one student at one session.
type Row struct {
	Date        string `json:"date"`
	Time        string `json:"time"`
	Class       string `json:"class"`
	CourseCode  string `json:"course_code"`
	StudentName string `json:"student_name"`
	Status      string `json:"status"`
	MarkedTime  string `json:"marked_time"`
}

// Summary condenses a class's attendance.
type Summary struct {
	ClassID    string  `json:"class_id"`
	Class      string  `json:"class"`
	CourseCode string  `json:"course_code"`
	Sessions   int     `json:"sessions"`
	Enrolled   int     `json:"enrolled"`
	Present    int     `json:"present"`
	Late       int     `json:"late"`
	Absent     int     `json:"absent"`
	Rate       float64 `json:"attendance_rate"`
}

// Directory is what reports and imports need from the directory service.
type Directory interface {
	GetClass(ctx context.Context, id string) (directory.Class, error)
	GetClassByCourseCode(ctx context.Context, code string) (directory.Class, error)
	GetUserByEmail(ctx context.Context, email string) (directory.User, error)
	Roster(ctx context.Context, classID string) ([]directory.User, error)
	Enroll(ctx context.Context, classID, studentID string) error
}

// Sessions lists and creates sessions.
type Sessions interface {
	ListForClass(ctx context.Context, classID string, from, to time.Time) ([]session.Session, error)
	Historical(ctx context.Context, class directory.Class, start time.Time) (session.Session, error)
}

// Records reads and writes attendance records.
type Records interface {
	ListForClass(ctx context.Context, classID string) ([]attendance.Record, error)
	Insert(ctx context.Context, rec attendance.Record) (attendance.Record, error)
}

// Service builds reports.
type Service struct {
	dir       Directory
	sessions  Sessions
	records   Records
	loc       *time.Location
	lateAfter time.Duration
	inTx      Transactor
}

// NewService creates a report service. Dates and times are rendered in loc.
func NewService(dir Directory, sessions Sessions, records Records, loc *time.Location, lateAfter time.Duration) *Service {
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{dir: dir, sessions: sessions, records: records, loc: loc, lateAfter: lateAfter}
	s.inTx = func(ctx context.Context, fn func(Writer) error) error {
		return fn(writer{dir: s.dir, sessions: s.sessions, records: s.records})
	}
	return s
}

// SetTransactor makes imports run their writes through t.
func (s *Service) SetTransactor(t Transactor) { s.inTx = t }

type cell struct {
	name   string
	status attendance.Status
	marked *time.Time
}

// ClassReport crosses every session of a class in [from, to) with every
// enrolled student. Students without a record are absent; students who
// marked without being enrolled are listed too. Zero bounds are open.
func (s *Service) ClassReport(ctx context.Context, classID string, from, to time.Time) ([]Row, error) {
	class, sessions, grid, err := s.load(ctx, classID, from, to)
	if err != nil {
		return nil, err
	}
	var rows []Row
	for _, sess := range sessions {
		start := sess.StartTime.In(s.loc)
		for _, c := range grid[sess.ID] {
			row := Row{
				Date:        start.Format("2006-01-02"),
				Time:        start.Format("15:04:05"),
				Class:       class.Name,
				CourseCode:  class.CourseCode,
				StudentName: c.name,
				Status:      string(c.status),
			}
			if c.marked != nil {
				row.MarkedTime = c.marked.In(s.loc).Format("15:04:05")
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// Summary counts statuses over all sessions of a class.
func (s *Service) Summary(ctx context.Context, classID string) (Summary, error) {
	class, sessions, grid, err := s.load(ctx, classID, time.Time{}, time.Time{})
	if err != nil {
		return Summary{}, err
	}
	roster, err := s.dir.Roster(ctx, classID)
	if err != nil {
		return Summary{}, fmt.Errorf("load roster: %w", err)
	}
	sum := Summary{ClassID: class.ID, Class: class.Name, CourseCode: class.CourseCode, Sessions: len(sessions), Enrolled: len(roster)}
	for _, cells := range grid {
		for _, c := range cells {
			switch c.status {
			case attendance.StatusPresent:
				sum.Present++
			case attendance.StatusLate:
				sum.Late++
			default:
				sum.Absent++
			}
		}
	}
	if total := sum.Present + sum.Late + sum.Absent; total > 0 {
		sum.Rate = float64(sum.Present+sum.Late) / float64(total)
	}
	return sum, nil
}

// load returns the class, its sessions oldest first, and per session the
// students with their derived statuses ordered by name.
func (s *Service) load(ctx context.Context, classID string, from, to time.Time) (directory.Class, []session.Session, map[string][]cell, error) {
	class, err := s.dir.GetClass(ctx, classID)
	if err != nil {
		return directory.Class{}, nil, nil, fmt.Errorf("load class: %w", err)
	}
	sessions, err := s.sessions.ListForClass(ctx, classID, from, to)
	if err != nil {
		return directory.Class{}, nil, nil, fmt.Errorf("load sessions: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartTime.Before(sessions[j].StartTime) })

	roster, err := s.dir.Roster(ctx, classID)
	if err != nil {
		return directory.Class{}, nil, nil, fmt.Errorf("load roster: %w", err)
	}
	records, err := s.records.ListForClass(ctx, classID)
	if err != nil {
		return directory.Class{}, nil, nil, fmt.Errorf("load records: %w", err)
	}
	bySession := make(map[string]map[string]attendance.Record)
	for _, rec := range records {
		if bySession[rec.SessionID] == nil {
			bySession[rec.SessionID] = make(map[string]attendance.Record)
		}
		bySession[rec.SessionID][rec.StudentID] = rec
	}

	grid := make(map[string][]cell, len(sessions))
	for _, sess := range sessions {
		marks := bySession[sess.ID]
		enrolled := make(map[string]bool, len(roster))
		cells := make([]cell, 0, len(roster)+len(marks))
		for _, u := range roster {
			enrolled[u.ID] = true
			c := cell{name: u.Name}
			if rec, ok := marks[u.ID]; ok {
				t := rec.MarkedAt
				c.marked = &t
			}
			c.status = attendance.DeriveStatus(sess.StartTime, c.marked, s.lateAfter)
			cells = append(cells, c)
		}
		for studentID, rec := range marks {
			if enrolled[studentID] {
				continue
			}
			t := rec.MarkedAt
			cells = append(cells, cell{name: rec.StudentName, marked: &t, status: attendance.DeriveStatus(sess.StartTime, &t, s.lateAfter)})
		}
		sort.SliceStable(cells, func(i, j int) bool { return cells[i].name < cells[j].name })
		grid[sess.ID] = cells
	}
	return class, sessions, grid, nil
}
