package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"qrattend/internal/attendance"
	"qrattend/internal/directory"
)

// ImportHeader is the required first line of an import file.
var ImportHeader = []string{"Date", "Time", "Student Name", "Student Email", "Class Name", "Course Code"}

var ErrBadHeader = errors.New("invalid header: expected " + strings.Join(ImportHeader, ","))

var (
	dateRe   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	clockRe  = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}$`)
	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		return dateRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return clockRe.MatchString(fl.Field().String())
	})
	return v
}

// ImportRow is one parsed line of an import file.
type ImportRow struct {
	Line         int    `json:"line" validate:"-"`
	Date         string `json:"date" validate:"required,isodate"`
	Time         string `json:"time" validate:"required,clock"`
	StudentName  string `json:"student_name" validate:"required"`
	StudentEmail string `json:"student_email" validate:"required,email"`
	ClassName    string `json:"class_name"`
	CourseCode   string `json:"course_code" validate:"required"`
}

// LineError locates a problem in an import file.
type LineError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// BatchError rejects a whole import; nothing has been written.
type BatchError struct {
	Errors []LineError `json:"errors"`
}

func (e *BatchError) Error() string {
	if len(e.Errors) == 0 {
		return "import rejected"
	}
	first := e.Errors[0]
	return fmt.Sprintf("import rejected: %d invalid row(s); line %d: %s", len(e.Errors), first.Line, first.Message)
}

// ImportResult counts what an import wrote.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// ParseImport reads and validates every row. Any invalid row rejects the
// batch with a *BatchError listing all problems.
func ParseImport(r io.Reader) ([]ImportRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrBadHeader
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !headerMatches(header) {
		return nil, ErrBadHeader
	}

	var (
		rows []ImportRow
		bad  []LineError
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				bad = append(bad, LineError{Line: pe.Line, Message: pe.Err.Error()})
				continue
			}
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		if blank(rec) {
			continue
		}
		if len(rec) != len(ImportHeader) {
			bad = append(bad, LineError{Line: line, Message: fmt.Sprintf("expected %d columns, got %d", len(ImportHeader), len(rec))})
			continue
		}
		row := ImportRow{
			Line:         line,
			Date:         strings.TrimSpace(rec[0]),
			Time:         strings.TrimSpace(rec[1]),
			StudentName:  strings.TrimSpace(rec[2]),
			StudentEmail: strings.TrimSpace(rec[3]),
			ClassName:    strings.TrimSpace(rec[4]),
			CourseCode:   strings.TrimSpace(rec[5]),
		}
		if msgs := checkRow(row); len(msgs) > 0 {
			for _, m := range msgs {
				bad = append(bad, LineError{Line: line, Message: m})
			}
			continue
		}
		rows = append(rows, row)
	}
	if len(bad) > 0 {
		return nil, &BatchError{Errors: bad}
	}
	return rows, nil
}

func headerMatches(header []string) bool {
	if len(header) != len(ImportHeader) {
		return false
	}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h != ImportHeader[i] {
			return false
		}
	}
	return true
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func checkRow(row ImportRow) []string {
	err := validate.Struct(row)
	if err == nil {
		if _, perr := time.Parse("2006-01-02 15:04:05", row.Date+" "+row.Time); perr != nil {
			return []string{fmt.Sprintf("%s %s is not a valid date and time", row.Date, row.Time)}
		}
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "isodate":
			msgs = append(msgs, fmt.Sprintf("date %q must be YYYY-MM-DD", fe.Value()))
		case "clock":
			msgs = append(msgs, fmt.Sprintf("time %q must be HH:mm:ss", fe.Value()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%q is not a valid email", fe.Value()))
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return msgs
}

type resolved struct {
	row     ImportRow
	student directory.User
	class   directory.Class
	start   time.Time
}

// Import writes validated rows: it enrols each student in the class, finds
// or creates a closed session starting at the row's date and time, and
// records attendance at the session start. Every student and class is
// resolved before the first write; rows already recorded are skipped. The
// writes run through the service's Transactor, so with SQLTransactor a
// failure part way leaves nothing behind.
func (s *Service) Import(ctx context.Context, rows []ImportRow) (ImportResult, error) {
	var (
		plan     []resolved
		bad      []LineError
		students = map[string]directory.User{}
		classes  = map[string]directory.Class{}
	)
	for _, row := range rows {
		r := resolved{row: row}
		start, err := time.ParseInLocation("2006-01-02 15:04:05", row.Date+" "+row.Time, s.loc)
		if err != nil {
			bad = append(bad, LineError{Line: row.Line, Message: "invalid date or time"})
			continue
		}
		r.start = start

		email := strings.ToLower(row.StudentEmail)
		student, ok := students[email]
		if !ok {
			if student, err = s.dir.GetUserByEmail(ctx, email); err != nil {
				if !errors.Is(err, directory.ErrNotFound) {
					return ImportResult{}, fmt.Errorf("line %d: load student: %w", row.Line, err)
				}
				bad = append(bad, LineError{Line: row.Line, Message: fmt.Sprintf("no user with email %s", row.StudentEmail)})
				continue
			}
			students[email] = student
		}
		if student.Role != directory.RoleStudent {
			bad = append(bad, LineError{Line: row.Line, Message: fmt.Sprintf("%s is not a student", row.StudentEmail)})
			continue
		}
		r.student = student

		code := strings.ToUpper(row.CourseCode)
		class, ok := classes[code]
		if !ok {
			if class, err = s.dir.GetClassByCourseCode(ctx, code); err != nil {
				if !errors.Is(err, directory.ErrNotFound) {
					return ImportResult{}, fmt.Errorf("line %d: load class: %w", row.Line, err)
				}
				bad = append(bad, LineError{Line: row.Line, Message: fmt.Sprintf("no class with course code %s", row.CourseCode)})
				continue
			}
			classes[code] = class
		}
		r.class = class
		plan = append(plan, r)
	}
	if len(bad) > 0 {
		return ImportResult{}, &BatchError{Errors: bad}
	}

	var res ImportResult
	err := s.inTx(ctx, func(w Writer) error {
		res = ImportResult{}
		for _, r := range plan {
			if err := w.Enroll(ctx, r.class.ID, r.student.ID); err != nil {
				return fmt.Errorf("line %d: enroll: %w", r.row.Line, err)
			}
			sess, err := w.Historical(ctx, r.class, r.start)
			if err != nil {
				return fmt.Errorf("line %d: session: %w", r.row.Line, err)
			}
			_, err = w.Insert(ctx, attendance.Record{
				SessionID:   sess.ID,
				StudentID:   r.student.ID,
				SchoolID:    r.student.SchoolID,
				StudentName: r.row.StudentName,
				MarkedAt:    sess.StartTime,
			})
			switch {
			case errors.Is(err, attendance.ErrAlreadyMarked):
				res.Skipped++
			case err != nil:
				return fmt.Errorf("line %d: record: %w", r.row.Line, err)
			default:
				res.Imported++
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return res, nil
}

// ImportCSV parses r and imports it when every row is valid.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader) (ImportResult, error) {
	rows, err := ParseImport(r)
	if err != nil {
		return ImportResult{}, err
	}
	return s.Import(ctx, rows)
}
