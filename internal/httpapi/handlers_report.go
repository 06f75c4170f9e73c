package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"qrattend/internal/directory"
	"qrattend/internal/report"
)

// reportRange reads ?from=YYYY-MM-DD&to=YYYY-MM-DD as local dates; to is inclusive.
func (s *server) reportRange(c *gin.Context) (from, to time.Time, ok bool) {
	parse := func(key string) (time.Time, bool) {
		raw := c.Query(key)
		if raw == "" {
			return time.Time{}, true
		}
		t, err := time.ParseInLocation("2006-01-02", raw, s.Location)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be YYYY-MM-DD"})
			return time.Time{}, false
		}
		return t, true
	}
	if from, ok = parse("from"); !ok {
		return
	}
	if to, ok = parse("to"); !ok {
		return
	}
	if !to.IsZero() {
		to = to.AddDate(0, 0, 1)
	}
	return from, to, true
}

func (s *server) loadReport(c *gin.Context) (directory.Class, []report.Row, bool) {
	class, ok := s.ownedClass(c, c.Param("id"))
	if !ok {
		return class, nil, false
	}
	from, to, ok := s.reportRange(c)
	if !ok {
		return class, nil, false
	}
	rows, err := s.Reports.ClassReport(c.Request.Context(), class.ID, from, to)
	if err != nil {
		s.fail(c, err)
		return class, nil, false
	}
	if rows == nil {
		rows = []report.Row{}
	}
	return class, rows, true
}

func (s *server) classReport(c *gin.Context) {
	_, rows, ok := s.loadReport(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

func (s *server) classReportCSV(c *gin.Context) {
	class, rows, ok := s.loadReport(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, rows); err != nil {
		s.fail(c, err)
		return
	}
	attachment(c, reportFilename(class, s.now().In(s.Location), "csv"))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (s *server) classReportPDF(c *gin.Context) {
	class, rows, ok := s.loadReport(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	title := fmt.Sprintf("Attendance report: %s (%s)", class.Name, class.CourseCode)
	if err := report.WritePDF(&buf, title, rows); err != nil {
		s.fail(c, err)
		return
	}
	attachment(c, reportFilename(class, s.now().In(s.Location), "pdf"))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

func (s *server) classSummary(c *gin.Context) {
	class, ok := s.ownedClass(c, c.Param("id"))
	if !ok {
		return
	}
	sum, err := s.Reports.Summary(c.Request.Context(), class.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func reportFilename(class directory.Class, at time.Time, ext string) string {
	return fmt.Sprintf("attendance_%s_%s.%s", class.CourseCode, at.Format("2006-01-02"), ext)
}

func attachment(c *gin.Context, name string) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
}
