package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// CSVHeader is the first line of every export.
var CSVHeader = []string{"Date", "Time", "Class", "Course Code", "Student Name", "Status", "Marked Time"}

func (r Row) fields() []string {
	return []string{r.Date, r.Time, r.Class, r.CourseCode, r.StudentName, r.Status, r.MarkedTime}
}

// WriteCSV writes the header and rows with every field quoted.
func WriteCSV(w io.Writer, rows []Row) error {
	bw := bufio.NewWriter(w)
	writeLine := func(fields []string) {
		for i, f := range fields {
			if i > 0 {
				bw.WriteByte(',')
			}
			bw.WriteByte('"')
			bw.WriteString(strings.ReplaceAll(f, `"`, `""`))
			bw.WriteByte('"')
		}
		bw.WriteString("\r\n")
	}
	writeLine(CSVHeader)
	for _, r := range rows {
		writeLine(r.fields())
	}
	return bw.Flush()
}

// WritePDF renders rows as a landscape A4 table.
func WritePDF(w io.Writer, title string, rows []Row) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	widths := []float64{28, 22, 60, 30, 70, 25, 30}

	header := func() {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetFillColor(230, 230, 230)
		for i, h := range CSVHeader {
			pdf.CellFormat(widths[i], 8, h, "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 9)
	}
	pdf.SetHeaderFunc(func() {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.CellFormat(0, 10, tr(title), "", 1, "L", false, 0, "")
		header()
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	for _, r := range rows {
		for i, f := range r.fields() {
			pdf.CellFormat(widths[i], 7, tr(f), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
	if len(rows) == 0 {
		pdf.CellFormat(0, 8, "No attendance recorded.", "", 1, "L", false, 0, "")
	}
	return pdf.Output(w)
}
