package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/geo"
	"qrattend/internal/session"
)

func (s *server) markAttendance(c *gin.Context) {
	var sub attendance.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		badRequest(c, err)
		return
	}
	s.mark(c, sub)
}

// scanAttendance accepts the raw QR link instead of its decoded fields.
func (s *server) scanAttendance(c *gin.Context) {
	var req struct {
		URL       string    `json:"url" binding:"required"`
		SchoolID  string    `json:"school_id" binding:"required"`
		Name      string    `json:"name"`
		Signature string    `json:"signature"`
		Position  *geo.Coord `json:"position"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := session.ParseURL(req.URL)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.mark(c, attendance.Submission{
		SessionID: p.SessionID,
		Token:     p.Token,
		SchoolID:  req.SchoolID,
		Name:      req.Name,
		Signature: req.Signature,
		Position:  req.Position,
	})
}

func (s *server) mark(c *gin.Context, sub attendance.Submission) {
	entry, err := s.Attendance.Mark(c.Request.Context(), actor(c).ID, sub)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Attendance marked successfully.", "record": entry})
}

func (s *server) attendanceHistory(c *gin.Context) {
	items, err := s.Attendance.History(c.Request.Context(), actor(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": items})
}
