package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"qrattend/internal/directory"
)

const maxImportBytes = 5 << 20

func (s *server) getSettings(c *gin.Context) {
	st, err := s.Directory.Settings(c.Request.Context(), actor(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *server) updateSettings(c *gin.Context) {
	var req struct {
		SessionDurationMinutes int `json:"session_duration_minutes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := s.Directory.UpdateSettings(c.Request.Context(), actor(c).ID, req.SessionDurationMinutes)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *server) createUser(c *gin.Context) {
	var req struct {
		Role     string `json:"role" binding:"required"`
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		SchoolID string `json:"school_id"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := s.Directory.CreateUser(c.Request.Context(), directory.NewUser{
		Role:     directory.Role(req.Role),
		Name:     req.Name,
		Email:    req.Email,
		SchoolID: req.SchoolID,
		Password: req.Password,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (s *server) listUsers(c *gin.Context) {
	users, err := s.Directory.ListUsers(c.Request.Context(), directory.Role(c.Query("role")))
	if err != nil {
		s.fail(c, err)
		return
	}
	if users == nil {
		users = []directory.User{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *server) createClass(c *gin.Context) {
	var req struct {
		Name       string `json:"name" binding:"required"`
		CourseCode string `json:"course_code" binding:"required"`
		LecturerID string `json:"lecturer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	class, err := s.Directory.CreateClass(c.Request.Context(), req.Name, req.CourseCode, req.LecturerID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, class)
}

func (s *server) enroll(c *gin.Context) {
	var req struct {
		StudentIDs []string `json:"student_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	for _, id := range req.StudentIDs {
		if err := s.Directory.Enroll(c.Request.Context(), c.Param("id"), id); err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"enrolled": len(req.StudentIDs)})
}

func (s *server) classStudents(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := s.Directory.GetClass(ctx, c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	students, err := s.Directory.Roster(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if students == nil {
		students = []directory.User{}
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

// importAttendance takes the CSV either as a multipart "file" field or as the raw body.
func (s *server) importAttendance(c *gin.Context) {
	var body io.Reader
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			badRequest(c, err)
			return
		}
		defer f.Close()
		body = f
	} else {
		body = c.Request.Body
	}
	res, err := s.Reports.ImportCSV(c.Request.Context(), io.LimitReader(body, maxImportBytes))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
