package httpapi

import (
	"errors"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/directory"
	"qrattend/internal/notification"
	"qrattend/internal/report"
	"qrattend/internal/session"
)

// fail writes err as {"error": msg}. Rejections keep their message;
// anything unrecognised is logged and hidden behind a 500.
func (s *server) fail(c *gin.Context, err error) {
	var (
		de *attendance.DistanceError
		ve *attendance.ValidationError
		be *report.BatchError
	)
	switch {
	case errors.As(err, &de):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": de.Error(), "distance_m": math.Round(de.Distance)})
	case errors.As(err, &ve):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": ve.Message})
	case errors.As(err, &be):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": be.Error(), "errors": be.Errors})
	case errors.Is(err, report.ErrBadHeader),
		errors.Is(err, session.ErrLocationUnavailable),
		errors.Is(err, session.ErrInvalidPayload),
		errors.Is(err, directory.ErrInvalidRole),
		errors.Is(err, directory.ErrNotLecturer),
		errors.Is(err, directory.ErrNotStudent):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, notification.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
	case errors.Is(err, directory.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, session.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, directory.ErrEmailExists), errors.Is(err, directory.ErrCourseCodeExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, directory.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	default:
		s.Log.Error("request failed", err, map[string]any{"method": c.Request.Method, "route": c.FullPath()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
