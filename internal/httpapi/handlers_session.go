package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"qrattend/internal/directory"
	"qrattend/internal/geo"
	"qrattend/internal/roster"
	"qrattend/internal/session"
)

const maxQRSize = 1024

type sessionView struct {
	Session          session.Session `json:"session"`
	URL              string          `json:"url"`
	RemainingSeconds int             `json:"remaining_seconds"`
}

func (s *server) view(sess session.Session) sessionView {
	return sessionView{
		Session:          sess,
		URL:              s.Sessions.URL(sess),
		RemainingSeconds: int(sess.Remaining(s.now()).Seconds()),
	}
}

func (s *server) createSession(c *gin.Context) {
	var req struct {
		ClassID string   `json:"class_id" binding:"required"`
		Lat     *float64 `json:"lat"`
		Lng     *float64 `json:"lng"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	var pos *geo.Coord
	if req.Lat != nil && req.Lng != nil {
		pos = &geo.Coord{Lat: *req.Lat, Lng: *req.Lng}
	}
	issued, err := s.Sessions.Issue(c.Request.Context(), actor(c), req.ClassID, pos)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.view(issued.Session))
}

func (s *server) listSessions(c *gin.Context) {
	ctx := c.Request.Context()
	a := actor(c)
	var (
		list []session.Session
		err  error
	)
	if classID := c.Query("class_id"); classID != "" {
		if _, ok := s.ownedClass(c, classID); !ok {
			return
		}
		list, err = s.Sessions.ListForClass(ctx, classID, time.Time{}, time.Time{})
	} else {
		list, err = s.Sessions.ListForLecturer(ctx, a.ID)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, sess := range list {
		out = append(out, s.view(sess))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *server) getSession(c *gin.Context) {
	sess, err := s.Sessions.GetOwned(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(sess))
}

func (s *server) sessionQR(c *gin.Context) {
	sess, err := s.Sessions.GetOwned(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	size := 256
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "size must be a positive integer"})
			return
		}
		size = min(n, maxQRSize)
	}
	png, err := session.QRCode(s.Sessions.URL(sess), size)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *server) closeSession(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := s.Sessions.Close(ctx, actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if s.Roster != nil {
		ev, err := roster.NewEvent(roster.EventClosed, sess.ID, sess)
		if err == nil {
			err = s.Roster.Publish(ctx, ev)
		}
		if err != nil {
			s.Log.Error("broadcast session close", err, map[string]any{"session": sess.ID})
		}
	}
	c.JSON(http.StatusOK, s.view(sess))
}

func (s *server) sessionRoster(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := s.Sessions.GetOwned(ctx, actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	entries, err := s.Attendance.Roster(ctx, sess)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s.view(sess), "entries": entries})
}

func (s *server) sessionRosterStream(c *gin.Context) {
	if s.Streamer == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "live roster disabled"})
		return
	}
	ctx := c.Request.Context()
	sess, err := s.Sessions.GetOwned(ctx, actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	sub := s.Streamer.Subscribe(sess.ID)
	defer sub.Close()
	entries, err := s.Attendance.Roster(ctx, sess)
	if err != nil {
		s.fail(c, err)
		return
	}
	snapshot, err := roster.NewEvent(roster.EventSnapshot, sess.ID, gin.H{"session": s.view(sess), "entries": entries})
	if err != nil {
		s.fail(c, err)
		return
	}
	// Serve hijacks the connection; errors after the upgrade cannot be written back.
	if err := s.Streamer.Serve(c.Writer, c.Request, sub, snapshot); err != nil {
		s.Log.Warnf("roster stream %s: %v", sess.ID, err)
	}
}

// ownedClass loads a class and checks the caller may see its reports.
// It writes the error response itself and reports false on failure.
func (s *server) ownedClass(c *gin.Context, classID string) (directory.Class, bool) {
	class, err := s.Directory.GetClass(c.Request.Context(), classID)
	if err != nil {
		s.fail(c, err)
		return directory.Class{}, false
	}
	a := actor(c)
	if a.Role != directory.RoleAdmin && a.ID != class.LecturerID {
		s.fail(c, session.ErrForbidden)
		return directory.Class{}, false
	}
	return class, true
}
