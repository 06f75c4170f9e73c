// Package httpapi exposes the attendance service over HTTP with gin.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/directory"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/logging"
	"qrattend/internal/metrics"
	"qrattend/internal/notification"
	"qrattend/internal/report"
	"qrattend/internal/roster"
	"qrattend/internal/session"
)

// Deps are the services behind the routes. Roster, Streamer and Limiter are optional.
type Deps struct {
	Auth          *auth.Service
	Tokens        *auth.Issuer
	Directory     *directory.Service
	Sessions      *session.Service
	Attendance    *attendance.Service
	Notifications *notification.Service
	Reports       *report.Service
	Roster        roster.Publisher
	Streamer      *roster.Streamer
	Limiter       *httpmiddleware.SimpleTokenBucket
	Log           *logging.Logger
	CORSOrigins   []string
	Location      *time.Location
	// Checks are reported by /healthz; any false answer turns it 503.
	Checks map[string]func(context.Context) bool
}

type server struct {
	Deps
	now func() time.Time
}

// NewRouter wires every route onto a gin engine.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = logging.New(nil, "", "", "")
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	s := &server{Deps: d, now: time.Now}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: logFormatter,
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware(d.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(metrics.GinMiddleware())

	limit := func(c *gin.Context) { c.Next() }
	if d.Limiter != nil {
		limit = d.Limiter.GinMiddleware()
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.health)

	pub := r.Group("/v1/auth", limit)
	pub.POST("/login", s.login)
	pub.POST("/refresh", s.refresh)
	pub.POST("/logout", s.logout)

	v1 := r.Group("/v1", auth.Authenticate(d.Tokens), limit)
	v1.GET("/me", s.me)
	v1.GET("/classes", s.listClasses)

	v1.GET("/notifications", s.listNotifications)
	v1.POST("/notifications/read-all", s.markAllNotificationsRead)
	v1.POST("/notifications/:id/read", s.markNotificationRead)
	v1.DELETE("/notifications/:id", s.deleteNotification)

	staff := v1.Group("", auth.RequireRole(string(directory.RoleLecturer), string(directory.RoleAdmin)))
	staff.POST("/sessions", s.createSession)
	staff.GET("/sessions", s.listSessions)
	staff.GET("/sessions/:id", s.getSession)
	staff.GET("/sessions/:id/qr.png", s.sessionQR)
	staff.POST("/sessions/:id/close", s.closeSession)
	staff.GET("/sessions/:id/roster", s.sessionRoster)
	staff.GET("/classes/:id/report", s.classReport)
	staff.GET("/classes/:id/report.csv", s.classReportCSV)
	staff.GET("/classes/:id/report.pdf", s.classReportPDF)
	staff.GET("/classes/:id/summary", s.classSummary)

	stream := r.Group("/v1", auth.AuthenticateStream(d.Tokens), limit,
		auth.RequireRole(string(directory.RoleLecturer), string(directory.RoleAdmin)))
	stream.GET("/sessions/:id/roster/stream", s.sessionRosterStream)

	lecturer := v1.Group("/settings", auth.RequireRole(string(directory.RoleLecturer)))
	lecturer.GET("", s.getSettings)
	lecturer.PUT("", s.updateSettings)

	student := v1.Group("/attendance", auth.RequireRole(string(directory.RoleStudent)))
	student.POST("", s.markAttendance)
	student.POST("/scan", s.scanAttendance)
	student.GET("/history", s.attendanceHistory)

	admin := v1.Group("/admin", auth.RequireRole(string(directory.RoleAdmin)))
	admin.POST("/users", s.createUser)
	admin.GET("/users", s.listUsers)
	admin.POST("/classes", s.createClass)
	admin.POST("/classes/:id/enroll", s.enroll)
	admin.GET("/classes/:id/students", s.classStudents)
	admin.POST("/import", s.importAttendance)

	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Disposition", "Retry-After"},
		MaxAge:        24 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// logFormatter is gin's default access log line with the stream token masked.
func logFormatter(p gin.LogFormatterParams) string {
	if p.Latency > time.Minute {
		p.Latency = p.Latency.Truncate(time.Second)
	}
	return fmt.Sprintf("[GIN] %v | %3d | %13v | %15s | %-7s %#v\n%s",
		p.TimeStamp.Format("2006/01/02 - 15:04:05"),
		p.StatusCode,
		p.Latency,
		p.ClientIP,
		p.Method,
		redactToken(p.Path),
		p.ErrorMessage,
	)
}

func redactToken(path string) string {
	base, raw, ok := strings.Cut(path, "?")
	if !ok || !strings.Contains(raw, "access_token") {
		return path
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return base
	}
	if q.Has("access_token") {
		q.Set("access_token", "REDACTED")
	}
	return base + "?" + q.Encode()
}

func (s *server) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range s.Checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
