package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/directory"
	"qrattend/internal/notification"
	"qrattend/internal/report"
	"qrattend/internal/roster"
	"qrattend/internal/session"
	"qrattend/internal/store/storetest"
)

func init() { gin.SetMode(gin.TestMode) }

type env struct {
	router   *gin.Engine
	dir      *directory.Service
	hub      *roster.Hub
	issuer   *auth.Issuer
	admin    directory.User
	lecturer directory.User
	student  directory.User
	other    directory.User
	class    directory.Class
	tokens   map[string]string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	db := storetest.Open(t)

	dir := directory.NewService(directory.NewRepository(db))
	issuer := auth.NewIssuer("qrattend", "test-secret", time.Hour, 24*time.Hour)
	sessions := session.NewService(session.NewRepository(db), dir, "https://attend.example.edu", time.Minute)
	records := attendance.NewRepository(db)
	inbox := notification.NewService(notification.NewRepository(db))
	hub := roster.NewHub(8)

	e := &env{dir: dir, hub: hub, issuer: issuer, tokens: map[string]string{}}
	var err error
	e.admin, _, err = dir.EnsureAdmin(ctx, "root@uni.edu", "rootpw")
	require.NoError(t, err)
	e.lecturer, err = dir.CreateUser(ctx, directory.NewUser{Role: directory.RoleLecturer, Name: "Grace", Email: "grace@uni.edu", Password: "gracepw"})
	require.NoError(t, err)
	e.student, err = dir.CreateUser(ctx, directory.NewUser{Role: directory.RoleStudent, Name: "Ada Lovelace", Email: "ada@uni.edu", SchoolID: "S-001", Password: "adapw"})
	require.NoError(t, err)
	e.other, err = dir.CreateUser(ctx, directory.NewUser{Role: directory.RoleStudent, Name: "Alan Turing", Email: "alan@uni.edu", SchoolID: "S-002", Password: "alanpw"})
	require.NoError(t, err)
	e.class, err = dir.CreateClass(ctx, "Compilers", "CS401", e.lecturer.ID)
	require.NoError(t, err)
	require.NoError(t, dir.Enroll(ctx, e.class.ID, e.student.ID))
	require.NoError(t, dir.Enroll(ctx, e.class.ID, e.other.ID))

	for _, u := range []directory.User{e.admin, e.lecturer, e.student, e.other} {
		pair, err := issuer.Issue(u.ID, string(u.Role))
		require.NoError(t, err)
		e.tokens[u.ID] = pair.AccessToken
	}

	e.router = NewRouter(Deps{
		Auth:      auth.NewService(dir, issuer, auth.NewRepository(db)),
		Tokens:    issuer,
		Directory: dir,
		Sessions:  sessions,
		Attendance: attendance.NewService(attendance.Deps{
			Validator: attendance.NewValidator(sessions, dir, records, attendance.DefaultRadius),
			Repo:      records,
			Classes:   dir,
			Notifier:  inbox,
			Events:    hub,
		}),
		Notifications: inbox,
		Reports:       report.NewService(dir, sessions, records, time.UTC, attendance.DefaultLateAfter),
		Roster:        hub,
		Checks:        map[string]func(context.Context) bool{"db": func(context.Context) bool { return true }},
	})
	return e
}

func (e *env) do(t *testing.T, as directory.User, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as.ID != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[as.ID])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *env) openSession(t *testing.T) sessionView {
	t.Helper()
	w := e.do(t, e.lecturer, http.MethodPost, "/v1/sessions", gin.H{"class_id": e.class.ID, "lat": 0.0, "lng": 0.0})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[sessionView](t, w)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, directory.User{}, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","db":true}`, w.Body.String())
}

func TestLoginAndMe(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, directory.User{}, http.MethodPost, "/v1/auth/login", gin.H{"email": "ada@uni.edu", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, directory.User{}, http.MethodPost, "/v1/auth/login", gin.H{"email": "ada@uni.edu", "password": "adapw"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[struct {
		Tokens auth.TokenPair  `json:"tokens"`
		User   directory.User `json:"user"`
	}](t, w)
	assert.Equal(t, e.student.ID, resp.User.ID)
	require.NotEmpty(t, resp.Tokens.AccessToken)

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Tokens.AccessToken)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada@uni.edu", decode[directory.User](t, rec).Email)
	assert.NotContains(t, rec.Body.String(), "password")

	assert.Equal(t, http.StatusUnauthorized, e.do(t, directory.User{}, http.MethodGet, "/v1/me", nil).Code)
}

func TestSessionLifecycle(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, e.lecturer, http.MethodPost, "/v1/sessions", gin.H{"class_id": e.class.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "no location")
	assert.Equal(t, http.StatusForbidden,
		e.do(t, e.student, http.MethodPost, "/v1/sessions", gin.H{"class_id": e.class.ID, "lat": 0.0, "lng": 0.0}).Code)

	v := e.openSession(t)
	assert.True(t, v.Session.Active)
	assert.Greater(t, v.RemainingSeconds, 0)
	assert.True(t, strings.HasPrefix(v.URL, "https://attend.example.edu/student/attendance?session="+v.Session.ID))

	w = e.do(t, e.lecturer, http.MethodGet, "/v1/sessions/"+v.Session.ID+"/qr.png?size=128", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	events, cancel := e.hub.Subscribe(v.Session.ID)
	defer cancel()
	w = e.do(t, e.lecturer, http.MethodPost, "/v1/sessions/"+v.Session.ID+"/close", nil)
	require.Equal(t, http.StatusOK, w.Code)
	closed := decode[sessionView](t, w)
	assert.False(t, closed.Session.Active)
	assert.Equal(t, 0, closed.RemainingSeconds)
	select {
	case ev := <-events:
		assert.Equal(t, roster.EventClosed, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no close event")
	}

	w = e.do(t, e.lecturer, http.MethodGet, "/v1/sessions?class_id="+e.class.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Sessions []sessionView `json:"sessions"`
	}](t, w)
	assert.Len(t, list.Sessions, 1)

	assert.Equal(t, http.StatusNotFound, e.do(t, e.lecturer, http.MethodGet, "/v1/sessions/unknown", nil).Code)
	assert.Equal(t, http.StatusNotImplemented, e.do(t, e.lecturer, http.MethodGet, "/v1/sessions/"+v.Session.ID+"/roster/stream", nil).Code)
}

func TestMarkAttendanceFlow(t *testing.T) {
	e := newEnv(t)
	v := e.openSession(t)

	scan := gin.H{"url": v.URL, "school_id": "s-001", "position": gin.H{"lat": 0.0, "lng": 0.0}}
	w := e.do(t, e.student, http.MethodPost, "/v1/attendance/scan", scan)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	marked := decode[struct {
		Record attendance.Entry `json:"record"`
	}](t, w)
	assert.Equal(t, attendance.StatusPresent, marked.Record.Status)
	assert.Equal(t, "Ada Lovelace", marked.Record.StudentName)

	w = e.do(t, e.student, http.MethodPost, "/v1/attendance/scan", scan)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.JSONEq(t, `{"error":"Attendance already marked for this session."}`, w.Body.String())

	w = e.do(t, e.other, http.MethodPost, "/v1/attendance", gin.H{
		"session_id": v.Session.ID, "token": v.Session.Token, "school_id": "S-002",
		"position": gin.H{"lat": 0.001, "lng": 0.0},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.JSONEq(t, `{"error":"You are too far from the class location (111 meters away). Maximum allowed distance is 50 meters.","distance_m":111}`, w.Body.String())

	w = e.do(t, e.other, http.MethodPost, "/v1/attendance", gin.H{
		"session_id": v.Session.ID, "token": v.Session.Token, "school_id": "S-002",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "missing position")
	assert.JSONEq(t, `{"error":"Unable to read your location. Allow location access and try again."}`, w.Body.String())

	w = e.do(t, e.other, http.MethodPost, "/v1/attendance", gin.H{
		"session_id": v.Session.ID, "token": "forged", "school_id": "S-002",
	})
	assert.JSONEq(t, `{"error":"Invalid QR code token."}`, w.Body.String())

	assert.Equal(t, http.StatusForbidden, e.do(t, e.lecturer, http.MethodPost, "/v1/attendance/scan", scan).Code)
	assert.Equal(t, http.StatusUnprocessableEntity,
		e.do(t, e.other, http.MethodPost, "/v1/attendance/scan", gin.H{"url": "https://x/nothing", "school_id": "S-002"}).Code)

	w = e.do(t, e.lecturer, http.MethodGet, "/v1/sessions/"+v.Session.ID+"/roster", nil)
	require.Equal(t, http.StatusOK, w.Code)
	r := decode[struct {
		Entries []attendance.Entry `json:"entries"`
	}](t, w)
	require.Len(t, r.Entries, 1)
	assert.Equal(t, e.student.ID, r.Entries[0].StudentID)

	w = e.do(t, e.student, http.MethodGet, "/v1/attendance/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	h := decode[struct {
		History []attendance.HistoryItem `json:"history"`
	}](t, w)
	require.Len(t, h.History, 1)
	assert.Equal(t, "CS401", h.History[0].CourseCode)

	w = e.do(t, e.lecturer, http.MethodGet, "/v1/notifications?unread=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	inbox := decode[struct {
		Notifications []notification.Notification `json:"notifications"`
		Unread        int                         `json:"unread"`
	}](t, w)
	require.Len(t, inbox.Notifications, 1)
	assert.Equal(t, "New Attendance", inbox.Notifications[0].Title)
	assert.Equal(t, 1, inbox.Unread)

	id := inbox.Notifications[0].ID
	assert.Equal(t, http.StatusNoContent, e.do(t, e.lecturer, http.MethodPost, "/v1/notifications/"+id+"/read", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, e.student, http.MethodDelete, "/v1/notifications/"+id, nil).Code)
	assert.Equal(t, http.StatusNoContent, e.do(t, e.lecturer, http.MethodDelete, "/v1/notifications/"+id, nil).Code)
}

func TestClassReports(t *testing.T) {
	e := newEnv(t)
	v := e.openSession(t)
	w := e.do(t, e.student, http.MethodPost, "/v1/attendance", gin.H{
		"session_id": v.Session.ID, "token": v.Session.Token, "school_id": "S-001",
		"position": gin.H{"lat": 0.0, "lng": 0.0},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = e.do(t, e.lecturer, http.MethodGet, "/v1/classes/"+e.class.ID+"/report", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode[struct {
		Rows []report.Row `json:"rows"`
	}](t, w)
	require.Len(t, rows.Rows, 2)
	assert.Equal(t, "Ada Lovelace", rows.Rows[0].StudentName)
	assert.Equal(t, "present", rows.Rows[0].Status)
	assert.Equal(t, "absent", rows.Rows[1].Status)

	w = e.do(t, e.lecturer, http.MethodGet, "/v1/classes/"+e.class.ID+"/report.csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance_CS401_")
	assert.True(t, strings.HasPrefix(w.Body.String(),
		`"Date","Time","Class","Course Code","Student Name","Status","Marked Time"`+"\r\n"))

	w = e.do(t, e.lecturer, http.MethodGet, "/v1/classes/"+e.class.ID+"/report.pdf", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))

	w = e.do(t, e.lecturer, http.MethodGet, "/v1/classes/"+e.class.ID+"/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sum := decode[report.Summary](t, w)
	assert.Equal(t, 1, sum.Sessions)
	assert.Equal(t, 2, sum.Enrolled)
	assert.Equal(t, 1, sum.Present)
	assert.Equal(t, 1, sum.Absent)

	assert.Equal(t, http.StatusBadRequest, e.do(t, e.lecturer, http.MethodGet, "/v1/classes/"+e.class.ID+"/report?from=yesterday", nil).Code)
	future := time.Now().AddDate(1, 0, 0).Format("2006-01-02")
	w = e.do(t, e.lecturer, http.MethodGet, "/v1/classes/"+e.class.ID+"/report?from="+future, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"rows":[]}`, w.Body.String())

	outsider, err := e.dir.CreateUser(context.Background(), directory.NewUser{Role: directory.RoleLecturer, Name: "Edsger", Email: "edsger@uni.edu"})
	require.NoError(t, err)
	pair, err := e.issuer.Issue(outsider.ID, string(outsider.Role))
	require.NoError(t, err)
	e.tokens[outsider.ID] = pair.AccessToken
	assert.Equal(t, http.StatusForbidden, e.do(t, outsider, http.MethodGet, "/v1/classes/"+e.class.ID+"/summary", nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, outsider, http.MethodGet, "/v1/sessions/"+v.Session.ID, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, e.admin, http.MethodGet, "/v1/classes/"+e.class.ID+"/summary", nil).Code)
}

func TestSettings(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, e.lecturer, http.MethodGet, "/v1/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, directory.DefaultSessionMinutes, decode[directory.Settings](t, w).SessionDurationMinutes)

	w = e.do(t, e.lecturer, http.MethodPut, "/v1/settings", gin.H{"session_duration_minutes": 30})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, directory.MaxSessionMinutes, decode[directory.Settings](t, w).SessionDurationMinutes)

	assert.Equal(t, http.StatusForbidden, e.do(t, e.student, http.MethodGet, "/v1/settings", nil).Code)
}

func TestAdminEndpoints(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, e.admin, http.MethodPost, "/v1/admin/users", gin.H{"role": "student", "name": "Barbara", "email": "barbara@uni.edu", "school_id": "S-003"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	barbara := decode[directory.User](t, w)

	w = e.do(t, e.admin, http.MethodPost, "/v1/admin/users", gin.H{"role": "student", "name": "Again", "email": "barbara@uni.edu"})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = e.do(t, e.admin, http.MethodPost, "/v1/admin/users", gin.H{"role": "janitor", "name": "X", "email": "x@uni.edu"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = e.do(t, e.admin, http.MethodPost, "/v1/admin/classes/"+e.class.ID+"/enroll", gin.H{"student_ids": []string{barbara.ID}})
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, e.admin, http.MethodGet, "/v1/admin/classes/"+e.class.ID+"/students", nil)
	require.Equal(t, http.StatusOK, w.Code)
	students := decode[struct {
		Students []directory.User `json:"students"`
	}](t, w)
	assert.Len(t, students.Students, 3)

	w = e.do(t, e.admin, http.MethodGet, "/v1/admin/users?role=lecturer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[struct {
		Users []directory.User `json:"users"`
	}](t, w).Users, 1)

	assert.Equal(t, http.StatusForbidden, e.do(t, e.lecturer, http.MethodGet, "/v1/admin/users", nil).Code)
}

func TestImportAttendance(t *testing.T) {
	e := newEnv(t)
	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/import", strings.NewReader(body))
		req.Header.Set("Content-Type", "text/csv")
		req.Header.Set("Authorization", "Bearer "+e.tokens[e.admin.ID])
		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, req)
		return w
	}

	w := post("when,who\n")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	csv := "Date,Time,Student Name,Student Email,Class Name,Course Code\n" +
		"2024-02-01,09:00:00,Ada Lovelace,ada@uni.edu,Compilers,CS401\n"
	w = post(csv)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"imported":1,"skipped":0}`, w.Body.String())

	w = post(csv)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"imported":0,"skipped":1}`, w.Body.String())

	w = post("Date,Time,Student Name,Student Email,Class Name,Course Code\n" +
		"2024-02-01,9am,Ada Lovelace,ada@uni.edu,Compilers,CS401\n")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode[struct {
		Errors []report.LineError `json:"errors"`
	}](t, w)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 2, resp.Errors[0].Line)
}

func TestQueryTokenOnlyOnStreamRoute(t *testing.T) {
	e := newEnv(t)
	v := e.openSession(t)
	get := func(path string) int {
		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, get("/v1/me?access_token="+e.tokens[e.lecturer.ID]))
	assert.Equal(t, http.StatusUnauthorized, get("/v1/sessions/"+v.Session.ID+"?access_token="+e.tokens[e.lecturer.ID]))

	stream := "/v1/sessions/" + v.Session.ID + "/roster/stream?access_token="
	assert.Equal(t, http.StatusNotImplemented, get(stream+e.tokens[e.lecturer.ID]), "authenticated, no streamer configured")
	assert.Equal(t, http.StatusForbidden, get(stream+e.tokens[e.student.ID]))
	assert.Equal(t, http.StatusUnauthorized, get(stream+"garbage"))
}

func TestRedactToken(t *testing.T) {
	assert.Equal(t, "/v1/me", redactToken("/v1/me"))
	assert.Equal(t, "/v1/sessions?class_id=c1", redactToken("/v1/sessions?class_id=c1"))
	assert.Equal(t, "/v1/sessions/s1/roster/stream?access_token=REDACTED",
		redactToken("/v1/sessions/s1/roster/stream?access_token=eyJhbGciOi.secret.sig"))
	assert.Equal(t, "/x?a=1&access_token=REDACTED", redactToken("/x?access_token=t&a=1"))
	assert.Equal(t, "/x", redactToken("/x?access_token=%zz"))

	line := logFormatter(gin.LogFormatterParams{
		Method: http.MethodGet, StatusCode: 101,
		Path: "/v1/sessions/s1/roster/stream?access_token=eyJhbGciOi.secret.sig",
	})
	assert.NotContains(t, line, "secret")
	assert.Contains(t, line, "access_token=REDACTED")
}
