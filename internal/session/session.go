// Package session issues time-boxed attendance sessions and the QR links that point at them.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
)

var (
	ErrNotFound            = errors.New("session not found")
	ErrLocationUnavailable = errors.New("location unavailable: allow location access and try again")
	ErrForbidden           = errors.New("you do not teach this class")
	ErrInvalidPayload      = errors.New("invalid QR code")
)

// AttendancePath is the student-facing route encoded in every QR link.
const AttendancePath = "/student/attendance"

// Session is one marking window for a class.
type Session struct {
	ID          string    `json:"id"`
	ClassID     string    `json:"class_id"`
	LecturerID  string    `json:"lecturer_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Token       string    `json:"token"`
	LecturerLat float64   `json:"lecturer_lat"`
	LecturerLng float64   `json:"lecturer_lng"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Open reports whether t falls inside [StartTime, EndTime], both ends inclusive.
func (s Session) Open(t time.Time) bool {
	return !t.Before(s.StartTime) && !t.After(s.EndTime)
}

// Remaining is the countdown shown to the lecturer; never negative.
func (s Session) Remaining(now time.Time) time.Duration {
	if !s.Active || now.After(s.EndTime) {
		return 0
	}
	if now.Before(s.StartTime) {
		return s.EndTime.Sub(s.StartTime)
	}
	return s.EndTime.Sub(now)
}

// NewToken returns 32 random bytes, base64url encoded without padding.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Payload is what a student's scanner recovers from a QR link.
type Payload struct {
	SessionID string  `json:"session"`
	Token     string  `json:"token"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

// BuildURL renders the QR link. Parameter order is fixed: session, token, lat, lng.
func BuildURL(baseURL string, s Session) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(baseURL, "/"))
	b.WriteString(AttendancePath)
	b.WriteString("?session=")
	b.WriteString(url.QueryEscape(s.ID))
	b.WriteString("&token=")
	b.WriteString(url.QueryEscape(s.Token))
	b.WriteString("&lat=")
	b.WriteString(strconv.FormatFloat(s.LecturerLat, 'f', 6, 64))
	b.WriteString("&lng=")
	b.WriteString(strconv.FormatFloat(s.LecturerLng, 'f', 6, 64))
	return b.String()
}

// ParseURL is the inverse of BuildURL.
func ParseURL(raw string) (Payload, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Payload{}, ErrInvalidPayload
	}
	q := u.Query()
	p := Payload{SessionID: q.Get("session"), Token: q.Get("token")}
	if p.SessionID == "" || p.Token == "" {
		return Payload{}, ErrInvalidPayload
	}
	if p.Lat, err = strconv.ParseFloat(q.Get("lat"), 64); err != nil {
		return Payload{}, ErrInvalidPayload
	}
	if p.Lng, err = strconv.ParseFloat(q.Get("lng"), 64); err != nil {
		return Payload{}, ErrInvalidPayload
	}
	return p, nil
}

// QRCode encodes link as a PNG of size×size pixels.
func QRCode(link string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(link, qrcode.Medium, size)
}
