package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"qrattend/internal/directory"
	"qrattend/internal/geo"
	"qrattend/internal/metrics"
)

// Directory is the subset of the directory service the issuer needs.
type Directory interface {
	GetClass(ctx context.Context, id string) (directory.Class, error)
	Settings(ctx context.Context, lecturerID string) (directory.Settings, error)
}

// Actor identifies who is acting on a session.
type Actor struct {
	ID   string
	Role directory.Role
}

func (a Actor) owns(lecturerID string) bool {
	return a.Role == directory.RoleAdmin || a.ID == lecturerID
}

// Issued is a freshly created session together with its QR link.
type Issued struct {
	Session Session `json:"session"`
	URL     string  `json:"url"`
}

// Service issues and looks up sessions.
type Service struct {
	repo    *Repository
	dir     Directory
	cache   *cache.Cache
	baseURL string
	now     func() time.Time
}

// NewService creates a session service. Lookups are cached for cacheTTL.
func NewService(repo *Repository, dir Directory, baseURL string, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Service{
		repo:    repo,
		dir:     dir,
		cache:   cache.New(cacheTTL, 2*cacheTTL),
		baseURL: baseURL,
		now:     time.Now,
	}
}

// SetClock replaces the time source; used by tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Issue opens a marking window for a class at the lecturer's current position.
// The window length comes from the lecturer's settings, clamped to 3-10 minutes.
func (s *Service) Issue(ctx context.Context, actor Actor, classID string, pos *geo.Coord) (Issued, error) {
	if pos == nil || pos.Validate() != nil {
		return Issued{}, ErrLocationUnavailable
	}
	class, err := s.dir.GetClass(ctx, classID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return Issued{}, fmt.Errorf("class %s: %w", classID, directory.ErrNotFound)
		}
		return Issued{}, fmt.Errorf("load class: %w", err)
	}
	if !actor.owns(class.LecturerID) {
		return Issued{}, ErrForbidden
	}
	settings, err := s.dir.Settings(ctx, class.LecturerID)
	if err != nil {
		return Issued{}, fmt.Errorf("load settings: %w", err)
	}
	token, err := NewToken()
	if err != nil {
		return Issued{}, err
	}

	start := s.now().UTC()
	sess, err := s.repo.Insert(ctx, Session{
		ClassID:     class.ID,
		LecturerID:  class.LecturerID,
		StartTime:   start,
		EndTime:     start.Add(settings.SessionDuration()),
		Token:       token,
		LecturerLat: pos.Lat,
		LecturerLng: pos.Lng,
		Active:      true,
		CreatedAt:   start,
	})
	if err != nil {
		return Issued{}, fmt.Errorf("insert session: %w", err)
	}
	s.cache.SetDefault(sess.ID, sess)
	metrics.SessionsIssued.Inc()
	return Issued{Session: sess, URL: s.URL(sess)}, nil
}

// WithTx returns a service whose repository queries run inside tx. It
// shares the read cache with s.
func (s *Service) WithTx(tx *sql.Tx) *Service {
	c := *s
	c.repo = s.repo.WithTx(tx)
	return &c
}

// URL returns the QR link for sess.
func (s *Service) URL(sess Session) string {
	return BuildURL(s.baseURL, sess)
}

// Get returns a session by id through a short-lived cache.
func (s *Service) Get(ctx context.Context, id string) (Session, error) {
	if v, ok := s.cache.Get(id); ok {
		return v.(Session), nil
	}
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	s.cache.SetDefault(id, sess)
	return sess, nil
}

// GetCurrent reads a session from the database and refreshes the cache.
// Marking uses it so a session closed by another replica is seen at once.
func (s *Service) GetCurrent(ctx context.Context, id string) (Session, error) {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		s.cache.Delete(id)
		return Session{}, err
	}
	s.cache.SetDefault(id, sess)
	return sess, nil
}

// GetOwned returns a session the actor is allowed to manage.
func (s *Service) GetOwned(ctx context.Context, actor Actor, id string) (Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !actor.owns(sess.LecturerID) {
		return Session{}, ErrForbidden
	}
	return sess, nil
}

// Close ends a session early. Closing an already closed session is a no-op.
func (s *Service) Close(ctx context.Context, actor Actor, id string) (Session, error) {
	sess, err := s.GetOwned(ctx, actor, id)
	if err != nil {
		return Session{}, err
	}
	if err := s.repo.Deactivate(ctx, id, s.now()); err != nil {
		return Session{}, err
	}
	s.cache.Delete(id)
	if sess, err = s.repo.Get(ctx, id); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// ListForClass returns a class's sessions that started in [from, to), newest
// first. Zero bounds are open.
func (s *Service) ListForClass(ctx context.Context, classID string, from, to time.Time) ([]Session, error) {
	return s.repo.ListForClass(ctx, classID, from, to)
}

// ListForLecturer returns the sessions a lecturer issued, newest first.
func (s *Service) ListForLecturer(ctx context.Context, lecturerID string) ([]Session, error) {
	return s.repo.ListForLecturer(ctx, lecturerID, time.Time{}, time.Time{})
}

// Historical finds or creates an inactive session for imported attendance that started at start.
func (s *Service) Historical(ctx context.Context, class directory.Class, start time.Time) (Session, error) {
	start = start.UTC()
	sess, err := s.repo.FindByClassStart(ctx, class.ID, start)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Session{}, err
	}
	token, err := NewToken()
	if err != nil {
		return Session{}, err
	}
	return s.repo.Insert(ctx, Session{
		ClassID:    class.ID,
		LecturerID: class.LecturerID,
		StartTime:  start,
		EndTime:    start.Add(time.Duration(directory.DefaultSessionMinutes) * time.Minute),
		Token:      token,
		Active:     false,
		CreatedAt:  s.now().UTC(),
	})
}
