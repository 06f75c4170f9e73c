package notification

import (
	"context"
)

// Service exposes a user's notification inbox.
type Service struct {
	repo *Repository
}

// NewService creates a service backed by a repository.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Notify stores notifications for their recipients.
func (s *Service) Notify(ctx context.Context, items ...Notification) error {
	if len(items) == 0 {
		return nil
	}
	_, err := s.repo.InsertMany(ctx, items)
	return err
}

// Inbox lists a user's notifications and their unread count.
func (s *Service) Inbox(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, int, error) {
	items, err := s.repo.ListForUser(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, 0, err
	}
	unread, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []Notification{}
	}
	return items, unread, nil
}

// MarkRead flags a notification as read.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	return s.repo.MarkRead(ctx, userID, id)
}

// MarkAllRead flags all of a user's notifications as read.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}

// Delete removes a notification.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.repo.Delete(ctx, userID, id)
}
