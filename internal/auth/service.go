package auth

import (
	"context"
	"errors"
	"fmt"

	"qrattend/internal/directory"
)

// Users authenticates credentials and loads accounts.
type Users interface {
	Authenticate(ctx context.Context, email, password string) (directory.User, error)
	GetUser(ctx context.Context, id string) (directory.User, error)
}

// Service logs users in and rotates refresh tokens.
type Service struct {
	users  Users
	tokens *Issuer
	repo   *Repository
}

// NewService creates an auth service.
func NewService(users Users, tokens *Issuer, repo *Repository) *Service {
	return &Service{users: users, tokens: tokens, repo: repo}
}

// Login checks credentials and returns a fresh token pair.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, directory.User, error) {
	u, err := s.users.Authenticate(ctx, email, password)
	if err != nil {
		return TokenPair{}, directory.User{}, err
	}
	pair, err := s.issue(ctx, u)
	return pair, u, err
}

// Refresh revokes refreshToken and issues a new pair. A token can be used once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.tokens.Parse(refreshToken, TypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	live, err := s.repo.ConsumeRefreshToken(ctx, refreshToken, s.tokens.now())
	if err != nil {
		return TokenPair{}, fmt.Errorf("consume refresh token: %w", err)
	}
	if !live {
		return TokenPair{}, ErrInvalidToken
	}
	u, err := s.users.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	return s.issue(ctx, u)
}

// Logout revokes a refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.repo.RevokeRefreshToken(ctx, refreshToken)
}

func (s *Service) issue(ctx context.Context, u directory.User) (TokenPair, error) {
	pair, err := s.tokens.Issue(u.ID, string(u.Role))
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign tokens: %w", err)
	}
	if err := s.repo.SaveRefreshToken(ctx, u.ID, pair.RefreshToken, pair.RefreshExp, s.tokens.now()); err != nil {
		return TokenPair{}, fmt.Errorf("save refresh token: %w", err)
	}
	return pair, nil
}
