// Package member keeps the registry of congregation members owned by a user.
package member

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"gracelog/internal/metrics"
)

var (
	// ErrBlankField is returned when name or email is empty after trimming.
	ErrBlankField = errors.New("name and email are required")
	ErrNotFound   = errors.New("member not found")
)

// Member is a tracked individual eligible for attendance records.
type Member struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence the registry needs. *Repository implements it.
type Store interface {
	InsertMember(ctx context.Context, m Member) (Member, error)
	ListMembers(ctx context.Context, userID string) ([]Member, error)
	DeleteMember(ctx context.Context, userID, id string) error
}

// Service validates registry input before it reaches the store.
type Service struct {
	repo    Store
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService creates a registry backed by repo. m may be nil.
func NewService(repo Store, m *metrics.Metrics) *Service {
	return &Service{repo: repo, metrics: m, now: time.Now}
}

// List returns the user's members, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Member, error) {
	if userID == "" {
		return nil, errors.New("user id required")
	}
	members, err := s.repo.ListMembers(ctx, userID)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []Member{}
	}
	return members, nil
}

// Add registers a member. Blank input is rejected without touching the store.
func (s *Service) Add(ctx context.Context, userID, name, email string) (Member, error) {
	if userID == "" {
		return Member{}, errors.New("user id required")
	}
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	if name == "" || email == "" {
		return Member{}, ErrBlankField
	}
	m, err := s.repo.InsertMember(ctx, Member{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Email:     email,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return Member{}, err
	}
	s.metrics.MemberAdded()
	return m, nil
}

// Delete removes a member and, through the foreign key, its attendance records.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if userID == "" || id == "" {
		return ErrNotFound
	}
	if err := s.repo.DeleteMember(ctx, userID, id); err != nil {
		return err
	}
	s.metrics.MemberDeleted()
	return nil
}
