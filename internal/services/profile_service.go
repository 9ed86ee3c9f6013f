package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-interview-backend/internal/domain"
	"github.com/tbourn/go-interview-backend/internal/repo"
	"github.com/tbourn/go-interview-backend/internal/textnorm"
)

// ErrResumeTooLong is returned when a resume exceeds ProfileService.MaxResumeRunes.
var ErrResumeTooLong = errors.New("resume too long")

// ProfileParams is the editable part of a user profile.
type ProfileParams struct {
	Name       string
	Email      string
	Resume     string
	ProfilePic string
}

// ProfileService stores the profile fields interview generation reads.
type ProfileService struct {
	DB *gorm.DB
	// MaxResumeRunes rejects larger resumes at write time. <= 0 disables.
	MaxResumeRunes int
}

// Upsert creates or replaces the profile of userID. The resume is stored
// sanitized so that every later read sees the same text.
func (s *ProfileService) Upsert(ctx context.Context, userID string, p ProfileParams) (*domain.User, error) {
	userID = strings.TrimSpace(userID)
	name := strings.TrimSpace(p.Name)
	if userID == "" || name == "" {
		return nil, ErrMissingField
	}
	resume := textnorm.Sanitize(p.Resume)
	if s.MaxResumeRunes > 0 && utf8.RuneCountInString(resume) > s.MaxResumeRunes {
		return nil, fmt.Errorf("%w: max %d runes", ErrResumeTooLong, s.MaxResumeRunes)
	}
	u := &domain.User{
		ID:         userID,
		Name:       name,
		Email:      strings.TrimSpace(p.Email),
		Resume:     resume,
		ProfilePic: strings.TrimSpace(p.ProfilePic),
	}
	if err := repo.UpsertUser(ctx, s.DB, u); err != nil {
		return nil, err
	}
	return repo.GetUser(ctx, s.DB, userID)
}

// Get returns the profile of userID.
func (s *ProfileService) Get(ctx context.Context, userID string) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}
