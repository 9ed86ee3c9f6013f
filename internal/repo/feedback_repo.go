// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Feedback
// model.
//
// Feedback rows are immutable: there is no update path. An interview may
// hold many rows; readers treat the newest one as the active evaluation.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-interview-backend/internal/domain"
)

// CreateFeedback inserts fb, assigning an ID and UTC timestamp when unset.
// Score range violations surface as the CHECK constraint error.
func CreateFeedback(ctx context.Context, db *gorm.DB, fb *domain.Feedback) error {
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Omit("Interview").Create(fb).Error
}

// GetFeedback fetches one feedback row owned by userID, or ErrNotFound.
func GetFeedback(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Feedback, error) {
	var fb domain.Feedback
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&fb).Error
	if err != nil {
		return nil, err
	}
	return &fb, nil
}

// LatestFeedback returns the newest feedback the user has for interviewID,
// or ErrNotFound when none exists.
func LatestFeedback(ctx context.Context, db *gorm.DB, interviewID, userID string) (*domain.Feedback, error) {
	var fb domain.Feedback
	err := db.WithContext(ctx).
		Where("interview_id = ? AND user_id = ?", interviewID, userID).
		Order("created_at desc").
		Limit(1).
		First(&fb).Error
	if err != nil {
		return nil, err
	}
	return &fb, nil
}

// ListFeedback returns every feedback the user has for interviewID, newest
// first. An empty slice means the interview has not been scored yet.
func ListFeedback(ctx context.Context, db *gorm.DB, interviewID, userID string) ([]domain.Feedback, error) {
	var out []domain.Feedback
	err := db.WithContext(ctx).
		Where("interview_id = ? AND user_id = ?", interviewID, userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// CountFeedback returns how many feedback rows exist for interviewID.
func CountFeedback(ctx context.Context, db *gorm.DB, interviewID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Feedback{}).
		Where("interview_id = ?", interviewID).
		Count(&n).Error
	return n, err
}
