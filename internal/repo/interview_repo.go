// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Interview
// model.
//
// Functions are context-aware and accept a *gorm.DB handle so they can run
// inside a transaction opened by the service layer. No business rules live
// here; validation and sanitization happen in services.
//
// Error semantics:
//   - Missing rows yield ErrNotFound (alias of gorm.ErrRecordNotFound).
//   - Any other DB error is propagated as-is.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-interview-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateInterview inserts iv. An empty ID is replaced with a fresh UUID and
// the feedback counter always starts at zero.
func CreateInterview(ctx context.Context, db *gorm.DB, iv *domain.Interview) error {
	if iv.ID == "" {
		iv.ID = uuid.NewString()
	}
	if iv.CreatedAt.IsZero() {
		iv.CreatedAt = time.Now().UTC()
	}
	iv.FeedbacksNum = 0
	return db.WithContext(ctx).Create(iv).Error
}

// GetInterview fetches one interview by id, or ErrNotFound.
func GetInterview(ctx context.Context, db *gorm.DB, id string) (*domain.Interview, error) {
	var iv domain.Interview
	if err := db.WithContext(ctx).Where("id = ?", id).First(&iv).Error; err != nil {
		return nil, err
	}
	return &iv, nil
}

// ListInterviewsByUser returns the user's interviews, newest first.
func ListInterviewsByUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Interview, error) {
	var out []domain.Interview
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// IncrementFeedbacksNum bumps the interview's feedback counter by one in a
// single UPDATE so concurrent callers never lose an increment. It returns
// ErrNotFound when no interview has the given id.
func IncrementFeedbacksNum(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Interview{}).
		Where("id = ?", id).
		UpdateColumn("feedbacks_num", gorm.Expr("feedbacks_num + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
