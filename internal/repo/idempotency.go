// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores idempotency records so a retried feedback
// submission is answered from the first attempt instead of scoring again.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-interview-backend/internal/domain"
)

// ErrDuplicate indicates a record already exists for the
// (user_id, interview_id, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns the live record for the tuple, or ErrNotFound when
// it is missing or expired at now.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, interviewID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(interviewID) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND interview_id = ? AND key = ? AND expires_at > ?", userID, interviewID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency records that key produced feedbackID with the given
// HTTP status. It returns ErrDuplicate on a unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID, interviewID, key, feedbackID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:          uuid.NewString(),
		UserID:      userID,
		InterviewID: interviewID,
		Key:         key,
		FeedbackID:  feedbackID,
		Status:      status,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredIdempotency deletes records that expired before now and returns
// how many were removed.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// glebarez/sqlite reports UNIQUE violations as plain text.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
