// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries the HTTP layer
// uses to build weak ETags for list endpoints.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-interview-backend/internal/domain"
)

// InterviewsStats returns the number of interviews owned by userID, the
// sum of their feedback counters and the newest UpdatedAt (nil when the user
// has none). The counter sum changes whenever any interview gains feedback,
// which UpdateColumn does not reflect in updated_at.
func InterviewsStats(ctx context.Context, db *gorm.DB, userID string) (count, feedbacks int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Interview{}).Where("user_id = ?", userID)

	var agg struct {
		N int64
		F int64
	}
	if err = q.Select("COUNT(*) AS n, COALESCE(SUM(feedbacks_num), 0) AS f").Scan(&agg).Error; err != nil {
		return 0, 0, nil, err
	}
	if agg.N == 0 {
		return 0, 0, nil, nil
	}

	// Avoid MAX() here: SQLite returns it as TEXT.
	var row struct {
		UpdatedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Interview{}).
		Where("user_id = ?", userID).
		Select("updated_at").Order("updated_at DESC").Limit(1).
		Scan(&row).Error; err != nil {
		return 0, 0, nil, err
	}
	return agg.N, agg.F, &row.UpdatedAt, nil
}

// FeedbackStats returns the number of feedback rows the user has for
// interviewID and the newest CreatedAt (nil when there are none).
func FeedbackStats(ctx context.Context, db *gorm.DB, interviewID, userID string) (count int64, maxCreatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Feedback{}).
		Where("interview_id = ? AND user_id = ?", interviewID, userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		CreatedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Feedback{}).
		Where("interview_id = ? AND user_id = ?", interviewID, userID).
		Select("created_at").Order("created_at DESC").Limit(1).
		Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
