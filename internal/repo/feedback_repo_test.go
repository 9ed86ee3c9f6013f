package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-interview-backend/internal/domain"
)

func sampleScores() []domain.CategoryScore {
	out := make([]domain.CategoryScore, 0, len(domain.FeedbackCategories))
	for _, name := range domain.FeedbackCategories {
		out = append(out, domain.CategoryScore{Name: name, Score: 70, Comment: "ok"})
	}
	return out
}

func TestCreateFeedback_Error_NoTable(t *testing.T) {
	db := newTestDB(t)
	err := CreateFeedback(context.Background(), db, &domain.Feedback{InterviewID: "i1", UserID: "u1"})
	if err == nil {
		t.Fatalf("expected error when feedback table is missing")
	}
}

func TestCreateFeedback_InsertsRow(t *testing.T) {
	db := newTestDB(t, &domain.Interview{}, &domain.Feedback{})
	ctx := context.Background()
	seedInterview(t, db, "i1", "u1", time.Now().UTC())
	start := time.Now().UTC()

	fb := &domain.Feedback{
		InterviewID:         "i1",
		UserID:              "u1",
		TotalScore:          72,
		CategoryScores:      sampleScores(),
		Strengths:           []string{"clear answers"},
		AreasForImprovement: []string{"depth on databases"},
		FinalAssessment:     "Solid.",
	}
	if err := CreateFeedback(ctx, db, fb); err != nil {
		t.Fatalf("CreateFeedback: %v", err)
	}
	if fb.ID == "" || fb.CreatedAt.Before(start.Add(-time.Minute)) {
		t.Fatalf("ID/CreatedAt not set: %+v", fb)
	}

	got, err := GetFeedback(ctx, db, fb.ID, "u1")
	if err != nil {
		t.Fatalf("GetFeedback: %v", err)
	}
	if got.TotalScore != 72 || len(got.CategoryScores) != 5 || got.CategoryScores[3].Name != "Cultural & Role Fit" {
		t.Fatalf("unexpected row: %+v", got)
	}

	// Seeded interview must not be re-saved through the association.
	var n int64
	db.Model(&domain.Interview{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected exactly one interview row, got %d", n)
	}
}

func TestGetFeedback_WrongOwner(t *testing.T) {
	db := newTestDB(t, &domain.Interview{}, &domain.Feedback{})
	ctx := context.Background()
	seedInterview(t, db, "i1", "u1", time.Now().UTC())
	fb := &domain.Feedback{InterviewID: "i1", UserID: "u1", TotalScore: 1}
	if err := CreateFeedback(ctx, db, fb); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := GetFeedback(ctx, db, fb.ID, "intruder"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestAndListFeedback_NewestFirst(t *testing.T) {
	db := newTestDB(t, &domain.Interview{}, &domain.Feedback{})
	ctx := context.Background()
	seedInterview(t, db, "i1", "u1", time.Now().UTC())

	if _, err := LatestFeedback(ctx, db, "i1", "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any feedback, got %v", err)
	}

	base := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	for i, score := range []int{40, 90, 65} {
		fb := &domain.Feedback{
			ID:          []string{"a", "b", "c"}[i],
			InterviewID: "i1",
			UserID:      "u1",
			TotalScore:  score,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := CreateFeedback(ctx, db, fb); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	latest, err := LatestFeedback(ctx, db, "i1", "u1")
	if err != nil {
		t.Fatalf("LatestFeedback: %v", err)
	}
	if latest.ID != "c" || latest.TotalScore != 65 {
		t.Fatalf("expected newest row c, got %+v", latest)
	}

	all, err := ListFeedback(ctx, db, "i1", "u1")
	if err != nil {
		t.Fatalf("ListFeedback: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("unexpected order: %+v", all)
	}

	n, err := CountFeedback(ctx, db, "i1")
	if err != nil || n != 3 {
		t.Fatalf("CountFeedback = %d, %v", n, err)
	}
}

func TestCreateFeedback_ScoreOutOfRangeRejected(t *testing.T) {
	db := newTestDB(t, &domain.Interview{}, &domain.Feedback{})
	seedInterview(t, db, "i1", "u1", time.Now().UTC())
	err := CreateFeedback(context.Background(), db, &domain.Feedback{InterviewID: "i1", UserID: "u1", TotalScore: 101})
	if err == nil {
		t.Fatalf("expected CHECK violation for total_score 101")
	}
}
