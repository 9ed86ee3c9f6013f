// Package services – FeedbackService
//
// This file implements the FeedbackService, which turns the transcript of a
// finished interview session into a scored Feedback record. It validates the
// transcript, asks the generative model for an evaluation constrained by the
// feedback schema, and persists the record together with the interview's
// feedback counter in a single transaction.
//
// CreateFeedback never returns an error: every failure, including a panic in
// a collaborator, is reported as Result{Success: false}. The read helpers
// (Latest, List, Get) return sentinel errors like the rest of the layer.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-interview-backend/internal/domain"
	"github.com/tbourn/go-interview-backend/internal/llm"
	"github.com/tbourn/go-interview-backend/internal/observability"
	"github.com/tbourn/go-interview-backend/internal/repo"
	"github.com/tbourn/go-interview-backend/internal/transcript"
)

// Result is the outcome of a core operation. Failures are values, not
// errors, so callers (the session machine, HTTP handlers) can branch on
// Success and show Message.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// ID is the created record (feedback or interview) on success.
	ID string `json:"id,omitempty"`
	// Replayed is set when an idempotency key matched an earlier success.
	Replayed bool `json:"-"`
	// Err carries the underlying cause of a failure for logging and errors.Is.
	Err error `json:"-"`
}

func failure(msg string, err error) Result {
	return Result{Success: false, Message: msg, Err: err}
}

// CreateFeedbackParams is the input of CreateFeedback.
type CreateFeedbackParams struct {
	InterviewID string
	UserID      string
	Transcript  []domain.TranscriptEntry
	// IdempotencyKey, when set, makes retries of the same submission return
	// the first result instead of scoring and counting again.
	IdempotencyKey string
}

// DefaultIdempotencyTTL is used when FeedbackService.IdempotencyTTL is zero.
const DefaultIdempotencyTTL = 24 * time.Hour

// FeedbackService derives and stores interview feedback.
type FeedbackService struct {
	// DB is the database handle used for all feedback operations.
	DB *gorm.DB
	// Model scores transcripts.
	Model llm.Model
	// IdempotencyTTL bounds how long an idempotency key is honored.
	IdempotencyTTL time.Duration
}

// evaluation mirrors the JSON document described by llm.FeedbackSchema.
type evaluation struct {
	TotalScore          int                    `json:"totalScore"`
	CategoryScores      []domain.CategoryScore `json:"categoryScores"`
	Strengths           []string               `json:"strengths"`
	AreasForImprovement []string               `json:"areasForImprovement"`
	FinalAssessment     string                 `json:"finalAssessment"`
}

// errReplay aborts the write transaction when a concurrent request with the
// same idempotency key committed first.
var errReplay = errors.New("idempotent replay")

// CreateFeedback scores the transcript of one attempt at an interview and
// persists the result.
//
// Steps:
//  1. Validate input (ids present, transcript non-empty, roles known).
//  2. Answer from a live idempotency record when the key was seen before.
//  3. Verify the interview exists.
//  4. Ask the model for an evaluation matching llm.FeedbackSchema.
//  5. In one transaction: insert the Feedback, increment feedbacks_num and
//     record the idempotency key.
//
// A failure at any step leaves the database unchanged.
func (s *FeedbackService) CreateFeedback(ctx context.Context, p CreateFeedbackParams) (res Result) {
	tr := otel.Tracer("services/FeedbackService")
	ctx, span := tr.Start(ctx, "CreateFeedback",
		observability.InterviewAttrs(p.InterviewID, p.UserID),
		trace.WithAttributes(attribute.Int("transcript.entries", len(p.Transcript))),
	)
	defer span.End()

	lg := log.Ctx(ctx).With().
		Str("interview_id", p.InterviewID).
		Str("user_id", p.UserID).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			lg.Error().Interface("panic", r).Msg("create feedback panicked")
			res = failure("Failed to create feedback", fmt.Errorf("panic: %v", r))
		}
		if res.Success {
			observability.FeedbackResults.WithLabelValues("created").Inc()
			return
		}
		observability.FeedbackResults.WithLabelValues("failed").Inc()
		span.SetStatus(codes.Error, res.Message)
		if res.Err != nil {
			span.RecordError(res.Err)
		}
		lg.Warn().Err(res.Err).Str("reason", res.Message).Msg("feedback not created")
	}()

	if err := validateFeedbackParams(p); err != nil {
		return failure(err.Error(), err)
	}

	key := strings.TrimSpace(p.IdempotencyKey)
	if key != "" {
		if r, ok := s.replay(ctx, p.UserID, p.InterviewID, key); ok {
			return r
		}
	}

	if _, err := repo.GetInterview(ctx, s.DB, p.InterviewID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return failure(ErrInterviewNotFound.Error(), ErrInterviewNotFound)
		}
		return failure("Failed to load interview", err)
	}

	ev, err := s.evaluate(ctx, p.Transcript)
	if err != nil {
		return failure("Failed to generate feedback", err)
	}

	fb := &domain.Feedback{
		InterviewID:         p.InterviewID,
		UserID:              p.UserID,
		TotalScore:          ev.TotalScore,
		CategoryScores:      ev.CategoryScores,
		Strengths:           nonNil(ev.Strengths),
		AreasForImprovement: nonNil(ev.AreasForImprovement),
		FinalAssessment:     strings.TrimSpace(ev.FinalAssessment),
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateFeedback(ctx, tx, fb); err != nil {
			return err
		}
		if err := repo.IncrementFeedbacksNum(ctx, tx, p.InterviewID); err != nil {
			return err
		}
		if key == "" {
			return nil
		}
		_, err := repo.CreateIdempotency(ctx, tx, p.UserID, p.InterviewID, key, fb.ID, http.StatusOK, s.ttl())
		if errors.Is(err, repo.ErrDuplicate) {
			return errReplay
		}
		return err
	})
	if errors.Is(err, errReplay) {
		if r, ok := s.replay(ctx, p.UserID, p.InterviewID, key); ok {
			return r
		}
		return failure("Failed to create feedback", err)
	}
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return failure(ErrInterviewNotFound.Error(), ErrInterviewNotFound)
		}
		return failure("Failed to save feedback", err)
	}

	span.SetAttributes(attribute.String("feedback.id", fb.ID), attribute.Int("feedback.total_score", fb.TotalScore))
	lg.Info().Str("feedback_id", fb.ID).Int("total_score", fb.TotalScore).Msg("feedback created")
	return Result{Success: true, Message: "Feedback created successfully", ID: fb.ID}
}

func validateFeedbackParams(p CreateFeedbackParams) error {
	if strings.TrimSpace(p.InterviewID) == "" || strings.TrimSpace(p.UserID) == "" {
		return ErrMissingField
	}
	if len(p.Transcript) == 0 {
		return ErrEmptyTranscript
	}
	for _, e := range p.Transcript {
		switch e.Role {
		case domain.RoleUser, domain.RoleAssistant, domain.RoleSystem:
		default:
			return fmt.Errorf("%w: role %q", ErrInvalidTranscript, e.Role)
		}
		if strings.TrimSpace(e.Content) == "" {
			return fmt.Errorf("%w: empty content", ErrInvalidTranscript)
		}
	}
	return nil
}

// evaluate asks the model for a scored evaluation and checks it against the
// feedback schema before decoding.
func (s *FeedbackService) evaluate(ctx context.Context, entries []domain.TranscriptEntry) (*evaluation, error) {
	if s.Model == nil {
		return nil, errors.New("no model configured")
	}
	doc, err := s.Model.GenerateObject(ctx, llm.ObjectRequest{
		System: llm.FeedbackSystem,
		Prompt: llm.FeedbackPrompt(transcript.Format(entries)),
		Schema: llm.FeedbackSchema,
	})
	if err != nil {
		return nil, err
	}
	if err := llm.FeedbackSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFeedback, err)
	}
	var ev evaluation
	if err := json.Unmarshal(doc, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFeedback, err)
	}
	return &ev, nil
}

// replay answers from a live idempotency record, if one exists.
func (s *FeedbackService) replay(ctx context.Context, userID, interviewID, key string) (Result, bool) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, interviewID, key, time.Now().UTC())
	if err != nil || rec == nil {
		return Result{}, false
	}
	return Result{Success: true, Message: "Feedback created successfully", ID: rec.FeedbackID, Replayed: true}, true
}

func (s *FeedbackService) ttl() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return DefaultIdempotencyTTL
}

// Latest returns the newest feedback userID received for interviewID.
func (s *FeedbackService) Latest(ctx context.Context, interviewID, userID string) (*domain.Feedback, error) {
	fb, err := repo.LatestFeedback(ctx, s.DB, interviewID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrFeedbackNotFound
	}
	return fb, err
}

// List returns every feedback userID received for interviewID, newest first.
// Unknown interviews yield ErrInterviewNotFound.
func (s *FeedbackService) List(ctx context.Context, interviewID, userID string) ([]domain.Feedback, error) {
	if _, err := repo.GetInterview(ctx, s.DB, interviewID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInterviewNotFound
		}
		return nil, err
	}
	return repo.ListFeedback(ctx, s.DB, interviewID, userID)
}

// Get returns one feedback record owned by userID.
func (s *FeedbackService) Get(ctx context.Context, id, userID string) (*domain.Feedback, error) {
	fb, err := repo.GetFeedback(ctx, s.DB, id, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrFeedbackNotFound
	}
	return fb, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
