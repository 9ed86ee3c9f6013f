// Package services – InterviewService
//
// This file implements interview generation: the user's stored resume and the
// supplied job description are normalized, trimmed to a prompt budget and
// turned into an ordered question list by the generative model. The optional
// company logo is uploaded before the interview row is written, so a stored
// interview never points at a logo that failed to upload.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-interview-backend/internal/domain"
	"github.com/tbourn/go-interview-backend/internal/llm"
	"github.com/tbourn/go-interview-backend/internal/observability"
	"github.com/tbourn/go-interview-backend/internal/repo"
	"github.com/tbourn/go-interview-backend/internal/search"
	"github.com/tbourn/go-interview-backend/internal/storage"
	"github.com/tbourn/go-interview-backend/internal/textnorm"
)

// Question count bounds for a generated interview.
const (
	MinQuestions = 1
	MaxQuestions = 20
)

// GenerateInterviewParams is the input of GenerateInterview.
type GenerateInterviewParams struct {
	UserID      string
	CompanyName string
	// CompanyLogo is an optional data URL or base64 image.
	CompanyLogo    string
	Role           string
	Level          string
	Type           string
	Techstack      []string
	Amount         int
	JobDescription string
}

// InterviewService generates and reads interviews.
type InterviewService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Model writes the questions.
	Model llm.Model
	// Uploader stores company logos; nil behaves like storage.Disabled.
	Uploader storage.Uploader

	// MaxResumeRunes caps the resume text placed in the prompt. The most
	// relevant paragraphs to the job description are kept. <= 0 disables.
	MaxResumeRunes int
	// RoleLocale title-cases the stored role ("backend engineer" becomes
	// "Backend Engineer"). language.Und leaves the role as typed.
	RoleLocale language.Tag
}

// GenerateInterview creates an interview for p.UserID.
//
// Steps:
//  1. Validate level, type, amount and required fields.
//  2. Load the user's resume (a missing user is a failure).
//  3. Sanitize resume and job description; trim the resume to the budget.
//  4. Ask the model for exactly p.Amount questions as a JSON array.
//  5. Upload the logo, if any.
//  6. Persist the interview with feedbacks_num = 0.
//
// Like CreateFeedback it never returns an error; failures are Results.
func (s *InterviewService) GenerateInterview(ctx context.Context, p GenerateInterviewParams) (res Result) {
	tr := otel.Tracer("services/InterviewService")
	ctx, span := tr.Start(ctx, "GenerateInterview",
		trace.WithAttributes(
			attribute.String("interview.level", p.Level),
			attribute.String("interview.type", p.Type),
			attribute.Int("interview.amount", p.Amount),
		),
	)
	defer span.End()

	lg := log.Ctx(ctx).With().Str("user_id", p.UserID).Logger()

	defer func() {
		if r := recover(); r != nil {
			lg.Error().Interface("panic", r).Msg("generate interview panicked")
			res = failure("Failed to generate interview", fmt.Errorf("panic: %v", r))
		}
		if res.Success {
			observability.GenerationResults.WithLabelValues("created").Inc()
			return
		}
		observability.GenerationResults.WithLabelValues("failed").Inc()
		span.SetStatus(codes.Error, res.Message)
		if res.Err != nil {
			span.RecordError(res.Err)
		}
		lg.Warn().Err(res.Err).Str("reason", res.Message).Msg("interview not generated")
	}()

	level, typ, err := validateGenerateParams(p)
	if err != nil {
		return failure(err.Error(), err)
	}

	user, err := repo.GetUser(ctx, s.DB, p.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return failure(ErrUserNotFound.Error(), ErrUserNotFound)
		}
		return failure("Failed to load user", err)
	}

	jobDescription := textnorm.Sanitize(p.JobDescription)
	if jobDescription == "" {
		return failure("job description is required", ErrMissingField)
	}
	resume := search.Excerpt(textnorm.Sanitize(user.Resume), jobDescription+" "+p.Role, s.MaxResumeRunes)
	techstack := cleanList(p.Techstack)
	role := strings.TrimSpace(p.Role)
	if s.RoleLocale != language.Und {
		role = cases.Title(s.RoleLocale, cases.NoLower).String(role)
	}

	questions, err := s.questions(ctx, llm.QuestionsInput{
		Resume:         resume,
		JobDescription: jobDescription,
		Role:           role,
		Level:          level,
		Type:           typ,
		Techstack:      techstack,
		Amount:         p.Amount,
	})
	if err != nil {
		return failure("Failed to generate questions", err)
	}

	logoURL := ""
	if logo := strings.TrimSpace(p.CompanyLogo); logo != "" {
		up := s.Uploader
		if up == nil {
			up = storage.Disabled{}
		}
		u, err := up.Upload(ctx, logo)
		if err != nil {
			return failure(ErrLogoUpload.Error(), fmt.Errorf("%w: %v", ErrLogoUpload, err))
		}
		logoURL = u.SecureURL
	}

	iv := &domain.Interview{
		UserID:         p.UserID,
		CompanyName:    strings.TrimSpace(p.CompanyName),
		CompanyLogo:    logoURL,
		Role:           role,
		Level:          level,
		Type:           typ,
		Techstack:      techstack,
		JobDescription: jobDescription,
		Questions:      questions,
	}
	if err := repo.CreateInterview(ctx, s.DB, iv); err != nil {
		return failure("Failed to save interview", err)
	}

	span.SetAttributes(attribute.String("interview.id", iv.ID))
	lg.Info().Str("interview_id", iv.ID).Int("questions", len(questions)).Msg("interview generated")
	return Result{Success: true, Message: "Interview generated successfully", ID: iv.ID}
}

func validateGenerateParams(p GenerateInterviewParams) (domain.Level, domain.InterviewType, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return "", "", fmt.Errorf("%w: user id", ErrMissingField)
	}
	if strings.TrimSpace(p.CompanyName) == "" {
		return "", "", fmt.Errorf("%w: company name", ErrMissingField)
	}
	if strings.TrimSpace(p.Role) == "" {
		return "", "", fmt.Errorf("%w: role", ErrMissingField)
	}
	level, ok := domain.ParseLevel(p.Level)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidLevel, p.Level)
	}
	typ, ok := domain.ParseInterviewType(p.Type)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidType, p.Type)
	}
	if p.Amount < MinQuestions || p.Amount > MaxQuestions {
		return "", "", fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidAmount, p.Amount, MinQuestions, MaxQuestions)
	}
	return level, typ, nil
}

// questions calls the model and parses its answer into exactly in.Amount
// questions. Code fences are tolerated; anything else that is not a JSON
// array of non-empty strings is rejected.
func (s *InterviewService) questions(ctx context.Context, in llm.QuestionsInput) ([]string, error) {
	if s.Model == nil {
		return nil, errors.New("no model configured")
	}
	text, err := s.Model.GenerateText(ctx, llm.QuestionsPrompt(in))
	if err != nil {
		return nil, err
	}
	doc := []byte(llm.StripCodeFence(text))
	if err := llm.QuestionsSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuestions, err)
	}
	var qs []string
	if err := json.Unmarshal(doc, &qs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuestions, err)
	}
	for i, q := range qs {
		qs[i] = strings.TrimSpace(q)
		if qs[i] == "" {
			return nil, fmt.Errorf("%w: blank question at %d", ErrMalformedQuestions, i)
		}
	}
	if len(qs) != in.Amount {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrQuestionCount, len(qs), in.Amount)
	}
	return qs, nil
}

// Get returns the interview with id.
func (s *InterviewService) Get(ctx context.Context, id string) (*domain.Interview, error) {
	iv, err := repo.GetInterview(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrInterviewNotFound
	}
	return iv, err
}

// ListByUser returns the user's interviews, newest first.
func (s *InterviewService) ListByUser(ctx context.Context, userID string) ([]domain.Interview, error) {
	return repo.ListInterviewsByUser(ctx, s.DB, userID)
}

// cleanList trims entries, drops blanks and removes case-insensitive
// duplicates while keeping the first spelling and order.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		k := strings.ToLower(v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}
