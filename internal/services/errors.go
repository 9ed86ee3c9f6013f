// Package services defines the business logic for interviews, feedback and
// user profiles. This file centralizes the service-level error values so that
// they can be returned consistently and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Interview-related errors.
var (
	// ErrInterviewNotFound indicates that the requested interview does not
	// exist.
	ErrInterviewNotFound = errors.New("interview not found")

	// ErrUserNotFound is returned when the acting user has no stored profile.
	ErrUserNotFound = errors.New("user not found")

	// ErrMissingField is returned when a required input is blank.
	ErrMissingField = errors.New("missing required field")

	// ErrInvalidLevel is returned for a level outside the known set.
	ErrInvalidLevel = errors.New("invalid level")

	// ErrInvalidType is returned for an interview type outside the known set.
	ErrInvalidType = errors.New("invalid interview type")

	// ErrInvalidAmount is returned when the question count is out of range.
	ErrInvalidAmount = errors.New("invalid question amount")

	// ErrMalformedQuestions is returned when the model output is not a JSON
	// array of non-empty strings.
	ErrMalformedQuestions = errors.New("model returned malformed questions")

	// ErrQuestionCount is returned when the model produced a different number
	// of questions than requested.
	ErrQuestionCount = errors.New("model returned the wrong number of questions")

	// ErrLogoUpload is returned when the company logo could not be stored.
	ErrLogoUpload = errors.New("logo upload failed")
)

// Feedback-related errors.
var (
	// ErrEmptyTranscript is returned when there is nothing to evaluate.
	ErrEmptyTranscript = errors.New("transcript is empty")

	// ErrInvalidTranscript is returned for an entry with an unknown role or
	// blank content.
	ErrInvalidTranscript = errors.New("transcript entry is invalid")

	// ErrMalformedFeedback is returned when the model output does not match
	// the feedback schema.
	ErrMalformedFeedback = errors.New("model returned malformed feedback")

	// ErrFeedbackNotFound indicates that no feedback matches the lookup.
	ErrFeedbackNotFound = errors.New("feedback not found")
)
