// Package llm defines the generative model contract used by the services
// layer, the prompts and output schemas of the interview domain, and a
// Gemini-backed implementation.
package llm

import (
	"context"
	"strings"
)

// Model is a generative text model.
type Model interface {
	// GenerateText returns a free-text completion for prompt.
	GenerateText(ctx context.Context, prompt string) (string, error)
	// GenerateObject returns a JSON document for prompt constrained to schema.
	// The document is validated against schema before it is returned.
	GenerateObject(ctx context.Context, req ObjectRequest) ([]byte, error)
}

// ObjectRequest is a structured completion request.
type ObjectRequest struct {
	System string
	Prompt string
	Schema *Schema
}

// ProviderError is a failure reported by, or while talking to, a model
// provider.
type ProviderError struct {
	Provider string
	Code     string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Provider + " error: " + e.Message + " (" + e.Err.Error() + ")"
	}
	return e.Provider + " error: " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Provider error codes.
const (
	ErrCodeAPIKey       = "invalid_api_key"
	ErrCodeRateLimit    = "rate_limit_exceeded"
	ErrCodeServiceDown  = "service_unavailable"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeBadOutput    = "invalid_output"
	ErrCodeTimeout      = "timeout"
)

// StripCodeFence removes a surrounding Markdown code fence (``` or ```json)
// that models commonly wrap JSON answers in. Text without a fence is returned
// trimmed.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the info string ("json") on the opening line
		if !strings.ContainsAny(s[:nl], "[{\"") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
