// Package gemini implements llm.Model on Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/tbourn/go-interview-backend/internal/llm"
	"github.com/tbourn/go-interview-backend/internal/observability"
)

const provider = "gemini"

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.0-flash-001"

// Config holds Gemini settings.
type Config struct {
	APIKey string
	Model  string
	// Timeout bounds one request. Zero leaves the caller's deadline in charge.
	Timeout time.Duration
}

// generator is the slice of *genai.Models the client uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client is a Gemini-backed llm.Model.
type Client struct {
	models generator
	cfg    Config
}

var _ llm.Model = (*Client)(nil)

// NewClient connects to the Gemini API with cfg.APIKey.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &llm.ProviderError{Provider: provider, Code: llm.ErrCodeAPIKey, Message: "API key is required"}
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &llm.ProviderError{
			Provider: provider,
			Code:     llm.ErrCodeAPIKey,
			Message:  "failed to create Gemini client",
			Err:      err,
		}
	}
	return &Client{models: c.Models, cfg: cfg}, nil
}

// GenerateText returns the model's free-text answer to prompt.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, "text", genai.Text(prompt), nil)
}

// GenerateObject asks for a JSON document matching req.Schema and validates
// it before returning.
func (c *Client) GenerateObject(ctx context.Context, req llm.ObjectRequest) ([]byte, error) {
	if req.Schema == nil {
		return nil, &llm.ProviderError{Provider: provider, Code: llm.ErrCodeInvalidInput, Message: "schema is required"}
	}
	tree, err := req.Schema.Tree()
	if err != nil {
		return nil, &llm.ProviderError{Provider: provider, Code: llm.ErrCodeInvalidInput, Message: "invalid schema", Err: err}
	}
	gc := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   toGenai(tree),
	}
	if req.System != "" {
		gc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	text, err := c.generate(ctx, "object", genai.Text(req.Prompt), gc)
	if err != nil {
		return nil, err
	}
	doc := []byte(llm.StripCodeFence(text))
	if err := req.Schema.Validate(doc); err != nil {
		return nil, &llm.ProviderError{Provider: provider, Code: llm.ErrCodeBadOutput, Message: "response does not match schema", Err: err}
	}
	return doc, nil
}

func (c *Client) generate(ctx context.Context, op string, contents []*genai.Content, gc *genai.GenerateContentConfig) (string, error) {
	ctx, span := otel.Tracer("llm/gemini").Start(ctx, "GenerateContent",
		trace.WithAttributes(
			attribute.String("llm.model", c.cfg.Model),
			attribute.String("llm.operation", op),
		),
	)
	defer span.End()

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := c.models.GenerateContent(ctx, c.cfg.Model, contents, gc)
	observability.ModelLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		code := llm.ErrCodeServiceDown
		if errors.Is(err, context.DeadlineExceeded) {
			code = llm.ErrCodeTimeout
		}
		return "", &llm.ProviderError{Provider: provider, Code: code, Message: "failed to generate content", Err: err}
	}
	if result == nil {
		return "", &llm.ProviderError{Provider: provider, Code: llm.ErrCodeBadOutput, Message: "no response generated"}
	}
	text, err := result.Text()
	if err != nil {
		return "", &llm.ProviderError{Provider: provider, Code: llm.ErrCodeBadOutput, Message: "failed to extract response text", Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return "", &llm.ProviderError{Provider: provider, Code: llm.ErrCodeBadOutput, Message: "empty response generated"}
	}
	return text, nil
}

func toGenai(n *llm.Node) *genai.Schema {
	if n == nil {
		return nil
	}
	s := &genai.Schema{
		Type:        genaiType(n.Type),
		Description: n.Description,
		Enum:        n.Enum,
		Required:    n.Required,
		Items:       toGenai(n.Items),
	}
	if len(n.Properties) > 0 {
		s.Properties = make(map[string]*genai.Schema, len(n.Properties))
		for k, v := range n.Properties {
			s.Properties[k] = toGenai(v)
		}
	}
	return s
}

func genaiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
