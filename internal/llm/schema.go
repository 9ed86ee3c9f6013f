package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is a JSON Schema document used to validate model output. Hint is
// an optional simpler schema sent to the provider when Source uses features
// providers do not accept (tuples, $ref, const). Source is compiled on first
// use.
type Schema struct {
	Name   string
	Source string
	Hint   string

	once     sync.Once
	compiled *gojsonschema.Schema
	err      error
}

// NewSchema wraps a JSON Schema source.
func NewSchema(name, source string) *Schema {
	return &Schema{Name: name, Source: source}
}

// ValidationError lists the schema violations of a document.
type ValidationError struct {
	Schema   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: schema validation failed: %s", e.Schema, strings.Join(e.Problems, "; "))
}

// Validate checks doc against the schema.
func (s *Schema) Validate(doc []byte) error {
	s.once.Do(func() {
		s.compiled, s.err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(s.Source))
	})
	if s.err != nil {
		return fmt.Errorf("%s: compile schema: %w", s.Name, s.err)
	}
	res, err := s.compiled.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%s: %w", s.Name, err)
	}
	if res.Valid() {
		return nil
	}
	verr := &ValidationError{Schema: s.Name}
	for _, e := range res.Errors() {
		verr.Problems = append(verr.Problems, e.String())
	}
	return verr
}

// node is the subset of JSON Schema the providers understand.
type node struct {
	Type        string           `json:"type"`
	Description string           `json:"description"`
	Properties  map[string]*node `json:"properties"`
	Required    []string         `json:"required"`
	Items       *node            `json:"items"`
	Enum        []string         `json:"enum"`
}

func (s *Schema) root() (*node, error) {
	src := s.Hint
	if src == "" {
		src = s.Source
	}
	var n node
	if err := json.Unmarshal([]byte(src), &n); err != nil {
		return nil, fmt.Errorf("%s: parse schema: %w", s.Name, err)
	}
	return &n, nil
}

// FeedbackSchema constrains the evaluation of an interview transcript. The
// category list is fixed: exactly the five names, in order.
var FeedbackSchema = &Schema{
	Name:   "feedback",
	Source: feedbackSource,
	Hint:   feedbackHint,
}

const feedbackSource = `{
  "type": "object",
  "properties": {
    "totalScore": {"type": "integer", "minimum": 0, "maximum": 100},
    "categoryScores": {
      "type": "array",
      "minItems": 5,
      "maxItems": 5,
      "items": [
        {"$ref": "#/definitions/communication"},
        {"$ref": "#/definitions/technical"},
        {"$ref": "#/definitions/problemSolving"},
        {"$ref": "#/definitions/culturalFit"},
        {"$ref": "#/definitions/confidence"}
      ],
      "additionalItems": false
    },
    "strengths": {"type": "array", "items": {"type": "string"}},
    "areasForImprovement": {"type": "array", "items": {"type": "string"}},
    "finalAssessment": {"type": "string"}
  },
  "required": ["totalScore", "categoryScores", "strengths", "areasForImprovement", "finalAssessment"],
  "definitions": {
    "communication":  {"allOf": [{"$ref": "#/definitions/category"}, {"properties": {"name": {"const": "Communication Skills"}}}]},
    "technical":      {"allOf": [{"$ref": "#/definitions/category"}, {"properties": {"name": {"const": "Technical Knowledge"}}}]},
    "problemSolving": {"allOf": [{"$ref": "#/definitions/category"}, {"properties": {"name": {"const": "Problem-Solving"}}}]},
    "culturalFit":    {"allOf": [{"$ref": "#/definitions/category"}, {"properties": {"name": {"const": "Cultural & Role Fit"}}}]},
    "confidence":     {"allOf": [{"$ref": "#/definitions/category"}, {"properties": {"name": {"const": "Confidence & Clarity"}}}]},
    "category": {
      "type": "object",
      "properties": {
        "name": {"type": "string"},
        "score": {"type": "integer", "minimum": 0, "maximum": 100},
        "comment": {"type": "string"}
      },
      "required": ["name", "score", "comment"]
    }
  }
}`

const feedbackHint = `{
  "type": "object",
  "properties": {
    "totalScore": {"type": "integer", "description": "Overall score from 0 to 100"},
    "categoryScores": {
      "type": "array",
      "description": "Exactly five entries, one per category, in the listed order",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string", "enum": ["Communication Skills", "Technical Knowledge", "Problem-Solving", "Cultural & Role Fit", "Confidence & Clarity"]},
          "score": {"type": "integer", "description": "Score from 0 to 100"},
          "comment": {"type": "string"}
        },
        "required": ["name", "score", "comment"]
      }
    },
    "strengths": {"type": "array", "items": {"type": "string"}},
    "areasForImprovement": {"type": "array", "items": {"type": "string"}},
    "finalAssessment": {"type": "string"}
  },
  "required": ["totalScore", "categoryScores", "strengths", "areasForImprovement", "finalAssessment"]
}`

// QuestionsSchema constrains a generated question list.
var QuestionsSchema = NewSchema("questions", `{
  "type": "array",
  "minItems": 1,
  "items": {"type": "string", "minLength": 1}
}`)

// Tree returns the provider-facing schema as a Node tree, for provider
// clients to translate into their own representation.
func (s *Schema) Tree() (*Node, error) {
	n, err := s.root()
	if err != nil {
		return nil, err
	}
	return export(n), nil
}

// Node is an exported view of the provider-facing schema.
type Node struct {
	Type        string
	Description string
	Properties  map[string]*Node
	Required    []string
	Items       *Node
	Enum        []string
}

func export(n *node) *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		Type:        n.Type,
		Description: n.Description,
		Required:    n.Required,
		Enum:        n.Enum,
		Items:       export(n.Items),
	}
	if len(n.Properties) > 0 {
		out.Properties = make(map[string]*Node, len(n.Properties))
		for k, v := range n.Properties {
			out.Properties[k] = export(v)
		}
	}
	return out
}
