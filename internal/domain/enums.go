package domain

import "strings"

// Level is the seniority an interview targets.
type Level string

const (
	LevelIntern       Level = "intern"
	LevelJunior       Level = "junior"
	LevelIntermediate Level = "intermediate"
	LevelSenior       Level = "senior"
	LevelLead         Level = "lead"
)

// ParseLevel normalizes s and reports whether it names a known level.
func ParseLevel(s string) (Level, bool) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelIntern, LevelJunior, LevelIntermediate, LevelSenior, LevelLead:
		return l, true
	}
	return "", false
}

// InterviewType is the balance between behavioral and technical questions.
type InterviewType string

const (
	TypeBehavioral InterviewType = "behavioral"
	TypeTechnical  InterviewType = "technical"
	TypeMixed      InterviewType = "mixed"
)

// ParseInterviewType normalizes s and reports whether it names a known type.
// The British spelling "behavioural" is accepted.
func ParseInterviewType(s string) (InterviewType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "behavioural" {
		s = string(TypeBehavioral)
	}
	switch t := InterviewType(s); t {
	case TypeBehavioral, TypeTechnical, TypeMixed:
		return t, true
	}
	return "", false
}

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// FeedbackCategories is the fixed, ordered set of categories every Feedback
// is scored on. Derivation never adds or removes entries.
var FeedbackCategories = [...]string{
	"Communication Skills",
	"Technical Knowledge",
	"Problem-Solving",
	"Cultural & Role Fit",
	"Confidence & Clarity",
}
