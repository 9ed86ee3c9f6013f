package llm

import (
	"fmt"
	"strings"

	"github.com/tbourn/go-interview-backend/internal/domain"
)

// FeedbackSystem is the system instruction for transcript evaluation.
const FeedbackSystem = "You are a professional interviewer analyzing a mock interview. " +
	"Your task is to evaluate the candidate based on structured categories."

var categoryGuidance = map[string]string{
	"Communication Skills": "Clarity, articulation, structured responses.",
	"Technical Knowledge":  "Understanding of key concepts for the role.",
	"Problem-Solving":      "Ability to analyze problems and propose solutions.",
	"Cultural & Role Fit":  "Alignment with company values and job role.",
	"Confidence & Clarity": "Confidence in responses, engagement, and clarity.",
}

// FeedbackPrompt builds the evaluation prompt around a formatted transcript
// (see transcript.Format).
func FeedbackPrompt(formattedTranscript string) string {
	var b strings.Builder
	b.WriteString("You are an AI interviewer analyzing a mock interview. Your task is to evaluate the candidate based on structured categories. ")
	b.WriteString("Be thorough and detailed in your analysis. Don't be lenient with the candidate. ")
	b.WriteString("If there are mistakes or areas for improvement, point them out.\n")
	b.WriteString("Transcript:\n")
	b.WriteString(formattedTranscript)
	b.WriteString("\nPlease score the candidate from 0 to 100 in the following areas. Do not add categories other than the ones provided:\n")
	for _, name := range domain.FeedbackCategories {
		fmt.Fprintf(&b, "- **%s**: %s\n", name, categoryGuidance[name])
	}
	return b.String()
}

// QuestionsInput is what the question prompt is built from. Resume and
// JobDescription are expected to be sanitized already.
type QuestionsInput struct {
	Resume         string
	JobDescription string
	Role           string
	Level          domain.Level
	Type           domain.InterviewType
	Techstack      []string
	Amount         int
}

// QuestionsPrompt builds the interview question generation prompt. The
// questions are read aloud by a voice assistant, so the model is told to
// avoid characters that break speech synthesis.
func QuestionsPrompt(in QuestionsInput) string {
	var b strings.Builder
	b.WriteString("Prepare questions for a job interview using candidate's resume, company job description and additional information below.\n")
	fmt.Fprintf(&b, "Resume: %s\n", in.Resume)
	fmt.Fprintf(&b, "Job description: %s\n", in.JobDescription)
	fmt.Fprintf(&b, "The job role is %s.\n", in.Role)
	fmt.Fprintf(&b, "The job experience level is %s.\n", in.Level)
	fmt.Fprintf(&b, "The tech stack used in the job is: %s.\n", strings.Join(in.Techstack, ","))
	fmt.Fprintf(&b, "The focus between behavioural and technical questions should lean towards: %s.\n", in.Type)
	fmt.Fprintf(&b, "The amount of questions required is: %d.\n", in.Amount)
	b.WriteString("Please return only the questions, without any additional text.\n")
	b.WriteString(`The questions are going to be read by a voice assistant so do not use "/" or "*" or any other special characters which might break the voice assistant.` + "\n")
	b.WriteString("Return the questions formatted like this:\n")
	b.WriteString(`["Question 1", "Question 2", "Question 3"]` + "\n")
	return b.String()
}
