// Package transcript folds speech-recognition events from a live voice call
// into speaker turns.
//
// The voice provider emits one message per recognized utterance. Interim
// recognitions are discarded; final ones are appended to a raw utterance log
// and merged into the current turn when the speaker has not changed.
package transcript

import (
	"strings"

	"github.com/tbourn/go-interview-backend/internal/domain"
)

// Recognition states carried in Event.TranscriptType.
const (
	TypeFinal   = "final"
	TypePartial = "partial"
)

// MessageTypeTranscript is the Event.Type of speech-recognition messages.
// Other message types (function calls, status updates) are ignored.
const MessageTypeTranscript = "transcript"

// Event is one "message" payload from the voice channel.
type Event struct {
	Type           string `json:"type"`
	TranscriptType string `json:"transcriptType"`
	Role           string `json:"role"`
	Transcript     string `json:"transcript"`
}

// Final reports whether e is a finalized transcript message.
func (e Event) Final() bool {
	return e.Type == MessageTypeTranscript && e.TranscriptType == TypeFinal
}

// Aggregator accumulates the transcript of one session. It is not safe for
// concurrent use; the session loop is its only writer.
type Aggregator struct {
	turns      []domain.TranscriptEntry
	utterances []domain.TranscriptEntry
}

// New returns an empty Aggregator.
func New() *Aggregator { return &Aggregator{} }

// Append folds e into the transcript and reports whether it was kept.
// Non-final events and events with blank text are dropped.
func (a *Aggregator) Append(e Event) bool {
	if !e.Final() {
		return false
	}
	text := strings.TrimSpace(e.Transcript)
	if text == "" {
		return false
	}
	entry := domain.TranscriptEntry{Role: e.Role, Content: text}
	a.utterances = append(a.utterances, entry)

	if n := len(a.turns); n > 0 && a.turns[n-1].Role == e.Role {
		a.turns[n-1].Content += " " + text
		return true
	}
	a.turns = append(a.turns, entry)
	return true
}

// Turns returns a copy of the speaker-turn view: consecutive utterances by
// the same role merged into one entry.
func (a *Aggregator) Turns() []domain.TranscriptEntry {
	out := make([]domain.TranscriptEntry, len(a.turns))
	copy(out, a.turns)
	return out
}

// Utterances returns a copy of the raw per-utterance log.
func (a *Aggregator) Utterances() []domain.TranscriptEntry {
	out := make([]domain.TranscriptEntry, len(a.utterances))
	copy(out, a.utterances)
	return out
}

// Len is the number of turns.
func (a *Aggregator) Len() int { return len(a.turns) }

// Format renders entries as the bullet list fed to the evaluation prompt,
// one "- role: content" line per entry.
func Format(entries []domain.TranscriptEntry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString("- ")
		b.WriteString(e.Role)
		b.WriteString(": ")
		b.WriteString(e.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
