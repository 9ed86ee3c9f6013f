// Package textnorm normalizes free text (resumes, job descriptions) before it
// is embedded in model prompts or stored.
package textnorm

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// An unclosed tag runs to the end of the text.
	tagRE        = regexp.MustCompile(`<[^>]*(?:>|$)`)
	hspaceRE     = regexp.MustCompile(`[ \t]+`)
	blankLinesRE = regexp.MustCompile(`\n{2,}`)

	punct = strings.NewReplacer(
		"\u00a0", " ",
		"\u201c", `"`, "\u201d", `"`,
		"\u2018", "'", "\u2019", "'",
		"\u2013", "-", "\u2014", "-",
		"\r\n", "\n", "\r", "\n",
	)
)

// Sanitize returns s with HTML tags removed, in NFC form, typographic quotes
// and dashes replaced by their ASCII forms, line endings normalized to LF,
// runs of spaces and tabs collapsed to one space, at most one blank line
// between paragraphs, and no leading or trailing whitespace.
//
// Sanitize is idempotent: Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	// Composing after tag removal joins marks a tag used to separate.
	s = tagRE.ReplaceAllString(s, "")
	s = punct.Replace(s)
	s = norm.NFC.String(s)
	s = hspaceRE.ReplaceAllString(s, " ")
	s = trimLines(s)
	s = blankLinesRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// trimLines drops the single space the collapse step can leave at either end
// of a line; without it "a \n\n b" and "a\n\nb" would sanitize differently.
func trimLines(s string) string {
	if !strings.Contains(s, "\n") {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.Trim(l, " ")
	}
	return strings.Join(lines, "\n")
}
