// Package search ranks passages of free text against a query. The interview
// generator uses it to fit long resumes into the prompt budget by keeping
// the paragraphs that overlap most with the job being interviewed for.
//
// Scoring is Jaccard similarity between the query token set and each
// paragraph's token set: |Q ∩ P| / |Q ∪ P|. Ties keep document order, so
// results are deterministic.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Option configures Excerpt.
type Option func(*config)

type config struct {
	stopwords map[string]struct{}
	separator string
}

func defaultConfig() config {
	return config{
		stopwords: toSet(defaultStopwords),
		separator: "\n\n",
	}
}

// WithStopwords replaces the default English stopword list. An empty list
// disables stopword removal.
func WithStopwords(words []string) Option {
	return func(c *config) { c.stopwords = toSet(words) }
}

// WithSeparator sets the string placed between kept paragraphs.
func WithSeparator(sep string) Option {
	return func(c *config) { c.separator = sep }
}

var defaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from", "has", "have",
	"in", "is", "it", "of", "on", "or", "our", "that", "the", "this", "to", "was",
	"we", "were", "will", "with", "you", "your",
}

// Passage is a scored paragraph.
type Passage struct {
	Text  string
	Score float64
	// Pos is the paragraph's index in the source text.
	Pos int
}

// Rank splits text into paragraphs and returns them ordered by relevance to
// query, best first. Paragraphs with no overlap score 0 and keep their
// document order at the end.
func Rank(text, query string, opts ...Option) []Passage {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	paras := splitParagraphs(text)
	q := tokenize(query, cfg.stopwords)

	out := make([]Passage, len(paras))
	for i, p := range paras {
		out[i] = Passage{Text: p, Score: jaccard(q, tokenize(p, cfg.stopwords)), Pos: i}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	return out
}

// Excerpt returns text unchanged when it fits in maxRunes. Otherwise it
// keeps the most relevant paragraphs that fit, in their original order. If
// not even the best paragraph fits, that paragraph is cut at maxRunes.
// maxRunes <= 0 disables trimming.
func Excerpt(text, query string, maxRunes int, opts ...Option) string {
	text = strings.TrimSpace(text)
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	ranked := Rank(text, query, opts...)
	if len(ranked) == 0 {
		return ""
	}

	sepLen := utf8.RuneCountInString(cfg.separator)
	used := 0
	var kept []Passage
	for _, p := range ranked {
		n := utf8.RuneCountInString(p.Text)
		if len(kept) > 0 {
			n += sepLen
		}
		if used+n > maxRunes {
			continue
		}
		kept = append(kept, p)
		used += n
	}
	if len(kept) == 0 {
		return truncateRunes(ranked[0].Text, maxRunes)
	}

	sort.Slice(kept, func(a, b int) bool { return kept[a].Pos < kept[b].Pos })
	parts := make([]string, len(kept))
	for i, p := range kept {
		parts[i] = p.Text
	}
	return strings.Join(parts, cfg.separator)
}

var (
	wordRE      = regexp.MustCompile(`\p{L}[\p{L}\p{N}+#.]*|\p{N}+`)
	paraSplitRE = regexp.MustCompile(`\n\s*\n`)
)

// tokenize lowercases s and returns its distinct words. Words may carry
// "+", "#" and "." so that "c++", "c#" and "node.js" survive intact.
func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.TrimRight(w, ".")
		if w == "" {
			continue
		}
		if _, skip := stop[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	over := overlap(a, b)
	if over == 0 {
		return 0
	}
	return float64(over) / float64(len(a)+len(b)-over)
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func splitParagraphs(s string) []string {
	chunks := paraSplitRE.Split(s, -1)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if t := strings.TrimSpace(c); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func toSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			m[w] = struct{}{}
		}
	}
	return m
}
