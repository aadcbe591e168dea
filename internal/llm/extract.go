package llm

import (
	"regexp"
	"strings"
)

var (
	flatObjectRe   = regexp.MustCompile(`\{[^}]+\}`)
	greedyObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// FirstFlatObject returns the first brace-delimited substring that contains no
// closing brace. It suits small flat replies such as {"score": 80, "feedback": "..."}.
func FirstFlatObject(s string) (string, bool) {
	m := flatObjectRe.FindString(s)
	return m, m != ""
}

// GreedyObject returns the span from the first '{' to the last '}', across lines.
func GreedyObject(s string) (string, bool) {
	m := greedyObjectRe.FindString(s)
	return m, m != ""
}

// FencedBody returns the content of the first markdown code fence in s,
// preferring a ```json fence. Without a fence it returns s trimmed.
func FencedBody(s string) string {
	s = strings.TrimSpace(s)
	for _, marker := range []string{"```json", "```"} {
		if _, after, ok := strings.Cut(s, marker); ok {
			body, _, _ := strings.Cut(after, "```")
			return strings.TrimSpace(body)
		}
	}
	return s
}

// StripFences removes every code fence marker from s.
func StripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
