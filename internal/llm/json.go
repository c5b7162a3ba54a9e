package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON pulls the JSON object out of a model response. Models asked
// for "JSON only" still wrap the payload in markdown fences or prose often
// enough that callers must not unmarshal the raw text directly.
func ExtractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	if json.Valid([]byte(s)) {
		return s, nil
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		candidate := s[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
		cleaned := normalize(candidate)
		if json.Valid([]byte(cleaned)) {
			return cleaned, nil
		}
	}
	return "", fmt.Errorf("no JSON object found in response")
}

// normalize repairs the usual model typos: smart quotes and control
// characters smuggled into an otherwise valid object.
func normalize(s string) string {
	s = strings.NewReplacer(
		"“", `"`,
		"”", `"`,
		"‘", "'",
		"’", "'",
	).Replace(s)
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, s)
}
