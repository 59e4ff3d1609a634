package stages

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ahrav/go-rationale/internal/domain"
)

// ErrNoQAPairs is returned when a model reply contains no usable QA pair.
var ErrNoQAPairs = errors.New("no QA pairs in model reply")

// maxKeyDistance bounds how far a reply key may drift from a canonical key
// and still be accepted, e.g. "confusing answer" or "confusingAnswer".
const maxKeyDistance = 3

var canonicalKeys = []string{"question", "correct_answer", "confusing_answer"}

// keyAliases catches wordings that are close in edit distance to the wrong
// canonical key, "incorrect_answer" being two edits from "correct_answer".
var keyAliases = map[string]string{
	"incorrect_answer":  "confusing_answer",
	"wrong_answer":      "confusing_answer",
	"misleading_answer": "confusing_answer",
	"distractor":        "confusing_answer",
	"right_answer":      "correct_answer",
	"answer":            "correct_answer",
}

var lowerCaser = cases.Lower(language.Und)

// ParseQAPairs extracts QA entries from a model reply. The reply is expected
// to hold a JSON array of objects, possibly wrapped in a Markdown code fence
// or surrounded by prose that may itself contain brackets. The first array
// that yields a pair wins. Keys are normalized so near misses such as
// "Question1" or "correct answer" map onto the canonical names. Entries
// missing a field are dropped and counted in skipped; if nothing survives
// the result is ErrNoQAPairs.
func ParseQAPairs(reply string) (pairs []domain.QAContent, skipped int, err error) {
	s := stripCodeFence(strings.TrimSpace(reply))
	if s == "" {
		return nil, 0, domain.ErrEmptyResponse
	}
	arrays := jsonArrays(s)
	if len(arrays) == 0 {
		return nil, 0, fmt.Errorf("%w: reply has no valid JSON array", ErrNoQAPairs)
	}

	for _, body := range arrays {
		var dropped int
		pairs = pairs[:0]
		gjson.Parse(body).ForEach(func(_, entry gjson.Result) bool {
			if c, ok := parseQAEntry(entry); ok {
				pairs = append(pairs, c)
			} else {
				dropped++
			}
			return true
		})
		if len(pairs) > 0 {
			return pairs, dropped, nil
		}
		skipped += dropped
	}
	return nil, skipped, fmt.Errorf("%w: %d malformed entries", ErrNoQAPairs, skipped)
}

// jsonArrays returns, left to right, the longest valid JSON array starting
// at each '[' that is not inside an earlier match.
func jsonArrays(s string) []string {
	var out []string
	last := strings.LastIndexByte(s, ']')
	for i := 0; i < last; i++ {
		if s[i] != '[' {
			continue
		}
		for j := last; j > i; j = strings.LastIndexByte(s[:j], ']') {
			if gjson.Valid(s[i : j+1]) {
				out = append(out, s[i:j+1])
				i = j
				break
			}
		}
	}
	return out
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an info string such as "json".
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func parseQAEntry(entry gjson.Result) (domain.QAContent, bool) {
	if !entry.IsObject() {
		return domain.QAContent{}, false
	}

	fields := make(map[string]string, len(canonicalKeys))
	entry.ForEach(func(key, value gjson.Result) bool {
		canonical, ok := normalizeKey(key.String())
		if !ok {
			return true
		}
		text := strings.TrimSpace(value.String())
		if _, seen := fields[canonical]; !seen && text != "" {
			fields[canonical] = text
		}
		return true
	})

	c := domain.QAContent{
		Question:        fields["question"],
		CorrectAnswer:   fields["correct_answer"],
		ConfusingAnswer: fields["confusing_answer"],
	}
	if validate.Struct(c) != nil {
		return domain.QAContent{}, false
	}
	return c, true
}

// normalizeKey maps a reply key onto one of canonicalKeys.
func normalizeKey(key string) (string, bool) {
	k := lowerCaser.String(strings.TrimSpace(key))
	k = strings.TrimRightFunc(k, unicode.IsDigit)
	k = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-':
			return '_'
		}
		return r
	}, strings.TrimSpace(k))
	if alias, ok := keyAliases[k]; ok {
		return alias, true
	}

	best, bestDist := "", maxKeyDistance+1
	for _, c := range canonicalKeys {
		if d := levenshtein.ComputeDistance(k, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, best != ""
}
