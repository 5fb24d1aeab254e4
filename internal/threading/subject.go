package threading

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

var replyPrefix = regexp.MustCompile(`(?i)^\s*(?:re|fwd?)\s*:`)

// minMergeSubjectLen is the rune count a normalized subject must exceed to be merged.
const minMergeSubjectLen = 3

// NormalizeSubject strips any number of leading Re:/Fwd:/Fw: prefixes and case-folds the rest.
func NormalizeSubject(subject string) string {
	s := subject
	for {
		stripped := replyPrefix.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return cases.Fold().String(strings.TrimSpace(s))
}

func mergeableSubject(normalized string) bool {
	return utf8.RuneCountInString(normalized) > minMergeSubjectLen
}
