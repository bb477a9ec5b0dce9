// Package analysis runs the background AI classification of a report photo
// and converges the result into the report row.
package analysis

import (
	"strings"
	"unicode/utf8"
)

const (
	// Processing is written when a task picks up a report.
	Processing = "processing"
	// FailedPrefix marks a terminal failure; the remainder is a short reason.
	FailedPrefix = "failed:"

	// MaxStatusLen matches the ai_status column width.
	MaxStatusLen = 100
	ellipsis     = "..."
)

// Clamp trims s and cuts it to MaxStatusLen runes, ending in "..." when cut.
func Clamp(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= MaxStatusLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxStatusLen-len(ellipsis)]) + ellipsis
}

// FailedStatus builds the clamped terminal failure value for reason.
func FailedStatus(reason string) string {
	return Clamp(FailedPrefix + reason)
}

// IsTerminal reports whether status is a final AI outcome.
func IsTerminal(status string) bool {
	return status != "" && status != Processing
}

// IsFailed reports whether status records a failed analysis.
func IsFailed(status string) bool {
	return strings.HasPrefix(status, FailedPrefix)
}

// LabelVocabulary decides how detected labels map onto report fields.
type LabelVocabulary struct {
	// NormalSuffixes mark a label as "fixture is fine".
	NormalSuffixes []string
	// Unclassifiable is stored when nothing was detected.
	Unclassifiable string
}

func DefaultVocabulary() LabelVocabulary {
	return LabelVocabulary{
		NormalSuffixes: []string{"정상"},
		Unclassifiable: "분류불가",
	}
}

// IsNormal reports whether label ends with one of the normal suffixes.
func (v LabelVocabulary) IsNormal(label string) bool {
	label = strings.TrimSpace(label)
	for _, suffix := range v.NormalSuffixes {
		if suffix != "" && strings.HasSuffix(label, suffix) {
			return true
		}
	}
	return false
}

func (v LabelVocabulary) unclassifiable() string {
	if v.Unclassifiable == "" {
		return DefaultVocabulary().Unclassifiable
	}
	return v.Unclassifiable
}
