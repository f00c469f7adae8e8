package intake

import (
	"errors"
	"strings"
)

// ErrNoSymptoms is returned when a symptom list is empty after trimming.
var ErrNoSymptoms = errors.New("at least one symptom is required")

// SymptomList is an ordered list of free-text symptoms.
type SymptomList []string

// NormalizeSymptoms trims every entry and drops the empty ones.
func NormalizeSymptoms(in []string) SymptomList {
	out := make(SymptomList, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ParseSymptoms splits comma-separated input, as typed at a prompt.
func ParseSymptoms(line string) SymptomList {
	return NormalizeSymptoms(strings.Split(line, ","))
}

// String joins the list with ", ".
func (s SymptomList) String() string {
	return strings.Join(s, ", ")
}
