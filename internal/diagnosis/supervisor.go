package diagnosis

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fyrsmithlabs/consultd/internal/llm"
)

// Verdict is the supervisor's scored assessment.
type Verdict struct {
	// Confidence is 0-100.
	Confidence               int    `json:"confidence"`
	Synthesis                string `json:"synthesis"`
	FinalDiagnosisOrReferral string `json:"final_diagnosis_or_referral"`
	ExtraRecommendations     string `json:"extra_recommendations"`
	// Parsed is false when the model output could not be read as JSON.
	Parsed bool `json:"parsed"`
}

const supervisorSystemPrompt = "You are a physician with more than 30 years of clinical experience. " +
	"Review the consultation and the draft diagnosis, consolidate them and judge " +
	"whether the data supports at least 70% certainty. Otherwise recommend an in-person visit."

const supervisorInstructions = `
Reply with a single JSON object and nothing else:
{"confidence": <integer 0-100>, "synthesis": "...", "final_diagnosis_or_referral": "...", "extra_recommendations": "..."}`

// Supervisor scores a draft diagnosis.
type Supervisor struct {
	llm       llm.Completer
	maxTokens int
}

// NewSupervisor builds a Supervisor.
func NewSupervisor(c llm.Completer, maxTokens int) *Supervisor {
	return &Supervisor{llm: c, maxTokens: maxTokens}
}

// Review issues the second completion. On model failure it returns a zero
// confidence verdict alongside the error.
func (s *Supervisor) Review(ctx context.Context, c Case, d Draft) (Verdict, error) {
	var b strings.Builder
	c.render(&b)

	draft := d.String()
	if strings.TrimSpace(draft) == "" {
		draft = Unspecified
	}
	fmt.Fprintf(&b, "- Draft diagnosis:\n%s\n", draft)
	b.WriteString(supervisorInstructions)

	text, err := s.llm.Complete(ctx, llm.Request{
		System:      supervisorSystemPrompt,
		Prompt:      b.String(),
		Temperature: 0,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("supervisor review: %w", err)
	}
	return ParseVerdict(text), nil
}

// verdictKeys lists accepted key prefixes after normalization, for each field.
var verdictKeys = struct {
	confidence, synthesis, final, extra []string
}{
	confidence: []string{"confidence", "certainty", "nivel_de_certeza", "certeza"},
	synthesis:  []string{"synthesis", "summary", "sintesis"},
	final:      []string{"final_diagnosis", "diagnosis", "referral", "diagnostico"},
	extra:      []string{"extra_recommendations", "additional_recommendations", "recommendations", "recomendaciones"},
}

var keyCleaner = regexp.MustCompile(`[^a-z0-9]+`)

func normalizeKey(k string) string {
	k = strings.ToLower(accentFolder.Replace(k))
	return strings.Trim(keyCleaner.ReplaceAllString(k, "_"), "_")
}

func matchKey(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// extractJSON strips code fences and returns the outermost object.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		text = strings.TrimSpace(rest)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// ParseVerdict reads the supervisor output. Anything that is not a JSON
// object with a confidence yields confidence 0 with the raw text as
// synthesis.
func ParseVerdict(text string) Verdict {
	fallback := Verdict{Confidence: 0, Synthesis: strings.TrimSpace(text)}

	body := extractJSON(text)
	if body == "" || !gjson.Valid(body) {
		return fallback
	}
	root := gjson.Parse(body)
	if !root.IsObject() {
		return fallback
	}

	var v Verdict
	found := false
	root.ForEach(func(key, value gjson.Result) bool {
		k := normalizeKey(key.String())
		switch {
		case matchKey(k, verdictKeys.confidence):
			if c, ok := parseConfidence(value); ok {
				v.Confidence = c
				found = true
			}
		case matchKey(k, verdictKeys.synthesis):
			v.Synthesis = flatten(value)
		case matchKey(k, verdictKeys.final):
			v.FinalDiagnosisOrReferral = flatten(value)
		case matchKey(k, verdictKeys.extra):
			v.ExtraRecommendations = flatten(value)
		}
		return true
	})
	if !found {
		if v.Synthesis == "" {
			v.Synthesis = fallback.Synthesis
		}
		v.Confidence = 0
		return v
	}
	v.Parsed = true
	return v
}

var leadingNumber = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)

// parseConfidence accepts 85, 85.4, "85%", or a 0-1 fraction like 0.85.
func parseConfidence(value gjson.Result) (int, bool) {
	var f float64
	switch value.Type {
	case gjson.Number:
		f = value.Float()
		if f > 0 && f < 1 && strings.Contains(value.Raw, ".") {
			f *= 100
		}
	case gjson.String:
		m := leadingNumber.FindString(value.String())
		if m == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	return int(math.Max(0, math.Min(100, math.Round(f)))), true
}

// flatten turns strings, arrays and objects into display text.
func flatten(value gjson.Result) string {
	switch {
	case value.IsArray():
		var items []string
		for _, item := range value.Array() {
			if s := flatten(item); s != "" {
				items = append(items, s)
			}
		}
		return strings.Join(items, "; ")
	case value.IsObject():
		var items []string
		value.ForEach(func(k, v gjson.Result) bool {
			items = append(items, fmt.Sprintf("%s: %s", k.String(), flatten(v)))
			return true
		})
		return strings.Join(items, "; ")
	default:
		return strings.TrimSpace(value.String())
	}
}
