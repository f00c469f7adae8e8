// Package moderation screens a consultation before any clinical reasoning
// runs. Two checks must both pass: a content-safety classification and a
// model-scored medical coherence estimate.
package moderation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/consultd/internal/clarify"
	"github.com/fyrsmithlabs/consultd/internal/config"
	"github.com/fyrsmithlabs/consultd/internal/intake"
	"github.com/fyrsmithlabs/consultd/internal/llm"
)

// Fixed categories added by the gate itself.
const (
	CategoryInsufficientCoherence = "insufficient coherence"
	CategoryUnavailable           = "moderation unavailable"
	CategoryFlagged               = "flagged"
)

// Input is what the gate screens.
type Input struct {
	Patient  intake.Patient
	Symptoms intake.SymptomList
	QA       []clarify.QA
}

// Result is Pass or Fail with the offending categories.
type Result struct {
	Passed     bool     `json:"passed"`
	Categories []string `json:"categories,omitempty"`
	Coherence  int      `json:"coherence"`
	// Degraded explains a fail-safe outcome caused by an unreachable service.
	Degraded string `json:"degraded,omitempty"`
}

// Pass returns a passing result.
func Pass(coherence int) Result {
	return Result{Passed: true, Coherence: coherence}
}

// Fail returns a failing result carrying categories.
func Fail(categories ...string) Result {
	return Result{Passed: false, Categories: categories}
}

const coherenceSystemPrompt = "You review patient intake for a medical assistant. " +
	"Estimate how coherent and medically relevant the consultation is. " +
	"Answer with a single integer from 0 to 100 and nothing else."

// Gate combines the classifier and the coherence check.
type Gate struct {
	classifier Classifier
	llm        llm.Completer
	epsilon    float64
	threshold  int
}

// NewGate builds a gate from the moderation section.
func NewGate(c Classifier, l llm.Completer, cfg config.ModerationConfig) *Gate {
	return &Gate{classifier: c, llm: l, epsilon: cfg.Epsilon, threshold: cfg.CoherenceThreshold}
}

// Check screens the consultation. It never fails open: an unreachable
// classifier or model yields Fail.
func (g *Gate) Check(ctx context.Context, in Input) Result {
	text := Transcript(in.Patient, in.Symptoms, in.QA)

	cls, err := g.classifier.Classify(ctx, text)
	if err != nil {
		res := Fail(CategoryUnavailable)
		res.Degraded = fmt.Sprintf("classifier: %v", err)
		return res
	}
	if flagged := g.flagged(cls); len(flagged) > 0 {
		return Fail(flagged...)
	}

	reply, err := g.llm.Complete(ctx, llm.Request{
		System:      coherenceSystemPrompt,
		Prompt:      text,
		Temperature: 0,
		MaxTokens:   10,
	})
	if err != nil {
		res := Fail(CategoryUnavailable)
		res.Degraded = fmt.Sprintf("coherence check: %v", err)
		return res
	}

	score := ParseCoherence(reply)
	if score < g.threshold {
		res := Fail(CategoryInsufficientCoherence)
		res.Coherence = score
		return res
	}
	return Pass(score)
}

// flagged returns categories whose flag is set and whose score clears
// epsilon, in classifier order. An overall flag with no such category
// still fails as CategoryFlagged.
func (g *Gate) flagged(c Classification) []string {
	var out []string
	for _, s := range c.Scores {
		if s.Flagged && s.Score > g.epsilon {
			out = append(out, s.Category)
		}
	}
	if len(out) == 0 && c.Flagged {
		out = append(out, CategoryFlagged)
	}
	return out
}

var (
	scaleMarker = regexp.MustCompile(`(?i)\b0\s*(?:-|–|to)\s*100\b|/\s*100\b|out of 100`)
	integer     = regexp.MustCompile(`-?\d+`)
)

// ParseCoherence reads the score from a model reply: the last integer in
// 0..100 once scale markers such as "(0-100)" and "/100" are removed.
// A reply without one counts as 0.
func ParseCoherence(reply string) int {
	text := scaleMarker.ReplaceAllString(reply, " ")
	score := 0
	for _, m := range integer.FindAllString(text, -1) {
		if n, err := strconv.Atoi(m); err == nil && n >= 0 && n <= 100 {
			score = n
		}
	}
	return score
}

// Transcript renders the consultation text sent to both checks. Name and
// national id stay out of it.
func Transcript(p intake.Patient, symptoms intake.SymptomList, qa []clarify.QA) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Patient: sex %s, age %d, weight %d kg\n", p.Sex, p.Age, p.Weight)
	fmt.Fprintf(&b, "Symptoms: %s\n", symptoms)
	if len(qa) > 0 {
		b.WriteString(clarify.Format(qa))
		b.WriteByte('\n')
	}
	return b.String()
}
