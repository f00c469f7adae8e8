// Package clarify asks the model for follow-up questions and pairs them
// with the patient's answers.
package clarify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/consultd/internal/config"
	"github.com/fyrsmithlabs/consultd/internal/intake"
	"github.com/fyrsmithlabs/consultd/internal/llm"
)

// NotAnswered marks a question the patient skipped.
const NotAnswered = "not answered"

// QA is one question with its answer.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Answered reports whether the patient gave a real answer.
func (q QA) Answered() bool {
	return q.Answer != "" && q.Answer != NotAnswered
}

const systemPrompt = "You are a medical assistant that helps collect relevant information from patients. " +
	"Reply with the questions only, one per line, without any introduction."

// Generator produces clarifying questions.
type Generator struct {
	llm          llm.Completer
	maxQuestions int
	maxTokens    int
}

// New builds a Generator.
func New(c llm.Completer, cfg config.ClarificationConfig) *Generator {
	return &Generator{llm: c, maxQuestions: cfg.MaxQuestions, maxTokens: cfg.MaxTokens}
}

// Questions returns at most the configured number of questions. On model
// failure it returns no questions together with the error, so callers can
// continue with an empty list.
func (g *Generator) Questions(ctx context.Context, p intake.Patient, symptoms intake.SymptomList) ([]string, error) {
	if g.maxQuestions == 0 {
		return nil, nil
	}

	prompt := fmt.Sprintf(
		"Patient: %s, %d years, %d kg.\nReported symptoms: %s\n"+
			"Based on these symptoms, write up to %d clear and specific questions that would help complete the diagnosis.",
		p.Sex, p.Age, p.Weight, symptoms, g.maxQuestions)

	text, err := g.llm.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: 0,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	return ParseQuestions(text, g.maxQuestions), nil
}

var listMarker = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)

// ParseQuestions takes one question per non-empty line, dropping list
// markers, and keeps at most max of them.
func ParseQuestions(text string, max int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		q := strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if q == "" {
			continue
		}
		out = append(out, q)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// Pair attaches answers to questions by position. Missing or blank answers
// get the NotAnswered marker, so the result has one entry per question.
func Pair(questions, answers []string) []QA {
	out := make([]QA, len(questions))
	for i, q := range questions {
		a := ""
		if i < len(answers) {
			a = strings.TrimSpace(answers[i])
		}
		if a == "" {
			a = NotAnswered
		}
		out[i] = QA{Question: q, Answer: a}
	}
	return out
}

// CountAnswered returns how many entries carry a real answer.
func CountAnswered(qa []QA) int {
	n := 0
	for _, q := range qa {
		if q.Answered() {
			n++
		}
	}
	return n
}

// Format renders the pairs as "Q: ... A: ..." lines.
func Format(qa []QA) string {
	var b strings.Builder
	for i, q := range qa {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "Q: %s A: %s", q.Question, q.Answer)
	}
	return b.String()
}
