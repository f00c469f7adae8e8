// Package diagnosis holds the two model passes that reason about a
// consultation: the drafter proposes a diagnosis and the supervisor scores
// it.
//
// Both passes degrade instead of failing. A model error yields an empty
// draft or a zero-confidence verdict, and unparseable output is kept raw.
package diagnosis

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/consultd/internal/clarify"
	"github.com/fyrsmithlabs/consultd/internal/intake"
	"github.com/fyrsmithlabs/consultd/internal/knowledge"
)

// Unspecified replaces any missing input in a prompt.
const Unspecified = "unspecified"

// Case is everything the model passes know about a consultation.
type Case struct {
	Patient  intake.Patient
	Symptoms intake.SymptomList
	QA       []clarify.QA
	Snippet  knowledge.Snippet
}

func orUnspecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return Unspecified
	}
	return s
}

func intOrUnspecified(n int, ok bool) string {
	if !ok {
		return Unspecified
	}
	return fmt.Sprint(n)
}

// render writes the shared patient block. The name is included because
// the drafted text addresses the patient; the national id never is.
func (c Case) render(b *strings.Builder) {
	p := c.Patient
	// Age 0 is valid, so only a zero Patient leaves it unspecified.
	known := p != intake.Patient{}
	fmt.Fprintf(b, "Patient:\n")
	fmt.Fprintf(b, "- Name: %s\n", orUnspecified(p.Name))
	fmt.Fprintf(b, "- Age: %s\n", intOrUnspecified(p.Age, known))
	fmt.Fprintf(b, "- Sex: %s\n", orUnspecified(string(p.Sex)))
	fmt.Fprintf(b, "- Weight: %s kg\n", intOrUnspecified(p.Weight, p.Weight > 0))
	fmt.Fprintf(b, "- Symptoms: %s\n", orUnspecified(c.Symptoms.String()))

	answers := make([]string, 0, len(c.QA))
	for _, qa := range c.QA {
		answers = append(answers, fmt.Sprintf("%s: %s", qa.Question, qa.Answer))
	}
	fmt.Fprintf(b, "- Additional answers: %s\n", orUnspecified(strings.Join(answers, "; ")))

	reference := Unspecified
	if !c.Snippet.IsNoMatch() {
		reference = c.Snippet.Text
	}
	fmt.Fprintf(b, "- Knowledge base: %s\n", reference)
}
