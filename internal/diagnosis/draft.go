package diagnosis

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/consultd/internal/llm"
)

// Exam is one suggested exam or procedure.
type Exam struct {
	Name string `json:"name"`
}

// Draft is the first-pass diagnosis.
type Draft struct {
	Analysis        string `json:"analysis"`
	Diagnoses       string `json:"diagnoses"`
	Recommendations string `json:"recommendations"`
	SuggestedExams  []Exam `json:"suggested_exams"`
	Conclusion      string `json:"conclusion"`
	// Raw is the unparsed model output.
	Raw string `json:"raw,omitempty"`
	// Degraded is set when the model could not be reached.
	Degraded bool `json:"degraded,omitempty"`
}

// Empty reports whether no section was recovered.
func (d Draft) Empty() bool {
	return d.Analysis == "" && d.Diagnoses == "" && d.Recommendations == "" &&
		len(d.SuggestedExams) == 0 && d.Conclusion == ""
}

// String renders the draft back into headed sections.
func (d Draft) String() string {
	if d.Empty() {
		return d.Raw
	}
	exams := make([]string, len(d.SuggestedExams))
	for i, e := range d.SuggestedExams {
		exams[i] = fmt.Sprintf("%d. %s", i+1, e.Name)
	}
	return fmt.Sprintf("### Analysis\n%s\n\n### Possible Diagnoses\n%s\n\n### Recommendations\n%s\n\n### Suggested Exams\n%s\n\n### Conclusion\n%s",
		d.Analysis, d.Diagnoses, d.Recommendations, strings.Join(exams, "\n"), d.Conclusion)
}

const draftSystemPrompt = "You are an experienced physician assisting a remote consultation. " +
	"Be precise and concise. Your answer is guidance only and never replaces an in-person visit."

const draftInstructions = `
Answer with exactly these sections, each introduced by a "###" header:
### Analysis of Symptoms and Patient Factors
### Possible Diagnoses
### Recommendations and Next Steps
### Suggested Exams or Procedures
(a numbered list, one exam per line)
### Conclusion`

// Drafter produces the first-pass diagnosis.
type Drafter struct {
	llm       llm.Completer
	maxTokens int
}

// NewDrafter builds a Drafter.
func NewDrafter(c llm.Completer, maxTokens int) *Drafter {
	return &Drafter{llm: c, maxTokens: maxTokens}
}

// Draft issues one completion at temperature 0. On model failure the
// returned draft is empty and marked Degraded, alongside the error.
func (d *Drafter) Draft(ctx context.Context, c Case) (Draft, error) {
	var b strings.Builder
	c.render(&b)
	b.WriteString(draftInstructions)

	text, err := d.llm.Complete(ctx, llm.Request{
		System:      draftSystemPrompt,
		Prompt:      b.String(),
		Temperature: 0,
		MaxTokens:   d.maxTokens,
	})
	if err != nil {
		return Draft{Degraded: true}, fmt.Errorf("draft diagnosis: %w", err)
	}
	return ParseDraft(text), nil
}

type section int

const (
	sectionNone section = iota
	sectionAnalysis
	sectionDiagnoses
	sectionRecommendations
	sectionExams
	sectionConclusion
)

// headerKeywords are checked in order; the first match wins, so "diagnostic
// tests" lands in exams rather than diagnoses.
var headerKeywords = []struct {
	keyword string
	section section
}{
	{"conclu", sectionConclusion},
	{"exam", sectionExams},
	{"test", sectionExams},
	{"procedure", sectionExams},
	{"procedimiento", sectionExams},
	{"recommend", sectionRecommendations},
	{"recomend", sectionRecommendations},
	{"next step", sectionRecommendations},
	{"diagnos", sectionDiagnoses},
	{"analy", sectionAnalysis},
	{"analisis", sectionAnalysis},
}

var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ñ", "n",
)

func classifyHeader(line string) section {
	h := strings.Trim(line, "#*: \t")
	h = strings.ToLower(accentFolder.Replace(h))
	h = strings.TrimLeft(h, "0123456789.) ")
	for _, k := range headerKeywords {
		if strings.Contains(h, k.keyword) {
			return k.section
		}
	}
	return sectionNone
}

var examItem = regexp.MustCompile(`^(?:\d+[.)]|[-*•])\s*(.+)$`)

// ParseDraft splits model output on "###" headers. Missing sections stay
// empty. An unrecognized header keeps the current section, and deeper
// sub-headings stay inside it as text.
func ParseDraft(text string) Draft {
	var parts [sectionConclusion + 1]strings.Builder
	current := sectionNone

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "####") {
			line = strings.TrimSpace(strings.TrimLeft(line, "#"))
		} else if strings.HasPrefix(line, "###") {
			if s := classifyHeader(line); s != sectionNone {
				current = s
			}
			continue
		}
		if current == sectionNone {
			continue
		}
		parts[current].WriteString(line)
		parts[current].WriteByte('\n')
	}

	get := func(s section) string { return strings.TrimSpace(parts[s].String()) }
	return Draft{
		Analysis:        get(sectionAnalysis),
		Diagnoses:       get(sectionDiagnoses),
		Recommendations: get(sectionRecommendations),
		SuggestedExams:  parseExams(get(sectionExams)),
		Conclusion:      get(sectionConclusion),
		Raw:             text,
	}
}

func parseExams(text string) []Exam {
	if text == "" {
		return nil
	}
	var listed, plain []Exam
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := examItem.FindStringSubmatch(line); m != nil {
			listed = append(listed, Exam{Name: strings.Trim(m[1], "* ")})
			continue
		}
		plain = append(plain, Exam{Name: line})
	}
	if len(listed) > 0 {
		return listed
	}
	return plain
}
