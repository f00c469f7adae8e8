package document

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
)

var markdownOrder = template.Must(template.New("order").Funcs(template.FuncMap{
	"inc":        func(i int) int { return i + 1 },
	"disclaimer": func() string { return Disclaimer },
}).Parse(`# Medical Order

Issued: {{ .IssuedAt.Format "2006-01-02 15:04" }}

## Patient

- Name: {{ .Patient.Name }}
- National ID: {{ .Patient.NationalID }}
- Sex: {{ .Patient.Sex }}
- Age: {{ .Patient.Age }}
- Weight: {{ .Patient.Weight }} kg

---

## Reported symptoms

{{ .Symptoms }}
{{ if .QA }}
## Additional questions

| Question | Answer |
|----------|--------|
{{ range .QA }}| {{ .Question }} | {{ .Answer }} |
{{ end }}{{ end }}
---

## Analysis

{{ .Draft.Analysis }}

## Diagnosis

{{ .Draft.Diagnoses }}

## Recommendations

{{ .Draft.Recommendations }}
{{ if .Draft.SuggestedExams }}
## Suggested exams

{{ range $i, $e := .Draft.SuggestedExams }}{{ inc $i }}. {{ $e.Name }}
{{ end }}{{ end }}
## Conclusion

{{ .Draft.Conclusion }}

---

## Supervisor review

Confidence: {{ .Verdict.Confidence }}%

{{ .Verdict.Synthesis }}

Final diagnosis: {{ .Verdict.FinalDiagnosisOrReferral }}
{{ if .Verdict.ExtraRecommendations }}
Additional recommendations: {{ .Verdict.ExtraRecommendations }}
{{ end }}
---

_{{ disclaimer }}_
`))

// MarkdownGenerator writes orders as Markdown files.
type MarkdownGenerator struct {
	dir string
}

// NewMarkdownGenerator writes into dir.
func NewMarkdownGenerator(dir string) *MarkdownGenerator {
	return &MarkdownGenerator{dir: dir}
}

// Render returns the Markdown body of an order.
func (g *MarkdownGenerator) Render(o Order) ([]byte, error) {
	var buf bytes.Buffer
	if err := markdownOrder.Execute(&buf, o); err != nil {
		return nil, fmt.Errorf("rendering order: %w", err)
	}
	return buf.Bytes(), nil
}

// Generate renders and writes the order.
func (g *MarkdownGenerator) Generate(ctx context.Context, o Order) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}
	data, err := g.Render(o)
	if err != nil {
		return Ref{}, err
	}
	path, err := writeFile(g.dir, fileName(o, "md"), data)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Path: path, Format: FormatMarkdown}, nil
}
