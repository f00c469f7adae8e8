package diagnosis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/consultd/internal/clarify"
	"github.com/fyrsmithlabs/consultd/internal/intake"
	"github.com/fyrsmithlabs/consultd/internal/knowledge"
	"github.com/fyrsmithlabs/consultd/internal/llm"
)

func testCase() Case {
	return Case{
		Patient:  intake.Patient{Name: "Ana Diaz", NationalID: "11111111-1", Sex: intake.SexFemale, Age: 30, Weight: 60},
		Symptoms: intake.SymptomList{"fever", "cough"},
		QA:       []clarify.QA{{Question: "Since when?", Answer: "two days"}},
		Snippet:  knowledge.Snippet{Text: "Disease: Influenza", Found: true, Score: 0.9},
	}
}

const englishDraft = `Here is my assessment.

### Analysis of Symptoms and Patient Factors
Fever and cough for two days in a healthy adult.

### Possible Diagnoses
Influenza.

### Recommendations and Next Steps
Rest and fluids.

### Suggested Exams or Procedures
1. Complete blood count
2. **Chest X-ray**

### Conclusion
Likely viral infection.`

const spanishDraft = `### **Análisis de Síntomas y Factores del Paciente**
Fiebre y tos.
### Posibles Diagnósticos:
Gripe.
### Exámenes o Procedimientos Médicos Sugeridos
- Hemograma
### Conclusión
Reposo.`

func TestParseDraft_English(t *testing.T) {
	d := ParseDraft(englishDraft)

	assert.Equal(t, "Fever and cough for two days in a healthy adult.", d.Analysis)
	assert.Equal(t, "Influenza.", d.Diagnoses)
	assert.Equal(t, "Rest and fluids.", d.Recommendations)
	assert.Equal(t, []Exam{{Name: "Complete blood count"}, {Name: "Chest X-ray"}}, d.SuggestedExams)
	assert.Equal(t, "Likely viral infection.", d.Conclusion)
	assert.Equal(t, englishDraft, d.Raw)
	assert.False(t, d.Empty())
}

func TestParseDraft_SpanishHeadersAndMissingSection(t *testing.T) {
	d := ParseDraft(spanishDraft)

	assert.Equal(t, "Fiebre y tos.", d.Analysis)
	assert.Equal(t, "Gripe.", d.Diagnoses)
	assert.Empty(t, d.Recommendations, "missing header leaves the field empty")
	assert.Equal(t, []Exam{{Name: "Hemograma"}}, d.SuggestedExams)
	assert.Equal(t, "Reposo.", d.Conclusion)
}

func TestParseDraft_SubHeadingsStayInSection(t *testing.T) {
	d := ParseDraft(`### Possible Diagnoses
#### Most likely
1. Influenza
#### Less likely
2. Pneumonia
### Disclaimer
Not a substitute for an in-person visit.
### Suggested Exams or Procedures
#### Laboratory
1. Complete blood count`)

	assert.Equal(t, "Most likely\n1. Influenza\nLess likely\n2. Pneumonia\nNot a substitute for an in-person visit.", d.Diagnoses)
	assert.Equal(t, []Exam{{Name: "Complete blood count"}}, d.SuggestedExams)
}

func TestParseDraft_NoHeaders(t *testing.T) {
	d := ParseDraft("I cannot help with that.")
	assert.True(t, d.Empty())
	assert.Equal(t, "I cannot help with that.", d.Raw)
	assert.Equal(t, "I cannot help with that.", d.String())
}

func TestParseDraft_UnlistedExams(t *testing.T) {
	d := ParseDraft("### Suggested exams\nBlood panel\nUrinalysis")
	assert.Equal(t, []Exam{{Name: "Blood panel"}, {Name: "Urinalysis"}}, d.SuggestedExams)
}

func TestDrafter_Draft(t *testing.T) {
	var got llm.Request
	d := NewDrafter(llm.Func(func(_ context.Context, req llm.Request) (string, error) {
		got = req
		return englishDraft, nil
	}), 1000)

	draft, err := d.Draft(context.Background(), testCase())
	require.NoError(t, err)
	assert.Equal(t, "Influenza.", draft.Diagnoses)

	assert.Zero(t, got.Temperature)
	assert.Equal(t, 1000, got.MaxTokens)
	assert.Contains(t, got.Prompt, "fever, cough")
	assert.Contains(t, got.Prompt, "Since when?: two days")
	assert.Contains(t, got.Prompt, "Disease: Influenza")
	assert.NotContains(t, got.Prompt, "11111111-1")
}

func TestDrafter_MissingInputsRenderedUnspecified(t *testing.T) {
	var prompt string
	d := NewDrafter(llm.Func(func(_ context.Context, req llm.Request) (string, error) {
		prompt = req.Prompt
		return englishDraft, nil
	}), 1000)

	c := testCase()
	c.QA = nil
	c.Snippet = knowledge.NoMatch
	_, err := d.Draft(context.Background(), c)
	require.NoError(t, err)

	assert.Contains(t, prompt, "- Additional answers: unspecified")
	assert.Contains(t, prompt, "- Knowledge base: unspecified")
}

func TestDrafter_ModelErrorDegrades(t *testing.T) {
	d := NewDrafter(llm.Func(func(context.Context, llm.Request) (string, error) {
		return "", errors.New("timeout")
	}), 1000)

	draft, err := d.Draft(context.Background(), testCase())
	require.Error(t, err)
	assert.True(t, draft.Degraded)
	assert.True(t, draft.Empty())
}
