package document

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/consultd/internal/clarify"
	"github.com/fyrsmithlabs/consultd/internal/config"
	"github.com/fyrsmithlabs/consultd/internal/diagnosis"
	"github.com/fyrsmithlabs/consultd/internal/intake"
)

func testOrder() Order {
	return Order{
		ConsultationID: "c0ffee",
		Patient: intake.Patient{
			Name: "Ana Diaz", NationalID: "11111111-1", Sex: intake.SexFemale, Age: 30, Weight: 60,
		},
		Symptoms: intake.SymptomList{"fever", "cough"},
		QA: []clarify.QA{
			{Question: "How long have you had fever?", Answer: "3 days"},
			{Question: "Any chest pain?", Answer: clarify.NotAnswered},
		},
		Draft: diagnosis.Draft{
			Analysis:        "Acute febrile respiratory picture.",
			Diagnoses:       "Influenza",
			Recommendations: "Rest and fluids.",
			SuggestedExams:  []diagnosis.Exam{{Name: "Complete blood count"}, {Name: "Chest X-ray"}},
			Conclusion:      "Likely viral infection.",
		},
		Verdict: diagnosis.Verdict{
			Confidence:               85,
			Synthesis:                "Consistent with influenza.",
			FinalDiagnosisOrReferral: "Influenza A",
			Parsed:                   true,
		},
		IssuedAt: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestMarkdownGenerator_Render(t *testing.T) {
	out, err := NewMarkdownGenerator("").Render(testOrder())
	require.NoError(t, err)
	md := string(out)

	for _, want := range []string{
		"# Medical Order",
		"Issued: 2025-03-14 09:30",
		"- Name: Ana Diaz",
		"- National ID: 11111111-1",
		"fever, cough",
		"| How long have you had fever? | 3 days |",
		"| Any chest pain? | not answered |",
		"1. Complete blood count",
		"2. Chest X-ray",
		"Confidence: 85%",
		"Final diagnosis: Influenza A",
		Disclaimer,
	} {
		assert.Contains(t, md, want)
	}
	assert.NotContains(t, md, "Additional recommendations")
}

func TestMarkdownGenerator_Generate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "orders")
	ref, err := NewMarkdownGenerator(dir).Generate(context.Background(), testOrder())
	require.NoError(t, err)

	assert.Equal(t, FormatMarkdown, ref.Format)
	assert.Equal(t, filepath.Join(dir, "order_c0ffee_20250314-093000.md"), ref.Path)

	info, err := os.Stat(ref.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(ref.Path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Medical Order"))
}

func TestMarkdownGenerator_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMarkdownGenerator(t.TempDir()).Generate(ctx, testOrder())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPDFGenerator_FontFailure(t *testing.T) {
	tests := []struct {
		name     string
		fontPath string
	}{
		{"no font configured", ""},
		{"missing font file", filepath.Join(t.TempDir(), "missing.ttf")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			_, err := NewPDFGenerator(dir, tt.fontPath).Generate(context.Background(), testOrder())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrFontUnavailable)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "no partial order may be written")
		})
	}
}

func TestNew(t *testing.T) {
	g, err := New(config.DocumentsConfig{Format: "markdown", OutputDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &MarkdownGenerator{}, g)

	g, err = New(config.DocumentsConfig{Format: "pdf", FontPath: "/fonts/DejaVuSans.ttf"})
	require.NoError(t, err)
	assert.IsType(t, &PDFGenerator{}, g)

	_, err = New(config.DocumentsConfig{Format: "docx"})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
