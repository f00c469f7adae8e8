package document

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/signintech/gopdf"
)

const (
	fontFamily  = "order"
	pageMargin  = 50.0
	textWidth   = 495.0
	pageBottom  = 790.0
	lineHeight  = 14.0
	titleSize   = 16
	headingSize = 13
	bodySize    = 11
)

// PDFGenerator writes orders as A4 PDF files. A TrueType font is required;
// it must cover every script patients may type.
type PDFGenerator struct {
	dir      string
	fontPath string
}

// NewPDFGenerator writes into dir using the TTF font at fontPath.
func NewPDFGenerator(dir, fontPath string) *PDFGenerator {
	return &PDFGenerator{dir: dir, fontPath: fontPath}
}

// Generate renders and writes the order.
func (g *PDFGenerator) Generate(ctx context.Context, o Order) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}
	data, err := g.Render(o)
	if err != nil {
		return Ref{}, err
	}
	path, err := writeFile(g.dir, fileName(o, "pdf"), data)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Path: path, Format: FormatPDF}, nil
}

// Render returns the PDF bytes of an order.
func (g *PDFGenerator) Render(o Order) ([]byte, error) {
	if g.fontPath == "" {
		return nil, fmt.Errorf("%w: no font path configured", ErrFontUnavailable)
	}

	w := &pdfWriter{}
	w.pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	w.pdf.SetMargins(pageMargin, pageMargin, pageMargin, pageMargin)
	w.pdf.AddPage()
	if err := w.pdf.AddTTFFont(fontFamily, g.fontPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFontUnavailable, err)
	}

	w.title("MEDICAL ORDER")
	w.line(fmt.Sprintf("Issued: %s", o.IssuedAt.Format("02.01.2006 15:04")))
	w.gap()

	w.heading("Patient")
	w.line("Name: " + o.Patient.Name)
	w.line("National ID: " + o.Patient.NationalID)
	w.line("Sex: " + string(o.Patient.Sex))
	w.line("Age: " + strconv.Itoa(o.Patient.Age))
	w.line("Weight: " + strconv.Itoa(o.Patient.Weight) + " kg")
	w.separator()

	w.heading("Reported symptoms")
	w.paragraph(o.Symptoms.String())
	if len(o.QA) > 0 {
		w.heading("Additional questions")
		for _, qa := range o.QA {
			w.paragraph("Q: " + qa.Question)
			w.paragraph("A: " + qa.Answer)
		}
	}
	w.separator()

	w.section("Analysis", o.Draft.Analysis)
	w.section("Diagnosis", o.Draft.Diagnoses)
	w.section("Recommendations", o.Draft.Recommendations)
	if len(o.Draft.SuggestedExams) > 0 {
		w.heading("Suggested exams")
		for i, e := range o.Draft.SuggestedExams {
			w.paragraph(fmt.Sprintf("%d. %s", i+1, e.Name))
		}
	}
	w.section("Conclusion", o.Draft.Conclusion)
	w.separator()

	w.heading("Supervisor review")
	w.line(fmt.Sprintf("Confidence: %d%%", o.Verdict.Confidence))
	w.paragraph(o.Verdict.Synthesis)
	w.section("Final diagnosis", o.Verdict.FinalDiagnosisOrReferral)
	w.section("Additional recommendations", o.Verdict.ExtraRecommendations)
	w.separator()

	w.size(9)
	w.paragraph(Disclaimer)

	if w.err != nil {
		return nil, fmt.Errorf("rendering order: %w", w.err)
	}
	var buf bytes.Buffer
	if _, err := w.pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("writing pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// pdfWriter keeps the first error so layout code reads top to bottom.
type pdfWriter struct {
	pdf gopdf.GoPdf
	err error
}

func (w *pdfWriter) size(pt int) {
	if w.err != nil {
		return
	}
	w.err = w.pdf.SetFont(fontFamily, "", pt)
}

func (w *pdfWriter) title(text string) {
	w.size(titleSize)
	w.line(text)
	w.gap()
}

func (w *pdfWriter) heading(text string) {
	w.size(headingSize)
	w.line(text)
	w.size(bodySize)
}

func (w *pdfWriter) section(name, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	w.heading(name)
	w.paragraph(body)
}

func (w *pdfWriter) line(text string) {
	if w.err != nil {
		return
	}
	if w.pdf.GetY() > pageBottom {
		w.pdf.AddPage()
	}
	w.pdf.SetX(pageMargin)
	if text != "" {
		if err := w.pdf.Cell(nil, text); err != nil {
			w.err = err
			return
		}
	}
	w.pdf.Br(lineHeight)
}

// paragraph wraps text to the page width, one output line per source line
// fragment.
func (w *pdfWriter) paragraph(text string) {
	for _, src := range strings.Split(text, "\n") {
		src = strings.TrimRight(src, " \t\r")
		if src == "" {
			continue
		}
		if w.err != nil {
			return
		}
		lines, err := w.pdf.SplitText(src, textWidth)
		if err != nil {
			w.err = err
			return
		}
		for _, l := range lines {
			w.line(l)
		}
	}
	w.pdf.Br(4)
}

func (w *pdfWriter) separator() {
	if w.err != nil {
		return
	}
	y := w.pdf.GetY() + 4
	w.pdf.SetLineWidth(0.5)
	w.pdf.Line(pageMargin, y, pageMargin+textWidth, y)
	w.pdf.SetY(y + 10)
}

func (w *pdfWriter) gap() {
	w.pdf.Br(lineHeight / 2)
}
