// Package document renders the clinical order issued when a consultation
// is finalized.
package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/consultd/internal/clarify"
	"github.com/fyrsmithlabs/consultd/internal/config"
	"github.com/fyrsmithlabs/consultd/internal/diagnosis"
	"github.com/fyrsmithlabs/consultd/internal/intake"
)

// Supported formats.
const (
	FormatMarkdown = "markdown"
	FormatPDF      = "pdf"
)

var (
	// ErrUnknownFormat is returned for an unsupported documents.format.
	ErrUnknownFormat = errors.New("unknown document format")

	// ErrFontUnavailable is returned when the PDF font cannot be loaded.
	ErrFontUnavailable = errors.New("pdf font unavailable")
)

// Disclaimer closes every order.
const Disclaimer = "This order was produced by an automated assistant and reviewed by an automated supervisor. " +
	"It does not replace an in-person medical consultation."

// Order is everything printed on a clinical order.
type Order struct {
	ConsultationID string
	Patient        intake.Patient
	Symptoms       intake.SymptomList
	QA             []clarify.QA
	Draft          diagnosis.Draft
	Verdict        diagnosis.Verdict
	IssuedAt       time.Time
}

// Ref points at a rendered order.
type Ref struct {
	Path   string `json:"path"`
	Format string `json:"format"`
}

// Generator renders an order and returns where it was written.
type Generator interface {
	Generate(ctx context.Context, o Order) (Ref, error)
}

// New builds the generator selected by the documents section.
func New(cfg config.DocumentsConfig) (Generator, error) {
	switch cfg.Format {
	case FormatMarkdown, "":
		return NewMarkdownGenerator(cfg.OutputDir), nil
	case FormatPDF:
		return NewPDFGenerator(cfg.OutputDir, cfg.FontPath), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, cfg.Format)
	}
}

// fileName is "order_<id>_<yyyymmdd-hhmmss>.<ext>".
func fileName(o Order, ext string) string {
	id := o.ConsultationID
	if id == "" {
		id = "consultation"
	}
	return fmt.Sprintf("order_%s_%s.%s", id, o.IssuedAt.UTC().Format("20060102-150405"), ext)
}

// writeFile creates dir if needed and writes data with owner-only access,
// since orders carry patient data.
func writeFile(dir, name string, data []byte) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing order: %w", err)
	}
	return path, nil
}
