package intake

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrTooManyAttempts is returned when a field keeps failing validation.
var ErrTooManyAttempts = errors.New("too many invalid attempts")

var fieldLabels = map[string]string{
	FieldName:       "Full name",
	FieldNationalID: "National ID (NNNNNNNN-D)",
	FieldSex:        "Sex (male/female/unspecified)",
	FieldAge:        "Age",
	FieldWeight:     "Weight (kg)",
}

// Prompter collects input one line at a time from a terminal.
type Prompter struct {
	in         *bufio.Scanner
	out        io.Writer
	validator  *Validator
	maxRetries int
}

// NewPrompter reads from r and writes prompts to w. Each field gets at most
// maxRetries attempts.
func NewPrompter(r io.Reader, w io.Writer, v *Validator, maxRetries int) *Prompter {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Prompter{in: bufio.NewScanner(r), out: w, validator: v, maxRetries: maxRetries}
}

// Patient prompts for every field, failing fast on the first field that
// exhausts its attempts.
func (p *Prompter) Patient() (Patient, error) {
	raw := map[string]string{}
	for _, field := range Fields {
		value, err := p.field(field)
		if err != nil {
			return Patient{}, err
		}
		raw[field] = value
	}
	return p.validator.Validate(RawPatient{
		Name:       raw[FieldName],
		NationalID: raw[FieldNationalID],
		Sex:        raw[FieldSex],
		Age:        raw[FieldAge],
		Weight:     raw[FieldWeight],
	})
}

func (p *Prompter) field(field string) (string, error) {
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		value, err := p.Ask(fieldLabels[field])
		if err != nil {
			return "", err
		}
		verr := p.validator.ValidateField(field, value)
		if verr == nil {
			return value, nil
		}
		fmt.Fprintf(p.out, "  %s (attempt %d of %d)\n", verr, attempt, p.maxRetries)
	}
	return "", fmt.Errorf("%w: %s", ErrTooManyAttempts, field)
}

// Symptoms prompts until at least one symptom is entered or attempts run out.
func (p *Prompter) Symptoms() (SymptomList, error) {
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		line, err := p.Ask("Symptoms (comma separated)")
		if err != nil {
			return nil, err
		}
		if list := ParseSymptoms(line); len(list) > 0 {
			return list, nil
		}
		fmt.Fprintf(p.out, "  %s (attempt %d of %d)\n", ErrNoSymptoms, attempt, p.maxRetries)
	}
	return nil, fmt.Errorf("%w: symptoms", ErrTooManyAttempts)
}

// Ask writes a prompt and returns the trimmed reply.
func (p *Prompter) Ask(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return "", io.ErrUnexpectedEOF
	}
	return strings.TrimSpace(p.in.Text()), nil
}
