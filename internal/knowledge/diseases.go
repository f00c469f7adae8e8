package knowledge

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMissingColumn is returned when the CSV lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

// Disease is one row of the reference CSV.
type Disease struct {
	Name       string
	Symptoms   [6]string
	Treatment  string
	Medication string
	SickLeave  string
}

// columnAliases maps accepted headers onto canonical keys. The Spanish
// headers come from the original data set.
var columnAliases = map[string]string{
	"nombre": "name", "name": "name",
	"sintoma_1": "symptom_1", "symptom_1": "symptom_1",
	"sintoma_2": "symptom_2", "symptom_2": "symptom_2",
	"sintoma_3": "symptom_3", "symptom_3": "symptom_3",
	"sintoma_4": "symptom_4", "symptom_4": "symptom_4",
	"sintoma_5": "symptom_5", "symptom_5": "symptom_5",
	"sintoma_6": "symptom_6", "symptom_6": "symptom_6",
	"solucion": "treatment", "treatment": "treatment",
	"medicamento": "medication", "medication": "medication",
	"licencia_medica": "sick_leave", "sick_leave": "sick_leave",
}

// symptomLabels rank the six symptom columns.
var symptomLabels = [6]string{
	"Main symptom",
	"Secondary symptom",
	"Common symptom",
	"Moderate symptom",
	"Minor symptom",
	"Incidental symptom",
}

// LoadDiseases parses the reference CSV. Only the name column is required;
// rows with a blank name are skipped.
func LoadDiseases(r io.Reader) ([]Disease, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if canon, ok := columnAliases[key]; ok {
			cols[canon] = i
		}
	}
	if _, ok := cols["name"]; !ok {
		return nil, fmt.Errorf("%w: name", ErrMissingColumn)
	}

	var out []Disease
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading line %d: %w", line, err)
		}

		get := func(key string) string {
			i, ok := cols[key]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		d := Disease{
			Name:       get("name"),
			Treatment:  get("treatment"),
			Medication: get("medication"),
			SickLeave:  get("sick_leave"),
		}
		if d.Name == "" {
			continue
		}
		for i := range d.Symptoms {
			d.Symptoms[i] = get(fmt.Sprintf("symptom_%d", i+1))
		}
		out = append(out, d)
	}
	return out, nil
}

// Document renders the reference text indexed for d.
func (d Disease) Document() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Disease: %s\n", d.Name)
	for i, s := range d.Symptoms {
		if s != "" {
			fmt.Fprintf(&b, "%s: %s\n", symptomLabels[i], s)
		}
	}
	if d.Treatment != "" {
		fmt.Fprintf(&b, "Treatment: %s\n", d.Treatment)
	}
	if d.Medication != "" {
		fmt.Fprintf(&b, "Medication: %s\n", d.Medication)
	}
	if d.SickLeave != "" {
		fmt.Fprintf(&b, "Sick leave: %s\n", d.SickLeave)
	}
	return b.String()
}

// Slug is a stable identifier derived from the disease name.
func (d Disease) Slug() string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(d.Name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
