// Package intake validates patient demographics and symptom lists.
//
// Validation is pure. A Patient only exists once all five fields passed, so
// no partial record ever reaches a later stage.
package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/consultd/internal/config"
)

// Field names, in prompt order.
const (
	FieldName       = "name"
	FieldNationalID = "national_id"
	FieldSex        = "sex"
	FieldAge        = "age"
	FieldWeight     = "weight"
)

// Fields lists every demographic field in prompt order.
var Fields = []string{FieldName, FieldNationalID, FieldSex, FieldAge, FieldWeight}

var (
	namePattern       = regexp.MustCompile(`^[\p{L} ]+$`)
	nationalIDPattern = regexp.MustCompile(`^\d{8}-[0-9K]$`)
)

// Sex is the closed set of accepted values.
type Sex string

const (
	SexMale        Sex = "male"
	SexFemale      Sex = "female"
	SexUnspecified Sex = "unspecified"
)

// ParseSex accepts the canonical names, single letters and Spanish aliases.
func ParseSex(s string) (Sex, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "m", "masculino":
		return SexMale, true
	case "female", "f", "femenino":
		return SexFemale, true
	case "unspecified", "u":
		return SexUnspecified, true
	}
	return "", false
}

// Patient is a validated demographic record. Treat as immutable.
type Patient struct {
	Name       string `json:"name"`
	NationalID string `json:"national_id"`
	Sex        Sex    `json:"sex"`
	Age        int    `json:"age"`
	Weight     int    `json:"weight"`
}

// RawPatient is unvalidated input as typed by a user or posted by a form.
type RawPatient struct {
	Name       string `json:"name"`
	NationalID string `json:"national_id"`
	Sex        string `json:"sex"`
	Age        string `json:"age"`
	Weight     string `json:"weight"`
}

// UnmarshalJSON accepts age and weight as JSON numbers or strings.
func (r *RawPatient) UnmarshalJSON(data []byte) error {
	var aux struct {
		Name       string          `json:"name"`
		NationalID string          `json:"national_id"`
		Sex        string          `json:"sex"`
		Age        json.RawMessage `json:"age"`
		Weight     json.RawMessage `json:"weight"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Name, r.NationalID, r.Sex = aux.Name, aux.NationalID, aux.Sex
	r.Age = rawScalar(aux.Age)
	r.Weight = rawScalar(aux.Weight)
	return nil
}

func rawScalar(m json.RawMessage) string {
	if len(m) == 0 || string(m) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(m, &s); err == nil {
		return s
	}
	return string(m)
}

// RawFromPatient converts a valid patient back to raw input.
func RawFromPatient(p Patient) RawPatient {
	return RawPatient{
		Name:       p.Name,
		NationalID: p.NationalID,
		Sex:        string(p.Sex),
		Age:        strconv.Itoa(p.Age),
		Weight:     strconv.Itoa(p.Weight),
	}
}

// FieldError is a user-correctable problem with one field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors lists every failing field.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, fe := range v {
		msgs[i] = fe.Error()
	}
	return "invalid patient data: " + strings.Join(msgs, "; ")
}

// AsValidationErrors extracts ValidationErrors from err.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var v ValidationErrors
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// Bounds are inclusive numeric limits.
type Bounds struct {
	AgeMin, AgeMax       int
	WeightMin, WeightMax int
}

// DefaultBounds matches the configuration defaults.
var DefaultBounds = Bounds{AgeMin: 0, AgeMax: 120, WeightMin: 1, WeightMax: 300}

// Validator checks raw input against Bounds.
type Validator struct {
	Bounds Bounds
}

// NewValidator builds a validator from the intake section.
func NewValidator(c config.IntakeConfig) *Validator {
	return &Validator{Bounds: Bounds{
		AgeMin:    c.AgeMin,
		AgeMax:    c.AgeMax,
		WeightMin: c.WeightMin,
		WeightMax: c.WeightMax,
	}}
}

// Validate runs every rule and reports all failures together.
func (v *Validator) Validate(raw RawPatient) (Patient, error) {
	var (
		p    Patient
		errs ValidationErrors
	)

	values := map[string]string{
		FieldName:       raw.Name,
		FieldNationalID: raw.NationalID,
		FieldSex:        raw.Sex,
		FieldAge:        raw.Age,
		FieldWeight:     raw.Weight,
	}
	for _, field := range Fields {
		if err := v.apply(&p, field, values[field]); err != nil {
			errs = append(errs, *err)
		}
	}

	if len(errs) > 0 {
		return Patient{}, errs
	}
	return p, nil
}

// ValidateField checks a single field, for prompt-at-a-time intake.
func (v *Validator) ValidateField(field, value string) error {
	var p Patient
	if err := v.apply(&p, field, value); err != nil {
		return *err
	}
	return nil
}

func (v *Validator) apply(p *Patient, field, value string) *FieldError {
	value = strings.TrimSpace(value)
	fail := func(format string, args ...any) *FieldError {
		return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
	}

	switch field {
	case FieldName:
		name := strings.Join(strings.Fields(value), " ")
		if name == "" {
			return fail("is required")
		}
		if !namePattern.MatchString(name) {
			return fail("must contain only letters and spaces")
		}
		p.Name = name
	case FieldNationalID:
		id := strings.ToUpper(strings.ReplaceAll(value, ".", ""))
		if id == "" {
			return fail("is required")
		}
		if !nationalIDPattern.MatchString(id) {
			return fail("must match NNNNNNNN-D where D is a digit or K")
		}
		p.NationalID = id
	case FieldSex:
		sex, ok := ParseSex(value)
		if !ok {
			return fail("must be one of male, female, unspecified")
		}
		p.Sex = sex
	case FieldAge:
		n, err := parseBounded(value, v.Bounds.AgeMin, v.Bounds.AgeMax)
		if err != nil {
			return fail("%s", err)
		}
		p.Age = n
	case FieldWeight:
		n, err := parseBounded(value, v.Bounds.WeightMin, v.Bounds.WeightMax)
		if err != nil {
			return fail("%s", err)
		}
		p.Weight = n
	default:
		return fail("unknown field")
	}
	return nil
}

func parseBounded(value string, min, max int) (int, error) {
	if value == "" {
		return 0, errors.New("is required")
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.New("must be a whole number")
	}
	if n < min || n > max {
		return 0, fmt.Errorf("must be between %d and %d", min, max)
	}
	return n, nil
}
