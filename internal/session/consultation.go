package session

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/consultd/internal/clarify"
	"github.com/fyrsmithlabs/consultd/internal/diagnosis"
	"github.com/fyrsmithlabs/consultd/internal/document"
	"github.com/fyrsmithlabs/consultd/internal/escalation"
	"github.com/fyrsmithlabs/consultd/internal/intake"
	"github.com/fyrsmithlabs/consultd/internal/knowledge"
	"github.com/fyrsmithlabs/consultd/internal/moderation"
)

// Transition records one state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Consultation is the aggregate root of one consultation attempt. It owns
// every entity produced along the pipeline.
type Consultation struct {
	ID    string `json:"id"`
	State State  `json:"state"`

	Patient  intake.Patient     `json:"patient"`
	Symptoms intake.SymptomList `json:"symptoms,omitempty"`

	// Questions are the generated follow-up questions. QA pairs them with
	// answers once submitted; QAFrozen is set at that point.
	Questions []string     `json:"questions,omitempty"`
	QA        []clarify.QA `json:"qa,omitempty"`
	QAFrozen  bool         `json:"qa_frozen"`

	Moderation *moderation.Result `json:"moderation,omitempty"`
	Snippet    *knowledge.Snippet `json:"snippet,omitempty"`
	Draft      *diagnosis.Draft   `json:"draft,omitempty"`
	Verdict    *diagnosis.Verdict `json:"verdict,omitempty"`

	Outcome  escalation.Outcome `json:"outcome,omitempty"`
	Referral string             `json:"referral,omitempty"`
	Document *document.Ref      `json:"document,omitempty"`

	// Degraded lists external calls that fell back to a safe default.
	Degraded []string `json:"degraded,omitempty"`

	History   []Transition `json:"history,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// New creates a consultation in INTAKE with a fresh id.
func New(now time.Time) *Consultation {
	return &Consultation{
		ID:        uuid.NewString(),
		State:     StateIntake,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves to next if allowed and records the change.
func (c *Consultation) Transition(next State, now time.Time) error {
	if err := c.State.CanTransition(next); err != nil {
		return err
	}
	c.History = append(c.History, Transition{From: c.State, To: next, At: now})
	c.State = next
	c.UpdatedAt = now
	return nil
}

// Degrade appends a degradation note.
func (c *Consultation) Degrade(note string) {
	c.Degraded = append(c.Degraded, note)
}

// Refer records a referral outcome. The caller still performs the
// transition.
func (c *Consultation) Refer(message string) {
	c.Outcome = escalation.Refer
	c.Referral = message
}

// Clone returns a deep copy, so store readers never share mutable state
// with the pipeline.
func (c *Consultation) Clone() *Consultation {
	if c == nil {
		return nil
	}
	out := *c
	out.Symptoms = slices.Clone(c.Symptoms)
	out.Questions = slices.Clone(c.Questions)
	out.QA = slices.Clone(c.QA)
	out.Degraded = slices.Clone(c.Degraded)
	out.History = slices.Clone(c.History)

	if c.Moderation != nil {
		m := *c.Moderation
		m.Categories = slices.Clone(c.Moderation.Categories)
		out.Moderation = &m
	}
	if c.Snippet != nil {
		s := *c.Snippet
		out.Snippet = &s
	}
	if c.Draft != nil {
		d := *c.Draft
		d.SuggestedExams = slices.Clone(c.Draft.SuggestedExams)
		out.Draft = &d
	}
	if c.Verdict != nil {
		v := *c.Verdict
		out.Verdict = &v
	}
	if c.Document != nil {
		r := *c.Document
		out.Document = &r
	}
	return &out
}
