package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/consultd/internal/clarify"
	"github.com/fyrsmithlabs/consultd/internal/session"
)

// AliveGate rejects sessions whose inactivity window elapsed. The store
// only expires idle sessions; this gate covers a session held across a
// long pipeline run.
type AliveGate struct {
	ttl time.Duration
	now func() time.Time
}

// NewAliveGate creates a gate for the given inactivity window. A
// non-positive ttl disables it.
func NewAliveGate(ttl time.Duration, now func() time.Time) *AliveGate {
	if now == nil {
		now = time.Now
	}
	return &AliveGate{ttl: ttl, now: now}
}

// Name returns the gate identifier
func (g *AliveGate) Name() string {
	return "session-alive"
}

// Check compares the last update against the window.
func (g *AliveGate) Check(_ context.Context, c *session.Consultation) ([]Violation, error) {
	if g.ttl <= 0 {
		return nil, nil
	}
	now := g.now()
	if idle := now.Sub(c.UpdatedAt); idle > g.ttl {
		return []Violation{{
			Type:        ViolationSessionExpired,
			Stage:       c.State,
			Description: fmt.Sprintf("session idle for %s, limit %s", idle.Round(time.Second), g.ttl),
			Severity:    SeverityCritical,
			DetectedAt:  now,
		}}, nil
	}
	return nil, nil
}

// InputsGate requires a validated patient and a non-empty symptom list.
type InputsGate struct{}

// NewInputsGate creates the gate.
func NewInputsGate() *InputsGate {
	return &InputsGate{}
}

// Name returns the gate identifier
func (g *InputsGate) Name() string {
	return "inputs-present"
}

// Check reports each missing input.
func (g *InputsGate) Check(_ context.Context, c *session.Consultation) ([]Violation, error) {
	var violations []Violation
	if c.Patient.Name == "" || c.Patient.NationalID == "" {
		violations = append(violations, Violation{
			Type:        ViolationMissingInput,
			Stage:       c.State,
			Description: "no validated patient",
			Severity:    SeverityError,
			DetectedAt:  time.Now(),
		})
	}
	if len(c.Symptoms) == 0 {
		violations = append(violations, Violation{
			Type:        ViolationMissingInput,
			Stage:       c.State,
			Description: "no symptoms recorded",
			Severity:    SeverityError,
			DetectedAt:  time.Now(),
		})
	}
	return violations, nil
}

// FrozenQAGate requires the question/answer sequence to be frozen and
// complete. Unanswered questions are only a warning: they carry the
// explicit marker.
type FrozenQAGate struct{}

// NewFrozenQAGate creates the gate.
func NewFrozenQAGate() *FrozenQAGate {
	return &FrozenQAGate{}
}

// Name returns the gate identifier
func (g *FrozenQAGate) Name() string {
	return "qa-frozen"
}

// Check validates the frozen sequence.
func (g *FrozenQAGate) Check(_ context.Context, c *session.Consultation) ([]Violation, error) {
	if !c.QAFrozen {
		return []Violation{{
			Type:        ViolationQANotFrozen,
			Stage:       c.State,
			Description: "answers were not submitted",
			Severity:    SeverityError,
			DetectedAt:  time.Now(),
		}}, nil
	}
	if len(c.QA) != len(c.Questions) {
		return []Violation{{
			Type:        ViolationQANotFrozen,
			Stage:       c.State,
			Description: fmt.Sprintf("%d answers for %d questions", len(c.QA), len(c.Questions)),
			Severity:    SeverityError,
			DetectedAt:  time.Now(),
		}}, nil
	}
	if missing := len(c.QA) - clarify.CountAnswered(c.QA); missing > 0 {
		return []Violation{{
			Type:        ViolationUnanswered,
			Stage:       c.State,
			Description: fmt.Sprintf("%d of %d questions not answered", missing, len(c.QA)),
			Severity:    SeverityWarning,
			DetectedAt:  time.Now(),
		}}, nil
	}
	return nil, nil
}
