package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/consultd/internal/clarify"
	"github.com/fyrsmithlabs/consultd/internal/diagnosis"
	"github.com/fyrsmithlabs/consultd/internal/intake"
	"github.com/fyrsmithlabs/consultd/internal/knowledge"
	"github.com/fyrsmithlabs/consultd/internal/moderation"
	"github.com/fyrsmithlabs/consultd/internal/session"
)

var (
	// ErrInvalidTransition is returned when an operation does not apply to
	// the session's current state.
	ErrInvalidTransition = session.ErrInvalidTransition

	// ErrGateViolation is returned when a stage gate blocks execution.
	ErrGateViolation = errors.New("stage gate violation")
)

// StageStatus is the status reported for a stage.
type StageStatus string

const (
	StatusStarted   StageStatus = "started"
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
)

// Violation is a precondition a stage found unmet at entry.
type Violation struct {
	Type        ViolationType `json:"type"`
	Stage       session.State `json:"stage"`
	Description string        `json:"description"`
	Severity    Severity      `json:"severity"`
	DetectedAt  time.Time     `json:"detected_at"`
}

// ViolationType categorizes violations.
type ViolationType string

const (
	ViolationSessionExpired ViolationType = "session_expired"
	ViolationMissingInput   ViolationType = "missing_input"
	ViolationQANotFrozen    ViolationType = "qa_not_frozen"
	ViolationUnanswered     ViolationType = "unanswered_questions"
)

// Severity indicates how serious a violation is.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// GateError carries the blocking violations of a stage.
type GateError struct {
	Stage      session.State
	Violations []Violation
}

func (e *GateError) Error() string {
	return fmt.Sprintf("gate violation for stage %s: %s", e.Stage, describeViolations(e.Violations))
}

// Is matches ErrGateViolation, and session.ErrNotFound when the session
// expired.
func (e *GateError) Is(target error) bool {
	switch target {
	case ErrGateViolation:
		return true
	case session.ErrNotFound:
		for _, v := range e.Violations {
			if v.Type == ViolationSessionExpired {
				return true
			}
		}
	}
	return false
}

// StageGate checks preconditions at stage entry.
type StageGate interface {
	// Name returns the gate identifier
	Name() string

	// Check returns violations; an error means the check itself failed.
	Check(ctx context.Context, c *session.Consultation) ([]Violation, error)
}

// StageHandler runs one pipeline stage and returns the next state. It
// mutates c and never returns an error for a degraded external call.
type StageHandler interface {
	// Stage returns the state this handler runs in
	Stage() session.State

	Execute(ctx context.Context, c *session.Consultation) (session.State, error)
}

// StageProgress reports a stage start, completion or failure.
type StageProgress struct {
	ConsultationID string        `json:"consultation_id"`
	Stage          session.State `json:"stage"`
	Next           session.State `json:"next,omitempty"`
	Status         StageStatus   `json:"status"`
	Message        string        `json:"message"`
	Duration       time.Duration `json:"duration,omitempty"`
}

// ProgressCallback receives progress updates during execution.
type ProgressCallback func(progress StageProgress)

// Component boundaries. The concrete types live in their own packages;
// the orchestrator only needs these methods.
type (
	QuestionGenerator interface {
		Questions(ctx context.Context, p intake.Patient, symptoms intake.SymptomList) ([]string, error)
	}

	Moderator interface {
		Check(ctx context.Context, in moderation.Input) moderation.Result
	}

	Retriever interface {
		Lookup(ctx context.Context, symptoms intake.SymptomList, qa []clarify.QA) (knowledge.Snippet, error)
	}

	Drafter interface {
		Draft(ctx context.Context, c diagnosis.Case) (diagnosis.Draft, error)
	}

	Reviewer interface {
		Review(ctx context.Context, c diagnosis.Case, d diagnosis.Draft) (diagnosis.Verdict, error)
	}
)

func hasCriticalViolation(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// hasBlockingViolation checks if any violation should block execution
func hasBlockingViolation(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityError || v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

func describeViolations(violations []Violation) string {
	if len(violations) == 0 {
		return ""
	}
	var parts []string
	for _, v := range violations {
		parts = append(parts, fmt.Sprintf("[%s] %s", v.Type, v.Description))
	}
	return strings.Join(parts, "; ")
}
