package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fyrsmithlabs/consultd/internal/logging"
	"github.com/fyrsmithlabs/consultd/internal/session"
)

var tracer = otel.Tracer("consultd.orchestrator")

// Executor runs pipeline stages one at a time, checking gates at stage
// entry and bounding each stage with its own timeout.
type Executor struct {
	handlers         map[session.State]StageHandler
	gates            map[session.State][]StageGate
	timeout          time.Duration
	now              func() time.Time
	progressCallback ProgressCallback
}

// NewExecutor creates an executor. A non-positive timeout means stages
// only stop when the caller's context does.
func NewExecutor(timeout time.Duration, now func() time.Time) *Executor {
	if now == nil {
		now = time.Now
	}
	return &Executor{
		handlers: make(map[session.State]StageHandler),
		gates:    make(map[session.State][]StageGate),
		timeout:  timeout,
		now:      now,
	}
}

// RegisterHandler registers a stage handler
func (e *Executor) RegisterHandler(handler StageHandler) {
	e.handlers[handler.Stage()] = handler
}

// RegisterGate registers a gate for a stage
func (e *Executor) RegisterGate(stage session.State, gate StageGate) {
	e.gates[stage] = append(e.gates[stage], gate)
}

// OnProgress sets the progress callback
func (e *Executor) OnProgress(callback ProgressCallback) {
	e.progressCallback = callback
}

// Advance runs the stage for c's current state and applies the resulting
// transition. On error c may hold partial stage output; callers must not
// persist it.
func (e *Executor) Advance(ctx context.Context, c *session.Consultation) error {
	stage := c.State
	if stage.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, stage)
	}
	handler, ok := e.handlers[stage]
	if !ok {
		return fmt.Errorf("%w: no handler registered for stage %s", ErrInvalidTransition, stage)
	}

	ctx = logging.WithStage(ctx, string(stage))
	ctx, span := tracer.Start(ctx, "consultation.stage")
	defer span.End()
	span.SetAttributes(
		attribute.String("consultation.id", c.ID),
		attribute.String("consultation.stage", string(stage)),
	)

	violations, err := e.checkGates(ctx, stage, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gate check failed")
		return fmt.Errorf("gate check error for stage %s: %w", stage, err)
	}
	for _, v := range violations {
		if v.Severity == SeverityWarning {
			e.reportProgress(StageProgress{
				ConsultationID: c.ID,
				Stage:          stage,
				Status:         StatusStarted,
				Message:        fmt.Sprintf("warning: %s", v.Description),
			})
		}
	}
	if hasBlockingViolation(violations) {
		gerr := &GateError{Stage: stage, Violations: violations}
		msg := "blocked"
		if hasCriticalViolation(violations) {
			msg = "blocked (critical)"
		}
		e.reportProgress(StageProgress{
			ConsultationID: c.ID,
			Stage:          stage,
			Status:         StatusFailed,
			Message:        fmt.Sprintf("%s: %s", msg, describeViolations(violations)),
		})
		span.RecordError(gerr)
		span.SetStatus(codes.Error, "gate violation")
		return gerr
	}

	e.reportProgress(StageProgress{
		ConsultationID: c.ID,
		Stage:          stage,
		Status:         StatusStarted,
		Message:        fmt.Sprintf("Starting stage: %s", stage),
	})

	start := e.now()
	stageCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	next, err := handler.Execute(stageCtx, c)
	cancel()
	elapsed := e.now().Sub(start)

	// A stage timeout degrades inside the handler; a cancelled request
	// leaves the session untouched.
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil {
		err = c.Transition(next, e.now())
	}
	if err != nil {
		e.reportProgress(StageProgress{
			ConsultationID: c.ID,
			Stage:          stage,
			Status:         StatusFailed,
			Message:        err.Error(),
			Duration:       elapsed,
		})
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage failed")
		return err
	}

	span.SetAttributes(attribute.String("consultation.next", string(next)))
	span.SetStatus(codes.Ok, "")
	e.reportProgress(StageProgress{
		ConsultationID: c.ID,
		Stage:          stage,
		Next:           next,
		Status:         StatusCompleted,
		Message:        fmt.Sprintf("Completed stage: %s", stage),
		Duration:       elapsed,
	})
	return nil
}

// checkGates runs all gates for a stage and returns violations
func (e *Executor) checkGates(ctx context.Context, stage session.State, c *session.Consultation) ([]Violation, error) {
	gates, ok := e.gates[stage]
	if !ok {
		return nil, nil
	}

	var allViolations []Violation
	for _, gate := range gates {
		violations, err := gate.Check(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("gate %s check failed: %w", gate.Name(), err)
		}
		allViolations = append(allViolations, violations...)
	}

	return allViolations, nil
}

// reportProgress sends progress updates to the callback
func (e *Executor) reportProgress(progress StageProgress) {
	if e.progressCallback != nil {
		e.progressCallback(progress)
	}
}
