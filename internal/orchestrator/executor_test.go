package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/consultd/internal/clarify"
	"github.com/fyrsmithlabs/consultd/internal/intake"
	"github.com/fyrsmithlabs/consultd/internal/session"
	"github.com/fyrsmithlabs/consultd/internal/telemetry"
)

// stageTelemetry captures the spans of every executor test.
var stageTelemetry = func() *telemetry.TestTelemetry {
	tel := telemetry.NewTestTelemetry()
	tel.Install()
	return tel
}()

// MockStageHandler is a mock implementation of StageHandler
type MockStageHandler struct {
	mock.Mock
	stage session.State
}

func NewMockStageHandler(stage session.State) *MockStageHandler {
	return &MockStageHandler{stage: stage}
}

func (m *MockStageHandler) Stage() session.State {
	return m.stage
}

func (m *MockStageHandler) Execute(ctx context.Context, c *session.Consultation) (session.State, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(session.State), args.Error(1)
}

// MockStageGate is a mock implementation of StageGate
type MockStageGate struct {
	mock.Mock
	name string
}

func NewMockStageGate(name string) *MockStageGate {
	return &MockStageGate{name: name}
}

func (m *MockStageGate) Name() string {
	return m.name
}

func (m *MockStageGate) Check(ctx context.Context, c *session.Consultation) ([]Violation, error) {
	args := m.Called(ctx, c)
	return args.Get(0).([]Violation), args.Error(1)
}

func consultationIn(state session.State, now time.Time) *session.Consultation {
	c := session.New(now)
	c.State = state
	c.Patient = intake.Patient{Name: "Ana Diaz", NationalID: "11111111-1", Sex: intake.SexFemale, Age: 30, Weight: 60}
	c.Symptoms = intake.SymptomList{"fever"}
	c.QAFrozen = true
	return c
}

func TestNewExecutor(t *testing.T) {
	executor := NewExecutor(time.Second, nil)

	require.NotNil(t, executor)
	assert.NotNil(t, executor.handlers)
	assert.NotNil(t, executor.gates)
	assert.NotNil(t, executor.now)
}

func TestExecutor_Advance_Success(t *testing.T) {
	executor := NewExecutor(time.Second, nil)
	handler := NewMockStageHandler(session.StateRetrieval)
	handler.On("Execute", mock.Anything, mock.Anything).Return(session.StateDraft, nil)
	executor.RegisterHandler(handler)

	var progress []StageProgress
	executor.OnProgress(func(p StageProgress) { progress = append(progress, p) })

	c := consultationIn(session.StateRetrieval, time.Now())
	require.NoError(t, executor.Advance(context.Background(), c))

	assert.Equal(t, session.StateDraft, c.State)
	require.Len(t, c.History, 1)
	require.Len(t, progress, 2)
	assert.Equal(t, StatusStarted, progress[0].Status)
	assert.Equal(t, StatusCompleted, progress[1].Status)
	assert.Equal(t, session.StateDraft, progress[1].Next)
	handler.AssertExpectations(t)
}

func TestExecutor_Advance_RecordsStageSpan(t *testing.T) {
	executor := NewExecutor(time.Second, nil)
	handler := NewMockStageHandler(session.StateRetrieval)
	handler.On("Execute", mock.Anything, mock.Anything).Return(session.StateDraft, nil)
	executor.RegisterHandler(handler)

	c := consultationIn(session.StateRetrieval, time.Now())
	require.NoError(t, executor.Advance(context.Background(), c))

	stageTelemetry.AssertSpan(t, "consultation.stage", map[string]any{
		"consultation.id":    c.ID,
		"consultation.stage": "RETRIEVAL",
		"consultation.next":  "DRAFT",
	})
}

func TestExecutor_Advance_StageTimeout(t *testing.T) {
	executor := NewExecutor(20*time.Millisecond, nil)
	handler := NewMockStageHandler(session.StateRetrieval)
	handler.On("Execute", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		deadline, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(20*time.Millisecond), deadline, 20*time.Millisecond)
	}).Return(session.StateDraft, nil)
	executor.RegisterHandler(handler)

	c := consultationIn(session.StateRetrieval, time.Now())
	require.NoError(t, executor.Advance(context.Background(), c))
}

func TestExecutor_Advance_GateViolation(t *testing.T) {
	executor := NewExecutor(time.Second, nil)

	gate := NewMockStageGate("inputs")
	gate.On("Check", mock.Anything, mock.Anything).Return([]Violation{{
		Type:        ViolationMissingInput,
		Stage:       session.StateModeration,
		Description: "no symptoms recorded",
		Severity:    SeverityError,
	}}, nil)
	executor.RegisterGate(session.StateModeration, gate)

	// Not called because of the gate.
	handler := NewMockStageHandler(session.StateModeration)
	executor.RegisterHandler(handler)

	c := consultationIn(session.StateModeration, time.Now())
	err := executor.Advance(context.Background(), c)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGateViolation)
	assert.NotErrorIs(t, err, session.ErrNotFound)
	assert.Contains(t, err.Error(), "no symptoms recorded")
	assert.Equal(t, session.StateModeration, c.State)
	handler.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestExecutor_Advance_WarningDoesNotBlock(t *testing.T) {
	executor := NewExecutor(time.Second, nil)

	gate := NewMockStageGate("qa")
	gate.On("Check", mock.Anything, mock.Anything).Return([]Violation{{
		Type:        ViolationUnanswered,
		Description: "1 of 2 questions not answered",
		Severity:    SeverityWarning,
	}}, nil)
	executor.RegisterGate(session.StateModeration, gate)

	handler := NewMockStageHandler(session.StateModeration)
	handler.On("Execute", mock.Anything, mock.Anything).Return(session.StateRetrieval, nil)
	executor.RegisterHandler(handler)

	c := consultationIn(session.StateModeration, time.Now())
	require.NoError(t, executor.Advance(context.Background(), c))
	assert.Equal(t, session.StateRetrieval, c.State)
}

func TestExecutor_Advance_GateCheckError(t *testing.T) {
	executor := NewExecutor(time.Second, nil)
	gate := NewMockStageGate("broken")
	gate.On("Check", mock.Anything, mock.Anything).Return([]Violation(nil), errors.New("boom"))
	executor.RegisterGate(session.StateDraft, gate)
	executor.RegisterHandler(NewMockStageHandler(session.StateDraft))

	err := executor.Advance(context.Background(), consultationIn(session.StateDraft, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gate broken check failed")
}

func TestExecutor_Advance_HandlerError(t *testing.T) {
	executor := NewExecutor(time.Second, nil)
	handler := NewMockStageHandler(session.StateDraft)
	handler.On("Execute", mock.Anything, mock.Anything).Return(session.State(""), errors.New("handler failed"))
	executor.RegisterHandler(handler)

	var last StageProgress
	executor.OnProgress(func(p StageProgress) { last = p })

	c := consultationIn(session.StateDraft, time.Now())
	err := executor.Advance(context.Background(), c)

	require.Error(t, err)
	assert.Equal(t, session.StateDraft, c.State)
	assert.Equal(t, StatusFailed, last.Status)
}

func TestExecutor_Advance_IllegalNextState(t *testing.T) {
	executor := NewExecutor(time.Second, nil)
	handler := NewMockStageHandler(session.StateDraft)
	handler.On("Execute", mock.Anything, mock.Anything).Return(session.StateFinalized, nil)
	executor.RegisterHandler(handler)

	c := consultationIn(session.StateDraft, time.Now())
	err := executor.Advance(context.Background(), c)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestExecutor_Advance_NoHandlerOrTerminal(t *testing.T) {
	executor := NewExecutor(time.Second, nil)

	err := executor.Advance(context.Background(), consultationIn(session.StateDraft, time.Now()))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = executor.Advance(context.Background(), consultationIn(session.StateFinalized, time.Now()))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestExecutor_Advance_CancelledRequest(t *testing.T) {
	executor := NewExecutor(time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())

	handler := NewMockStageHandler(session.StateRetrieval)
	handler.On("Execute", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).
		Return(session.StateDraft, nil)
	executor.RegisterHandler(handler)

	c := consultationIn(session.StateRetrieval, time.Now())
	err := executor.Advance(ctx, c)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, session.StateRetrieval, c.State)
}

func TestAliveGate(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	gate := NewAliveGate(7*time.Minute, func() time.Time { return now })

	fresh := consultationIn(session.StateDraft, now.Add(-time.Minute))
	v, err := gate.Check(context.Background(), fresh)
	require.NoError(t, err)
	assert.Empty(t, v)

	stale := consultationIn(session.StateDraft, now.Add(-8*time.Minute))
	v, err = gate.Check(context.Background(), stale)
	require.NoError(t, err)
	require.Len(t, v, 1)
	assert.Equal(t, ViolationSessionExpired, v[0].Type)
	assert.Equal(t, SeverityCritical, v[0].Severity)

	gerr := &GateError{Stage: session.StateDraft, Violations: v}
	assert.ErrorIs(t, gerr, session.ErrNotFound)
	assert.ErrorIs(t, gerr, ErrGateViolation)

	disabled := NewAliveGate(0, nil)
	v, err = disabled.Check(context.Background(), stale)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestInputsGate(t *testing.T) {
	c := consultationIn(session.StateModeration, time.Now())
	v, err := NewInputsGate().Check(context.Background(), c)
	require.NoError(t, err)
	assert.Empty(t, v)

	c.Symptoms = nil
	c.Patient = intake.Patient{}
	v, err = NewInputsGate().Check(context.Background(), c)
	require.NoError(t, err)
	assert.Len(t, v, 2)
	assert.True(t, hasBlockingViolation(v))
}

func TestFrozenQAGate(t *testing.T) {
	gate := NewFrozenQAGate()
	c := consultationIn(session.StateModeration, time.Now())
	c.Questions = []string{"q1", "q2"}

	c.QAFrozen = false
	v, _ := gate.Check(context.Background(), c)
	require.Len(t, v, 1)
	assert.Equal(t, ViolationQANotFrozen, v[0].Type)

	c.QAFrozen = true
	c.QA = clarify.Pair(c.Questions, []string{"yes"})
	v, _ = gate.Check(context.Background(), c)
	require.Len(t, v, 1)
	assert.Equal(t, ViolationUnanswered, v[0].Type)
	assert.False(t, hasBlockingViolation(v))

	c.QA = c.QA[:1]
	v, _ = gate.Check(context.Background(), c)
	require.Len(t, v, 1)
	assert.Equal(t, SeverityError, v[0].Severity)
}
