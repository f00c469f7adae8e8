package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/consultd/internal/archive"
	"github.com/fyrsmithlabs/consultd/internal/clarify"
	"github.com/fyrsmithlabs/consultd/internal/config"
	"github.com/fyrsmithlabs/consultd/internal/document"
	"github.com/fyrsmithlabs/consultd/internal/escalation"
	"github.com/fyrsmithlabs/consultd/internal/events"
	"github.com/fyrsmithlabs/consultd/internal/intake"
	"github.com/fyrsmithlabs/consultd/internal/logging"
	"github.com/fyrsmithlabs/consultd/internal/session"
)

// Deps are the collaborators of an Orchestrator. Events, Archive, Logger
// and Metrics are optional.
type Deps struct {
	Store     session.Store
	Validator *intake.Validator
	Questions QuestionGenerator
	Moderator Moderator
	Retriever Retriever
	Drafter   Drafter
	Reviewer  Reviewer
	Documents document.Generator
	Events    events.Publisher
	Archive   archive.Archiver
	Logger    *logging.Logger
	Metrics   *Metrics
}

// Options tune the pipeline.
type Options struct {
	StageTimeout        time.Duration
	SessionTTL          time.Duration
	ConfidenceThreshold int
	Now                 func() time.Time
}

// OptionsFromConfig reads the pipeline, session and supervision sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		StageTimeout:        cfg.Pipeline.StageTimeout.Duration(),
		SessionTTL:          cfg.Session.TTL.Duration(),
		ConfidenceThreshold: cfg.Supervision.ConfidenceThreshold,
	}
}

// Orchestrator exposes the session-scoped consultation API. Every
// operation holds the session exclusively while it runs.
type Orchestrator struct {
	store     session.Store
	validator *intake.Validator
	questions QuestionGenerator
	executor  *Executor
	events    events.Publisher
	archive   archive.Archiver
	logger    *logging.Logger
	metrics   *Metrics
	timeout   time.Duration
	now       func() time.Time
}

// New wires the stages and gates.
func New(d Deps, opts Options) (*Orchestrator, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("session store required")
	case d.Validator == nil:
		return nil, errors.New("intake validator required")
	case d.Questions == nil, d.Moderator == nil, d.Retriever == nil, d.Drafter == nil, d.Reviewer == nil:
		return nil, errors.New("all pipeline components are required")
	case d.Documents == nil:
		return nil, errors.New("document generator required")
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Archive == nil {
		d.Archive = archive.Nop{}
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ConfidenceThreshold == 0 {
		opts.ConfidenceThreshold = escalation.DefaultThreshold
	}

	o := &Orchestrator{
		store:     d.Store,
		validator: d.Validator,
		questions: d.Questions,
		events:    d.Events,
		archive:   d.Archive,
		logger:    d.Logger.Named("orchestrator"),
		metrics:   d.Metrics,
		timeout:   opts.StageTimeout,
		now:       opts.Now,
	}

	ex := NewExecutor(opts.StageTimeout, opts.Now)
	ex.RegisterHandler(&moderationStage{moderator: d.Moderator})
	ex.RegisterHandler(&retrievalStage{retriever: d.Retriever})
	ex.RegisterHandler(&draftStage{drafter: d.Drafter})
	ex.RegisterHandler(&supervisionStage{
		reviewer:  d.Reviewer,
		documents: d.Documents,
		threshold: opts.ConfidenceThreshold,
		now:       opts.Now,
	})

	alive := NewAliveGate(opts.SessionTTL, opts.Now)
	inputs := NewInputsGate()
	for _, st := range []session.State{session.StateModeration, session.StateRetrieval, session.StateDraft, session.StateSupervision} {
		ex.RegisterGate(st, alive)
		ex.RegisterGate(st, inputs)
	}
	ex.RegisterGate(session.StateModeration, NewFrozenQAGate())
	ex.OnProgress(o.onProgress)
	o.executor = ex

	return o, nil
}

// StartSession validates every demographic field at once. Invalid input
// creates no session and returns intake.ValidationErrors.
func (o *Orchestrator) StartSession(ctx context.Context, raw intake.RawPatient) (*session.Consultation, error) {
	p, err := o.validator.Validate(raw)
	if err != nil {
		return nil, err
	}

	c := session.New(o.now())
	c.Patient = p
	if err := c.Transition(session.StateSymptoms, o.now()); err != nil {
		return nil, err
	}
	if err := o.store.Put(ctx, c); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}

	ctx = logging.WithConsultationID(ctx, c.ID)
	o.logger.Info(ctx, "consultation started")
	if o.metrics != nil {
		o.metrics.SessionsStarted.Inc()
	}
	o.publish(ctx, c, events.KindStarted)
	return c.Clone(), nil
}

// SubmitSymptoms records the normalized list. A list that is empty after
// trimming returns intake.ErrNoSymptoms and the session stays in SYMPTOMS.
func (o *Orchestrator) SubmitSymptoms(ctx context.Context, id string, symptoms []string) (*session.Consultation, error) {
	return o.mutate(ctx, id, func(ctx context.Context, c *session.Consultation) error {
		if err := expectState(c, session.StateSymptoms); err != nil {
			return err
		}
		list := intake.NormalizeSymptoms(symptoms)
		if len(list) == 0 {
			return intake.ErrNoSymptoms
		}
		c.Symptoms = list
		return c.Transition(session.StateClarification, o.now())
	})
}

// GenerateQuestions (re)generates the follow-up questions. Any earlier
// questions and answers are discarded. A model failure leaves an empty
// question list and a degradation note.
func (o *Orchestrator) GenerateQuestions(ctx context.Context, id string) (*session.Consultation, error) {
	return o.mutate(ctx, id, func(ctx context.Context, c *session.Consultation) error {
		if err := expectState(c, session.StateClarification); err != nil {
			return err
		}

		stageCtx, cancel := o.stageContext(logging.WithStage(ctx, string(session.StateClarification)))
		qs, err := o.questions.Questions(stageCtx, c.Patient, c.Symptoms)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Warn(ctx, "question generation failed, continuing without questions", zap.Error(err))
			c.Degrade("clarification: " + err.Error())
			if o.metrics != nil {
				o.metrics.Degradations.WithLabelValues("clarification").Inc()
			}
			qs = nil
		}

		c.Questions = qs
		c.QA = nil
		return c.Transition(session.StateClarification, o.now())
	})
}

// SubmitAnswers pairs answers with the generated questions, marks missing
// ones as not answered and freezes the sequence.
func (o *Orchestrator) SubmitAnswers(ctx context.Context, id string, answers []string) (*session.Consultation, error) {
	return o.mutate(ctx, id, func(ctx context.Context, c *session.Consultation) error {
		if err := expectState(c, session.StateClarification); err != nil {
			return err
		}
		c.QA = clarify.Pair(c.Questions, answers)
		c.QAFrozen = true
		return c.Transition(session.StateModeration, o.now())
	})
}

// Run drives the session from MODERATION to a terminal state, one stage at
// a time, saving after every stage. Running a finished session returns it
// unchanged.
func (o *Orchestrator) Run(ctx context.Context, id string) (*session.Consultation, error) {
	c, release, err := o.store.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()
	ctx = logging.WithConsultationID(ctx, c.ID)

	if c.State.Terminal() {
		return c, nil
	}
	switch c.State {
	case session.StateIntake, session.StateSymptoms, session.StateClarification:
		return nil, fmt.Errorf("%w: cannot run from %s", ErrInvalidTransition, c.State)
	}

	for !c.State.Terminal() {
		degradedBefore := len(c.Degraded)
		if err := o.executor.Advance(ctx, c); err != nil {
			o.countViolations(err)
			if errors.Is(err, session.ErrNotFound) {
				o.expire(ctx, c)
				return nil, session.ErrNotFound
			}
			return nil, err
		}
		o.countDegradations(c.Degraded[degradedBefore:])
		if err := o.store.Put(ctx, c); err != nil {
			return nil, fmt.Errorf("storing session: %w", err)
		}
	}

	o.finish(ctx, c)
	return c, nil
}

// Get returns a snapshot of the session.
func (o *Orchestrator) Get(ctx context.Context, id string) (*session.Consultation, error) {
	return o.store.Get(ctx, id)
}

// Close deletes the session. A session in use returns session.ErrBusy.
func (o *Orchestrator) Close(ctx context.Context, id string) error {
	_, release, err := o.store.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	return o.store.Delete(ctx, id)
}

// SessionExpired is the store's expiry hook.
func (o *Orchestrator) SessionExpired(id string, last *session.Consultation) {
	ctx := context.Background()
	if o.metrics != nil {
		o.metrics.SessionsExpired.Inc()
	}
	o.logger.Info(ctx, "consultation expired", zap.String("consultation.id", id))
	if last == nil {
		last = &session.Consultation{ID: id}
	}
	o.publish(ctx, last, events.KindExpired)
}

// mutate runs fn on an exclusively held copy and saves it if fn succeeds.
func (o *Orchestrator) mutate(ctx context.Context, id string, fn func(context.Context, *session.Consultation) error) (*session.Consultation, error) {
	c, release, err := o.store.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()
	ctx = logging.WithConsultationID(ctx, c.ID)

	if err := fn(ctx, c); err != nil {
		return nil, err
	}
	if err := o.store.Put(ctx, c); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}
	return c.Clone(), nil
}

func (o *Orchestrator) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout > 0 {
		return context.WithTimeout(ctx, o.timeout)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) expire(ctx context.Context, c *session.Consultation) {
	if err := o.store.Delete(ctx, c.ID); err != nil {
		o.logger.Warn(ctx, "deleting expired session failed", zap.Error(err))
	}
	o.SessionExpired(c.ID, c)
}

// finish publishes the outcome and archives the record. Neither failure
// reaches the caller.
func (o *Orchestrator) finish(ctx context.Context, c *session.Consultation) {
	kind := events.KindReferred
	if c.State == session.StateFinalized {
		kind = events.KindFinalized
		if o.metrics != nil && c.Document != nil {
			o.metrics.DocumentsIssued.Inc()
		}
	}
	if o.metrics != nil {
		o.metrics.Outcomes.WithLabelValues(string(c.State)).Inc()
	}
	o.logger.Info(ctx, "consultation finished",
		zap.String("state", string(c.State)),
		zap.Strings("degraded", c.Degraded))
	o.publish(ctx, c, kind)

	if err := o.archive.Archive(ctx, archive.RecordFrom(c, o.now())); err != nil {
		if o.metrics != nil {
			o.metrics.ArchiveFailures.Inc()
		}
		o.logger.Error(ctx, "archiving consultation failed", zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, c *session.Consultation, kind events.Kind) {
	e := events.Event{SessionID: c.ID, Kind: kind, State: string(c.State), At: o.now().UTC()}
	if c.Moderation != nil {
		e.Categories = c.Moderation.Categories
	}
	if c.Verdict != nil {
		confidence := c.Verdict.Confidence
		e.Confidence = &confidence
	}
	if err := o.events.Publish(ctx, e); err != nil {
		if o.metrics != nil {
			o.metrics.EventPublishErrs.Inc()
		}
		o.logger.Warn(ctx, "publishing event failed", zap.String("event", string(kind)), zap.Error(err))
	}
}

func (o *Orchestrator) countViolations(err error) {
	var gerr *GateError
	if o.metrics == nil || !errors.As(err, &gerr) {
		return
	}
	for _, v := range gerr.Violations {
		o.metrics.GateViolations.WithLabelValues(string(v.Type), string(v.Severity)).Inc()
	}
}

// countDegradations labels each note by its "component:" prefix.
func (o *Orchestrator) countDegradations(notes []string) {
	if o.metrics == nil {
		return
	}
	for _, n := range notes {
		component, _, _ := strings.Cut(n, ":")
		o.metrics.Degradations.WithLabelValues(component).Inc()
	}
}

func (o *Orchestrator) onProgress(p StageProgress) {
	ctx := context.Background()
	fields := []zap.Field{
		zap.String("consultation.id", p.ConsultationID),
		zap.String("consultation.stage", string(p.Stage)),
		zap.String("status", string(p.Status)),
		zap.String("message", p.Message),
	}

	switch p.Status {
	case StatusStarted:
		o.logger.Debug(ctx, "stage progress", fields...)
		return
	case StatusFailed:
		o.logger.Warn(ctx, "stage failed", fields...)
	case StatusCompleted:
		fields = append(fields, zap.String("next", string(p.Next)), zap.Duration("duration", p.Duration))
		o.logger.Info(ctx, "stage completed", fields...)
		o.publish(ctx, &session.Consultation{ID: p.ConsultationID, State: p.Next}, events.KindStage)
	}
	if o.metrics != nil {
		o.metrics.StageDuration.WithLabelValues(string(p.Stage), string(p.Status)).Observe(p.Duration.Seconds())
	}
}

func expectState(c *session.Consultation, want session.State) error {
	if c.State != want {
		return fmt.Errorf("%w: session is in %s, expected %s", ErrInvalidTransition, c.State, want)
	}
	return nil
}
