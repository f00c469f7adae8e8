package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/consultd/internal/diagnosis"
	"github.com/fyrsmithlabs/consultd/internal/document"
	"github.com/fyrsmithlabs/consultd/internal/escalation"
	"github.com/fyrsmithlabs/consultd/internal/knowledge"
	"github.com/fyrsmithlabs/consultd/internal/moderation"
	"github.com/fyrsmithlabs/consultd/internal/session"
)

func caseOf(c *session.Consultation) diagnosis.Case {
	snippet := knowledge.NoMatch
	if c.Snippet != nil {
		snippet = *c.Snippet
	}
	return diagnosis.Case{Patient: c.Patient, Symptoms: c.Symptoms, QA: c.QA, Snippet: snippet}
}

// moderationStage screens the frozen inputs. A fail refers the patient
// without running any later stage.
type moderationStage struct {
	moderator Moderator
}

func (s *moderationStage) Stage() session.State { return session.StateModeration }

func (s *moderationStage) Execute(ctx context.Context, c *session.Consultation) (session.State, error) {
	res := s.moderator.Check(ctx, moderation.Input{Patient: c.Patient, Symptoms: c.Symptoms, QA: c.QA})
	c.Moderation = &res
	if res.Degraded != "" {
		c.Degrade("moderation: " + res.Degraded)
	}
	if !res.Passed {
		c.Refer(escalation.ReferralMessage)
		return session.StateReferred, nil
	}
	return session.StateRetrieval, nil
}

// retrievalStage looks up the reference snippet. Failures yield NoMatch.
type retrievalStage struct {
	retriever Retriever
}

func (s *retrievalStage) Stage() session.State { return session.StateRetrieval }

func (s *retrievalStage) Execute(ctx context.Context, c *session.Consultation) (session.State, error) {
	snippet, err := s.retriever.Lookup(ctx, c.Symptoms, c.QA)
	if err != nil {
		c.Degrade("retrieval: " + err.Error())
		snippet = knowledge.NoMatch
	}
	c.Snippet = &snippet
	return session.StateDraft, nil
}

// draftStage produces the first-pass diagnosis. A model failure yields an
// empty degraded draft and the pipeline continues.
type draftStage struct {
	drafter Drafter
}

func (s *draftStage) Stage() session.State { return session.StateDraft }

func (s *draftStage) Execute(ctx context.Context, c *session.Consultation) (session.State, error) {
	d, err := s.drafter.Draft(ctx, caseOf(c))
	if err != nil {
		c.Degrade("draft: " + err.Error())
		d.Degraded = true
	}
	c.Draft = &d
	return session.StateSupervision, nil
}

// supervisionStage reviews the draft, decides the outcome and issues the
// order on Finalize.
type supervisionStage struct {
	reviewer  Reviewer
	documents document.Generator
	threshold int
	now       func() time.Time
}

func (s *supervisionStage) Stage() session.State { return session.StateSupervision }

func (s *supervisionStage) Execute(ctx context.Context, c *session.Consultation) (session.State, error) {
	draft := diagnosis.Draft{Degraded: true}
	if c.Draft != nil {
		draft = *c.Draft
	}

	v, err := s.reviewer.Review(ctx, caseOf(c), draft)
	if err != nil {
		c.Degrade("supervision: " + err.Error())
		v = diagnosis.Verdict{}
	} else if !v.Parsed {
		c.Degrade("supervision: unreadable verdict")
	}
	c.Verdict = &v

	if escalation.Decide(v, s.threshold) == escalation.Refer {
		c.Refer(escalation.ReferralMessage)
		return session.StateReferred, nil
	}
	return s.finalize(ctx, c, draft, v)
}

func (s *supervisionStage) finalize(ctx context.Context, c *session.Consultation, d diagnosis.Draft, v diagnosis.Verdict) (session.State, error) {
	if c.Document == nil {
		ref, err := s.documents.Generate(ctx, document.Order{
			ConsultationID: c.ID,
			Patient:        c.Patient,
			Symptoms:       c.Symptoms,
			QA:             c.QA,
			Draft:          d,
			Verdict:        v,
			IssuedAt:       s.now(),
		})
		if err != nil {
			// No order means nothing safe to hand the patient.
			c.Degrade(fmt.Sprintf("document: %v", err))
			c.Refer(escalation.ReferralMessage)
			return session.StateReferred, nil
		}
		c.Document = &ref
	}
	c.Outcome = escalation.Finalize
	return session.StateFinalized, nil
}
