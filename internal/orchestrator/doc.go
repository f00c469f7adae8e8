// Package orchestrator sequences a consultation through its pipeline and
// exposes the session-scoped API.
//
// # State machine
//
//	INTAKE → SYMPTOMS → CLARIFICATION → MODERATION → RETRIEVAL → DRAFT → SUPERVISION → {FINALIZED | REFERRED}
//
// StartSession, SubmitSymptoms, GenerateQuestions and SubmitAnswers move a
// session up to MODERATION. CLARIFICATION may be replayed until answers are
// submitted; after that the inputs are frozen. Run then drives the
// remaining stages through the Executor.
//
// # Executor
//
// Each stage has one StageHandler and any number of StageGates, checked at
// stage entry. A gate violation of severity error or critical aborts the
// request without saving the session. Warnings are reported through the
// progress callback only. Every stage runs under its own timeout.
//
// # Failure handling
//
// External calls are retried by the decorators in this package
// (RetryCompleter, RetryEmbedder, RetryClassifier), once per call. When
// retries are exhausted the stage applies its safe default (no snippet,
// empty draft, zero confidence, moderation fail) and appends a note to
// Consultation.Degraded. Callers only ever see a clinical order or the
// referral message.
//
// # Concurrency
//
// Operations acquire the session exclusively from the store. A second
// request on the same session fails with session.ErrBusy.
package orchestrator
