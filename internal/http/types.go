package http

import (
	"time"

	"github.com/fyrsmithlabs/consultd/internal/clarify"
	"github.com/fyrsmithlabs/consultd/internal/document"
	"github.com/fyrsmithlabs/consultd/internal/session"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version,omitempty"`
	Counts  StatusCounts `json:"counts"`
}

// StatusCounts reports resource sizes. -1 means unknown.
type StatusCounts struct {
	Sessions        int `json:"sessions"`
	KnowledgeChunks int `json:"knowledge_chunks"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// SymptomsRequest is the body for POST /api/v1/sessions/:id/symptoms.
type SymptomsRequest struct {
	Symptoms []string `json:"symptoms"`
}

// AnswersRequest is the body for POST /api/v1/sessions/:id/answers.
// Answers are matched to questions by position.
type AnswersRequest struct {
	Answers []string `json:"answers"`
}

// SessionResponse is the public view of a consultation. Degradation notes
// stay server-side; only the fact that a fallback was used is reported.
type SessionResponse struct {
	ID         string        `json:"id"`
	State      string        `json:"state"`
	Questions  []string      `json:"questions,omitempty"`
	QA         []clarify.QA  `json:"qa,omitempty"`
	Outcome    string        `json:"outcome,omitempty"`
	Referral   string        `json:"referral,omitempty"`
	Document   *document.Ref `json:"document,omitempty"`
	Confidence *int          `json:"confidence,omitempty"`
	Degraded   bool          `json:"degraded"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// NewSessionResponse builds the public view of c.
func NewSessionResponse(c *session.Consultation) SessionResponse {
	resp := SessionResponse{
		ID:        c.ID,
		State:     string(c.State),
		Questions: c.Questions,
		QA:        c.QA,
		Outcome:   string(c.Outcome),
		Referral:  c.Referral,
		Document:  c.Document,
		Degraded:  len(c.Degraded) > 0,
		UpdatedAt: c.UpdatedAt,
	}
	if c.Verdict != nil && c.State == session.StateFinalized {
		confidence := c.Verdict.Confidence
		resp.Confidence = &confidence
	}
	return resp
}
