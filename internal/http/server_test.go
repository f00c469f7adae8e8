package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/consultd/internal/clarify"
	"github.com/fyrsmithlabs/consultd/internal/config"
	"github.com/fyrsmithlabs/consultd/internal/diagnosis"
	"github.com/fyrsmithlabs/consultd/internal/document"
	"github.com/fyrsmithlabs/consultd/internal/escalation"
	"github.com/fyrsmithlabs/consultd/internal/intake"
	"github.com/fyrsmithlabs/consultd/internal/knowledge"
	"github.com/fyrsmithlabs/consultd/internal/logging"
	"github.com/fyrsmithlabs/consultd/internal/moderation"
	"github.com/fyrsmithlabs/consultd/internal/orchestrator"
	"github.com/fyrsmithlabs/consultd/internal/session"
	"github.com/fyrsmithlabs/consultd/internal/vectorstore"
)

type mockConsultations struct{ mock.Mock }

func (m *mockConsultations) result(args mock.Arguments) (*session.Consultation, error) {
	c, _ := args.Get(0).(*session.Consultation)
	return c, args.Error(1)
}

func (m *mockConsultations) StartSession(ctx context.Context, raw intake.RawPatient) (*session.Consultation, error) {
	return m.result(m.Called(ctx, raw))
}

func (m *mockConsultations) SubmitSymptoms(ctx context.Context, id string, symptoms []string) (*session.Consultation, error) {
	return m.result(m.Called(ctx, id, symptoms))
}

func (m *mockConsultations) GenerateQuestions(ctx context.Context, id string) (*session.Consultation, error) {
	return m.result(m.Called(ctx, id))
}

func (m *mockConsultations) SubmitAnswers(ctx context.Context, id string, answers []string) (*session.Consultation, error) {
	return m.result(m.Called(ctx, id, answers))
}

func (m *mockConsultations) Run(ctx context.Context, id string) (*session.Consultation, error) {
	return m.result(m.Called(ctx, id))
}

func (m *mockConsultations) Get(ctx context.Context, id string) (*session.Consultation, error) {
	return m.result(m.Called(ctx, id))
}

func (m *mockConsultations) Close(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func TestNewServer(t *testing.T) {
	t.Run("creates server with valid config", func(t *testing.T) {
		cfg := &Config{
			Host: "localhost",
			Port: 9090,
		}

		server, err := NewServer(&mockConsultations{}, zap.NewNop(), cfg)
		require.NoError(t, err)
		assert.NotNil(t, server)
		assert.NotNil(t, server.echo)
		assert.Equal(t, cfg, server.config)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(&mockConsultations{}, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9090, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(&mockConsultations{}, nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when api is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "api cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := do(t, server, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleMetrics(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := do(t, server, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleStart(t *testing.T) {
	t.Run("creates a session", func(t *testing.T) {
		server, api := setupTestServer(t)
		c := session.New(time.Now())
		c.State = session.StateSymptoms
		api.On("StartSession", mock.Anything, intake.RawPatient{
			Name: "Ana Diaz", NationalID: "11.111.111-1", Sex: "female", Age: "30", Weight: "60",
		}).Return(c, nil)

		rec := do(t, server, http.MethodPost, "/api/v1/sessions",
			`{"name":"Ana Diaz","national_id":"11.111.111-1","sex":"female","age":30,"weight":"60"}`)

		assert.Equal(t, http.StatusCreated, rec.Code)
		var resp SessionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, c.ID, resp.ID)
		assert.Equal(t, "SYMPTOMS", resp.State)
	})

	t.Run("reports every invalid field", func(t *testing.T) {
		server, _ := realServer(t)

		rec := do(t, server, http.MethodPost, "/api/v1/sessions",
			`{"name":"","national_id":"12","sex":"x","age":"-1","weight":"0"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Fields, 5)
		assert.Contains(t, resp.Fields, intake.FieldNationalID)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		server, _ := setupTestServer(t)
		rec := do(t, server, http.MethodPost, "/api/v1/sessions", `{"name":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"not found", session.ErrNotFound, http.StatusNotFound, `{"error":"session not found or expired"}`},
		{"expired gate", fmt.Errorf("wrapped: %w", session.ErrNotFound), http.StatusNotFound, "session not found or expired"},
		{"busy", session.ErrBusy, http.StatusConflict, "session is busy"},
		{"invalid transition", fmt.Errorf("%w: cannot run from SYMPTOMS", orchestrator.ErrInvalidTransition), http.StatusConflict, "not allowed"},
		{"gate violation", &orchestrator.GateError{Stage: session.StateModeration}, http.StatusConflict, "not allowed"},
		{"no symptoms", intake.ErrNoSymptoms, http.StatusBadRequest, "at least one symptom"},
		{"unexpected", errors.New("dial tcp 10.0.0.1:6334: connection refused"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, api := setupTestServer(t)
			api.On("Run", mock.Anything, "abc").Return(nil, tt.err)

			rec := do(t, server, http.MethodPost, "/api/v1/sessions/abc/run", nil)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
			assert.NotContains(t, rec.Body.String(), "10.0.0.1")
		})
	}
}

func TestHandleRun_TerminalResponses(t *testing.T) {
	t.Run("finalized carries the order reference", func(t *testing.T) {
		server, api := setupTestServer(t)
		c := session.New(time.Now())
		c.State = session.StateFinalized
		c.Outcome = escalation.Finalize
		c.Verdict = &diagnosis.Verdict{Confidence: 85}
		c.Document = &document.Ref{Path: "orders/order_x.md", Format: document.FormatMarkdown}
		api.On("Run", mock.Anything, c.ID).Return(c, nil)

		rec := do(t, server, http.MethodPost, "/api/v1/sessions/"+c.ID+"/run", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp SessionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Document)
		assert.Equal(t, "orders/order_x.md", resp.Document.Path)
		require.NotNil(t, resp.Confidence)
		assert.Equal(t, 85, *resp.Confidence)
		assert.Empty(t, resp.Referral)
	})

	t.Run("referred carries only the referral message", func(t *testing.T) {
		server, api := setupTestServer(t)
		c := session.New(time.Now())
		c.State = session.StateReferred
		c.Refer(escalation.ReferralMessage)
		c.Verdict = &diagnosis.Verdict{Confidence: 40}
		c.Degrade("draft: openai: status 502 bad gateway")
		api.On("Run", mock.Anything, c.ID).Return(c, nil)

		rec := do(t, server, http.MethodPost, "/api/v1/sessions/"+c.ID+"/run", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "502")
		var resp SessionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, escalation.ReferralMessage, resp.Referral)
		assert.Nil(t, resp.Document)
		assert.Nil(t, resp.Confidence)
		assert.True(t, resp.Degraded)
	})
}

func TestSessionLifecycle(t *testing.T) {
	server, api := setupTestServer(t)
	c := session.New(time.Now())

	c.State = session.StateClarification
	api.On("SubmitSymptoms", mock.Anything, c.ID, []string{"fever", "cough"}).Return(c, nil)
	rec := do(t, server, http.MethodPost, "/api/v1/sessions/"+c.ID+"/symptoms", `{"symptoms":["fever","cough"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	withQuestions := c.Clone()
	withQuestions.Questions = []string{"Since when?"}
	api.On("GenerateQuestions", mock.Anything, c.ID).Return(withQuestions, nil)
	rec = do(t, server, http.MethodPost, "/api/v1/sessions/"+c.ID+"/questions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Since when?")

	answered := withQuestions.Clone()
	answered.State = session.StateModeration
	answered.QA = clarify.Pair(answered.Questions, []string{"two days"})
	api.On("SubmitAnswers", mock.Anything, c.ID, []string{"two days"}).Return(answered, nil)
	rec = do(t, server, http.MethodPost, "/api/v1/sessions/"+c.ID+"/answers", `{"answers":["two days"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "two days")

	api.On("Get", mock.Anything, c.ID).Return(answered, nil)
	rec = do(t, server, http.MethodGet, "/api/v1/sessions/"+c.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"MODERATION"`)

	api.On("Close", mock.Anything, c.ID).Return(nil)
	rec = do(t, server, http.MethodDelete, "/api/v1/sessions/"+c.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	api.AssertExpectations(t)
}

type countingIndex struct {
	vectorstore.Index
	n   int
	err error
}

func (c countingIndex) Count(context.Context) (int, error) { return c.n, c.err }

type fixedSessions int

func (f fixedSessions) Len() int { return int(f) }

func TestHandleStatus(t *testing.T) {
	server, err := NewServer(&mockConsultations{}, zap.NewNop(), &Config{Version: "1.2.3"},
		WithSessionCounter(fixedSessions(4)), WithIndex(countingIndex{n: 120}))
	require.NoError(t, err)

	rec := do(t, server, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, 4, resp.Counts.Sessions)
	assert.Equal(t, 120, resp.Counts.KnowledgeChunks)
}

func TestCountResources(t *testing.T) {
	live, chunks := CountResources(context.Background(), nil, nil)
	assert.Equal(t, -1, live)
	assert.Equal(t, -1, chunks)

	live, chunks = CountResources(context.Background(), fixedSessions(2), countingIndex{err: errors.New("down")})
	assert.Equal(t, 2, live)
	assert.Equal(t, -1, chunks)
}

func TestServerLifecycle(t *testing.T) {
	t.Run("starts and shuts down gracefully", func(t *testing.T) {
		cfg := &Config{
			Host: "localhost",
			Port: 0, // Use random available port
		}

		server, err := NewServer(&mockConsultations{}, zap.NewNop(), cfg)
		require.NoError(t, err)

		errChan := make(chan error, 1)
		go func() {
			errChan <- server.Start()
		}()

		time.Sleep(100 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err = server.Shutdown(ctx)
		assert.NoError(t, err)

		select {
		case err := <-errChan:
			assert.True(t, err == nil || err == http.ErrServerClosed)
		case <-time.After(6 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		server, _ := setupTestServer(t)

		rec := do(t, server, http.MethodGet, "/health", nil)

		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("carries the request ID into the API context", func(t *testing.T) {
		server, api := setupTestServer(t)
		c := session.New(time.Now())
		api.On("Get", mock.MatchedBy(func(ctx context.Context) bool {
			return logging.RequestIDFromContext(ctx) == "req-42"
		}), c.ID).Return(c, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+c.ID, nil)
		req.Header.Set(echo.HeaderXRequestID, "req-42")
		rec := httptest.NewRecorder()
		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		api.AssertExpectations(t)
	})

	t.Run("ignores malformed client request IDs", func(t *testing.T) {
		server, _ := setupTestServer(t)
		var got string
		server.echo.GET("/probe", func(c echo.Context) error {
			got = logging.RequestIDFromContext(c.Request().Context())
			return c.NoContent(http.StatusNoContent)
		})

		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set(echo.HeaderXRequestID, "not a valid id!")
		server.echo.ServeHTTP(httptest.NewRecorder(), req)
		assert.Empty(t, got)
	})

	t.Run("recovers from panic", func(t *testing.T) {
		server, _ := setupTestServer(t)

		server.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		req := httptest.NewRequest(http.MethodGet, "/panic", nil)
		rec := httptest.NewRecorder()

		assert.NotPanics(t, func() {
			server.echo.ServeHTTP(rec, req)
		})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

// setupTestServer creates a test server backed by a mock API.
func setupTestServer(t *testing.T) (*Server, *mockConsultations) {
	t.Helper()

	api := &mockConsultations{}
	server, err := NewServer(api, zap.NewNop(), &Config{Host: "localhost", Port: 9090})
	require.NoError(t, err)

	return server, api
}

// realServer serves a real orchestrator whose pipeline components are never
// reached by the request under test.
func realServer(t *testing.T) (*Server, *orchestrator.Orchestrator) {
	t.Helper()

	unused := unusedComponents{}
	orch, err := orchestrator.New(orchestrator.Deps{
		Store:     session.NewMemoryStore(8, time.Minute),
		Validator: intake.NewValidator(config.Default().Intake),
		Questions: unused,
		Moderator: unused,
		Retriever: unused,
		Drafter:   unused,
		Reviewer:  unused,
		Documents: unused,
	}, orchestrator.Options{})
	require.NoError(t, err)

	server, err := NewServer(orch, zap.NewNop(), nil)
	require.NoError(t, err)
	return server, orch
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	switch b := body.(type) {
	case nil:
		req = httptest.NewRequest(method, path, nil)
	case string:
		req = httptest.NewRequest(method, path, strings.NewReader(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
	}
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

type unusedComponents struct{}

func (unusedComponents) Questions(context.Context, intake.Patient, intake.SymptomList) ([]string, error) {
	panic("not reached")
}

func (unusedComponents) Check(context.Context, moderation.Input) moderation.Result {
	panic("not reached")
}

func (unusedComponents) Lookup(context.Context, intake.SymptomList, []clarify.QA) (knowledge.Snippet, error) {
	panic("not reached")
}

func (unusedComponents) Draft(context.Context, diagnosis.Case) (diagnosis.Draft, error) {
	panic("not reached")
}

func (unusedComponents) Review(context.Context, diagnosis.Case, diagnosis.Draft) (diagnosis.Verdict, error) {
	panic("not reached")
}

func (unusedComponents) Generate(context.Context, document.Order) (document.Ref, error) {
	panic("not reached")
}
