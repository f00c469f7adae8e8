package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/fyrsmithlabs/consultd/internal/http"
)

func useServer(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	prevURL, prevTimeout := serverURL, timeout
	serverURL, timeout = srv.URL, 5*time.Second
	t.Cleanup(func() { serverURL, timeout = prevURL, prevTimeout })
}

func TestClient_Do_PrettyPrintsJSON(t *testing.T) {
	useServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/sessions/s-1/symptoms", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req httpserver.SymptomsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"fever", "cough", "headache"}, req.Symptoms)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"s-1","state":"CLARIFICATION"}`))
	})

	var out bytes.Buffer
	symptomsCmd.SetOut(&out)
	err := symptomsCmd.RunE(symptomsCmd, []string{"s-1", "fever, cough", "headache"})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"id\": \"s-1\",\n  \"state\": \"CLARIFICATION\"\n}\n", out.String())
}

func TestClient_Do_ReportsAPIError(t *testing.T) {
	useServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(httpserver.ErrorResponse{
			Error:  "invalid patient data",
			Fields: map[string]string{"age": "must be a whole number"},
		})
	})

	startCmd.SetIn(strings.NewReader(`{"name":"Ana Diaz"}`))
	startCmd.SetOut(io.Discard)
	err := startCmd.RunE(startCmd, []string{"-"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "invalid patient data")
	assert.Contains(t, err.Error(), "must be a whole number")
}

func TestStart_RejectsInvalidJSON(t *testing.T) {
	startCmd.SetIn(strings.NewReader(`{not json`))
	err := startCmd.RunE(startCmd, []string{"-"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestClose_NoContent(t *testing.T) {
	useServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/sessions/s-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	var out bytes.Buffer
	closeCmd.SetOut(&out)
	require.NoError(t, closeCmd.RunE(closeCmd, []string{"s-1"}))
	assert.Empty(t, out.String())
}

func TestHealth(t *testing.T) {
	useServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(httpserver.HealthResponse{Status: "ok"})
	})

	var out bytes.Buffer
	healthCmd.SetOut(&out)
	require.NoError(t, runHealth(healthCmd, nil))
	assert.Contains(t, out.String(), "Server Status: ok")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"fever", "cough", "rash"}, splitList([]string{" fever ,cough", "", "rash,"}))
	assert.Nil(t, splitList([]string{" , "}))
}

func TestSessionPath(t *testing.T) {
	assert.Equal(t, "/api/v1/sessions/abc", sessionPath("abc", ""))
	assert.Equal(t, "/api/v1/sessions/abc/run", sessionPath("abc", "run"))
}
