package archive

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/consultd/internal/config"
	"github.com/fyrsmithlabs/consultd/internal/diagnosis"
	"github.com/fyrsmithlabs/consultd/internal/escalation"
	"github.com/fyrsmithlabs/consultd/internal/intake"
	"github.com/fyrsmithlabs/consultd/internal/session"
)

func finishedConsultation(t *testing.T) *session.Consultation {
	t.Helper()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	c := session.New(now)
	c.Patient = intake.Patient{Name: "Ana Diaz", NationalID: "11111111-k", Sex: intake.SexFemale, Age: 30, Weight: 60}
	c.Symptoms = intake.SymptomList{"fever", "cough"}
	c.Verdict = &diagnosis.Verdict{Confidence: 50, Synthesis: "unclear", Parsed: true}
	c.Outcome = escalation.Refer
	for _, s := range []session.State{
		session.StateSymptoms, session.StateClarification, session.StateModeration,
		session.StateRetrieval, session.StateDraft, session.StateSupervision, session.StateReferred,
	} {
		require.NoError(t, c.Transition(s, now))
	}
	return c
}

func TestHashNationalID(t *testing.T) {
	h := HashNationalID("11111111-k")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashNationalID(" 11111111-K "))
	assert.NotEqual(t, h, HashNationalID("22222222-2"))
	assert.Empty(t, HashNationalID(""))
}

func TestRecordFrom_NoPatientIdentity(t *testing.T) {
	c := finishedConsultation(t)
	archivedAt := time.Date(2025, 5, 1, 12, 5, 0, 0, time.UTC)

	r := RecordFrom(c, archivedAt)
	assert.Equal(t, c.ID, r.ID)
	assert.Equal(t, "REFERRED", r.State)
	assert.Equal(t, "refer", r.Outcome)
	assert.Equal(t, HashNationalID("11111111-K"), r.PatientHash)
	assert.Equal(t, 30, r.Age)
	assert.Len(t, r.History, 7)
	assert.Equal(t, archivedAt, r.ArchivedAt)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "11111111")
	assert.NotContains(t, string(data), "Ana Diaz")
}

func TestNew(t *testing.T) {
	a, err := New(context.Background(), config.ArchiveConfig{Backend: "none"})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, a)
	assert.NoError(t, a.Archive(context.Background(), Record{}))

	_, err = New(context.Background(), config.ArchiveConfig{Backend: "cassandra"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestPostgresArchive_Integration(t *testing.T) {
	dsn := os.Getenv("CONSULTD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CONSULTD_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	a, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer a.Close(ctx)

	r := RecordFrom(finishedConsultation(t), time.Now().UTC())
	require.NoError(t, a.Archive(ctx, r))
	require.NoError(t, a.Archive(ctx, r), "archive is idempotent")

	got, err := a.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.PatientHash, got.PatientHash)
	assert.Equal(t, r.Symptoms, got.Symptoms)
}

func TestMongoArchive_Integration(t *testing.T) {
	uri := os.Getenv("CONSULTD_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CONSULTD_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	a, err := ConnectMongo(ctx, uri, "consultd_test")
	require.NoError(t, err)
	defer a.Close(ctx)

	r := RecordFrom(finishedConsultation(t), time.Now().UTC())
	require.NoError(t, a.Archive(ctx, r))
	require.NoError(t, a.Archive(ctx, r))

	got, err := a.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.PatientHash, got.PatientHash)
	assert.Equal(t, r.State, got.State)
}
