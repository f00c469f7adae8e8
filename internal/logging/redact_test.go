package logging

import (
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/consultd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func encodeWith(t *testing.T, cfg RedactionConfig, fields ...zap.Field) string {
	t.Helper()
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	enc, err := NewRedactingEncoder(base, cfg)
	require.NoError(t, err)

	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "m", Time: time.Unix(0, 0)}, fields)
	require.NoError(t, err)
	return buf.String()
}

func TestRedactingEncoder_PatientFields(t *testing.T) {
	cfg := NewDefaultConfig().Redaction
	out := encodeWith(t, cfg,
		zap.String("national_id", "12.345.678-9"),
		zap.String("Patient_Name", "Ana Perez"),
		zap.String("note", "id 12.345.678-K on file"),
		zap.String("symptoms", "fever and cough"),
	)

	assert.NotContains(t, out, "12.345.678")
	assert.NotContains(t, out, "Ana Perez")
	assert.Contains(t, out, `"national_id":"[REDACTED]"`)
	assert.Contains(t, out, `"note":"[REDACTED:pattern]"`)
	assert.Contains(t, out, "fever and cough")
}

func TestRedactingEncoder_Credentials(t *testing.T) {
	out := encodeWith(t, NewDefaultConfig().Redaction,
		zap.String("api_key", "sk-123"),
		zap.String("header", "Bearer abc.def"),
		zap.Any("dsn", map[string]string{"url": "postgres://u:p@h/db"}),
	)

	assert.NotContains(t, out, "sk-123")
	assert.NotContains(t, out, "abc.def")
	assert.NotContains(t, out, "u:p@h")
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	out := encodeWith(t, RedactionConfig{Enabled: false}, zap.String("national_id", "12345678-9"))
	assert.Contains(t, out, "12345678-9")
}

func TestNewRedactingEncoder_RejectsBadPatterns(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	_, err := NewRedactingEncoder(base, RedactionConfig{Enabled: true, Patterns: []string{"("}})
	assert.Error(t, err)

	_, err = NewRedactingEncoder(base, RedactionConfig{Enabled: true, Patterns: []string{strings.Repeat("a", maxPatternLen+1)}})
	assert.Error(t, err)
}

func TestSecretAndIdentityFields(t *testing.T) {
	log := NewTestLogger()
	log.Info(t.Context(), "configured",
		Secret("api_key", config.Secret("sk-abcdef")),
		RedactedString("token", "xyz"),
		Identity("patient", "12.345.678-9"),
	)

	entries := log.FilterMessage("configured").All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "[REDACTED:3]", ctx["token"])
	assert.True(t, strings.HasPrefix(ctx["patient"].(string), "sha256:"))
	assert.Equal(t, Identity("p", "same").String, Identity("p", "same").String)

	log.AssertNoSecrets(t)
}
