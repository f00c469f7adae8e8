package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0, cfg.Intake.AgeMin)
	assert.Equal(t, 120, cfg.Intake.AgeMax)
	assert.Equal(t, 0.01, cfg.Moderation.Epsilon)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"inverted age bounds", func(c *Config) { c.Intake.AgeMin = 50; c.Intake.AgeMax = 10 }, "invalid age bounds"},
		{"inverted weight bounds", func(c *Config) { c.Intake.WeightMin = 500 }, "invalid weight bounds"},
		{"unknown classifier", func(c *Config) { c.Moderation.Classifier = "regex" }, "unknown moderation classifier"},
		{"epsilon out of range", func(c *Config) { c.Moderation.Epsilon = 1.5 }, "epsilon"},
		{"unknown llm", func(c *Config) { c.LLM.Provider = "mystery" }, "unknown llm provider"},
		{"unknown embeddings", func(c *Config) { c.Embeddings.Provider = "mystery" }, "unknown embeddings provider"},
		{"unknown backend", func(c *Config) { c.Knowledge.Backend = "redis" }, "unknown knowledge backend"},
		{"overlap too large", func(c *Config) { c.Knowledge.ChunkOverlap = 1000 }, "chunk_overlap"},
		{"pdf without font", func(c *Config) { c.Documents.Format = "pdf" }, "font_path"},
		{"archive without dsn", func(c *Config) { c.Archive.Backend = "postgres" }, "archive dsn"},
		{"zero attempts", func(c *Config) { c.Pipeline.MaxAttempts = 0 }, "max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("7m")))
	assert.Equal(t, 7*time.Minute, d.Duration())

	require.NoError(t, d.UnmarshalText([]byte(" 420 ")))
	assert.Equal(t, 7*time.Minute, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("-5")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestSecret_UnmarshalTrimsSpace(t *testing.T) {
	var s Secret
	require.NoError(t, s.UnmarshalText([]byte(" sk-live-123\n")))
	assert.Equal(t, "sk-live-123", s.Value())
}

func TestSecret_NeverPrinted(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))

	out, err := json.Marshal(struct{ Key Secret }{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Key":"[REDACTED]"}`, string(out))

	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())
	assert.False(t, Secret("").IsSet())
}
