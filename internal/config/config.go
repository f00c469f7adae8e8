// Package config provides configuration loading for consultd.
//
// Configuration comes from an optional YAML file overridden by CONSULTD_*
// environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete consultd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Session       SessionConfig       `koanf:"session"`
	Intake        IntakeConfig        `koanf:"intake"`
	Clarification ClarificationConfig `koanf:"clarification"`
	Moderation    ModerationConfig    `koanf:"moderation"`
	Supervision   SupervisionConfig   `koanf:"supervision"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	LLM           LLMConfig           `koanf:"llm"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Knowledge     KnowledgeConfig     `koanf:"knowledge"`
	Documents     DocumentsConfig     `koanf:"documents"`
	Events        EventsConfig        `koanf:"events"`
	Archive       ArchiveConfig       `koanf:"archive"`
	Logging       LoggingConfig       `koanf:"logging"`
	Telemetry     TelemetryConfig     `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// SessionConfig controls the consultation session store.
type SessionConfig struct {
	// TTL is the inactivity window after which a session expires.
	TTL         Duration `koanf:"ttl"`
	MaxSessions int      `koanf:"max_sessions"`
}

// IntakeConfig holds the demographic validation bounds. Bounds are inclusive.
type IntakeConfig struct {
	AgeMin          int `koanf:"age_min"`
	AgeMax          int `koanf:"age_max"`
	WeightMin       int `koanf:"weight_min"`
	WeightMax       int `koanf:"weight_max"`
	MaxFieldRetries int `koanf:"max_field_retries"`
}

// ClarificationConfig controls follow-up question generation.
type ClarificationConfig struct {
	MaxQuestions int `koanf:"max_questions"`
	MaxTokens    int `koanf:"max_tokens"`
}

// ModerationConfig controls the moderation gate.
type ModerationConfig struct {
	// Classifier is "openai" or "none".
	Classifier         string  `koanf:"classifier"`
	Model              string  `koanf:"model"`
	BaseURL            string  `koanf:"base_url"`
	APIKey             Secret  `koanf:"api_key"`
	Epsilon            float64 `koanf:"epsilon"`
	CoherenceThreshold int     `koanf:"coherence_threshold"`
}

// SupervisionConfig controls the finalize/refer boundary.
type SupervisionConfig struct {
	ConfidenceThreshold int `koanf:"confidence_threshold"`
}

// PipelineConfig controls stage timeouts and the retry policy for external calls.
type PipelineConfig struct {
	StageTimeout   Duration `koanf:"stage_timeout"`
	MaxAttempts    int      `koanf:"max_attempts"`
	InitialBackoff Duration `koanf:"initial_backoff"`
	MaxBackoff     Duration `koanf:"max_backoff"`
}

// LLMConfig configures the completion model.
type LLMConfig struct {
	// Provider is one of "openai", "anthropic", "ollama".
	Provider            string  `koanf:"provider"`
	Model               string  `koanf:"model"`
	BaseURL             string  `koanf:"base_url"`
	APIKey              Secret  `koanf:"api_key"`
	DraftMaxTokens      int     `koanf:"draft_max_tokens"`
	SupervisorMaxTokens int     `koanf:"supervisor_max_tokens"`
	RequestsPerSecond   float64 `koanf:"requests_per_second"`
	Burst               int     `koanf:"burst"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of "openai", "tei", "fastembed".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	CacheDir string `koanf:"cache_dir"`
}

// KnowledgeConfig configures the reference vector index and its ingestion.
type KnowledgeConfig struct {
	// Backend is "chromem" or "qdrant".
	Backend      string        `koanf:"backend"`
	Chromem      ChromemConfig `koanf:"chromem"`
	Qdrant       QdrantConfig  `koanf:"qdrant"`
	TopK         int           `koanf:"top_k"`
	ChunkSize    int           `koanf:"chunk_size"`
	ChunkOverlap int           `koanf:"chunk_overlap"`
	// Source is the disease CSV used by ingestion and the watcher.
	Source string `koanf:"source"`
	Watch  bool   `koanf:"watch"`
}

// ChromemConfig configures the embedded chromem-go index.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// QdrantConfig configures the Qdrant gRPC index.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
	UseTLS     bool   `koanf:"use_tls"`
	APIKey     Secret `koanf:"api_key"`
}

// DocumentsConfig configures clinical order rendering.
type DocumentsConfig struct {
	// Format is "markdown" or "pdf".
	Format    string `koanf:"format"`
	OutputDir string `koanf:"output_dir"`
	FontPath  string `koanf:"font_path"`
}

// EventsConfig configures NATS lifecycle events.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ArchiveConfig configures the audit archive of finished consultations.
type ArchiveConfig struct {
	// Backend is "none", "postgres" or "mongo".
	Backend  string `koanf:"backend"`
	DSN      Secret `koanf:"dsn"`
	Database string `koanf:"database"`
}

// LoggingConfig is the subset of logging settings exposed through config files.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig is the subset of telemetry settings exposed through config files.
type TelemetryConfig struct {
	Enabled       bool    `koanf:"enabled"`
	Endpoint      string  `koanf:"endpoint"`
	Protocol      string  `koanf:"protocol"`
	Insecure      bool    `koanf:"insecure"`
	TLSSkipVerify bool    `koanf:"tls_skip_verify"`
	ServiceName   string  `koanf:"service_name"`
	SampleRate    float64 `koanf:"sample_rate"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = Duration(7 * time.Minute)
	}
	if cfg.Session.MaxSessions == 0 {
		cfg.Session.MaxSessions = 10000
	}

	// Age 0 is a valid lower bound, so only the upper bounds signal "unset".
	if cfg.Intake.AgeMax == 0 {
		cfg.Intake.AgeMax = 120
	}
	if cfg.Intake.WeightMin == 0 {
		cfg.Intake.WeightMin = 1
	}
	if cfg.Intake.WeightMax == 0 {
		cfg.Intake.WeightMax = 300
	}
	if cfg.Intake.MaxFieldRetries == 0 {
		cfg.Intake.MaxFieldRetries = 3
	}

	if cfg.Clarification.MaxQuestions == 0 {
		cfg.Clarification.MaxQuestions = 5
	}
	if cfg.Clarification.MaxTokens == 0 {
		cfg.Clarification.MaxTokens = 200
	}

	if cfg.Moderation.Classifier == "" {
		cfg.Moderation.Classifier = "openai"
	}
	if cfg.Moderation.Model == "" {
		cfg.Moderation.Model = "text-moderation-latest"
	}
	if cfg.Moderation.Epsilon == 0 {
		cfg.Moderation.Epsilon = 0.01
	}
	if cfg.Moderation.CoherenceThreshold == 0 {
		cfg.Moderation.CoherenceThreshold = 70
	}

	if cfg.Supervision.ConfidenceThreshold == 0 {
		cfg.Supervision.ConfidenceThreshold = 70
	}

	if cfg.Pipeline.StageTimeout == 0 {
		cfg.Pipeline.StageTimeout = Duration(60 * time.Second)
	}
	if cfg.Pipeline.MaxAttempts == 0 {
		cfg.Pipeline.MaxAttempts = 3
	}
	if cfg.Pipeline.InitialBackoff == 0 {
		cfg.Pipeline.InitialBackoff = Duration(500 * time.Millisecond)
	}
	if cfg.Pipeline.MaxBackoff == 0 {
		cfg.Pipeline.MaxBackoff = Duration(5 * time.Second)
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.DraftMaxTokens == 0 {
		cfg.LLM.DraftMaxTokens = 1000
	}
	if cfg.LLM.SupervisorMaxTokens == 0 {
		cfg.LLM.SupervisorMaxTokens = 1000
	}
	if cfg.LLM.RequestsPerSecond == 0 {
		cfg.LLM.RequestsPerSecond = 5
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 5
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "openai"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}

	// OpenAI-backed helpers reuse the completion key unless given their own.
	if cfg.LLM.Provider == "openai" {
		if !cfg.Moderation.APIKey.IsSet() {
			cfg.Moderation.APIKey = cfg.LLM.APIKey
		}
		if !cfg.Embeddings.APIKey.IsSet() && cfg.Embeddings.Provider == "openai" {
			cfg.Embeddings.APIKey = cfg.LLM.APIKey
		}
	}

	if cfg.Knowledge.Backend == "" {
		cfg.Knowledge.Backend = "chromem"
	}
	if cfg.Knowledge.Chromem.Path == "" {
		cfg.Knowledge.Chromem.Path = "~/.config/consultd/knowledge"
	}
	if cfg.Knowledge.Chromem.Collection == "" {
		cfg.Knowledge.Chromem.Collection = "medical_knowledge"
	}
	if cfg.Knowledge.Qdrant.Host == "" {
		cfg.Knowledge.Qdrant.Host = "localhost"
	}
	if cfg.Knowledge.Qdrant.Port == 0 {
		cfg.Knowledge.Qdrant.Port = 6334
	}
	if cfg.Knowledge.Qdrant.Collection == "" {
		cfg.Knowledge.Qdrant.Collection = "medical_knowledge"
	}
	if cfg.Knowledge.Qdrant.VectorSize == 0 {
		cfg.Knowledge.Qdrant.VectorSize = 1536 // text-embedding-3-small
	}
	if cfg.Knowledge.TopK == 0 {
		cfg.Knowledge.TopK = 1
	}
	if cfg.Knowledge.ChunkSize == 0 {
		cfg.Knowledge.ChunkSize = 1000
	}

	if cfg.Documents.Format == "" {
		cfg.Documents.Format = "markdown"
	}
	if cfg.Documents.OutputDir == "" {
		cfg.Documents.OutputDir = "./orders"
	}

	if cfg.Events.URL == "" {
		cfg.Events.URL = "nats://127.0.0.1:4222"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "consultations"
	}

	if cfg.Archive.Backend == "" {
		cfg.Archive.Backend = "none"
	}
	if cfg.Archive.Database == "" {
		cfg.Archive.Database = "consultd"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "consultd"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Session.TTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.Session.MaxSessions < 1 {
		return fmt.Errorf("session max_sessions must be positive, got %d", c.Session.MaxSessions)
	}

	if c.Intake.AgeMin < 0 || c.Intake.AgeMin > c.Intake.AgeMax {
		return fmt.Errorf("invalid age bounds: [%d, %d]", c.Intake.AgeMin, c.Intake.AgeMax)
	}
	if c.Intake.WeightMin < 0 || c.Intake.WeightMin > c.Intake.WeightMax {
		return fmt.Errorf("invalid weight bounds: [%d, %d]", c.Intake.WeightMin, c.Intake.WeightMax)
	}
	if c.Intake.MaxFieldRetries < 1 {
		return fmt.Errorf("intake max_field_retries must be positive, got %d", c.Intake.MaxFieldRetries)
	}

	if c.Clarification.MaxQuestions < 0 {
		return fmt.Errorf("clarification max_questions cannot be negative, got %d", c.Clarification.MaxQuestions)
	}

	switch c.Moderation.Classifier {
	case "openai", "none":
	default:
		return fmt.Errorf("unknown moderation classifier %q", c.Moderation.Classifier)
	}
	if c.Moderation.Epsilon < 0 || c.Moderation.Epsilon >= 1 {
		return fmt.Errorf("moderation epsilon must be in [0, 1), got %v", c.Moderation.Epsilon)
	}
	if err := validatePercent("moderation coherence_threshold", c.Moderation.CoherenceThreshold); err != nil {
		return err
	}
	if err := validatePercent("supervision confidence_threshold", c.Supervision.ConfidenceThreshold); err != nil {
		return err
	}

	if c.Pipeline.StageTimeout <= 0 {
		return errors.New("pipeline stage_timeout must be positive")
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline max_attempts must be positive, got %d", c.Pipeline.MaxAttempts)
	}

	switch c.LLM.Provider {
	case "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}

	switch c.Embeddings.Provider {
	case "openai", "tei", "fastembed":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}

	switch c.Knowledge.Backend {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown knowledge backend %q", c.Knowledge.Backend)
	}
	if c.Knowledge.TopK < 1 {
		return fmt.Errorf("knowledge top_k must be positive, got %d", c.Knowledge.TopK)
	}
	if c.Knowledge.ChunkOverlap < 0 || c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
		return fmt.Errorf("knowledge chunk_overlap must be in [0, chunk_size), got %d", c.Knowledge.ChunkOverlap)
	}

	switch c.Documents.Format {
	case "markdown", "pdf":
	default:
		return fmt.Errorf("unknown documents format %q", c.Documents.Format)
	}
	if c.Documents.Format == "pdf" && c.Documents.FontPath == "" {
		return errors.New("documents font_path is required for pdf output")
	}

	switch c.Archive.Backend {
	case "none":
	case "postgres", "mongo":
		if !c.Archive.DSN.IsSet() {
			return fmt.Errorf("archive dsn is required for backend %q", c.Archive.Backend)
		}
	default:
		return fmt.Errorf("unknown archive backend %q", c.Archive.Backend)
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry endpoint is required when telemetry is enabled")
	}

	return nil
}

func validatePercent(name string, v int) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%s must be in [0, 100], got %d", name, v)
	}
	return nil
}
