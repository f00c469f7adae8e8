package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/consultd/internal/archive"
	"github.com/fyrsmithlabs/consultd/internal/clarify"
	"github.com/fyrsmithlabs/consultd/internal/config"
	"github.com/fyrsmithlabs/consultd/internal/diagnosis"
	"github.com/fyrsmithlabs/consultd/internal/document"
	"github.com/fyrsmithlabs/consultd/internal/embeddings"
	"github.com/fyrsmithlabs/consultd/internal/events"
	"github.com/fyrsmithlabs/consultd/internal/intake"
	"github.com/fyrsmithlabs/consultd/internal/knowledge"
	"github.com/fyrsmithlabs/consultd/internal/llm"
	"github.com/fyrsmithlabs/consultd/internal/logging"
	"github.com/fyrsmithlabs/consultd/internal/moderation"
	"github.com/fyrsmithlabs/consultd/internal/orchestrator"
	"github.com/fyrsmithlabs/consultd/internal/retry"
	"github.com/fyrsmithlabs/consultd/internal/session"
	"github.com/fyrsmithlabs/consultd/internal/telemetry"
	"github.com/fyrsmithlabs/consultd/internal/vectorstore"
)

// process holds the process-wide ambient stack: configuration, telemetry
// and the logger built on top of it.
type process struct {
	cfg       *config.Config
	telemetry *telemetry.Telemetry
	logger    *logging.Logger
}

// newProcess loads configuration and initializes telemetry and logging.
func newProcess(ctx context.Context) (*process, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if st := tel.Health(); st.Degraded {
		logger.Warn(ctx, "telemetry degraded, continuing without some exporters", zap.String("reason", st.Reason))
	}

	return &process{cfg: cfg, telemetry: tel, logger: logger}, nil
}

// Close flushes the logger and shuts telemetry down.
func (r *process) Close(ctx context.Context) {
	_ = r.logger.Sync() // Best-effort sync on shutdown
	if err := r.telemetry.Shutdown(ctx); err != nil {
		r.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
}

// knowledgeBase is the embedder and index pair shared by ingestion,
// retrieval and the status endpoint.
type knowledgeBase struct {
	provider embeddings.Provider
	embedder embeddings.Embedder
	index    vectorstore.Index
}

func newKnowledgeBase(rt *process, policy retry.Policy, m *orchestrator.Metrics) (*knowledgeBase, error) {
	provider, err := embeddings.NewProvider(rt.cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	index, err := vectorstore.NewIndex(rt.cfg.Knowledge, rt.logger.Underlying())
	if err != nil {
		_ = provider.Close()
		return nil, fmt.Errorf("failed to open knowledge index: %w", err)
	}

	return &knowledgeBase{
		provider: provider,
		embedder: orchestrator.RetryEmbedder(provider, policy, rt.logger, m),
		index:    index,
	}, nil
}

func (k *knowledgeBase) ingester(cfg config.KnowledgeConfig, logger *zap.Logger) *knowledge.Ingester {
	return knowledge.NewIngester(k.embedder, k.index, cfg.ChunkSize, cfg.ChunkOverlap, logger)
}

func (k *knowledgeBase) Close() error {
	return errors.Join(k.index.Close(), k.provider.Close())
}

// pipeline is a fully wired orchestrator and the resources it owns.
type pipeline struct {
	orch      *orchestrator.Orchestrator
	store     *session.MemoryStore
	knowledge *knowledgeBase
	events    events.Publisher
	archive   archive.Archiver
}

// newPipeline builds every external client and wires them into an
// orchestrator. Clients that fail at call time degrade to safe defaults;
// only construction errors are returned here.
func newPipeline(ctx context.Context, rt *process) (_ *pipeline, err error) {
	cfg := rt.cfg
	metrics := orchestrator.NewMetrics()
	policy := retry.FromConfig(cfg.Pipeline)

	completer, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion client: %w", err)
	}
	completer = orchestrator.RetryCompleter(completer, policy, rt.logger, metrics)

	classifier, err := newClassifier(cfg.Moderation)
	if err != nil {
		return nil, err
	}
	classifier = orchestrator.RetryClassifier(classifier, policy, rt.logger, metrics)

	kb, err := newKnowledgeBase(rt, policy, metrics)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = kb.Close()
		}
	}()

	docs, err := document.New(cfg.Documents)
	if err != nil {
		return nil, fmt.Errorf("failed to create document generator: %w", err)
	}

	pub, err := events.New(cfg.Events)
	if err != nil {
		return nil, fmt.Errorf("failed to connect event publisher: %w", err)
	}
	defer func() {
		if err != nil {
			_ = pub.Close()
		}
	}()

	arch, err := archive.New(ctx, cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	// The hook is invoked by the store after New returns.
	var orch *orchestrator.Orchestrator
	store := session.NewMemoryStore(cfg.Session.MaxSessions, cfg.Session.TTL.Duration(),
		session.WithExpireHook(func(id string, last *session.Consultation) {
			if orch != nil {
				orch.SessionExpired(id, last)
			}
		}),
	)

	opts := orchestrator.OptionsFromConfig(cfg)
	orch, err = orchestrator.New(orchestrator.Deps{
		Store:     store,
		Validator: intake.NewValidator(cfg.Intake),
		Questions: clarify.New(completer, cfg.Clarification),
		Moderator: moderation.NewGate(classifier, completer, cfg.Moderation),
		Retriever: knowledge.NewRetriever(kb.embedder, kb.index, cfg.Knowledge.TopK, rt.logger.Underlying()),
		Drafter:   diagnosis.NewDrafter(completer, cfg.LLM.DraftMaxTokens),
		Reviewer:  diagnosis.NewSupervisor(completer, cfg.LLM.SupervisorMaxTokens),
		Documents: docs,
		Events:    pub,
		Archive:   arch,
		Logger:    rt.logger,
		Metrics:   metrics,
	}, opts)
	if err != nil {
		_ = arch.Close(ctx)
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	rt.logger.Info(ctx, "pipeline initialized",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.String("moderation", cfg.Moderation.Classifier),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("knowledge_backend", cfg.Knowledge.Backend),
		zap.String("documents", cfg.Documents.Format),
		zap.Bool("events", cfg.Events.Enabled),
		zap.String("archive", cfg.Archive.Backend),
		zap.Duration("session_ttl", opts.SessionTTL),
		zap.Int("confidence_threshold", opts.ConfidenceThreshold))

	return &pipeline{
		orch:      orch,
		store:     store,
		knowledge: kb,
		events:    pub,
		archive:   arch,
	}, nil
}

// Close releases clients in reverse construction order.
func (p *pipeline) Close(ctx context.Context) error {
	return errors.Join(
		p.archive.Close(ctx),
		p.events.Close(),
		p.knowledge.Close(),
	)
}

func newClassifier(cfg config.ModerationConfig) (moderation.Classifier, error) {
	if cfg.Classifier == "none" {
		return moderation.NoopClassifier{}, nil
	}
	c, err := moderation.NewOpenAIClassifier(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create moderation classifier: %w", err)
	}
	return c, nil
}
