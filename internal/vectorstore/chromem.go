package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("consultd.vectorstore.chromem")

// errTextQuery is returned if chromem ever asks us to embed text itself.
var errTextQuery = errors.New("chromem index only accepts precomputed embeddings")

// ChromemConfig holds configuration for the chromem-go embedded index.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps the index
	// in memory only.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection holds every knowledge chunk. Default: "medical_knowledge".
	Collection string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "medical_knowledge"
	}
}

// ChromemIndex implements Index on chromem-go.
type ChromemIndex struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger

	// mu guards collection, which Reset swaps.
	mu         sync.RWMutex
	collection *chromem.Collection
}

// NewChromemIndex opens (or creates) the index at cfg.Path.
func NewChromemIndex(cfg ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := ValidateCollectionName(cfg.Collection); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		cfg.Path = path
	}

	idx := &ChromemIndex{db: db, config: cfg, logger: logger}
	col, err := idx.openCollection()
	if err != nil {
		return nil, err
	}
	idx.collection = col

	logger.Info("chromem index opened",
		zap.String("path", cfg.Path),
		zap.String("collection", cfg.Collection),
		zap.Int("chunks", col.Count()),
	)
	return idx, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (i *ChromemIndex) openCollection() (*chromem.Collection, error) {
	col, err := i.db.GetOrCreateCollection(i.config.Collection, nil, rejectTextEmbedding)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", i.config.Collection, err)
	}
	return col, nil
}

func rejectTextEmbedding(context.Context, string) ([]float32, error) {
	return nil, errTextQuery
}

// Upsert stores chunks. Existing IDs are overwritten.
func (i *ChromemIndex) Upsert(ctx context.Context, chunks []Chunk) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))

	if len(chunks) == 0 {
		return ErrEmptyChunks
	}
	if err := validateVectors(chunks); err != nil {
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for n, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("chunk at index %d has no id", n)
		}
		docs[n] = chromem.Document{
			ID:        c.ID,
			Content:   c.Text,
			Metadata:  c.Metadata,
			Embedding: c.Vector,
		}
	}

	i.mu.RLock()
	col := i.collection
	i.mu.RUnlock()

	// Embeddings are precomputed, so concurrency 1 is enough.
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	i.logger.Debug("upserted chunks", zap.Int("count", len(chunks)))
	return nil
}

// Search returns the k closest chunks by cosine similarity.
func (i *ChromemIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}

	i.mu.RLock()
	col := i.collection
	i.mu.RUnlock()

	// chromem requires nResults <= document count.
	count := col.Count()
	if count == 0 {
		return []Hit{}, nil
	}
	if k > count {
		k = count
	}

	results, err := col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", i.config.Collection, err)
	}

	hits := make([]Hit, len(results))
	for n, r := range results {
		hits[n] = Hit{ID: r.ID, Text: r.Content, Score: r.Similarity, Metadata: r.Metadata}
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Count returns the number of stored chunks.
func (i *ChromemIndex) Count(context.Context) (int, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.collection.Count(), nil
}

// Reset deletes the collection and starts an empty one.
func (i *ChromemIndex) Reset(ctx context.Context) error {
	_, span := chromemTracer.Start(ctx, "ChromemIndex.Reset")
	defer span.End()

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.db.DeleteCollection(i.config.Collection); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting collection %s: %w", i.config.Collection, err)
	}
	col, err := i.openCollection()
	if err != nil {
		return err
	}
	i.collection = col
	return nil
}

// Close is a no-op; chromem persists on every write.
func (i *ChromemIndex) Close() error {
	return nil
}
