package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/consultd/internal/config"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyChunks indicates an empty upsert batch.
	ErrEmptyChunks = errors.New("empty or nil chunks")

	// ErrConnectionFailed indicates the index backend could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector index")

	// ErrInvalidCollectionName indicates a collection name failing validation.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrDimensionMismatch indicates vectors of differing length in one index.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// collectionNamePattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Chunk is one piece of reference text with its embedding.
type Chunk struct {
	// ID is stable across re-ingestion so upserts replace older copies.
	ID       string
	Text     string
	Metadata map[string]string
	Vector   []float32
}

// Hit is a search result. Higher Score means closer.
type Hit struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Index is a nearest-neighbor index over knowledge chunks.
type Index interface {
	// Upsert inserts chunks or replaces chunks with the same ID.
	Upsert(ctx context.Context, chunks []Chunk) error

	// Search returns up to k hits ordered by descending score. An empty
	// index yields an empty slice and no error.
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)

	// Reset drops every chunk.
	Reset(ctx context.Context) error

	Close() error
}

// ValidateCollectionName rejects names outside ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// NewIndex opens the backend named in the knowledge section.
func NewIndex(cfg config.KnowledgeConfig, logger *zap.Logger) (Index, error) {
	switch cfg.Backend {
	case "chromem", "":
		return NewChromemIndex(ChromemConfig{
			Path:       cfg.Chromem.Path,
			Compress:   cfg.Chromem.Compress,
			Collection: cfg.Chromem.Collection,
		}, logger)
	case "qdrant":
		return NewQdrantIndex(QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey.Value(),
			Collection: cfg.Qdrant.Collection,
			VectorSize: uint64(cfg.Qdrant.VectorSize),
			UseTLS:     cfg.Qdrant.UseTLS,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
	}
}

func validateVectors(chunks []Chunk) error {
	dim := len(chunks[0].Vector)
	if dim == 0 {
		return fmt.Errorf("%w: chunk %q has no embedding", ErrDimensionMismatch, chunks[0].ID)
	}
	for _, c := range chunks[1:] {
		if len(c.Vector) != dim {
			return fmt.Errorf("%w: chunk %q has %d values, expected %d", ErrDimensionMismatch, c.ID, len(c.Vector), dim)
		}
	}
	return nil
}
