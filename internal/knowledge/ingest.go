package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/consultd/internal/embeddings"
	"github.com/fyrsmithlabs/consultd/internal/vectorstore"
)

// ErrNoDiseases is returned when the CSV holds no usable rows.
var ErrNoDiseases = errors.New("no diseases found")

// embedBatchSize bounds a single embedding request.
const embedBatchSize = 64

// Piece is one chunk of a disease document before embedding.
type Piece struct {
	ID      string
	Disease string
	Text    string
}

// Chunk splits every disease document into pieces of at most size
// characters. Piece IDs are "<slug>-<n>", stable across runs.
func Chunk(diseases []Disease, size, overlap int) ([]Piece, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
	)

	var out []Piece
	for _, d := range diseases {
		parts, err := splitter.SplitText(d.Document())
		if err != nil {
			return nil, fmt.Errorf("splitting %q: %w", d.Name, err)
		}
		slug := d.Slug()
		if slug == "" {
			slug = "disease"
		}
		for n, p := range parts {
			out = append(out, Piece{
				ID:      fmt.Sprintf("%s-%d", slug, n),
				Disease: d.Name,
				Text:    p,
			})
		}
	}
	return out, nil
}

// IngestOptions controls a single ingestion run.
type IngestOptions struct {
	// Replace clears the index before writing.
	Replace bool
}

// IngestStats summarizes an ingestion run.
type IngestStats struct {
	Diseases int           `json:"diseases"`
	Chunks   int           `json:"chunks"`
	Duration time.Duration `json:"duration"`
}

// Ingester loads the disease CSV into the index.
type Ingester struct {
	embedder     embeddings.Embedder
	index        vectorstore.Index
	chunkSize    int
	chunkOverlap int
	logger       *zap.Logger
}

// NewIngester builds an Ingester.
func NewIngester(e embeddings.Embedder, idx vectorstore.Index, chunkSize, chunkOverlap int, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{embedder: e, index: idx, chunkSize: chunkSize, chunkOverlap: chunkOverlap, logger: logger}
}

// Ingest parses, chunks, embeds and upserts the CSV read from r.
func (g *Ingester) Ingest(ctx context.Context, r io.Reader, opts IngestOptions) (IngestStats, error) {
	start := time.Now()

	diseases, err := LoadDiseases(r)
	if err != nil {
		return IngestStats{}, err
	}
	if len(diseases) == 0 {
		return IngestStats{}, ErrNoDiseases
	}

	pieces, err := Chunk(diseases, g.chunkSize, g.chunkOverlap)
	if err != nil {
		return IngestStats{}, err
	}

	if opts.Replace {
		if err := g.index.Reset(ctx); err != nil {
			return IngestStats{}, fmt.Errorf("resetting index: %w", err)
		}
	}

	for lo := 0; lo < len(pieces); lo += embedBatchSize {
		hi := min(lo+embedBatchSize, len(pieces))
		batch := pieces[lo:hi]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Text
		}
		vectors, err := g.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return IngestStats{}, fmt.Errorf("embedding chunks %d-%d: %w", lo, hi, err)
		}
		if len(vectors) != len(batch) {
			return IngestStats{}, fmt.Errorf("embedding chunks %d-%d: got %d vectors", lo, hi, len(vectors))
		}

		chunks := make([]vectorstore.Chunk, len(batch))
		for i, p := range batch {
			chunks[i] = vectorstore.Chunk{
				ID:       p.ID,
				Text:     p.Text,
				Metadata: map[string]string{"disease": p.Disease},
				Vector:   vectors[i],
			}
		}
		if err := g.index.Upsert(ctx, chunks); err != nil {
			return IngestStats{}, fmt.Errorf("upserting chunks %d-%d: %w", lo, hi, err)
		}
	}

	stats := IngestStats{Diseases: len(diseases), Chunks: len(pieces), Duration: time.Since(start)}
	g.logger.Info("knowledge base ingested",
		zap.Int("diseases", stats.Diseases),
		zap.Int("chunks", stats.Chunks),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}
