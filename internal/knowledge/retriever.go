// Package knowledge looks up reference text for a consultation and keeps
// the reference index populated.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/consultd/internal/clarify"
	"github.com/fyrsmithlabs/consultd/internal/embeddings"
	"github.com/fyrsmithlabs/consultd/internal/intake"
	"github.com/fyrsmithlabs/consultd/internal/vectorstore"
)

// ErrEmptyQuery is returned when there is nothing to search for.
var ErrEmptyQuery = errors.New("empty retrieval query")

// noMatchText is handed to the drafter when nothing was found.
const noMatchText = "No matches found in the knowledge base."

// Snippet is the best matching reference text, or NoMatch.
type Snippet struct {
	Text  string  `json:"text"`
	Score float32 `json:"score"`
	// Found is false only for NoMatch.
	Found  bool   `json:"found"`
	Source string `json:"source,omitempty"`
}

// NoMatch is the explicit "nothing retrieved" value.
var NoMatch = Snippet{Text: noMatchText}

// IsNoMatch reports whether s carries no reference text.
func (s Snippet) IsNoMatch() bool {
	return !s.Found
}

// BuildQuery joins symptoms with ", " and appends the answered questions as
// "Q: ... A: ..." lines.
func BuildQuery(symptoms intake.SymptomList, qa []clarify.QA) string {
	var b strings.Builder
	b.WriteString(symptoms.String())
	if len(qa) > 0 {
		b.WriteByte('\n')
		b.WriteString(clarify.Format(qa))
	}
	return strings.TrimSpace(b.String())
}

// Retriever embeds a query and returns the nearest indexed chunk.
type Retriever struct {
	embedder embeddings.Embedder
	index    vectorstore.Index
	topK     int
	logger   *zap.Logger
}

// NewRetriever builds a Retriever. topK below 1 means 1.
func NewRetriever(e embeddings.Embedder, idx vectorstore.Index, topK int, logger *zap.Logger) *Retriever {
	if topK < 1 {
		topK = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{embedder: e, index: idx, topK: topK, logger: logger}
}

// Lookup performs the search and reports transport failures. An empty
// index is not an error: it yields NoMatch.
func (r *Retriever) Lookup(ctx context.Context, symptoms intake.SymptomList, qa []clarify.QA) (Snippet, error) {
	query := BuildQuery(symptoms, qa)
	if query == "" {
		return NoMatch, ErrEmptyQuery
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return NoMatch, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := r.index.Search(ctx, vector, r.topK)
	if err != nil {
		return NoMatch, fmt.Errorf("searching index: %w", err)
	}
	if len(hits) == 0 || strings.TrimSpace(hits[0].Text) == "" {
		return NoMatch, nil
	}

	best := hits[0]
	return Snippet{Text: best.Text, Score: best.Score, Found: true, Source: best.ID}, nil
}

// Retrieve is Lookup without the error: every failure becomes NoMatch.
func (r *Retriever) Retrieve(ctx context.Context, symptoms intake.SymptomList, qa []clarify.QA) Snippet {
	s, err := r.Lookup(ctx, symptoms, qa)
	if err != nil {
		r.logger.Warn("knowledge lookup failed, continuing without reference", zap.Error(err))
		return NoMatch
	}
	return s
}
