package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/consultd/internal/config"
)

func testChunks() []Chunk {
	return []Chunk{
		{ID: "influenza-0", Text: "Influenza: fever, cough, muscle aches.", Metadata: map[string]string{"disease": "Influenza"}, Vector: []float32{1, 0, 0}},
		{ID: "migraine-0", Text: "Migraine: headache, nausea, light sensitivity.", Metadata: map[string]string{"disease": "Migraine"}, Vector: []float32{0, 1, 0}},
		{ID: "gastritis-0", Text: "Gastritis: abdominal pain, nausea.", Vector: []float32{0, 0.2, 1}},
	}
}

func TestChromemIndex_SearchReturnsClosest(t *testing.T) {
	idx, err := NewChromemIndex(ChromemConfig{}, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, testChunks()))

	hits, err := idx.Search(ctx, []float32{0.9, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "influenza-0", hits[0].ID)
	assert.Contains(t, hits[0].Text, "Influenza")
	assert.Equal(t, "Influenza", hits[0].Metadata["disease"])
	assert.Greater(t, hits[0].Score, float32(0.9))
}

func TestChromemIndex_EmptyIndexYieldsNoHits(t *testing.T) {
	idx, err := NewChromemIndex(ChromemConfig{}, nil)
	require.NoError(t, err)

	hits, err := idx.Search(context.Background(), []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChromemIndex_KCappedAtCount(t *testing.T) {
	idx, err := NewChromemIndex(ChromemConfig{}, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, testChunks()))

	hits, err := idx.Search(ctx, []float32{0, 1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "migraine-0", hits[0].ID)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestChromemIndex_UpsertReplacesByID(t *testing.T) {
	idx, err := NewChromemIndex(ChromemConfig{}, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, testChunks()))

	updated := Chunk{ID: "influenza-0", Text: "Influenza (revised)", Vector: []float32{1, 0, 0}}
	require.NoError(t, idx.Upsert(ctx, []Chunk{updated}))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "Influenza (revised)", hits[0].Text)
}

func TestChromemIndex_Validation(t *testing.T) {
	idx, err := NewChromemIndex(ChromemConfig{}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, idx.Upsert(ctx, nil), ErrEmptyChunks)
	assert.ErrorIs(t, idx.Upsert(ctx, []Chunk{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{1, 0, 0}},
	}), ErrDimensionMismatch)
	assert.Error(t, idx.Upsert(ctx, []Chunk{{Vector: []float32{1}}}))

	_, err = idx.Search(ctx, []float32{1}, 0)
	assert.Error(t, err)
	_, err = idx.Search(ctx, nil, 1)
	assert.Error(t, err)

	_, err = NewChromemIndex(ChromemConfig{Collection: "Bad Name"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestChromemIndex_PersistsAndResets(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	idx, err := NewChromemIndex(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, testChunks()))
	require.NoError(t, idx.Close())

	reopened, err := NewChromemIndex(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, reopened.Reset(ctx))
	n, err = reopened.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewIndex(t *testing.T) {
	cfg := config.Default().Knowledge
	cfg.Chromem.Path = t.TempDir()

	idx, err := NewIndex(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &ChromemIndex{}, idx)

	cfg.Backend = "redis"
	_, err = NewIndex(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
