package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/consultd/internal/retry"
)

var tracer = otel.Tracer("consultd.vectorstore.qdrant")

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// chunkNamespace derives point UUIDs from chunk IDs.
var chunkNamespace = uuid.MustParse("6f1f7e0c-4a53-4c1b-9d0c-2d6c3a9b7e21")

// QdrantConfig holds configuration for the Qdrant gRPC index.
type QdrantConfig struct {
	Host string
	// Port is the gRPC port (6334), not the REST port.
	Port   int
	APIKey string

	Collection string

	// VectorSize must match the embeddings provider.
	VectorSize uint64

	// Distance defaults to cosine.
	Distance qdrant.Distance

	UseTLS bool

	// MaxRetries is the number of retries after the first attempt for
	// transient failures. Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per retry. Default: 1s
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size. Default: 50MB
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of consecutive transient
	// failures that opens the breaker for CircuitBreakerCooldown.
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "medical_knowledge"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitBreakerCooldown == 0 {
		c.CircuitBreakerCooldown = 30 * time.Second
	}
	if c.Distance == qdrant.Distance_UnknownDistance {
		c.Distance = qdrant.Distance_Cosine
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	if err := ValidateCollectionName(c.Collection); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// breaker opens after a run of transient failures and closes again after
// a cooldown.
type breaker struct {
	mu        sync.Mutex
	failures  int
	lastFail  time.Time
	threshold int
	cooldown  time.Duration
}

func (b *breaker) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return false
	}
	if time.Since(b.lastFail) > b.cooldown {
		b.failures = 0
		return false
	}
	return true
}

func (b *breaker) fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFail = time.Now()
}

func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// QdrantIndex implements Index on Qdrant's native gRPC client.
type QdrantIndex struct {
	client  *qdrant.Client
	config  QdrantConfig
	logger  *zap.Logger
	breaker *breaker
}

// NewQdrantIndex connects, health-checks and ensures the collection exists.
func NewQdrantIndex(cfg QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, TLS disabled", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	idx := &QdrantIndex{
		client: client,
		config: cfg,
		logger: logger,
		breaker: &breaker{
			threshold: cfg.CircuitBreakerThreshold,
			cooldown:  cfg.CircuitBreakerCooldown,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

// do runs op under the breaker, retrying transient gRPC failures.
func (i *QdrantIndex) do(ctx context.Context, name string, op func(context.Context) error) error {
	if i.breaker.open() {
		return fmt.Errorf("%s: %w", name, ErrCircuitOpen)
	}

	policy := retry.Policy{
		MaxAttempts:    i.config.MaxRetries + 1,
		InitialBackoff: i.config.RetryBackoff,
		MaxBackoff:     8 * i.config.RetryBackoff,
	}
	_, err := retry.Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		err := op(ctx)
		switch {
		case err == nil:
			i.breaker.reset()
			return struct{}{}, nil
		case !IsTransientError(err):
			return struct{}{}, retry.Permanent(err)
		}
		i.breaker.fail()
		if i.breaker.open() {
			return struct{}{}, retry.Permanent(fmt.Errorf("%w: %v", ErrCircuitOpen, err))
		}
		return struct{}{}, err
	}, func(attempt int, err error, wait time.Duration) {
		i.logger.Debug("retrying qdrant call",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (i *QdrantIndex) ensureCollection(ctx context.Context) error {
	var exists bool
	err := i.do(ctx, "collection_exists", func(ctx context.Context) error {
		var err error
		exists, err = i.client.CollectionExists(ctx, i.config.Collection)
		return err
	})
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", i.config.Collection, err)
	}
	if exists {
		return nil
	}
	return i.createCollection(ctx)
}

func (i *QdrantIndex) createCollection(ctx context.Context) error {
	err := i.do(ctx, "create_collection", func(ctx context.Context) error {
		return i.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: i.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     i.config.VectorSize,
				Distance: i.config.Distance,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", i.config.Collection, err)
	}
	i.logger.Info("created qdrant collection",
		zap.String("collection", i.config.Collection),
		zap.Uint64("vector_size", i.config.VectorSize),
	)
	return nil
}

// pointID maps a chunk ID onto a stable UUID, since Qdrant only accepts
// UUIDs or integers.
func pointID(chunkID string) *qdrant.PointId {
	if _, err := uuid.Parse(chunkID); err == nil {
		return qdrant.NewIDUUID(chunkID)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String())
}

// Upsert stores chunks; the chunk ID is kept in the payload.
func (i *QdrantIndex) Upsert(ctx context.Context, chunks []Chunk) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.Int("chunk_count", len(chunks)),
		attribute.String("collection", i.config.Collection),
	)

	if len(chunks) == 0 {
		return ErrEmptyChunks
	}
	if err := validateVectors(chunks); err != nil {
		return err
	}
	if uint64(len(chunks[0].Vector)) != i.config.VectorSize {
		return fmt.Errorf("%w: got %d values, collection expects %d", ErrDimensionMismatch, len(chunks[0].Vector), i.config.VectorSize)
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for n, c := range chunks {
		payload := map[string]any{"id": c.ID, "content": c.Text}
		for k, v := range c.Metadata {
			payload[k] = v
		}
		points[n] = &qdrant.PointStruct{
			Id:      pointID(c.ID),
			Vectors: qdrant.NewVectors(c.Vector...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	err := i.do(ctx, "upsert", func(ctx context.Context) error {
		_, err := i.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: i.config.Collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points to collection %s: %w", i.config.Collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search returns the k closest chunks.
func (i *QdrantIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", i.config.Collection),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	const maxK = 1000
	if k > maxK {
		k = maxK
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}

	var points []*qdrant.ScoredPoint
	err := i.do(ctx, "search", func(ctx context.Context) error {
		res, err := i.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: i.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", i.config.Collection, err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, hitFromPayload(p.Score, p.Payload))
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

func hitFromPayload(score float32, payload map[string]*qdrant.Value) Hit {
	h := Hit{Score: score}
	for k, v := range payload {
		s, ok := v.GetKind().(*qdrant.Value_StringValue)
		if !ok {
			continue
		}
		switch k {
		case "content":
			h.Text = s.StringValue
		case "id":
			h.ID = s.StringValue
		default:
			if h.Metadata == nil {
				h.Metadata = make(map[string]string)
			}
			h.Metadata[k] = s.StringValue
		}
	}
	return h
}

// Count returns the exact number of stored chunks.
func (i *QdrantIndex) Count(ctx context.Context) (int, error) {
	var n uint64
	err := i.do(ctx, "count", func(ctx context.Context) error {
		var err error
		n, err = i.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: i.config.Collection,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("counting collection %s: %w", i.config.Collection, err)
	}
	return int(n), nil
}

// Reset drops and recreates the collection.
func (i *QdrantIndex) Reset(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Reset")
	defer span.End()

	err := i.do(ctx, "delete_collection", func(ctx context.Context) error {
		return i.client.DeleteCollection(ctx, i.config.Collection)
	})
	if err != nil && status.Code(errors.Unwrap(err)) != grpccodes.NotFound {
		span.RecordError(err)
		return fmt.Errorf("deleting collection %s: %w", i.config.Collection, err)
	}
	return i.createCollection(ctx)
}

// Close closes the gRPC connection.
func (i *QdrantIndex) Close() error {
	if i.client != nil {
		return i.client.Close()
	}
	return nil
}
