package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// collectionNamePattern validates collection names.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334), not the REST port.
	Port int

	APIKey string
	UseTLS bool

	// Collection holds every tenant's chunks, partitioned by payload.
	Collection string

	// VectorSize must match the embedder's output dimension.
	VectorSize uint64

	// MaxRetries is the maximum number of retry attempts for transient failures.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled on each retry.
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int

	// ScrollPageSize bounds points fetched per scroll request.
	ScrollPageSize uint32
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.ScrollPageSize == 0 {
		c.ScrollPageSize = 256
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
	if !collectionNamePattern.MatchString(c.Collection) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidConfig, c.Collection)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// Payload keys.
const (
	payloadTenant   = "tenant_id"
	payloadDocument = "document_id"
	payloadContent  = "content"
)

// QdrantBackend stores chunks as points in one Qdrant collection. Point ids
// are increasing integers so scroll order is insertion order.
type QdrantBackend struct {
	client *qdrant.Client
	config QdrantConfig
	seq    *sequence
	logger *zap.Logger
}

// NewQdrantBackend connects, health checks and ensures the collection and
// its payload indexes exist.
func NewQdrantBackend(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to qdrant: %w", ErrStorageUnavailable, err)
	}

	b := &QdrantBackend{client: client, config: config, seq: newSequence(), logger: logger}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %w", ErrStorageUnavailable, err)
	}
	if err := b.ensureCollection(hctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return b, nil
}

func (b *QdrantBackend) ensureCollection(ctx context.Context) error {
	exists, err := b.client.CollectionExists(ctx, b.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", b.config.Collection, err)
	}
	if exists {
		return nil
	}

	err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: b.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     b.config.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", b.config.Collection, err)
	}

	for _, field := range []string{payloadTenant, payloadDocument} {
		_, err := b.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: b.config.Collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("creating %s index: %w", field, err)
		}
	}
	b.logger.Info("created qdrant collection",
		zap.String("collection", b.config.Collection),
		zap.Uint64("vector_size", b.config.VectorSize))
	return nil
}

// retryOperation retries an operation with exponential backoff.
func (b *QdrantBackend) retryOperation(ctx context.Context, name string, op func() error) error {
	backoff := b.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		if attempt == b.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, b.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// Insert implements Backend. One upsert request carries the whole batch.
func (b *QdrantBackend) Insert(ctx context.Context, tenantID string, chunks []Chunk) error {
	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(b.seq.next())),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: map[string]*qdrant.Value{
				payloadTenant:   stringValue(tenantID),
				payloadDocument: stringValue(c.DocumentID),
				payloadContent:  stringValue(c.Content),
			},
		}
	}

	return b.retryOperation(ctx, "upsert", func() error {
		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: b.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
}

// SearchVector implements Searcher with exact (brute-force) scoring.
// Insertion order among equal scores holds only within the returned page:
// Qdrant picks which tied points make the limit.
func (b *QdrantBackend) SearchVector(ctx context.Context, tenantID string, query []float32, limit int) ([]Result, error) {
	var points []*qdrant.ScoredPoint
	err := b.retryOperation(ctx, "search", func() error {
		res, err := b.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: b.config.Collection,
			Query:          qdrant.NewQuery(query...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			Filter:         tenantFilter(tenantID),
			WithPayload:    qdrant.NewWithPayload(true),
			Params: &qdrant.SearchParams{
				Exact: qdrant.PtrOf(true),
			},
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	return pageResults(points), nil
}

// pageResults converts one page of scored points into Results ordered by
// descending score, then point id.
func pageResults(points []*qdrant.ScoredPoint) []Result {
	type scored struct {
		id uint64
		r  Result
	}
	ordered := make([]scored, len(points))
	for i, p := range points {
		ordered[i] = scored{
			id: p.GetId().GetNum(),
			r: Result{
				Content:    p.GetPayload()[payloadContent].GetStringValue(),
				DocumentID: p.GetPayload()[payloadDocument].GetStringValue(),
				Score:      float64(p.GetScore()),
			},
		}
	}
	// Qdrant does not define tie order; restore insertion order for ties
	// among the points it returned.
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })

	results := make([]Result, len(ordered))
	for i, o := range ordered {
		results[i] = o.r
	}
	sortResults(results)
	return results
}

// Chunks implements Backend. Embeddings are not fetched: scoring happens
// server-side through SearchVector.
func (b *QdrantBackend) Chunks(ctx context.Context, tenantID string) ([]Chunk, error) {
	var out []Chunk
	err := b.scroll(ctx, tenantFilter(tenantID), func(p *qdrant.RetrievedPoint) bool {
		out = append(out, Chunk{
			ID:         int64(p.GetId().GetNum()),
			TenantID:   tenantID,
			DocumentID: p.GetPayload()[payloadDocument].GetStringValue(),
			Content:    p.GetPayload()[payloadContent].GetStringValue(),
		})
		return true
	})
	return out, err
}

// DocumentChunks implements Backend.
func (b *QdrantBackend) DocumentChunks(ctx context.Context, tenantID, documentID string) ([]string, error) {
	filter := tenantFilter(tenantID)
	filter.Must = append(filter.Must, keywordCondition(payloadDocument, documentID))

	var out []string
	err := b.scroll(ctx, filter, func(p *qdrant.RetrievedPoint) bool {
		out = append(out, p.GetPayload()[payloadContent].GetStringValue())
		return true
	})
	return out, err
}

// URLChunks implements Backend.
func (b *QdrantBackend) URLChunks(ctx context.Context, tenantID string, limit int) ([]string, error) {
	var out []string
	err := b.scroll(ctx, tenantFilter(tenantID), func(p *qdrant.RetrievedPoint) bool {
		if isURL(p.GetPayload()[payloadDocument].GetStringValue()) {
			out = append(out, p.GetPayload()[payloadContent].GetStringValue())
		}
		return len(out) < limit
	})
	return out, err
}

// scroll pages through points in id order, calling fn until it returns false.
func (b *QdrantBackend) scroll(ctx context.Context, filter *qdrant.Filter, fn func(*qdrant.RetrievedPoint) bool) error {
	var offset *qdrant.PointId

	for {
		var page []*qdrant.RetrievedPoint
		err := b.retryOperation(ctx, "scroll", func() error {
			res, err := b.client.Scroll(ctx, &qdrant.ScrollPoints{
				CollectionName: b.config.Collection,
				Filter:         filter,
				Offset:         offset,
				Limit:          qdrant.PtrOf(b.config.ScrollPageSize),
				WithPayload:    qdrant.NewWithPayload(true),
				WithVectors:    qdrant.NewWithVectors(false),
			})
			if err != nil {
				return err
			}
			page = res
			return nil
		})
		if err != nil {
			return err
		}

		for _, p := range page {
			if !fn(p) {
				return nil
			}
		}
		if len(page) < int(b.config.ScrollPageSize) {
			return nil
		}
		offset = qdrant.NewIDNum(page[len(page)-1].GetId().GetNum() + 1)
	}
}

// DeleteDocument implements Backend.
func (b *QdrantBackend) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	filter := tenantFilter(tenantID)
	filter.Must = append(filter.Must, keywordCondition(payloadDocument, documentID))
	return b.deleteByFilter(ctx, filter)
}

// DeleteTenant implements Backend.
func (b *QdrantBackend) DeleteTenant(ctx context.Context, tenantID string) error {
	return b.deleteByFilter(ctx, tenantFilter(tenantID))
}

func (b *QdrantBackend) deleteByFilter(ctx context.Context, filter *qdrant.Filter) error {
	return b.retryOperation(ctx, "delete", func() error {
		_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: b.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
		})
		return err
	})
}

// Close closes the gRPC connection.
func (b *QdrantBackend) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

func tenantFilter(tenantID string) *qdrant.Filter {
	return &qdrant.Filter{Must: []*qdrant.Condition{keywordCondition(payloadTenant, tenantID)}}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

var _ Backend = (*QdrantBackend)(nil)
var _ Searcher = (*QdrantBackend)(nil)
