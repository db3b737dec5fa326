package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

var tracer = otel.Tracer("recalld.vectorstore")

// collectionNamePattern rejects uppercase, path separators, and spaces.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

const (
	maxMessageSize   = 50 * 1024 * 1024
	breakerThreshold = 5
	breakerReset     = 30 * time.Second
)

// ValidateCollectionName checks a collection name against ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
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

// Qdrant is the Store implementation over Qdrant's native gRPC transport.
// gRPC avoids the HTTP layer's payload limits and keeps large batched
// upserts in a single call.
type Qdrant struct {
	client *qdrant.Client
	cfg    config.VectorStoreConfig
	logger *logging.Logger

	ensureOnce sync.Once
	ensureErr  error

	breaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

var _ Store = (*Qdrant)(nil)

// NewQdrant connects to Qdrant and verifies reachability.
func NewQdrant(cfg config.VectorStoreConfig, logger *logging.Logger) (*Qdrant, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, cfg.Port)
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	if err := ValidateCollectionName(cfg.CollectionName); err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(maxMessageSize),
				grpc.MaxCallSendMsgSize(maxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &Qdrant{client: client, cfg: cfg, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Health(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the gRPC connection.
func (s *Qdrant) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Health pings the backend.
func (s *Qdrant) Health(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Qdrant.Health")
	defer span.End()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", memory.ErrBackendUnavailable, err)
	}
	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// EnsureCollection creates the collection on first call if missing.
func (s *Qdrant) EnsureCollection(ctx context.Context) error {
	s.ensureOnce.Do(func() {
		s.ensureErr = s.ensureCollection(ctx)
	})
	return s.ensureErr
}

func (s *Qdrant) ensureCollection(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Qdrant.EnsureCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", s.cfg.CollectionName))

	var exists bool
	err := s.retry(ctx, "collection_info", func() error {
		info, err := s.client.GetCollectionInfo(ctx, s.cfg.CollectionName)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				exists = false
				return nil
			}
			return err
		}
		exists = info != nil
		return nil
	})
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	s.logger.Info(ctx, "creating collection",
		zap.String("collection", s.cfg.CollectionName),
		zap.Int("vector_size", s.cfg.VectorSize))

	return s.retry(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.cfg.CollectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.cfg.VectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
}

// UpsertRecords writes records as points. Point IDs come from the
// records, which are deterministic from scope + content hash, so
// identical re-ingestion overwrites in place.
func (s *Qdrant) UpsertRecords(ctx context.Context, records []*memory.Record) error {
	ctx, span := tracer.Start(ctx, "Qdrant.UpsertRecords")
	defer span.End()
	span.SetAttributes(attribute.Int("record_count", len(records)))

	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		vec := r.Vector
		if len(vec) == 0 {
			// Pending embeddings hold a zero vector until backfill.
			vec = make([]float32, s.cfg.VectorSize)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(r.ID),
			Vectors: qdrant.NewVectors(vec...),
			Payload: recordPayload(r),
		}
	}

	err := s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.cfg.CollectionName,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search runs a scoped similarity query.
func (s *Qdrant) Search(ctx context.Context, req SearchRequest) ([]memory.ScoredRecord, error) {
	ctx, span := tracer.Start(ctx, "Qdrant.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("scope_id", req.ScopeID),
		attribute.Int("limit", req.Limit),
	)

	if req.ScopeID == "" {
		return nil, fmt.Errorf("%w: scope required for search", ErrInvalidConfig)
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	filter := searchFilter(req, s.cfg.SharedScope)

	var points []*qdrant.ScoredPoint
	err := s.retry(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.cfg.CollectionName,
			Query:          qdrant.NewQuery(req.Vector...),
			Limit:          qdrant.PtrOf(uint64(req.Limit)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         filter,
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
		return nil, err
	}

	results := make([]memory.ScoredRecord, 0, len(points))
	for _, p := range points {
		rec := recordFromPayload(pointIDString(p.Id), p.Payload)
		results = append(results, memory.ScoredRecord{
			Record:   rec,
			Semantic: float64(p.Score),
		})
	}
	span.SetAttributes(attribute.Int("result_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// FetchByHash looks up the record with the given content hash in scope.
// The filter-only query is exact, no vector search involved.
func (s *Qdrant) FetchByHash(ctx context.Context, scopeID, contentHash string) (*memory.Record, error) {
	ctx, span := tracer.Start(ctx, "Qdrant.FetchByHash")
	defer span.End()

	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		keywordCondition(keyScopeID, scopeID),
		keywordCondition(keyContentHash, contentHash),
	}}

	points, err := s.filterQuery(ctx, filter, 1)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(points) == 0 {
		return nil, memory.ErrNotFound
	}
	return recordFromPayload(pointIDString(points[0].Id), points[0].Payload), nil
}

// FetchByID retrieves one record by point ID.
func (s *Qdrant) FetchByID(ctx context.Context, id string) (*memory.Record, error) {
	ctx, span := tracer.Start(ctx, "Qdrant.FetchByID")
	defer span.End()

	var points []*qdrant.RetrievedPoint
	err := s.retry(ctx, "get", func() error {
		var opErr error
		points, opErr = s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: s.cfg.CollectionName,
			Ids:            []*qdrant.PointId{qdrant.NewIDUUID(id)},
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return opErr
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(points) == 0 {
		return nil, memory.ErrNotFound
	}
	return recordFromPayload(pointIDString(points[0].Id), points[0].Payload), nil
}

// FetchByStatus returns records in the given embedding state.
func (s *Qdrant) FetchByStatus(ctx context.Context, st memory.EmbeddingStatus, limit int) ([]*memory.Record, error) {
	ctx, span := tracer.Start(ctx, "Qdrant.FetchByStatus")
	defer span.End()

	if limit <= 0 {
		limit = 64
	}
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		keywordCondition(keyEmbeddingStatus, string(st)),
	}}
	points, err := s.filterQuery(ctx, filter, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	records := make([]*memory.Record, len(points))
	for i, p := range points {
		records[i] = recordFromPayload(pointIDString(p.Id), p.Payload)
	}
	return records, nil
}

// FetchPendingClassify returns records awaiting reclassification.
func (s *Qdrant) FetchPendingClassify(ctx context.Context, limit int) ([]*memory.Record, error) {
	ctx, span := tracer.Start(ctx, "Qdrant.FetchPendingClassify")
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		keywordCondition(keyClassifyState, string(memory.ClassifyPending)),
	}}
	points, err := s.filterQuery(ctx, filter, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	records := make([]*memory.Record, len(points))
	for i, p := range points {
		records[i] = recordFromPayload(pointIDString(p.Id), p.Payload)
	}
	return records, nil
}

// FetchByTypes returns scoped records of the given types, unranked.
func (s *Qdrant) FetchByTypes(ctx context.Context, scopeID string, types []memory.RecordType, limit int) ([]*memory.Record, error) {
	ctx, span := tracer.Start(ctx, "Qdrant.FetchByTypes")
	defer span.End()

	if limit <= 0 {
		limit = 32
	}
	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			keywordCondition(keyScopeID, scopeID),
			keywordsCondition(keyType, typeNames),
		},
		MustNot: []*qdrant.Condition{supersededCondition()},
	}
	points, err := s.filterQuery(ctx, filter, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	records := make([]*memory.Record, len(points))
	for i, p := range points {
		records[i] = recordFromPayload(pointIDString(p.Id), p.Payload)
	}
	return records, nil
}

// UpdatePayload patches payload fields on a single point.
func (s *Qdrant) UpdatePayload(ctx context.Context, id string, fields map[string]any) error {
	ctx, span := tracer.Start(ctx, "Qdrant.UpdatePayload")
	defer span.End()
	span.SetAttributes(attribute.String("record_id", id))

	payload := fieldsToPayload(fields)
	if len(payload) == 0 {
		return nil
	}
	err := s.retry(ctx, "set_payload", func() error {
		_, err := s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: s.cfg.CollectionName,
			Payload:        payload,
			PointsSelector: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{
						Ids: []*qdrant.PointId{qdrant.NewIDUUID(id)},
					},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Delete removes points by ID.
func (s *Qdrant) Delete(ctx context.Context, ids []string) error {
	ctx, span := tracer.Start(ctx, "Qdrant.Delete")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}
	return s.retry(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.cfg.CollectionName,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pointIDs},
				},
			},
		})
		return err
	})
}

// filterQuery runs a filter-only query. Without a query vector Qdrant
// returns matching points in ID order, which serves exact lookups.
func (s *Qdrant) filterQuery(ctx context.Context, filter *qdrant.Filter, limit int) ([]*qdrant.ScoredPoint, error) {
	var points []*qdrant.ScoredPoint
	err := s.retry(ctx, "filter_query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.cfg.CollectionName,
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         filter,
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	return points, err
}

// retry runs op with exponential backoff on transient errors. The
// inline breaker trips after repeated failures and holds open for
// breakerReset before allowing traffic again.
func (s *Qdrant) retry(ctx context.Context, name string, op func() error) error {
	if s.breakerOpen() {
		return fmt.Errorf("%s: %w: circuit breaker open", name, memory.ErrBackendUnavailable)
	}

	backoff := s.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var err error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		err = op()
		if err == nil {
			s.resetBreaker()
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed: %w", name, err)
		}
		s.recordFailure()
		if attempt == s.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return fmt.Errorf("%s failed after %d retries: %w: %v", name, s.cfg.MaxRetries, memory.ErrBackendUnavailable, err)
}

func (s *Qdrant) recordFailure() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures++
	s.breaker.lastFail = time.Now()
}

func (s *Qdrant) resetBreaker() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures = 0
}

func (s *Qdrant) breakerOpen() bool {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	if s.breaker.failures < breakerThreshold {
		return false
	}
	if time.Since(s.breaker.lastFail) > breakerReset {
		s.breaker.failures = 0
		return false
	}
	return true
}

// searchFilter builds the retrieval filter: scope isolation, optional
// type narrowing, and exclusion of records flagged stale beyond policy.
func searchFilter(req SearchRequest, sharedScope string) *qdrant.Filter {
	filter := &qdrant.Filter{
		Must:    []*qdrant.Condition{scopeCondition(req.ScopeID, req.IncludeShared, sharedScope)},
		MustNot: []*qdrant.Condition{supersededCondition()},
	}
	if len(req.Types) > 0 {
		names := make([]string, len(req.Types))
		for i, t := range req.Types {
			names[i] = string(t)
		}
		filter.Must = append(filter.Must, keywordsCondition(keyType, names))
	}
	return filter
}

func supersededCondition() *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: keySuperseded,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Boolean{Boolean: true},
				},
			},
		},
	}
}

func scopeCondition(scopeID string, includeShared bool, sharedScope string) *qdrant.Condition {
	if includeShared && sharedScope != "" && sharedScope != scopeID {
		return keywordsCondition(keyScopeID, []string{scopeID, sharedScope})
	}
	return keywordCondition(keyScopeID, scopeID)
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

func keywordsCondition(key string, values []string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keywords{
						Keywords: &qdrant.RepeatedStrings{Strings: values},
					},
				},
			},
		},
	}
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u, ok := id.PointIdOptions.(*qdrant.PointId_Uuid); ok {
		return u.Uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}
