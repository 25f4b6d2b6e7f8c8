// Package qdrant implements the catalog over Qdrant's gRPC API.
//
// Tenant isolation is a payload filter on tenant_id, applied to every read.
// Point ids are UUIDv5 values derived from (tenant_id, record id), so a
// redelivered record replaces its own point instead of adding a duplicate.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"prodsync/apps/backend/internal/catalog"
)

// pointsAPI is the subset of *qdrant.Client the store uses.
type pointsAPI interface {
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
}

type Config struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	MaxMessageSize int
}

type Store struct {
	client pointsAPI
	closer func() error
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("qdrant: host and port are required")
	}
	size := cfg.MaxMessageSize
	if size <= 0 {
		size = 50 * 1024 * 1024
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(size),
				grpc.MaxCallSendMsgSize(size),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to qdrant: %v", catalog.ErrUnavailable, err)
	}
	return &Store{client: client, closer: client.Close}, nil
}

func newStoreWithClient(client pointsAPI) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
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

func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || IsTransient(err) {
		return fmt.Errorf("%w: %s: %v", catalog.ErrUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func hasCode(err error, code grpccodes.Code) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == code
}

func toDistance(d catalog.Distance) (qdrant.Distance, error) {
	switch d {
	case catalog.Cosine, "":
		return qdrant.Distance_Cosine, nil
	case catalog.Dot:
		return qdrant.Distance_Dot, nil
	default:
		return 0, fmt.Errorf("unsupported distance %q", d)
	}
}

func (s *Store) EnsureCollection(ctx context.Context, name string, size int, distance catalog.Distance) error {
	dist, err := toDistance(distance)
	if err != nil {
		return err
	}
	if size <= 0 {
		return fmt.Errorf("vector size must be positive, got %d", size)
	}

	exists := true
	if _, err := s.client.GetCollectionInfo(ctx, name); err != nil {
		if !hasCode(err, grpccodes.NotFound) {
			return classify("checking collection "+name, err)
		}
		exists = false
	}

	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(size),
				Distance: dist,
			}),
		})
		switch {
		case err == nil:
			slog.InfoContext(ctx, "collection created", "backend", "qdrant", "collection", name, "size", size)
		case hasCode(err, grpccodes.AlreadyExists):
			// Lost the race to another replica.
		default:
			return classify("creating collection "+name, err)
		}
	}

	for _, field := range []string{catalog.KeyTenantID, catalog.KeyID} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil && !hasCode(err, grpccodes.AlreadyExists) {
			return classify("indexing "+field, err)
		}
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection string, entries []catalog.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := catalog.CheckEntries(entries); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(entries))
	for _, e := range entries {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(e.PointID),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: toPayload(e),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return classify("upserting into "+collection, err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, collection string, vector []float32, tenantID string, limit int, threshold float32) ([]catalog.Hit, error) {
	if err := catalog.CheckTenant(tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	// Qdrant's threshold may be exclusive at equality; ask for one ulp less
	// and apply the inclusive cut locally.
	serverThreshold := math.Nextafter32(threshold, float32(math.Inf(-1)))

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         tenantFilter(tenantID),
		ScoreThreshold: qdrant.PtrOf(serverThreshold),
	})
	if err != nil {
		return nil, classify("searching "+collection, err)
	}

	hits := make([]catalog.Hit, 0, len(points))
	for _, p := range points {
		payload := fromPayload(p.GetPayload())
		// Never return a point outside the tenant, whatever the backend did.
		if payload[catalog.KeyTenantID] != tenantID {
			continue
		}
		id, _ := payload[catalog.KeyID].(string)
		hits = append(hits, catalog.Hit{RecordID: id, Score: p.GetScore(), Payload: payload})
	}
	return catalog.FilterThreshold(hits, limit, threshold), nil
}

func (s *Store) ExistsByID(ctx context.Context, collection, tenantID, recordID string) (bool, error) {
	if err := catalog.CheckTenant(tenantID); err != nil {
		return false, err
	}
	filter := tenantFilter(tenantID)
	filter.Must = append(filter.Must, keywordCondition(catalog.KeyID, recordID))

	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return false, classify("looking up "+recordID, err)
	}
	return n > 0, nil
}

func (s *Store) Count(ctx context.Context, collection, tenantID string) (int, error) {
	if err := catalog.CheckTenant(tenantID); err != nil {
		return 0, err
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         tenantFilter(tenantID),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, classify("counting "+collection, err)
	}
	return int(n), nil
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

func tenantFilter(tenantID string) *qdrant.Filter {
	return &qdrant.Filter{Must: []*qdrant.Condition{keywordCondition(catalog.KeyTenantID, tenantID)}}
}

func toPayload(e catalog.Entry) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(e.Payload)+2)
	for k, v := range e.Payload {
		payload[k] = stringValue(v)
	}
	payload[catalog.KeyID] = stringValue(e.RecordID)
	payload[catalog.KeyTenantID] = stringValue(e.TenantID)
	return payload
}

func stringValue(v string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
}

func fromPayload(in map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = val.BoolValue
		}
	}
	return out
}
