package weaviate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"prodsync/apps/backend/internal/catalog"
	"prodsync/apps/backend/internal/vector"
)

type Store struct {
	client *weaviate.Client

	mu        sync.RWMutex
	distances map[string]catalog.Distance
	sizes     map[string]int
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{
		client:    client,
		distances: map[string]catalog.Distance{},
		sizes:     map[string]int{},
	}
}

func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", catalog.ErrUnavailable, op, err)
	}
	var werr *fault.WeaviateClientError
	if errors.As(err, &werr) {
		if !werr.IsUnexpectedStatusCode || werr.StatusCode >= http.StatusInternalServerError || werr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s: %v", catalog.ErrUnavailable, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Store) EnsureCollection(ctx context.Context, name string, size int, distance catalog.Distance) error {
	if distance == "" {
		distance = catalog.Cosine
	}
	if distance != catalog.Cosine && distance != catalog.Dot {
		return fmt.Errorf("unsupported distance %q", distance)
	}
	if err := vector.EnsureSchema(ctx, vector.NewWeaviateSchema(s.client), vector.ClassName(name), string(distance)); err != nil {
		return classify("ensuring schema", err)
	}

	s.mu.Lock()
	s.distances[name] = distance
	s.sizes[name] = size
	s.mu.Unlock()
	return nil
}

func (s *Store) settings(collection string) (catalog.Distance, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.distances[collection]
	if !ok {
		d = catalog.Cosine
	}
	return d, s.sizes[collection]
}

func (s *Store) Upsert(ctx context.Context, collection string, entries []catalog.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := catalog.CheckEntries(entries); err != nil {
		return err
	}
	_, size := s.settings(collection)
	className := vector.ClassName(collection)

	objects := make([]*models.Object, 0, len(entries))
	for _, e := range entries {
		if size > 0 && len(e.Vector) != size {
			return fmt.Errorf("point %s: vector has %d dimensions, collection expects %d", e.PointID, len(e.Vector), size)
		}
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encoding payload for %s: %w", e.PointID, err)
		}
		objects = append(objects, &models.Object{
			Class: className,
			ID:    strfmt.UUID(e.PointID),
			Properties: map[string]interface{}{
				vector.PropRecordID: e.RecordID,
				vector.PropTenantID: e.TenantID,
				vector.PropTitle:    e.Payload[catalog.KeyTitle],
				vector.PropText:     e.Payload[catalog.KeyText],
				vector.PropUploadID: e.Payload[catalog.KeyUploadID],
				vector.PropPayload:  string(payload),
			},
			Vector: models.C11yVector(e.Vector),
		})
	}

	// Batch writes replace an existing object with the same id.
	res, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return classify("upserting into "+className, err)
	}
	for _, r := range res {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("upserting %s: %s", r.ID, r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func tenantWhere(tenantID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{vector.PropTenantID}).
		WithOperator(filters.Equal).
		WithValueText(tenantID)
}

func (s *Store) Search(ctx context.Context, collection string, vec []float32, tenantID string, limit int, threshold float32) ([]catalog.Hit, error) {
	if err := catalog.CheckTenant(tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	distance, _ := s.settings(collection)
	className := vector.ClassName(collection)

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: vector.PropRecordID},
		{Name: vector.PropTenantID},
		{Name: vector.PropPayload},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(className).
		WithNearVector(nearVector).
		WithWhere(tenantWhere(tenantID)).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, classify("searching "+className, err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}

	var hits []catalog.Hit
	for _, props := range objectsOf(res.Data, "Get", className) {
		if props[vector.PropTenantID] != tenantID {
			continue
		}
		hit := catalog.Hit{Payload: map[string]any{}}
		if raw, ok := props[vector.PropPayload].(string); ok && raw != "" {
			if err := json.Unmarshal([]byte(raw), &hit.Payload); err != nil {
				return nil, fmt.Errorf("decoding payload: %w", err)
			}
		}
		hit.RecordID, _ = props[vector.PropRecordID].(string)
		hit.Payload[catalog.KeyID] = hit.RecordID
		hit.Payload[catalog.KeyTenantID] = tenantID

		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				hit.Score = scoreFromDistance(distance, d)
			}
		}
		hits = append(hits, hit)
	}
	return catalog.FilterThreshold(hits, limit, threshold), nil
}

// scoreFromDistance turns Weaviate's distance back into a similarity.
func scoreFromDistance(d catalog.Distance, distance float64) float32 {
	if d == catalog.Dot {
		return float32(-distance)
	}
	return float32(1 - distance)
}

func (s *Store) ExistsByID(ctx context.Context, collection, tenantID, recordID string) (bool, error) {
	if err := catalog.CheckTenant(tenantID); err != nil {
		return false, err
	}
	className := vector.ClassName(collection)

	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			tenantWhere(tenantID),
			filters.Where().
				WithPath([]string{vector.PropRecordID}).
				WithOperator(filters.Equal).
				WithValueText(recordID),
		})

	res, err := s.client.GraphQL().Get().
		WithClassName(className).
		WithWhere(where).
		WithLimit(1).
		WithFields(graphql.Field{Name: vector.PropRecordID}).
		Do(ctx)
	if err != nil {
		return false, classify("looking up "+recordID, err)
	}
	if len(res.Errors) > 0 {
		return false, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}
	return len(objectsOf(res.Data, "Get", className)) > 0, nil
}

func (s *Store) Count(ctx context.Context, collection, tenantID string) (int, error) {
	if err := catalog.CheckTenant(tenantID); err != nil {
		return 0, err
	}
	className := vector.ClassName(collection)

	res, err := s.client.GraphQL().Aggregate().
		WithClassName(className).
		WithWhere(tenantWhere(tenantID)).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, classify("counting "+className, err)
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}

	rows := objectsOf(res.Data, "Aggregate", className)
	if len(rows) == 0 {
		return 0, nil
	}
	if meta, ok := rows[0]["meta"].(map[string]interface{}); ok {
		if count, ok := meta["count"].(float64); ok {
			return int(count), nil
		}
	}
	return 0, nil
}

func objectsOf(data map[string]models.JSONObject, op, className string) []map[string]interface{} {
	section, ok := data[op].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := section[className].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if props, ok := item.(map[string]interface{}); ok {
			out = append(out, props)
		}
	}
	return out
}
