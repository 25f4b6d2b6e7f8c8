// Package chromem is an embedded catalog backend for local runs and tests.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"

	"prodsync/apps/backend/internal/catalog"
	"prodsync/apps/backend/internal/record"
)

var errNoEmbedding = errors.New("chromem: entries must carry their own embedding")

type Store struct {
	db    *chromem.DB
	mu    sync.RWMutex
	sizes map[string]int
}

// NewStore keeps everything in memory.
func NewStore() *Store {
	return &Store{db: chromem.NewDB(), sizes: map[string]int{}}
}

// NewPersistentStore writes collections under path.
func NewPersistentStore(path string) (*Store, error) {
	db, err := chromem.NewPersistentDB(path, true)
	if err != nil {
		return nil, fmt.Errorf("opening chromem db at %s: %w", path, err)
	}
	return &Store{db: db, sizes: map[string]int{}}, nil
}

// Vectors are always computed upstream.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedding
}

func (s *Store) EnsureCollection(ctx context.Context, name string, size int, distance catalog.Distance) error {
	if distance != catalog.Cosine {
		return fmt.Errorf("chromem supports cosine distance only, got %q", distance)
	}
	if _, err := s.db.GetOrCreateCollection(name, nil, noEmbed); err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	s.mu.Lock()
	s.sizes[name] = size
	s.mu.Unlock()

	slog.InfoContext(ctx, "collection ready", "backend", "chromem", "collection", name, "size", size)
	return nil
}

func (s *Store) collection(name string) (*chromem.Collection, error) {
	c := s.db.GetCollection(name, noEmbed)
	if c == nil {
		return nil, fmt.Errorf("%w: collection %s does not exist", catalog.ErrUnavailable, name)
	}
	return c, nil
}

func (s *Store) Upsert(ctx context.Context, collection string, entries []catalog.Entry) error {
	if err := catalog.CheckEntries(entries); err != nil {
		return err
	}
	c, err := s.collection(collection)
	if err != nil {
		return err
	}

	s.mu.RLock()
	size := s.sizes[collection]
	s.mu.RUnlock()

	docs := make([]chromem.Document, 0, len(entries))
	for _, e := range entries {
		if size > 0 && len(e.Vector) != size {
			return fmt.Errorf("point %s: vector has %d dimensions, collection expects %d", e.PointID, len(e.Vector), size)
		}
		meta := make(map[string]string, len(e.Payload))
		for k, v := range e.Payload {
			meta[k] = v
		}
		meta[catalog.KeyID] = e.RecordID
		meta[catalog.KeyTenantID] = e.TenantID

		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		docs = append(docs, chromem.Document{
			ID:        e.PointID,
			Metadata:  meta,
			Embedding: vec,
			Content:   e.Payload[catalog.KeyText],
		})
	}

	if err := c.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("upserting into %s: %w", collection, err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, collection string, vector []float32, tenantID string, limit int, threshold float32) ([]catalog.Hit, error) {
	if err := catalog.CheckTenant(tenantID); err != nil {
		return nil, err
	}
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	results, err := s.query(ctx, c, vector, tenantID, limit)
	if err != nil {
		return nil, err
	}

	hits := make([]catalog.Hit, 0, len(results))
	for _, r := range results {
		payload := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			payload[k] = v
		}
		hits = append(hits, catalog.Hit{
			RecordID: r.Metadata[catalog.KeyID],
			Score:    r.Similarity,
			Payload:  payload,
		})
	}
	return catalog.FilterThreshold(hits, limit, threshold), nil
}

// query caps n at the collection size, which chromem requires.
func (s *Store) query(ctx context.Context, c *chromem.Collection, vector []float32, tenantID string, n int) ([]chromem.Result, error) {
	total := c.Count()
	if total == 0 {
		return nil, nil
	}
	if n <= 0 || n > total {
		n = total
	}
	where := map[string]string{catalog.KeyTenantID: tenantID}
	results, err := c.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", c.Name, err)
	}
	return results, nil
}

func (s *Store) ExistsByID(ctx context.Context, collection, tenantID, recordID string) (bool, error) {
	if err := catalog.CheckTenant(tenantID); err != nil {
		return false, err
	}
	c, err := s.collection(collection)
	if err != nil {
		return false, err
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}
	doc, err := c.GetByID(ctx, record.PointID(tenantID, recordID))
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("looking up %s in %s: %w", recordID, collection, err)
	}
	return doc.Metadata[catalog.KeyTenantID] == tenantID && doc.Metadata[catalog.KeyID] == recordID, nil
}

func (s *Store) Count(ctx context.Context, collection, tenantID string) (int, error) {
	if err := catalog.CheckTenant(tenantID); err != nil {
		return 0, err
	}
	c, err := s.collection(collection)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	size := s.sizes[collection]
	s.mu.RUnlock()
	if size <= 0 {
		return 0, fmt.Errorf("collection %s has no known vector size", collection)
	}

	// Any query vector works: all tenant documents are requested.
	anyVec := make([]float32, size)
	anyVec[0] = 1
	results, err := s.query(ctx, c, anyVec, tenantID, 0)
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

// isNotFound matches chromem's unknown-id error, which has no sentinel.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}
