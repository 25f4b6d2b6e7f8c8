package retrieval_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"prodsync/apps/backend/internal/catalog"
	"prodsync/apps/backend/internal/middleware"
	"prodsync/apps/backend/internal/retrieval"
	"prodsync/apps/backend/internal/settings"
)

func TestQueryLogger_EntryFields(t *testing.T) {
	var buf bytes.Buffer
	logger := retrieval.NewQueryLogger(&buf)

	logger.Log(retrieval.QueryLogEntry{
		Query:         "red shoe",
		TenantID:      "acme",
		NumResults:    2,
		Duration:      12 * time.Millisecond,
		CorrelationID: "corr-42",
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "red shoe", line["query"])
	assert.Equal(t, "acme", line["tenant_id"])
	assert.Equal(t, "corr-42", line["correlation_id"])
	assert.Equal(t, float64(2), line["num_results"])
	assert.Equal(t, float64(12), line["latency_ms"])
	assert.NotEmpty(t, line["timestamp"])
}

func TestQueryLogger_ConcurrentTenantsKeepLinesIntact(t *testing.T) {
	var buf bytes.Buffer
	logger := retrieval.NewQueryLogger(&buf)

	tenants := []string{"acme", "globex", "initech"}
	const perTenant = 200
	var wg sync.WaitGroup
	for _, tenant := range tenants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perTenant; i++ {
				logger.Log(retrieval.QueryLogEntry{Query: fmt.Sprintf("q%d", i), TenantID: tenant})
			}
		}()
	}
	wg.Wait()

	counts := map[string]int{}
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var entry retrieval.QueryLogEntry
		require.NoError(t, dec.Decode(&entry))
		counts[entry.TenantID]++
	}
	for _, tenant := range tenants {
		assert.Equal(t, perTenant, counts[tenant], tenant)
	}
}

func TestNewFileQueryLogger_AppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "query.log")

	first, err := retrieval.NewFileQueryLogger(path)
	require.NoError(t, err)
	first.Log(retrieval.QueryLogEntry{Query: "a", TenantID: "acme"})

	second, err := retrieval.NewFileQueryLogger(path)
	require.NoError(t, err)
	second.Log(retrieval.QueryLogEntry{Query: "b", TenantID: "acme"})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var queries []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry retrieval.QueryLogEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
		queries = append(queries, entry.Query)
	}
	assert.Equal(t, []string{"a", "b"}, queries)
}

func TestService_LogsCorrelationIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	e, c, s := new(MockEmbedder), new(MockCatalog), new(MockSettings)
	s.On("Get", mock.Anything, mock.Anything).Return(&settings.Settings{SearchLimit: 3}, nil)
	e.On("Embed", mock.Anything, "shoes").Return([]float32{0.1}, nil)
	c.On("Search", mock.Anything, "products", []float32{0.1}, "acme", 3, float32(0)).Return([]catalog.Hit{}, nil)

	svc := retrieval.NewService(e, c, s, retrieval.NewQueryLogger(&buf), cfg)
	ctx := middleware.WithCorrelationID(context.Background(), "corr-7")
	_, err := svc.Query(ctx, "shoes", "acme")
	require.NoError(t, err)

	var entry retrieval.QueryLogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "corr-7", entry.CorrelationID)
	assert.Equal(t, "acme", entry.TenantID)
	assert.Zero(t, entry.NumResults)
}

func TestService_FailedQueryIsNotLogged(t *testing.T) {
	var buf bytes.Buffer
	svc := retrieval.NewService(new(MockEmbedder), new(MockCatalog), new(MockSettings), retrieval.NewQueryLogger(&buf), cfg)
	_, err := svc.Query(context.Background(), "  ", "acme")
	assert.ErrorIs(t, err, retrieval.ErrEmptyQuery)
	assert.Zero(t, buf.Len())
}
