package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodsync/apps/backend/internal/app"
	"prodsync/apps/backend/internal/config"
	"prodsync/apps/backend/internal/testutils"
)

func TestBootstrap_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	cfg := suite.AppConfig()
	cfg.EmbeddingProvider = config.ProviderOpenAI
	cfg.OpenAIEmbedModel = "test-embed"

	deps, err := app.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer deps.Close()

	for _, table := range []string{"uploads", "failed_jobs", "settings"} {
		var exists bool
		err = deps.DB.QueryRow("SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	assert.NotNil(t, deps.Catalog)
	assert.NotNil(t, deps.Publisher)
	assert.NotNil(t, deps.Subscriber)
	assert.Nil(t, deps.Assistant)
}

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0.5, 0.25, 0.125}, nil
}

func TestApp_EndToEnd_UploadToSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E integration test")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	cfg := suite.AppConfig()
	cfg.EmbeddingProvider = config.ProviderOpenAI
	cfg.OpenAIEmbedModel = "test-embed"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := app.Bootstrap(ctx, cfg)
	require.NoError(t, err)
	defer deps.Close()
	deps.Embedder = fixedEmbedder{}

	application, err := app.New(cfg, deps)
	require.NoError(t, err)

	subs, err := application.StartWorkers(ctx)
	require.NoError(t, err)
	defer func() {
		for _, s := range subs {
			s.Stop()
		}
	}()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "products.csv")
	require.NoError(t, err)
	part.Write([]byte("id,title,price\np1,Red Shoe,10\np2,Blue Sock,2\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Tenant-ID", "acme")
	w := httptest.NewRecorder()
	application.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	search := func(tenant string) []interface{} {
		req := httptest.NewRequest("GET", "/search?q=red+shoe", nil)
		req.Header.Set("X-Tenant-ID", tenant)
		w := httptest.NewRecorder()
		application.Handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			return nil
		}
		var body map[string]interface{}
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			return nil
		}
		data, _ := body["data"].([]interface{})
		return data
	}

	require.Eventually(t, func() bool {
		return len(search("acme")) == 2
	}, 30*time.Second, 250*time.Millisecond)

	assert.Empty(t, search("globex"), "other tenants see nothing")
}
