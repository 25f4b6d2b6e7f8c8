package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodsync/apps/backend/internal/config"
)

func TestLoadConfig(t *testing.T) {
	os.Setenv("DB_HOST", "test-host")
	defer os.Unsetenv("DB_HOST")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "test-host", cfg.DBHost)
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	content := []byte("DB_HOST=loaded-from-file")
	err := os.WriteFile(".env", content, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(".env")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "loaded-from-file", cfg.DBHost)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.QueueNSQ, cfg.QueueDriver)
	assert.Equal(t, config.CatalogQdrant, cfg.CatalogDriver)
	assert.Equal(t, "products", cfg.CollectionName)
	assert.Equal(t, 3, cfg.SearchLimit)
	assert.Equal(t, float32(0.4), cfg.ScoreThreshold)
	assert.Equal(t, config.PublishContinue, cfg.PublishFailurePolicy)
	assert.Equal(t, config.RecordIDRandom, cfg.RecordIDPolicy)
	assert.Equal(t, []string{"title", "description", "price", "category", "brand"}, cfg.NormalizeFields)
	assert.Equal(t, 60*time.Second, cfg.EmbedTimeout)
}

func TestLoadConfig_Toggles(t *testing.T) {
	os.Setenv("ENABLE_API", "false")
	os.Setenv("ENABLE_INGEST_WORKER", "true")
	os.Setenv("INGEST_MAX_IN_FLIGHT", "10")
	defer os.Unsetenv("ENABLE_API")
	defer os.Unsetenv("ENABLE_INGEST_WORKER")
	defer os.Unsetenv("INGEST_MAX_IN_FLIGHT")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.False(t, cfg.EnableAPI)
	assert.True(t, cfg.EnableIngestWorker)
	assert.Equal(t, 10, cfg.IngestMaxInFlight)
}

func TestLoadConfig_InvalidDriver(t *testing.T) {
	os.Setenv("QUEUE_DRIVER", "kafka")
	defer os.Unsetenv("QUEUE_DRIVER")

	_, err := config.Load()
	assert.ErrorIs(t, err, config.ErrInvalidValue)
}
