package settings_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"prodsync/apps/backend/internal/catalog"
	"prodsync/apps/backend/internal/middleware"
	"prodsync/apps/backend/internal/settings"
)

// MockRepository is a mock implementation of settings.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Get(ctx context.Context, tenantID string) (*settings.Settings, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settings.Settings), args.Error(1)
}

func (m *MockRepository) Upsert(ctx context.Context, s *settings.Settings) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

var defaults = settings.Settings{SearchLimit: 3, ScoreThreshold: 0.4}

func tenantRequest(method, target, tenant string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if tenant != "" {
		req = req.WithContext(middleware.WithTenantID(req.Context(), tenant))
	}
	return req
}

func TestHandler_GetSettings(t *testing.T) {
	t.Run("Stored", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))

		mockRepo.On("Get", mock.Anything, "acme").Return(&settings.Settings{TenantID: "acme", SearchLimit: 5, ScoreThreshold: 0.5}, nil)

		w := httptest.NewRecorder()
		handler.GetSettings(w, tenantRequest("GET", "/settings", "acme", nil))

		resp := w.Result()
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&body)
		data := body["data"].(map[string]interface{})
		assert.Equal(t, "acme", data["tenant_id"])
		assert.Equal(t, 5.0, data["search_limit"])
		assert.Equal(t, 0.5, data["score_threshold"])
		mockRepo.AssertExpectations(t)
	})

	t.Run("DefaultsWhenTenantHasNoRow", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))
		mockRepo.On("Get", mock.Anything, "globex").Return(nil, sql.ErrNoRows)

		w := httptest.NewRecorder()
		handler.GetSettings(w, tenantRequest("GET", "/settings", "globex", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data settings.Settings `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "globex", body.Data.TenantID)
		assert.Equal(t, 3, body.Data.SearchLimit)
		assert.Equal(t, float32(0.4), body.Data.ScoreThreshold)
	})

	t.Run("MissingTenant", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))

		w := httptest.NewRecorder()
		handler.GetSettings(w, tenantRequest("GET", "/settings", "", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "MISSING_TENANT")
		mockRepo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})

	t.Run("InternalError", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))
		mockRepo.On("Get", mock.Anything, "acme").Return(nil, errors.New("db error"))

		w := httptest.NewRecorder()
		handler.GetSettings(w, tenantRequest("GET", "/settings", "acme", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHandler_UpdateSettings(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))

		mockRepo.On("Upsert", mock.Anything, mock.MatchedBy(func(s *settings.Settings) bool {
			return s.TenantID == "acme" && s.SearchLimit == 5 && s.ScoreThreshold == 0.75 && s.GateEnabled
		})).Return(nil)

		body, _ := json.Marshal(settings.Settings{SearchLimit: 5, ScoreThreshold: 0.75, GateEnabled: true})
		w := httptest.NewRecorder()
		handler.UpdateSettings(w, tenantRequest("PUT", "/settings", "acme", body))

		assert.Equal(t, http.StatusOK, w.Code)
		mockRepo.AssertExpectations(t)
	})

	t.Run("BodyCannotTargetAnotherTenant", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))

		mockRepo.On("Upsert", mock.Anything, mock.MatchedBy(func(s *settings.Settings) bool {
			return s.TenantID == "acme"
		})).Return(nil)

		body := []byte(`{"tenant_id":"globex","search_limit":4,"score_threshold":0.9}`)
		w := httptest.NewRecorder()
		handler.UpdateSettings(w, tenantRequest("PUT", "/settings", "acme", body))

		assert.Equal(t, http.StatusOK, w.Code)
		mockRepo.AssertExpectations(t)
	})

	t.Run("MissingTenant", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))

		w := httptest.NewRecorder()
		handler.UpdateSettings(w, tenantRequest("PUT", "/settings", "", []byte(`{"search_limit":4,"score_threshold":0.4}`)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	})

	t.Run("ValidationError", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))

		w := httptest.NewRecorder()
		handler.UpdateSettings(w, tenantRequest("PUT", "/settings", "acme", []byte("invalid json")))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("OutOfRange", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))

		w := httptest.NewRecorder()
		handler.UpdateSettings(w, tenantRequest("PUT", "/settings", "acme", []byte(`{"search_limit":0,"score_threshold":0.4}`)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	})
}

func TestService_UpdateIsTenantScoped(t *testing.T) {
	mockRepo := new(MockRepository)
	svc := settings.NewService(mockRepo, defaults)

	mockRepo.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("Get", mock.Anything, "globex").Return(nil, sql.ErrNoRows)

	require.NoError(t, svc.Update(context.Background(), "acme", &settings.Settings{SearchLimit: 1, ScoreThreshold: 0.99, GateEnabled: true}))

	got, err := svc.Get(context.Background(), "globex")
	require.NoError(t, err)
	assert.Equal(t, 3, got.SearchLimit)
	assert.Equal(t, float32(0.4), got.ScoreThreshold)
	assert.False(t, got.GateEnabled)

	_, err = svc.Get(context.Background(), "")
	assert.ErrorIs(t, err, catalog.ErrMissingTenant)
}
