package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"anti-spam/internal/domain"
	"anti-spam/internal/logger"
)

// MockAntiSpamService é um mock do AntiSpamService para testes
type MockAntiSpamService struct {
	mock.Mock
}

func (m *MockAntiSpamService) CheckMessage(ctx context.Context, req *domain.SpamCheckRequest) (*domain.SpamCheckResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SpamCheckResult), args.Error(1)
}

func (m *MockAntiSpamService) AddToBlacklist(ctx context.Context, ip string) error {
	return m.Called(ctx, ip).Error(0)
}

func (m *MockAntiSpamService) RemoveFromBlacklist(ctx context.Context, ip string) error {
	return m.Called(ctx, ip).Error(0)
}

func (m *MockAntiSpamService) GetBlacklist(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockAntiSpamService) GetRateLimitInfo(ctx context.Context, ip string) (*domain.RateLimitRecord, error) {
	args := m.Called(ctx, ip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RateLimitRecord), args.Error(1)
}

func (m *MockAntiSpamService) GetSuspiciousIPs(ctx context.Context) ([]domain.SuspiciousIP, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SuspiciousIP), args.Error(1)
}

func (m *MockAntiSpamService) UpdateConfig(update domain.ConfigUpdate) error {
	return m.Called(update).Error(0)
}

func (m *MockAntiSpamService) GetConfig() domain.AntiSpamConfig {
	return m.Called().Get(0).(domain.AntiSpamConfig)
}

func (m *MockAntiSpamService) GetStats(ctx context.Context) (*domain.Stats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Stats), args.Error(1)
}

func (m *MockAntiSpamService) CleanupOldEntries(ctx context.Context) (*domain.SweepResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SweepResult), args.Error(1)
}

func (m *MockAntiSpamService) Health(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// testProxy é o RemoteAddr padrão do httptest, tratado como balanceador
const testProxy = "192.0.2.1"

// setupTestRouter cria um router com todas as rotas atrás de testProxy
func setupTestRouter(service domain.AntiSpamService, adminToken string) *gin.Engine {
	return setupRouterWithProxies(service, adminToken, []string{testProxy})
}

func setupRouterWithProxies(service domain.AntiSpamService, adminToken string, trustedProxies []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandlers(service, logger.NewNopLogger(), adminToken, trustedProxies).SetupRoutes(router)
	return router
}

func doRequest(router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		healthErr      error
		expectedStatus int
		expectedState  string
	}{
		{name: "Healthy storage", expectedStatus: http.StatusOK, expectedState: "healthy"},
		{name: "Unavailable storage", healthErr: errors.New("redis down"), expectedStatus: http.StatusServiceUnavailable, expectedState: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockAntiSpamService)
			service.On("Health", mock.Anything).Return(tt.healthErr)
			router := setupTestRouter(service, "")

			w := doRequest(router, http.MethodGet, "/health", nil, nil)

			assert.Equal(t, tt.expectedStatus, w.Code)
			response := decodeBody(t, w)
			assert.Equal(t, tt.expectedState, response["status"])
			assert.Equal(t, "Anti-Spam API", response["service"])
			assert.NotEmpty(t, response["timestamp"])
			assert.Equal(t, "1.0.0", response["version"])
		})
	}
}

func TestMetricsHandler(t *testing.T) {
	service := new(MockAntiSpamService)
	router := setupTestRouter(service, "")

	w := doRequest(router, http.MethodGet, "/metrics", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "antispam_auto_blacklisted_total")
}

func TestCheckHandler(t *testing.T) {
	t.Run("Returns the full verdict", func(t *testing.T) {
		service := new(MockAntiSpamService)
		result := &domain.SpamCheckResult{
			IsSpam:     true,
			Confidence: 0.9,
			Reasons:    []string{domain.ReasonHoneypotFilled},
			Action:     domain.ActionBlock,
		}
		service.On("CheckMessage", mock.Anything, &domain.SpamCheckRequest{
			IP:        "203.0.113.10",
			Email:     "bot@example.com",
			Name:      "Bot",
			Message:   "hello",
			Honeypot:  "filled",
			UserAgent: "curl/8.0",
		}).Return(result, nil)
		router := setupTestRouter(service, "")

		w := doRequest(router, http.MethodPost, "/api/v1/spam/check", CheckRequest{
			Email:    "bot@example.com",
			Name:     "Bot",
			Message:  "hello",
			Honeypot: "filled",
		}, map[string]string{
			"X-Forwarded-For": "203.0.113.10",
			"User-Agent":      "curl/8.0",
		})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"isSpam":true,"confidence":0.9,"reasons":["Honeypot field filled"],"action":"block"}`, w.Body.String())
		service.AssertExpectations(t)
	})

	t.Run("Body user agent wins over header", func(t *testing.T) {
		service := new(MockAntiSpamService)
		service.On("CheckMessage", mock.Anything, mock.MatchedBy(func(req *domain.SpamCheckRequest) bool {
			return req.UserAgent == "Mozilla/5.0 (form)"
		})).Return(domain.NewAllowResult(), nil)
		router := setupTestRouter(service, "")

		w := doRequest(router, http.MethodPost, "/api/v1/spam/check", CheckRequest{
			Message:   "hello there friend",
			UserAgent: "Mozilla/5.0 (form)",
		}, map[string]string{"User-Agent": "Go-http-client/1.1"})

		assert.Equal(t, http.StatusOK, w.Code)
		service.AssertExpectations(t)
	})

	t.Run("Invalid body", func(t *testing.T) {
		service := new(MockAntiSpamService)
		router := setupTestRouter(service, "")

		req := httptest.NewRequest(http.MethodPost, "/api/v1/spam/check", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		service.AssertNotCalled(t, "CheckMessage", mock.Anything, mock.Anything)
	})

	t.Run("Storage failure", func(t *testing.T) {
		service := new(MockAntiSpamService)
		service.On("CheckMessage", mock.Anything, mock.Anything).Return(nil, errors.New("redis down"))
		router := setupTestRouter(service, "")

		w := doRequest(router, http.MethodPost, "/api/v1/spam/check", CheckRequest{Message: "hello"}, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "redis down")
	})
}

func TestContactHandler(t *testing.T) {
	tests := []struct {
		name           string
		result         *domain.SpamCheckResult
		expectedStatus int
	}{
		{name: "Allowed", result: domain.NewAllowResult(), expectedStatus: http.StatusOK},
		{name: "Blocked", result: domain.NewBlockResult(1.0, domain.ReasonBlacklisted), expectedStatus: http.StatusForbidden},
		{
			name:           "Challenged",
			result:         &domain.SpamCheckResult{Confidence: 0.4, Reasons: []string{}, Action: domain.ActionChallenge},
			expectedStatus: http.StatusPreconditionRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockAntiSpamService)
			service.On("CheckMessage", mock.Anything, mock.Anything).Return(tt.result, nil)
			router := setupTestRouter(service, "")

			w := doRequest(router, http.MethodPost, "/contact", map[string]string{
				"name":    "Maria",
				"email":   "maria@example.com",
				"message": "Gostaria de um orçamento",
			}, nil)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.NotContains(t, w.Body.String(), domain.ReasonBlacklisted)
		})
	}
}

func TestAdminBlacklistHandlers(t *testing.T) {
	t.Run("List", func(t *testing.T) {
		service := new(MockAntiSpamService)
		service.On("GetBlacklist", mock.Anything).Return([]string{"10.0.0.1", "10.0.0.2"}, nil)
		router := setupTestRouter(service, "")

		w := doRequest(router, http.MethodGet, "/admin/blacklist", nil, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ips":["10.0.0.1","10.0.0.2"],"count":2}`, w.Body.String())
	})

	t.Run("Empty list is an array", func(t *testing.T) {
		service := new(MockAntiSpamService)
		service.On("GetBlacklist", mock.Anything).Return(nil, nil)
		router := setupTestRouter(service, "")

		w := doRequest(router, http.MethodGet, "/admin/blacklist", nil, nil)

		assert.JSONEq(t, `{"ips":[],"count":0}`, w.Body.String())
	})

	t.Run("Add", func(t *testing.T) {
		service := new(MockAntiSpamService)
		service.On("AddToBlacklist", mock.Anything, "10.0.0.1").Return(nil)
		router := setupTestRouter(service, "")

		w := doRequest(router, http.MethodPost, "/admin/blacklist", BlacklistRequest{IP: "10.0.0.1"}, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "success", decodeBody(t, w)["status"])
		service.AssertExpectations(t)
	})

	t.Run("Add without ip", func(t *testing.T) {
		service := new(MockAntiSpamService)
		router := setupTestRouter(service, "")

		w := doRequest(router, http.MethodPost, "/admin/blacklist", map[string]string{}, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		service.AssertNotCalled(t, "AddToBlacklist", mock.Anything, mock.Anything)
	})

	t.Run("Add invalid ip", func(t *testing.T) {
		service := new(MockAntiSpamService)
		service.On("AddToBlacklist", mock.Anything, "nope").Return(fmt.Errorf("%w: %q", domain.ErrInvalidIP, "nope"))
		router := setupTestRouter(service, "")

		w := doRequest(router, http.MethodPost, "/admin/blacklist", BlacklistRequest{IP: "nope"}, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "validation_error", decodeBody(t, w)["error"])
	})

	t.Run("Remove", func(t *testing.T) {
		service := new(MockAntiSpamService)
		service.On("RemoveFromBlacklist", mock.Anything, "10.0.0.1").Return(nil)
		router := setupTestRouter(service, "")

		w := doRequest(router, http.MethodDelete, "/admin/blacklist/10.0.0.1", nil, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		service.AssertExpectations(t)
	})

	t.Run("Storage failure", func(t *testing.T) {
		service := new(MockAntiSpamService)
		service.On("RemoveFromBlacklist", mock.Anything, "10.0.0.1").Return(errors.New("redis down"))
		router := setupTestRouter(service, "")

		w := doRequest(router, http.MethodDelete, "/admin/blacklist/10.0.0.1", nil, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestRateLimitInfoHandler(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		record         *domain.RateLimitRecord
		err            error
		expectedStatus int
	}{
		{
			name: "Existing record",
			record: &domain.RateLimitRecord{
				IP:          "10.0.0.1",
				Count:       6,
				WindowStart: now,
				Blocked:     true,
				ResetTime:   now.Add(time.Hour),
			},
			expectedStatus: http.StatusOK,
		},
		{name: "Missing record", expectedStatus: http.StatusNotFound},
		{name: "Invalid ip", err: domain.ErrInvalidIP, expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockAntiSpamService)
			if tt.err != nil {
				service.On("GetRateLimitInfo", mock.Anything, "10.0.0.1").Return(nil, tt.err)
			} else if tt.record == nil {
				service.On("GetRateLimitInfo", mock.Anything, "10.0.0.1").Return(nil, nil)
			} else {
				service.On("GetRateLimitInfo", mock.Anything, "10.0.0.1").Return(tt.record, nil)
			}
			router := setupTestRouter(service, "")

			w := doRequest(router, http.MethodGet, "/admin/rate-limit/10.0.0.1", nil, nil)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.record != nil {
				response := decodeBody(t, w)
				assert.Equal(t, float64(6), response["count"])
				assert.Equal(t, true, response["blocked"])
			}
		})
	}
}

func TestSuspiciousHandler(t *testing.T) {
	service := new(MockAntiSpamService)
	service.On("GetSuspiciousIPs", mock.Anything).Return([]domain.SuspiciousIP{
		{IP: "10.0.0.1", Count: 3, LastSeen: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
	}, nil)
	router := setupTestRouter(service, "")

	w := doRequest(router, http.MethodGet, "/admin/suspicious", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ips":[{"ip":"10.0.0.1","count":3,"lastSeen":"2024-03-01T10:00:00Z"}],"count":1}`, w.Body.String())
}

func TestConfigHandlers(t *testing.T) {
	t.Run("Get exposes durations in milliseconds", func(t *testing.T) {
		service := new(MockAntiSpamService)
		service.On("GetConfig").Return(domain.DefaultAntiSpamConfig())
		router := setupTestRouter(service, "")

		w := doRequest(router, http.MethodGet, "/admin/config", nil, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		rateLimit := decodeBody(t, w)["rateLimit"].(map[string]interface{})
		assert.Equal(t, float64(900000), rateLimit["windowMs"])
		assert.Equal(t, float64(3600000), rateLimit["blockDurationMs"])
		assert.Equal(t, float64(5), rateLimit["maxRequests"])
	})

	t.Run("Patch applies partial update", func(t *testing.T) {
		service := new(MockAntiSpamService)
		updated := domain.DefaultAntiSpamConfig()
		updated.RateLimit.MaxRequests = 10
		service.On("UpdateConfig", mock.MatchedBy(func(u domain.ConfigUpdate) bool {
			return u.RateLimit != nil && u.RateLimit.MaxRequests != nil && *u.RateLimit.MaxRequests == 10 &&
				u.ContentAnalysis == nil
		})).Return(nil)
		service.On("GetConfig").Return(updated)
		router := setupTestRouter(service, "")

		w := doRequest(router, http.MethodPatch, "/admin/config", map[string]interface{}{
			"rateLimit": map[string]interface{}{"maxRequests": 10},
		}, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		rateLimit := decodeBody(t, w)["rateLimit"].(map[string]interface{})
		assert.Equal(t, float64(10), rateLimit["maxRequests"])
		service.AssertExpectations(t)
	})

	t.Run("Patch rejected by validation", func(t *testing.T) {
		service := new(MockAntiSpamService)
		service.On("UpdateConfig", mock.Anything).Return(fmt.Errorf("%w: maxRequests must be greater than 0", domain.ErrInvalidConfig))
		router := setupTestRouter(service, "")

		w := doRequest(router, http.MethodPatch, "/admin/config", map[string]interface{}{
			"rateLimit": map[string]interface{}{"maxRequests": 0},
		}, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeBody(t, w)["message"], "maxRequests")
	})
}

func TestStatsAndCleanupHandlers(t *testing.T) {
	service := new(MockAntiSpamService)
	service.On("GetStats", mock.Anything).Return(&domain.Stats{
		TotalBlacklisted: 2,
		TotalSuspicious:  3,
		RateLimitedIPs:   10,
		BlockedIPs:       1,
	}, nil)
	service.On("CleanupOldEntries", mock.Anything).Return(&domain.SweepResult{
		RateLimitsEvicted: 4,
		SuspiciousEvicted: 1,
		SweptAt:           time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}, nil)
	router := setupTestRouter(service, "")

	w := doRequest(router, http.MethodGet, "/admin/stats", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"totalBlacklisted":2,"totalSuspicious":3,"rateLimitedIPs":10,"blockedIPs":1}`, w.Body.String())

	w = doRequest(router, http.MethodPost, "/admin/cleanup", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"rateLimitsEvicted":4,"suspiciousEvicted":1,"sweptAt":"2024-03-01T10:00:00Z"}`, w.Body.String())
}

func TestAdminRoutesRequireToken(t *testing.T) {
	service := new(MockAntiSpamService)
	service.On("GetStats", mock.Anything).Return(&domain.Stats{}, nil)
	service.On("Health", mock.Anything).Return(nil)
	router := setupTestRouter(service, "s3cret")

	w := doRequest(router, http.MethodGet, "/admin/stats", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, http.MethodGet, "/admin/stats", nil, map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, w.Code)

	// Rotas públicas não exigem token
	w = doRequest(router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
