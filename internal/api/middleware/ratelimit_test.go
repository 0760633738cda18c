package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"driveline/market/internal/api/middleware"
	"driveline/market/internal/captcha"
	"driveline/market/internal/config"
	"driveline/market/internal/models"
	"driveline/market/internal/services"
)

// MockSettingsService implements services.ISettingsService.
type MockSettingsService struct {
	mock.Mock
}

func (m *MockSettingsService) Get(ctx context.Context, key string) (interface{}, error) {
	args := m.Called(ctx, key)
	return args.Get(0), args.Error(1)
}
func (m *MockSettingsService) GetInt(ctx context.Context, key string, defaultValue int) int {
	args := m.Called(ctx, key, defaultValue)
	if err := args.Error(1); err != nil {
		return defaultValue
	}
	return args.Int(0)
}
func (m *MockSettingsService) GetFloat64(ctx context.Context, key string, defaultValue float64) float64 {
	args := m.Called(ctx, key, defaultValue)
	if err := args.Error(1); err != nil {
		return defaultValue
	}
	if fVal, ok := args.Get(0).(float64); ok {
		return fVal
	}
	return float64(args.Int(0))
}
func (m *MockSettingsService) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	args := m.Called(ctx, key, defaultValue)
	if err := args.Error(1); err != nil {
		return defaultValue
	}
	return args.Bool(0)
}
func (m *MockSettingsService) GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	args := m.Called(ctx, key, defaultValue)
	if err := args.Error(1); err != nil {
		return defaultValue
	}
	return args.Get(0).(time.Duration)
}
func (m *MockSettingsService) Load(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockSettingsService) SubscribeToChanges(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockSettingsService) SetValue(ctx context.Context, key string, value interface{}) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}
func (m *MockSettingsService) GetAPIEndpointConfig(ctx context.Context, endpoint string, isAuthenticated bool) (*models.APIEndpointConfig, error) {
	args := m.Called(ctx, endpoint, isAuthenticated)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.APIEndpointConfig), args.Error(1)
}

// MockTurnstileVerifier implements captcha.ITurnstileVerifier.
type MockTurnstileVerifier struct {
	mock.Mock
}

func (m *MockTurnstileVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	args := m.Called(ctx, token, remoteIP)
	return args.Bool(0), args.Error(1)
}
func (m *MockTurnstileVerifier) GenerateHumanToken(userID, ip, fingerprint, spaSession string, ttl time.Duration) (string, error) {
	args := m.Called(userID, ip, fingerprint, spaSession, ttl)
	return args.String(0), args.Error(1)
}
func (m *MockTurnstileVerifier) ValidateHumanToken(tokenString, ip, fingerprint, spaSession string) bool {
	args := m.Called(tokenString, ip, fingerprint, spaSession)
	return args.Bool(0)
}

func setupTestEngine(cfg *config.Config, settingsSvc services.ISettingsService, verifier captcha.ITurnstileVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	rateLimiter := middleware.NewRateLimiterMiddleware(cfg, settingsSvc)
	r.Use(middleware.CaptchaMiddleware(cfg, verifier))
	r.Use(rateLimiter.Limit())
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	return r
}

func TestRateLimiterMiddleware_HardLimit(t *testing.T) {
	cfg := &config.Config{
		RateLimitHardRefillRate: 1, // 1 token per second
		RateLimitHardBucketSize: 1,
		RateLimitSoftRefillRate: 10, // High soft limit
		RateLimitSoftBucketSize: 10,
	}
	mockSettings := new(MockSettingsService)
	mockVerifier := new(MockTurnstileVerifier)
	mockSettings.On("GetAPIEndpointConfig", mock.Anything, "/test", false).Return(nil, nil)
	router := setupTestEngine(cfg, mockSettings, mockVerifier)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "1.2.3.4:12345"

	// First request should pass
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Second request immediately should fail (hard limit)
	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest("GET", "/test", nil)
	req2.RemoteAddr = "1.2.3.4:12345"
	router.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
	mockSettings.AssertExpectations(t)
}

func TestRateLimiterMiddleware_SoftLimit_CaptchaRequired(t *testing.T) {
	cfg := &config.Config{
		RateLimitHardRefillRate: 10, // High hard limit
		RateLimitHardBucketSize: 10,
		RateLimitSoftRefillRate: 1,
		RateLimitSoftBucketSize: 1,
	}
	mockSettings := new(MockSettingsService)
	mockVerifier := new(MockTurnstileVerifier)
	mockSettings.On("GetAPIEndpointConfig", mock.Anything, "/test", false).Return(nil, nil)
	router := setupTestEngine(cfg, mockSettings, mockVerifier)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "5.6.7.8:12345"

	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Second request immediately hits the soft limit; the client must solve a
	// captcha before it can continue.
	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest("GET", "/test", nil)
	req2.RemoteAddr = "5.6.7.8:12345"
	router.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusTeapot, w2.Code)
	var respBody map[string]interface{}
	err := json.Unmarshal(w2.Body.Bytes(), &respBody)
	assert.NoError(t, err)
	assert.Contains(t, respBody["error"], "Captcha validation required")
	mockSettings.AssertExpectations(t)
}

func TestRateLimiterMiddleware_SoftLimit_BypassWithHumanToken(t *testing.T) {
	cfg := &config.Config{
		RateLimitHardRefillRate: 10,
		RateLimitHardBucketSize: 10,
		RateLimitSoftRefillRate: 1,
		RateLimitSoftBucketSize: 1,
	}
	mockSettings := new(MockSettingsService)
	mockVerifier := new(MockTurnstileVerifier)
	mockSettings.On("GetAPIEndpointConfig", mock.Anything, "/test", false).Return(nil, nil)
	// The X-C-T header validates, so the soft limit is skipped entirely.
	mockVerifier.On("ValidateHumanToken", mock.AnythingOfType("string"), mock.AnythingOfType("string"), mock.AnythingOfType("string"), mock.AnythingOfType("string")).Return(true)
	router := setupTestEngine(cfg, mockSettings, mockVerifier)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "9.1.2.3:12345"
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest("GET", "/test", nil)
	req2.RemoteAddr = "9.1.2.3:12345"
	req2.Header.Set("X-C-T", "valid-human-token")
	router.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)

	mockSettings.AssertExpectations(t)
}

func TestRateLimiterMiddleware_EndpointOverride(t *testing.T) {
	cfg := &config.Config{
		RateLimitHardRefillRate: 1,
		RateLimitHardBucketSize: 1,
		RateLimitSoftRefillRate: 1,
		RateLimitSoftBucketSize: 1,
	}
	mockSettings := new(MockSettingsService)
	mockVerifier := new(MockTurnstileVerifier)
	// Per-endpoint config loosens the defaults.
	mockSettings.On("GetAPIEndpointConfig", mock.Anything, "/test", false).Return(&models.APIEndpointConfig{
		RateLimitSoft: &models.RateLimitConfig{TokenRefillRate: 10, BucketSize: 10},
		RateLimitHard: &models.RateLimitConfig{TokenRefillRate: 10, BucketSize: 10},
	}, nil)
	router := setupTestEngine(cfg, mockSettings, mockVerifier)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "7.7.7.7:12345"
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	mockSettings.AssertExpectations(t)
}
