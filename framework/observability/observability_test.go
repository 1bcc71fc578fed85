package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", "console")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger("verbose", "json")
	assert.Error(t, err)
}

func TestInjectHeaders_NilMap(t *testing.T) {
	_, err := NewTracingManager(TracingConfig{Enabled: false})
	require.NoError(t, err)

	headers := InjectHeaders(context.Background(), nil)
	assert.NotNil(t, headers)
}

func TestTraceMessage_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := TraceMessage(context.Background(), "orchestrator", map[string]string{}, func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestCorrelationID_RoundTrip(t *testing.T) {
	ctx := InjectCorrelationID(context.Background(), "corr-123")
	assert.Equal(t, "corr-123", ExtractCorrelationID(ctx))
	assert.Empty(t, ExtractCorrelationID(context.Background()))
}

func TestHealthRegistry_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	registry := NewHealthRegistry()
	registry.Register(NewFuncHealthCheck("ok", func(ctx context.Context) error { return nil }))

	router := gin.New()
	router.GET("/health", registry.HealthCheckHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	registry.Register(NewFuncHealthCheck("broken", func(ctx context.Context) error {
		return errors.New("down")
	}))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	result := registry.Run(context.Background())
	assert.Equal(t, "unhealthy", result.Status)
	assert.Equal(t, "down", result.Checks["broken"].Message)
}

func TestCorrelationIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(CorrelationIDMiddleware())
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, ExtractCorrelationID(c.Request.Context()))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(correlationIDKey, "abc")
	router.ServeHTTP(w, req)

	assert.Equal(t, "abc", w.Header().Get(correlationIDKey))
	assert.Equal(t, "abc", w.Body.String())
}
