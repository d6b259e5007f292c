package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ulrichjack/institut-app-backend/internal/service"
)

func TestMetricsHandlerReady(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	handler := NewMetricsHandler(nil, map[string]ReadinessCheck{"postgres": ok, "redis": ok})
	c, w := newTestContext(http.MethodGet, "/ready", "")
	handler.Ready(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ready"`)

	handler = NewMetricsHandler(nil, map[string]ReadinessCheck{
		"postgres": ok,
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})
	c, w = newTestContext(http.MethodGet, "/ready", "")
	handler.Ready(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsHandlerPrometheus(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.RecordEnrollment(service.OutcomeFull)

	c, w := newTestContext(http.MethodGet, "/metrics", "")
	NewMetricsHandler(metrics, nil).Prometheus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `formation_enrollments_total{outcome="full"} 1`)

	c, _ = newTestContext(http.MethodGet, "/metrics", "")
	NewMetricsHandler(nil, nil).Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, c.Writer.Status())
}
