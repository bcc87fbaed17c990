package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	fpmath "vaultrouter/internal/math"
	"vaultrouter/internal/observability"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	switch {
	case m.Counter != nil:
		return m.GetCounter().GetValue()
	case m.Gauge != nil:
		return m.GetGauge().GetValue()
	}
	t.Fatalf("unsupported metric")
	return 0
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	// Two instances must not collide when each has its own registry
	a := observability.NewMetrics(prometheus.NewRegistry())
	b := observability.NewMetrics(prometheus.NewRegistry())

	a.CommandsApplied.WithLabelValues("propose").Inc()
	assert.Equal(t, 1.0, value(t, a.CommandsApplied.WithLabelValues("propose")))
	assert.Equal(t, 0.0, value(t, b.CommandsApplied.WithLabelValues("propose")))
}

func TestMetrics_SharePriceGauge(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())

	price := new(uint256.Int).Mul(uint256.NewInt(125), fpmath.Unit(16)) // 1.25
	m.SetSharePrice("vault", price, fpmath.DefaultShareDecimals)

	assert.InDelta(t, 1.25, value(t, m.SharePrice.WithLabelValues("vault")), 1e-12)
}

func TestMetrics_AddFeesSkipsZero(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())

	m.AddFees("vault", "management", uint256.NewInt(0))
	m.AddFees("vault", "management", uint256.NewInt(10_000))

	assert.Equal(t, 10_000.0, value(t, m.FeesCharged.WithLabelValues("vault", "management")))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, observability.ParseLogLevel("debug"))
	assert.Equal(t, zerolog.InfoLevel, observability.ParseLogLevel(""))
	assert.Equal(t, zerolog.InfoLevel, observability.ParseLogLevel("bogus"))
}

func TestNewLoggerTo_TagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLoggerTo(&buf, "router", zerolog.InfoLevel)
	logger.Info().Msg("hello")
	logger.Debug().Msg("hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "router", line["component"])
	assert.Equal(t, "hello", line["message"])
}

func TestHealthChecker_Readiness(t *testing.T) {
	h := observability.NewHealthChecker()

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthChecker_ReadinessFollowsChecks(t *testing.T) {
	h := observability.NewHealthChecker()
	h.SetReady(true)

	var dbErr error
	h.AddCheck("postgres", func(context.Context) error { return dbErr })
	h.AddCheck("persistence", func(context.Context) error { return nil })

	ready, checks := h.Readiness(context.Background())
	assert.True(t, ready)
	assert.Equal(t, map[string]string{"recovered": "ok", "postgres": "ok", "persistence": "ok"}, checks)

	dbErr = errors.New("connection refused")
	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, "connection refused", body.Checks["postgres"])
	assert.Equal(t, "ok", body.Checks["persistence"])

	// Checks passing is not enough until recovery is done
	dbErr = nil
	h.SetReady(false)
	ready, checks = h.Readiness(context.Background())
	assert.False(t, ready)
	assert.Equal(t, "replay in progress", checks["recovered"])
}
