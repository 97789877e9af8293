package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opspulse/opspulse/pkg/alerting"
	"github.com/opspulse/opspulse/pkg/metrics"
	"github.com/opspulse/opspulse/pkg/models"
)

func newTestServer(t *testing.T) (*Server, *metrics.Collector, *alerting.Manager) {
	t.Helper()

	logger := zap.NewNop()
	collector := metrics.NewCollector(metrics.Config{}, logger, nil)
	manager := alerting.NewManager(alerting.Config{}, collector, nil, logger)

	server := NewServer(":0", collector, collector, manager, nil, logger)

	return server, collector, manager
}

func doRequest(t *testing.T, server *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request

	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	return rec
}

func TestGetAllMetrics(t *testing.T) {
	server, collector, _ := newTestServer(t)

	collector.RecordAPIRequest("/api/checkout", "POST", 120, 200)
	collector.RecordBusinessEvent(models.PaymentSucceeded, "", 9.99)

	rec := doRequest(t, server, http.MethodGet, "/api/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap models.Snapshot

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.Performance.TotalRequests)
	assert.Equal(t, int64(1), snap.Business.PaymentsSucceeded)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestGetHealth(t *testing.T) {
	server, _, manager := newTestServer(t)

	manager.EvaluateOnce(context.Background())

	rec := doRequest(t, server, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status         models.HealthState `json:"status"`
		Score          int                `json:"score"`
		LastEvaluation time.Time          `json:"last_evaluation"`
	}

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, models.HealthHealthy, health.Status)
	assert.Equal(t, 100, health.Score)
	assert.False(t, health.LastEvaluation.IsZero())
}

func TestGetAlertHistory(t *testing.T) {
	server, collector, manager := newTestServer(t)

	for i := 0; i < 94; i++ {
		collector.RecordAPIRequest("/api/feed", "GET", 40, 200)
	}

	for i := 0; i < 6; i++ {
		collector.RecordAPIRequest("/api/feed", "GET", 40, 500)
	}

	manager.EvaluateOnce(context.Background())

	rec := doRequest(t, server, http.MethodGet, "/api/alerts?hours=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var history []models.AlertInstance

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "high_error_rate", history[0].Type)
}

func TestGetAlertHistoryBadHours(t *testing.T) {
	server, _, _ := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest,
		doRequest(t, server, http.MethodGet, "/api/alerts?hours=banana", nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		doRequest(t, server, http.MethodGet, "/api/alerts?hours=-1", nil).Code)
}

func TestGetAlertStats(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/alerts/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.AlertStats

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Zero(t, stats.TotalAlerts)
}

func TestRuleEndpoints(t *testing.T) {
	server, _, _ := newTestServer(t)

	t.Run("list rules", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/api/rules", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var rules []models.AlertRule

		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
		assert.Len(t, rules, 12)
	})

	t.Run("get one rule", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/api/rules/high_error_rate", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var rule models.AlertRule

		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rule))
		assert.Equal(t, "high_error_rate", rule.Type)
		assert.Equal(t, 5.0, rule.Threshold)
	})

	t.Run("unknown rule is 404", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/api/rules/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("update rule", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPut, "/api/rules/high_error_rate",
			[]byte(`{"threshold": 7.5}`))
		require.Equal(t, http.StatusOK, rec.Code)

		var rule models.AlertRule

		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rule))
		assert.Equal(t, 7.5, rule.Threshold)
	})

	t.Run("invalid patch is 400", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPut, "/api/rules/high_error_rate",
			[]byte(`{"threshold": -1}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("update unknown rule is 404", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPut, "/api/rules/nope",
			[]byte(`{"threshold": 1}`))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPut, "/api/rules/high_error_rate",
			[]byte(`{broken`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSelfInstrumentation(t *testing.T) {
	server, collector, _ := newTestServer(t)

	doRequest(t, server, http.MethodGet, "/api/metrics", nil)
	doRequest(t, server, http.MethodGet, "/api/rules/nope", nil)

	snap := collector.GetSnapshot()

	// Both API hits landed in the collector, one of them as an error.
	assert.Equal(t, int64(2), snap.Performance.TotalRequests)
	assert.Equal(t, int64(1), snap.Performance.TotalErrors)
}

func TestCORSHeaders(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
