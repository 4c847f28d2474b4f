package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandobast/deployment-tracker/internal/config"
	"github.com/bandobast/deployment-tracker/internal/database"
	"github.com/bandobast/deployment-tracker/internal/geofence"
	"github.com/bandobast/deployment-tracker/internal/ingest"
	"github.com/bandobast/deployment-tracker/internal/metrics"
)

var (
	collectorOnce sync.Once
	collector     *metrics.Collector
)

// testCollector returns a process-wide collector; Prometheus registration is
// global and must not repeat.
func testCollector() *metrics.Collector {
	collectorOnce.Do(func() {
		collector = metrics.NewCollector()
	})
	return collector
}

// stalledDeployments never answers; lookups settle only when the context does.
type stalledDeployments struct{}

func (stalledDeployments) GetByID(ctx context.Context, id string) (*database.Deployment, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type noopOfficers struct{}

func (noopOfficers) GetByID(ctx context.Context, id string) (*database.Officer, error) {
	return nil, nil
}

type noopLedger struct{}

func (noopLedger) Append(ctx context.Context, report *database.StatusReport) error { return nil }

func (noopLedger) LatestFor(ctx context.Context, officerID, deploymentID string) (*database.StatusReport, error) {
	return nil, nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, report *database.StatusReport) int { return 0 }

func newTestRouter() *mux.Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHTTPHandler(
		&config.Config{Debug: true},
		logger,
		testCollector(),
		nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
	)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

func TestHTTPHandler_Basics(t *testing.T) {
	router := newTestRouter()

	t.Run("Health Check", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var response map[string]interface{}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
		assert.Equal(t, "healthy", response["status"])
		assert.Equal(t, "deployment-tracker", response["service"])
	})

	t.Run("Submit Report Rejects Malformed Body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/reports", strings.NewReader("{not json"))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Submit Report Rejects Missing Fields", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/reports",
			strings.NewReader(`{"latitude": 28.6, "longitude": 77.2}`))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		var response map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
		assert.Contains(t, response["error"], "validation failed")
	})

	t.Run("Create Deployment Rejects Inverted Window", func(t *testing.T) {
		body := `{
			"name": "Market Patrol",
			"latitude": 28.6, "longitude": 77.2, "radius_meters": 500,
			"starts_at": "2026-03-14T16:00:00Z",
			"ends_at": "2026-03-14T08:00:00Z"
		}`
		req := httptest.NewRequest("POST", "/deployments", strings.NewReader(body))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		var response map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
		assert.Contains(t, response["error"], "ends_at")
	})

	t.Run("Workload Requires Officer IDs", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/workload", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Resolve Holiday Rejects Unknown Status", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/holidays/h1/resolve",
			strings.NewReader(`{"status": "maybe"}`))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Update Contact Rejects Invalid Email", func(t *testing.T) {
		req := httptest.NewRequest("PUT", "/officers/o1/contact",
			strings.NewReader(`{"phone": "+91100", "email": "not-an-email"}`))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		var response map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
		assert.Contains(t, response["error"], "validation failed")
	})
}

func TestHTTPHandler_SubmitReportTimeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	evaluator := geofence.NewEvaluator(10*time.Minute, 15.0)
	svc := ingest.NewService(logger, evaluator, stalledDeployments{}, noopOfficers{},
		noopLedger{}, noopPublisher{}, nil, 5*time.Millisecond, time.Second)

	handler := NewHTTPHandler(
		&config.Config{Debug: true},
		logger,
		testCollector(),
		svc,
		nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
	)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	body := `{"officer_id": "o1", "deployment_id": "d1", "latitude": 28.6, "longitude": 77.2}`
	req := httptest.NewRequest("POST", "/reports", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
	var response map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "timeout", response["error"])
}
