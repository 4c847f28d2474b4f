package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bandobast/deployment-tracker/internal/alert"
	"github.com/bandobast/deployment-tracker/internal/broadcast"
	"github.com/bandobast/deployment-tracker/internal/conflict"
	"github.com/bandobast/deployment-tracker/internal/config"
	"github.com/bandobast/deployment-tracker/internal/database"
	"github.com/bandobast/deployment-tracker/internal/ingest"
	"github.com/bandobast/deployment-tracker/internal/metrics"
	"github.com/bandobast/deployment-tracker/internal/reporting"
	"github.com/bandobast/deployment-tracker/internal/workload"
)

// HTTPHandler handles HTTP requests for the deployment tracker
type HTTPHandler struct {
	config         *config.Config
	logger         *slog.Logger
	validate       *validator.Validate
	metrics        *metrics.Collector
	ingestSvc      *ingest.Service
	broadcaster    *broadcast.Broadcaster
	detector       *conflict.Detector
	committer      *conflict.Committer
	scorer         *workload.Scorer
	reporter       *reporting.Engine
	alerter        ingest.Alerter
	deploymentRepo *database.DeploymentRepository
	officerRepo    *database.OfficerRepository
	reportRepo     *database.StatusReportRepository
	holidayRepo    *database.HolidayRepository

	background sync.WaitGroup
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	cfg *config.Config,
	logger *slog.Logger,
	collector *metrics.Collector,
	ingestSvc *ingest.Service,
	broadcaster *broadcast.Broadcaster,
	detector *conflict.Detector,
	committer *conflict.Committer,
	scorer *workload.Scorer,
	reporter *reporting.Engine,
	alerter ingest.Alerter,
	deploymentRepo *database.DeploymentRepository,
	officerRepo *database.OfficerRepository,
	reportRepo *database.StatusReportRepository,
	holidayRepo *database.HolidayRepository,
) *HTTPHandler {
	return &HTTPHandler{
		config:         cfg,
		logger:         logger,
		validate:       validator.New(),
		metrics:        collector,
		ingestSvc:      ingestSvc,
		broadcaster:    broadcaster,
		detector:       detector,
		committer:      committer,
		scorer:         scorer,
		reporter:       reporter,
		alerter:        alerter,
		deploymentRepo: deploymentRepo,
		officerRepo:    officerRepo,
		reportRepo:     reportRepo,
		holidayRepo:    holidayRepo,
	}
}

// RegisterRoutes registers HTTP routes
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.Use(h.metricsMiddleware)

	// Health and observability endpoints
	router.HandleFunc("/health", h.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Duty report endpoints
	router.HandleFunc("/reports", h.handleSubmitReport).Methods("POST")

	// Officer endpoints
	officerRouter := router.PathPrefix("/officers").Subrouter()
	officerRouter.HandleFunc("", h.handleCreateOfficer).Methods("POST")
	officerRouter.HandleFunc("/{id}", h.handleGetOfficer).Methods("GET")
	officerRouter.HandleFunc("/{id}/contact", h.handleUpdateContact).Methods("PUT")
	officerRouter.HandleFunc("/{id}/workload", h.handleOfficerWorkload).Methods("GET")

	// Deployment endpoints
	deploymentRouter := router.PathPrefix("/deployments").Subrouter()
	deploymentRouter.HandleFunc("", h.handleCreateDeployment).Methods("POST")
	deploymentRouter.HandleFunc("/{id}", h.handleGetDeployment).Methods("GET")
	deploymentRouter.HandleFunc("/{id}/officers", h.handleAssignOfficers).Methods("PUT")
	deploymentRouter.HandleFunc("/{id}/reports", h.handleListReports).Methods("GET")
	deploymentRouter.HandleFunc("/{id}/stream", h.handleStream).Methods("GET")
	deploymentRouter.HandleFunc("/{id}/close", h.handleCloseDeployment).Methods("POST")
	deploymentRouter.HandleFunc("/{id}/holidays", h.handleRequestHoliday).Methods("POST")
	deploymentRouter.HandleFunc("/{id}/performance-reports", h.handleGenerateReport).Methods("POST")
	deploymentRouter.HandleFunc("/{id}/performance-reports", h.handleListPerformanceReports).Methods("GET")

	// Assignment planning endpoints
	router.HandleFunc("/assignments/check", h.handleCheckAssignment).Methods("POST")
	router.HandleFunc("/workload", h.handleWorkload).Methods("GET")

	// Holiday review endpoints
	holidayRouter := router.PathPrefix("/holidays").Subrouter()
	holidayRouter.HandleFunc("/pending", h.handlePendingHolidays).Methods("GET")
	holidayRouter.HandleFunc("/{id}/resolve", h.handleResolveHoliday).Methods("POST")
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "deployment-tracker",
		"timestamp": time.Now().UTC(),
	})
}

// handleSubmitReport accepts one field status report, classifies it, and
// returns the appended duty record.
func (h *HTTPHandler) handleSubmitReport(w http.ResponseWriter, r *http.Request) {
	var sub ingest.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(sub); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}

	start := time.Now()
	report, err := h.ingestSvc.SubmitReport(r.Context(), sub)
	h.metrics.ReportDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrUnknownDeployment):
			h.metrics.ReportRejections.WithLabelValues("unknown_deployment").Inc()
			h.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ingest.ErrOfficerNotAssigned):
			h.metrics.ReportRejections.WithLabelValues("not_assigned").Inc()
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ingest.ErrInvalidReportWindow):
			h.metrics.ReportRejections.WithLabelValues("invalid_window").Inc()
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			h.metrics.ReportRejections.WithLabelValues("timeout").Inc()
			h.writeError(w, http.StatusGatewayTimeout, "timeout")
		default:
			h.logger.Error("Failed to submit report", "error", err)
			h.metrics.ReportRejections.WithLabelValues("internal").Inc()
			h.writeError(w, http.StatusInternalServerError, "failed to submit report")
		}
		return
	}

	h.metrics.ReportsTotal.WithLabelValues(string(report.Status)).Inc()
	h.writeJSON(w, http.StatusCreated, report)
}

// handleListReports returns the duty record history for a deployment, newest
// first. An optional since parameter (RFC 3339) bounds the range.
func (h *HTTPHandler) handleListReports(w http.ResponseWriter, r *http.Request) {
	deploymentID := mux.Vars(r)["id"]

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		since = &t
	}

	records, err := h.reportRepo.History(r.Context(), deploymentID, since)
	if err != nil {
		h.logger.Error("Failed to list reports", "deployment_id", deploymentID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"deployment_id": deploymentID,
		"reports":       records,
		"count":         len(records),
	})
}

type createOfficerRequest struct {
	Name         string `json:"name" validate:"required"`
	Phone        string `json:"phone" validate:"required"`
	Email        string `json:"email" validate:"required,email"`
	PushToken    string `json:"push_token"`
	CriticalRole bool   `json:"critical_role"`
}

func (h *HTTPHandler) handleCreateOfficer(w http.ResponseWriter, r *http.Request) {
	var req createOfficerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}

	officer := &database.Officer{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Phone:        req.Phone,
		Email:        req.Email,
		PushToken:    req.PushToken,
		CriticalRole: req.CriticalRole,
	}
	if err := h.officerRepo.Create(r.Context(), officer); err != nil {
		h.logger.Error("Failed to create officer", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create officer")
		return
	}

	h.writeJSON(w, http.StatusCreated, officer)
}

func (h *HTTPHandler) handleGetOfficer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	officer, err := h.officerRepo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get officer", "officer_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get officer")
		return
	}
	if officer == nil {
		h.writeError(w, http.StatusNotFound, "officer not found")
		return
	}

	h.writeJSON(w, http.StatusOK, officer)
}

type updateContactRequest struct {
	Phone     string `json:"phone" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	PushToken string `json:"push_token"`
}

// handleUpdateContact replaces the mutable contact fields alert channels
// deliver to.
func (h *HTTPHandler) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req updateContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}

	if err := h.officerRepo.UpdateContact(r.Context(), id, req.Phone, req.Email, req.PushToken); err != nil {
		if errors.Is(err, database.ErrUnknownOfficer) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("Failed to update officer contact", "officer_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to update officer contact")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"officer_id": id,
		"phone":      req.Phone,
		"email":      req.Email,
	})
}

func (h *HTTPHandler) handleOfficerWorkload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	scores, err := h.scorer.Score(r.Context(), []string{id}, time.Now().UTC())
	if err != nil {
		h.logger.Error("Failed to score workload", "officer_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to score workload")
		return
	}

	score := scores[id]
	h.metrics.WorkloadScores.Observe(score.Score)
	h.writeJSON(w, http.StatusOK, score)
}

type createDeploymentRequest struct {
	Name         string    `json:"name" validate:"required"`
	SupervisorID string    `json:"supervisor_id"`
	Latitude     float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude    float64   `json:"longitude" validate:"gte=-180,lte=180"`
	RadiusMeters float64   `json:"radius_meters" validate:"gt=0"`
	StartsAt     time.Time `json:"starts_at" validate:"required"`
	EndsAt       time.Time `json:"ends_at" validate:"required"`
	Officers     []string  `json:"officers"`
}

// handleCreateDeployment creates a scheduled deployment. If an initial roster
// is given it is first checked for schedule conflicts; colliding assignments
// reject the whole request.
func (h *HTTPHandler) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req createDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}
	if !req.EndsAt.After(req.StartsAt) {
		h.writeError(w, http.StatusBadRequest, "ends_at must be after starts_at")
		return
	}

	window := database.Window{Start: req.StartsAt, End: req.EndsAt}
	conflicts, err := h.detector.Check(r.Context(), req.Officers, window, "")
	if err != nil {
		if errors.Is(err, conflict.ErrCheckUnavailable) {
			h.metrics.ConflictChecksTotal.WithLabelValues("unavailable").Inc()
			h.writeError(w, http.StatusServiceUnavailable, "conflict check unavailable")
			return
		}
		h.logger.Error("Failed to check conflicts", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to check conflicts")
		return
	}
	if len(conflicts) > 0 {
		h.metrics.ConflictChecksTotal.WithLabelValues("conflict").Inc()
		h.metrics.ConflictsFound.Add(float64(len(conflicts)))
		h.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":     "schedule conflicts detected",
			"conflicts": conflicts,
		})
		return
	}
	h.metrics.ConflictChecksTotal.WithLabelValues("clear").Inc()

	deployment := &database.Deployment{
		ID:           uuid.New().String(),
		Name:         req.Name,
		SupervisorID: req.SupervisorID,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		RadiusMeters: req.RadiusMeters,
		StartsAt:     req.StartsAt.UTC(),
		EndsAt:       req.EndsAt.UTC(),
		Status:       database.DeploymentScheduled,
		Officers:     pq.StringArray(req.Officers),
	}
	if err := h.deploymentRepo.Create(r.Context(), deployment); err != nil {
		h.logger.Error("Failed to create deployment", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create deployment")
		return
	}

	h.writeJSON(w, http.StatusCreated, deployment)
}

func (h *HTTPHandler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	deployment, err := h.deploymentRepo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get deployment", "deployment_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get deployment")
		return
	}
	if deployment == nil {
		h.writeError(w, http.StatusNotFound, "deployment not found")
		return
	}

	h.writeJSON(w, http.StatusOK, deployment)
}

type assignOfficersRequest struct {
	Officers []string `json:"officers" validate:"required,min=1"`
}

// handleAssignOfficers replaces the roster of a scheduled deployment. The
// conflict check and the write run as one serialized step, so two concurrent
// conflicting assignments cannot both land.
func (h *HTTPHandler) handleAssignOfficers(w http.ResponseWriter, r *http.Request) {
	deploymentID := mux.Vars(r)["id"]

	var req assignOfficersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}

	conflicts, err := h.committer.Commit(r.Context(), deploymentID, req.Officers)
	if err != nil {
		switch {
		case errors.Is(err, conflict.ErrCheckUnavailable):
			h.metrics.ConflictChecksTotal.WithLabelValues("unavailable").Inc()
			h.writeError(w, http.StatusServiceUnavailable, "conflict check unavailable")
		case errors.Is(err, conflict.ErrNotScheduled):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, conflict.ErrUnknownDeployment):
			h.writeError(w, http.StatusNotFound, err.Error())
		default:
			h.logger.Error("Failed to assign officers",
				"deployment_id", deploymentID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to assign officers")
		}
		return
	}
	if len(conflicts) > 0 {
		h.metrics.ConflictChecksTotal.WithLabelValues("conflict").Inc()
		h.metrics.ConflictsFound.Add(float64(len(conflicts)))
		h.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":     "schedule conflicts detected",
			"conflicts": conflicts,
		})
		return
	}
	h.metrics.ConflictChecksTotal.WithLabelValues("clear").Inc()

	// Workload advisory for the new roster; failures do not undo the commit.
	var analysis *workload.Analysis
	if a, err := h.scorer.Analyze(r.Context(), req.Officers, time.Now().UTC()); err == nil {
		analysis = a
	} else {
		h.logger.Warn("Workload advisory unavailable",
			"deployment_id", deploymentID, "error", err)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"deployment_id": deploymentID,
		"officers":      req.Officers,
		"workload":      analysis,
	})
}

type checkAssignmentRequest struct {
	OfficerIDs []string  `json:"officer_ids" validate:"required"`
	StartsAt   time.Time `json:"starts_at" validate:"required"`
	EndsAt     time.Time `json:"ends_at" validate:"required"`
	ExcludeID  string    `json:"exclude_deployment_id"`
}

// handleCheckAssignment runs an advisory conflict check without writing
// anything.
func (h *HTTPHandler) handleCheckAssignment(w http.ResponseWriter, r *http.Request) {
	var req checkAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}
	if !req.EndsAt.After(req.StartsAt) {
		h.writeError(w, http.StatusBadRequest, "ends_at must be after starts_at")
		return
	}

	window := database.Window{Start: req.StartsAt, End: req.EndsAt}
	conflicts, err := h.detector.Check(r.Context(), req.OfficerIDs, window, req.ExcludeID)
	if err != nil {
		if errors.Is(err, conflict.ErrCheckUnavailable) {
			h.metrics.ConflictChecksTotal.WithLabelValues("unavailable").Inc()
			h.writeError(w, http.StatusServiceUnavailable, "conflict check unavailable")
			return
		}
		h.logger.Error("Failed to check assignment", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to check assignment")
		return
	}

	if len(conflicts) > 0 {
		h.metrics.ConflictChecksTotal.WithLabelValues("conflict").Inc()
		h.metrics.ConflictsFound.Add(float64(len(conflicts)))
	} else {
		h.metrics.ConflictChecksTotal.WithLabelValues("clear").Inc()
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"conflicts": conflicts,
		"clear":     len(conflicts) == 0,
	})
}

// handleWorkload scores a comma-separated set of officers.
func (h *HTTPHandler) handleWorkload(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("officer_ids")
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, "officer_ids parameter is required")
		return
	}
	officerIDs := strings.Split(raw, ",")

	asOf := time.Now().UTC()
	if rawAsOf := r.URL.Query().Get("as_of"); rawAsOf != "" {
		t, err := time.Parse(time.RFC3339, rawAsOf)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid as_of parameter")
			return
		}
		asOf = t
	}

	analysis, err := h.scorer.Analyze(r.Context(), officerIDs, asOf)
	if err != nil {
		h.logger.Error("Failed to analyze workload", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to analyze workload")
		return
	}

	for _, score := range analysis.Scores {
		h.metrics.WorkloadScores.Observe(score.Score)
	}
	h.writeJSON(w, http.StatusOK, analysis)
}

// handleCloseDeployment completes an active deployment ahead of its window
// and generates the performance report.
func (h *HTTPHandler) handleCloseDeployment(w http.ResponseWriter, r *http.Request) {
	deploymentID := mux.Vars(r)["id"]

	changed, err := h.deploymentRepo.UpdateStatus(r.Context(), deploymentID,
		database.DeploymentActive, database.DeploymentCompleted)
	if err != nil {
		h.logger.Error("Failed to close deployment", "deployment_id", deploymentID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to close deployment")
		return
	}
	if !changed {
		h.writeError(w, http.StatusConflict, "deployment is not active")
		return
	}

	report, err := h.reporter.Generate(r.Context(), deploymentID)
	if err != nil {
		h.logger.Error("Failed to generate closeout report",
			"deployment_id", deploymentID, "error", err)
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"deployment_id": deploymentID,
			"status":        database.DeploymentCompleted,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"deployment_id":      deploymentID,
		"status":             database.DeploymentCompleted,
		"performance_report": report,
	})
}

type holidayRequestBody struct {
	OfficerID string `json:"officer_id" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
}

// handleRequestHoliday files an excusal request for an assigned officer and
// notifies the deployment supervisor.
func (h *HTTPHandler) handleRequestHoliday(w http.ResponseWriter, r *http.Request) {
	deploymentID := mux.Vars(r)["id"]

	var req holidayRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}

	deployment, err := h.deploymentRepo.GetByID(r.Context(), deploymentID)
	if err != nil {
		h.logger.Error("Failed to get deployment", "deployment_id", deploymentID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get deployment")
		return
	}
	if deployment == nil {
		h.writeError(w, http.StatusNotFound, "deployment not found")
		return
	}
	if !deployment.HasOfficer(req.OfficerID) {
		h.writeError(w, http.StatusUnprocessableEntity, "officer not assigned to deployment")
		return
	}

	request := &database.HolidayRequest{
		ID:           uuid.New().String(),
		OfficerID:    req.OfficerID,
		DeploymentID: deploymentID,
		Reason:       req.Reason,
		Status:       database.HolidayPending,
	}
	if err := h.holidayRepo.Create(r.Context(), request); err != nil {
		h.logger.Error("Failed to create holiday request", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create holiday request")
		return
	}

	h.background.Add(1)
	go func() {
		defer h.background.Done()
		h.notifySupervisor(deployment, request)
	}()

	h.writeJSON(w, http.StatusCreated, request)
}

// Drain blocks until detached supervisor notifications have settled. Called
// during shutdown after the HTTP server stops accepting requests.
func (h *HTTPHandler) Drain() {
	h.background.Wait()
}

// notifySupervisor raises a holiday-request alert for the deployment
// supervisor. Runs detached; delivery failure never fails the request.
func (h *HTTPHandler) notifySupervisor(deployment *database.Deployment, request *database.HolidayRequest) {
	if h.alerter == nil || deployment.SupervisorID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	supervisor, err := h.officerRepo.GetByID(ctx, deployment.SupervisorID)
	if err != nil || supervisor == nil {
		h.logger.Warn("Supervisor unavailable for holiday alert",
			"deployment_id", deployment.ID, "supervisor_id", deployment.SupervisorID, "error", err)
		return
	}

	a := &alert.Alert{
		ID:             uuid.New().String(),
		Kind:           alert.KindHolidayRequest,
		DeploymentID:   deployment.ID,
		DeploymentName: deployment.Name,
		Message: fmt.Sprintf("Holiday requested by officer %s for deployment %s: %s",
			request.OfficerID, deployment.Name, request.Reason),
		Recipients: []alert.Recipient{{
			OfficerID:    supervisor.ID,
			Name:         supervisor.Name,
			Phone:        supervisor.Phone,
			Email:        supervisor.Email,
			PushToken:    supervisor.PushToken,
			CriticalRole: supervisor.CriticalRole,
		}},
		CreatedAt: time.Now().UTC(),
	}
	if _, err := h.alerter.Dispatch(ctx, a); err != nil {
		h.logger.Warn("Failed to dispatch holiday alert",
			"request_id", request.ID, "error", err)
	}
}

func (h *HTTPHandler) handlePendingHolidays(w http.ResponseWriter, r *http.Request) {
	requests, err := h.holidayRepo.ListPending(r.Context(), 100)
	if err != nil {
		h.logger.Error("Failed to list pending holidays", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list pending holidays")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": requests,
		"count":    len(requests),
	})
}

type resolveHolidayRequest struct {
	Status string `json:"status" validate:"required,oneof=approved rejected"`
}

func (h *HTTPHandler) handleResolveHoliday(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]

	var req resolveHolidayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}

	if err := h.holidayRepo.Resolve(r.Context(), requestID, req.Status); err != nil {
		if errors.Is(err, database.ErrNotPending) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("Failed to resolve holiday request",
			"request_id", requestID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to resolve holiday request")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": requestID,
		"status":     req.Status,
	})
}

func (h *HTTPHandler) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	deploymentID := mux.Vars(r)["id"]

	report, err := h.reporter.Generate(r.Context(), deploymentID)
	if err != nil {
		h.logger.Error("Failed to generate performance report",
			"deployment_id", deploymentID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to generate performance report")
		return
	}

	h.writeJSON(w, http.StatusCreated, report)
}

func (h *HTTPHandler) handleListPerformanceReports(w http.ResponseWriter, r *http.Request) {
	deploymentID := mux.Vars(r)["id"]

	reports, err := h.reporter.ListByDeployment(r.Context(), deploymentID)
	if err != nil {
		h.logger.Error("Failed to list performance reports",
			"deployment_id", deploymentID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list performance reports")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"deployment_id": deploymentID,
		"reports":       reports,
		"count":         len(reports),
	})
}

// metricsMiddleware records request counts and latency per route.
func (h *HTTPHandler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if template, err := route.GetPathTemplate(); err == nil {
				path = template
			}
		}

		h.metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, fmt.Sprintf("%d", recorder.status)).Inc()
		h.metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
