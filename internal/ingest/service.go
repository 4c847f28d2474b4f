package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/bandobast/deployment-tracker/internal/alert"
	"github.com/bandobast/deployment-tracker/internal/database"
	"github.com/bandobast/deployment-tracker/internal/geofence"
)

var (
	// ErrUnknownDeployment means the submission referenced a deployment that
	// does not exist.
	ErrUnknownDeployment = errors.New("deployment not found")

	// ErrOfficerNotAssigned means the reporting officer is not on the
	// deployment's roster.
	ErrOfficerNotAssigned = errors.New("officer not assigned to deployment")

	// ErrInvalidReportWindow means the report timestamp predates the
	// deployment window. Late reports after the window close are accepted,
	// reports from before the deployment started are not.
	ErrInvalidReportWindow = errors.New("report timestamp before deployment window")
)

// Deployments resolves deployment records for validation.
type Deployments interface {
	GetByID(ctx context.Context, id string) (*database.Deployment, error)
}

// Officers resolves officer contact records for anomaly escalation.
type Officers interface {
	GetByID(ctx context.Context, id string) (*database.Officer, error)
}

// Ledger is the append-only duty record store.
type Ledger interface {
	Append(ctx context.Context, report *database.StatusReport) error
	LatestFor(ctx context.Context, officerID, deploymentID string) (*database.StatusReport, error)
}

// Publisher delivers accepted reports to live deployment subscribers.
type Publisher interface {
	Publish(ctx context.Context, report *database.StatusReport) int
}

// Alerter dispatches anomaly alerts.
type Alerter interface {
	Dispatch(ctx context.Context, a *alert.Alert) (*alert.Outcome, error)
}

// Submission is one raw status report from the field, before classification.
type Submission struct {
	OfficerID    string    `json:"officer_id" validate:"required"`
	DeploymentID string    `json:"deployment_id" validate:"required"`
	Latitude     float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude    float64   `json:"longitude" validate:"gte=-180,lte=180"`
	ReportedAt   time.Time `json:"reported_at"`
}

// lockStripes bounds the keyed-mutex table. Reports for the same
// (officer, deployment) pair always hash to the same stripe.
const lockStripes = 64

// Service runs the report pipeline: validate, classify against the prior
// record, append to the ledger, broadcast, and escalate anomalies. The
// classify-and-append step is serialized per (officer, deployment) pair so
// the prior record a classification reads is always the latest appended one.
type Service struct {
	logger      *slog.Logger
	evaluator   *geofence.Evaluator
	deployments Deployments
	officers    Officers
	ledger      Ledger
	publisher   Publisher
	alerter     Alerter

	submitTimeout   time.Duration
	dispatchTimeout time.Duration

	locks       [lockStripes]sync.Mutex
	escalations sync.WaitGroup
}

// NewService creates the ingest pipeline. alerter may be nil, in which case
// anomalies are recorded and broadcast but not escalated.
func NewService(
	logger *slog.Logger,
	evaluator *geofence.Evaluator,
	deployments Deployments,
	officers Officers,
	ledger Ledger,
	publisher Publisher,
	alerter Alerter,
	submitTimeout, dispatchTimeout time.Duration,
) *Service {
	return &Service{
		logger:          logger,
		evaluator:       evaluator,
		deployments:     deployments,
		officers:        officers,
		ledger:          ledger,
		publisher:       publisher,
		alerter:         alerter,
		submitTimeout:   submitTimeout,
		dispatchTimeout: dispatchTimeout,
	}
}

// SubmitReport accepts one submission, classifies it, appends the classified
// record, and returns it. Anomalous records (idle, out-of-zone) are escalated
// asynchronously; escalation failures never fail the submission.
func (s *Service) SubmitReport(ctx context.Context, sub Submission) (*database.StatusReport, error) {
	if s.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.submitTimeout)
		defer cancel()
	}

	if sub.ReportedAt.IsZero() {
		sub.ReportedAt = time.Now().UTC()
	}

	deployment, err := s.deployments.GetByID(ctx, sub.DeploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load deployment: %w", err)
	}
	if deployment == nil {
		return nil, ErrUnknownDeployment
	}
	if !deployment.HasOfficer(sub.OfficerID) {
		return nil, ErrOfficerNotAssigned
	}
	if sub.ReportedAt.Before(deployment.StartsAt) {
		return nil, ErrInvalidReportWindow
	}

	lock := s.lockFor(sub.OfficerID, sub.DeploymentID)
	lock.Lock()

	prior, err := s.ledger.LatestFor(ctx, sub.OfficerID, sub.DeploymentID)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to load prior report: %w", err)
	}

	var priorReport *geofence.Report
	if prior != nil {
		priorReport = &geofence.Report{
			Coordinate: prior.Coordinate(),
			Timestamp:  prior.ReportedAt,
		}
	}

	status, reasons := s.evaluator.Classify(geofence.Report{
		Coordinate: geofence.Coordinate{Latitude: sub.Latitude, Longitude: sub.Longitude},
		Timestamp:  sub.ReportedAt,
	}, deployment.Perimeter(), priorReport)

	report := &database.StatusReport{
		ID:           uuid.New().String(),
		OfficerID:    sub.OfficerID,
		DeploymentID: sub.DeploymentID,
		Latitude:     sub.Latitude,
		Longitude:    sub.Longitude,
		Status:       status,
		Reasons:      pq.StringArray(reasons),
		ReportedAt:   sub.ReportedAt.UTC(),
	}

	if err := s.ledger.Append(ctx, report); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to append report: %w", err)
	}
	lock.Unlock()

	delivered := s.publisher.Publish(ctx, report)

	s.logger.Debug("Status report accepted",
		"report_id", report.ID,
		"officer_id", report.OfficerID,
		"deployment_id", report.DeploymentID,
		"status", report.Status,
		"delivered", delivered)

	if status != geofence.StatusOnDuty {
		s.escalations.Add(1)
		go func() {
			defer s.escalations.Done()
			s.escalate(deployment, report)
		}()
	}

	return report, nil
}

// Drain blocks until all in-flight anomaly escalations have settled. Called
// during shutdown so accepted anomalies are not silently dropped.
func (s *Service) Drain() {
	s.escalations.Wait()
}

// lockFor returns the stripe mutex serializing one (officer, deployment) key.
func (s *Service) lockFor(officerID, deploymentID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(officerID))
	h.Write([]byte{0})
	h.Write([]byte(deploymentID))
	return &s.locks[h.Sum32()%lockStripes]
}

// escalate raises an anomaly alert for one classified report. It runs
// detached from the submission request so a slow notification channel never
// delays report acceptance.
func (s *Service) escalate(deployment *database.Deployment, report *database.StatusReport) {
	if s.alerter == nil {
		return
	}

	timeout := s.dispatchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	officer, err := s.officers.GetByID(ctx, report.OfficerID)
	if err != nil || officer == nil {
		s.logger.Error("Failed to resolve officer for anomaly alert",
			"officer_id", report.OfficerID, "error", err)
		return
	}

	var kind alert.Kind
	switch report.Status {
	case geofence.StatusIdle:
		kind = alert.KindIdle
	case geofence.StatusOutOfZone:
		kind = alert.KindZoneViolation
	default:
		return
	}

	a := &alert.Alert{
		ID:             uuid.New().String(),
		Kind:           kind,
		DeploymentID:   deployment.ID,
		DeploymentName: deployment.Name,
		Message: fmt.Sprintf("Officer %s reported %s at deployment %s: %s",
			officer.Name, report.Status, deployment.Name, strings.Join(report.Reasons, "; ")),
		Recipients: []alert.Recipient{{
			OfficerID:    officer.ID,
			Name:         officer.Name,
			Phone:        officer.Phone,
			Email:        officer.Email,
			PushToken:    officer.PushToken,
			CriticalRole: officer.CriticalRole,
		}},
		CreatedAt: time.Now().UTC(),
	}

	if _, err := s.alerter.Dispatch(ctx, a); err != nil {
		s.logger.Error("Failed to dispatch anomaly alert",
			"alert_id", a.ID, "kind", kind, "error", err)
	}
}
