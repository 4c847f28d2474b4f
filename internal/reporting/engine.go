package reporting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bandobast/deployment-tracker/internal/database"
	"github.com/bandobast/deployment-tracker/internal/geofence"
)

// Deployments resolves deployments and officer rosters.
type Deployments interface {
	GetByID(ctx context.Context, id string) (*database.Deployment, error)
}

// History reads the duty ledger for a deployment.
type History interface {
	History(ctx context.Context, deploymentID string, since *time.Time) ([]*database.StatusReport, error)
}

// Reports persists generated performance reports.
type Reports interface {
	Create(ctx context.Context, report *database.PerformanceReport) error
	ListByDeployment(ctx context.Context, deploymentID string) ([]*database.PerformanceReport, error)
}

// Mailer delivers report summaries to supervisors. Optional.
type Mailer interface {
	SendReport(ctx context.Context, toName, toEmail, subject, plainBody, htmlBody string) error
}

// Officers resolves supervisor contact details for report delivery.
type Officers interface {
	GetByID(ctx context.Context, id string) (*database.Officer, error)
}

// Engine builds post-event performance summaries from the duty ledger: per
// officer, whether they reported at all during the deployment and how many
// idle and out-of-zone records they accumulated.
type Engine struct {
	logger      *slog.Logger
	deployments Deployments
	history     History
	reports     Reports
	officers    Officers
	mailer      Mailer
}

func NewEngine(logger *slog.Logger, deployments Deployments, history History, reports Reports, officers Officers, mailer Mailer) *Engine {
	return &Engine{
		logger:      logger,
		deployments: deployments,
		history:     history,
		reports:     reports,
		officers:    officers,
		mailer:      mailer,
	}
}

// Generate builds and persists a performance report for one deployment, then
// mails the summary to the deployment supervisor if a mailer is configured.
func (e *Engine) Generate(ctx context.Context, deploymentID string) (*database.PerformanceReport, error) {
	deployment, err := e.deployments.GetByID(ctx, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load deployment: %w", err)
	}
	if deployment == nil {
		return nil, fmt.Errorf("deployment %s not found", deploymentID)
	}

	records, err := e.history.History(ctx, deploymentID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load duty records: %w", err)
	}

	perOfficer := make(map[string]*database.OfficerPerformance, len(deployment.Officers))
	for _, officerID := range deployment.Officers {
		perOfficer[officerID] = &database.OfficerPerformance{OfficerID: officerID}
	}
	for _, record := range records {
		perf, ok := perOfficer[record.OfficerID]
		if !ok {
			// Officer was removed from the roster after reporting; still
			// counts toward the event record.
			perf = &database.OfficerPerformance{OfficerID: record.OfficerID}
			perOfficer[record.OfficerID] = perf
		}
		perf.Attendance = true
		switch record.Status {
		case geofence.StatusIdle:
			perf.IdleAlerts++
		case geofence.StatusOutOfZone:
			perf.ZoneViolations++
		}
	}

	lines := make(database.OfficerPerfList, 0, len(perOfficer))
	attended, idleTotal, zoneTotal := 0, 0, 0
	for _, officerID := range deployment.Officers {
		perf := perOfficer[officerID]
		lines = append(lines, *perf)
		delete(perOfficer, officerID)
		if perf.Attendance {
			attended++
		}
		idleTotal += perf.IdleAlerts
		zoneTotal += perf.ZoneViolations
	}
	// Off-roster reporters, appended after the roster in stable record order.
	for _, record := range records {
		if perf, ok := perOfficer[record.OfficerID]; ok {
			lines = append(lines, *perf)
			delete(perOfficer, record.OfficerID)
			if perf.Attendance {
				attended++
			}
			idleTotal += perf.IdleAlerts
			zoneTotal += perf.ZoneViolations
		}
	}

	summary := fmt.Sprintf("%d of %d assigned officers reported; %d idle alerts, %d zone violations across %d duty records",
		attended, len(deployment.Officers), idleTotal, zoneTotal, len(records))

	report := &database.PerformanceReport{
		ID:           uuid.New().String(),
		DeploymentID: deploymentID,
		Summary:      summary,
		Officers:     lines,
	}
	if err := e.reports.Create(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to persist performance report: %w", err)
	}

	e.logger.Info("Performance report generated",
		"report_id", report.ID,
		"deployment_id", deploymentID,
		"officers", len(lines),
		"records", len(records))

	e.mailSupervisor(ctx, deployment, report)

	return report, nil
}

// ListByDeployment returns persisted reports for a deployment, newest first.
func (e *Engine) ListByDeployment(ctx context.Context, deploymentID string) ([]*database.PerformanceReport, error) {
	return e.reports.ListByDeployment(ctx, deploymentID)
}

// mailSupervisor delivers the summary by email. Delivery failure is logged,
// never surfaced: the report is already persisted.
func (e *Engine) mailSupervisor(ctx context.Context, deployment *database.Deployment, report *database.PerformanceReport) {
	if e.mailer == nil || deployment.SupervisorID == "" {
		return
	}

	supervisor, err := e.officers.GetByID(ctx, deployment.SupervisorID)
	if err != nil || supervisor == nil || supervisor.Email == "" {
		e.logger.Warn("Supervisor unavailable for report delivery",
			"deployment_id", deployment.ID, "supervisor_id", deployment.SupervisorID, "error", err)
		return
	}

	subject := fmt.Sprintf("Performance report: %s", deployment.Name)
	var plain strings.Builder
	fmt.Fprintf(&plain, "%s\n\n", report.Summary)
	for _, line := range report.Officers {
		attendance := "absent"
		if line.Attendance {
			attendance = "present"
		}
		fmt.Fprintf(&plain, "- %s: %s, %d idle alerts, %d zone violations\n",
			line.OfficerID, attendance, line.IdleAlerts, line.ZoneViolations)
	}

	if err := e.mailer.SendReport(ctx, supervisor.Name, supervisor.Email, subject, plain.String(), ""); err != nil {
		e.logger.Warn("Failed to mail performance report",
			"deployment_id", deployment.ID, "supervisor_id", supervisor.ID, "error", err)
	}
}
