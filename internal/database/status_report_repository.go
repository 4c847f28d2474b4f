package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// StatusReportRepository is the duty record store: an append-only ledger of
// classified status reports. Append is the only mutation; there is no update
// or delete, which keeps the ledger audit-safe.
type StatusReportRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewStatusReportRepository creates a new status report repository
func NewStatusReportRepository(db *sqlx.DB, logger *slog.Logger) *StatusReportRepository {
	return &StatusReportRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Append appends a classified report to the ledger.
func (r *StatusReportRepository) Append(ctx context.Context, report *StatusReport) error {
	query := `
		INSERT INTO status_reports (
			id, officer_id, deployment_id, latitude, longitude,
			status, reasons, reported_at, created_at
		) VALUES (
			:id, :officer_id, :deployment_id, :latitude, :longitude,
			:status, :reasons, :reported_at, :created_at
		)`

	report.CreatedAt = time.Now().UTC()

	_, err := r.db.NamedExecContext(ctx, query, report)
	if err != nil {
		r.logger.Error("Failed to append status report",
			"report_id", report.ID,
			"officer_id", report.OfficerID,
			"deployment_id", report.DeploymentID,
			"error", err)
		return fmt.Errorf("failed to append status report: %w", err)
	}

	return nil
}

// LatestFor returns the most recent report for an officer on a deployment,
// or nil when the officer has not reported yet.
func (r *StatusReportRepository) LatestFor(ctx context.Context, officerID, deploymentID string) (*StatusReport, error) {
	query := `
		SELECT * FROM status_reports
		WHERE officer_id = $1 AND deployment_id = $2
		ORDER BY reported_at DESC, created_at DESC
		LIMIT 1`

	var report StatusReport
	err := r.db.GetContext(ctx, &report, query, officerID, deploymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get latest report",
			"officer_id", officerID,
			"deployment_id", deploymentID,
			"error", err)
		return nil, fmt.Errorf("failed to get latest report: %w", err)
	}

	return &report, nil
}

// History returns a deployment's reports newest-first, optionally limited to
// those reported at or after since.
func (r *StatusReportRepository) History(ctx context.Context, deploymentID string, since *time.Time) ([]*StatusReport, error) {
	var (
		reports []*StatusReport
		err     error
	)

	if since != nil {
		query := `
			SELECT * FROM status_reports
			WHERE deployment_id = $1 AND reported_at >= $2
			ORDER BY reported_at DESC, created_at DESC`
		err = r.db.SelectContext(ctx, &reports, query, deploymentID, *since)
	} else {
		query := `
			SELECT * FROM status_reports
			WHERE deployment_id = $1
			ORDER BY reported_at DESC, created_at DESC`
		err = r.db.SelectContext(ctx, &reports, query, deploymentID)
	}

	if err != nil {
		r.logger.Error("Failed to get report history", "deployment_id", deploymentID, "error", err)
		return nil, fmt.Errorf("failed to get report history: %w", err)
	}

	return reports, nil
}

// ComplianceFor returns an officer's total report count and on-duty report
// count across all deployments inside the window. The workload scorer turns
// the pair into a compliance ratio.
func (r *StatusReportRepository) ComplianceFor(ctx context.Context, officerID string, window Window) (total, onDuty int, err error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'on-duty') AS on_duty
		FROM status_reports
		WHERE officer_id = $1 AND reported_at >= $2 AND reported_at < $3`

	var row struct {
		Total  int `db:"total"`
		OnDuty int `db:"on_duty"`
	}
	if err := r.db.GetContext(ctx, &row, query, officerID, window.Start, window.End); err != nil {
		r.logger.Error("Failed to get compliance counts", "officer_id", officerID, "error", err)
		return 0, 0, fmt.Errorf("failed to get compliance counts: %w", err)
	}

	return row.Total, row.OnDuty, nil
}
