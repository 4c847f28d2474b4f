package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// PerformanceReportRepository handles persisted post-event reports
type PerformanceReportRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewPerformanceReportRepository creates a new performance report repository
func NewPerformanceReportRepository(db *sqlx.DB, logger *slog.Logger) *PerformanceReportRepository {
	return &PerformanceReportRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create stores a generated performance report
func (r *PerformanceReportRepository) Create(ctx context.Context, report *PerformanceReport) error {
	query := `
		INSERT INTO performance_reports (id, deployment_id, summary, officers, created_at)
		VALUES (:id, :deployment_id, :summary, :officers, :created_at)`

	report.CreatedAt = time.Now().UTC()

	_, err := r.db.NamedExecContext(ctx, query, report)
	if err != nil {
		r.logger.Error("Failed to create performance report",
			"deployment_id", report.DeploymentID,
			"error", err)
		return fmt.Errorf("failed to create performance report: %w", err)
	}

	r.logger.Info("Performance report stored",
		"report_id", report.ID,
		"deployment_id", report.DeploymentID)
	return nil
}

// ListByDeployment returns a deployment's reports newest-first.
func (r *PerformanceReportRepository) ListByDeployment(ctx context.Context, deploymentID string) ([]*PerformanceReport, error) {
	query := `
		SELECT * FROM performance_reports
		WHERE deployment_id = $1
		ORDER BY created_at DESC`

	var reports []*PerformanceReport
	if err := r.db.SelectContext(ctx, &reports, query, deploymentID); err != nil {
		r.logger.Error("Failed to list performance reports", "deployment_id", deploymentID, "error", err)
		return nil, fmt.Errorf("failed to list performance reports: %w", err)
	}

	return reports, nil
}
