package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// DeploymentRepository handles deployment data operations, including the
// officer-membership and time-window index the conflict detector queries.
type DeploymentRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewDeploymentRepository creates a new deployment repository
func NewDeploymentRepository(db *sqlx.DB, logger *slog.Logger) *DeploymentRepository {
	return &DeploymentRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create creates a new deployment
func (r *DeploymentRepository) Create(ctx context.Context, deployment *Deployment) error {
	query := `
		INSERT INTO deployments (
			id, name, supervisor_id, latitude, longitude, radius_meters,
			starts_at, ends_at, status, officers, created_at, updated_at
		) VALUES (
			:id, :name, :supervisor_id, :latitude, :longitude, :radius_meters,
			:starts_at, :ends_at, :status, :officers, :created_at, :updated_at
		)`

	now := time.Now().UTC()
	deployment.CreatedAt = now
	deployment.UpdatedAt = now

	_, err := r.db.NamedExecContext(ctx, query, deployment)
	if err != nil {
		r.logger.Error("Failed to create deployment", "deployment_id", deployment.ID, "error", err)
		return fmt.Errorf("failed to create deployment: %w", err)
	}

	r.logger.Info("Deployment created",
		"deployment_id", deployment.ID,
		"name", deployment.Name,
		"officers", len(deployment.Officers))
	return nil
}

// GetByID retrieves a deployment by ID, or nil when it does not exist.
func (r *DeploymentRepository) GetByID(ctx context.Context, id string) (*Deployment, error) {
	query := `SELECT * FROM deployments WHERE id = $1`

	var deployment Deployment
	err := r.db.GetContext(ctx, &deployment, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get deployment by ID", "deployment_id", id, "error", err)
		return nil, fmt.Errorf("failed to get deployment by ID: %w", err)
	}

	return &deployment, nil
}

// Overlapping returns scheduled or active deployments, other than excludeID,
// whose officer set intersects officerIDs and whose window overlaps window.
// The comparison is half-open: exact boundary touching is not an overlap.
// Results are ordered by start time ascending so the earliest conflicting
// commitment surfaces first.
func (r *DeploymentRepository) Overlapping(ctx context.Context, officerIDs []string, window Window, excludeID string) ([]*Deployment, error) {
	query := `
		SELECT * FROM deployments
		WHERE status IN ($1, $2)
		AND id != $3
		AND officers && $4
		AND starts_at < $5
		AND $6 < ends_at
		ORDER BY starts_at ASC`

	var deployments []*Deployment
	err := r.db.SelectContext(ctx, &deployments, query,
		DeploymentScheduled, DeploymentActive,
		excludeID, pq.Array(officerIDs), window.End, window.Start)
	if err != nil {
		r.logger.Error("Failed to query overlapping deployments", "error", err)
		return nil, fmt.Errorf("failed to query overlapping deployments: %w", err)
	}

	return deployments, nil
}

// CountForOfficerBetween counts deployments assigned to an officer whose
// window overlaps the given window, regardless of lifecycle status.
func (r *DeploymentRepository) CountForOfficerBetween(ctx context.Context, officerID string, window Window) (int, error) {
	query := `
		SELECT COUNT(*) FROM deployments
		WHERE $1 = ANY(officers)
		AND starts_at < $2
		AND $3 < ends_at`

	var count int
	if err := r.db.GetContext(ctx, &count, query, officerID, window.End, window.Start); err != nil {
		r.logger.Error("Failed to count deployments for officer", "officer_id", officerID, "error", err)
		return 0, fmt.Errorf("failed to count deployments for officer: %w", err)
	}

	return count, nil
}

// UpdateOfficers replaces the assigned officer set. The status check and the
// roster write run in one transaction with the row locked, so a lifecycle
// sweep on another instance cannot start the deployment between them; edits
// after the scheduled state return an error rather than silently mutating a
// started deployment.
func (r *DeploymentRepository) UpdateOfficers(ctx context.Context, deploymentID string, officerIDs []string) error {
	err := r.Transaction(func(tx *sqlx.Tx) error {
		var status string
		err := tx.GetContext(ctx, &status,
			`SELECT status FROM deployments WHERE id = $1 FOR UPDATE`, deploymentID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("deployment not found: %s", deploymentID)
		}
		if err != nil {
			return err
		}
		if status != DeploymentScheduled {
			return fmt.Errorf("deployment %s is not editable: status %s", deploymentID, status)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE deployments SET officers = $1, updated_at = $2 WHERE id = $3`,
			pq.Array(officerIDs), time.Now().UTC(), deploymentID)
		return err
	})
	if err != nil {
		r.logger.Error("Failed to update deployment officers", "deployment_id", deploymentID, "error", err)
		return fmt.Errorf("failed to update deployment officers: %w", err)
	}

	r.logger.Info("Deployment officers updated",
		"deployment_id", deploymentID,
		"officers", len(officerIDs))
	return nil
}

// UpdateStatus advances the deployment lifecycle. Transitions only move
// forward; callers pass the expected current status to avoid racing sweeps.
func (r *DeploymentRepository) UpdateStatus(ctx context.Context, deploymentID, from, to string) (bool, error) {
	query := `
		UPDATE deployments
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`

	result, err := r.db.ExecContext(ctx, query, to, time.Now().UTC(), deploymentID, from)
	if err != nil {
		r.logger.Error("Failed to update deployment status",
			"deployment_id", deploymentID,
			"from", from,
			"to", to,
			"error", err)
		return false, fmt.Errorf("failed to update deployment status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ListDueToStart returns scheduled deployments whose window has begun.
func (r *DeploymentRepository) ListDueToStart(ctx context.Context, now time.Time) ([]*Deployment, error) {
	query := `
		SELECT * FROM deployments
		WHERE status = $1 AND starts_at <= $2
		ORDER BY starts_at ASC`

	var deployments []*Deployment
	if err := r.db.SelectContext(ctx, &deployments, query, DeploymentScheduled, now); err != nil {
		r.logger.Error("Failed to list deployments due to start", "error", err)
		return nil, fmt.Errorf("failed to list deployments due to start: %w", err)
	}

	return deployments, nil
}

// ListDueToComplete returns active deployments whose window has ended.
func (r *DeploymentRepository) ListDueToComplete(ctx context.Context, now time.Time) ([]*Deployment, error) {
	query := `
		SELECT * FROM deployments
		WHERE status = $1 AND ends_at <= $2
		ORDER BY ends_at ASC`

	var deployments []*Deployment
	if err := r.db.SelectContext(ctx, &deployments, query, DeploymentActive, now); err != nil {
		r.logger.Error("Failed to list deployments due to complete", "error", err)
		return nil, fmt.Errorf("failed to list deployments due to complete: %w", err)
	}

	return deployments, nil
}
