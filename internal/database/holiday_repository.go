package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotPending means a holiday request resolution targeted a request that
// does not exist or was already resolved.
var ErrNotPending = errors.New("holiday request not found or already resolved")

// HolidayRepository handles holiday request data operations
type HolidayRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewHolidayRepository creates a new holiday request repository
func NewHolidayRepository(db *sqlx.DB, logger *slog.Logger) *HolidayRepository {
	return &HolidayRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create files a new holiday request
func (r *HolidayRepository) Create(ctx context.Context, request *HolidayRequest) error {
	query := `
		INSERT INTO holiday_requests (id, officer_id, deployment_id, reason, status, created_at, updated_at)
		VALUES (:id, :officer_id, :deployment_id, :reason, :status, :created_at, :updated_at)`

	now := time.Now().UTC()
	request.CreatedAt = now
	request.UpdatedAt = now
	if request.Status == "" {
		request.Status = HolidayPending
	}

	_, err := r.db.NamedExecContext(ctx, query, request)
	if err != nil {
		r.logger.Error("Failed to create holiday request",
			"officer_id", request.OfficerID,
			"deployment_id", request.DeploymentID,
			"error", err)
		return fmt.Errorf("failed to create holiday request: %w", err)
	}

	r.logger.Info("Holiday request filed",
		"request_id", request.ID,
		"officer_id", request.OfficerID,
		"deployment_id", request.DeploymentID)
	return nil
}

// ListPending returns pending requests oldest-first.
func (r *HolidayRepository) ListPending(ctx context.Context, limit int) ([]*HolidayRequest, error) {
	query := `
		SELECT * FROM holiday_requests
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`

	var requests []*HolidayRequest
	if err := r.db.SelectContext(ctx, &requests, query, HolidayPending, limit); err != nil {
		r.logger.Error("Failed to list pending holiday requests", "error", err)
		return nil, fmt.Errorf("failed to list pending holiday requests: %w", err)
	}

	return requests, nil
}

// Resolve moves a pending request to approved or rejected.
func (r *HolidayRepository) Resolve(ctx context.Context, requestID, status string) error {
	if status != HolidayApproved && status != HolidayRejected {
		return fmt.Errorf("invalid holiday request resolution: %s", status)
	}

	query := `
		UPDATE holiday_requests
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`

	result, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), requestID, HolidayPending)
	if err != nil {
		r.logger.Error("Failed to resolve holiday request", "request_id", requestID, "error", err)
		return fmt.Errorf("failed to resolve holiday request: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotPending, requestID)
	}

	return nil
}
