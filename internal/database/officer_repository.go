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

// ErrUnknownOfficer means an update targeted an officer that does not exist.
var ErrUnknownOfficer = errors.New("officer not found")

// OfficerRepository handles officer data operations
type OfficerRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewOfficerRepository creates a new officer repository
func NewOfficerRepository(db *sqlx.DB, logger *slog.Logger) *OfficerRepository {
	return &OfficerRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create creates a new officer
func (r *OfficerRepository) Create(ctx context.Context, officer *Officer) error {
	query := `
		INSERT INTO officers (id, name, phone, email, push_token, critical_role, created_at)
		VALUES (:id, :name, :phone, :email, :push_token, :critical_role, :created_at)`

	officer.CreatedAt = time.Now().UTC()

	_, err := r.db.NamedExecContext(ctx, query, officer)
	if err != nil {
		r.logger.Error("Failed to create officer", "officer_id", officer.ID, "error", err)
		return fmt.Errorf("failed to create officer: %w", err)
	}

	return nil
}

// GetByID retrieves an officer by ID, or nil when it does not exist.
func (r *OfficerRepository) GetByID(ctx context.Context, id string) (*Officer, error) {
	query := `SELECT * FROM officers WHERE id = $1`

	var officer Officer
	err := r.db.GetContext(ctx, &officer, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get officer by ID", "officer_id", id, "error", err)
		return nil, fmt.Errorf("failed to get officer by ID: %w", err)
	}

	return &officer, nil
}

// ListByIDs retrieves the officers for a set of IDs. IDs with no matching
// officer are silently absent from the result.
func (r *OfficerRepository) ListByIDs(ctx context.Context, ids []string) ([]*Officer, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT * FROM officers WHERE id = ANY($1) ORDER BY id`

	var officers []*Officer
	if err := r.db.SelectContext(ctx, &officers, query, pq.Array(ids)); err != nil {
		r.logger.Error("Failed to list officers by IDs", "error", err)
		return nil, fmt.Errorf("failed to list officers by IDs: %w", err)
	}

	return officers, nil
}

// UpdateContact updates the mutable contact fields for an officer.
func (r *OfficerRepository) UpdateContact(ctx context.Context, id, phone, email, pushToken string) error {
	query := `
		UPDATE officers
		SET phone = $1, email = $2, push_token = $3
		WHERE id = $4`

	result, err := r.db.ExecContext(ctx, query, phone, email, pushToken, id)
	if err != nil {
		r.logger.Error("Failed to update officer contact", "officer_id", id, "error", err)
		return fmt.Errorf("failed to update officer contact: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownOfficer, id)
	}

	return nil
}
