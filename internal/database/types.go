package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/bandobast/deployment-tracker/internal/config"
	"github.com/bandobast/deployment-tracker/internal/geofence"
)

// Deployment lifecycle states. A deployment moves scheduled -> active ->
// completed, by time or explicit closeout, and is never reopened.
const (
	DeploymentScheduled = "scheduled"
	DeploymentActive    = "active"
	DeploymentCompleted = "completed"
)

// Holiday request states.
const (
	HolidayPending  = "pending"
	HolidayApproved = "approved"
	HolidayRejected = "rejected"
)

// Connect establishes a database connection
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// RunMigrations runs database migrations
func RunMigrations(cfg config.DatabaseConfig) error {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BaseRepository holds the shared database handle for repositories.
type BaseRepository struct {
	db *sqlx.DB
}

// Transaction executes a function within a database transaction
func (r *BaseRepository) Transaction(fn func(*sqlx.Tx) error) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(tx)
	return err
}

// Window is a half-open [Start, End) deployment time window.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two half-open windows overlap. Exact boundary
// touching is not an overlap.
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Officer represents a field officer. Identity is immutable; contact fields
// are maintained by the identity collaborator.
type Officer struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Phone        string    `db:"phone" json:"phone"`
	Email        string    `db:"email" json:"email"`
	PushToken    string    `db:"push_token" json:"push_token,omitempty"`
	CriticalRole bool      `db:"critical_role" json:"critical_role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Deployment represents a scheduled coverage event with a geofence and an
// assigned officer set. The officer set is mutable only while the deployment
// is still scheduled.
type Deployment struct {
	ID           string         `db:"id" json:"id"`
	Name         string         `db:"name" json:"name"`
	SupervisorID string         `db:"supervisor_id" json:"supervisor_id"`
	Latitude     float64        `db:"latitude" json:"latitude"`
	Longitude    float64        `db:"longitude" json:"longitude"`
	RadiusMeters float64        `db:"radius_meters" json:"radius_meters"`
	StartsAt     time.Time      `db:"starts_at" json:"starts_at"`
	EndsAt       time.Time      `db:"ends_at" json:"ends_at"`
	Status       string         `db:"status" json:"status"`
	Officers     pq.StringArray `db:"officers" json:"officers"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// Window returns the deployment's half-open time window.
func (d *Deployment) Window() Window {
	return Window{Start: d.StartsAt, End: d.EndsAt}
}

// Perimeter returns the deployment's geofence.
func (d *Deployment) Perimeter() geofence.Perimeter {
	return geofence.Perimeter{
		Center:       geofence.Coordinate{Latitude: d.Latitude, Longitude: d.Longitude},
		RadiusMeters: d.RadiusMeters,
	}
}

// HasOfficer reports whether officerID is assigned to the deployment.
func (d *Deployment) HasOfficer(officerID string) bool {
	for _, id := range d.Officers {
		if id == officerID {
			return true
		}
	}
	return false
}

// StatusReport is one classified entry in the append-only duty ledger.
// Records are immutable once written; corrections are new records.
type StatusReport struct {
	ID           string          `db:"id" json:"id"`
	OfficerID    string          `db:"officer_id" json:"officer_id"`
	DeploymentID string          `db:"deployment_id" json:"deployment_id"`
	Latitude     float64         `db:"latitude" json:"latitude"`
	Longitude    float64         `db:"longitude" json:"longitude"`
	Status       geofence.Status `db:"status" json:"status"`
	Reasons      pq.StringArray  `db:"reasons" json:"reasons,omitempty"`
	ReportedAt   time.Time       `db:"reported_at" json:"reported_at"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Coordinate returns the report's position.
func (r *StatusReport) Coordinate() geofence.Coordinate {
	return geofence.Coordinate{Latitude: r.Latitude, Longitude: r.Longitude}
}

// HolidayRequest is an officer's request to be excused from a deployment.
type HolidayRequest struct {
	ID           string    `db:"id" json:"id"`
	OfficerID    string    `db:"officer_id" json:"officer_id"`
	DeploymentID string    `db:"deployment_id" json:"deployment_id"`
	Reason       string    `db:"reason" json:"reason"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// PerformanceReport is a persisted post-event performance summary.
type PerformanceReport struct {
	ID           string          `db:"id" json:"id"`
	DeploymentID string          `db:"deployment_id" json:"deployment_id"`
	Summary      string          `db:"summary" json:"summary"`
	Officers     OfficerPerfList `db:"officers" json:"officers"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// OfficerPerformance is one officer's line in a performance report.
type OfficerPerformance struct {
	OfficerID      string `json:"officer_id"`
	Attendance     bool   `json:"attendance"`
	IdleAlerts     int    `json:"idle_alerts"`
	ZoneViolations int    `json:"zone_violations"`
}
